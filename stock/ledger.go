/*
ledger.go - Append-mostly transaction log

PURPOSE:
  The Ledger is the source of truth for every stock movement. Each receipt
  and each dispense line is recorded here exactly once. The medication
  balance is a projection that must always equal the signed sum of the
  active entries.

CRITICAL INVARIANTS:
  1. IMMUTABLE: quantity, type and medication of an entry never change
  2. NO HARD DELETE: corrections retire entries, they never remove them
  3. POSITIVE: quantity > 0; the sign comes from the type
  4. GROUPED: all lines of one dispense share a TransactionID

CORRECTIONS:
  A dispense is edited or deleted as a compensating transaction:
  1. Restore stock for every active line of the TransactionID
  2. Retire those lines (superseded on edit, voided on delete)
  3. On edit, append the new lines under the same TransactionID with
     Revision+1

  Retired lines stay queryable (Filter.IncludeRetired) so the full revision
  chain of a dispense is auditable.

SEE ALSO:
  - store.go: Low-level persistence interface
  - pharmacy/service.go: Runs the compensating pattern inside WithTx
*/
package stock

import (
	"context"
	"time"
)

// =============================================================================
// LEDGER
// =============================================================================

// Ledger is the source of truth for all stock movements.
type Ledger interface {
	// Append validates and adds one entry.
	Append(ctx context.Context, tx Transaction) (EntryID, error)

	// Find returns entries matching filter. Read-only.
	Find(ctx context.Context, filter Filter) ([]Transaction, error)

	// Group returns the active lines of a TransactionID, chronologically.
	Group(ctx context.Context, id TransactionID) ([]Transaction, error)

	// Retire tombstones the active lines of a TransactionID.
	Retire(ctx context.Context, id TransactionID, status EntryStatus, at time.Time) (int, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using LedgerStore
// =============================================================================

type DefaultLedger struct {
	Store LedgerStore
}

func NewLedger(store LedgerStore) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, tx Transaction) (EntryID, error) {
	if tx.Quantity <= 0 {
		return "", ErrInvalidQuantity
	}
	if !tx.Type.Valid() {
		return "", &ValidationError{Fields: map[string]string{"type": "oneof"}}
	}
	if tx.MedicationID == "" {
		return "", ErrMedicationNotFound
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = Now()
	}
	tx.Timestamp = Instant(tx.Timestamp)
	if tx.Status == "" {
		tx.Status = StatusActive
	}
	if tx.Revision == 0 {
		tx.Revision = 1
	}
	return l.Store.Append(ctx, tx)
}

func (l *DefaultLedger) Find(ctx context.Context, filter Filter) ([]Transaction, error) {
	return l.Store.Find(ctx, filter)
}

func (l *DefaultLedger) Group(ctx context.Context, id TransactionID) ([]Transaction, error) {
	if id == "" {
		return nil, ErrTransactionNotFound
	}
	return l.Store.Find(ctx, Filter{TransactionID: id})
}

func (l *DefaultLedger) Retire(ctx context.Context, id TransactionID, status EntryStatus, at time.Time) (int, error) {
	if status != StatusSuperseded && status != StatusVoided {
		return 0, &ValidationError{Fields: map[string]string{"status": "oneof"}}
	}
	return l.Store.Retire(ctx, id, status, Instant(at))
}
