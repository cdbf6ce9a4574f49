/*
balance.go - Point-in-time balance reconstruction

PURPOSE:
  Answers "what was medication X's balance at instant T?" without any stored
  history snapshots. The only inputs are the current balance (projection)
  and the ledger entries that happened after T.

ALGORITHM (inverse walk):
  1. Read current_balance from the projection
  2. Find active entries of the medication with timestamp > T
  3. Undo each one: subtract receipts, add back dispenses
  4. The result is the balance at T

  This trades a ledger scan for storage simplicity. The scan only covers
  entries newer than T, so recent dates are cheap.

TWO ANCHORS:
  BalanceAt(T):     undoes entries with timestamp >  T (T is still "before")
  BalanceBefore(T): undoes entries with timestamp >= T

  Reports use BalanceBefore(period.Start) as the beginning balance. An entry
  stamped exactly at the start of the period is then counted once, inside
  the period, instead of both in the beginning balance and in the period
  totals.

REPORTING CLAMP:
  Data-entry anomalies (backdated entries, deleted medications) can make a
  reconstructed balance negative. Reports show Clamp(balance), never a
  negative number. The live balance is never clamped; it simply cannot go
  negative because dispenses use a compare-and-swap decrement.

FORWARD REPLAY:
  ReplayBalance walks forward from zero instead. It must always agree with
  the inverse walk; the reconciliation audit uses it to detect drift.

SEE ALSO:
  - period.go: Aggregation over the same Find scan
  - register.go: Uses BalanceBefore as the register's opening balance
*/
package stock

import (
	"context"
	"time"
)

// =============================================================================
// BALANCE RECONSTRUCTOR
// =============================================================================

type Reconstructor struct {
	Ledger     Ledger
	Projection ProjectionStore
}

func NewReconstructor(ledger Ledger, projection ProjectionStore) *Reconstructor {
	return &Reconstructor{Ledger: ledger, Projection: projection}
}

// BalanceAt returns the balance of a medication at instant at.
func (r *Reconstructor) BalanceAt(ctx context.Context, id MedicationID, at time.Time) (int64, error) {
	med, err := r.Projection.Medication(ctx, id)
	if err != nil {
		return 0, err
	}
	return r.BalanceAtFor(ctx, *med, at)
}

// BalanceBefore returns the balance just before instant at.
func (r *Reconstructor) BalanceBefore(ctx context.Context, id MedicationID, at time.Time) (int64, error) {
	med, err := r.Projection.Medication(ctx, id)
	if err != nil {
		return 0, err
	}
	return r.BalanceBeforeFor(ctx, *med, at)
}

// BalanceAtFor is BalanceAt anchored on an already loaded projection row.
func (r *Reconstructor) BalanceAtFor(ctx context.Context, med Medication, at time.Time) (int64, error) {
	txs, err := r.Ledger.Find(ctx, Filter{MedicationID: med.ID, After: &at})
	if err != nil {
		return 0, err
	}
	return Undo(med.Balance, txs), nil
}

// BalanceBeforeFor is BalanceBefore anchored on an already loaded projection row.
func (r *Reconstructor) BalanceBeforeFor(ctx context.Context, med Medication, at time.Time) (int64, error) {
	txs, err := r.Ledger.Find(ctx, Filter{MedicationID: med.ID, From: &at})
	if err != nil {
		return 0, err
	}
	return Undo(med.Balance, txs), nil
}

// =============================================================================
// PURE HELPERS
// =============================================================================

// Undo reverses the effect of txs on current.
func Undo(current int64, txs []Transaction) int64 {
	balance := current
	for _, tx := range txs {
		if !tx.IsActive() {
			continue
		}
		balance -= tx.SignedQuantity()
	}
	return balance
}

// ReplayBalance replays active entries with timestamp <= at forward from zero.
func ReplayBalance(txs []Transaction, at time.Time) int64 {
	var balance int64
	for _, tx := range txs {
		if !tx.IsActive() || tx.Timestamp.After(at) {
			continue
		}
		balance += tx.SignedQuantity()
	}
	return balance
}

// Clamp floors a reconstructed balance at zero for reporting.
func Clamp(balance int64) int64 {
	if balance < 0 {
		return 0
	}
	return balance
}
