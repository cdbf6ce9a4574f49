/*
store.go - Persistence interfaces for the ledger, the projection and the logs

PURPOSE:
  Defines the interface between the stock engine and the database.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  LedgerStore:     Append-mostly ledger (append, find, retire)
  ProjectionStore: Current balance + metadata per medication
  Store:           Both of the above
  TxStore:         Store with atomic multi-write transactions
  AuditLog:        Who changed what, when
  ErrorLog:        Persisted error-level log entries

LEDGER CONTRACT:
  - Append(): writes one immutable entry
  - Find(): reads entries by filter, ordered by timestamp then insertion
  - Retire(): tombstones every active line of a transaction_id
  There is NO update of quantity, type or medication of an entry.

ATOMICITY:
  Every ledger append must land in the same WithTx as its projection update.
  A receive is UpsertOnReceive + Append; a dispense is DecrementOnDispense +
  Append. If fn returns an error, neither write is visible.

COMPARE-AND-SWAP DECREMENT:
  DecrementOnDispense only succeeds when balance >= qty at the moment of the
  write, so two concurrent dispenses can never drive a balance negative
  even without an external lock.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite via sqlx
  - stock/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: Higher-level ledger using Store
*/
package stock

import (
	"context"
	"time"
)

// =============================================================================
// LEDGER STORE
// =============================================================================

type SortOrder int

const (
	Ascending SortOrder = iota
	Descending
)

// Filter selects ledger entries. Zero values mean "no constraint".
// Time bounds compose: From/To are inclusive, After is exclusive.
type Filter struct {
	MedicationID  MedicationID
	TransactionID TransactionID
	Types         []TxType
	From          *time.Time // ts >= From
	After         *time.Time // ts > After
	To            *time.Time // ts <= To

	// IncludeRetired returns superseded/voided entries too.
	IncludeRetired bool
	Order          SortOrder
}

// Matches applies the filter to one entry in memory.
func (f Filter) Matches(tx Transaction) bool {
	if !f.IncludeRetired && !tx.IsActive() {
		return false
	}
	if f.MedicationID != "" && tx.MedicationID != f.MedicationID {
		return false
	}
	if f.TransactionID != "" && tx.TransactionID != f.TransactionID {
		return false
	}
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if tx.Type == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.From != nil && tx.Timestamp.Before(*f.From) {
		return false
	}
	if f.After != nil && !tx.Timestamp.After(*f.After) {
		return false
	}
	if f.To != nil && tx.Timestamp.After(*f.To) {
		return false
	}
	return true
}

// LedgerStore persists ledger entries.
type LedgerStore interface {
	// Append persists one entry and returns its ID (generated when empty).
	Append(ctx context.Context, tx Transaction) (EntryID, error)

	// Find returns entries matching the filter, ordered by timestamp then
	// insertion sequence (reversed for Descending).
	Find(ctx context.Context, filter Filter) ([]Transaction, error)

	// Retire marks every active entry of the group with status and returns
	// how many rows were retired.
	Retire(ctx context.Context, id TransactionID, status EntryStatus, at time.Time) (int, error)
}

// =============================================================================
// PROJECTION STORE
// =============================================================================

// ProjectionStore persists the current-balance view.
type ProjectionStore interface {
	Medication(ctx context.Context, id MedicationID) (*Medication, error)
	MedicationByName(ctx context.Context, name string) (*Medication, error)

	// Medications returns all medications sorted by name.
	Medications(ctx context.Context) ([]Medication, error)

	// CreateMedication inserts a new row. ErrMedicationExists on name clash.
	CreateMedication(ctx context.Context, med Medication) error

	// UpsertOnReceive adds qty to the balance of med.Name, replacing its
	// metadata with med's, or creates it with balance = qty.
	// Returns the stored row.
	UpsertOnReceive(ctx context.Context, med Medication, qty int64) (*Medication, error)

	// DecrementOnDispense subtracts qty only if balance >= qty.
	// Returns *InsufficientStockError otherwise.
	DecrementOnDispense(ctx context.Context, id MedicationID, qty int64) (*Medication, error)

	// IncrementBalance adds qty without touching metadata (compensating restore).
	IncrementBalance(ctx context.Context, id MedicationID, qty int64) error

	// UpdateMedication replaces metadata (never balance).
	UpdateMedication(ctx context.Context, med Medication) error

	// DeleteMedication removes the row. Ledger entries are kept.
	DeleteMedication(ctx context.Context, id MedicationID) error
}

// Store is the full persistence surface used inside a transaction.
type Store interface {
	LedgerStore
	ProjectionStore
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// AUDIT LOG - Separate from ledger, tracks who did what when
// =============================================================================

type AuditAction string

const (
	AuditCreate    AuditAction = "CREATE"
	AuditUpdate    AuditAction = "UPDATE"
	AuditDelete    AuditAction = "DELETE"
	AuditReconcile AuditAction = "RECONCILE"
)

// Audit target types.
const (
	TargetMedication = "medication"
	TargetReceive    = "receive"
	TargetDispense   = "dispense"
	TargetLedger     = "ledger"
)

// AuditEntry records who did what when.
type AuditEntry struct {
	ID         string
	Timestamp  time.Time
	Action     AuditAction
	TargetType string
	TargetID   string
	Changes    map[string]any
	User       string
}

type AuditFilter struct {
	TargetType string
	TargetID   string
	Actions    []AuditAction
	From       *time.Time
	To         *time.Time
	Limit      int
}

// AuditLog stores audit entries. Also append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// =============================================================================
// ERROR LOG
// =============================================================================

// ErrorLogEntry is one persisted error-level log line.
type ErrorLogEntry struct {
	ID        string
	Timestamp time.Time
	Level     string
	Message   string
	Fields    map[string]any
}

type ErrorLog interface {
	SaveErrorLog(ctx context.Context, entry ErrorLogEntry) error
	ErrorLogs(ctx context.Context, limit int) ([]ErrorLogEntry, error)
}

// =============================================================================
// RECONCILIATION RUNS
// =============================================================================

// ReconciliationRun records one projection-vs-ledger drift check.
type ReconciliationRun struct {
	ID          string
	Trigger     string // scheduled, manual
	Status      string // completed, drift, failed
	Checked     int
	Drifts      []Drift
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}

type RunLog interface {
	SaveReconciliationRun(ctx context.Context, run ReconciliationRun) error
	ReconciliationRuns(ctx context.Context, limit int) ([]ReconciliationRun, error)
}
