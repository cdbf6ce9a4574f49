/*
Package stock provides the core inventory ledger engine.

PURPOSE:
  This package contains the storage-agnostic types and algorithms for a
  pharmacy stock ledger. Every receipt and every dispense is an immutable
  ledger entry; the current balance of a medication is a projection kept
  alongside the ledger. Reports (beginning/ending balances, consumption,
  reorder quantities, controlled-substance registers) are derived from the
  ledger plus the projection, never from stored history snapshots.

KEY CONCEPTS IN THIS FILE (types.go):
  - Medication:    The projection row (current balance + last receipt metadata)
  - Transaction:   An immutable ledger entry (receive or dispense)
  - TransactionID: Groups the lines of one multi-medication dispense
  - EntryStatus:   active, or retired by an edit (superseded) or delete (voided)

DESIGN PRINCIPLES:
  1. Immutability: quantity, type and medication of an entry never change
  2. Stable keys: entries reference medications by MedicationID; MedName is display only
  3. Precision: prices and forecasts use decimal.Decimal
  4. Auditability: retired entries stay in the ledger with their revision

USAGE:
  tx := stock.Transaction{
      Type:         stock.TxReceive,
      MedicationID: med.ID,
      MedName:      med.Name,
      Quantity:     50,
      Timestamp:    stock.Now(),
      Receive:      &stock.ReceiveDetails{Batch: "A1"},
  }

SEE ALSO:
  - ledger.go: Append/find/retire interface
  - balance.go: Point-in-time reconstruction
  - register.go: Controlled-substance register
*/
package stock

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type MedicationID string
type EntryID string

// TransactionID groups all ledger lines produced by one dispense event.
// Receipts get their own TransactionID with a single line.
type TransactionID string

// =============================================================================
// ENUMS
// =============================================================================

type TxType string

const (
	TxReceive  TxType = "receive"
	TxDispense TxType = "dispense"
)

func (t TxType) Valid() bool { return t == TxReceive || t == TxDispense }

type EntryStatus string

const (
	StatusActive     EntryStatus = "active"
	StatusSuperseded EntryStatus = "superseded" // replaced by a later revision (edit)
	StatusVoided     EntryStatus = "voided"     // removed by a delete
)

type Schedule string

const (
	ScheduleControlled    Schedule = "controlled"
	ScheduleNotControlled Schedule = "not-controlled"
)

// ParseSchedule accepts the stored values plus a few spellings seen in
// imported catalogs. Empty means not controlled.
func ParseSchedule(s string) (Schedule, bool) {
	switch s {
	case "", "not-controlled", "not_controlled", "Not Controlled", "none":
		return ScheduleNotControlled, true
	case "controlled", "Controlled":
		return ScheduleControlled, true
	default:
		return "", false
	}
}

// =============================================================================
// MEDICATION - Projection row
// =============================================================================

// Medication is the current-state view of one medication. Balance is
// maintained in the same store transaction as every ledger append.
// Descriptive fields are last-write-wins from the most recent receipt.
type Medication struct {
	ID            MedicationID
	Name          string
	Balance       int64
	Batch         string
	Price         decimal.Decimal
	ExpiryDate    time.Time // calendar date (UTC midnight), zero when unknown
	Schedule      Schedule
	StockReceiver string
	OrderNumber   string
	Supplier      string
	InvoiceNumber string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (m Medication) IsControlled() bool { return m.Schedule == ScheduleControlled }

func (m Medication) HasExpiry() bool { return !m.ExpiryDate.IsZero() }

// ApplyReceipt overwrites descriptive metadata with the values of a receipt.
// Old metadata is replaced, not merged.
func (m *Medication) ApplyReceipt(d ReceiveDetails) {
	m.Batch = d.Batch
	m.Price = d.Price
	m.ExpiryDate = d.ExpiryDate
	m.StockReceiver = d.StockReceiver
	m.OrderNumber = d.OrderNumber
	m.Supplier = d.Supplier
	m.InvoiceNumber = d.InvoiceNumber
	if d.Schedule != "" {
		m.Schedule = d.Schedule
	}
}

// =============================================================================
// TRANSACTION - Immutable ledger entry
// =============================================================================

// ReceiveDetails is the receipt-specific payload of a ledger entry.
type ReceiveDetails struct {
	Batch         string
	Price         decimal.Decimal
	ExpiryDate    time.Time
	Schedule      Schedule
	StockReceiver string
	OrderNumber   string
	Supplier      string
	InvoiceNumber string
}

// DispenseDetails is shared by every line of one dispense event.
type DispenseDetails struct {
	Patient       string
	Diagnoses     []string
	Prescriber    string
	Dispenser     string
	Company       string
	Position      string
	AgeGroup      string
	Gender        string
	SickLeaveDays int
	Date          string // as entered, YYYY-MM-DD
}

// PrimaryDiagnosis returns the first diagnosis, or "".
func (d DispenseDetails) PrimaryDiagnosis() string {
	if len(d.Diagnoses) == 0 {
		return ""
	}
	return d.Diagnoses[0]
}

type Transaction struct {
	ID            EntryID
	TransactionID TransactionID
	Type          TxType
	MedicationID  MedicationID
	MedName       string
	Quantity      int64 // always > 0; sign comes from Type
	Timestamp     time.Time

	Status    EntryStatus
	Revision  int
	RetiredAt *time.Time

	User      string
	CreatedAt time.Time

	Receive  *ReceiveDetails
	Dispense *DispenseDetails
}

// SignedQuantity is the effect of the entry on the balance.
func (t Transaction) SignedQuantity() int64 {
	if t.Type == TxDispense {
		return -t.Quantity
	}
	return t.Quantity
}

func (t Transaction) IsActive() bool { return t.Status == "" || t.Status == StatusActive }

// =============================================================================
// TOTALS
// =============================================================================

// Totals are plain sums over a set of ledger entries.
type Totals struct {
	Received  int64
	Dispensed int64
}

func (t Totals) Net() int64 { return t.Received - t.Dispensed }

func (t *Totals) Add(tx Transaction) {
	switch tx.Type {
	case TxReceive:
		t.Received += tx.Quantity
	case TxDispense:
		t.Dispensed += tx.Quantity
	}
}
