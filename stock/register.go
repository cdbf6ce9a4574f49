/*
register.go - Controlled-substance register

PURPOSE:
  Produces, for every medication flagged as controlled, a chronological
  ledger for a period with a running balance on every row. This is the
  auditable trail regulators ask for.

ALGORITHM (per controlled medication):
  1. beginning = Clamp(BalanceBefore(period.Start))
  2. rows      = active entries in [period.Start, period.End], ascending
  3. walk forward from beginning; each row gets balance_after
  4. ending    = beginning + received - dispensed  (== last balance_after)
  5. apply the optional search to rows AFTER step 3

INVARIANTS:
  - Closure: Ending == Beginning + Received - Dispensed, always
  - Search never changes balances or totals, only which rows are listed
  - A medication with no entries in the period is still listed with
    Beginning == Ending and no rows

SEARCH:
  A row is kept when any of its register fields contains the search text.
  A medication is kept when its name matches or at least one row matches.
*/
package stock

import (
	"context"
)

// =============================================================================
// REGISTER TYPES
// =============================================================================

type RegisterRow struct {
	Transaction
	BalanceAfter int64
}

type RegisterEntry struct {
	Medication       Medication
	BeginningBalance int64
	EndingBalance    int64
	Received         int64
	Dispensed        int64
	Rows             []RegisterRow
}

// =============================================================================
// CONTROLLED REGISTER
// =============================================================================

type ControlledRegister struct {
	Reconstructor *Reconstructor
}

func NewControlledRegister(r *Reconstructor) *ControlledRegister {
	return &ControlledRegister{Reconstructor: r}
}

// Build returns one entry per controlled medication, sorted by name.
func (c *ControlledRegister) Build(ctx context.Context, p Period, search string) ([]RegisterEntry, error) {
	meds, err := c.Reconstructor.Projection.Medications(ctx)
	if err != nil {
		return nil, err
	}

	result := []RegisterEntry{}
	for _, med := range meds {
		if !med.IsControlled() {
			continue
		}
		entry, err := c.BuildFor(ctx, med, p)
		if err != nil {
			return nil, err
		}
		if filtered, ok := FilterRegister(entry, search); ok {
			result = append(result, filtered)
		}
	}
	return result, nil
}

// BuildFor computes the unfiltered register entry of one medication.
func (c *ControlledRegister) BuildFor(ctx context.Context, med Medication, p Period) (RegisterEntry, error) {
	beginning, err := c.Reconstructor.BalanceBeforeFor(ctx, med, p.Start)
	if err != nil {
		return RegisterEntry{}, err
	}
	txs, err := c.Reconstructor.Ledger.Find(ctx, Filter{
		MedicationID: med.ID,
		From:         &p.Start,
		To:           &p.End,
		Order:        Ascending,
	})
	if err != nil {
		return RegisterEntry{}, err
	}
	return RunningBalance(med, Clamp(beginning), txs), nil
}

// RunningBalance walks txs forward from beginning. txs must be ascending.
func RunningBalance(med Medication, beginning int64, txs []Transaction) RegisterEntry {
	entry := RegisterEntry{
		Medication:       med,
		BeginningBalance: beginning,
		Rows:             make([]RegisterRow, 0, len(txs)),
	}
	balance := beginning
	for _, tx := range txs {
		if !tx.IsActive() {
			continue
		}
		switch tx.Type {
		case TxReceive:
			entry.Received += tx.Quantity
		case TxDispense:
			entry.Dispensed += tx.Quantity
		}
		balance += tx.SignedQuantity()
		entry.Rows = append(entry.Rows, RegisterRow{Transaction: tx, BalanceAfter: balance})
	}
	entry.EndingBalance = beginning + entry.Received - entry.Dispensed
	return entry
}

// FilterRegister hides rows that don't match search. Balances and totals
// are left untouched. ok is false when the medication should be hidden.
func FilterRegister(entry RegisterEntry, search string) (RegisterEntry, bool) {
	if MatchesText(search) {
		return entry, true
	}
	rows := make([]RegisterRow, 0, len(entry.Rows))
	for _, row := range entry.Rows {
		if MatchesText(search, RegisterSearchFields(row.Transaction)...) {
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 && !MatchesText(search, entry.Medication.Name) {
		return entry, false
	}
	entry.Rows = rows
	return entry, true
}
