/*
snapshot.go - Stock-on-hand snapshot with expiry status

PURPOSE:
  Lists every medication with its balance as of a calendar date and a
  status used for the stock-on-hand, out-of-stock and expiry reports.

STATUS PRECEDENCE (first match wins):
  1. out-of-stock     balance == 0
  2. expired          expiry_date <  as_of
  3. close-to-expire  expiry_date <= as_of + threshold (default 30 days)
  4. normal

  A medication without an expiry date can only be out-of-stock or normal.

AS-OF:
  With no as-of date the live balance is used and today is the reference
  day. With an as-of date the balance is reconstructed at the end of that
  day (BalanceAt(EndOfDay)) and clamped at zero.
*/
package stock

import (
	"context"
	"time"
)

type StockStatus string

const (
	StockOutOfStock    StockStatus = "out-of-stock"
	StockExpired       StockStatus = "expired"
	StockCloseToExpire StockStatus = "close-to-expire"
	StockNormal        StockStatus = "normal"
)

const DefaultCloseToExpireDays = 30

func (s StockStatus) Valid() bool {
	switch s {
	case StockOutOfStock, StockExpired, StockCloseToExpire, StockNormal:
		return true
	}
	return false
}

// Classify applies the status precedence.
func Classify(balance int64, expiry, asOf time.Time, thresholdDays int) StockStatus {
	if balance <= 0 {
		return StockOutOfStock
	}
	if expiry.IsZero() {
		return StockNormal
	}
	day := StartOfDay(asOf)
	exp := StartOfDay(expiry)
	if exp.Before(day) {
		return StockExpired
	}
	if !exp.After(day.AddDate(0, 0, thresholdDays)) {
		return StockCloseToExpire
	}
	return StockNormal
}

// =============================================================================
// SNAPSHOT
// =============================================================================

type SnapshotOptions struct {
	AsOf              time.Time // zero: live balance, today
	NameFilter        string
	Statuses          []StockStatus // empty: all
	CloseToExpireDays int           // <= 0: DefaultCloseToExpireDays
}

type SnapshotRow struct {
	Medication Medication
	Balance    int64
	Status     StockStatus
}

// Snapshot lists medications sorted by name.
func (r *Reconstructor) Snapshot(ctx context.Context, opts SnapshotOptions) ([]SnapshotRow, error) {
	threshold := opts.CloseToExpireDays
	if threshold <= 0 {
		threshold = DefaultCloseToExpireDays
	}
	meds, err := r.Projection.Medications(ctx)
	if err != nil {
		return nil, err
	}

	reference := Now()
	if !opts.AsOf.IsZero() {
		reference = opts.AsOf
	}

	rows := []SnapshotRow{}
	for _, med := range meds {
		if !MatchesText(opts.NameFilter, med.Name) {
			continue
		}
		balance := med.Balance
		if !opts.AsOf.IsZero() {
			balance, err = r.BalanceAtFor(ctx, med, EndOfDay(opts.AsOf))
			if err != nil {
				return nil, err
			}
			balance = Clamp(balance)
		}
		status := Classify(balance, med.ExpiryDate, reference, threshold)
		if !statusWanted(status, opts.Statuses) {
			continue
		}
		rows = append(rows, SnapshotRow{Medication: med, Balance: balance, Status: status})
	}
	return rows, nil
}

func statusWanted(s StockStatus, wanted []StockStatus) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, w := range wanted {
		if w == s {
			return true
		}
	}
	return false
}
