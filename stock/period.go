/*
period.go - Report periods and period aggregation

PURPOSE:
  Reports are always requested for calendar dates ("from March 1 to March 31").
  A Period turns those dates into the instants the ledger is scanned with:

    Start = start_date 00:00:00
    End   = end_date + 1 day - 1 second   (so the whole end day is included)

  Both bounds are inclusive.

AGGREGATION:
  Aggregate sums received and dispensed quantities for one medication over a
  period. It is a plain additive fold, no proration. Because bounds are
  inclusive and timestamps are whole seconds, splitting a period at any
  second gives the same total:

    Aggregate(start, mid) + Aggregate(mid+1s, end) == Aggregate(start, end)

SEE ALSO:
  - balance.go: shares the same Find scan
  - forecast.go: consumes Totals.Dispensed
*/
package stock

import (
	"context"
	"time"
)

// =============================================================================
// PERIOD - Inclusive instant range built from calendar dates
// =============================================================================

type Period struct {
	Start time.Time
	End   time.Time
}

// NewPeriod builds a period from calendar dates. End is extended to the last
// second of endDate.
func NewPeriod(startDate, endDate time.Time) (Period, error) {
	p := Period{Start: StartOfDay(startDate), End: EndOfDay(endDate)}
	if StartOfDay(endDate).Before(p.Start) {
		return Period{}, ErrInvalidPeriod
	}
	return p, nil
}

// ParsePeriod parses two YYYY-MM-DD dates.
func ParsePeriod(start, end string) (Period, error) {
	s, err := ParseDate(start)
	if err != nil {
		return Period{}, err
	}
	e, err := ParseDate(end)
	if err != nil {
		return Period{}, err
	}
	return NewPeriod(s, e)
}

// Contains reports whether t is within [Start, End].
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

// Days is the number of calendar days covered, at least 1.
func (p Period) Days() int {
	d := DaysBetween(p.Start, p.End) + 1
	if d < 1 {
		return 1
	}
	return d
}

// =============================================================================
// PERIOD AGGREGATOR
// =============================================================================

type Aggregator struct {
	Ledger Ledger
}

func NewAggregator(ledger Ledger) *Aggregator {
	return &Aggregator{Ledger: ledger}
}

// Aggregate sums active entries of a medication with from <= ts <= to.
func (a *Aggregator) Aggregate(ctx context.Context, medID MedicationID, from, to time.Time) (Totals, error) {
	txs, err := a.Ledger.Find(ctx, Filter{MedicationID: medID, From: &from, To: &to})
	if err != nil {
		return Totals{}, err
	}
	return Sum(txs), nil
}

// AggregatePeriod is Aggregate over a Period.
func (a *Aggregator) AggregatePeriod(ctx context.Context, medID MedicationID, p Period) (Totals, error) {
	return a.Aggregate(ctx, medID, p.Start, p.End)
}

// Sum folds entries into Totals. Retired entries are skipped.
func Sum(txs []Transaction) Totals {
	var t Totals
	for _, tx := range txs {
		if !tx.IsActive() {
			continue
		}
		t.Add(tx)
	}
	return t
}
