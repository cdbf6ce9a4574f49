/*
forecast.go - Reorder quantity from observed consumption

PURPOSE:
  Suggests how much of a medication to order, based on how fast it was
  dispensed during a report period plus a fixed lead-time buffer.

FORMULA:
  days_in_period      = max(1, (end_date - start_date).days + 1)
  average_daily_usage = dispensed_in_period / days_in_period
  average_monthly_use = average_daily_usage * 30
  lead_time_buffer    = average_daily_usage * 14
  amount_to_order     = max(0, average_monthly_use - current_balance + lead_time_buffer)

  The amount is computed as one division,
  (dispensed * 44 - current * days) / days, which is the same value without
  the intermediate rounding of average_daily_usage.

OUTPUT:
  A Quantity: rendered as an integer when whole (e.g. 440), otherwise rounded
  to 2 decimal places (e.g. 146.67).

ASSUMPTION:
  Usage in the selected period represents future monthly demand. There is no
  seasonality or trend adjustment.
*/
package stock

import (
	"context"

	"github.com/shopspring/decimal"
)

const (
	DaysPerMonth = 30
	LeadTimeDays = 14
)

// =============================================================================
// QUANTITY - integer when whole, else 2 decimals
// =============================================================================

type Quantity struct {
	decimal.Decimal
}

// NewQuantity rounds d to 2 places.
func NewQuantity(d decimal.Decimal) Quantity {
	return Quantity{Decimal: d.Round(2)}
}

func (q Quantity) IsWhole() bool {
	return q.Decimal.Equal(q.Decimal.Truncate(0))
}

func (q Quantity) String() string {
	if q.IsWhole() {
		return q.Decimal.Truncate(0).String()
	}
	return q.Decimal.StringFixed(2)
}

// MarshalJSON renders a JSON number, not a string.
func (q Quantity) MarshalJSON() ([]byte, error) {
	return []byte(q.String()), nil
}

func (q *Quantity) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	*q = NewQuantity(d)
	return nil
}

// =============================================================================
// FORECAST
// =============================================================================

type ReorderForecast struct {
	DaysInPeriod      int
	Dispensed         int64
	CurrentBalance    int64
	AverageDailyUsage decimal.Decimal
	AverageMonthlyUse decimal.Decimal
	LeadTimeBuffer    decimal.Decimal
	AmountToOrder     Quantity
}

// Forecast applies the reorder heuristic.
func Forecast(dispensed, current int64, p Period) ReorderForecast {
	days := decimal.NewFromInt(int64(p.Days()))
	used := decimal.NewFromInt(dispensed)

	daily := used.Div(days)
	monthly := used.Mul(decimal.NewFromInt(DaysPerMonth)).Div(days)
	buffer := used.Mul(decimal.NewFromInt(LeadTimeDays)).Div(days)

	amount := used.Mul(decimal.NewFromInt(DaysPerMonth + LeadTimeDays)).
		Sub(decimal.NewFromInt(current).Mul(days)).
		Div(days)
	if amount.IsNegative() {
		amount = decimal.Zero
	}

	return ReorderForecast{
		DaysInPeriod:      p.Days(),
		Dispensed:         dispensed,
		CurrentBalance:    current,
		AverageDailyUsage: daily,
		AverageMonthlyUse: monthly,
		LeadTimeBuffer:    buffer,
		AmountToOrder:     NewQuantity(amount),
	}
}

// Forecaster suggests reorder quantities from the ledger.
type Forecaster struct {
	Aggregator *Aggregator
	Projection ProjectionStore
}

func NewForecaster(agg *Aggregator, projection ProjectionStore) *Forecaster {
	return &Forecaster{Aggregator: agg, Projection: projection}
}

// SuggestReorder forecasts the order quantity of one medication.
func (f *Forecaster) SuggestReorder(ctx context.Context, id MedicationID, p Period) (ReorderForecast, error) {
	med, err := f.Projection.Medication(ctx, id)
	if err != nil {
		return ReorderForecast{}, err
	}
	totals, err := f.Aggregator.AggregatePeriod(ctx, id, p)
	if err != nil {
		return ReorderForecast{}, err
	}
	return Forecast(totals.Dispensed, med.Balance, p), nil
}
