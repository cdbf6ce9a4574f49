package pharmacy

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/warp/stock-ledger/config"
	"github.com/warp/stock-ledger/stock"
)

// =============================================================================
// STOCK SNAPSHOT
// =============================================================================

type SnapshotQuery struct {
	AsOf              string // YYYY-MM-DD, empty for the live balance
	Name              string
	Statuses          []stock.StockStatus
	CloseToExpireDays int // <= 0 uses the configured default
}

// StockSnapshot lists balances and stock status as of a date.
func (s *Service) StockSnapshot(ctx context.Context, q SnapshotQuery) ([]stock.SnapshotRow, error) {
	asOf, err := parseOptionalDate(q.AsOf)
	if err != nil {
		return nil, err
	}
	for _, st := range q.Statuses {
		if !st.Valid() {
			return nil, &stock.ValidationError{Fields: map[string]string{"status": "oneof"}}
		}
	}
	days := q.CloseToExpireDays
	if days <= 0 {
		days = s.closeToExpireDays
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rows []stock.SnapshotRow
	err = s.read(ctx, func(st stock.Store) error {
		var err error
		rows, err = reconstructor(st).Snapshot(ctx, stock.SnapshotOptions{
			AsOf:              asOf,
			NameFilter:        q.Name,
			Statuses:          q.Statuses,
			CloseToExpireDays: days,
		})
		return err
	})
	return rows, err
}

// =============================================================================
// INVENTORY REPORT
// =============================================================================

// InventoryRow is one medication of the inventory report.
type InventoryRow struct {
	Medication       stock.Medication
	BeginningBalance int64
	Received         int64
	Dispensed        int64
	CurrentBalance   int64
	Forecast         stock.ReorderForecast
}

// InventoryReport gives, per medication, the balance before the period,
// what moved during it, the live balance and the suggested reorder amount.
func (s *Service) InventoryReport(ctx context.Context, start, end, name string) ([]InventoryRow, error) {
	p, err := stock.ParsePeriod(start, end)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows := []InventoryRow{}
	err = s.read(ctx, func(st stock.Store) error {
		recon := reconstructor(st)
		agg := stock.NewAggregator(recon.Ledger)

		meds, err := st.Medications(ctx)
		if err != nil {
			return err
		}
		for _, med := range meds {
			if !stock.MatchesText(name, med.Name) {
				continue
			}
			beginning, err := recon.BalanceBeforeFor(ctx, med, p.Start)
			if err != nil {
				return err
			}
			totals, err := agg.AggregatePeriod(ctx, med.ID, p)
			if err != nil {
				return err
			}
			rows = append(rows, InventoryRow{
				Medication:       med,
				BeginningBalance: stock.Clamp(beginning),
				Received:         totals.Received,
				Dispensed:        totals.Dispensed,
				CurrentBalance:   med.Balance,
				Forecast:         stock.Forecast(totals.Dispensed, med.Balance, p),
			})
		}
		return nil
	})
	return rows, err
}

// SuggestReorder forecasts the order quantity of one medication.
func (s *Service) SuggestReorder(ctx context.Context, id stock.MedicationID, start, end string) (stock.ReorderForecast, error) {
	p, err := stock.ParsePeriod(start, end)
	if err != nil {
		return stock.ReorderForecast{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var forecast stock.ReorderForecast
	err = s.read(ctx, func(st stock.Store) error {
		ledger := stock.NewLedger(st)
		var err error
		forecast, err = stock.NewForecaster(stock.NewAggregator(ledger), st).SuggestReorder(ctx, id, p)
		return err
	})
	return forecast, err
}

// =============================================================================
// CONTROLLED REGISTER
// =============================================================================

func (s *Service) ControlledRegister(ctx context.Context, start, end, search string) ([]stock.RegisterEntry, error) {
	p, err := stock.ParsePeriod(start, end)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var entries []stock.RegisterEntry
	err = s.read(ctx, func(st stock.Store) error {
		var err error
		entries, err = stock.NewControlledRegister(reconstructor(st)).Build(ctx, p, search)
		return err
	})
	return entries, err
}

// =============================================================================
// DISPENSE / RECEIVE LISTS
// =============================================================================

func (s *Service) DispenseList(ctx context.Context, start, end, search string) ([]stock.Transaction, error) {
	return s.list(ctx, stock.TxDispense, start, end, search)
}

func (s *Service) ReceiveList(ctx context.Context, start, end, search string) ([]stock.Transaction, error) {
	return s.list(ctx, stock.TxReceive, start, end, search)
}

func (s *Service) list(ctx context.Context, typ stock.TxType, start, end, search string) ([]stock.Transaction, error) {
	p, err := stock.ParsePeriod(start, end)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	txs, err := s.store.Find(ctx, stock.Filter{
		Types: []stock.TxType{typ},
		From:  &p.Start,
		To:    &p.End,
		Order: stock.Ascending,
	})
	if err != nil {
		return nil, storeErr(ctx, err)
	}

	result := make([]stock.Transaction, 0, len(txs))
	for _, tx := range txs {
		if stock.MatchesText(search, stock.ListSearchFields(tx)...) {
			result = append(result, tx)
		}
	}
	return result, nil
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// Reconcile replays every medication's ledger and compares it with the
// projection. The run is recorded whatever its outcome.
func (s *Service) Reconcile(ctx context.Context, trigger string) (stock.ReconciliationRun, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	run := stock.ReconciliationRun{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
		Drifts:    []stock.Drift{},
	}

	var result stock.ReconcileResult
	err := s.read(ctx, func(st stock.Store) error {
		var err error
		result, err = reconstructor(st).Reconcile(ctx)
		return err
	})
	run.CompletedAt = time.Now().UTC()

	switch {
	case err != nil:
		run.Status = "failed"
		run.Error = err.Error()
		config.LogError(s.logger, "pharmacy", "Reconcile", "Error reconciling ledger", trigger, err)
	case len(result.Drifts) > 0:
		run.Status = "drift"
		run.Checked = result.Checked
		run.Drifts = result.Drifts
		for _, d := range result.Drifts {
			s.logger.WithFields(logrus.Fields{
				"medication": d.Medication.Name,
				"projected":  d.Projected,
				"ledger":     d.Ledger,
			}).Warn("balance drift detected")
		}
	default:
		run.Status = "completed"
		run.Checked = result.Checked
	}

	saveCtx, saveCancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer saveCancel()
	if saveErr := s.store.SaveReconciliationRun(saveCtx, run); saveErr != nil {
		config.LogError(s.logger, "pharmacy", "Reconcile", "Error saving reconciliation run", trigger, saveErr)
	}
	if err != nil {
		return run, err
	}

	s.audit(ctx, stock.AuditReconcile, stock.TargetLedger, run.ID, "system:"+trigger, map[string]any{
		"status":  run.Status,
		"checked": run.Checked,
		"drifts":  len(run.Drifts),
	})
	return run, nil
}

func (s *Service) ReconciliationRuns(ctx context.Context, limit int) ([]stock.ReconciliationRun, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	runs, err := s.store.ReconciliationRuns(ctx, limit)
	return runs, storeErr(ctx, err)
}

// =============================================================================
// AUDIT AND ERROR LOG
// =============================================================================

func (s *Service) AuditTrail(ctx context.Context, f stock.AuditFilter) ([]stock.AuditEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	entries, err := s.store.QueryAudit(ctx, f)
	return entries, storeErr(ctx, err)
}

func (s *Service) ErrorLogs(ctx context.Context, limit int) ([]stock.ErrorLogEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	logs, err := s.store.ErrorLogs(ctx, limit)
	return logs, storeErr(ctx, err)
}

// Reset wipes every medication, ledger entry and log.
func (s *Service) Reset(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return storeErr(ctx, s.store.Reset(ctx))
}

func reconstructor(st stock.Store) *stock.Reconstructor {
	return stock.NewReconstructor(stock.NewLedger(st), st)
}
