/*
scheduler.go - Periodic ledger reconciliation

PURPOSE:
  Replays the ledger on a timer and compares it with the stored balances.
  Drift is logged and recorded as a reconciliation run; nothing is
  corrected automatically.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Runs once immediately on start
  - An interval of 0 disables the scheduler

USAGE:
  scheduler := NewReconciliationScheduler(svc, time.Hour, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Reconcile endpoint (manual run)
  - pharmacy/reports.go: Service.Reconcile
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/stock-ledger/pharmacy"
)

// ReconciliationScheduler runs scheduled drift checks.
type ReconciliationScheduler struct {
	Service  *pharmacy.Service
	Interval time.Duration
	Logger   logrus.FieldLogger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewReconciliationScheduler creates a new scheduler.
func NewReconciliationScheduler(svc *pharmacy.Service, interval time.Duration, logger logrus.FieldLogger) *ReconciliationScheduler {
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}
	return &ReconciliationScheduler{
		Service:  svc,
		Interval: interval,
		Logger:   logger.WithField("component", "scheduler"),
	}
}

// Start begins the scheduler. Calling it twice is a no-op.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.Interval <= 0 {
		rs.Logger.Info("disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.Interval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run(rs.ticker, rs.stop)

	rs.Logger.WithField("interval", rs.Interval.String()).Info("started")
}

// Stop stops the scheduler and waits for an in-flight run.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker == nil {
		return
	}
	rs.ticker.Stop()
	close(rs.stop)
	rs.wg.Wait()
	rs.ticker = nil
	rs.Logger.Info("stopped")
}

func (rs *ReconciliationScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	rs.RunNow()

	for {
		select {
		case <-ticker.C:
			rs.RunNow()
		case <-stop:
			return
		}
	}
}

// RunNow performs one scheduled check.
func (rs *ReconciliationScheduler) RunNow() {
	run, err := rs.Service.Reconcile(context.Background(), "scheduled")
	if err != nil {
		rs.Logger.WithError(err).Error("reconciliation failed")
		return
	}

	entry := rs.Logger.WithFields(logrus.Fields{
		"run_id":  run.ID,
		"checked": run.Checked,
		"drifts":  len(run.Drifts),
	})
	if len(run.Drifts) > 0 {
		entry.Warn("reconciliation found drift")
		return
	}
	entry.Debug("reconciliation clean")
}
