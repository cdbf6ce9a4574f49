/*
Package pharmacy is the write and report surface of the stock ledger.

PURPOSE:
  Turns requests (receive, dispense, edit, delete, reports) into ledger
  appends and projection updates, with validation, per-medication locking,
  timeouts and an audit trail around every write.

WRITE PATH (every mutating operation):
  1. Validate the request (go-playground/validator), no store access yet
  2. Lock the medication names involved (sorted, see locker)
  3. One store transaction (WithTx):
       projection update + ledger append(s)
     any store error rolls back both
  4. After commit: audit entry (best-effort, failures only logged)

READ PATH:
  Reports run inside WithTx too, so the projection and the ledger scan
  they combine come from the same state.

TIMEOUTS:
  Every operation runs under Options.StoreTimeout. A timeout surfaces as
  stock.ErrStoreUnavailable and nothing is committed.

SEE ALSO:
  - stock/: Ledger, reconstruction, aggregation, register, forecast
  - locker/: Per-medication serialization
  - api/: HTTP mapping of these operations
*/
package pharmacy

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/warp/stock-ledger/config"
	"github.com/warp/stock-ledger/locker"
	"github.com/warp/stock-ledger/stock"
)

// MaxDispenseLines is the number of medications one dispense may cover.
const MaxDispenseLines = 12

// Store is everything the service persists to.
type Store interface {
	stock.TxStore
	stock.AuditLog
	stock.ErrorLog
	stock.RunLog

	SuggestNames(ctx context.Context, prefix string, limit int) ([]string, error)
	Reset(ctx context.Context) error
}

type Options struct {
	Store  Store
	Locker locker.Locker
	Logger logrus.FieldLogger

	// Clock stamps new ledger entries. Defaults to stock.Now.
	Clock func() time.Time

	StoreTimeout      time.Duration
	CloseToExpireDays int
}

type Service struct {
	store             Store
	locker            locker.Locker
	logger            logrus.FieldLogger
	clock             func() time.Time
	validate          *validator.Validate
	timeout           time.Duration
	closeToExpireDays int
}

func New(opts Options) *Service {
	s := &Service{
		store:             opts.Store,
		locker:            opts.Locker,
		logger:            opts.Logger,
		clock:             opts.Clock,
		validate:          newValidator(),
		timeout:           opts.StoreTimeout,
		closeToExpireDays: opts.CloseToExpireDays,
	}
	if s.locker == nil {
		s.locker = locker.NewLocal()
	}
	if s.logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		s.logger = l
	}
	if s.clock == nil {
		s.clock = stock.Now
	}
	if s.timeout <= 0 {
		s.timeout = 15 * time.Second
	}
	if s.closeToExpireDays <= 0 {
		s.closeToExpireDays = stock.DefaultCloseToExpireDays
	}
	return s
}

// Store returns the underlying store.
func (s *Service) Store() Store {
	return s.store
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// write locks names, then runs fn in one store transaction.
func (s *Service) write(ctx context.Context, names []string, fn func(stock.Store) error) error {
	unlock, err := s.locker.Lock(ctx, names...)
	if err != nil {
		return err
	}
	defer unlock()
	return storeErr(ctx, s.store.WithTx(ctx, fn))
}

// read runs fn against a consistent view of the store.
func (s *Service) read(ctx context.Context, fn func(stock.Store) error) error {
	return storeErr(ctx, s.store.WithTx(ctx, fn))
}

// storeErr makes a timeout retryable even when the store reported it as a
// plain error.
func storeErr(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, stock.ErrStoreUnavailable) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &stock.StoreError{Op: "operation", Err: err}
	}
	return err
}

// audit records a change. Failures are logged, never returned.
func (s *Service) audit(ctx context.Context, action stock.AuditAction, targetType, targetID, user string, changes map[string]any) {
	// Runs after commit: detached from the request's cancellation.
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	err := s.store.AppendAudit(actx, stock.AuditEntry{
		Timestamp:  s.clock(),
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Changes:    changes,
		User:       user,
	})
	if err != nil {
		config.LogError(s.logger, "pharmacy", "audit", "Error writing audit entry", targetType+"/"+targetID, err)
	}
}

func (s *Service) logFailure(funcName, context string, data any, err error) {
	if err == nil || stock.IsClientError(err) || stock.IsNotFound(err) {
		return
	}
	config.LogError(s.logger, "pharmacy", funcName, context, data, err)
}

func (s *Service) now(recordedAt *time.Time) time.Time {
	if recordedAt != nil && !recordedAt.IsZero() {
		return stock.Instant(*recordedAt)
	}
	return s.clock()
}
