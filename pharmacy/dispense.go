package pharmacy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/warp/stock-ledger/stock"
)

// =============================================================================
// DISPENSE RESULT
// =============================================================================

// LineRejection is a dispense line that was not committed.
type LineRejection struct {
	MedName  string `json:"med_name"`
	Quantity int64  `json:"quantity"`
	Reason   string `json:"reason"`
}

type DispenseResult struct {
	TransactionID stock.TransactionID
	Revision      int
	Committed     []string
	Rejected      []LineRejection

	// RolledBack is set when AllOrNothing undid the committed lines.
	RolledBack bool
}

// errRollback aborts the store transaction of an all-or-nothing dispense.
var errRollback = errors.New("dispense rolled back")

// =============================================================================
// RECORD / EDIT / DELETE
// =============================================================================

// RecordDispense dispenses up to MaxDispenseLines medications under one
// transaction_id. Lines are applied in order; an unknown medication or a
// short balance rejects that line only, unless req.AllOrNothing is set.
// A store failure aborts the whole dispense.
func (s *Service) RecordDispense(ctx context.Context, req DispenseRequest) (*DispenseResult, error) {
	if err := s.checkDispense(req); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	txID := stock.TransactionID(uuid.NewString())
	ts := s.now(req.RecordedAt)

	var result *DispenseResult
	err := s.write(ctx, req.names(), func(st stock.Store) error {
		var err error
		result, err = s.applyLines(ctx, st, txID, 1, ts, req)
		return err
	})
	result, err = settle(result, err)
	if err != nil {
		s.logFailure("RecordDispense", "Error recording dispense", req.names(), err)
		return nil, err
	}

	if len(result.Committed) == 0 {
		result.TransactionID = ""
		return result, nil
	}

	s.audit(ctx, stock.AuditCreate, stock.TargetDispense, string(txID), req.User, map[string]any{
		"lines":    req.Lines,
		"patient":  req.Patient,
		"rejected": result.Rejected,
	})
	s.logger.WithFields(logrus.Fields{
		"transaction_id": txID,
		"committed":      len(result.Committed),
		"rejected":       len(result.Rejected),
	}).Info("dispense recorded")
	return result, nil
}

// EditDispense replaces the lines of a dispense. The old lines' stock is
// restored and they are retired as superseded; the new lines are applied
// under the same transaction_id with the next revision and the original
// timestamp. All of it commits together.
func (s *Service) EditDispense(ctx context.Context, id stock.TransactionID, req DispenseRequest) (*DispenseResult, error) {
	if err := s.checkDispense(req); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	old, err := s.dispenseLines(ctx, s.store, id)
	if err != nil {
		return nil, err
	}

	var (
		result   *DispenseResult
		previous []stock.Transaction
	)
	err = s.write(ctx, append(lineNames(old), req.names()...), func(st stock.Store) error {
		lines, err := s.dispenseLines(ctx, st, id)
		if err != nil {
			return err
		}
		previous = lines
		if err := checkReplaced(ctx, st, lines); err != nil {
			return err
		}
		if err := s.restore(ctx, st, lines); err != nil {
			return err
		}
		if _, err := stock.NewLedger(st).Retire(ctx, id, stock.StatusSuperseded, s.clock()); err != nil {
			return err
		}
		result, err = s.applyLines(ctx, st, id, maxRevision(lines)+1, lines[0].Timestamp, req)
		return err
	})
	result, err = settle(result, err)
	if err != nil {
		s.logFailure("EditDispense", "Error editing dispense", id, err)
		return nil, err
	}
	if result.RolledBack {
		return result, nil
	}

	s.audit(ctx, stock.AuditUpdate, stock.TargetDispense, string(id), req.User, map[string]any{
		"before":   lineSummary(previous),
		"after":    req.Lines,
		"revision": result.Revision,
		"rejected": result.Rejected,
	})
	return result, nil
}

// DeleteDispense restores the stock of every active line and retires them
// as voided.
func (s *Service) DeleteDispense(ctx context.Context, id stock.TransactionID, user string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	old, err := s.dispenseLines(ctx, s.store, id)
	if err != nil {
		return err
	}

	var previous []stock.Transaction
	err = s.write(ctx, lineNames(old), func(st stock.Store) error {
		lines, err := s.dispenseLines(ctx, st, id)
		if err != nil {
			return err
		}
		previous = lines
		if err := s.restore(ctx, st, lines); err != nil {
			return err
		}
		_, err = stock.NewLedger(st).Retire(ctx, id, stock.StatusVoided, s.clock())
		return err
	})
	if err != nil {
		s.logFailure("DeleteDispense", "Error deleting dispense", id, err)
		return err
	}

	s.audit(ctx, stock.AuditDelete, stock.TargetDispense, string(id), user, map[string]any{
		"before": lineSummary(previous),
	})
	return nil
}

// TransactionHistory returns every row ever written under id, retired
// revisions included, oldest first.
func (s *Service) TransactionHistory(ctx context.Context, id stock.TransactionID) ([]stock.Transaction, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	txs, err := s.store.Find(ctx, stock.Filter{TransactionID: id, IncludeRetired: true})
	if err != nil {
		return nil, storeErr(ctx, err)
	}
	if len(txs) == 0 {
		return nil, stock.ErrTransactionNotFound
	}
	return txs, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) checkDispense(req DispenseRequest) error {
	if len(req.Lines) > MaxDispenseLines {
		return fmt.Errorf("%w: %d lines, at most %d", stock.ErrTooManyLines, len(req.Lines), MaxDispenseLines)
	}
	return s.check(req)
}

// applyLines runs the dispense create path inside st.
func (s *Service) applyLines(ctx context.Context, st stock.Store, id stock.TransactionID, revision int, ts time.Time, req DispenseRequest) (*DispenseResult, error) {
	result := &DispenseResult{
		TransactionID: id,
		Revision:      revision,
		Committed:     []string{},
		Rejected:      []LineRejection{},
	}
	ledger := stock.NewLedger(st)
	details := req.details()

	for _, line := range req.Lines {
		name := strings.TrimSpace(line.MedName)

		med, err := st.MedicationByName(ctx, name)
		if err == nil {
			med, err = st.DecrementOnDispense(ctx, med.ID, line.Quantity)
		}
		if rejectsLine(err) {
			result.Rejected = append(result.Rejected, LineRejection{
				MedName:  name,
				Quantity: line.Quantity,
				Reason:   stock.Reason(err),
			})
			continue
		}
		if err != nil {
			return nil, err
		}

		_, err = ledger.Append(ctx, stock.Transaction{
			TransactionID: id,
			Type:          stock.TxDispense,
			MedicationID:  med.ID,
			MedName:       med.Name,
			Quantity:      line.Quantity,
			Timestamp:     ts,
			Revision:      revision,
			User:          req.User,
			Dispense:      details,
		})
		if err != nil {
			return nil, err
		}
		result.Committed = append(result.Committed, name)
	}

	if req.AllOrNothing && len(result.Rejected) > 0 {
		return result, errRollback
	}
	return result, nil
}

// settle turns an all-or-nothing rollback into a result.
func settle(result *DispenseResult, err error) (*DispenseResult, error) {
	if errors.Is(err, errRollback) && result != nil {
		result.Committed = []string{}
		result.RolledBack = true
		return result, nil
	}
	return result, err
}

func rejectsLine(err error) bool {
	return errors.Is(err, stock.ErrMedicationNotFound) ||
		errors.Is(err, stock.ErrInsufficientStock)
}

// dispenseLines returns the active lines of a dispense group.
func (s *Service) dispenseLines(ctx context.Context, st stock.Store, id stock.TransactionID) ([]stock.Transaction, error) {
	lines, err := stock.NewLedger(st).Group(ctx, id)
	if err != nil {
		return nil, storeErr(ctx, err)
	}
	if len(lines) == 0 {
		return nil, stock.ErrTransactionNotFound
	}
	for _, l := range lines {
		if l.Type != stock.TxDispense {
			return nil, stock.ErrTransactionNotFound
		}
	}
	return lines, nil
}

// restore gives back the stock of lines. A medication deleted since has
// nothing to restore to and is skipped.
func (s *Service) restore(ctx context.Context, st stock.Store, lines []stock.Transaction) error {
	for _, l := range lines {
		err := st.IncrementBalance(ctx, l.MedicationID, l.Quantity)
		if errors.Is(err, stock.ErrMedicationNotFound) {
			s.logger.WithFields(logrus.Fields{
				"transaction_id": l.TransactionID,
				"medication":     l.MedName,
			}).Warn("medication no longer exists, stock not restored")
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// checkReplaced refuses an edit when a line's medication is gone but its
// name now belongs to another medication. Re-applying the line would take
// stock from the new medication without anything restored to it.
func checkReplaced(ctx context.Context, st stock.Store, lines []stock.Transaction) error {
	for _, l := range lines {
		_, err := st.Medication(ctx, l.MedicationID)
		if err == nil {
			continue
		}
		if !errors.Is(err, stock.ErrMedicationNotFound) {
			return err
		}
		current, err := st.MedicationByName(ctx, l.MedName)
		if errors.Is(err, stock.ErrMedicationNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %q is now medication %s", stock.ErrMedicationReplaced, l.MedName, current.ID)
	}
	return nil
}

func lineNames(lines []stock.Transaction) []string {
	names := make([]string, 0, len(lines))
	for _, l := range lines {
		names = append(names, l.MedName)
	}
	return names
}

func lineSummary(lines []stock.Transaction) []DispenseLine {
	out := make([]DispenseLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, DispenseLine{MedName: l.MedName, Quantity: l.Quantity})
	}
	return out
}

func maxRevision(lines []stock.Transaction) int {
	rev := 0
	for _, l := range lines {
		if l.Revision > rev {
			rev = l.Revision
		}
	}
	return rev
}
