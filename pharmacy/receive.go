package pharmacy

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/warp/stock-ledger/stock"
)

type ReceiveResult struct {
	TransactionID stock.TransactionID
	EntryID       stock.EntryID
	Medication    stock.Medication
}

// RecordReceive adds stock. An unknown medication is created with the
// received quantity; a known one gets its balance increased and its
// descriptive fields replaced by the receipt's.
func (s *Service) RecordReceive(ctx context.Context, req ReceiveRequest) (*ReceiveResult, error) {
	req.MedName = strings.TrimSpace(req.MedName)
	if err := s.check(req); err != nil {
		return nil, err
	}
	if err := checkPrice(req.Price); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	details := req.receive()
	result := &ReceiveResult{TransactionID: stock.TransactionID(uuid.NewString())}

	err := s.write(ctx, []string{req.MedName}, func(st stock.Store) error {
		incoming := stock.Medication{Name: req.MedName}
		incoming.ApplyReceipt(details)

		med, err := st.UpsertOnReceive(ctx, incoming, req.Quantity)
		if err != nil {
			return err
		}
		result.Medication = *med

		result.EntryID, err = stock.NewLedger(st).Append(ctx, stock.Transaction{
			TransactionID: result.TransactionID,
			Type:          stock.TxReceive,
			MedicationID:  med.ID,
			MedName:       med.Name,
			Quantity:      req.Quantity,
			Timestamp:     s.now(req.RecordedAt),
			User:          req.User,
			Receive:       &details,
		})
		return err
	})
	if err != nil {
		s.logFailure("RecordReceive", "Error recording receipt", req.MedName, err)
		return nil, err
	}

	s.audit(ctx, stock.AuditCreate, stock.TargetReceive, string(result.TransactionID), req.User, map[string]any{
		"med_name": req.MedName,
		"quantity": req.Quantity,
		"batch":    details.Batch,
		"supplier": details.Supplier,
	})
	s.logger.WithFields(logrus.Fields{
		"medication": req.MedName,
		"quantity":   req.Quantity,
		"balance":    result.Medication.Balance,
	}).Info("receipt recorded")
	return result, nil
}
