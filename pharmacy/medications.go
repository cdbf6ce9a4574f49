package pharmacy

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/warp/stock-ledger/stock"
)

// =============================================================================
// MEDICATION CATALOG
// =============================================================================

// AddMedication creates a medication with an opening balance. The opening
// balance is logged as a receive entry in the same store transaction.
func (s *Service) AddMedication(ctx context.Context, req AddMedicationRequest) (*stock.Medication, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.check(req); err != nil {
		return nil, err
	}
	if err := checkPrice(req.Price); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	details := req.receive()
	med := stock.Medication{
		ID:       stock.MedicationID(uuid.NewString()),
		Name:     req.Name,
		Balance:  req.InitialBalance,
		Schedule: stock.ScheduleNotControlled,
	}
	med.ApplyReceipt(details)

	txID := stock.TransactionID(uuid.NewString())
	var created *stock.Medication
	err := s.write(ctx, []string{req.Name}, func(st stock.Store) error {
		if err := st.CreateMedication(ctx, med); err != nil {
			return err
		}
		if req.InitialBalance > 0 {
			_, err := stock.NewLedger(st).Append(ctx, stock.Transaction{
				TransactionID: txID,
				Type:          stock.TxReceive,
				MedicationID:  med.ID,
				MedName:       med.Name,
				Quantity:      req.InitialBalance,
				Timestamp:     s.now(req.RecordedAt),
				User:          req.User,
				Receive:       &details,
			})
			if err != nil {
				return err
			}
		}
		var err error
		created, err = st.Medication(ctx, med.ID)
		return err
	})
	if err != nil {
		s.logFailure("AddMedication", "Error adding medication", req.Name, err)
		return nil, err
	}

	s.audit(ctx, stock.AuditCreate, stock.TargetMedication, string(created.ID), req.User, map[string]any{
		"name":            created.Name,
		"initial_balance": req.InitialBalance,
		"schedule":        created.Schedule,
	})
	s.logger.WithFields(logrus.Fields{"medication": created.Name, "balance": created.Balance}).Info("medication added")
	return created, nil
}

// UpdateMedication replaces the descriptive fields of a medication. The
// balance is never edited here.
func (s *Service) UpdateMedication(ctx context.Context, id stock.MedicationID, req UpdateMedicationRequest) (*stock.Medication, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.check(req); err != nil {
		return nil, err
	}
	if err := checkPrice(req.Price); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	current, err := s.store.Medication(ctx, id)
	if err != nil {
		return nil, storeErr(ctx, err)
	}

	var before, after stock.Medication
	err = s.write(ctx, []string{current.Name, req.Name}, func(st stock.Store) error {
		med, err := st.Medication(ctx, id)
		if err != nil {
			return err
		}
		before = *med
		after = *med
		after.Name = req.Name
		after.ApplyReceipt(req.receive())
		if req.Schedule == "" {
			after.Schedule = stock.ScheduleNotControlled
		}
		if err := st.UpdateMedication(ctx, after); err != nil {
			return err
		}
		updated, err := st.Medication(ctx, id)
		if err != nil {
			return err
		}
		after = *updated
		return nil
	})
	if err != nil {
		s.logFailure("UpdateMedication", "Error updating medication", id, err)
		return nil, err
	}

	s.audit(ctx, stock.AuditUpdate, stock.TargetMedication, string(id), req.User, map[string]any{
		"before": medicationChanges(before),
		"after":  medicationChanges(after),
	})
	return &after, nil
}

// DeleteMedication removes the projection row. Its ledger entries stay and
// remain reachable by medication id.
func (s *Service) DeleteMedication(ctx context.Context, id stock.MedicationID, user string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	current, err := s.store.Medication(ctx, id)
	if err != nil {
		return storeErr(ctx, err)
	}

	err = s.write(ctx, []string{current.Name}, func(st stock.Store) error {
		return st.DeleteMedication(ctx, id)
	})
	if err != nil {
		s.logFailure("DeleteMedication", "Error deleting medication", id, err)
		return err
	}

	s.audit(ctx, stock.AuditDelete, stock.TargetMedication, string(id), user, map[string]any{
		"before": medicationChanges(*current),
	})
	return nil
}

func (s *Service) GetMedication(ctx context.Context, id stock.MedicationID) (*stock.Medication, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	med, err := s.store.Medication(ctx, id)
	return med, storeErr(ctx, err)
}

// ListMedications returns every medication sorted by name.
func (s *Service) ListMedications(ctx context.Context) ([]stock.Medication, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	meds, err := s.store.Medications(ctx)
	return meds, storeErr(ctx, err)
}

// SuggestMedicationNames returns names starting with prefix, ignoring case.
func (s *Service) SuggestMedicationNames(ctx context.Context, prefix string, limit int) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	names, err := s.store.SuggestNames(ctx, prefix, limit)
	return names, storeErr(ctx, err)
}

func medicationChanges(m stock.Medication) map[string]any {
	return map[string]any{
		"name":           m.Name,
		"balance":        m.Balance,
		"batch":          m.Batch,
		"price":          m.Price.StringFixed(2),
		"expiry_date":    stock.FormatDate(m.ExpiryDate),
		"schedule":       m.Schedule,
		"stock_receiver": m.StockReceiver,
		"order_number":   m.OrderNumber,
		"supplier":       m.Supplier,
		"invoice_number": m.InvoiceNumber,
	}
}
