package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/stock"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func receive(t *testing.T, s *Store, name string, qty int64, ts time.Time) stock.Medication {
	t.Helper()
	ctx := context.Background()
	var med *stock.Medication
	err := s.WithTx(ctx, func(tx stock.Store) error {
		var err error
		med, err = tx.UpsertOnReceive(ctx, stock.Medication{
			Name:       name,
			Batch:      "LOT-7",
			Price:      decimal.RequireFromString("2.50"),
			ExpiryDate: time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC),
			Schedule:   stock.ScheduleControlled,
		}, qty)
		if err != nil {
			return err
		}
		_, err = stock.NewLedger(tx).Append(ctx, stock.Transaction{
			TransactionID: stock.TransactionID("rcv-" + name + ts.Format(time.RFC3339)),
			Type:          stock.TxReceive,
			MedicationID:  med.ID,
			MedName:       name,
			Quantity:      qty,
			Timestamp:     ts,
			Receive:       &stock.ReceiveDetails{Batch: "LOT-7", Supplier: "MedSupply", Price: decimal.RequireFromString("2.50")},
		})
		return err
	})
	require.NoError(t, err)
	return *med
}

// =============================================================================
// PROJECTION
// =============================================================================

func TestUpsertOnReceive_CreatesThenAccumulates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// GIVEN: Two receipts of the same medication
	first := receive(t, s, "Paracetamol", 100, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	second := receive(t, s, "Paracetamol", 50, time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC))

	// THEN: One row, same ID, summed balance, metadata kept
	assert.Equal(t, first.ID, second.ID)
	med, err := s.MedicationByName(ctx, "Paracetamol")
	require.NoError(t, err)
	assert.Equal(t, int64(150), med.Balance)
	assert.Equal(t, "LOT-7", med.Batch)
	assert.True(t, med.Price.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, "2026-06-30", stock.FormatDate(med.ExpiryDate))
	assert.True(t, med.IsControlled())
}

func TestDecrementOnDispense_CompareAndSwap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	med := receive(t, s, "Ibuprofen", 10, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))

	// WHEN: Dispensing more than available
	_, err := s.DecrementOnDispense(ctx, med.ID, 11)

	// THEN: Rejected with details, balance untouched
	var short *stock.InsufficientStockError
	require.True(t, errors.As(err, &short))
	assert.Equal(t, int64(10), short.Available)
	assert.Equal(t, int64(11), short.Requested)

	updated, err := s.DecrementOnDispense(ctx, med.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), updated.Balance)
}

func TestDecrementOnDispense_UnknownMedication(t *testing.T) {
	s := newTestStore(t)
	_, err := s.DecrementOnDispense(context.Background(), "missing", 1)
	assert.ErrorIs(t, err, stock.ErrMedicationNotFound)
}

func TestCreateMedication_DuplicateName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateMedication(ctx, stock.Medication{Name: "Amoxicillin"}))
	err := s.CreateMedication(ctx, stock.Medication{Name: "Amoxicillin"})
	assert.ErrorIs(t, err, stock.ErrMedicationExists)
}

func TestUpdateMedication_NeverTouchesBalance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	med := receive(t, s, "Diazepam", 40, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))

	med.Balance = 999
	med.Supplier = "PharmaCo"
	require.NoError(t, s.UpdateMedication(ctx, med))

	got, err := s.Medication(ctx, med.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), got.Balance)
	assert.Equal(t, "PharmaCo", got.Supplier)
}

func TestSuggestNames_PrefixCaseInsensitiveAndEscaped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"Paracetamol", "Pantoprazole", "Ibuprofen", "P%cent"} {
		require.NoError(t, s.CreateMedication(ctx, stock.Medication{Name: name}))
	}

	names, err := s.SuggestNames(ctx, "pa", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Pantoprazole", "Paracetamol"}, names)

	names, err = s.SuggestNames(ctx, "p%", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"P%cent"}, names)

	names, err = s.SuggestNames(ctx, "p", 1)
	require.NoError(t, err)
	assert.Len(t, names, 1)
}

func TestSuggestNames_FoldsNonASCII(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"Éfferalgan", "Efferalgan", "Ibuprofen"} {
		require.NoError(t, s.CreateMedication(ctx, stock.Medication{Name: name}))
	}

	names, err := s.SuggestNames(ctx, "éf", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Éfferalgan"}, names)

	names, err = s.SuggestNames(ctx, "ÉF", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Éfferalgan"}, names)
}

// =============================================================================
// LEDGER
// =============================================================================

func TestFind_FiltersAndOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	med := receive(t, s, "Paracetamol", 100, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	receive(t, s, "Paracetamol", 20, time.Date(2025, 3, 5, 9, 0, 0, 0, time.UTC))
	receive(t, s, "Paracetamol", 30, time.Date(2025, 3, 9, 9, 0, 0, 0, time.UTC))

	from := time.Date(2025, 3, 5, 9, 0, 0, 0, time.UTC)
	txs, err := s.Find(ctx, stock.Filter{MedicationID: med.ID, From: &from, Types: []stock.TxType{stock.TxReceive}})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, int64(20), txs[0].Quantity)
	assert.Equal(t, "MedSupply", txs[0].Receive.Supplier)

	txs, err = s.Find(ctx, stock.Filter{MedicationID: med.ID, After: &from, Order: stock.Descending})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, int64(30), txs[0].Quantity)
}

func TestRetire_TombstonesGroupAndKeepsRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	med := receive(t, s, "Paracetamol", 100, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))

	// GIVEN: A two-line dispense group
	for _, qty := range []int64{3, 4} {
		_, err := stock.NewLedger(s).Append(ctx, stock.Transaction{
			TransactionID: "dsp-1",
			Type:          stock.TxDispense,
			MedicationID:  med.ID,
			MedName:       med.Name,
			Quantity:      qty,
			Timestamp:     time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC),
			Dispense:      &stock.DispenseDetails{Patient: "Ama", Diagnoses: []string{"Malaria", "Fever"}},
		})
		require.NoError(t, err)
	}

	// WHEN: Voiding the group
	n, err := s.Retire(ctx, "dsp-1", stock.StatusVoided, time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// THEN: Hidden by default, still present with IncludeRetired
	active, err := s.Find(ctx, stock.Filter{TransactionID: "dsp-1"})
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := s.Find(ctx, stock.Filter{TransactionID: "dsp-1", IncludeRetired: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, stock.StatusVoided, all[0].Status)
	require.NotNil(t, all[0].RetiredAt)
	assert.Equal(t, []string{"Malaria", "Fever"}, all[0].Dispense.Diagnoses)
}

func TestLedgerRows_AreImmutable(t *testing.T) {
	s := newTestStore(t)
	receive(t, s, "Paracetamol", 100, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))

	_, err := s.db.Exec("UPDATE transactions SET quantity = 1")
	assert.Error(t, err)

	_, err = s.db.Exec("DELETE FROM transactions")
	assert.Error(t, err)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollbackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	med := receive(t, s, "Paracetamol", 100, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx stock.Store) error {
		if _, err := tx.DecrementOnDispense(ctx, med.ID, 40); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.Medication(ctx, med.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.Balance)
}

func TestWithTx_CanceledContextIsStoreUnavailable(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.WithTx(ctx, func(stock.Store) error { return nil })
	assert.ErrorIs(t, err, stock.ErrStoreUnavailable)
	assert.True(t, stock.IsRetryable(err))
}

func TestClosedStore_IsStoreUnavailable(t *testing.T) {
	s, err := New(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Medications(context.Background())
	assert.ErrorIs(t, err, stock.ErrStoreUnavailable)
}

// =============================================================================
// AUDIT, ERROR LOG, RUNS
// =============================================================================

func TestAudit_NewestFirstWithFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendAudit(ctx, stock.AuditEntry{
		Timestamp: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC), Action: stock.AuditCreate,
		TargetType: stock.TargetDispense, TargetID: "dsp-1", Changes: map[string]any{"quantity": 3},
	}))
	require.NoError(t, s.AppendAudit(ctx, stock.AuditEntry{
		Timestamp: time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC), Action: stock.AuditUpdate,
		TargetType: stock.TargetDispense, TargetID: "dsp-1",
	}))
	require.NoError(t, s.AppendAudit(ctx, stock.AuditEntry{
		Timestamp: time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC), Action: stock.AuditCreate,
		TargetType: stock.TargetMedication, TargetID: "m-1",
	}))

	entries, err := s.QueryAudit(ctx, stock.AuditFilter{TargetID: "dsp-1"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, stock.AuditUpdate, entries[0].Action)
	assert.Equal(t, float64(3), entries[1].Changes["quantity"])

	entries, err = s.QueryAudit(ctx, stock.AuditFilter{Actions: []stock.AuditAction{stock.AuditCreate}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "m-1", entries[0].TargetID)
}

func TestErrorLogs_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveErrorLog(ctx, stock.ErrorLogEntry{
		Level: "error", Message: "dispense failed", Fields: map[string]any{"module": "pharmacy"},
	}))

	logs, err := s.ErrorLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "dispense failed", logs[0].Message)
	assert.Equal(t, "pharmacy", logs[0].Fields["module"])
}

func TestReconciliationRuns_KeepDrifts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	started := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveReconciliationRun(ctx, stock.ReconciliationRun{
		Trigger: "manual", Status: "drift", Checked: 3,
		Drifts: []stock.Drift{{
			Medication: stock.Medication{ID: "m-1", Name: "Paracetamol"},
			Projected:  10, Ledger: 8,
		}},
		StartedAt: started, CompletedAt: started.Add(time.Second),
	}))

	runs, err := s.ReconciliationRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 3, runs[0].Checked)
	require.Len(t, runs[0].Drifts, 1)
	assert.Equal(t, int64(2), runs[0].Drifts[0].Difference())
}

func TestReset_ClearsDataAndKeepsGuards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	receive(t, s, "Paracetamol", 100, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))

	require.NoError(t, s.Reset(ctx))

	meds, err := s.Medications(ctx)
	require.NoError(t, err)
	assert.Empty(t, meds)

	receive(t, s, "Paracetamol", 5, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	_, err = s.db.Exec("DELETE FROM transactions")
	assert.Error(t, err)
}
