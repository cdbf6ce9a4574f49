/*
handlers_test.go - HTTP tests for the API handlers

Runs requests through the full chi router against an in-memory store.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/catalog"
	"github.com/warp/stock-ledger/pharmacy"
	"github.com/warp/stock-ledger/stock"
	"github.com/warp/stock-ledger/stock/store"
	"github.com/xuri/excelize/v2"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testNow = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

type testServer struct {
	t       *testing.T
	handler *Handler
	router  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	svc := pharmacy.New(pharmacy.Options{
		Store: store.NewTxMemory(),
		Clock: func() time.Time { return testNow },
	})
	h := NewHandler(svc, nil)
	h.Now = func() time.Time { return testNow }
	return &testServer{t: t, handler: h, router: NewRouter(h, []string{"*"})}
}

// do sends body as JSON unless it is already a string.
func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(s.t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User", "tester")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) addMedication(name string, balance int64, schedule string) MedicationDTO {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/medications", map[string]any{
		"name":            name,
		"initial_balance": balance,
		"price":           "0.50",
		"expiry_date":     "2027-01-31",
		"schedule":        schedule,
		"recorded_at":     "2025-03-01T08:00:00Z",
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[MedicationDTO](s.t, rec)
}

func dispenseBody(lines ...map[string]any) map[string]any {
	return map[string]any{
		"lines":      lines,
		"patient":    "P-001",
		"diagnoses":  []string{"Headache"},
		"prescriber": "Dr. Osei",
		"date":       "2025-03-10",
	}
}

func line(name string, qty int64) map[string]any {
	return map[string]any{"med_name": name, "quantity": qty}
}

// =============================================================================
// MEDICATIONS
// =============================================================================

func TestMedications_Lifecycle(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: A new medication
	med := s.addMedication("Paracetamol 500mg", 100, "")
	assert.Equal(t, int64(100), med.Balance)
	assert.Equal(t, "0.50", med.Price)
	assert.Equal(t, "2027-01-31", med.ExpiryDate)
	assert.Equal(t, "not-controlled", med.Schedule)

	// WHEN: Adding the same name again
	rec := s.do(http.MethodPost, "/api/medications", map[string]any{"name": "Paracetamol 500mg"})

	// THEN: Conflict
	assert.Equal(t, http.StatusConflict, rec.Code)

	// WHEN: Renaming it
	rec = s.do(http.MethodPut, "/api/medications/"+med.ID, map[string]any{
		"name":  "Paracetamol 500 mg",
		"batch": "B-2",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[MedicationDTO](t, rec)

	// THEN: Metadata changes, balance does not
	assert.Equal(t, "Paracetamol 500 mg", updated.Name)
	assert.Equal(t, "B-2", updated.Batch)
	assert.Equal(t, int64(100), updated.Balance)

	rec = s.do(http.MethodGet, "/api/medications/"+med.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Paracetamol 500 mg", decode[MedicationDTO](t, rec).Name)

	rec = s.do(http.MethodGet, "/api/medications?query=para", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Paracetamol 500 mg"}, decode[[]string](t, rec))

	// WHEN: Deleting it
	rec = s.do(http.MethodDelete, "/api/medications/"+med.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// THEN: It is gone
	rec = s.do(http.MethodGet, "/api/medications/"+med.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/medications", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]MedicationDTO](t, rec))
}

func TestCreateMedication_ValidationError(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/medications", map[string]any{
		"name":            "",
		"initial_balance": -1,
		"expiry_date":     "31/01/2027",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "required", resp.Fields["name"])
	assert.Equal(t, "gte", resp.Fields["initial_balance"])
	assert.Equal(t, "datetime", resp.Fields["expiry_date"])
}

func TestCreateMedication_MalformedBody(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/medications", `{"name":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", decode[ErrorResponse](t, rec).Error)
}

// =============================================================================
// RECEIPTS AND DISPENSES
// =============================================================================

func TestCreateReceipt_CreatesUnknownMedication(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/receipts", map[string]any{
		"med_name":    "Amoxicillin 250mg",
		"quantity":    40,
		"batch":       "AMX-7",
		"price":       0.3,
		"expiry_date": "2026-12-31",
		"supplier":    "MedSupply",
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[ReceiveResultDTO](t, rec)
	assert.NotEmpty(t, res.TransactionID)
	assert.NotEmpty(t, res.EntryID)
	assert.Equal(t, int64(40), res.Medication.Balance)
	assert.Equal(t, "MedSupply", res.Medication.Supplier)
}

func TestCreateDispense_PartialSuccess(t *testing.T) {
	s := newTestServer(t)
	s.addMedication("Ibuprofen 400mg", 10, "")
	s.addMedication("Cetirizine 10mg", 2, "")

	// WHEN: One line fits, one exceeds stock, one is unknown
	rec := s.do(http.MethodPost, "/api/dispenses", dispenseBody(
		line("Ibuprofen 400mg", 4),
		line("Cetirizine 10mg", 5),
		line("Unknown", 1),
	))

	// THEN: 201 with the rejected lines listed
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[DispenseResultDTO](t, rec)
	assert.NotEmpty(t, res.TransactionID)
	assert.Equal(t, []string{"Ibuprofen 400mg"}, res.Committed)
	require.Len(t, res.Rejected, 2)
	assert.Equal(t, "Cetirizine 10mg", res.Rejected[0].MedName)
	assert.Equal(t, "Unknown", res.Rejected[1].MedName)
	assert.False(t, res.RolledBack)
}

func TestCreateDispense_NothingCommitted(t *testing.T) {
	s := newTestServer(t)
	s.addMedication("Cetirizine 10mg", 2, "")

	rec := s.do(http.MethodPost, "/api/dispenses", dispenseBody(line("Cetirizine 10mg", 5)))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[DispenseResultDTO](t, rec)
	assert.Empty(t, res.Committed)
	require.Len(t, res.Rejected, 1)
}

func TestCreateDispense_TooManyLines(t *testing.T) {
	s := newTestServer(t)

	lines := make([]map[string]any, pharmacy.MaxDispenseLines+1)
	for i := range lines {
		lines[i] = line("Drug", 1)
	}
	rec := s.do(http.MethodPost, "/api/dispenses", dispenseBody(lines...))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDispense_EditAndDelete(t *testing.T) {
	s := newTestServer(t)
	med := s.addMedication("Ibuprofen 400mg", 10, "")

	rec := s.do(http.MethodPost, "/api/dispenses", dispenseBody(line("Ibuprofen 400mg", 4)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[DispenseResultDTO](t, rec).TransactionID

	// WHEN: Editing the quantity from 4 to 6
	rec = s.do(http.MethodPut, "/api/dispenses/"+id, dispenseBody(line("Ibuprofen 400mg", 6)))

	// THEN: Revision 2 under the same id, balance 4
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	edited := decode[DispenseResultDTO](t, rec)
	assert.Equal(t, id, edited.TransactionID)
	assert.Equal(t, 2, edited.Revision)

	rec = s.do(http.MethodGet, "/api/medications/"+med.ID, nil)
	assert.Equal(t, int64(4), decode[MedicationDTO](t, rec).Balance)

	// AND: History keeps the superseded revision
	rec = s.do(http.MethodGet, "/api/dispenses/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]TransactionDTO](t, rec)
	require.Len(t, history, 2)
	assert.Equal(t, "superseded", history[0].Status)
	assert.Equal(t, int64(4), history[0].Quantity)
	assert.Equal(t, "active", history[1].Status)
	assert.Equal(t, int64(6), history[1].Quantity)
	require.NotNil(t, history[1].Dispense)
	assert.Equal(t, "P-001", history[1].Dispense.Patient)

	// WHEN: Deleting it
	rec = s.do(http.MethodDelete, "/api/dispenses/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// THEN: Stock is back and a second delete is a 404
	rec = s.do(http.MethodGet, "/api/medications/"+med.ID, nil)
	assert.Equal(t, int64(10), decode[MedicationDTO](t, rec).Balance)

	rec = s.do(http.MethodDelete, "/api/dispenses/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// REPORTS
// =============================================================================

func TestStockReport_StatusFilter(t *testing.T) {
	s := newTestServer(t)
	s.addMedication("Ibuprofen 400mg", 10, "")
	s.addMedication("Empty Drug", 0, "")

	rec := s.do(http.MethodGet, "/api/reports/stock?as_of=2025-03-10&status=out-of-stock", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rows := decode[[]SnapshotRowDTO](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, "Empty Drug", rows[0].Medication.Name)
	assert.Equal(t, "out-of-stock", rows[0].Status)

	rec = s.do(http.MethodGet, "/api/reports/stock?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInventoryReport(t *testing.T) {
	s := newTestServer(t)
	s.addMedication("Ibuprofen 400mg", 30, "")
	rec := s.do(http.MethodPost, "/api/dispenses", dispenseBody(line("Ibuprofen 400mg", 12)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/reports/inventory?start=2025-03-01&end=2025-03-10", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rows := decode[[]InventoryRowDTO](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(0), rows[0].BeginningBalance)
	assert.Equal(t, int64(30), rows[0].Received)
	assert.Equal(t, int64(12), rows[0].Dispensed)
	assert.Equal(t, int64(18), rows[0].CurrentBalance)
	assert.Equal(t, 10, rows[0].Forecast.DaysInPeriod)
}

func TestInventoryReport_InvalidPeriod(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/reports/inventory?start=2025-03-10&end=2025-03-01", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/reports/inventory?start=March&end=2025-03-01", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInventoryReport_XLSX(t *testing.T) {
	s := newTestServer(t)
	s.addMedication("Ibuprofen 400mg", 30, "")

	rec := s.do(http.MethodGet, "/api/reports/inventory?start=2025-03-01&end=2025-03-10&format=xlsx", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, contentTypeXLSX, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "inventory.xlsx")

	f, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Inventory"}, f.GetSheetList())

	rows, err := f.GetRows("Inventory")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Medication", rows[0][0])
	assert.Equal(t, "Ibuprofen 400mg", rows[1][0])
}

func TestControlledReport(t *testing.T) {
	s := newTestServer(t)
	s.addMedication("Morphine 10mg", 20, "controlled")
	s.addMedication("Diazepam 5mg", 10, "controlled")
	s.addMedication("Ibuprofen 400mg", 10, "")
	rec := s.do(http.MethodPost, "/api/dispenses", dispenseBody(line("Morphine 10mg", 3), line("Ibuprofen 400mg", 1)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// WHEN: Listing the register for March
	rec = s.do(http.MethodGet, "/api/reports/controlled?start=2025-03-01&end=2025-03-31", nil)

	// THEN: Controlled medications only, with running balances
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	entries := decode[[]RegisterEntryDTO](t, rec)
	require.Len(t, entries, 2)
	assert.Equal(t, "Diazepam 5mg", entries[0].Medication.Name)
	morphine := entries[1]
	assert.Equal(t, "Morphine 10mg", morphine.Medication.Name)
	assert.Equal(t, int64(17), morphine.EndingBalance)
	require.Len(t, morphine.Rows, 2)
	require.NotNil(t, morphine.Rows[1].BalanceAfter)
	assert.Equal(t, int64(17), *morphine.Rows[1].BalanceAfter)

	// WHEN: Exporting it
	rec = s.do(http.MethodGet, "/api/reports/controlled?start=2025-03-01&end=2025-03-31&format=xlsx", nil)

	// THEN: One worksheet per medication
	require.Equal(t, http.StatusOK, rec.Code)
	f, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Diazepam 5mg", "Morphine 10mg"}, f.GetSheetList())
}

func TestDispenseAndReceiptReports(t *testing.T) {
	s := newTestServer(t)
	s.addMedication("Ibuprofen 400mg", 10, "")
	rec := s.do(http.MethodPost, "/api/dispenses", dispenseBody(line("Ibuprofen 400mg", 2)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/reports/dispenses?start=2025-03-01&end=2025-03-31&search=headache", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dispenses := decode[[]TransactionDTO](t, rec)
	require.Len(t, dispenses, 1)
	assert.Equal(t, "dispense", dispenses[0].Type)

	rec = s.do(http.MethodGet, "/api/reports/dispenses?start=2025-03-01&end=2025-03-31&search=fever", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]TransactionDTO](t, rec))

	rec = s.do(http.MethodGet, "/api/reports/receipts?start=2025-03-01&end=2025-03-31", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	receipts := decode[[]TransactionDTO](t, rec)
	require.Len(t, receipts, 1)
	assert.Equal(t, int64(10), receipts[0].Quantity)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestReconcile(t *testing.T) {
	s := newTestServer(t)
	s.addMedication("Ibuprofen 400mg", 10, "")

	rec := s.do(http.MethodGet, "/api/reconciliation", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decode[ReconciliationRunDTO](t, rec)
	assert.Equal(t, "completed", run.Status)
	assert.Equal(t, "manual", run.Trigger)
	assert.Equal(t, 1, run.Checked)
	assert.Empty(t, run.Drifts)

	rec = s.do(http.MethodGet, "/api/reconciliation/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]ReconciliationRunDTO](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestAuditTrail_Filter(t *testing.T) {
	s := newTestServer(t)
	med := s.addMedication("Ibuprofen 400mg", 10, "")
	rec := s.do(http.MethodDelete, "/api/medications/"+med.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/api/audit?target_type=medication&action=delete", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	entries := decode[[]AuditEntryDTO](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "DELETE", entries[0].Action)
	assert.Equal(t, med.ID, entries[0].TargetID)
	assert.Equal(t, "tester", entries[0].User)

	rec = s.do(http.MethodGet, "/api/audit?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorLogs_Empty(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/admin/error-logs?limit=10", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]ErrorLogDTO](t, rec))
}

func TestImportCatalog_CSV(t *testing.T) {
	s := newTestServer(t)
	s.addMedication("Ibuprofen 400mg", 10, "")

	req := httptest.NewRequest(http.MethodPost, "/api/catalog/import",
		strings.NewReader("name,initial_balance,schedule\nIbuprofen 400mg,5,\nMorphine 10mg,20,controlled\n"))
	req.Header.Set("Content-Type", "text/csv")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[ImportResultDTO](t, rec)
	assert.Equal(t, []string{"Morphine 10mg"}, result.Added)
	assert.Equal(t, []string{"Ibuprofen 400mg"}, result.Skipped)
}

func TestImportCatalog_Invalid(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/catalog/import", `{"medications": [{"nme": "typo"}]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	s.handler.Health = func(context.Context) error { return errors.New("disk gone") }
	rec = s.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenarios_LoadAndReset(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]catalog.Scenario](t, rec), len(catalog.Scenarios()))

	rec = s.do(http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))

	// WHEN: Loading the expiry watch
	rec = s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "expiry-watch"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: It is current and its medications exist
	rec = s.do(http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "expiry-watch", decode[catalog.Scenario](t, rec).ID)

	rec = s.do(http.MethodGet, "/api/medications", nil)
	assert.Len(t, decode[[]MedicationDTO](t, rec), 6)

	// WHEN: Resetting
	rec = s.do(http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// THEN: Nothing is left
	rec = s.do(http.MethodGet, "/api/medications", nil)
	assert.Empty(t, decode[[]MedicationDTO](t, rec))
	rec = s.do(http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))
}

func TestLoadScenario_Unknown(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestWriteServiceError(t *testing.T) {
	h := NewHandler(nil, nil)

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"validation", &stock.ValidationError{Fields: map[string]string{"patient": "required"}}, http.StatusBadRequest},
		{"exists", stock.ErrMedicationExists, http.StatusConflict},
		{"insufficient", &stock.InsufficientStockError{Medication: "X", Available: 1, Requested: 2}, http.StatusConflict},
		{"replaced", stock.ErrMedicationReplaced, http.StatusConflict},
		{"not found", stock.ErrTransactionNotFound, http.StatusNotFound},
		{"invalid period", stock.ErrInvalidPeriod, http.StatusBadRequest},
		{"invalid catalog", catalog.ErrInvalidCatalog, http.StatusBadRequest},
		{"store unavailable", &stock.StoreError{Op: "append", Err: context.DeadlineExceeded}, http.StatusServiceUnavailable},
		{"lock", stock.ErrLockNotObtained, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.writeServiceError(rec, tt.err)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusServiceUnavailable {
				assert.Equal(t, "1", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestSheetName(t *testing.T) {
	used := map[string]bool{}

	assert.Equal(t, "Morphine 10-20mg", sheetName("Morphine 10/20mg", used))
	assert.Equal(t, "morphine 10-20mg (2)", sheetName("morphine 10/20mg", used))
	assert.Equal(t, "Sheet", sheetName("  ", used))

	long := sheetName(strings.Repeat("x", 40), used)
	assert.Len(t, long, 31)
	assert.Len(t, sheetName(strings.Repeat("x", 40), used), 31)
	assert.NotEqual(t, long, sheetName(strings.Repeat("x", 40), used))
}
