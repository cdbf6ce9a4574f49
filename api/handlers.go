/*
handlers.go - HTTP API handlers for the stock ledger

PURPOSE:
  Exposes the pharmacy service via REST API. Handles HTTP request/response
  and JSON serialization, and delegates everything else to pharmacy.Service.

ENDPOINTS:
  Medications:
    GET    /api/medications            List, or name suggestions with ?query=
    POST   /api/medications            Add with opening balance
    GET    /api/medications/{id}       Get one
    PUT    /api/medications/{id}       Update metadata (never the balance)
    DELETE /api/medications/{id}       Delete (ledger rows stay)

  Stock movements:
    POST   /api/receipts               Record a receipt
    POST   /api/dispenses              Record a dispense (up to 12 lines)
    GET    /api/dispenses/{id}         Every revision of a dispense
    PUT    /api/dispenses/{id}         Edit a dispense
    DELETE /api/dispenses/{id}         Delete a dispense

  Reports (all accept ?format=xlsx):
    GET    /api/reports/stock          Balances and status as of a date
    GET    /api/reports/inventory      Period movements and reorder amount
    GET    /api/reports/controlled     Controlled-substance register
    GET    /api/reports/dispenses      Dispense list
    GET    /api/reports/receipts       Receipt list

  Admin:
    GET    /api/reconciliation         Run a drift check now
    GET    /api/reconciliation/runs    Past drift checks
    GET    /api/audit                  Audit trail
    GET    /api/admin/error-logs       Persisted error log
    POST   /api/catalog/import         Opening stock from JSON, CSV or XLSX

REQUEST FLOW:
  1. Parse HTTP request
  2. Call the service (it validates and locks)
  3. Serialize response
  4. Map errors to a status

ERROR HANDLING:
  Errors are returned as ErrorResponse JSON:
  - 400: Validation errors, invalid input
  - 404: Medication or transaction not found
  - 409: Medication name already taken, insufficient stock, medication
         replaced since the dispense being edited
  - 503: Store unavailable or lock not obtained (Retry-After set)
  - 500: Internal errors

USER:
  The acting user is taken from the X-User header when the body has none.
  There is no authentication; the header is trusted.

SEE ALSO:
  - dto.go: Response data structures
  - export.go: XLSX rendering of reports
  - scenarios.go: Demo scenario handlers
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/warp/stock-ledger/catalog"
	"github.com/warp/stock-ledger/pharmacy"
	"github.com/warp/stock-ledger/stock"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *pharmacy.Service
	Logger  logrus.FieldLogger

	// Health reports whether the store is reachable. Optional.
	Health func(ctx context.Context) error

	// Now anchors scenario dates. Defaults to stock.Now.
	Now func() time.Time

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler around the service.
func NewHandler(svc *pharmacy.Service, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}
	return &Handler{
		Service: svc,
		Logger:  logger,
		Now:     stock.Now,
	}
}

// =============================================================================
// MEDICATION HANDLERS
// =============================================================================

// ListMedications returns every medication, or name suggestions when
// ?query= is set.
func (h *Handler) ListMedications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if query, ok := r.URL.Query()["query"]; ok {
		limit, err := intParam(r, "limit", 10)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		names, err := h.Service.SuggestMedicationNames(ctx, strings.Join(query, ""), limit)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, names)
		return
	}

	meds, err := h.Service.ListMedications(ctx)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMedicationDTOs(meds))
}

func (h *Handler) CreateMedication(w http.ResponseWriter, r *http.Request) {
	var req pharmacy.AddMedicationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.User = userFrom(r, req.User)

	med, err := h.Service.AddMedication(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMedicationDTO(*med))
}

func (h *Handler) GetMedication(w http.ResponseWriter, r *http.Request) {
	id := stock.MedicationID(chi.URLParam(r, "id"))

	med, err := h.Service.GetMedication(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMedicationDTO(*med))
}

func (h *Handler) UpdateMedication(w http.ResponseWriter, r *http.Request) {
	id := stock.MedicationID(chi.URLParam(r, "id"))

	var req pharmacy.UpdateMedicationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.User = userFrom(r, req.User)

	med, err := h.Service.UpdateMedication(r.Context(), id, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMedicationDTO(*med))
}

func (h *Handler) DeleteMedication(w http.ResponseWriter, r *http.Request) {
	id := stock.MedicationID(chi.URLParam(r, "id"))

	if err := h.Service.DeleteMedication(r.Context(), id, userFrom(r, "")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// RECEIPT / DISPENSE HANDLERS
// =============================================================================

func (h *Handler) CreateReceipt(w http.ResponseWriter, r *http.Request) {
	var req pharmacy.ReceiveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.User = userFrom(r, req.User)

	res, err := h.Service.RecordReceive(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ReceiveResultDTO{
		TransactionID: string(res.TransactionID),
		EntryID:       string(res.EntryID),
		Medication:    toMedicationDTO(res.Medication),
	})
}

// CreateDispense records a dispense. Rejected lines are reported in the
// body; 201 means at least one line was committed, 200 that none was.
func (h *Handler) CreateDispense(w http.ResponseWriter, r *http.Request) {
	var req pharmacy.DispenseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.User = userFrom(r, req.User)

	res, err := h.Service.RecordDispense(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	status := http.StatusCreated
	if len(res.Committed) == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, toDispenseResultDTO(res))
}

// GetDispense returns every row ever written under the transaction id,
// superseded and voided revisions included.
func (h *Handler) GetDispense(w http.ResponseWriter, r *http.Request) {
	id := stock.TransactionID(chi.URLParam(r, "id"))

	txs, err := h.Service.TransactionHistory(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

func (h *Handler) EditDispense(w http.ResponseWriter, r *http.Request) {
	id := stock.TransactionID(chi.URLParam(r, "id"))

	var req pharmacy.DispenseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.User = userFrom(r, req.User)

	res, err := h.Service.EditDispense(r.Context(), id, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDispenseResultDTO(res))
}

func (h *Handler) DeleteDispense(w http.ResponseWriter, r *http.Request) {
	id := stock.TransactionID(chi.URLParam(r, "id"))

	if err := h.Service.DeleteDispense(r.Context(), id, userFrom(r, "")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

func (h *Handler) StockReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days, err := intParam(r, "close_to_expire_days", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid close_to_expire_days", err)
		return
	}
	var statuses []stock.StockStatus
	for _, s := range splitParam(q.Get("status")) {
		statuses = append(statuses, stock.StockStatus(s))
	}

	rows, err := h.Service.StockSnapshot(r.Context(), pharmacy.SnapshotQuery{
		AsOf:              q.Get("as_of"),
		Name:              q.Get("name"),
		Statuses:          statuses,
		CloseToExpireDays: days,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if wantsXLSX(r) {
		h.writeXLSX(w, "stock-snapshot.xlsx", stockSheet(rows))
		return
	}
	dtos := make([]SnapshotRowDTO, len(rows))
	for i, row := range rows {
		dtos[i] = SnapshotRowDTO{
			Medication: toMedicationDTO(row.Medication),
			Balance:    row.Balance,
			Status:     string(row.Status),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) InventoryReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	rows, err := h.Service.InventoryReport(r.Context(), q.Get("start"), q.Get("end"), q.Get("name"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if wantsXLSX(r) {
		h.writeXLSX(w, "inventory.xlsx", inventorySheet(rows))
		return
	}
	dtos := make([]InventoryRowDTO, len(rows))
	for i, row := range rows {
		dtos[i] = InventoryRowDTO{
			Medication:       toMedicationDTO(row.Medication),
			BeginningBalance: row.BeginningBalance,
			Received:         row.Received,
			Dispensed:        row.Dispensed,
			CurrentBalance:   row.CurrentBalance,
			AmountToOrder:    row.Forecast.AmountToOrder,
			Forecast:         toForecastDTO(row.Forecast),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ControlledReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	entries, err := h.Service.ControlledRegister(r.Context(), q.Get("start"), q.Get("end"), q.Get("search"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if wantsXLSX(r) {
		h.writeXLSX(w, "controlled-register.xlsx", registerSheets(entries)...)
		return
	}
	dtos := make([]RegisterEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toRegisterEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) DispenseReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	txs, err := h.Service.DispenseList(r.Context(), q.Get("start"), q.Get("end"), q.Get("search"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if wantsXLSX(r) {
		h.writeXLSX(w, "dispenses.xlsx", dispenseSheet(txs))
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

func (h *Handler) ReceiptReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	txs, err := h.Service.ReceiveList(r.Context(), q.Get("start"), q.Get("end"), q.Get("search"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if wantsXLSX(r) {
		h.writeXLSX(w, "receipts.xlsx", receiptSheet(txs))
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// Reconcile replays the ledger now and reports any drift.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	run, err := h.Service.Reconcile(r.Context(), "manual")
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationRunDTO(run))
}

func (h *Handler) ListReconciliationRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	runs, err := h.Service.ReconciliationRuns(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	dtos := make([]ReconciliationRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toReconciliationRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := stock.AuditFilter{
		TargetType: q.Get("target_type"),
		TargetID:   q.Get("target_id"),
	}
	for _, a := range splitParam(q.Get("action")) {
		filter.Actions = append(filter.Actions, stock.AuditAction(strings.ToUpper(a)))
	}
	var err error
	if filter.From, err = instantParam(q.Get("from"), false); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from", err)
		return
	}
	if filter.To, err = instantParam(q.Get("to"), true); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to", err)
		return
	}
	if filter.Limit, err = intParam(r, "limit", 200); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	entries, err := h.Service.AuditTrail(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = AuditEntryDTO{
			ID:         e.ID,
			Timestamp:  formatInstant(e.Timestamp),
			Action:     string(e.Action),
			TargetType: e.TargetType,
			TargetID:   e.TargetID,
			Changes:    e.Changes,
			User:       e.User,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ErrorLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	logs, err := h.Service.ErrorLogs(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	dtos := make([]ErrorLogDTO, len(logs))
	for i, l := range logs {
		dtos[i] = ErrorLogDTO{
			ID:        l.ID,
			Timestamp: formatInstant(l.Timestamp),
			Level:     l.Level,
			Message:   l.Message,
			Fields:    l.Fields,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ImportCatalog adds the medications of a JSON, CSV or XLSX catalog.
// Existing names are skipped and reported.
func (h *Handler) ImportCatalog(w http.ResponseWriter, r *http.Request) {
	c, err := catalog.Parse(r.Header.Get("Content-Type"), r.Body)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	result, err := catalog.Import(r.Context(), h.Service, c, userFrom(r, ""), nil)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps a service error onto a status code.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var verr *stock.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "Validation failed",
			Fields: verr.Fields,
		})
	case errors.Is(err, stock.ErrMedicationExists):
		writeError(w, http.StatusConflict, "Medication already exists", err)
	case errors.Is(err, stock.ErrInsufficientStock):
		writeError(w, http.StatusConflict, "Insufficient stock", err)
	case errors.Is(err, stock.ErrMedicationReplaced):
		writeError(w, http.StatusConflict, "Medication replaced since the dispense", err)
	case stock.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case stock.IsClientError(err),
		errors.Is(err, catalog.ErrInvalidCatalog),
		errors.Is(err, catalog.ErrUnknownScenario):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	case stock.IsRetryable(err):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "Temporarily unavailable, retry", err)
	default:
		h.Logger.WithError(err).Error("unhandled service error")
		writeError(w, http.StatusInternalServerError, "Internal error", nil)
	}
}

// decodeBody decodes a JSON body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func userFrom(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return r.Header.Get("X-User")
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func splitParam(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// instantParam accepts RFC 3339 or a calendar date. A date bound covers the
// whole day.
func instantParam(v string, endOfDay bool) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		t = t.UTC()
		return &t, nil
	}
	d, err := stock.ParseDate(v)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		d = stock.EndOfDay(d)
	}
	return &d, nil
}
