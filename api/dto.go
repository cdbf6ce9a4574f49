/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model (stock, pharmacy) from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients. Most write bodies are the
    pharmacy request types themselves, validated by the service.

DATES:
  Calendar dates are YYYY-MM-DD. Instants are RFC 3339 in UTC.

SEE ALSO:
  - handlers.go: Uses these types
  - pharmacy/requests.go: Write request bodies and their validation tags
*/
package api

import (
	"time"

	"github.com/warp/stock-ledger/catalog"
	"github.com/warp/stock-ledger/pharmacy"
	"github.com/warp/stock-ledger/stock"
)

// =============================================================================
// MEDICATIONS
// =============================================================================

type MedicationDTO struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Balance       int64  `json:"balance"`
	Batch         string `json:"batch"`
	Price         string `json:"price"`
	ExpiryDate    string `json:"expiry_date"`
	Schedule      string `json:"schedule"`
	StockReceiver string `json:"stock_receiver"`
	OrderNumber   string `json:"order_number"`
	Supplier      string `json:"supplier"`
	InvoiceNumber string `json:"invoice_number"`
	CreatedAt     string `json:"created_at,omitempty"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

func toMedicationDTO(m stock.Medication) MedicationDTO {
	return MedicationDTO{
		ID:            string(m.ID),
		Name:          m.Name,
		Balance:       m.Balance,
		Batch:         m.Batch,
		Price:         m.Price.StringFixed(2),
		ExpiryDate:    stock.FormatDate(m.ExpiryDate),
		Schedule:      string(m.Schedule),
		StockReceiver: m.StockReceiver,
		OrderNumber:   m.OrderNumber,
		Supplier:      m.Supplier,
		InvoiceNumber: m.InvoiceNumber,
		CreatedAt:     formatInstant(m.CreatedAt),
		UpdatedAt:     formatInstant(m.UpdatedAt),
	}
}

func toMedicationDTOs(meds []stock.Medication) []MedicationDTO {
	out := make([]MedicationDTO, len(meds))
	for i, m := range meds {
		out[i] = toMedicationDTO(m)
	}
	return out
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type ReceiveDetailsDTO struct {
	Batch         string `json:"batch"`
	Price         string `json:"price"`
	ExpiryDate    string `json:"expiry_date"`
	Schedule      string `json:"schedule,omitempty"`
	StockReceiver string `json:"stock_receiver"`
	OrderNumber   string `json:"order_number"`
	Supplier      string `json:"supplier"`
	InvoiceNumber string `json:"invoice_number"`
}

type DispenseDetailsDTO struct {
	Patient       string   `json:"patient"`
	Diagnoses     []string `json:"diagnoses"`
	Prescriber    string   `json:"prescriber"`
	Dispenser     string   `json:"dispenser"`
	Company       string   `json:"company"`
	Position      string   `json:"position"`
	AgeGroup      string   `json:"age_group"`
	Gender        string   `json:"gender"`
	SickLeaveDays int      `json:"sick_leave_days"`
	Date          string   `json:"date"`
}

// TransactionDTO is one ledger row.
type TransactionDTO struct {
	ID            string              `json:"id"`
	TransactionID string              `json:"transaction_id"`
	Type          string              `json:"type"`
	MedicationID  string              `json:"medication_id"`
	MedName       string              `json:"med_name"`
	Quantity      int64               `json:"quantity"`
	Timestamp     string              `json:"timestamp"`
	Status        string              `json:"status"`
	Revision      int                 `json:"revision"`
	RetiredAt     string              `json:"retired_at,omitempty"`
	User          string              `json:"user"`
	Receive       *ReceiveDetailsDTO  `json:"receive,omitempty"`
	Dispense      *DispenseDetailsDTO `json:"dispense,omitempty"`

	// BalanceAfter is only set in the controlled register.
	BalanceAfter *int64 `json:"balance_after,omitempty"`
}

func toTransactionDTO(tx stock.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:            string(tx.ID),
		TransactionID: string(tx.TransactionID),
		Type:          string(tx.Type),
		MedicationID:  string(tx.MedicationID),
		MedName:       tx.MedName,
		Quantity:      tx.Quantity,
		Timestamp:     formatInstant(tx.Timestamp),
		Status:        string(tx.Status),
		Revision:      tx.Revision,
		User:          tx.User,
	}
	if tx.RetiredAt != nil {
		dto.RetiredAt = formatInstant(*tx.RetiredAt)
	}
	if r := tx.Receive; r != nil {
		dto.Receive = &ReceiveDetailsDTO{
			Batch:         r.Batch,
			Price:         r.Price.StringFixed(2),
			ExpiryDate:    stock.FormatDate(r.ExpiryDate),
			Schedule:      string(r.Schedule),
			StockReceiver: r.StockReceiver,
			OrderNumber:   r.OrderNumber,
			Supplier:      r.Supplier,
			InvoiceNumber: r.InvoiceNumber,
		}
	}
	if d := tx.Dispense; d != nil {
		dto.Dispense = &DispenseDetailsDTO{
			Patient:       d.Patient,
			Diagnoses:     d.Diagnoses,
			Prescriber:    d.Prescriber,
			Dispenser:     d.Dispenser,
			Company:       d.Company,
			Position:      d.Position,
			AgeGroup:      d.AgeGroup,
			Gender:        d.Gender,
			SickLeaveDays: d.SickLeaveDays,
			Date:          d.Date,
		}
	}
	return dto
}

func toTransactionDTOs(txs []stock.Transaction) []TransactionDTO {
	out := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		out[i] = toTransactionDTO(tx)
	}
	return out
}

// =============================================================================
// WRITE RESULTS
// =============================================================================

type ReceiveResultDTO struct {
	TransactionID string        `json:"transaction_id"`
	EntryID       string        `json:"entry_id"`
	Medication    MedicationDTO `json:"medication"`
}

type DispenseResultDTO struct {
	TransactionID string                   `json:"transaction_id"`
	Revision      int                      `json:"revision"`
	Committed     []string                 `json:"committed"`
	Rejected      []pharmacy.LineRejection `json:"rejected"`
	RolledBack    bool                     `json:"rolled_back"`
}

func toDispenseResultDTO(r *pharmacy.DispenseResult) DispenseResultDTO {
	return DispenseResultDTO{
		TransactionID: string(r.TransactionID),
		Revision:      r.Revision,
		Committed:     r.Committed,
		Rejected:      r.Rejected,
		RolledBack:    r.RolledBack,
	}
}

// =============================================================================
// REPORTS
// =============================================================================

type SnapshotRowDTO struct {
	Medication MedicationDTO `json:"medication"`
	Balance    int64         `json:"balance"`
	Status     string        `json:"status"`
}

type ForecastDTO struct {
	DaysInPeriod      int            `json:"days_in_period"`
	AverageDailyUsage string         `json:"average_daily_usage"`
	AverageMonthlyUse string         `json:"average_monthly_use"`
	LeadTimeBuffer    string         `json:"lead_time_buffer"`
	AmountToOrder     stock.Quantity `json:"amount_to_order"`
}

type InventoryRowDTO struct {
	Medication       MedicationDTO  `json:"medication"`
	BeginningBalance int64          `json:"beginning_balance"`
	Received         int64          `json:"received"`
	Dispensed        int64          `json:"dispensed"`
	CurrentBalance   int64          `json:"current_balance"`
	AmountToOrder    stock.Quantity `json:"amount_to_order"`
	Forecast         ForecastDTO    `json:"forecast"`
}

func toForecastDTO(f stock.ReorderForecast) ForecastDTO {
	return ForecastDTO{
		DaysInPeriod:      f.DaysInPeriod,
		AverageDailyUsage: f.AverageDailyUsage.StringFixed(2),
		AverageMonthlyUse: f.AverageMonthlyUse.StringFixed(2),
		LeadTimeBuffer:    f.LeadTimeBuffer.StringFixed(2),
		AmountToOrder:     f.AmountToOrder,
	}
}

type RegisterEntryDTO struct {
	Medication       MedicationDTO    `json:"medication"`
	BeginningBalance int64            `json:"beginning_balance"`
	Received         int64            `json:"received"`
	Dispensed        int64            `json:"dispensed"`
	EndingBalance    int64            `json:"ending_balance"`
	Rows             []TransactionDTO `json:"rows"`
}

func toRegisterEntryDTO(e stock.RegisterEntry) RegisterEntryDTO {
	rows := make([]TransactionDTO, len(e.Rows))
	for i, r := range e.Rows {
		rows[i] = toTransactionDTO(r.Transaction)
		balance := r.BalanceAfter
		rows[i].BalanceAfter = &balance
	}
	return RegisterEntryDTO{
		Medication:       toMedicationDTO(e.Medication),
		BeginningBalance: e.BeginningBalance,
		Received:         e.Received,
		Dispensed:        e.Dispensed,
		EndingBalance:    e.EndingBalance,
		Rows:             rows,
	}
}

// =============================================================================
// RECONCILIATION / AUDIT / ERROR LOG
// =============================================================================

type DriftDTO struct {
	MedicationID string `json:"medication_id"`
	MedName      string `json:"med_name"`
	Projected    int64  `json:"projected"`
	Ledger       int64  `json:"ledger"`
	Difference   int64  `json:"difference"`
}

type ReconciliationRunDTO struct {
	ID          string     `json:"id"`
	Trigger     string     `json:"trigger"`
	Status      string     `json:"status"`
	Checked     int        `json:"checked"`
	Drifts      []DriftDTO `json:"drifts"`
	Error       string     `json:"error,omitempty"`
	StartedAt   string     `json:"started_at"`
	CompletedAt string     `json:"completed_at"`
}

func toReconciliationRunDTO(run stock.ReconciliationRun) ReconciliationRunDTO {
	drifts := make([]DriftDTO, len(run.Drifts))
	for i, d := range run.Drifts {
		drifts[i] = DriftDTO{
			MedicationID: string(d.Medication.ID),
			MedName:      d.Medication.Name,
			Projected:    d.Projected,
			Ledger:       d.Ledger,
			Difference:   d.Difference(),
		}
	}
	return ReconciliationRunDTO{
		ID:          run.ID,
		Trigger:     run.Trigger,
		Status:      run.Status,
		Checked:     run.Checked,
		Drifts:      drifts,
		Error:       run.Error,
		StartedAt:   formatInstant(run.StartedAt),
		CompletedAt: formatInstant(run.CompletedAt),
	}
}

type AuditEntryDTO struct {
	ID         string         `json:"id"`
	Timestamp  string         `json:"timestamp"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Changes    map[string]any `json:"changes"`
	User       string         `json:"user"`
}

type ErrorLogDTO struct {
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields"`
}

// =============================================================================
// CATALOG / SCENARIOS
// =============================================================================

type ImportResultDTO = catalog.ImportResult

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func formatInstant(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
