package pharmacy

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/stock"
)

// =============================================================================
// REQUESTS
// =============================================================================

// ReceiptDetails are the descriptive fields carried by a receipt. They
// replace the medication's current metadata.
type ReceiptDetails struct {
	Batch         string          `json:"batch"`
	Price         decimal.Decimal `json:"price"`
	ExpiryDate    string          `json:"expiry_date" validate:"omitempty,datetime=2006-01-02"`
	Schedule      string          `json:"schedule" validate:"omitempty,oneof=controlled not-controlled"`
	StockReceiver string          `json:"stock_receiver"`
	OrderNumber   string          `json:"order_number"`
	Supplier      string          `json:"supplier"`
	InvoiceNumber string          `json:"invoice_number"`
}

type ReceiveRequest struct {
	MedName  string `json:"med_name" validate:"required,max=200"`
	Quantity int64  `json:"quantity" validate:"gt=0"`
	ReceiptDetails
	User string `json:"user"`

	// RecordedAt backdates the entry (imports, demo data). Zero means now.
	RecordedAt *time.Time `json:"recorded_at,omitempty"`
}

type AddMedicationRequest struct {
	Name           string `json:"name" validate:"required,max=200"`
	InitialBalance int64  `json:"initial_balance" validate:"gte=0"`
	ReceiptDetails
	User       string     `json:"user"`
	RecordedAt *time.Time `json:"recorded_at,omitempty"`
}

type UpdateMedicationRequest struct {
	Name string `json:"name" validate:"required,max=200"`
	ReceiptDetails
	User string `json:"user"`
}

type DispenseLine struct {
	MedName  string `json:"med_name" validate:"required"`
	Quantity int64  `json:"quantity" validate:"gt=0"`
}

type DispenseRequest struct {
	Lines         []DispenseLine `json:"lines" validate:"required,min=1,dive"`
	Patient       string         `json:"patient" validate:"required"`
	Diagnoses     []string       `json:"diagnoses" validate:"required,min=1,max=3,dive,required"`
	Prescriber    string         `json:"prescriber"`
	Dispenser     string         `json:"dispenser"`
	Company       string         `json:"company"`
	Position      string         `json:"position"`
	AgeGroup      string         `json:"age_group"`
	Gender        string         `json:"gender"`
	SickLeaveDays int            `json:"sick_leave_days" validate:"gte=0"`
	Date          string         `json:"date" validate:"required,datetime=2006-01-02"`
	User          string         `json:"user"`

	// AllOrNothing rolls the whole dispense back when any line is rejected.
	AllOrNothing bool       `json:"all_or_nothing"`
	RecordedAt   *time.Time `json:"recorded_at,omitempty"`
}

func (r DispenseRequest) details() *stock.DispenseDetails {
	return &stock.DispenseDetails{
		Patient:       r.Patient,
		Diagnoses:     append([]string(nil), r.Diagnoses...),
		Prescriber:    r.Prescriber,
		Dispenser:     r.Dispenser,
		Company:       r.Company,
		Position:      r.Position,
		AgeGroup:      r.AgeGroup,
		Gender:        r.Gender,
		SickLeaveDays: r.SickLeaveDays,
		Date:          r.Date,
	}
}

func (r DispenseRequest) names() []string {
	names := make([]string, 0, len(r.Lines))
	for _, l := range r.Lines {
		names = append(names, strings.TrimSpace(l.MedName))
	}
	return names
}

// receive converts validated details into the ledger payload. ExpiryDate
// and Schedule have already passed validation.
func (d ReceiptDetails) receive() stock.ReceiveDetails {
	expiry, _ := parseOptionalDate(d.ExpiryDate)
	schedule, _ := stock.ParseSchedule(d.Schedule)
	if d.Schedule == "" {
		schedule = ""
	}
	return stock.ReceiveDetails{
		Batch:         strings.TrimSpace(d.Batch),
		Price:         d.Price.Round(2),
		ExpiryDate:    expiry,
		Schedule:      schedule,
		StockReceiver: d.StockReceiver,
		OrderNumber:   d.OrderNumber,
		Supplier:      d.Supplier,
		InvoiceNumber: d.InvoiceNumber,
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

func newValidator() *validator.Validate {
	v := validator.New()
	// Report JSON names so API clients see the fields they sent.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	})
	return v
}

// check runs struct validation and returns *stock.ValidationError.
func (s *Service) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	return &stock.ValidationError{Fields: ProcessValidationErrors(verrs)}
}

// ProcessValidationErrors maps each failed field to the rule it broke.
func ProcessValidationErrors(verrs validator.ValidationErrors) map[string]string {
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fieldPath(fe)] = fe.Tag()
	}
	return fields
}

// fieldPath drops the top-level struct name and embedded structs:
// "DispenseRequest.lines[0].quantity" becomes "lines[0].quantity".
func fieldPath(fe validator.FieldError) string {
	ns := strings.ReplaceAll(fe.Namespace(), "ReceiptDetails.", "")
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func checkPrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return &stock.ValidationError{Fields: map[string]string{"price": "gte"}}
	}
	return nil
}

func parseOptionalDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return stock.ParseDate(s)
}
