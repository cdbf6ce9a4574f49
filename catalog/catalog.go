/*
Package catalog converts medication catalogs into opening stock.

PURPOSE:
  A clinic starting on the ledger already has stock on its shelves. The
  catalog lists it once, in JSON or CSV, and the importer turns every row
  into an add-medication request so the opening balance lands in the ledger
  as a receive entry like any other.

JSON SCHEMA:
  {
    "medications": [
      {
        "name": "Paracetamol 500mg",
        "initial_balance": 100,
        "batch": "PCM-2401",
        "price": 0.15,
        "expiry_date": "2026-06-30",
        "schedule": "not-controlled",
        "supplier": "MedSupply Ltd"
      }
    ]
  }

CSV / XLSX:
  Same fields as columns, header row first. Column order is free and
  header names are matched case-insensitively; unknown columns are
  ignored. Only "name" is required. Workbooks are read from their first
  sheet.

    name,initial_balance,batch,price,expiry_date,schedule,supplier
    Paracetamol 500mg,100,PCM-2401,0.15,2026-06-30,,MedSupply Ltd

IMPORT:
  Rows are imported in order. A name that already exists is skipped and
  reported; an invalid row is reported with its reason; a store failure
  stops the import and is returned, leaving earlier rows imported.

SEE ALSO:
  - pharmacy/medications.go: AddMedication
  - catalog/scenarios.go: Demo datasets built from catalogs
*/
package catalog

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/pharmacy"
	"github.com/warp/stock-ledger/stock"
	"github.com/xuri/excelize/v2"
)

// ErrInvalidCatalog is returned when a catalog cannot be parsed.
var ErrInvalidCatalog = errors.New("invalid catalog")

// =============================================================================
// CATALOG TYPES
// =============================================================================

// MedicationJSON is one catalog row.
type MedicationJSON struct {
	Name           string          `json:"name"`
	InitialBalance int64           `json:"initial_balance"`
	Batch          string          `json:"batch,omitempty"`
	Price          decimal.Decimal `json:"price"`
	ExpiryDate     string          `json:"expiry_date,omitempty"`
	Schedule       string          `json:"schedule,omitempty"`
	StockReceiver  string          `json:"stock_receiver,omitempty"`
	OrderNumber    string          `json:"order_number,omitempty"`
	Supplier       string          `json:"supplier,omitempty"`
	InvoiceNumber  string          `json:"invoice_number,omitempty"`
}

type Catalog struct {
	Medications []MedicationJSON `json:"medications"`
}

// Request converts the row into an add-medication request.
func (m MedicationJSON) Request(user string, recordedAt *time.Time) pharmacy.AddMedicationRequest {
	return pharmacy.AddMedicationRequest{
		Name:           m.Name,
		InitialBalance: m.InitialBalance,
		ReceiptDetails: pharmacy.ReceiptDetails{
			Batch:         m.Batch,
			Price:         m.Price,
			ExpiryDate:    m.ExpiryDate,
			Schedule:      normalizeSchedule(m.Schedule),
			StockReceiver: m.StockReceiver,
			OrderNumber:   m.OrderNumber,
			Supplier:      m.Supplier,
			InvoiceNumber: m.InvoiceNumber,
		},
		User:       user,
		RecordedAt: recordedAt,
	}
}

// normalizeSchedule maps the spellings seen in spreadsheets onto the two
// accepted values. Anything unrecognized is passed through for validation
// to reject.
func normalizeSchedule(s string) string {
	s = strings.TrimSpace(s)
	schedule, ok := stock.ParseSchedule(s)
	if !ok {
		return s
	}
	if s == "" {
		return ""
	}
	return string(schedule)
}

// =============================================================================
// PARSING
// =============================================================================

// ParseJSON reads a {"medications": [...]} document.
func ParseJSON(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return &c, nil
}

// ParseCSV reads a catalog with a header row.
func ParseCSV(r io.Reader) (*Catalog, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return fromRows(rows)
}

// ParseXLSX reads the first sheet of a workbook, header row first.
func ParseXLSX(r io.Reader) (*Catalog, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheet", ErrInvalidCatalog)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return fromRows(rows)
}

func fromRows(rows [][]string) (*Catalog, error) {
	c := &Catalog{Medications: []MedicationJSON{}}
	if len(rows) == 0 {
		return c, nil
	}

	cols := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	if _, ok := cols["name"]; !ok {
		return nil, fmt.Errorf("%w: missing name column", ErrInvalidCatalog)
	}

	for n, record := range rows[1:] {
		line := n + 2
		get := func(col string) string {
			i, ok := cols[col]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		name := get("name")
		if name == "" {
			continue
		}
		med := MedicationJSON{
			Name:          name,
			Batch:         get("batch"),
			ExpiryDate:    get("expiry_date"),
			Schedule:      get("schedule"),
			StockReceiver: get("stock_receiver"),
			OrderNumber:   get("order_number"),
			Supplier:      get("supplier"),
			InvoiceNumber: get("invoice_number"),
		}
		var err error
		if v := get("initial_balance"); v != "" {
			med.InitialBalance, err = strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: initial_balance %q", ErrInvalidCatalog, line, v)
			}
		}
		if v := get("price"); v != "" {
			med.Price, err = decimal.NewFromString(v)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: price %q", ErrInvalidCatalog, line, v)
			}
		}
		c.Medications = append(c.Medications, med)
	}
	return c, nil
}

// ContentTypeXLSX is the media type of an Excel workbook.
const ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Parse picks the parser from a content type. Anything that isn't CSV or
// a workbook is read as JSON.
func Parse(contentType string, r io.Reader) (*Catalog, error) {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "csv"):
		return ParseCSV(r)
	case strings.HasPrefix(ct, ContentTypeXLSX):
		return ParseXLSX(r)
	default:
		return ParseJSON(r)
	}
}

// =============================================================================
// IMPORT
// =============================================================================

// MedicationAdder is the part of the service an import needs.
type MedicationAdder interface {
	AddMedication(ctx context.Context, req pharmacy.AddMedicationRequest) (*stock.Medication, error)
}

type ImportFailure struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

type ImportResult struct {
	Added   []string        `json:"added"`
	Skipped []string        `json:"skipped"`
	Failed  []ImportFailure `json:"failed"`
}

// Import adds every catalog row. The returned error is only set for
// failures that are not the row's fault.
func Import(ctx context.Context, svc MedicationAdder, c *Catalog, user string, recordedAt *time.Time) (*ImportResult, error) {
	result := &ImportResult{
		Added:   []string{},
		Skipped: []string{},
		Failed:  []ImportFailure{},
	}
	for _, row := range c.Medications {
		_, err := svc.AddMedication(ctx, row.Request(user, recordedAt))
		switch {
		case err == nil:
			result.Added = append(result.Added, row.Name)
		case errors.Is(err, stock.ErrMedicationExists):
			result.Skipped = append(result.Skipped, row.Name)
		case stock.IsClientError(err):
			result.Failed = append(result.Failed, ImportFailure{Name: row.Name, Reason: err.Error()})
		default:
			return result, err
		}
	}
	return result, nil
}
