package api

import (
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/warp/stock-ledger/pharmacy"
	"github.com/warp/stock-ledger/stock"
	"github.com/xuri/excelize/v2"
)

// =============================================================================
// XLSX EXPORT
// =============================================================================

const contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// sheet is one worksheet: a bold header row followed by data rows.
type sheet struct {
	name    string
	headers []string
	rows    [][]any
}

func wantsXLSX(r *http.Request) bool {
	return strings.EqualFold(r.URL.Query().Get("format"), "xlsx")
}

func (h *Handler) writeXLSX(w http.ResponseWriter, filename string, sheets ...sheet) {
	f, err := buildWorkbook(sheets)
	if err != nil {
		h.Logger.WithError(err).Error("building workbook")
		writeError(w, http.StatusInternalServerError, "Failed to build workbook", nil)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", contentTypeXLSX)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := f.Write(w); err != nil {
		h.Logger.WithError(err).Warn("writing workbook")
	}
}

func buildWorkbook(sheets []sheet) (*excelize.File, error) {
	f := excelize.NewFile()
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, err
	}

	used := map[string]bool{}
	for i, s := range sheets {
		name := sheetName(s.name, used)
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				f.Close()
				return nil, err
			}
		} else if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, err
		}

		header := make([]any, len(s.headers))
		for j, h := range s.headers {
			header[j] = h
		}
		if err := f.SetSheetRow(name, "A1", &header); err != nil {
			f.Close()
			return nil, err
		}
		if len(s.headers) > 0 {
			last, _ := excelize.CoordinatesToCellName(len(s.headers), 1)
			if err := f.SetCellStyle(name, "A1", last, bold); err != nil {
				f.Close()
				return nil, err
			}
		}

		for r, row := range s.rows {
			cell, _ := excelize.CoordinatesToCellName(1, r+2)
			row := row
			if err := f.SetSheetRow(name, cell, &row); err != nil {
				f.Close()
				return nil, err
			}
		}
	}
	return f, nil
}

// sheetName makes a valid worksheet name: at most 31 characters, none of
// : \ / ? * [ ], and not already in used (compared case-insensitively).
func sheetName(name string, used map[string]bool) string {
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`:\/?*[]`, r) {
			return '-'
		}
		return r
	}, strings.TrimSpace(name))
	if name == "" {
		name = "Sheet"
	}

	candidate := truncate(name, 31)
	for n := 2; used[strings.ToLower(candidate)]; n++ {
		suffix := fmt.Sprintf(" (%d)", n)
		candidate = truncate(name, 31-len(suffix)) + suffix
	}
	used[strings.ToLower(candidate)] = true
	return candidate
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// =============================================================================
// REPORT SHEETS
// =============================================================================

func stockSheet(rows []stock.SnapshotRow) sheet {
	s := sheet{
		name:    "Stock",
		headers: []string{"Medication", "Balance", "Status", "Batch", "Expiry Date", "Schedule", "Price", "Supplier"},
	}
	for _, r := range rows {
		m := r.Medication
		s.rows = append(s.rows, []any{
			m.Name, r.Balance, string(r.Status), m.Batch, stock.FormatDate(m.ExpiryDate),
			string(m.Schedule), m.Price.StringFixed(2), m.Supplier,
		})
	}
	return s
}

func inventorySheet(rows []pharmacy.InventoryRow) sheet {
	s := sheet{
		name: "Inventory",
		headers: []string{
			"Medication", "Beginning Balance", "Received", "Dispensed", "Current Balance",
			"Average Monthly Use", "Amount To Order",
		},
	}
	for _, r := range rows {
		s.rows = append(s.rows, []any{
			r.Medication.Name, r.BeginningBalance, r.Received, r.Dispensed, r.CurrentBalance,
			r.Forecast.AverageMonthlyUse.StringFixed(2), r.Forecast.AmountToOrder.String(),
		})
	}
	return s
}

// registerSheets gives each controlled medication its own worksheet.
func registerSheets(entries []stock.RegisterEntry) []sheet {
	if len(entries) == 0 {
		return []sheet{{name: "Register", headers: registerHeaders}}
	}
	sheets := make([]sheet, 0, len(entries))
	for _, e := range entries {
		s := sheet{name: e.Medication.Name, headers: registerHeaders}
		s.rows = append(s.rows, []any{"", "Beginning balance", "", "", "", "", "", e.BeginningBalance})
		for _, row := range e.Rows {
			tx := row.Transaction
			var in, out any
			var party, ref string
			switch tx.Type {
			case stock.TxReceive:
				in = tx.Quantity
				if tx.Receive != nil {
					party, ref = tx.Receive.Supplier, tx.Receive.OrderNumber
				}
			case stock.TxDispense:
				out = tx.Quantity
				if tx.Dispense != nil {
					party, ref = tx.Dispense.Patient, tx.Dispense.Prescriber
				}
			}
			s.rows = append(s.rows, []any{
				stock.FormatDate(tx.Timestamp), string(tx.Type), party, ref, in, out, tx.User, row.BalanceAfter,
			})
		}
		s.rows = append(s.rows, []any{"", "Ending balance", "", "", e.Received, e.Dispensed, "", e.EndingBalance})
		sheets = append(sheets, s)
	}
	return sheets
}

var registerHeaders = []string{"Date", "Type", "Patient / Supplier", "Prescriber / Order", "In", "Out", "User", "Balance"}

func dispenseSheet(txs []stock.Transaction) sheet {
	s := sheet{
		name: "Dispenses",
		headers: []string{
			"Date", "Transaction", "Medication", "Quantity", "Patient", "Diagnosis", "Prescriber",
			"Dispenser", "Company", "Position", "Age Group", "Gender", "Sick Leave Days", "User",
		},
	}
	for _, tx := range txs {
		d := tx.Dispense
		if d == nil {
			d = &stock.DispenseDetails{}
		}
		s.rows = append(s.rows, []any{
			stock.FormatDate(tx.Timestamp), string(tx.TransactionID), tx.MedName, tx.Quantity,
			d.Patient, strings.Join(d.Diagnoses, "; "), d.Prescriber, d.Dispenser, d.Company,
			d.Position, d.AgeGroup, d.Gender, d.SickLeaveDays, tx.User,
		})
	}
	return s
}

func receiptSheet(txs []stock.Transaction) sheet {
	s := sheet{
		name: "Receipts",
		headers: []string{
			"Date", "Transaction", "Medication", "Quantity", "Batch", "Price", "Expiry Date",
			"Supplier", "Order Number", "Invoice Number", "Stock Receiver", "User",
		},
	}
	for _, tx := range txs {
		r := tx.Receive
		if r == nil {
			r = &stock.ReceiveDetails{}
		}
		s.rows = append(s.rows, []any{
			stock.FormatDate(tx.Timestamp), string(tx.TransactionID), tx.MedName, tx.Quantity,
			r.Batch, r.Price.StringFixed(2), stock.FormatDate(r.ExpiryDate), r.Supplier,
			r.OrderNumber, r.InvoiceNumber, r.StockReceiver, tx.User,
		})
	}
	return s
}
