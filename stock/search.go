package stock

import (
	"strings"
	"unicode/utf8"
)

// =============================================================================
// FREE-TEXT MATCHING
// =============================================================================

// MatchesText reports whether query is a case-insensitive substring of any
// field. An empty query matches everything.
func MatchesText(query string, fields ...string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	for _, f := range fields {
		if f != "" && strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

// HasPrefixFold is a case-insensitive prefix match.
func HasPrefixFold(s, prefix string) bool {
	for _, pr := range prefix {
		sr, size := utf8.DecodeRuneInString(s)
		if size == 0 {
			return false
		}
		if sr != pr && !strings.EqualFold(string(sr), string(pr)) {
			return false
		}
		s = s[size:]
	}
	return true
}

// ListSearchFields are the fields searched by dispense/receive lists:
// patient, medication, company, position, prescriber, dispenser, supplier,
// order/invoice number, batch and the first diagnosis.
func ListSearchFields(tx Transaction) []string {
	fields := []string{tx.MedName}
	if d := tx.Dispense; d != nil {
		fields = append(fields, d.Patient, d.Company, d.Position, d.Prescriber, d.Dispenser, d.PrimaryDiagnosis())
	}
	if r := tx.Receive; r != nil {
		fields = append(fields, r.Supplier, r.OrderNumber, r.InvoiceNumber, r.Batch)
	}
	return fields
}

// RegisterSearchFields are the fields searched by the controlled register:
// patient, medication, prescriber, issuer, user, supplier, order number,
// batch and every diagnosis.
func RegisterSearchFields(tx Transaction) []string {
	fields := []string{tx.MedName, tx.User}
	if d := tx.Dispense; d != nil {
		fields = append(fields, d.Patient, d.Prescriber, d.Dispenser)
		fields = append(fields, d.Diagnoses...)
	}
	if r := tx.Receive; r != nil {
		fields = append(fields, r.Supplier, r.OrderNumber, r.Batch, r.StockReceiver)
	}
	return fields
}
