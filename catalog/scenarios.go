/*
scenarios.go - Demo datasets

AVAILABLE SCENARIOS:

	clinic-opening:   Opening stock of a small clinic from a CSV catalog
	controlled-month: A month of controlled-substance movements, with an
	                  edited and a voided dispense, for the register
	expiry-watch:     Medications in every stock status around today

HOW SCENARIOS WORK:
 1. Reset the store (all medications, ledger entries and logs)
 2. Import the opening catalog, backdated to the scenario start
 3. Record receipts and dispenses through the service, so every entry
    goes through the same validation, locking and audit as live traffic

Dates are relative to the now passed to Load, so reports over "the last
30 days" always have data.

NOTE:

	Loading a scenario wipes the store. Only use in development/demo
	environments.
*/
package catalog

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/pharmacy"
	"github.com/warp/stock-ledger/stock"
)

//go:embed data
var data embed.FS

// ErrUnknownScenario is returned by Load for an unknown scenario id.
var ErrUnknownScenario = errors.New("unknown scenario")

const scenarioUser = "scenario"

// Runner is the part of the service scenarios drive.
type Runner interface {
	MedicationAdder
	RecordReceive(ctx context.Context, req pharmacy.ReceiveRequest) (*pharmacy.ReceiveResult, error)
	RecordDispense(ctx context.Context, req pharmacy.DispenseRequest) (*pharmacy.DispenseResult, error)
	EditDispense(ctx context.Context, id stock.TransactionID, req pharmacy.DispenseRequest) (*pharmacy.DispenseResult, error)
	DeleteDispense(ctx context.Context, id stock.TransactionID, user string) error
	Reset(ctx context.Context) error
}

type Scenario struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`

	load func(ctx context.Context, svc Runner, now time.Time) error
}

var scenarios = []Scenario{
	{
		ID:          "clinic-opening",
		Name:        "Clinic Opening Stock",
		Description: "Eight common medications imported from a CSV catalog, with a week of dispensing",
		Category:    "inventory",
		load:        loadClinicOpening,
	},
	{
		ID:          "controlled-month",
		Name:        "Controlled-Substance Month",
		Description: "Thirty days of morphine, diazepam and pethidine movements, one edited and one voided dispense",
		Category:    "controlled",
		load:        loadControlledMonth,
	},
	{
		ID:          "expiry-watch",
		Name:        "Expiry Watch",
		Description: "Expired, close-to-expire, out-of-stock and normal medications",
		Category:    "inventory",
		load:        loadExpiryWatch,
	},
}

// Scenarios lists the available scenarios.
func Scenarios() []Scenario {
	out := make([]Scenario, len(scenarios))
	copy(out, scenarios)
	return out
}

func Find(id string) (Scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return Scenario{}, false
}

// Load resets the store and loads the scenario.
func Load(ctx context.Context, svc Runner, id string, now time.Time) error {
	s, ok := Find(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownScenario, id)
	}
	if err := svc.Reset(ctx); err != nil {
		return err
	}
	return s.load(ctx, svc, stock.Instant(now))
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadClinicOpening(ctx context.Context, svc Runner, now time.Time) error {
	start := stock.StartOfDay(now).AddDate(0, 0, -7)
	if err := importFile(ctx, svc, "data/clinic_opening.csv", ParseCSV, at(start, 8)); err != nil {
		return err
	}

	visits := []struct {
		day       int
		patient   string
		diagnosis string
		lines     []pharmacy.DispenseLine
	}{
		{0, "Kofi Mensah", "Malaria", []pharmacy.DispenseLine{line("Artemether/Lumefantrine 20/120mg", 24), line("Paracetamol 500mg", 18)}},
		{1, "Abena Owusu", "Type 2 diabetes", []pharmacy.DispenseLine{line("Metformin 500mg", 60)}},
		{2, "Yaw Darko", "Gastroenteritis", []pharmacy.DispenseLine{line("Oral Rehydration Salts", 6), line("Ciprofloxacin 500mg", 14)}},
		{3, "Efua Addo", "Otitis media", []pharmacy.DispenseLine{line("Amoxicillin 250mg", 21), line("Ibuprofen 400mg", 15)}},
		{5, "Kwabena Osei", "Anxiety", []pharmacy.DispenseLine{line("Diazepam 5mg", 10)}},
		{6, "Akosua Frimpong", "Malaria", []pharmacy.DispenseLine{line("Artemether/Lumefantrine 20/120mg", 24), line("Paracetamol 500mg", 12)}},
	}
	for _, v := range visits {
		_, err := svc.RecordDispense(ctx, dispense(start, v.day, v.patient, v.diagnosis, v.lines))
		if err != nil {
			return err
		}
	}

	_, err := svc.RecordReceive(ctx, pharmacy.ReceiveRequest{
		MedName:  "Artemether/Lumefantrine 20/120mg",
		Quantity: 60,
		ReceiptDetails: pharmacy.ReceiptDetails{
			Batch:         "ALU-2409",
			Price:         decimal.RequireFromString("1.05"),
			ExpiryDate:    "2030-12-31",
			Supplier:      "Global Health Co",
			OrderNumber:   "PO-1010",
			InvoiceNumber: "INV-1002",
			StockReceiver: "Kwame Asante",
		},
		User:       scenarioUser,
		RecordedAt: at(start.AddDate(0, 0, 4), 14),
	})
	return err
}

func loadControlledMonth(ctx context.Context, svc Runner, now time.Time) error {
	start := stock.StartOfDay(now).AddDate(0, 0, -30)
	if err := importFile(ctx, svc, "data/controlled.json", ParseJSON, at(start.AddDate(0, 0, -1), 8)); err != nil {
		return err
	}

	patients := []string{"Kofi Mensah", "Abena Owusu", "Yaw Darko", "Efua Addo", "Kwabena Osei"}
	var edit, void stock.TransactionID

	for d := 0; d < 30; d++ {
		ls := []pharmacy.DispenseLine{line("Morphine Sulfate 10mg", int64(d%3+1))}
		if d%2 == 0 {
			ls = append(ls, line("Diazepam 5mg", 2))
		}
		if d%5 == 0 {
			ls = append(ls, line("Pethidine 50mg", 1))
		}
		res, err := svc.RecordDispense(ctx, dispense(start, d, patients[d%len(patients)], "Post-operative pain", ls))
		if err != nil {
			return err
		}
		switch d {
		case 10:
			edit = res.TransactionID
		case 12:
			void = res.TransactionID
		}

		if d%7 == 6 {
			_, err := svc.RecordReceive(ctx, pharmacy.ReceiveRequest{
				MedName:  "Morphine Sulfate 10mg",
				Quantity: 20,
				ReceiptDetails: pharmacy.ReceiptDetails{
					Batch:         fmt.Sprintf("MOR-24%02d", d),
					Price:         decimal.RequireFromString("2.40"),
					ExpiryDate:    "2030-04-30",
					Schedule:      string(stock.ScheduleControlled),
					Supplier:      "Global Health Co",
					OrderNumber:   fmt.Sprintf("PO-21%02d", d),
					StockReceiver: "Kwame Asante",
				},
				User:       scenarioUser,
				RecordedAt: at(start.AddDate(0, 0, d), 16),
			})
			if err != nil {
				return err
			}
		}
	}

	if edit != "" {
		req := dispense(start, 10, patients[0], "Post-operative pain", []pharmacy.DispenseLine{line("Morphine Sulfate 10mg", 1)})
		if _, err := svc.EditDispense(ctx, edit, req); err != nil {
			return err
		}
	}
	if void != "" {
		if err := svc.DeleteDispense(ctx, void, scenarioUser); err != nil {
			return err
		}
	}
	return nil
}

func loadExpiryWatch(ctx context.Context, svc Runner, now time.Time) error {
	today := stock.StartOfDay(now)
	expiry := func(days int) string { return stock.FormatDate(today.AddDate(0, 0, days)) }

	c := &Catalog{Medications: []MedicationJSON{
		{Name: "Amoxicillin 250mg", InitialBalance: 80, Batch: "AMX-2301", ExpiryDate: expiry(-15)},
		{Name: "Insulin Glargine 100IU/ml", InitialBalance: 12, Batch: "INS-2407", ExpiryDate: expiry(10)},
		{Name: "Artemether/Lumefantrine 20/120mg", InitialBalance: 45, Batch: "ALU-2405", ExpiryDate: expiry(25)},
		{Name: "Oral Rehydration Salts", InitialBalance: 200, Batch: "ORS-2410", ExpiryDate: expiry(365)},
		{Name: "Ceftriaxone 1g", InitialBalance: 0, Batch: "CEF-2402", ExpiryDate: expiry(200)},
		{Name: "Morphine Sulfate 10mg", InitialBalance: 5, Batch: "MOR-2404", ExpiryDate: expiry(20), Schedule: "controlled"},
	}}
	for i := range c.Medications {
		c.Medications[i].Price = decimal.RequireFromString("0.50")
		c.Medications[i].Supplier = "MedSupply Ltd"
	}
	return importCatalog(ctx, svc, c, at(today.AddDate(0, 0, -60), 9))
}

// =============================================================================
// HELPERS
// =============================================================================

func importFile(ctx context.Context, svc Runner, name string, parse func(io.Reader) (*Catalog, error), recordedAt *time.Time) error {
	raw, err := data.ReadFile(name)
	if err != nil {
		return err
	}
	c, err := parse(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	return importCatalog(ctx, svc, c, recordedAt)
}

func importCatalog(ctx context.Context, svc Runner, c *Catalog, recordedAt *time.Time) error {
	result, err := Import(ctx, svc, c, scenarioUser, recordedAt)
	if err != nil {
		return err
	}
	if len(result.Failed) > 0 {
		return fmt.Errorf("catalog row %s: %s", result.Failed[0].Name, result.Failed[0].Reason)
	}
	return nil
}

func dispense(start time.Time, day int, patient, diagnosis string, ls []pharmacy.DispenseLine) pharmacy.DispenseRequest {
	when := start.AddDate(0, 0, day)
	return pharmacy.DispenseRequest{
		Lines:      ls,
		Patient:    patient,
		Diagnoses:  []string{diagnosis},
		Prescriber: "Dr. Nana Agyeman",
		Dispenser:  "Ama Boateng",
		Date:       stock.FormatDate(when),
		User:       scenarioUser,
		RecordedAt: at(when, 10),
	}
}

func line(name string, qty int64) pharmacy.DispenseLine {
	return pharmacy.DispenseLine{MedName: name, Quantity: qty}
}

func at(day time.Time, hour int) *time.Time {
	t := stock.StartOfDay(day).Add(time.Duration(hour) * time.Hour)
	return &t
}
