package catalog_test

import (
	"bytes"
	"context"
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

var now = time.Date(2025, time.March, 31, 12, 0, 0, 0, time.UTC)

func newService() *pharmacy.Service {
	return pharmacy.New(pharmacy.Options{
		Store: store.NewTxMemory(),
		Clock: func() time.Time { return now },
	})
}

// =============================================================================
// PARSING
// =============================================================================

func TestParseJSON(t *testing.T) {
	c, err := catalog.ParseJSON(strings.NewReader(`{
		"medications": [
			{"name": "Paracetamol 500mg", "initial_balance": 100, "price": 0.15, "expiry_date": "2026-06-30"},
			{"name": "Morphine 10mg", "initial_balance": 5, "price": "2.40", "schedule": "controlled"}
		]
	}`))
	require.NoError(t, err)
	require.Len(t, c.Medications, 2)
	assert.Equal(t, int64(100), c.Medications[0].InitialBalance)
	assert.Equal(t, "0.15", c.Medications[0].Price.String())
	assert.Equal(t, "2.4", c.Medications[1].Price.String())
}

func TestParseJSON_RejectsUnknownFields(t *testing.T) {
	_, err := catalog.ParseJSON(strings.NewReader(`{"medications": [{"nme": "typo"}]}`))
	assert.ErrorIs(t, err, catalog.ErrInvalidCatalog)
}

func TestParseCSV(t *testing.T) {
	// GIVEN: Reordered columns, an unknown column and a blank row
	input := "Schedule,NAME,initial_balance,notes,price\n" +
		"Controlled,Diazepam 5mg,60,shelf B,0.25\n" +
		",,,,\n" +
		",Paracetamol 500mg,,, \n"

	// WHEN: Parsing
	c, err := catalog.ParseCSV(strings.NewReader(input))

	// THEN: Columns matched by name, blank row dropped
	require.NoError(t, err)
	require.Len(t, c.Medications, 2)
	assert.Equal(t, "Diazepam 5mg", c.Medications[0].Name)
	assert.Equal(t, int64(60), c.Medications[0].InitialBalance)
	assert.Equal(t, "Controlled", c.Medications[0].Schedule)
	assert.Equal(t, "0.25", c.Medications[0].Price.String())
	assert.Equal(t, int64(0), c.Medications[1].InitialBalance)
}

func TestParseCSV_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing name column", "batch,price\nA,1\n"},
		{"bad balance", "name,initial_balance\nX,ten\n"},
		{"bad price", "name,price\nX,cheap\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := catalog.ParseCSV(strings.NewReader(tt.input))
			assert.ErrorIs(t, err, catalog.ErrInvalidCatalog)
		})
	}
}

func TestParseXLSX(t *testing.T) {
	// GIVEN: A workbook with a header row and two medications
	f := excelize.NewFile()
	defer f.Close()
	rows := [][]any{
		{"Name", "Initial_Balance", "Price", "Expiry_Date"},
		{"Paracetamol 500mg", 100, "0.15", "2026-06-30"},
		{"Ibuprofen 400mg", 40, "0.07", ""},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	// WHEN: Parsing it as an upload
	c, err := catalog.Parse(catalog.ContentTypeXLSX, &buf)

	// THEN: Both rows are read from the first sheet
	require.NoError(t, err)
	require.Len(t, c.Medications, 2)
	assert.Equal(t, int64(100), c.Medications[0].InitialBalance)
	assert.Equal(t, "2026-06-30", c.Medications[0].ExpiryDate)
	assert.Equal(t, "Ibuprofen 400mg", c.Medications[1].Name)
}

func TestParseXLSX_NotAWorkbook(t *testing.T) {
	_, err := catalog.ParseXLSX(strings.NewReader("name\nX\n"))
	assert.ErrorIs(t, err, catalog.ErrInvalidCatalog)
}

func TestParse_PicksFormatFromContentType(t *testing.T) {
	c, err := catalog.Parse("text/csv; charset=utf-8", strings.NewReader("name\nX\n"))
	require.NoError(t, err)
	assert.Len(t, c.Medications, 1)

	c, err = catalog.Parse("application/json", strings.NewReader(`{"medications":[{"name":"Y"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "Y", c.Medications[0].Name)
}

// =============================================================================
// IMPORT
// =============================================================================

func TestImport_SkipsExistingAndReportsInvalid(t *testing.T) {
	// GIVEN: DrugA already exists
	svc := newService()
	ctx := context.Background()
	_, err := svc.AddMedication(ctx, pharmacy.AddMedicationRequest{Name: "DrugA", InitialBalance: 1})
	require.NoError(t, err)

	c := &catalog.Catalog{Medications: []catalog.MedicationJSON{
		{Name: "DrugA", InitialBalance: 50},
		{Name: "DrugB", InitialBalance: 20, Schedule: "Controlled"},
		{Name: "DrugC", InitialBalance: -1},
		{Name: "DrugD", ExpiryDate: "next week"},
	}}

	// WHEN: Importing
	result, err := catalog.Import(ctx, svc, c, "admin", nil)

	// THEN: DrugB added, DrugA skipped, DrugC and DrugD failed
	require.NoError(t, err)
	assert.Equal(t, []string{"DrugB"}, result.Added)
	assert.Equal(t, []string{"DrugA"}, result.Skipped)
	require.Len(t, result.Failed, 2)
	assert.Equal(t, "DrugC", result.Failed[0].Name)
	assert.Equal(t, "DrugD", result.Failed[1].Name)

	meds, err := svc.ListMedications(ctx)
	require.NoError(t, err)
	require.Len(t, meds, 2)
	assert.Equal(t, int64(1), meds[0].Balance, "existing balance untouched")
	assert.True(t, meds[1].IsControlled())
	assert.Equal(t, int64(20), meds[1].Balance)
}

func TestImport_StopsOnStoreFailure(t *testing.T) {
	svc := newService()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &catalog.Catalog{Medications: []catalog.MedicationJSON{{Name: "DrugA"}}}
	result, err := catalog.Import(ctx, svc, c, "admin", nil)

	assert.ErrorIs(t, err, stock.ErrStoreUnavailable)
	assert.Empty(t, result.Added)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenarios_LoadEveryScenario(t *testing.T) {
	for _, s := range catalog.Scenarios() {
		t.Run(s.ID, func(t *testing.T) {
			svc := newService()
			ctx := context.Background()

			require.NoError(t, catalog.Load(ctx, svc, s.ID, now))

			meds, err := svc.ListMedications(ctx)
			require.NoError(t, err)
			assert.NotEmpty(t, meds)

			run, err := svc.Reconcile(ctx, "manual")
			require.NoError(t, err)
			assert.Equal(t, "completed", run.Status)
		})
	}
}

func TestScenarios_LoadReplacesPreviousData(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	require.NoError(t, catalog.Load(ctx, svc, "clinic-opening", now))
	require.NoError(t, catalog.Load(ctx, svc, "expiry-watch", now))

	meds, err := svc.ListMedications(ctx)
	require.NoError(t, err)
	assert.Len(t, meds, 6)
}

func TestScenarios_ExpiryWatchCoversEveryStatus(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	require.NoError(t, catalog.Load(ctx, svc, "expiry-watch", now))

	rows, err := svc.StockSnapshot(ctx, pharmacy.SnapshotQuery{AsOf: stock.FormatDate(now)})
	require.NoError(t, err)

	seen := map[stock.StockStatus]bool{}
	for _, r := range rows {
		seen[r.Status] = true
	}
	assert.True(t, seen[stock.StockExpired])
	assert.True(t, seen[stock.StockCloseToExpire])
	assert.True(t, seen[stock.StockOutOfStock])
	assert.True(t, seen[stock.StockNormal])
}

func TestScenarios_ControlledMonthRegister(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	require.NoError(t, catalog.Load(ctx, svc, "controlled-month", now))

	start := stock.FormatDate(now.AddDate(0, 0, -30))
	entries, err := svc.ControlledRegister(ctx, start, stock.FormatDate(now), "")
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Medication.Name)
		assert.Equal(t, e.BeginningBalance+e.Received-e.Dispensed, e.EndingBalance, e.Medication.Name)
	}
	assert.Equal(t, []string{"Diazepam 5mg", "Morphine Sulfate 10mg", "Pethidine 50mg"}, names)
}

func TestLoad_UnknownScenario(t *testing.T) {
	err := catalog.Load(context.Background(), newService(), "nope", now)
	assert.ErrorIs(t, err, catalog.ErrUnknownScenario)
}
