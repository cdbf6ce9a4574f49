package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/pharmacy"
	"github.com/warp/stock-ledger/stock/store"
)

func TestScheduler_RunsOnStartAndStops(t *testing.T) {
	// GIVEN: A scheduler with a long interval
	svc := pharmacy.New(pharmacy.Options{Store: store.NewTxMemory()})
	rs := NewReconciliationScheduler(svc, time.Hour, nil)

	// WHEN: Starting it
	rs.Start()
	rs.Start()

	// THEN: One scheduled run happens right away
	require.Eventually(t, func() bool {
		runs, err := svc.ReconciliationRuns(context.Background(), 0)
		return err == nil && len(runs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	rs.Stop()
	rs.Stop()

	runs, err := svc.ReconciliationRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "scheduled", runs[0].Trigger)
	assert.Equal(t, "completed", runs[0].Status)
}

func TestScheduler_TicksAtInterval(t *testing.T) {
	svc := pharmacy.New(pharmacy.Options{Store: store.NewTxMemory()})
	rs := NewReconciliationScheduler(svc, 20*time.Millisecond, nil)

	rs.Start()
	defer rs.Stop()

	require.Eventually(t, func() bool {
		runs, err := svc.ReconciliationRuns(context.Background(), 0)
		return err == nil && len(runs) >= 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_ZeroIntervalDisables(t *testing.T) {
	svc := pharmacy.New(pharmacy.Options{Store: store.NewTxMemory()})
	rs := NewReconciliationScheduler(svc, 0, nil)

	rs.Start()
	rs.RunNow()
	rs.Stop()

	// Only the explicit RunNow ran.
	runs, err := svc.ReconciliationRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
