package stock

import "context"

// =============================================================================
// RECONCILIATION - projection vs. ledger drift check
// =============================================================================

// Drift is a medication whose projected balance disagrees with its ledger.
type Drift struct {
	Medication Medication
	Projected  int64
	Ledger     int64
}

func (d Drift) Difference() int64 { return d.Projected - d.Ledger }

type ReconcileResult struct {
	Checked int
	Drifts  []Drift
}

// Reconcile replays every medication's active entries forward from zero and
// compares the result with the projection. Both writes happen in one store
// transaction, so any drift points at data edited outside the service.
func (r *Reconstructor) Reconcile(ctx context.Context) (ReconcileResult, error) {
	meds, err := r.Projection.Medications(ctx)
	if err != nil {
		return ReconcileResult{}, err
	}
	result := ReconcileResult{Drifts: []Drift{}}
	for _, med := range meds {
		txs, err := r.Ledger.Find(ctx, Filter{MedicationID: med.ID})
		if err != nil {
			return ReconcileResult{}, err
		}
		result.Checked++
		replayed := Sum(txs).Net()
		if replayed != med.Balance {
			result.Drifts = append(result.Drifts, Drift{Medication: med, Projected: med.Balance, Ledger: replayed})
		}
	}
	return result, nil
}
