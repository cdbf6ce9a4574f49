// Package store provides in-memory stock.Store implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/stock-ledger/stock"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	medications map[stock.MedicationID]stock.Medication
	names       map[string]stock.MedicationID
	entries     []stock.Transaction // ordered by Timestamp, then insertion
	audit       []stock.AuditEntry
	errorLogs   []stock.ErrorLogEntry
	runs        []stock.ReconciliationRun
}

func NewMemory() *Memory {
	return &Memory{
		medications: make(map[stock.MedicationID]stock.Medication),
		names:       make(map[string]stock.MedicationID),
	}
}

// Reset drops all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.medications = make(map[stock.MedicationID]stock.Medication)
	m.names = make(map[string]stock.MedicationID)
	m.entries = nil
	m.audit = nil
	m.errorLogs = nil
	m.runs = nil
	return nil
}

// -----------------------------------------------------------------------------
// Ledger
// -----------------------------------------------------------------------------

func (m *Memory) Append(_ context.Context, tx stock.Transaction) (stock.EntryID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

func (m *Memory) appendLocked(tx stock.Transaction) (stock.EntryID, error) {
	if tx.ID == "" {
		tx.ID = stock.EntryID(uuid.NewString())
	}
	if tx.Status == "" {
		tx.Status = stock.StatusActive
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = stock.Now()
	}
	tx = cloneTx(tx)

	// Binary search keeps equal timestamps in insertion order.
	i := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].Timestamp.After(tx.Timestamp)
	})
	m.entries = append(m.entries, stock.Transaction{})
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = tx
	return tx.ID, nil
}

func (m *Memory) Find(_ context.Context, filter stock.Filter) ([]stock.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findLocked(filter), nil
}

func (m *Memory) findLocked(filter stock.Filter) []stock.Transaction {
	result := []stock.Transaction{}
	for _, tx := range m.entries {
		if filter.Matches(tx) {
			result = append(result, cloneTx(tx))
		}
	}
	if filter.Order == stock.Descending {
		for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
			result[i], result[j] = result[j], result[i]
		}
	}
	return result
}

func (m *Memory) Retire(_ context.Context, id stock.TransactionID, status stock.EntryStatus, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retireLocked(id, status, at), nil
}

func (m *Memory) retireLocked(id stock.TransactionID, status stock.EntryStatus, at time.Time) int {
	n := 0
	for i := range m.entries {
		if m.entries[i].TransactionID == id && m.entries[i].IsActive() {
			retired := at
			m.entries[i].Status = status
			m.entries[i].RetiredAt = &retired
			n++
		}
	}
	return n
}

// -----------------------------------------------------------------------------
// Projection
// -----------------------------------------------------------------------------

func (m *Memory) Medication(_ context.Context, id stock.MedicationID) (*stock.Medication, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.medicationLocked(id)
}

func (m *Memory) medicationLocked(id stock.MedicationID) (*stock.Medication, error) {
	med, ok := m.medications[id]
	if !ok {
		return nil, stock.ErrMedicationNotFound
	}
	return &med, nil
}

func (m *Memory) MedicationByName(_ context.Context, name string) (*stock.Medication, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.medicationByNameLocked(name)
}

func (m *Memory) medicationByNameLocked(name string) (*stock.Medication, error) {
	id, ok := m.names[name]
	if !ok {
		return nil, stock.ErrMedicationNotFound
	}
	return m.medicationLocked(id)
}

func (m *Memory) Medications(_ context.Context) ([]stock.Medication, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.medicationsLocked(), nil
}

func (m *Memory) medicationsLocked() []stock.Medication {
	result := make([]stock.Medication, 0, len(m.medications))
	for _, med := range m.medications {
		result = append(result, med)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

func (m *Memory) CreateMedication(_ context.Context, med stock.Medication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(med)
}

func (m *Memory) createLocked(med stock.Medication) error {
	if _, exists := m.names[med.Name]; exists {
		return stock.ErrMedicationExists
	}
	if med.ID == "" {
		med.ID = stock.MedicationID(uuid.NewString())
	}
	now := stock.Now()
	if med.CreatedAt.IsZero() {
		med.CreatedAt = now
	}
	med.UpdatedAt = now
	m.medications[med.ID] = med
	m.names[med.Name] = med.ID
	return nil
}

func (m *Memory) UpsertOnReceive(_ context.Context, med stock.Medication, qty int64) (*stock.Medication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertLocked(med, qty)
}

func (m *Memory) upsertLocked(med stock.Medication, qty int64) (*stock.Medication, error) {
	if qty <= 0 {
		return nil, stock.ErrInvalidQuantity
	}
	id, ok := m.names[med.Name]
	if !ok {
		med.Balance = qty
		if med.Schedule == "" {
			med.Schedule = stock.ScheduleNotControlled
		}
		if err := m.createLocked(med); err != nil {
			return nil, err
		}
		return m.medicationByNameLocked(med.Name)
	}

	current := m.medications[id]
	current.Balance += qty
	current.Batch = med.Batch
	current.Price = med.Price
	current.ExpiryDate = med.ExpiryDate
	current.StockReceiver = med.StockReceiver
	current.OrderNumber = med.OrderNumber
	current.Supplier = med.Supplier
	current.InvoiceNumber = med.InvoiceNumber
	if med.Schedule != "" {
		current.Schedule = med.Schedule
	}
	current.UpdatedAt = stock.Now()
	m.medications[id] = current
	return &current, nil
}

func (m *Memory) DecrementOnDispense(_ context.Context, id stock.MedicationID, qty int64) (*stock.Medication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decrementLocked(id, qty)
}

func (m *Memory) decrementLocked(id stock.MedicationID, qty int64) (*stock.Medication, error) {
	if qty <= 0 {
		return nil, stock.ErrInvalidQuantity
	}
	med, ok := m.medications[id]
	if !ok {
		return nil, stock.ErrMedicationNotFound
	}
	if med.Balance < qty {
		return nil, &stock.InsufficientStockError{Medication: med.Name, Available: med.Balance, Requested: qty}
	}
	med.Balance -= qty
	med.UpdatedAt = stock.Now()
	m.medications[id] = med
	return &med, nil
}

func (m *Memory) IncrementBalance(_ context.Context, id stock.MedicationID, qty int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incrementLocked(id, qty)
}

func (m *Memory) incrementLocked(id stock.MedicationID, qty int64) error {
	if qty <= 0 {
		return stock.ErrInvalidQuantity
	}
	med, ok := m.medications[id]
	if !ok {
		return stock.ErrMedicationNotFound
	}
	med.Balance += qty
	med.UpdatedAt = stock.Now()
	m.medications[id] = med
	return nil
}

func (m *Memory) UpdateMedication(_ context.Context, med stock.Medication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(med)
}

func (m *Memory) updateLocked(med stock.Medication) error {
	current, ok := m.medications[med.ID]
	if !ok {
		return stock.ErrMedicationNotFound
	}
	if med.Name != current.Name {
		if _, taken := m.names[med.Name]; taken {
			return stock.ErrMedicationExists
		}
		delete(m.names, current.Name)
		m.names[med.Name] = med.ID
	}
	med.Balance = current.Balance
	med.CreatedAt = current.CreatedAt
	med.UpdatedAt = stock.Now()
	m.medications[med.ID] = med
	return nil
}

func (m *Memory) DeleteMedication(_ context.Context, id stock.MedicationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(id)
}

func (m *Memory) deleteLocked(id stock.MedicationID) error {
	med, ok := m.medications[id]
	if !ok {
		return stock.ErrMedicationNotFound
	}
	delete(m.medications, id)
	delete(m.names, med.Name)
	return nil
}

// -----------------------------------------------------------------------------
// Audit and error logs
// -----------------------------------------------------------------------------

func (m *Memory) AppendAudit(_ context.Context, entry stock.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = stock.Now()
	}
	m.audit = append(m.audit, entry)
	return nil
}

func (m *Memory) QueryAudit(_ context.Context, f stock.AuditFilter) ([]stock.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []stock.AuditEntry{}
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if f.TargetType != "" && e.TargetType != f.TargetType {
			continue
		}
		if f.TargetID != "" && e.TargetID != f.TargetID {
			continue
		}
		if len(f.Actions) > 0 && !containsAction(f.Actions, e.Action) {
			continue
		}
		if f.From != nil && e.Timestamp.Before(*f.From) {
			continue
		}
		if f.To != nil && e.Timestamp.After(*f.To) {
			continue
		}
		result = append(result, e)
		if f.Limit > 0 && len(result) == f.Limit {
			break
		}
	}
	return result, nil
}

func (m *Memory) SaveErrorLog(_ context.Context, entry stock.ErrorLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	m.errorLogs = append(m.errorLogs, entry)
	return nil
}

func (m *Memory) ErrorLogs(_ context.Context, limit int) ([]stock.ErrorLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := []stock.ErrorLogEntry{}
	for i := len(m.errorLogs) - 1; i >= 0; i-- {
		result = append(result, m.errorLogs[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// SuggestNames returns names starting with prefix (case-insensitive), sorted.
func (m *Memory) SuggestNames(_ context.Context, prefix string, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := []string{}
	for _, med := range m.medicationsLocked() {
		if stock.HasPrefixFold(med.Name, strings.TrimSpace(prefix)) {
			names = append(names, med.Name)
			if limit > 0 && len(names) == limit {
				break
			}
		}
	}
	return names, nil
}

func containsAction(actions []stock.AuditAction, a stock.AuditAction) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}

func cloneTx(tx stock.Transaction) stock.Transaction {
	if tx.Receive != nil {
		r := *tx.Receive
		tx.Receive = &r
	}
	if tx.Dispense != nil {
		d := *tx.Dispense
		d.Diagnoses = append([]string(nil), d.Diagnoses...)
		tx.Dispense = &d
	}
	if tx.RetiredAt != nil {
		at := *tx.RetiredAt
		tx.RetiredAt = &at
	}
	return tx
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole of fn, so fn must only use the
// Store it is given.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(stock.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return &stock.StoreError{Op: "begin", Err: err}
	}

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	if err := ctx.Err(); err != nil {
		tm.restore(snapshot)
		return &stock.StoreError{Op: "commit", Err: err}
	}
	return nil
}

type memorySnapshot struct {
	medications map[stock.MedicationID]stock.Medication
	names       map[string]stock.MedicationID
	entries     []stock.Transaction
}

func (tm *TxMemory) snapshot() memorySnapshot {
	meds := make(map[stock.MedicationID]stock.Medication, len(tm.medications))
	for k, v := range tm.medications {
		meds[k] = v
	}
	names := make(map[string]stock.MedicationID, len(tm.names))
	for k, v := range tm.names {
		names[k] = v
	}
	entries := make([]stock.Transaction, len(tm.entries))
	for i, tx := range tm.entries {
		entries[i] = cloneTx(tx)
	}
	return memorySnapshot{medications: meds, names: names, entries: entries}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.medications = s.medications
	tm.names = s.names
	tm.entries = s.entries
}

// txMemoryView is the Store handed to WithTx callbacks. The parent's lock is
// already held.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) Append(_ context.Context, tx stock.Transaction) (stock.EntryID, error) {
	return tv.parent.appendLocked(tx)
}

func (tv *txMemoryView) Find(_ context.Context, filter stock.Filter) ([]stock.Transaction, error) {
	return tv.parent.findLocked(filter), nil
}

func (tv *txMemoryView) Retire(_ context.Context, id stock.TransactionID, status stock.EntryStatus, at time.Time) (int, error) {
	return tv.parent.retireLocked(id, status, at), nil
}

func (tv *txMemoryView) Medication(_ context.Context, id stock.MedicationID) (*stock.Medication, error) {
	return tv.parent.medicationLocked(id)
}

func (tv *txMemoryView) MedicationByName(_ context.Context, name string) (*stock.Medication, error) {
	return tv.parent.medicationByNameLocked(name)
}

func (tv *txMemoryView) Medications(_ context.Context) ([]stock.Medication, error) {
	return tv.parent.medicationsLocked(), nil
}

func (tv *txMemoryView) CreateMedication(_ context.Context, med stock.Medication) error {
	return tv.parent.createLocked(med)
}

func (tv *txMemoryView) UpsertOnReceive(_ context.Context, med stock.Medication, qty int64) (*stock.Medication, error) {
	return tv.parent.upsertLocked(med, qty)
}

func (tv *txMemoryView) DecrementOnDispense(_ context.Context, id stock.MedicationID, qty int64) (*stock.Medication, error) {
	return tv.parent.decrementLocked(id, qty)
}

func (tv *txMemoryView) IncrementBalance(_ context.Context, id stock.MedicationID, qty int64) error {
	return tv.parent.incrementLocked(id, qty)
}

func (tv *txMemoryView) UpdateMedication(_ context.Context, med stock.Medication) error {
	return tv.parent.updateLocked(med)
}

func (tv *txMemoryView) DeleteMedication(_ context.Context, id stock.MedicationID) error {
	return tv.parent.deleteLocked(id)
}

// =============================================================================
// RECONCILIATION RUNS
// =============================================================================

func (m *Memory) SaveReconciliationRun(_ context.Context, run stock.ReconciliationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	m.runs = append(m.runs, run)
	return nil
}

// ReconciliationRuns returns runs newest first.
func (m *Memory) ReconciliationRuns(_ context.Context, limit int) ([]stock.ReconciliationRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := []stock.ReconciliationRun{}
	for i := len(m.runs) - 1; i >= 0; i-- {
		result = append(result, m.runs[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}
