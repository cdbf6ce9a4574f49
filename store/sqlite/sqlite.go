/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface of the stock engine (ledger,
  projection, audit log, error log, reconciliation runs) on one SQLite
  database, accessed through sqlx.

INTERFACES IMPLEMENTED:
  stock.TxStore:  Ledger + projection with atomic WithTx
  stock.AuditLog: Audit trail
  stock.ErrorLog: Persisted error-level log entries
  stock.RunLog:   Reconciliation runs

LEDGER IMMUTABILITY:
  Enforced in the schema, not only in Go:
  - Trigger rejects UPDATE of quantity, tx_type, medication_id, timestamp
  - Trigger rejects DELETE on transactions
  - Corrections only change status/retired_at (tombstones)

ATOMIC DISPENSE:
  DecrementOnDispense is a single conditional UPDATE:

    UPDATE medications SET balance = balance - ? WHERE id = ? AND balance >= ?

  Zero rows affected means the stock was not there at write time, whatever
  the caller read earlier. Combined with WithTx, the balance change and the
  ledger append commit together or not at all.

KEY TABLES:
  medications:          Projection (one row per medication, unique name)
  transactions:         Ledger (seq gives insertion order for equal timestamps)
  audit_log:            Who changed what
  error_logs:           Error-level log entries
  reconciliation_runs:  Drift checks

TIMESTAMPS:
  Stored as fixed-width UTC text "2006-01-02T15:04:05Z" so string comparison
  in SQL equals chronological comparison.

CONCURRENCY:
  One open connection (SetMaxOpenConns(1)). Writers serialize on it and
  ":memory:" databases stay a single database. Busy/locked errors and
  context deadlines surface as stock.ErrStoreUnavailable.

USAGE:
  store, err := sqlite.New("./data/stock.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := stock.NewLedger(store)

SEE ALSO:
  - stock/store.go: Interface definitions
  - stock/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/stock"
)

const timeLayout = "2006-01-02T15:04:05Z"

// Store implements all storage interfaces using SQLite.
type Store struct {
	*conn
	db *sqlx.DB
}

// conn runs queries against either the database or an open transaction.
type conn struct {
	q sqlx.ExtContext
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{conn: &conn{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return classify("ping", s.db.PingContext(ctx))
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Projection: current balance per medication
	CREATE TABLE IF NOT EXISTS medications (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		batch TEXT,
		price TEXT NOT NULL DEFAULT '0',
		expiry_date TEXT,
		schedule TEXT NOT NULL DEFAULT 'not-controlled',
		stock_receiver TEXT,
		order_number TEXT,
		supplier TEXT,
		invoice_number TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Ledger (append-mostly; only status/retired_at ever change)
	CREATE TABLE IF NOT EXISTS transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		transaction_id TEXT NOT NULL,
		tx_type TEXT NOT NULL CHECK (tx_type IN ('receive', 'dispense')),
		medication_id TEXT NOT NULL,
		med_name TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		timestamp TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		revision INTEGER NOT NULL DEFAULT 1,
		retired_at TEXT,
		user_name TEXT,
		details_json TEXT,
		created_at TEXT NOT NULL
	);

	-- Reconstruction and aggregation scan (hot path)
	CREATE INDEX IF NOT EXISTS idx_transactions_med_ts
		ON transactions(medication_id, status, timestamp);
	CREATE INDEX IF NOT EXISTS idx_transactions_group
		ON transactions(transaction_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_type_ts
		ON transactions(tx_type, timestamp);

	CREATE TRIGGER IF NOT EXISTS trg_transactions_immutable
		BEFORE UPDATE OF quantity, tx_type, medication_id, timestamp ON transactions
	BEGIN
		SELECT RAISE(ABORT, 'ledger entries are immutable');
	END;

	CREATE TRIGGER IF NOT EXISTS trg_transactions_no_delete
		BEFORE DELETE ON transactions
	BEGIN
		SELECT RAISE(ABORT, 'ledger entries cannot be deleted');
	END;

	-- Audit trail
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT NOT NULL,
		changes_json TEXT,
		user_name TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_target
		ON audit_log(target_type, target_id);

	-- Error-level log entries
	CREATE TABLE IF NOT EXISTS error_logs (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		fields_json TEXT
	);

	-- Projection vs. ledger drift checks
	CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id TEXT PRIMARY KEY,
		trigger_type TEXT NOT NULL,
		status TEXT NOT NULL,
		checked INTEGER NOT NULL DEFAULT 0,
		drifts_json TEXT,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ROW TYPES
// =============================================================================

type medicationRow struct {
	ID            string         `db:"id"`
	Name          string         `db:"name"`
	Balance       int64          `db:"balance"`
	Batch         sql.NullString `db:"batch"`
	Price         string         `db:"price"`
	ExpiryDate    sql.NullString `db:"expiry_date"`
	Schedule      string         `db:"schedule"`
	StockReceiver sql.NullString `db:"stock_receiver"`
	OrderNumber   sql.NullString `db:"order_number"`
	Supplier      sql.NullString `db:"supplier"`
	InvoiceNumber sql.NullString `db:"invoice_number"`
	CreatedAt     string         `db:"created_at"`
	UpdatedAt     string         `db:"updated_at"`
}

func (r medicationRow) toMedication() stock.Medication {
	price, _ := decimal.NewFromString(r.Price)
	return stock.Medication{
		ID:            stock.MedicationID(r.ID),
		Name:          r.Name,
		Balance:       r.Balance,
		Batch:         r.Batch.String,
		Price:         price,
		ExpiryDate:    parseDate(r.ExpiryDate.String),
		Schedule:      stock.Schedule(r.Schedule),
		StockReceiver: r.StockReceiver.String,
		OrderNumber:   r.OrderNumber.String,
		Supplier:      r.Supplier.String,
		InvoiceNumber: r.InvoiceNumber.String,
		CreatedAt:     parseTime(r.CreatedAt),
		UpdatedAt:     parseTime(r.UpdatedAt),
	}
}

type transactionRow struct {
	Seq           int64          `db:"seq"`
	ID            string         `db:"id"`
	TransactionID string         `db:"transaction_id"`
	Type          string         `db:"tx_type"`
	MedicationID  string         `db:"medication_id"`
	MedName       string         `db:"med_name"`
	Quantity      int64          `db:"quantity"`
	Timestamp     string         `db:"timestamp"`
	Status        string         `db:"status"`
	Revision      int            `db:"revision"`
	RetiredAt     sql.NullString `db:"retired_at"`
	User          sql.NullString `db:"user_name"`
	Details       sql.NullString `db:"details_json"`
	CreatedAt     string         `db:"created_at"`
}

// details is the JSON payload of the type-specific fields.
type details struct {
	Receive  *receiveDetails  `json:"receive,omitempty"`
	Dispense *dispenseDetails `json:"dispense,omitempty"`
}

type receiveDetails struct {
	Batch         string `json:"batch,omitempty"`
	Price         string `json:"price,omitempty"`
	ExpiryDate    string `json:"expiry_date,omitempty"`
	Schedule      string `json:"schedule,omitempty"`
	StockReceiver string `json:"stock_receiver,omitempty"`
	OrderNumber   string `json:"order_number,omitempty"`
	Supplier      string `json:"supplier,omitempty"`
	InvoiceNumber string `json:"invoice_number,omitempty"`
}

type dispenseDetails struct {
	Patient       string   `json:"patient,omitempty"`
	Diagnoses     []string `json:"diagnoses,omitempty"`
	Prescriber    string   `json:"prescriber,omitempty"`
	Dispenser     string   `json:"dispenser,omitempty"`
	Company       string   `json:"company,omitempty"`
	Position      string   `json:"position,omitempty"`
	AgeGroup      string   `json:"age_group,omitempty"`
	Gender        string   `json:"gender,omitempty"`
	SickLeaveDays int      `json:"sick_leave_days,omitempty"`
	Date          string   `json:"date,omitempty"`
}

func encodeDetails(tx stock.Transaction) (sql.NullString, error) {
	var d details
	if r := tx.Receive; r != nil {
		d.Receive = &receiveDetails{
			Batch:         r.Batch,
			Price:         r.Price.String(),
			ExpiryDate:    stock.FormatDate(r.ExpiryDate),
			Schedule:      string(r.Schedule),
			StockReceiver: r.StockReceiver,
			OrderNumber:   r.OrderNumber,
			Supplier:      r.Supplier,
			InvoiceNumber: r.InvoiceNumber,
		}
	}
	if p := tx.Dispense; p != nil {
		d.Dispense = &dispenseDetails{
			Patient:       p.Patient,
			Diagnoses:     p.Diagnoses,
			Prescriber:    p.Prescriber,
			Dispenser:     p.Dispenser,
			Company:       p.Company,
			Position:      p.Position,
			AgeGroup:      p.AgeGroup,
			Gender:        p.Gender,
			SickLeaveDays: p.SickLeaveDays,
			Date:          p.Date,
		}
	}
	if d.Receive == nil && d.Dispense == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func (r transactionRow) toTransaction() stock.Transaction {
	tx := stock.Transaction{
		ID:            stock.EntryID(r.ID),
		TransactionID: stock.TransactionID(r.TransactionID),
		Type:          stock.TxType(r.Type),
		MedicationID:  stock.MedicationID(r.MedicationID),
		MedName:       r.MedName,
		Quantity:      r.Quantity,
		Timestamp:     parseTime(r.Timestamp),
		Status:        stock.EntryStatus(r.Status),
		Revision:      r.Revision,
		User:          r.User.String,
		CreatedAt:     parseTime(r.CreatedAt),
	}
	if r.RetiredAt.Valid {
		t := parseTime(r.RetiredAt.String)
		tx.RetiredAt = &t
	}
	if !r.Details.Valid || r.Details.String == "" {
		return tx
	}

	var d details
	if err := json.Unmarshal([]byte(r.Details.String), &d); err != nil {
		return tx
	}
	if rd := d.Receive; rd != nil {
		price, _ := decimal.NewFromString(rd.Price)
		tx.Receive = &stock.ReceiveDetails{
			Batch:         rd.Batch,
			Price:         price,
			ExpiryDate:    parseDate(rd.ExpiryDate),
			Schedule:      stock.Schedule(rd.Schedule),
			StockReceiver: rd.StockReceiver,
			OrderNumber:   rd.OrderNumber,
			Supplier:      rd.Supplier,
			InvoiceNumber: rd.InvoiceNumber,
		}
	}
	if dd := d.Dispense; dd != nil {
		tx.Dispense = &stock.DispenseDetails{
			Patient:       dd.Patient,
			Diagnoses:     dd.Diagnoses,
			Prescriber:    dd.Prescriber,
			Dispenser:     dd.Dispenser,
			Company:       dd.Company,
			Position:      dd.Position,
			AgeGroup:      dd.AgeGroup,
			Gender:        dd.Gender,
			SickLeaveDays: dd.SickLeaveDays,
			Date:          dd.Date,
		}
	}
	return tx
}

// =============================================================================
// LEDGER (stock.LedgerStore interface)
// =============================================================================

const transactionColumns = `seq, id, transaction_id, tx_type, medication_id, med_name, quantity,
	timestamp, status, revision, retired_at, user_name, details_json, created_at`

// Append adds a ledger entry.
func (c *conn) Append(ctx context.Context, tx stock.Transaction) (stock.EntryID, error) {
	if tx.ID == "" {
		tx.ID = stock.EntryID(uuid.NewString())
	}
	if tx.Status == "" {
		tx.Status = stock.StatusActive
	}
	if tx.Revision == 0 {
		tx.Revision = 1
	}
	detailsJSON, err := encodeDetails(tx)
	if err != nil {
		return "", fmt.Errorf("failed to encode transaction details: %w", err)
	}

	query := `
		INSERT INTO transactions
		(id, transaction_id, tx_type, medication_id, med_name, quantity, timestamp,
		 status, revision, user_name, details_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = c.q.ExecContext(ctx, query,
		tx.ID,
		tx.TransactionID,
		tx.Type,
		tx.MedicationID,
		tx.MedName,
		tx.Quantity,
		formatTime(tx.Timestamp),
		tx.Status,
		tx.Revision,
		nullString(tx.User),
		detailsJSON,
		formatTime(time.Now()),
	)
	if err != nil {
		return "", classify("append transaction", err)
	}
	return tx.ID, nil
}

// Find returns ledger entries matching filter.
func (c *conn) Find(ctx context.Context, f stock.Filter) ([]stock.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if !f.IncludeRetired {
		where = append(where, "status = ?")
		args = append(args, stock.StatusActive)
	}
	if f.MedicationID != "" {
		where = append(where, "medication_id = ?")
		args = append(args, f.MedicationID)
	}
	if f.TransactionID != "" {
		where = append(where, "transaction_id = ?")
		args = append(args, f.TransactionID)
	}
	if len(f.Types) > 0 {
		where = append(where, "tx_type IN (?)")
		args = append(args, f.Types)
	}
	if f.From != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, formatTime(ceilSecond(*f.From)))
	}
	if f.After != nil {
		where = append(where, "timestamp > ?")
		args = append(args, formatTime(*f.After))
	}
	if f.To != nil {
		where = append(where, "timestamp <= ?")
		args = append(args, formatTime(*f.To))
	}

	query := "SELECT " + transactionColumns + " FROM transactions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Order == stock.Descending {
		query += " ORDER BY timestamp DESC, seq DESC"
	} else {
		query += " ORDER BY timestamp ASC, seq ASC"
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction query: %w", err)
	}

	var rows []transactionRow
	if err := sqlx.SelectContext(ctx, c.q, &rows, c.q.Rebind(query), args...); err != nil {
		return nil, classify("find transactions", err)
	}

	result := make([]stock.Transaction, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toTransaction())
	}
	return result, nil
}

// Retire tombstones the active lines of a transaction group.
func (c *conn) Retire(ctx context.Context, id stock.TransactionID, status stock.EntryStatus, at time.Time) (int, error) {
	res, err := c.q.ExecContext(ctx, `
		UPDATE transactions SET status = ?, retired_at = ?
		WHERE transaction_id = ? AND status = ?
	`, status, formatTime(at), id, stock.StatusActive)
	if err != nil {
		return 0, classify("retire transaction", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("retire transaction", err)
	}
	return int(n), nil
}

// =============================================================================
// PROJECTION (stock.ProjectionStore interface)
// =============================================================================

const medicationColumns = `id, name, balance, batch, price, expiry_date, schedule,
	stock_receiver, order_number, supplier, invoice_number, created_at, updated_at`

func (c *conn) getMedication(ctx context.Context, where string, arg any) (*stock.Medication, error) {
	var row medicationRow
	err := sqlx.GetContext(ctx, c.q, &row, "SELECT "+medicationColumns+" FROM medications WHERE "+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, stock.ErrMedicationNotFound
	}
	if err != nil {
		return nil, classify("get medication", err)
	}
	med := row.toMedication()
	return &med, nil
}

func (c *conn) Medication(ctx context.Context, id stock.MedicationID) (*stock.Medication, error) {
	return c.getMedication(ctx, "id = ?", id)
}

func (c *conn) MedicationByName(ctx context.Context, name string) (*stock.Medication, error) {
	return c.getMedication(ctx, "name = ?", name)
}

func (c *conn) Medications(ctx context.Context) ([]stock.Medication, error) {
	var rows []medicationRow
	if err := sqlx.SelectContext(ctx, c.q, &rows, "SELECT "+medicationColumns+" FROM medications ORDER BY name"); err != nil {
		return nil, classify("list medications", err)
	}
	result := make([]stock.Medication, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toMedication())
	}
	return result, nil
}

// SuggestNames returns names starting with prefix (ASCII case-insensitive).
// SuggestNames matches in Go: SQLite's LIKE only folds ASCII case.
func (c *conn) SuggestNames(ctx context.Context, prefix string, limit int) ([]string, error) {
	var all []string
	err := sqlx.SelectContext(ctx, c.q, &all, `SELECT name FROM medications ORDER BY name`)
	if err != nil {
		return nil, classify("suggest names", err)
	}

	prefix = strings.TrimSpace(prefix)
	names := []string{}
	for _, name := range all {
		if !stock.HasPrefixFold(name, prefix) {
			continue
		}
		names = append(names, name)
		if limit > 0 && len(names) == limit {
			break
		}
	}
	return names, nil
}

func (c *conn) CreateMedication(ctx context.Context, med stock.Medication) error {
	if med.ID == "" {
		med.ID = stock.MedicationID(uuid.NewString())
	}
	if med.Schedule == "" {
		med.Schedule = stock.ScheduleNotControlled
	}
	now := formatTime(time.Now())
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO medications (`+medicationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		med.ID, med.Name, med.Balance, nullString(med.Batch), med.Price.String(),
		nullString(stock.FormatDate(med.ExpiryDate)), med.Schedule,
		nullString(med.StockReceiver), nullString(med.OrderNumber),
		nullString(med.Supplier), nullString(med.InvoiceNumber),
		now, now,
	)
	if isUniqueConstraintError(err) {
		return stock.ErrMedicationExists
	}
	return classify("create medication", err)
}

func (c *conn) UpsertOnReceive(ctx context.Context, med stock.Medication, qty int64) (*stock.Medication, error) {
	if qty <= 0 {
		return nil, stock.ErrInvalidQuantity
	}
	insertSchedule := med.Schedule
	if insertSchedule == "" {
		insertSchedule = stock.ScheduleNotControlled
	}
	now := formatTime(time.Now())

	_, err := c.q.ExecContext(ctx, `
		INSERT INTO medications (`+medicationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			balance = balance + excluded.balance,
			batch = excluded.batch,
			price = excluded.price,
			expiry_date = excluded.expiry_date,
			schedule = COALESCE(NULLIF(?, ''), medications.schedule),
			stock_receiver = excluded.stock_receiver,
			order_number = excluded.order_number,
			supplier = excluded.supplier,
			invoice_number = excluded.invoice_number,
			updated_at = excluded.updated_at
	`,
		uuid.NewString(), med.Name, qty, nullString(med.Batch), med.Price.String(),
		nullString(stock.FormatDate(med.ExpiryDate)), insertSchedule,
		nullString(med.StockReceiver), nullString(med.OrderNumber),
		nullString(med.Supplier), nullString(med.InvoiceNumber),
		now, now,
		string(med.Schedule),
	)
	if err != nil {
		return nil, classify("upsert medication", err)
	}
	return c.MedicationByName(ctx, med.Name)
}

func (c *conn) DecrementOnDispense(ctx context.Context, id stock.MedicationID, qty int64) (*stock.Medication, error) {
	if qty <= 0 {
		return nil, stock.ErrInvalidQuantity
	}
	res, err := c.q.ExecContext(ctx, `
		UPDATE medications SET balance = balance - ?, updated_at = ?
		WHERE id = ? AND balance >= ?
	`, qty, formatTime(time.Now()), id, qty)
	if err != nil {
		return nil, classify("decrement balance", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, classify("decrement balance", err)
	}

	med, err := c.Medication(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, &stock.InsufficientStockError{Medication: med.Name, Available: med.Balance, Requested: qty}
	}
	return med, nil
}

func (c *conn) IncrementBalance(ctx context.Context, id stock.MedicationID, qty int64) error {
	if qty <= 0 {
		return stock.ErrInvalidQuantity
	}
	res, err := c.q.ExecContext(ctx, `
		UPDATE medications SET balance = balance + ?, updated_at = ? WHERE id = ?
	`, qty, formatTime(time.Now()), id)
	return expectRow("increment balance", res, err)
}

func (c *conn) UpdateMedication(ctx context.Context, med stock.Medication) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE medications SET
			name = ?, batch = ?, price = ?, expiry_date = ?, schedule = ?,
			stock_receiver = ?, order_number = ?, supplier = ?, invoice_number = ?,
			updated_at = ?
		WHERE id = ?
	`,
		med.Name, nullString(med.Batch), med.Price.String(),
		nullString(stock.FormatDate(med.ExpiryDate)), med.Schedule,
		nullString(med.StockReceiver), nullString(med.OrderNumber),
		nullString(med.Supplier), nullString(med.InvoiceNumber),
		formatTime(time.Now()), med.ID,
	)
	if isUniqueConstraintError(err) {
		return stock.ErrMedicationExists
	}
	return expectRow("update medication", res, err)
}

func (c *conn) DeleteMedication(ctx context.Context, id stock.MedicationID) error {
	res, err := c.q.ExecContext(ctx, "DELETE FROM medications WHERE id = ?", id)
	return expectRow("delete medication", res, err)
}

func expectRow(op string, res sql.Result, err error) error {
	if err != nil {
		return classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(op, err)
	}
	if n == 0 {
		return stock.ErrMedicationNotFound
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (stock.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
// fn must only use the Store it is given: the single connection is held by
// the transaction until it ends.
func (s *Store) WithTx(ctx context.Context, fn func(store stock.Store) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}

	return classify("commit transaction", sqlTx.Commit())
}

// =============================================================================
// AUDIT LOG (stock.AuditLog interface)
// =============================================================================

type auditRow struct {
	ID          string         `db:"id"`
	Timestamp   string         `db:"timestamp"`
	Action      string         `db:"action"`
	TargetType  string         `db:"target_type"`
	TargetID    string         `db:"target_id"`
	ChangesJSON sql.NullString `db:"changes_json"`
	User        sql.NullString `db:"user_name"`
}

func (s *Store) AppendAudit(ctx context.Context, e stock.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = stock.Now()
	}
	changes, err := json.Marshal(e.Changes)
	if err != nil {
		return fmt.Errorf("failed to encode audit changes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, timestamp, action, target_type, target_id, changes_json, user_name)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, formatTime(e.Timestamp), e.Action, e.TargetType, e.TargetID, string(changes), nullString(e.User))
	return classify("append audit", err)
}

func (s *Store) QueryAudit(ctx context.Context, f stock.AuditFilter) ([]stock.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.TargetType != "" {
		where = append(where, "target_type = ?")
		args = append(args, f.TargetType)
	}
	if f.TargetID != "" {
		where = append(where, "target_id = ?")
		args = append(args, f.TargetID)
	}
	if len(f.Actions) > 0 {
		where = append(where, "action IN (?)")
		args = append(args, f.Actions)
	}
	if f.From != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, formatTime(ceilSecond(*f.From)))
	}
	if f.To != nil {
		where = append(where, "timestamp <= ?")
		args = append(args, formatTime(*f.To))
	}

	query := "SELECT id, timestamp, action, target_type, target_id, changes_json, user_name FROM audit_log"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, rowid DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to build audit query: %w", err)
	}

	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, classify("query audit", err)
	}

	result := make([]stock.AuditEntry, 0, len(rows))
	for _, r := range rows {
		e := stock.AuditEntry{
			ID:         r.ID,
			Timestamp:  parseTime(r.Timestamp),
			Action:     stock.AuditAction(r.Action),
			TargetType: r.TargetType,
			TargetID:   r.TargetID,
			User:       r.User.String,
		}
		if r.ChangesJSON.Valid {
			json.Unmarshal([]byte(r.ChangesJSON.String), &e.Changes)
		}
		result = append(result, e)
	}
	return result, nil
}

// =============================================================================
// ERROR LOG (stock.ErrorLog interface)
// =============================================================================

type errorLogRow struct {
	ID         string         `db:"id"`
	Timestamp  string         `db:"timestamp"`
	Level      string         `db:"level"`
	Message    string         `db:"message"`
	FieldsJSON sql.NullString `db:"fields_json"`
}

func (s *Store) SaveErrorLog(ctx context.Context, e stock.ErrorLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	fields, err := json.Marshal(e.Fields)
	if err != nil {
		fields = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO error_logs (id, timestamp, level, message, fields_json)
		VALUES (?, ?, ?, ?, ?)
	`, e.ID, formatTime(e.Timestamp), e.Level, e.Message, string(fields))
	return classify("save error log", err)
}

func (s *Store) ErrorLogs(ctx context.Context, limit int) ([]stock.ErrorLogEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	var rows []errorLogRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, timestamp, level, message, fields_json FROM error_logs
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, classify("list error logs", err)
	}
	result := make([]stock.ErrorLogEntry, 0, len(rows))
	for _, r := range rows {
		e := stock.ErrorLogEntry{
			ID:        r.ID,
			Timestamp: parseTime(r.Timestamp),
			Level:     r.Level,
			Message:   r.Message,
		}
		if r.FieldsJSON.Valid {
			json.Unmarshal([]byte(r.FieldsJSON.String), &e.Fields)
		}
		result = append(result, e)
	}
	return result, nil
}

// =============================================================================
// RECONCILIATION RUNS STORE
// =============================================================================

type runRow struct {
	ID          string         `db:"id"`
	Trigger     string         `db:"trigger_type"`
	Status      string         `db:"status"`
	Checked     int            `db:"checked"`
	DriftsJSON  sql.NullString `db:"drifts_json"`
	Error       sql.NullString `db:"error"`
	StartedAt   string         `db:"started_at"`
	CompletedAt string         `db:"completed_at"`
}

type driftJSON struct {
	MedicationID string `json:"medication_id"`
	Name         string `json:"name"`
	Projected    int64  `json:"projected"`
	Ledger       int64  `json:"ledger"`
}

// SaveReconciliationRun saves a reconciliation run.
func (s *Store) SaveReconciliationRun(ctx context.Context, r stock.ReconciliationRun) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	drifts := make([]driftJSON, 0, len(r.Drifts))
	for _, d := range r.Drifts {
		drifts = append(drifts, driftJSON{
			MedicationID: string(d.Medication.ID),
			Name:         d.Medication.Name,
			Projected:    d.Projected,
			Ledger:       d.Ledger,
		})
	}
	driftsJSON, _ := json.Marshal(drifts)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_runs (id, trigger_type, status, checked, drifts_json, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Trigger, r.Status, r.Checked, string(driftsJSON), nullString(r.Error),
		formatTime(r.StartedAt), formatTime(r.CompletedAt))
	return classify("save reconciliation run", err)
}

// ReconciliationRuns returns runs newest first.
func (s *Store) ReconciliationRuns(ctx context.Context, limit int) ([]stock.ReconciliationRun, error) {
	if limit <= 0 {
		limit = -1
	}
	var rows []runRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, trigger_type, status, checked, drifts_json, error, started_at, completed_at
		FROM reconciliation_runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, classify("list reconciliation runs", err)
	}

	runs := make([]stock.ReconciliationRun, 0, len(rows))
	for _, r := range rows {
		run := stock.ReconciliationRun{
			ID:          r.ID,
			Trigger:     r.Trigger,
			Status:      r.Status,
			Checked:     r.Checked,
			Error:       r.Error.String,
			StartedAt:   parseTime(r.StartedAt),
			CompletedAt: parseTime(r.CompletedAt),
		}
		var drifts []driftJSON
		if r.DriftsJSON.Valid {
			json.Unmarshal([]byte(r.DriftsJSON.String), &drifts)
		}
		for _, d := range drifts {
			run.Drifts = append(run.Drifts, stock.Drift{
				Medication: stock.Medication{ID: stock.MedicationID(d.MedicationID), Name: d.Name},
				Projected:  d.Projected,
				Ledger:     d.Ledger,
			})
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo). The ledger's delete guard is
// dropped for the duration and recreated by migrate.
func (s *Store) Reset(ctx context.Context) error {
	statements := []string{
		"DROP TRIGGER IF EXISTS trg_transactions_no_delete",
		"DELETE FROM transactions",
		"DELETE FROM medications",
		"DELETE FROM audit_log",
		"DELETE FROM error_logs",
		"DELETE FROM reconciliation_runs",
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify("reset", err)
	}
	defer tx.Rollback()
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return classify("reset", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return classify("reset", err)
	}
	return s.migrate()
}

func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := stock.ParseDate(s)
	return t
}

// ceilSecond rounds up to the next whole second so that ">= t" keeps its
// meaning against second-precision timestamps.
func ceilSecond(t time.Time) time.Time {
	trunc := t.Truncate(time.Second)
	if trunc.Equal(t) {
		return t
	}
	return trunc.Add(time.Second)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// classify wraps connectivity and timeout failures as stock.StoreError so
// callers can tell them apart from bad input.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUnavailable(err) {
		return &stock.StoreError{Op: op, Err: err}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen, sqlite3.ErrIoErr:
			return true
		}
	}
	return strings.Contains(err.Error(), "database is closed")
}
