// Package store provides the local relational store for orders, line items
// and sync bookkeeping.
//
// The database is embedded SQLite (WAL mode for concurrent readers) opened
// through the ncruces/go-sqlite3 driver; DSNs with a libsql/wss scheme open
// through the go-libsql driver instead, so the store can live on an
// embedded libSQL replica.
//
// Besides the business tables (orders, order_lines) the store carries the
// sync engine's bookkeeping:
//   - line_id_map: opaque remote line ids, stable across reruns
//   - order_snapshots: committed line snapshots for change diffing
//   - sync_meta: the persisted sync-window cutoff
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TinchoProyect/sincronizador-etiquetas-dev-sub004/internal/engine"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// timeLayout stores timestamps in UTC with a fixed-width fraction so that
// lexical comparison in SQL matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps the database connection with order-domain functionality.
type Store struct {
	conn *sql.DB
	dsn  string
}

// Open creates a database connection for the given DSN. Plain paths open
// an embedded SQLite file (created if missing, parent directory included);
// libsql://, wss:// and https:// DSNs open a libSQL connection.
//
// The caller must Close() when done.
func Open(dsn string) (*Store, error) {
	var conn *sql.DB
	var err error

	if isLibsqlDSN(dsn) {
		conn, err = sql.Open("libsql", dsn)
	} else {
		if dir := filepath.Dir(dsn); dir != "." && dir != "/" {
			if mkErr := os.MkdirAll(dir, 0755); mkErr != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", mkErr)
			}
		}
		conn, err = sql.Open("sqlite3", "file:"+strings.TrimPrefix(dsn, "file:"))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, dsn: dsn}

	if !isLibsqlDSN(dsn) {
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA foreign_keys=ON",
		} {
			if _, err := conn.Exec(pragma); err != nil {
				_ = s.Close()
				return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
			}
		}
	}
	return s, nil
}

func isLibsqlDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "libsql://") ||
		strings.HasPrefix(dsn, "wss://") ||
		strings.HasPrefix(dsn, "https://")
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close closes the connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if !isLibsqlDSN(s.dsn) {
		if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
		}
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates the schema if it doesn't exist. Idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL DEFAULT '',
		issue_date TEXT,
		delivery_date TEXT,
		agent TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		doc_type TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		discount REAL NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS order_lines (
		order_id TEXT NOT NULL,
		article TEXT NOT NULL,
		quantity REAL NOT NULL DEFAULT 0,
		unit_price REAL NOT NULL DEFAULT 0,
		tax REAL NOT NULL DEFAULT 0,
		adjustment REAL NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (order_id, article),
		FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS line_id_map (
		order_id TEXT NOT NULL,
		article TEXT NOT NULL,
		line_id TEXT NOT NULL,
		PRIMARY KEY (order_id, article)
	);

	CREATE TABLE IF NOT EXISTS order_snapshots (
		order_id TEXT NOT NULL,
		article TEXT NOT NULL,
		quantity REAL NOT NULL DEFAULT 0,
		unit_price REAL NOT NULL DEFAULT 0,
		taken_at TEXT NOT NULL,
		PRIMARY KEY (order_id, article)
	);

	CREATE TABLE IF NOT EXISTS sync_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_orders_updated ON orders(updated_at);
	CREATE INDEX IF NOT EXISTS idx_orders_active_updated ON orders(active, updated_at);
	CREATE INDEX IF NOT EXISTS idx_lines_order ON order_lines(order_id);
	CREATE INDEX IF NOT EXISTS idx_lines_updated ON order_lines(updated_at);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// InsertOrder creates a header that must not exist yet.
func (s *Store) InsertOrder(ctx context.Context, o *engine.Order) error {
	if err := o.Validate(); err != nil {
		return fmt.Errorf("invalid order: %w", err)
	}
	query := `
	INSERT INTO orders (
		id, client_id, issue_date, delivery_date, agent,
		note, doc_type, status, discount, active, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.conn.ExecContext(ctx, query,
		o.ID, o.ClientID,
		timeToNullString(o.IssueDate), timeToNullString(o.DeliveryDate),
		o.Agent, o.Note, o.DocType, o.Status, o.Discount,
		boolToInt(o.Active), o.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert order %s: %w", o.ID, err)
	}
	return nil
}

// UpdateOrderHeader overwrites the header fields of an existing order.
func (s *Store) UpdateOrderHeader(ctx context.Context, o *engine.Order) error {
	if err := o.Validate(); err != nil {
		return fmt.Errorf("invalid order: %w", err)
	}
	query := `
	UPDATE orders SET
		client_id = ?, issue_date = ?, delivery_date = ?, agent = ?,
		note = ?, doc_type = ?, status = ?, discount = ?, active = ?,
		updated_at = ?
	WHERE id = ?
	`
	res, err := s.conn.ExecContext(ctx, query,
		o.ClientID,
		timeToNullString(o.IssueDate), timeToNullString(o.DeliveryDate),
		o.Agent, o.Note, o.DocType, o.Status, o.Discount,
		boolToInt(o.Active), o.UpdatedAt.UTC().Format(timeLayout),
		o.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w", o.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("order %s does not exist", o.ID)
	}
	return nil
}

// UpsertOrder inserts or updates a header. Used by business-side callers
// and test fixtures; the sync engine itself distinguishes insert from
// update.
func (s *Store) UpsertOrder(ctx context.Context, o *engine.Order) error {
	if err := o.Validate(); err != nil {
		return fmt.Errorf("invalid order: %w", err)
	}
	query := `
	INSERT INTO orders (
		id, client_id, issue_date, delivery_date, agent,
		note, doc_type, status, discount, active, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		client_id = excluded.client_id,
		issue_date = excluded.issue_date,
		delivery_date = excluded.delivery_date,
		agent = excluded.agent,
		note = excluded.note,
		doc_type = excluded.doc_type,
		status = excluded.status,
		discount = excluded.discount,
		active = excluded.active,
		updated_at = excluded.updated_at
	`
	_, err := s.conn.ExecContext(ctx, query,
		o.ID, o.ClientID,
		timeToNullString(o.IssueDate), timeToNullString(o.DeliveryDate),
		o.Agent, o.Note, o.DocType, o.Status, o.Discount,
		boolToInt(o.Active), o.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert order %s: %w", o.ID, err)
	}
	return nil
}

// GetOrder returns the header for id, or nil when absent.
func (s *Store) GetOrder(ctx context.Context, id string) (*engine.Order, error) {
	query := `
	SELECT id, client_id, issue_date, delivery_date, agent,
	       note, doc_type, status, discount, active, updated_at
	FROM orders WHERE id = ?
	`
	row := s.conn.QueryRowContext(ctx, query, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", id, err)
	}
	return o, nil
}

// OrderExists implements engine.ParentLookup.
func (s *Store) OrderExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.conn.QueryRowContext(ctx, "SELECT 1 FROM orders WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check order %s: %w", id, err)
	}
	return true, nil
}

// ListCancelledSince returns inactive orders whose authoritative
// last-modified (header or lines) falls after since.
func (s *Store) ListCancelledSince(ctx context.Context, since time.Time) ([]*engine.Order, error) {
	return s.listOrdersSince(ctx, since, 0)
}

// ListModifiedSince returns active orders whose authoritative
// last-modified (header or lines) falls after since.
func (s *Store) ListModifiedSince(ctx context.Context, since time.Time) ([]*engine.Order, error) {
	return s.listOrdersSince(ctx, since, 1)
}

func (s *Store) listOrdersSince(ctx context.Context, since time.Time, active int) ([]*engine.Order, error) {
	cutoff := since.UTC().Format(timeLayout)
	query := `
	SELECT o.id, o.client_id, o.issue_date, o.delivery_date, o.agent,
	       o.note, o.doc_type, o.status, o.discount, o.active, o.updated_at
	FROM orders o
	WHERE o.active = ?
	  AND (o.updated_at > ?
	       OR EXISTS (SELECT 1 FROM order_lines l
	                  WHERE l.order_id = o.id AND l.updated_at > ?))
	ORDER BY o.updated_at ASC, o.id ASC
	`
	rows, err := s.conn.QueryContext(ctx, query, active, cutoff, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

// LinesForOrder returns the live lines of an order.
func (s *Store) LinesForOrder(ctx context.Context, orderID string) ([]*engine.Line, error) {
	query := `
	SELECT order_id, article, quantity, unit_price, tax, adjustment, updated_at
	FROM order_lines WHERE order_id = ?
	ORDER BY article ASC
	`
	rows, err := s.conn.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lines for %s: %w", orderID, err)
	}
	defer rows.Close()

	var lines []*engine.Line
	for rows.Next() {
		var l engine.Line
		var updatedAt string
		if err := rows.Scan(&l.OrderID, &l.Article, &l.Quantity, &l.UnitPrice,
			&l.Tax, &l.Adjustment, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan line: %w", err)
		}
		l.UpdatedAt = parseStoredTime(updatedAt)
		lines = append(lines, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lines: %w", err)
	}
	return lines, nil
}

// ReplaceLines atomically swaps all lines of an order inside one
// transaction: delete, then insert the new set.
func (s *Store) ReplaceLines(ctx context.Context, orderID string, lines []*engine.Line) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM order_lines WHERE order_id = ?", orderID); err != nil {
		return fmt.Errorf("failed to clear lines for %s: %w", orderID, err)
	}

	query := `
	INSERT INTO order_lines (order_id, article, quantity, unit_price, tax, adjustment, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(order_id, article) DO UPDATE SET
		quantity = excluded.quantity,
		unit_price = excluded.unit_price,
		tax = excluded.tax,
		adjustment = excluded.adjustment,
		updated_at = excluded.updated_at
	`
	for _, l := range lines {
		if err := l.Validate(); err != nil {
			return fmt.Errorf("invalid line: %w", err)
		}
		ts := l.UpdatedAt
		if ts.IsZero() {
			ts = time.Now()
		}
		if _, err := tx.ExecContext(ctx, query,
			orderID, l.Article, l.Quantity, l.UnitPrice, l.Tax, l.Adjustment,
			ts.UTC().Format(timeLayout)); err != nil {
			return fmt.Errorf("failed to insert line %s/%s: %w", orderID, l.Article, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit line replacement for %s: %w", orderID, err)
	}
	return nil
}

// LineID returns the persisted opaque remote id for a logical line, or ""
// when none was assigned yet.
func (s *Store) LineID(ctx context.Context, orderID, article string) (string, error) {
	var id string
	err := s.conn.QueryRowContext(ctx,
		"SELECT line_id FROM line_id_map WHERE order_id = ? AND article = ?",
		orderID, article).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up line id for %s/%s: %w", orderID, article, err)
	}
	return id, nil
}

// SaveLineID persists the opaque remote id for a logical line.
func (s *Store) SaveLineID(ctx context.Context, orderID, article, lineID string) error {
	query := `
	INSERT INTO line_id_map (order_id, article, line_id)
	VALUES (?, ?, ?)
	ON CONFLICT(order_id, article) DO UPDATE SET line_id = excluded.line_id
	`
	if _, err := s.conn.ExecContext(ctx, query, orderID, article, lineID); err != nil {
		return fmt.Errorf("failed to save line id for %s/%s: %w", orderID, article, err)
	}
	return nil
}

// SnapshotLines returns the last committed snapshot of an order's lines.
func (s *Store) SnapshotLines(ctx context.Context, orderID string) ([]*engine.Line, error) {
	query := `
	SELECT order_id, article, quantity, unit_price
	FROM order_snapshots WHERE order_id = ?
	ORDER BY article ASC
	`
	rows, err := s.conn.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot for %s: %w", orderID, err)
	}
	defer rows.Close()

	var lines []*engine.Line
	for rows.Next() {
		var l engine.Line
		if err := rows.Scan(&l.OrderID, &l.Article, &l.Quantity, &l.UnitPrice); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot line: %w", err)
		}
		lines = append(lines, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot: %w", err)
	}
	return lines, nil
}

// SaveSnapshot replaces the committed snapshot of an order's lines.
// Called at commit events (printing) and after pulls.
func (s *Store) SaveSnapshot(ctx context.Context, orderID string, lines []*engine.Line) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM order_snapshots WHERE order_id = ?", orderID); err != nil {
		return fmt.Errorf("failed to clear snapshot for %s: %w", orderID, err)
	}

	takenAt := time.Now().UTC().Format(timeLayout)
	for _, l := range lines {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO order_snapshots (order_id, article, quantity, unit_price, taken_at) VALUES (?, ?, ?, ?, ?)",
			orderID, l.Article, l.Quantity, l.UnitPrice, takenAt); err != nil {
			return fmt.Errorf("failed to insert snapshot line %s/%s: %w", orderID, l.Article, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot for %s: %w", orderID, err)
	}
	return nil
}

// syncWindowKey is the sync_meta key holding the cutoff timestamp.
const syncWindowKey = "sync_window"

// SyncWindow returns the persisted cutoff, or the zero time when the store
// has never completed a sync.
func (s *Store) SyncWindow(ctx context.Context) (time.Time, error) {
	var value string
	err := s.conn.QueryRowContext(ctx,
		"SELECT value FROM sync_meta WHERE key = ?", syncWindowKey).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read sync window: %w", err)
	}
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt sync window %q: %w", value, err)
	}
	return t, nil
}

// SetSyncWindow persists a new cutoff.
func (s *Store) SetSyncWindow(ctx context.Context, t time.Time) error {
	query := `
	INSERT INTO sync_meta (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := s.conn.ExecContext(ctx, query, syncWindowKey, t.UTC().Format(timeLayout)); err != nil {
		return fmt.Errorf("failed to persist sync window: %w", err)
	}
	return nil
}

// OrderCount returns the total number of orders.
func (s *Store) OrderCount(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}
	return count, nil
}

// LineCount returns the total number of order lines.
func (s *Store) LineCount(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM order_lines").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count lines: %w", err)
	}
	return count, nil
}

// scanner abstracts sql.Row and sql.Rows for scanOrder.
type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*engine.Order, error) {
	var o engine.Order
	var issueDate, deliveryDate sql.NullString
	var active int
	var updatedAt string

	err := row.Scan(&o.ID, &o.ClientID, &issueDate, &deliveryDate, &o.Agent,
		&o.Note, &o.DocType, &o.Status, &o.Discount, &active, &updatedAt)
	if err != nil {
		return nil, err
	}
	o.IssueDate = nullStringToTime(issueDate)
	o.DeliveryDate = nullStringToTime(deliveryDate)
	o.Active = active != 0
	o.UpdatedAt = parseStoredTime(updatedAt)
	return &o, nil
}

func scanOrders(rows *sql.Rows) ([]*engine.Order, error) {
	var orders []*engine.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	return orders, nil
}

func timeToNullString(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func nullStringToTime(ns sql.NullString) time.Time {
	if !ns.Valid {
		return time.Time{}
	}
	return parseStoredTime(ns.String)
}

func parseStoredTime(value string) time.Time {
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
