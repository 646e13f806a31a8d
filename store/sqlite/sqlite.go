/*
Package sqlite provides a SQLite-backed implementation of parking.TxStore.

PURPOSE:
  Durable storage for the four record types of the lot: the config
  singleton, slots, parking sessions and the event log. State survives
  process restarts; parking.Bootstrap provisions missing rows on startup.

KEY TABLES:
  lot_config:       Singleton (id = 1), capacity and price
  slots:            One row per slot id, never deleted
  parking_sessions: Sessions; end_time / paid_amount NULL while open / unpaid
  event_log:        Append-only sensor audit trail

INVARIANTS ENFORCED BY THE SCHEMA:
  - idx_sessions_open_slot: at most one open session per slot
  - CHECK on parking_sessions: paid_amount requires end_time
  - UpdateSession only touches rows whose paid_amount IS NULL

CONCURRENCY:
  WithTx holds the write side of a sync.RWMutex for the whole database
  transaction, which serializes every reconcile/stop/pay call. View holds
  the read side and a read-only transaction, so readers never observe a
  transaction in progress.

VALUES:
  Timestamps are RFC3339 (nanosecond) UTC text. Money is decimal text so
  no float rounding sneaks into stored amounts.

USAGE:
  store, err := sqlite.New("./data/parking.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := parking.NewEngine(store, parking.SystemClock{})

SEE ALSO:
  - parking/store.go: Interface definitions
  - parking/store/memory.go: In-memory implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"gopkg.in/guregu/null.v4"

	"github.com/warp/parking-engine/parking"
)

// Store implements parking.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
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

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS lot_config (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		total_spots INTEGER NOT NULL CHECK (total_spots > 0),
		price_per_minute TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS slots (
		id INTEGER PRIMARY KEY CHECK (id > 0),
		occupied BOOLEAN NOT NULL DEFAULT FALSE,
		last_update TEXT NOT NULL
	);

	-- slot_id is not a foreign key: plate entries may carry an advisory
	-- slot number that is not validated against the registry.
	CREATE TABLE IF NOT EXISTS parking_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		plate TEXT NOT NULL,
		slot_id INTEGER,
		start_time TEXT NOT NULL,
		end_time TEXT,
		paid_amount TEXT,
		CHECK (paid_amount IS NULL OR end_time IS NOT NULL)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_open_slot
		ON parking_sessions(slot_id)
		WHERE end_time IS NULL AND slot_id IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_sessions_open
		ON parking_sessions(id) WHERE end_time IS NULL;

	CREATE TABLE IF NOT EXISTS event_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		ts TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (parking.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store parking.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// View executes a function within a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(store parking.Store) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, readOnly: true}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

var errReadOnly = errors.New("sqlite store: write inside View")

type txStore struct {
	tx       *sql.Tx
	readOnly bool
}

// =============================================================================
// LOT CONFIG
// =============================================================================

func (ts *txStore) GetConfig(ctx context.Context) (parking.LotConfig, error) {
	var (
		cfg   parking.LotConfig
		price string
	)
	err := ts.tx.QueryRowContext(ctx,
		"SELECT total_spots, price_per_minute FROM lot_config WHERE id = ?",
		parking.ConfigID,
	).Scan(&cfg.TotalSpots, &price)
	if errors.Is(err, sql.ErrNoRows) {
		return cfg, errors.New("lot config not initialized")
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to load lot config: %w", err)
	}

	cfg.PricePerMinute, err = decimal.NewFromString(price)
	if err != nil {
		return cfg, fmt.Errorf("invalid stored price_per_minute %q: %w", price, err)
	}
	return cfg, nil
}

func (ts *txStore) InsertConfigIfAbsent(ctx context.Context, cfg parking.LotConfig) (parking.LotConfig, error) {
	if !ts.readOnly {
		_, err := ts.tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO lot_config (id, total_spots, price_per_minute) VALUES (?, ?, ?)",
			parking.ConfigID, cfg.TotalSpots, cfg.PricePerMinute.String(),
		)
		if err != nil {
			return parking.LotConfig{}, fmt.Errorf("failed to insert lot config: %w", err)
		}
	}
	return ts.GetConfig(ctx)
}

func (ts *txStore) UpdatePrice(ctx context.Context, price decimal.Decimal) error {
	if ts.readOnly {
		return errReadOnly
	}
	res, err := ts.tx.ExecContext(ctx,
		"UPDATE lot_config SET price_per_minute = ? WHERE id = ?",
		price.String(), parking.ConfigID,
	)
	if err != nil {
		return fmt.Errorf("failed to update price: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.New("lot config not initialized")
	}
	return nil
}

// =============================================================================
// SLOTS
// =============================================================================

func (ts *txStore) GetSlot(ctx context.Context, id parking.SlotID) (parking.Slot, error) {
	row := ts.tx.QueryRowContext(ctx,
		"SELECT id, occupied, last_update FROM slots WHERE id = ?", id)
	slot, err := scanSlot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return parking.Slot{}, fmt.Errorf("slot %d: %w", id, parking.ErrSlotNotFound)
	}
	return slot, err
}

func (ts *txStore) ListSlots(ctx context.Context) ([]parking.Slot, error) {
	rows, err := ts.tx.QueryContext(ctx,
		"SELECT id, occupied, last_update FROM slots ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query slots: %w", err)
	}
	defer rows.Close()

	var slots []parking.Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

func (ts *txStore) InsertSlotIfAbsent(ctx context.Context, slot parking.Slot) (bool, error) {
	if ts.readOnly {
		return false, errReadOnly
	}
	res, err := ts.tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO slots (id, occupied, last_update) VALUES (?, ?, ?)",
		slot.ID, slot.Occupied, formatTime(slot.LastUpdate),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert slot: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (ts *txStore) UpdateSlot(ctx context.Context, slot parking.Slot) error {
	if ts.readOnly {
		return errReadOnly
	}
	res, err := ts.tx.ExecContext(ctx,
		"UPDATE slots SET occupied = ?, last_update = ? WHERE id = ?",
		slot.Occupied, formatTime(slot.LastUpdate), slot.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update slot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("slot %d: %w", slot.ID, parking.ErrSlotNotFound)
	}
	return nil
}

// =============================================================================
// SESSIONS
// =============================================================================

const sessionColumns = "id, plate, slot_id, start_time, end_time, paid_amount"

func (ts *txStore) CreateSession(ctx context.Context, sess parking.Session) (parking.SessionID, error) {
	if ts.readOnly {
		return 0, errReadOnly
	}
	res, err := ts.tx.ExecContext(ctx,
		"INSERT INTO parking_sessions (plate, slot_id, start_time, end_time, paid_amount) VALUES (?, ?, ?, ?, ?)",
		sess.Plate, sess.SlotID, formatTime(sess.StartTime),
		formatNullTime(sess.EndTime), formatNullDecimal(sess.PaidAmount),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, parking.ErrSlotSessionOpen
		}
		return 0, fmt.Errorf("failed to insert session: %w", err)
	}
	id, err := res.LastInsertId()
	return parking.SessionID(id), err
}

func (ts *txStore) GetSession(ctx context.Context, id parking.SessionID) (parking.Session, error) {
	row := ts.tx.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM parking_sessions WHERE id = ?", id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return parking.Session{}, fmt.Errorf("session %d: %w", id, parking.ErrSessionNotFound)
	}
	return sess, err
}

func (ts *txStore) OpenSessionForSlot(ctx context.Context, slot parking.SlotID) (parking.Session, bool, error) {
	row := ts.tx.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM parking_sessions WHERE slot_id = ? AND end_time IS NULL LIMIT 1", slot)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return parking.Session{}, false, nil
	}
	if err != nil {
		return parking.Session{}, false, err
	}
	return sess, true, nil
}

func (ts *txStore) ListSessions(ctx context.Context, filter parking.SessionFilter) ([]parking.Session, error) {
	query := "SELECT " + sessionColumns + " FROM parking_sessions"
	if filter.ActiveOnly {
		query += " WHERE end_time IS NULL"
	}
	query += " ORDER BY id DESC"
	var args []any
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := ts.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []parking.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (ts *txStore) UpdateSession(ctx context.Context, sess parking.Session) error {
	if ts.readOnly {
		return errReadOnly
	}
	res, err := ts.tx.ExecContext(ctx,
		"UPDATE parking_sessions SET end_time = ?, paid_amount = ? WHERE id = ? AND paid_amount IS NULL",
		formatNullTime(sess.EndTime), formatNullDecimal(sess.PaidAmount), sess.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either the row is gone or it was already paid.
		if _, err := ts.GetSession(ctx, sess.ID); err != nil {
			return err
		}
		return fmt.Errorf("session %d: %w", sess.ID, parking.ErrSessionAlreadyPaid)
	}
	return nil
}

// =============================================================================
// EVENT LOG
// =============================================================================

func (ts *txStore) AppendEvent(ctx context.Context, e parking.Event) (parking.EventID, error) {
	if ts.readOnly {
		return 0, errReadOnly
	}
	res, err := ts.tx.ExecContext(ctx,
		"INSERT INTO event_log (event_type, payload, ts) VALUES (?, ?, ?)",
		string(e.Type), e.Payload, formatTime(e.Timestamp),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to append event: %w", err)
	}
	id, err := res.LastInsertId()
	return parking.EventID(id), err
}

func (ts *txStore) RecentEvents(ctx context.Context, limit int) ([]parking.Event, error) {
	rows, err := ts.tx.QueryContext(ctx,
		"SELECT id, event_type, payload, ts FROM event_log ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []parking.Event
	for rows.Next() {
		var (
			e     parking.Event
			eType string
			ts    string
		)
		if err := rows.Scan(&e.ID, &eType, &e.Payload, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Type = parking.EventType(eType)
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanSlot(row scanner) (parking.Slot, error) {
	var (
		slot       parking.Slot
		lastUpdate string
	)
	if err := row.Scan(&slot.ID, &slot.Occupied, &lastUpdate); err != nil {
		return slot, err
	}
	var err error
	slot.LastUpdate, err = parseTime(lastUpdate)
	return slot, err
}

func scanSession(row scanner) (parking.Session, error) {
	var (
		sess       parking.Session
		startTime  string
		endTime    sql.NullString
		paidAmount sql.NullString
	)
	if err := row.Scan(&sess.ID, &sess.Plate, &sess.SlotID, &startTime, &endTime, &paidAmount); err != nil {
		return sess, err
	}

	var err error
	if sess.StartTime, err = parseTime(startTime); err != nil {
		return sess, err
	}
	if endTime.Valid {
		t, err := parseTime(endTime.String)
		if err != nil {
			return sess, err
		}
		sess.EndTime = null.TimeFrom(t)
	}
	if paidAmount.Valid {
		amount, err := decimal.NewFromString(paidAmount.String)
		if err != nil {
			return sess, fmt.Errorf("invalid stored paid_amount %q: %w", paidAmount.String, err)
		}
		sess.PaidAmount = decimal.NewNullDecimal(amount)
	}
	return sess, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func formatNullTime(t null.Time) sql.NullString {
	if !t.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t.Time), Valid: true}
}

func formatNullDecimal(d decimal.NullDecimal) sql.NullString {
	if !d.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: d.Decimal.String(), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}
