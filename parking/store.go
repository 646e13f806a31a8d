/*
store.go - Persistence interface for slots, sessions, config and events

PURPOSE:
  Defines the boundary between the Engine and the database. The Engine
  never holds a global database handle; it is given a TxStore and performs
  every write through WithTx so that a slot update, a session change and
  an event append are committed together or not at all.

KEY INTERFACES:
  Store:   Row-level reads and writes, used inside a transaction
  TxStore: Transaction boundaries (WithTx for writes, View for reads)

SERIALIZATION:
  WithTx implementations MUST serialize with every other WithTx call on
  the same store (a single write lock is sufficient). The open-session
  check in ReportOccupancy relies on it: two concurrent "occupied" reports
  for one slot would otherwise both observe no open session.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Durable SQLite store
  - parking/store/memory.go: In-memory store for tests and dev

SEE ALSO:
  - engine.go: The only caller
*/
package parking

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store reads and writes individual records.
type Store interface {
	// GetConfig returns the lot configuration singleton.
	GetConfig(ctx context.Context) (LotConfig, error)

	// InsertConfigIfAbsent creates the singleton unless it exists, and
	// returns the stored value either way.
	InsertConfigIfAbsent(ctx context.Context, cfg LotConfig) (LotConfig, error)

	// UpdatePrice changes the configured price per minute.
	UpdatePrice(ctx context.Context, price decimal.Decimal) error

	// GetSlot returns ErrSlotNotFound for unknown ids.
	GetSlot(ctx context.Context, id SlotID) (Slot, error)

	// ListSlots returns all slots ordered by id.
	ListSlots(ctx context.Context) ([]Slot, error)

	// InsertSlotIfAbsent creates a slot row unless it exists.
	// Returns true when a row was created.
	InsertSlotIfAbsent(ctx context.Context, slot Slot) (bool, error)

	// UpdateSlot persists occupancy and last update time.
	UpdateSlot(ctx context.Context, slot Slot) error

	// CreateSession inserts a session and returns its assigned id.
	CreateSession(ctx context.Context, s Session) (SessionID, error)

	// GetSession returns ErrSessionNotFound for unknown ids.
	GetSession(ctx context.Context, id SessionID) (Session, error)

	// OpenSessionForSlot returns the open session on a slot, if any.
	OpenSessionForSlot(ctx context.Context, slot SlotID) (Session, bool, error)

	// ListSessions returns sessions newest first.
	ListSessions(ctx context.Context, filter SessionFilter) ([]Session, error)

	// UpdateSession persists EndTime and PaidAmount. It must refuse to
	// overwrite an already set PaidAmount (ErrSessionAlreadyPaid).
	UpdateSession(ctx context.Context, s Session) error

	// AppendEvent adds an event to the log. Append-only.
	AppendEvent(ctx context.Context, e Event) (EventID, error)

	// RecentEvents returns up to limit events, newest first.
	RecentEvents(ctx context.Context, limit int) ([]Event, error)
}

// TxStore adds transaction boundaries to Store.
type TxStore interface {
	// WithTx runs fn in a serialized write transaction.
	// If fn returns an error, every write made through the given Store is
	// discarded.
	WithTx(ctx context.Context, fn func(Store) error) error

	// View runs fn against a consistent committed snapshot. Writes through
	// the given Store are not allowed.
	View(ctx context.Context, fn func(Store) error) error
}
