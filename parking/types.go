/*
Package parking provides the slot-to-session reconciliation engine.

PURPOSE:
  Tracks occupancy of a fixed set of parking slots and derives billable
  parking sessions from raw sensor transitions. A slot being occupied and
  a session being open on that slot are two separately stored facts; the
  Engine keeps them consistent even when sensors report duplicate or
  out-of-order states.

KEY CONCEPTS IN THIS FILE (types.go):
  - Slot:      A physical space, 1..TotalSpots, with an occupancy flag
  - LotConfig: The singleton lot configuration (capacity, price)
  - Session:   A billable interval, optionally tied to a slot
  - Event:     An append-only audit record of sensor reports

OPTIONAL FIELDS:
  Session.SlotID, Session.EndTime and Session.PaidAmount are explicit
  optional types (null.Int, null.Time, decimal.NullDecimal). Use the
  IsOpen/IsPaid/HasSlot methods instead of comparing against zero values.

SEE ALSO:
  - engine.go: Reconciliation and session lifecycle operations
  - billing.go: Amount computation
  - store.go: Persistence interfaces
*/
package parking

import (
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/guregu/null.v4"
)

// UnknownPlate is stored when a session is created without a recognized plate.
const UnknownPlate = "UNKNOWN"

// ConfigID is the fixed identity of the LotConfig singleton.
const ConfigID = 1

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SlotID int

type SessionID int64

type EventID int64

// =============================================================================
// SLOT
// =============================================================================

// Slot is a single tracked parking space.
type Slot struct {
	ID         SlotID
	Occupied   bool
	LastUpdate time.Time
}

// =============================================================================
// LOT CONFIG
// =============================================================================

// LotConfig is the singleton configuration of the parking lot.
type LotConfig struct {
	TotalSpots     int
	PricePerMinute decimal.Decimal
}

// DefaultLotConfig matches the defaults the lot is provisioned with.
func DefaultLotConfig() LotConfig {
	return LotConfig{
		TotalSpots:     4,
		PricePerMinute: decimal.RequireFromString("0.05"),
	}
}

// Validate checks the configuration invariants.
func (c LotConfig) Validate() error {
	if c.TotalSpots <= 0 {
		return invalidInput("total_spots must be positive, got %d", c.TotalSpots)
	}
	if c.PricePerMinute.IsNegative() {
		return invalidInput("price_per_minute must not be negative, got %s", c.PricePerMinute)
	}
	return nil
}

// =============================================================================
// SESSION
// =============================================================================

// Session is a billable parking interval.
//
// INVARIANTS:
//   - At most one open session per slot
//   - PaidAmount is set only after EndTime
//   - PaidAmount never changes once set
type Session struct {
	ID         SessionID
	Plate      string
	SlotID     null.Int
	StartTime  time.Time
	EndTime    null.Time
	PaidAmount decimal.NullDecimal
}

func (s Session) IsOpen() bool  { return !s.EndTime.Valid }
func (s Session) IsPaid() bool  { return s.PaidAmount.Valid }
func (s Session) HasSlot() bool { return s.SlotID.Valid }

// Stop closes the session at the given time.
func (s *Session) Stop(at time.Time) error {
	if !s.IsOpen() {
		return ErrSessionAlreadyStopped
	}
	s.EndTime = null.TimeFrom(at)
	return nil
}

// Pay records the paid amount. The session must be stopped and unpaid.
func (s *Session) Pay(amount decimal.Decimal) error {
	if s.IsOpen() {
		return ErrSessionNotStopped
	}
	if s.IsPaid() {
		return ErrSessionAlreadyPaid
	}
	s.PaidAmount = decimal.NewNullDecimal(amount)
	return nil
}

// SessionFilter narrows ListSessions results.
type SessionFilter struct {
	ActiveOnly bool
	Limit      int
}

// =============================================================================
// EVENT LOG
// =============================================================================

type EventType string

const (
	EventSlotUpdate   EventType = "slot_update"
	EventSlotNoChange EventType = "slot_no_change"
)

// Event is an immutable audit record.
type Event struct {
	ID        EventID
	Type      EventType
	Payload   string
	Timestamp time.Time
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock supplies the current time to the engine.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }
