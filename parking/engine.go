/*
engine.go - Slot-to-session reconciliation

PURPOSE:
  The Engine is the single writer of slot, session and event state. It
  turns raw sensor transitions into session openings and closings, admits
  plate-only entries, and runs the manual stop/pay lifecycle.

STATE MACHINE (per slot):

    Vacant --occupied=true-->  Occupied   open a session unless one is open
    Occupied --occupied=false--> Vacant   close the open session, if any
    same state reported again            log slot_no_change, nothing else

  The "unless one is open" and "if any" branches should not happen when
  sensors behave. They are not errors (the slot transition still commits)
  but they are logged with a reconcile: prefix and counted in
  parking_reconcile_anomalies_total so double-firing sensors show up.

ATOMICITY:
  Each operation is one TxStore.WithTx call. Every validation happens
  before the first write, and a failing write rolls back the rest, so
  callers never see half of a transition.

SEE ALSO:
  - billing.go: ComputeAmount used by PaySession
  - status.go: Read-only queries
  - store.go: TxStore contract (serialization)
*/
package parking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/guregu/null.v4"

	"github.com/warp/parking-engine/metrics"
)

// Engine applies sensor reports and session operations to a TxStore.
type Engine struct {
	store TxStore
	clock Clock
}

// NewEngine creates an engine. A nil clock means SystemClock.
func NewEngine(store TxStore, clock Clock) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Engine{store: store, clock: clock}
}

// ReportResult describes what a sensor report did.
type ReportResult struct {
	SlotID   SlotID
	Occupied bool
	Changed  bool

	// SessionID is the session opened, closed or found open by the report.
	SessionID     SessionID
	SessionOpened bool
	SessionClosed bool
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// ReportOccupancy applies a sensor reading for one slot. plate may be empty.
func (e *Engine) ReportOccupancy(ctx context.Context, slotID SlotID, occupied bool, plate string) (ReportResult, error) {
	plate = plateOrUnknown(plate)
	result := ReportResult{SlotID: slotID, Occupied: occupied}
	var anomaly string

	err := e.store.WithTx(ctx, func(s Store) error {
		slot, err := s.GetSlot(ctx, slotID)
		if err != nil {
			return err
		}
		now := e.clock.Now()

		if slot.Occupied == occupied {
			_, err := s.AppendEvent(ctx, Event{
				Type:      EventSlotNoChange,
				Payload:   fmt.Sprintf("slot=%d, occupied=%t", slotID, occupied),
				Timestamp: now,
			})
			return err
		}

		old := slot.Occupied
		slot.Occupied = occupied
		slot.LastUpdate = now
		if err := s.UpdateSlot(ctx, slot); err != nil {
			return err
		}
		if _, err := s.AppendEvent(ctx, Event{
			Type:      EventSlotUpdate,
			Payload:   fmt.Sprintf("slot=%d, old=%t, new=%t, plate=%s", slotID, old, occupied, plate),
			Timestamp: now,
		}); err != nil {
			return err
		}
		result.Changed = true

		open, found, err := s.OpenSessionForSlot(ctx, slotID)
		if err != nil {
			return err
		}

		switch {
		case occupied && !found:
			id, err := s.CreateSession(ctx, Session{
				Plate:     plate,
				SlotID:    null.IntFrom(int64(slotID)),
				StartTime: now,
			})
			if err != nil {
				return err
			}
			result.SessionID = id
			result.SessionOpened = true

		case occupied && found:
			result.SessionID = open.ID
			anomaly = metrics.AnomalySessionAlreadyOpen

		case !occupied && found:
			if err := open.Stop(now); err != nil {
				return err
			}
			if err := s.UpdateSession(ctx, open); err != nil {
				return err
			}
			result.SessionID = open.ID
			result.SessionClosed = true

		default:
			anomaly = metrics.AnomalyNoOpenSession
		}
		return nil
	})
	if err != nil {
		return ReportResult{}, err
	}

	if !result.Changed {
		metrics.OccupancyReports.WithLabelValues("no_change").Inc()
		return result, nil
	}
	metrics.OccupancyReports.WithLabelValues("changed").Inc()
	if occupied {
		metrics.SlotsOccupied.Inc()
	} else {
		metrics.SlotsOccupied.Dec()
	}
	if result.SessionOpened {
		metrics.SessionsOpened.WithLabelValues("sensor").Inc()
	}
	if result.SessionClosed {
		metrics.SessionsClosed.WithLabelValues("sensor").Inc()
	}
	if anomaly != "" {
		metrics.ReconcileAnomalies.WithLabelValues(anomaly).Inc()
		switch anomaly {
		case metrics.AnomalySessionAlreadyOpen:
			log.Printf("reconcile: slot %d became occupied but session %d was already open", slotID, result.SessionID)
		case metrics.AnomalyNoOpenSession:
			log.Printf("reconcile: slot %d became vacant with no open session", slotID)
		}
	}
	return result, nil
}

// =============================================================================
// PLATE ENTRY
// =============================================================================

// RecordPlateEntry opens a session for a plate seen at the entrance. It is
// gated on the number of occupied slots, not on open sessions. slotID is
// advisory and is not checked against the slot registry.
func (e *Engine) RecordPlateEntry(ctx context.Context, plate string, slotID null.Int) (SessionID, error) {
	plate = strings.TrimSpace(plate)
	if plate == "" {
		return 0, invalidInput("plate is required")
	}

	var id SessionID
	err := e.store.WithTx(ctx, func(s Store) error {
		cfg, err := s.GetConfig(ctx)
		if err != nil {
			return err
		}
		slots, err := s.ListSlots(ctx)
		if err != nil {
			return err
		}
		if occupied := countOccupied(slots); occupied >= cfg.TotalSpots {
			return &CapacityError{Occupied: occupied, TotalSpots: cfg.TotalSpots}
		}

		if slotID.Valid {
			if _, found, err := s.OpenSessionForSlot(ctx, SlotID(slotID.Int64)); err != nil {
				return err
			} else if found {
				return fmt.Errorf("slot %d: %w", slotID.Int64, ErrSlotSessionOpen)
			}
		}

		id, err = s.CreateSession(ctx, Session{
			Plate:     plate,
			SlotID:    slotID,
			StartTime: e.clock.Now(),
		})
		return err
	})
	if err != nil {
		if errors.Is(err, ErrCapacityExceeded) {
			metrics.AdmissionsRejected.Inc()
		}
		return 0, err
	}

	metrics.SessionsOpened.WithLabelValues("plate").Inc()
	return id, nil
}

// =============================================================================
// SESSION LIFECYCLE
// =============================================================================

// StopSession ends an open session now.
func (e *Engine) StopSession(ctx context.Context, id SessionID) error {
	err := e.store.WithTx(ctx, func(s Store) error {
		sess, err := s.GetSession(ctx, id)
		if err != nil {
			return err
		}
		if err := sess.Stop(e.clock.Now()); err != nil {
			return fmt.Errorf("session %d: %w", id, err)
		}
		return s.UpdateSession(ctx, sess)
	})
	if err != nil {
		return err
	}

	metrics.SessionsClosed.WithLabelValues("manual").Inc()
	return nil
}

// PaySession bills a stopped session at the current price and records the
// amount. A session can be paid once.
func (e *Engine) PaySession(ctx context.Context, id SessionID) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := e.store.WithTx(ctx, func(s Store) error {
		cfg, err := s.GetConfig(ctx)
		if err != nil {
			return err
		}
		sess, err := s.GetSession(ctx, id)
		if err != nil {
			return err
		}
		if sess.IsOpen() {
			return fmt.Errorf("session %d: %w", id, ErrSessionNotStopped)
		}
		if sess.IsPaid() {
			return fmt.Errorf("session %d: %w", id, ErrSessionAlreadyPaid)
		}

		amount = ComputeAmount(sess.StartTime, sess.EndTime.Time, cfg.PricePerMinute)
		if err := sess.Pay(amount); err != nil {
			return err
		}
		return s.UpdateSession(ctx, sess)
	})
	if err != nil {
		return decimal.Zero, err
	}

	metrics.Payments.Inc()
	metrics.Revenue.Add(amount.InexactFloat64())
	return amount, nil
}

func plateOrUnknown(plate string) string {
	plate = strings.TrimSpace(plate)
	if plate == "" {
		return UnknownPlate
	}
	return plate
}

func countOccupied(slots []Slot) int {
	n := 0
	for _, sl := range slots {
		if sl.Occupied {
			n++
		}
	}
	return n
}
