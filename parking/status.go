package parking

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/parking-engine/metrics"
)

const (
	DefaultEventLimit   = 20
	DefaultSessionLimit = 50
	MaxQueryLimit       = 500
)

// Status is an aggregated snapshot of the lot.
type Status struct {
	TotalSpots     int
	Occupied       int
	Available      int
	PricePerMinute decimal.Decimal
	Slots          []Slot
}

// Status reads config and slots from one committed snapshot.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	var st Status
	err := e.store.View(ctx, func(s Store) error {
		cfg, err := s.GetConfig(ctx)
		if err != nil {
			return err
		}
		slots, err := s.ListSlots(ctx)
		if err != nil {
			return err
		}
		occupied := countOccupied(slots)
		st = Status{
			TotalSpots:     cfg.TotalSpots,
			Occupied:       occupied,
			Available:      max(cfg.TotalSpots-occupied, 0),
			PricePerMinute: cfg.PricePerMinute,
			Slots:          slots,
		}
		return nil
	})
	if err != nil {
		return Status{}, err
	}

	metrics.SlotsOccupied.Set(float64(st.Occupied))
	return st, nil
}

// RecentEvents returns up to limit events, newest first.
// A non-positive limit means DefaultEventLimit.
func (e *Engine) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	limit = clampLimit(limit, DefaultEventLimit)
	var events []Event
	err := e.store.View(ctx, func(s Store) error {
		var err error
		events, err = s.RecentEvents(ctx, limit)
		return err
	})
	return events, err
}

// GetSession returns a single session.
func (e *Engine) GetSession(ctx context.Context, id SessionID) (Session, error) {
	var sess Session
	err := e.store.View(ctx, func(s Store) error {
		var err error
		sess, err = s.GetSession(ctx, id)
		return err
	})
	return sess, err
}

// ListSessions returns sessions newest first.
func (e *Engine) ListSessions(ctx context.Context, filter SessionFilter) ([]Session, error) {
	filter.Limit = clampLimit(filter.Limit, DefaultSessionLimit)
	var sessions []Session
	err := e.store.View(ctx, func(s Store) error {
		var err error
		sessions, err = s.ListSessions(ctx, filter)
		return err
	})
	return sessions, err
}

// StaleSlots returns slots whose last state change is older than silence.
// Slots never reported since provisioning count from their creation time.
func (e *Engine) StaleSlots(ctx context.Context, silence time.Duration) ([]Slot, error) {
	cutoff := e.clock.Now().Add(-silence)
	var stale []Slot
	err := e.store.View(ctx, func(s Store) error {
		slots, err := s.ListSlots(ctx)
		if err != nil {
			return err
		}
		for _, slot := range slots {
			if slot.LastUpdate.Before(cutoff) {
				stale = append(stale, slot)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.StaleSensors.Set(float64(len(stale)))
	return stale, nil
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, MaxQueryLimit)
}
