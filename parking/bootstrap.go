package parking

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/warp/parking-engine/metrics"
)

// Bootstrap provisions the config singleton and the slot rows.
//
// It is safe to run on every startup: the config is only inserted when
// absent (an existing row wins over defaults), and slots 1..TotalSpots of
// the stored config are only inserted when missing. Existing rows are never
// modified. Returns the effective configuration.
func Bootstrap(ctx context.Context, store TxStore, defaults LotConfig, clock Clock) (LotConfig, error) {
	if err := defaults.Validate(); err != nil {
		return LotConfig{}, err
	}
	if clock == nil {
		clock = SystemClock{}
	}

	var (
		cfg     LotConfig
		created int
		slots   []Slot
	)
	err := store.WithTx(ctx, func(s Store) error {
		var err error
		cfg, err = s.InsertConfigIfAbsent(ctx, defaults)
		if err != nil {
			return fmt.Errorf("insert config: %w", err)
		}

		now := clock.Now()
		for i := 1; i <= cfg.TotalSpots; i++ {
			ok, err := s.InsertSlotIfAbsent(ctx, Slot{ID: SlotID(i), LastUpdate: now})
			if err != nil {
				return fmt.Errorf("insert slot %d: %w", i, err)
			}
			if ok {
				created++
			}
		}

		slots, err = s.ListSlots(ctx)
		return err
	})
	if err != nil {
		return LotConfig{}, err
	}

	if created > 0 {
		log.Printf("bootstrap: created %d slot(s), lot has %d", created, cfg.TotalSpots)
	}
	metrics.SlotsOccupied.Set(float64(countOccupied(slots)))
	return cfg, nil
}

// SetPricePerMinute is the administrative path for changing the tariff.
// Sessions already paid keep their amount; unpaid ones are billed at the
// price in effect when PaySession runs.
func (e *Engine) SetPricePerMinute(ctx context.Context, price decimal.Decimal) error {
	if price.IsNegative() {
		return invalidInput("price_per_minute must not be negative, got %s", price)
	}
	return e.store.WithTx(ctx, func(s Store) error {
		return s.UpdatePrice(ctx, price)
	})
}
