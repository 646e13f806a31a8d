/*
scheduler.go - Sensor watchdog

PURPOSE:
  Periodically looks for slots whose ultrasonic sensor has gone quiet and
  refreshes live status subscribers.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - A slot is stale when its last state change is older than Silence.
    Heartbeats (slot_no_change) leave last_update untouched, so a sensor
    stuck on one reading looks the same as a dead one
  - Stale slots are logged and exported as parking_stale_sensors
  - Each tick re-broadcasts status so dashboards notice a dead socket

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 minute)
  - Silence: Time without a transition that marks a sensor stale
             (default: 12 hours)
  - Enabled: Whether the watchdog is active (default: true)

USAGE:
  watchdog := NewSensorWatchdog(handler)
  watchdog.Start()
  // ... later
  watchdog.Stop()

SEE ALSO:
  - hub.go: WebSocket fan-out
  - parking/status.go: Engine.StaleSlots
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/parking-engine/parking"
)

// SensorWatchdog flags slots whose sensor stopped reporting.
type SensorWatchdog struct {
	Handler       *Handler
	CheckInterval time.Duration
	Silence       time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	checkMu sync.Mutex
	stale   map[parking.SlotID]bool
}

// NewSensorWatchdog creates a watchdog with default timings.
func NewSensorWatchdog(handler *Handler) *SensorWatchdog {
	return &SensorWatchdog{
		Handler:       handler,
		CheckInterval: 1 * time.Minute,
		Silence:       12 * time.Hour,
		Enabled:       true,
		stale:         make(map[parking.SlotID]bool),
	}
}

// Start begins the watchdog.
func (sw *SensorWatchdog) Start() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if !sw.Enabled || sw.CheckInterval <= 0 {
		log.Println("[Watchdog] Disabled, not starting")
		return
	}
	if sw.ticker != nil {
		return
	}

	sw.ticker = time.NewTicker(sw.CheckInterval)
	sw.stop = make(chan struct{})
	sw.wg.Add(1)

	go sw.run(sw.ticker, sw.stop)

	log.Printf("[Watchdog] Started with check interval %v, silence %v", sw.CheckInterval, sw.Silence)
}

// Stop stops the watchdog.
func (sw *SensorWatchdog) Stop() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.ticker != nil {
		sw.ticker.Stop()
		close(sw.stop)
		sw.wg.Wait()
		sw.ticker = nil
		log.Println("[Watchdog] Stopped")
	}
}

func (sw *SensorWatchdog) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer sw.wg.Done()

	// Run immediately on start
	sw.check(context.Background())

	for {
		select {
		case <-ticker.C:
			sw.check(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow triggers an immediate check and returns the stale slots.
func (sw *SensorWatchdog) RunNow(ctx context.Context) []parking.SlotID {
	return sw.check(ctx)
}

func (sw *SensorWatchdog) check(ctx context.Context) []parking.SlotID {
	sw.checkMu.Lock()
	defer sw.checkMu.Unlock()

	slots, err := sw.Handler.Engine.StaleSlots(ctx, sw.Silence)
	if err != nil {
		log.Printf("[Watchdog] Error listing slots: %v", err)
		return nil
	}

	ids := make([]parking.SlotID, 0, len(slots))
	current := make(map[parking.SlotID]bool, len(slots))
	for _, slot := range slots {
		ids = append(ids, slot.ID)
		current[slot.ID] = true
		// Log on the transition only, not every tick.
		if !sw.stale[slot.ID] {
			log.Printf("[Watchdog] Slot %d silent since %s", slot.ID, slot.LastUpdate.Format(time.RFC3339))
		}
	}
	for id := range sw.stale {
		if !current[id] {
			log.Printf("[Watchdog] Slot %d reporting again", id)
		}
	}
	sw.stale = current

	sw.Handler.publishStatus(ctx)
	return ids
}
