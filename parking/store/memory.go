// Package store provides in-process parking.TxStore implementations.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/parking-engine/parking"
)

var errReadOnly = errors.New("memory store: write inside View")

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every record in maps and slices guarded by one RWMutex.
// WithTx holds the write lock for the whole callback and restores a
// snapshot if the callback fails.
type Memory struct {
	mu       sync.RWMutex
	config   *parking.LotConfig
	slots    map[parking.SlotID]parking.Slot
	sessions []parking.Session // sessions[i].ID == i+1
	events   []parking.Event   // events[i].ID == i+1
}

func NewMemory() *Memory {
	return &Memory{
		slots: make(map[parking.SlotID]parking.Slot),
	}
}

// WithTx executes fn with exclusive access.
func (m *Memory) WithTx(_ context.Context, fn func(parking.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&memoryView{m: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

// View executes fn with shared access.
func (m *Memory) View(_ context.Context, fn func(parking.Store) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memoryView{m: m, readOnly: true})
}

type memorySnapshot struct {
	config   *parking.LotConfig
	slots    map[parking.SlotID]parking.Slot
	sessions []parking.Session
	events   []parking.Event
}

func (m *Memory) snapshot() memorySnapshot {
	snap := memorySnapshot{
		slots:    make(map[parking.SlotID]parking.Slot, len(m.slots)),
		sessions: append([]parking.Session(nil), m.sessions...),
		events:   append([]parking.Event(nil), m.events...),
	}
	if m.config != nil {
		cfg := *m.config
		snap.config = &cfg
	}
	for id, sl := range m.slots {
		snap.slots[id] = sl
	}
	return snap
}

func (m *Memory) restore(snap memorySnapshot) {
	m.config = snap.config
	m.slots = snap.slots
	m.sessions = snap.sessions
	m.events = snap.events
}

// =============================================================================
// VIEW - parking.Store over the locked Memory
// =============================================================================

type memoryView struct {
	m        *Memory
	readOnly bool
}

func (v *memoryView) GetConfig(_ context.Context) (parking.LotConfig, error) {
	if v.m.config == nil {
		return parking.LotConfig{}, errors.New("memory store: lot config not initialized")
	}
	return *v.m.config, nil
}

func (v *memoryView) InsertConfigIfAbsent(_ context.Context, cfg parking.LotConfig) (parking.LotConfig, error) {
	if v.m.config != nil {
		return *v.m.config, nil
	}
	if v.readOnly {
		return parking.LotConfig{}, errReadOnly
	}
	v.m.config = &cfg
	return cfg, nil
}

func (v *memoryView) UpdatePrice(_ context.Context, price decimal.Decimal) error {
	if v.readOnly {
		return errReadOnly
	}
	if v.m.config == nil {
		return errors.New("memory store: lot config not initialized")
	}
	v.m.config.PricePerMinute = price
	return nil
}

func (v *memoryView) GetSlot(_ context.Context, id parking.SlotID) (parking.Slot, error) {
	sl, ok := v.m.slots[id]
	if !ok {
		return parking.Slot{}, parking.ErrSlotNotFound
	}
	return sl, nil
}

func (v *memoryView) ListSlots(_ context.Context) ([]parking.Slot, error) {
	slots := make([]parking.Slot, 0, len(v.m.slots))
	for _, sl := range v.m.slots {
		slots = append(slots, sl)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].ID < slots[j].ID })
	return slots, nil
}

func (v *memoryView) InsertSlotIfAbsent(_ context.Context, slot parking.Slot) (bool, error) {
	if _, ok := v.m.slots[slot.ID]; ok {
		return false, nil
	}
	if v.readOnly {
		return false, errReadOnly
	}
	v.m.slots[slot.ID] = slot
	return true, nil
}

func (v *memoryView) UpdateSlot(_ context.Context, slot parking.Slot) error {
	if v.readOnly {
		return errReadOnly
	}
	if _, ok := v.m.slots[slot.ID]; !ok {
		return parking.ErrSlotNotFound
	}
	v.m.slots[slot.ID] = slot
	return nil
}

func (v *memoryView) CreateSession(_ context.Context, s parking.Session) (parking.SessionID, error) {
	if v.readOnly {
		return 0, errReadOnly
	}
	if s.HasSlot() && s.IsOpen() {
		if _, found := v.openOnSlot(parking.SlotID(s.SlotID.Int64)); found {
			return 0, parking.ErrSlotSessionOpen
		}
	}
	s.ID = parking.SessionID(len(v.m.sessions) + 1)
	v.m.sessions = append(v.m.sessions, s)
	return s.ID, nil
}

func (v *memoryView) GetSession(_ context.Context, id parking.SessionID) (parking.Session, error) {
	if id < 1 || int(id) > len(v.m.sessions) {
		return parking.Session{}, parking.ErrSessionNotFound
	}
	return v.m.sessions[id-1], nil
}

func (v *memoryView) OpenSessionForSlot(_ context.Context, slot parking.SlotID) (parking.Session, bool, error) {
	s, found := v.openOnSlot(slot)
	return s, found, nil
}

func (v *memoryView) openOnSlot(slot parking.SlotID) (parking.Session, bool) {
	for _, s := range v.m.sessions {
		if s.IsOpen() && s.HasSlot() && parking.SlotID(s.SlotID.Int64) == slot {
			return s, true
		}
	}
	return parking.Session{}, false
}

func (v *memoryView) ListSessions(_ context.Context, filter parking.SessionFilter) ([]parking.Session, error) {
	var result []parking.Session
	for i := len(v.m.sessions) - 1; i >= 0; i-- {
		s := v.m.sessions[i]
		if filter.ActiveOnly && !s.IsOpen() {
			continue
		}
		result = append(result, s)
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}
	return result, nil
}

func (v *memoryView) UpdateSession(_ context.Context, s parking.Session) error {
	if v.readOnly {
		return errReadOnly
	}
	if s.ID < 1 || int(s.ID) > len(v.m.sessions) {
		return parking.ErrSessionNotFound
	}
	if v.m.sessions[s.ID-1].IsPaid() {
		return parking.ErrSessionAlreadyPaid
	}
	stored := v.m.sessions[s.ID-1]
	stored.EndTime = s.EndTime
	stored.PaidAmount = s.PaidAmount
	v.m.sessions[s.ID-1] = stored
	return nil
}

func (v *memoryView) AppendEvent(_ context.Context, e parking.Event) (parking.EventID, error) {
	if v.readOnly {
		return 0, errReadOnly
	}
	e.ID = parking.EventID(len(v.m.events) + 1)
	v.m.events = append(v.m.events, e)
	return e.ID, nil
}

func (v *memoryView) RecentEvents(_ context.Context, limit int) ([]parking.Event, error) {
	n := min(limit, len(v.m.events))
	result := make([]parking.Event, 0, n)
	for i := len(v.m.events) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, v.m.events[i])
	}
	return result, nil
}
