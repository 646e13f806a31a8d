package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v4"

	"github.com/warp/parking-engine/parking"
	"github.com/warp/parking-engine/store/sqlite"
)

var t0 = time.Date(2025, time.March, 3, 8, 0, 0, 0, time.UTC)

func newMemoryStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "parking.db")

	s, err := sqlite.New(path)
	require.NoError(t, err)

	var sessionID parking.SessionID
	err = s.WithTx(ctx, func(st parking.Store) error {
		if _, err := st.InsertConfigIfAbsent(ctx, parking.LotConfig{TotalSpots: 2, PricePerMinute: decimal.RequireFromString("0.07")}); err != nil {
			return err
		}
		if _, err := st.InsertSlotIfAbsent(ctx, parking.Slot{ID: 1, LastUpdate: t0}); err != nil {
			return err
		}
		sessionID, err = st.CreateSession(ctx, parking.Session{Plate: "AB-123", SlotID: null.IntFrom(1), StartTime: t0})
		return err
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Reopening runs the migration again on an existing schema.
	s, err = sqlite.New(path)
	require.NoError(t, err)
	defer s.Close()

	err = s.View(ctx, func(st parking.Store) error {
		cfg, err := st.GetConfig(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, cfg.TotalSpots)
		assert.True(t, cfg.PricePerMinute.Equal(decimal.RequireFromString("0.07")))

		slot, err := st.GetSlot(ctx, 1)
		require.NoError(t, err)
		assert.False(t, slot.Occupied)
		assert.True(t, slot.LastUpdate.Equal(t0))

		sess, err := st.GetSession(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, "AB-123", sess.Plate)
		assert.Equal(t, int64(1), sess.SlotID.Int64)
		assert.True(t, sess.StartTime.Equal(t0))
		assert.True(t, sess.IsOpen())
		assert.False(t, sess.IsPaid())
		return nil
	})
	require.NoError(t, err)
}

func TestInsertConfigIfAbsent_KeepsFirst(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	err := s.WithTx(ctx, func(st parking.Store) error {
		first, err := st.InsertConfigIfAbsent(ctx, parking.LotConfig{TotalSpots: 4, PricePerMinute: decimal.RequireFromString("0.05")})
		require.NoError(t, err)
		second, err := st.InsertConfigIfAbsent(ctx, parking.LotConfig{TotalSpots: 9, PricePerMinute: decimal.RequireFromString("1")})
		require.NoError(t, err)
		assert.Equal(t, first.TotalSpots, second.TotalSpots)
		assert.True(t, second.PricePerMinute.Equal(first.PricePerMinute))

		created, err := st.InsertSlotIfAbsent(ctx, parking.Slot{ID: 1, LastUpdate: t0})
		require.NoError(t, err)
		assert.True(t, created)
		created, err = st.InsertSlotIfAbsent(ctx, parking.Slot{ID: 1, Occupied: true, LastUpdate: t0})
		require.NoError(t, err)
		assert.False(t, created)
		return nil
	})
	require.NoError(t, err)
}

func TestCreateSession_OneOpenSessionPerSlot(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	err := s.WithTx(ctx, func(st parking.Store) error {
		id, err := st.CreateSession(ctx, parking.Session{Plate: "A", SlotID: null.IntFrom(3), StartTime: t0})
		require.NoError(t, err)

		_, err = st.CreateSession(ctx, parking.Session{Plate: "B", SlotID: null.IntFrom(3), StartTime: t0})
		assert.ErrorIs(t, err, parking.ErrSlotSessionOpen)

		// Sessions without a slot never collide.
		_, err = st.CreateSession(ctx, parking.Session{Plate: "C", StartTime: t0})
		require.NoError(t, err)
		_, err = st.CreateSession(ctx, parking.Session{Plate: "D", StartTime: t0})
		require.NoError(t, err)

		sess, err := st.GetSession(ctx, id)
		require.NoError(t, err)
		require.NoError(t, sess.Stop(t0.Add(time.Minute)))
		require.NoError(t, st.UpdateSession(ctx, sess))

		_, err = st.CreateSession(ctx, parking.Session{Plate: "B", SlotID: null.IntFrom(3), StartTime: t0.Add(time.Minute)})
		return err
	})
	require.NoError(t, err)
}

func TestUpdateSession_RefusesPaid(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	err := s.WithTx(ctx, func(st parking.Store) error {
		id, err := st.CreateSession(ctx, parking.Session{Plate: "A", StartTime: t0})
		require.NoError(t, err)
		sess, err := st.GetSession(ctx, id)
		require.NoError(t, err)
		require.NoError(t, sess.Stop(t0.Add(10*time.Minute)))
		require.NoError(t, sess.Pay(decimal.RequireFromString("0.50")))
		require.NoError(t, st.UpdateSession(ctx, sess))

		paid, err := st.GetSession(ctx, id)
		require.NoError(t, err)
		assert.True(t, paid.PaidAmount.Decimal.Equal(decimal.RequireFromString("0.5")))

		assert.ErrorIs(t, st.UpdateSession(ctx, sess), parking.ErrSessionAlreadyPaid)

		_, err = st.GetSession(ctx, 999)
		assert.ErrorIs(t, err, parking.ErrSessionNotFound)
		assert.ErrorIs(t, st.UpdateSession(ctx, parking.Session{ID: 999}), parking.ErrSessionNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(st parking.Store) error {
		if _, err := st.AppendEvent(ctx, parking.Event{Type: parking.EventSlotUpdate, Payload: "x", Timestamp: t0}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = s.View(ctx, func(st parking.Store) error {
		events, err := st.RecentEvents(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, events)
		return nil
	})
	require.NoError(t, err)
}

func TestView_RejectsWrites(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	err := s.View(ctx, func(st parking.Store) error {
		_, err := st.AppendEvent(ctx, parking.Event{Type: parking.EventSlotUpdate, Timestamp: t0})
		return err
	})
	assert.Error(t, err)
}

func TestRecentEvents_NewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	err := s.WithTx(ctx, func(st parking.Store) error {
		for i := 0; i < 5; i++ {
			if _, err := st.AppendEvent(ctx, parking.Event{
				Type:      parking.EventSlotNoChange,
				Payload:   "p",
				Timestamp: t0.Add(time.Duration(i) * time.Second),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = s.View(ctx, func(st parking.Store) error {
		events, err := st.RecentEvents(ctx, 3)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, parking.EventID(5), events[0].ID)
		assert.Equal(t, parking.EventID(3), events[2].ID)
		assert.Equal(t, parking.EventSlotNoChange, events[0].Type)
		assert.True(t, events[0].Timestamp.Equal(t0.Add(4*time.Second)))
		return nil
	})
	require.NoError(t, err)
}
