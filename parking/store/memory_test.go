package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v4"

	"github.com/warp/parking-engine/parking"
	"github.com/warp/parking-engine/parking/store"
)

var t0 = time.Date(2025, time.March, 3, 8, 0, 0, 0, time.UTC)

func TestMemory_WithTxRestoresOnError(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	require.NoError(t, m.WithTx(ctx, func(s parking.Store) error {
		if _, err := s.InsertConfigIfAbsent(ctx, parking.DefaultLotConfig()); err != nil {
			return err
		}
		_, err := s.InsertSlotIfAbsent(ctx, parking.Slot{ID: 1, LastUpdate: t0})
		return err
	}))

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(s parking.Store) error {
		if err := s.UpdateSlot(ctx, parking.Slot{ID: 1, Occupied: true, LastUpdate: t0.Add(time.Minute)}); err != nil {
			return err
		}
		if _, err := s.CreateSession(ctx, parking.Session{Plate: "A", SlotID: null.IntFrom(1), StartTime: t0}); err != nil {
			return err
		}
		if err := s.UpdatePrice(ctx, decimal.RequireFromString("9")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, m.View(ctx, func(s parking.Store) error {
		slot, err := s.GetSlot(ctx, 1)
		require.NoError(t, err)
		assert.False(t, slot.Occupied)
		assert.True(t, slot.LastUpdate.Equal(t0))

		sessions, err := s.ListSessions(ctx, parking.SessionFilter{})
		require.NoError(t, err)
		assert.Empty(t, sessions)

		cfg, err := s.GetConfig(ctx)
		require.NoError(t, err)
		assert.True(t, cfg.PricePerMinute.Equal(parking.DefaultLotConfig().PricePerMinute))
		return nil
	}))
}

func TestMemory_ViewIsReadOnly(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	err := m.View(ctx, func(s parking.Store) error {
		_, err := s.CreateSession(ctx, parking.Session{Plate: "A", StartTime: t0})
		return err
	})
	assert.Error(t, err)
}

func TestMemory_SessionRules(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	require.NoError(t, m.WithTx(ctx, func(s parking.Store) error {
		id, err := s.CreateSession(ctx, parking.Session{Plate: "A", SlotID: null.IntFrom(2), StartTime: t0})
		require.NoError(t, err)
		assert.Equal(t, parking.SessionID(1), id)

		_, err = s.CreateSession(ctx, parking.Session{Plate: "B", SlotID: null.IntFrom(2), StartTime: t0})
		assert.ErrorIs(t, err, parking.ErrSlotSessionOpen)

		open, found, err := s.OpenSessionForSlot(ctx, 2)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, id, open.ID)

		require.NoError(t, open.Stop(t0.Add(time.Minute)))
		require.NoError(t, open.Pay(decimal.RequireFromString("0.05")))
		require.NoError(t, s.UpdateSession(ctx, open))
		assert.ErrorIs(t, s.UpdateSession(ctx, open), parking.ErrSessionAlreadyPaid)

		_, found, err = s.OpenSessionForSlot(ctx, 2)
		require.NoError(t, err)
		assert.False(t, found)

		_, err = s.GetSession(ctx, 42)
		assert.ErrorIs(t, err, parking.ErrSessionNotFound)
		return nil
	}))
}
