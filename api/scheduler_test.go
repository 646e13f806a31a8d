package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/parking-engine/parking"
)

func TestSensorWatchdog_FlagsSilentSlots(t *testing.T) {
	ts := newTestServer(t, 3, RouterOptions{})
	sw := NewSensorWatchdog(ts.handler)
	sw.Silence = time.Hour

	assert.Empty(t, sw.RunNow(context.Background()))

	ts.clock.Advance(30 * time.Minute)
	require.Equal(t, http.StatusOK, ts.do(t, "POST", "/iot/slot?slot_id=2&occupied=1", nil))

	ts.clock.Advance(45 * time.Minute)
	assert.Equal(t, []parking.SlotID{1, 3}, sw.RunNow(context.Background()))

	// A heartbeat does not reset the window.
	require.Equal(t, http.StatusOK, ts.do(t, "POST", "/iot/slot?slot_id=1&occupied=0", nil))
	assert.Equal(t, []parking.SlotID{1, 3}, sw.RunNow(context.Background()))

	require.Equal(t, http.StatusOK, ts.do(t, "POST", "/iot/slot?slot_id=1&occupied=1", nil))
	assert.Equal(t, []parking.SlotID{3}, sw.RunNow(context.Background()))
}

func TestSensorWatchdog_BroadcastsStatus(t *testing.T) {
	ts := newTestServer(t, 2, RouterOptions{})
	sw := NewSensorWatchdog(ts.handler)

	url := "ws" + ts.URL[len("http"):] + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first StatusMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&first))
	require.Eventually(t, func() bool { return ts.hub.Len() == 1 }, time.Second, 10*time.Millisecond)

	sw.RunNow(context.Background())

	var msg StatusMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "status", msg.Type)
	assert.Equal(t, 2, msg.Status.TotalSpots)
}

func TestSensorWatchdog_StartStop(t *testing.T) {
	ts := newTestServer(t, 1, RouterOptions{})
	sw := NewSensorWatchdog(ts.handler)
	sw.CheckInterval = 10 * time.Millisecond

	sw.Start()
	sw.Start()
	time.Sleep(30 * time.Millisecond)
	sw.Stop()
	sw.Stop()

	disabled := NewSensorWatchdog(ts.handler)
	disabled.Enabled = false
	disabled.Start()
	disabled.Stop()
}
