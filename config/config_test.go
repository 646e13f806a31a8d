package config_test

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/parking-engine/config"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "parking.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	lot, err := cfg.LotDefaults()
	require.NoError(t, err)
	assert.Equal(t, 4, lot.TotalSpots)
	assert.True(t, lot.PricePerMinute.Equal(decimal.RequireFromString("0.05")))
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
server:
  addr: ":9090"
database:
  path: /tmp/lot.db
lot:
  total_spots: 6
  price_per_minute: "0.10"
watchdog:
  silence: 90m
`)
	t.Setenv("PARKING_PRICE_PER_MINUTE", "0.12")
	t.Setenv("PARKING_CORS_ORIGINS", "http://a.example, http://b.example")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "/tmp/lot.db", cfg.Database.Path)
	assert.Equal(t, 6, cfg.Lot.TotalSpots)
	assert.Equal(t, "0.12", cfg.Lot.PricePerMinute)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 90*time.Minute, cfg.Watchdog.Silence)
	// Unset fields keep their defaults.
	assert.Equal(t, 20.0, cfg.IoT.RateLimit)
	assert.Equal(t, time.Minute, cfg.Watchdog.Interval)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
	}{
		{"zero spots", "lot:\n  total_spots: 0\n", nil},
		{"negative price", "lot:\n  price_per_minute: \"-0.01\"\n", nil},
		{"bad price", "lot:\n  price_per_minute: cheap\n", nil},
		{"burst missing", "iot:\n  rate_limit: 5\n  burst: 0\n", nil},
		{"zero silence", "watchdog:\n  interval: 1m\n  silence: 0s\n", nil},
		{"bad env spots", "", map[string]string{"PARKING_TOTAL_SPOTS": "four"}},
		{"bad yaml", "lot: [", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeConfig(t, t.TempDir(), tt.body)
			_, err := config.Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestWatcher_ReloadNotifies(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "lot:\n  price_per_minute: \"0.05\"\n")

	w, err := config.NewWatcher(path)
	require.NoError(t, err)

	var got atomic.Value
	w.OnChange(func(c config.Config) { got.Store(c.Lot.PricePerMinute) })

	writeConfig(t, dir, "lot:\n  price_per_minute: \"0.07\"\n")
	require.NoError(t, w.Reload())
	assert.Equal(t, "0.07", got.Load())
	assert.Equal(t, "0.07", w.Config().Lot.PricePerMinute)

	// A broken file keeps the previous config.
	writeConfig(t, dir, "lot:\n  price_per_minute: nope\n")
	assert.Error(t, w.Reload())
	assert.Equal(t, "0.07", w.Config().Lot.PricePerMinute)
}

func TestWatcher_WatchPicksUpWrites(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "lot:\n  price_per_minute: \"0.05\"\n")

	w, err := config.NewWatcher(path)
	require.NoError(t, err)

	var got atomic.Value
	got.Store("")
	w.OnChange(func(c config.Config) { got.Store(c.Lot.PricePerMinute) })

	stop, err := w.Watch()
	require.NoError(t, err)
	defer stop()

	writeConfig(t, dir, "lot:\n  price_per_minute: \"0.09\"\n")
	assert.Eventually(t, func() bool { return got.Load() == "0.09" }, 5*time.Second, 20*time.Millisecond)
}
