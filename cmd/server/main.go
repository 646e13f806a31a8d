/*
main.go - Application entry point

PURPOSE:
  Starts the parking engine server: loads configuration, opens the SQLite
  store, provisions the lot, and serves the HTTP API with graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load config (YAML file, .env, environment)
  3. Initialize SQLite store
  4. Bootstrap config singleton and slots (idempotent)
  5. Create engine, handler, router
  6. Watch the config file for price changes (when -config is given)
  7. Start sensor watchdog
  8. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (optional)
  -addr    HTTP listen address, overrides config (default :8080)
  -db      SQLite database path, overrides config (default parking.db)
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop watchdog and config watcher
  4. Close database connection
  5. Exit

EXAMPLES:
  ./server -db="./data/parking.db"
  ./server -config=parking.yaml
  PARKING_TOTAL_SPOTS=12 ./server -db=":memory:"

SEE ALSO:
  - config/config.go: Configuration sources
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/parking-engine/api"
	"github.com/warp/parking-engine/config"
	"github.com/warp/parking-engine/parking"
	"github.com/warp/parking-engine/store/sqlite"
)

func main() {
	// Flags
	cfgPath := flag.String("config", "", "YAML config file")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	// Load config
	var (
		cfg     config.Config
		watcher *config.Watcher
		err     error
	)
	if *cfgPath != "" {
		watcher, err = config.NewWatcher(*cfgPath)
		if err == nil {
			cfg = watcher.Config()
		}
	} else {
		cfg, err = config.Load("")
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Provision lot
	defaults, err := cfg.LotDefaults()
	if err != nil {
		log.Fatalf("Invalid lot config: %v", err)
	}
	lot, err := parking.Bootstrap(context.Background(), store, defaults, parking.SystemClock{})
	if err != nil {
		log.Fatalf("Failed to bootstrap lot: %v", err)
	}
	log.Printf("Lot ready: %d slots at %s per minute", lot.TotalSpots, lot.PricePerMinute)

	engine := parking.NewEngine(store, parking.SystemClock{})

	// Price hot-reload
	if watcher != nil {
		watcher.OnChange(func(c config.Config) {
			price, err := decimal.NewFromString(c.Lot.PricePerMinute)
			if err != nil {
				log.Printf("config: ignoring price_per_minute %q: %v", c.Lot.PricePerMinute, err)
				return
			}
			if err := engine.SetPricePerMinute(context.Background(), price); err != nil {
				log.Printf("config: failed to apply price_per_minute: %v", err)
				return
			}
			log.Printf("config: price_per_minute is now %s", price)
		})
		stop, err := watcher.Watch()
		if err != nil {
			log.Printf("Warning: config file will not be watched: %v", err)
		} else {
			defer stop()
		}
	}

	// Create router
	handler := api.NewHandler(engine, api.NewHub(), store)

	// Start sensor watchdog
	watchdog := api.NewSensorWatchdog(handler)
	watchdog.CheckInterval = cfg.Watchdog.Interval
	watchdog.Silence = cfg.Watchdog.Silence
	watchdog.Enabled = cfg.Watchdog.Interval > 0
	watchdog.Start()
	defer watchdog.Stop()

	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins:  cfg.Server.CORSOrigins,
		IoTRateLimit: cfg.IoT.RateLimit,
		IoTBurst:     cfg.IoT.Burst,
	})

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
