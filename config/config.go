/*
Package config loads server and lot settings.

SOURCES (later wins):
  1. Built-in defaults (Default)
  2. YAML file passed with -config
  3. .env in the working directory (github.com/joho/godotenv; never
     overrides variables already set in the environment)
  4. Environment variables:
       PARKING_ADDR              server.addr
       PARKING_DB                database.path
       PARKING_TOTAL_SPOTS       lot.total_spots
       PARKING_PRICE_PER_MINUTE  lot.price_per_minute
       PARKING_CORS_ORIGINS      server.cors_origins (comma separated)
  5. Command-line flags (cmd/server)

LOT SETTINGS:
  lot.total_spots and lot.price_per_minute are only the defaults used the
  first time the database is provisioned. After that the stored singleton
  wins, except for price_per_minute which the Watcher pushes to the store
  whenever the YAML file changes.

EXAMPLE FILE:
  server:
    addr: ":8080"
    cors_origins: ["*"]
  database:
    path: parking.db
  lot:
    total_spots: 4
    price_per_minute: "0.05"
  iot:
    rate_limit: 20
    burst: 40
  watchdog:
    interval: 1m
    silence: 12h
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/parking-engine/parking"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Lot      LotConfig      `yaml:"lot"`
	IoT      IoTConfig      `yaml:"iot"`
	Watchdog WatchdogConfig `yaml:"watchdog"`
}

type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LotConfig struct {
	TotalSpots     int    `yaml:"total_spots"`
	PricePerMinute string `yaml:"price_per_minute"`
}

// IoTConfig limits how fast sensor endpoints accept requests.
// RateLimit <= 0 disables limiting.
type IoTConfig struct {
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// WatchdogConfig drives the stale sensor check. Interval 0 disables it.
type WatchdogConfig struct {
	Interval time.Duration `yaml:"interval"`
	Silence  time.Duration `yaml:"silence"`
}

func Default() Config {
	return Config{
		Server:   ServerConfig{Addr: ":8080", CORSOrigins: []string{"*"}},
		Database: DatabaseConfig{Path: "parking.db"},
		Lot:      LotConfig{TotalSpots: 4, PricePerMinute: "0.05"},
		IoT:      IoTConfig{RateLimit: 20, Burst: 40},
		Watchdog: WatchdogConfig{Interval: time.Minute, Silence: 12 * time.Hour},
	}
}

// Load builds a Config from defaults, the optional YAML file at path, .env
// and the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := readFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("PARKING_ADDR"); ok {
		cfg.Server.Addr = v
	}
	if v, ok := os.LookupEnv("PARKING_DB"); ok {
		cfg.Database.Path = v
	}
	if v, ok := os.LookupEnv("PARKING_TOTAL_SPOTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PARKING_TOTAL_SPOTS: %w", err)
		}
		cfg.Lot.TotalSpots = n
	}
	if v, ok := os.LookupEnv("PARKING_PRICE_PER_MINUTE"); ok {
		cfg.Lot.PricePerMinute = v
	}
	if v, ok := os.LookupEnv("PARKING_CORS_ORIGINS"); ok {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.Server.CORSOrigins = origins
	}
	return nil
}

// Validate checks that the configuration can start a server.
func Validate(cfg Config) error {
	var errs []error
	if cfg.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if cfg.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if _, err := cfg.LotDefaults(); err != nil {
		errs = append(errs, err)
	}
	if cfg.IoT.RateLimit > 0 && cfg.IoT.Burst <= 0 {
		errs = append(errs, errors.New("iot.burst must be positive when iot.rate_limit is set"))
	}
	if cfg.Watchdog.Interval > 0 && cfg.Watchdog.Silence <= 0 {
		errs = append(errs, errors.New("watchdog.silence must be positive when watchdog.interval is set"))
	}
	return errors.Join(errs...)
}

// LotDefaults converts the lot section for parking.Bootstrap.
func (c Config) LotDefaults() (parking.LotConfig, error) {
	price, err := decimal.NewFromString(c.Lot.PricePerMinute)
	if err != nil {
		return parking.LotConfig{}, fmt.Errorf("lot.price_per_minute %q: %w", c.Lot.PricePerMinute, err)
	}
	lot := parking.LotConfig{TotalSpots: c.Lot.TotalSpots, PricePerMinute: price}
	if err := lot.Validate(); err != nil {
		return parking.LotConfig{}, fmt.Errorf("lot: %w", err)
	}
	return lot, nil
}
