package cfg

import (
	"cmp"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Store configuration
	StoreDriver   string `long:"store" env:"STORE_DRIVER" default:"sqlite" choice:"memory" choice:"redis" choice:"sqlite" description:"Persistent store driver"`
	RedisAddr     string `long:"redis-addr" env:"REDIS_ADDR" default:"localhost:6379" description:"Redis address"`
	RedisPassword string `long:"redis-password" env:"REDIS_PASSWORD" description:"Redis password"`
	RedisDB       int    `long:"redis-db" env:"REDIS_DB" default:"0" description:"Redis database number"`
	SQLitePath    string `long:"sqlite-path" env:"SQLITE_PATH" default:"./data/trend-comb.db" description:"SQLite database file"`

	// Application configuration
	SourcesDir        string `long:"sources-dir" env:"SOURCES_DIR" default:"./sources" description:"Directory containing source configuration files"`
	Port              string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	WorkerCount       int    `long:"worker-count" env:"WORKER_COUNT" default:"5" description:"Number of background workers"`
	SchedulerInterval int    `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"30" description:"Scheduler interval in seconds"`
	APIAccessKey      string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Aggregation configuration
	AggregationTimeout int `long:"aggregation-timeout" env:"AGGREGATION_TIMEOUT" default:"15" description:"Overall feed aggregation deadline in seconds"`
	StaleWindow        int `long:"stale-window" env:"STALE_WINDOW" default:"21600" description:"How long last-known-good results are kept, in seconds"`
	ItemTTL            int `long:"item-ttl" env:"ITEM_TTL" default:"86400" description:"How long served items stay resolvable by id, in seconds"`

	// Publish configuration
	PublishURL     string `long:"publish-url" env:"PUBLISH_URL" default:"https://api.farcaster.xyz/v1/casts" description:"Publish endpoint"`
	PublishAPIKey  string `long:"publish-api-key" env:"PUBLISH_API_KEY" description:"Bearer token for the publish endpoint"`
	PublishCost    int64  `long:"publish-cost" env:"PUBLISH_COST" default:"1" description:"Credits charged per publish"`
	ReservationTTL int    `long:"reservation-ttl" env:"RESERVATION_TTL" default:"900" description:"Age in seconds after which an unresolved reservation is rolled back"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"Trend Comb/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	cfg, err := parse(os.Args[1:])
	if err != nil || cfg == nil {
		return cfg, err
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func parse(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if raw.PublishCost <= 0 {
		return nil, fmt.Errorf("publish cost must be positive, got %d", raw.PublishCost)
	}

	return &Cfg{
		StoreDriver:        raw.StoreDriver,
		RedisAddr:          raw.RedisAddr,
		RedisPassword:      raw.RedisPassword,
		RedisDB:            raw.RedisDB,
		SQLitePath:         raw.SQLitePath,
		SourcesDir:         raw.SourcesDir,
		Port:               raw.Port,
		WorkerCount:        raw.WorkerCount,
		SchedulerInterval:  raw.SchedulerInterval,
		APIAccessKey:       raw.APIAccessKey,
		AggregationTimeout: raw.AggregationTimeout,
		StaleWindow:        raw.StaleWindow,
		ItemTTL:            raw.ItemTTL,
		PublishURL:         raw.PublishURL,
		PublishAPIKey:      raw.PublishAPIKey,
		PublishCost:        raw.PublishCost,
		ReservationTTL:     raw.ReservationTTL,
		UserAgent:          raw.UserAgent,
		Timezone:           raw.Timezone,
		Debug:              raw.Debug,
		Version:            GetVersion(),
	}, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
			fmt.Printf("Timezone configured: %s\n", timezone)
		}
	}
	return nil
}
