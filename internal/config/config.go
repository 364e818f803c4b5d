// Package config defines the store's startup configuration structures.
//
// # Configuration hierarchy
//
//	Config
//	├─ DefaultChunkEncoding: "uncompressed" | "gorilla" | "pco"
//	├─ DefaultChunkSizeBytes: per-series chunk byte budget
//	├─ DefaultRetention:      duration string, e.g. "48h" (0 = unbounded)
//	├─ DefaultDuplicatePolicy: "block" | "first" | "last" | "min" | "max" | "sum"
//	├─ Tasks: background maintenance dispatcher tuning
//	│  ├─ TickInterval:        base cron tick, e.g. "10s"
//	│  ├─ TrimInterval:        desired interval for the trim task
//	│  ├─ StaleSweepInterval:  desired interval for the stale-id sweep
//	│  ├─ OptimizeInterval:    desired interval for bitmap optimization
//	│  ├─ DBPruneInterval:     desired interval for empty-DB pruning
//	│  └─ BatchSize:           series/bitmaps processed per task invocation
//	└─ Debug: development options
package config

import (
	"fmt"
	"time"
)

const (
	DefaultTickInterval    = 10 * time.Second
	DefaultTrimInterval    = 5 * time.Minute
	DefaultSweepInterval   = 10 * time.Minute
	DefaultOptimizeInterval = 30 * time.Minute
	DefaultPruneInterval   = time.Hour
	DefaultBatchSize       = 256
)

// Tasks tunes the background maintenance dispatcher (spec §4.6).
type Tasks struct {
	TickInterval       string `json:"tick-interval"`
	TrimInterval       string `json:"trim-interval"`
	StaleSweepInterval string `json:"stale-sweep-interval"`
	OptimizeInterval   string `json:"optimize-interval"`
	DBPruneInterval    string `json:"db-prune-interval"`
	BatchSize          int    `json:"batch-size"`
}

// Debug provides development and profiling options.
type Debug struct {
	DumpToFile string `json:"dump-to-file"`
}

// Config is the main configuration for an embedded store instance.
type Config struct {
	DefaultChunkEncoding   string `json:"default-chunk-encoding"`
	DefaultChunkSizeBytes  int    `json:"default-chunk-size-bytes"`
	DefaultRetention       string `json:"default-retention"`
	DefaultDuplicatePolicy string `json:"default-duplicate-policy"`
	Tasks                  Tasks  `json:"tasks"`
	Debug                  *Debug `json:"debug"`
}

// Default returns a Config populated with the store's built-in defaults,
// mirroring the teacher's package-level Keys-with-defaults pattern.
func Default() Config {
	return Config{
		DefaultChunkEncoding:   "gorilla",
		DefaultChunkSizeBytes:  4096,
		DefaultRetention:       "0",
		DefaultDuplicatePolicy: "block",
		Tasks: Tasks{
			TickInterval:       DefaultTickInterval.String(),
			TrimInterval:       DefaultTrimInterval.String(),
			StaleSweepInterval: DefaultSweepInterval.String(),
			OptimizeInterval:   DefaultOptimizeInterval.String(),
			DBPruneInterval:    DefaultPruneInterval.String(),
			BatchSize:          DefaultBatchSize,
		},
	}
}

// Schema is the JSON Schema used to validate a Config document at startup
// via Validate, before the store attempts to parse it.
const Schema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"default-chunk-encoding": {"type": "string", "enum": ["uncompressed", "gorilla", "pco"]},
		"default-chunk-size-bytes": {"type": "integer", "minimum": 8},
		"default-retention": {"type": "string"},
		"default-duplicate-policy": {"type": "string", "enum": ["block", "first", "last", "min", "max", "sum"]},
		"tasks": {
			"type": "object",
			"properties": {
				"tick-interval": {"type": "string"},
				"trim-interval": {"type": "string"},
				"stale-sweep-interval": {"type": "string"},
				"optimize-interval": {"type": "string"},
				"db-prune-interval": {"type": "string"},
				"batch-size": {"type": "integer", "minimum": 1}
			}
		},
		"debug": {
			"type": "object",
			"properties": {
				"dump-to-file": {"type": "string"}
			}
		}
	}
}`

// ParsedTasks resolves the Tasks duration strings, falling back to the
// package defaults on empty or malformed values.
type ParsedTasks struct {
	TickInterval       time.Duration
	TrimInterval       time.Duration
	StaleSweepInterval time.Duration
	OptimizeInterval   time.Duration
	DBPruneInterval    time.Duration
	BatchSize          int
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func (t Tasks) Parse() (ParsedTasks, error) {
	batch := t.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	return ParsedTasks{
		TickInterval:       parseDurationOr(t.TickInterval, DefaultTickInterval),
		TrimInterval:       parseDurationOr(t.TrimInterval, DefaultTrimInterval),
		StaleSweepInterval: parseDurationOr(t.StaleSweepInterval, DefaultSweepInterval),
		OptimizeInterval:   parseDurationOr(t.OptimizeInterval, DefaultOptimizeInterval),
		DBPruneInterval:    parseDurationOr(t.DBPruneInterval, DefaultPruneInterval),
		BatchSize:          batch,
	}, nil
}

// ParseRetention parses the configured default retention string into a
// duration; an empty string or "0" means unbounded retention.
func (c Config) ParseRetention() (time.Duration, error) {
	if c.DefaultRetention == "" || c.DefaultRetention == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.DefaultRetention)
	if err != nil {
		return 0, fmt.Errorf("config: invalid default-retention %q: %w", c.DefaultRetention, err)
	}
	return d, nil
}
