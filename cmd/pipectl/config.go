package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/edgepipe/internal/pipe"
)

// runtimeConfig holds process tuning that does not belong in the shared pipe
// config: probing cadence, id style and the optional ping loop.
type runtimeConfig struct {
	ProbeInterval time.Duration
	ReapInterval  time.Duration
	IDStyle       string
	PingInterval  time.Duration
	PingCount     int
	PingMethod    string
	ShutdownGrace time.Duration
}

type runtimeFile struct {
	ProbeInterval   string `toml:"probe_interval"`
	ReapInterval    string `toml:"reap_interval"`
	IDStyle         string `toml:"ids"`
	PingInterval    string `toml:"ping_interval"`
	PingIntervalMS  int64  `toml:"ping_interval_ms"`
	PingCount       int    `toml:"ping_count"`
	PingMethod      string `toml:"ping_method"`
	ShutdownGraceMS int64  `toml:"shutdown_grace_ms"`
}

func defaultRuntimeConfig() runtimeConfig {
	return runtimeConfig{
		ProbeInterval: pipe.DefaultProbeInterval,
		ReapInterval:  pipe.DefaultReapInterval,
		IDStyle:       "short",
		PingMethod:    "ping",
		ShutdownGrace: 2 * time.Second,
	}
}

func loadRuntimeConfig(path string) (runtimeConfig, error) {
	cfg := defaultRuntimeConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw runtimeFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return runtimeConfig{}, fmt.Errorf("load runtime config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return runtimeConfig{}, fmt.Errorf("runtime config has unknown keys: %v", undecoded)
	}

	if meta.IsDefined("probe_interval") {
		d, err := parsePositive("probe_interval", raw.ProbeInterval)
		if err != nil {
			return runtimeConfig{}, err
		}
		cfg.ProbeInterval = d
	}

	if meta.IsDefined("reap_interval") {
		d, err := parsePositive("reap_interval", raw.ReapInterval)
		if err != nil {
			return runtimeConfig{}, err
		}
		cfg.ReapInterval = d
	}

	if meta.IsDefined("ids") {
		style := strings.ToLower(strings.TrimSpace(raw.IDStyle))
		if style != "short" && style != "uuid" {
			return runtimeConfig{}, fmt.Errorf("parse ids: want short or uuid, got %q", raw.IDStyle)
		}
		cfg.IDStyle = style
	}

	if meta.IsDefined("ping_interval") {
		d, err := parsePositive("ping_interval", raw.PingInterval)
		if err != nil {
			return runtimeConfig{}, err
		}
		cfg.PingInterval = d
	}

	if meta.IsDefined("ping_interval_ms") {
		cfg.PingInterval = time.Duration(raw.PingIntervalMS) * time.Millisecond
	}

	if meta.IsDefined("ping_count") {
		cfg.PingCount = raw.PingCount
	}

	if meta.IsDefined("ping_method") {
		if m := strings.TrimSpace(raw.PingMethod); m != "" {
			cfg.PingMethod = m
		}
	}

	if meta.IsDefined("shutdown_grace_ms") {
		cfg.ShutdownGrace = time.Duration(raw.ShutdownGraceMS) * time.Millisecond
	}

	if pipe.IsControl(cfg.PingMethod) {
		return runtimeConfig{}, fmt.Errorf("ping_method %q is reserved", cfg.PingMethod)
	}
	return cfg, nil
}

func (c runtimeConfig) ids() pipe.IDGenerator {
	if c.IDStyle == "uuid" {
		return pipe.UUIDs()
	}
	return pipe.ShortIDs(nil)
}

func parsePositive(field, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("parse %s: must be positive", field)
	}
	return d, nil
}
