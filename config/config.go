// Package config loads the TOML-backed endpoint defaults a
// quicoreclient/quicoreserver binary starts a connection with (spec
// §4.9 parameter surface, §6 "Persisted state" is the session cache's
// job, not this one — config only covers the tunables a connection
// would otherwise take as compiled-in defaults).
package config

import (
	"time"

	"github.com/BurntSushi/toml"
)

// Config mirrors the subset of Connection's SetParam-settable tunables
// an operator reasonably wants to override per-deployment.
type Config struct {
	IdleTimeout       time.Duration
	KeepAliveInterval time.Duration
	AdminAddr         string
}

// raw is the literal TOML shape; durations are expressed in
// milliseconds since encoding/toml (BurntSushi) has no native
// time.Duration support.
type raw struct {
	IdleTimeoutMs       int64  `toml:"idle_timeout_ms"`
	KeepAliveIntervalMs int64  `toml:"keep_alive_interval_ms"`
	AdminAddr           string `toml:"admin_addr"`
}

// Default returns the configuration a binary runs with when no file
// is given, matching quicore.DefaultIdleTimeout's own default.
func Default() Config {
	return Config{
		IdleTimeout:       30 * time.Second,
		KeepAliveInterval: 15 * time.Second,
		AdminAddr:         "127.0.0.1:7788",
	}
}

// Load reads path as TOML and overlays it on Default. Fields absent
// from the file keep their default value.
func Load(path string) (Config, error) {
	cfg := Default()
	var r raw
	if _, err := toml.DecodeFile(path, &r); err != nil {
		return Config{}, err
	}
	if r.IdleTimeoutMs > 0 {
		cfg.IdleTimeout = time.Duration(r.IdleTimeoutMs) * time.Millisecond
	}
	if r.KeepAliveIntervalMs > 0 {
		cfg.KeepAliveInterval = time.Duration(r.KeepAliveIntervalMs) * time.Millisecond
	}
	if r.AdminAddr != "" {
		cfg.AdminAddr = r.AdminAddr
	}
	return cfg, nil
}
