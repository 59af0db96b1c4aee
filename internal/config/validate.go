package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

var ErrTokenMissing = errors.New("telegram.token is required")

var knownLevels = map[string]bool{
	"": true, "trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true,
}

var knownDrivers = map[string]bool{
	"": true, "memory": true, "mem": true, "file": true, "sqlite": true, "sqlite3": true,
}

// Validate checks the fields that would otherwise fail later at runtime.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(ErrTokenMissing)
	}
	if _, err := ParseChatID("telegram.group_log", cfg.Telegram.GroupLog); err != nil {
		add(err)
	}
	_, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	add(err)

	for path, lvl := range map[string]string{
		"logging.level":              cfg.Logging.Level,
		"logging.telegram.min_level": cfg.Logging.Telegram.MinLevel,
	} {
		if !knownLevels[strings.ToLower(strings.TrimSpace(lvl))] {
			add(fmt.Errorf("%s: unknown level %q", path, lvl))
		}
	}
	if cfg.Logging.Telegram.RatePerSec < 0 {
		add(errors.New("logging.telegram.rate_per_sec must be >= 0"))
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if cfg.Scheduler.HistorySize < 0 {
		add(errors.New("scheduler.history_size must be >= 0"))
	}
	_, err = ParseDurationField("scheduler.action_timeout", cfg.Scheduler.ActionTimeout)
	add(err)

	if !knownDrivers[strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))] {
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	_, err = ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	add(err)

	_, err = ParseDurationField("rcon.timeout", cfg.Rcon.Timeout)
	add(err)

	p := cfg.Playtest
	for path, v := range map[string]string{
		"playtest.casual_config":   p.CasualConfig,
		"playtest.comp_config":     p.CompConfig,
		"playtest.postgame_config": p.PostgameConfig,
	} {
		if strings.TrimSpace(v) == "" {
			add(fmt.Errorf("%s is required", path))
		}
	}
	for path, v := range map[string]string{
		"playtest.delays.settle":       p.Delays.Settle,
		"playtest.delays.start_settle": p.Delays.StartSettle,
		"playtest.delays.announce_gap": p.Delays.AnnounceGap,
		"playtest.delays.post_settle":  p.Delays.PostSettle,
		"playtest.announce_interval":   p.AnnounceInterval,
	} {
		_, err := ParseDurationField(path, v)
		add(err)
	}

	if addr := strings.TrimSpace(cfg.Debug.Addr); cfg.Debug.Enabled && addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			add(fmt.Errorf("debug.addr: %w", err))
		}
	}

	return errors.Join(errs...)
}
