package app

import (
	"fmt"
	"strings"
	"time"

	"hatbot/internal/chatops"
	"hatbot/internal/config"
	"hatbot/internal/playtest"
	"hatbot/internal/scheduler"
	"hatbot/internal/storage"
	kit "hatbot/internal/transport"
	logx "hatbot/pkg/logx"
)

const (
	defaultPollTimeout      = 10 * time.Second
	defaultRconTimeout      = 5 * time.Second
	defaultAnnounceInterval = time.Minute
	defaultBusyTimeout      = time.Second
)

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:      l.Telegram.Enabled,
			ThreadID:     l.Telegram.ThreadID,
			MinLevel:     l.Telegram.MinLevel,
			RatePerSec:   l.Telegram.RatePerSec,
			AlertMention: l.Telegram.AlertMention,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "memory", "mem":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	timeout, err := config.ParseDurationField("scheduler.action_timeout", cfg.Scheduler.ActionTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Timezone:      cfg.Scheduler.Timezone,
		HistorySize:   cfg.Scheduler.HistorySize,
		ActionTimeout: timeout,
	}, nil
}

func mapPlaytestConfig(cfg *config.Config) (playtest.Config, error) {
	p := cfg.Playtest
	var d playtest.Delays
	for _, f := range []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"playtest.delays.settle", p.Delays.Settle, &d.Settle},
		{"playtest.delays.start_settle", p.Delays.StartSettle, &d.StartSettle},
		{"playtest.delays.announce_gap", p.Delays.AnnounceGap, &d.AnnounceGap},
		{"playtest.delays.post_settle", p.Delays.PostSettle, &d.PostSettle},
	} {
		v, err := config.ParseDurationField(f.path, f.raw)
		if err != nil {
			return playtest.Config{}, err
		}
		*f.dst = v
	}
	return playtest.Config{
		CasualConfig:     strings.TrimSpace(p.CasualConfig),
		CompConfig:       strings.TrimSpace(p.CompConfig),
		PostgameConfig:   strings.TrimSpace(p.PostgameConfig),
		FallbackImageURL: strings.TrimSpace(p.FallbackImageURL),
		Delays:           d,
	}, nil
}

// mapTargets falls back to the moderated group for any chat left unset.
func mapTargets(cfg *config.Config) chatops.Targets {
	announce, testing := cfg.Playtest.AnnounceChatID, cfg.Playtest.TestingChatID
	if announce == 0 {
		announce = cfg.Telegram.ChatID
	}
	if testing == 0 {
		testing = cfg.Telegram.ChatID
	}
	return chatops.Targets{
		Announce: kit.ChatTarget{ChatID: announce},
		Testing:  kit.ChatTarget{ChatID: testing},
	}
}

func rconTimeout(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("rcon.timeout", cfg.Rcon.Timeout, defaultRconTimeout)
}

func announceInterval(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("playtest.announce_interval", cfg.Playtest.AnnounceInterval, defaultAnnounceInterval)
}

// validate is the transactional reload hook: a config that fails here is
// never committed.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapPlaytestConfig(cfg); err != nil {
		return err
	}
	return nil
}

// CheckConfig parses and validates the file at path without starting anything.
func CheckConfig(path string) (*config.Config, error) {
	cfg, err := config.NewConfigManager(path).Parse()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
