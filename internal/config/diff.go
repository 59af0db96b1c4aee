package config

import (
	"reflect"
	"sort"
	"strings"

	logx "hatbot/pkg/logx"
)

// Change summarizes a reload.
type Change struct {
	// Sections lists the changed top-level sections, sorted.
	Sections []string
	// RestartRequired lists sections whose change only takes effect after a
	// restart (storage, telegram token, scheduler timezone).
	RestartRequired []string
	// Attrs are safe log fields. Secrets are never included.
	Attrs []logx.Field
}

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// SummarizeConfigChange compares two configs section by section.
func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		!reflect.DeepEqual(ot.ModeratorUserIDs, nt.ModeratorUserIDs) ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
		ot.ChatID != nt.ChatID ||
		ot.Token != nt.Token {
		ch.Sections = append(ch.Sections, "telegram")
		ch.Attrs = append(ch.Attrs,
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Int("telegram.moderator_count", len(nt.ModeratorUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
		)
		if ot.Token != nt.Token || strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) {
			ch.RestartRequired = append(ch.RestartRequired, "telegram")
		}
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		ch.Sections = append(ch.Sections, "logging")
		ch.Attrs = append(ch.Attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		ch.Sections = append(ch.Sections, "scheduler")
		ch.Attrs = append(ch.Attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.Int("scheduler.history_size", newCfg.Scheduler.HistorySize),
		)
		ch.RestartRequired = append(ch.RestartRequired, "scheduler")
	}

	if oldCfg.Storage != newCfg.Storage {
		ch.Sections = append(ch.Sections, "storage")
		ch.Attrs = append(ch.Attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
		ch.RestartRequired = append(ch.RestartRequired, "storage")
	}

	if oldCfg.Rcon != newCfg.Rcon {
		ch.Sections = append(ch.Sections, "rcon")
		ch.Attrs = append(ch.Attrs, logx.String("rcon.timeout", strings.TrimSpace(newCfg.Rcon.Timeout)))
	}

	if oldCfg.Playtest != newCfg.Playtest {
		ch.Sections = append(ch.Sections, "playtest")
		ch.Attrs = append(ch.Attrs,
			logx.String("playtest.casual_config", newCfg.Playtest.CasualConfig),
			logx.String("playtest.comp_config", newCfg.Playtest.CompConfig),
			logx.String("playtest.announce_interval", newCfg.Playtest.AnnounceInterval),
		)
		if oldCfg.Playtest.EventFile != newCfg.Playtest.EventFile ||
			oldCfg.Playtest.AnnounceInterval != newCfg.Playtest.AnnounceInterval {
			ch.RestartRequired = append(ch.RestartRequired, "playtest")
		}
	}

	if !reflect.DeepEqual(oldCfg.Moderation, newCfg.Moderation) {
		ch.Sections = append(ch.Sections, "moderation")
		ch.Attrs = append(ch.Attrs, logx.Int("moderation.immune_count", len(newCfg.Moderation.ImmuneUserIDs)))
	}

	if oldCfg.Debug != newCfg.Debug {
		ch.Sections = append(ch.Sections, "debug")
		ch.Attrs = append(ch.Attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", strings.TrimSpace(newCfg.Debug.Addr)),
			logx.Bool("debug.token_set", newCfg.Debug.Token != ""),
		)
	}

	sort.Strings(ch.Sections)
	sort.Strings(ch.RestartRequired)
	return ch
}
