package config

type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Storage    StorageConfig    `json:"storage"`
	Rcon       RconConfig       `json:"rcon"`
	Playtest   PlaytestConfig   `json:"playtest"`
	Moderation ModerationConfig `json:"moderation"`
	Debug      DebugConfig      `json:"debug,omitempty"`
}

type TelegramConfig struct {
	Token            string  `json:"token"`
	OwnerUserIDs     []int64 `json:"owner_user_ids"`
	ModeratorUserIDs []int64 `json:"moderator_user_ids,omitempty"`
	// GroupLog is the chat id of the log channel.
	GroupLog string `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// ChatID is the moderated group. Mutes are applied there.
	ChatID int64 `json:"chat_id"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled      bool   `json:"enabled"`
	ThreadID     int    `json:"thread_id"`
	MinLevel     string `json:"min_level"`
	RatePerSec   int    `json:"rate_per_sec"`
	AlertMention string `json:"alert_mention,omitempty"`
}

// SchedulerConfig controls the action scheduler.
//
// Defaults (when fields are omitted/zero):
//   - timezone: local
//   - history_size: 50
//   - action_timeout: "0s" (disabled)
type SchedulerConfig struct {
	Timezone      string `json:"timezone,omitempty"`
	HistorySize   int    `json:"history_size,omitempty"`
	ActionTimeout string `json:"action_timeout,omitempty"`
}

// StorageConfig selects the record store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./hatbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type RconConfig struct {
	// Timeout bounds dial and each exchange. Default "5s".
	Timeout string `json:"timeout,omitempty"`
}

type PlaytestConfig struct {
	CasualConfig     string `json:"casual_config"`
	CompConfig       string `json:"comp_config"`
	PostgameConfig   string `json:"postgame_config"`
	FallbackImageURL string `json:"fallback_image_url,omitempty"`

	// TestingChatID receives post-game announcements and demo notices.
	TestingChatID int64 `json:"testing_chat_id,omitempty"`
	// AnnounceChatID receives the upcoming-event announcement.
	AnnounceChatID int64 `json:"announce_chat_id,omitempty"`

	// EventFile is the YAML file the calendar source reads.
	EventFile string `json:"event_file"`

	Delays PlaytestDelays `json:"delays,omitempty"`

	// AnnounceInterval is how often the announcement is refreshed. Default "60s".
	AnnounceInterval string `json:"announce_interval,omitempty"`
}

// PlaytestDelays are Go duration strings. Empty values use the defaults.
type PlaytestDelays struct {
	Settle      string `json:"settle,omitempty"`
	StartSettle string `json:"start_settle,omitempty"`
	AnnounceGap string `json:"announce_gap,omitempty"`
	PostSettle  string `json:"post_settle,omitempty"`
}

type ModerationConfig struct {
	// ImmuneUserIDs can never be muted, in addition to chat administrators.
	ImmuneUserIDs []int64 `json:"immune_user_ids,omitempty"`
}

// DebugConfig controls the operator HTTP endpoint (healthz, status, pprof).
// Keep it on loopback unless a token is set.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default "127.0.0.1:6060"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
