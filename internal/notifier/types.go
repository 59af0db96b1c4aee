// Package notifier delivers fire-and-forget chat messages through a queue,
// a small worker pool, a rate limiter and retry with backoff.
//
// Callers that need the id of the sent message (announcements) talk to the
// adapter directly; everything else goes through here.
package notifier

import (
	"time"

	kit "hatbot/internal/transport"
)

// Config controls the delivery pipeline. Zero values use the defaults.
type Config struct {
	Workers       int           // default 2
	QueueSize     int           // default 256
	RatePerSec    int           // default 3
	RetryMax      int           // default 3
	RetryBase     time.Duration // default 500ms
	RetryMaxDelay time.Duration // default 10s
	// DedupWindow drops a notification whose Key was queued within the
	// window. 0 disables dedup.
	DedupWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	} else if c.RetryMax == 0 {
		c.RetryMax = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	return c
}

type Notification struct {
	Target  kit.ChatTarget
	Text    string
	Options *kit.SendOptions
	// Key identifies repeats for dedup. Empty means never deduplicated.
	Key string
}

type HistoryItem struct {
	At     time.Time
	ChatID int64
	Text   string
	Err    string
}
