package scheduler

import (
	"sync"
	"time"
)

// onceSchedule yields its instant on first use and the zero time after it has
// fired. cron never runs an entry whose next time is zero.
type onceSchedule struct {
	mu    sync.Mutex
	at    time.Time
	calls int
}

func (o *onceSchedule) Next(t time.Time) time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.calls == 1 || t.Before(o.at) {
		return o.at
	}
	return time.Time{}
}
