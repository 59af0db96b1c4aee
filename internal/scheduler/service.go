package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"hatbot/internal/eventbus"
	"hatbot/internal/runtime/supervisor"
	logx "hatbot/pkg/logx"
)

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 50
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		} else {
			log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		}
	}
	s := &Service{
		log:  log,
		cfg:  cfg,
		loc:  loc,
		bus:  bus,
		now:  time.Now,
		defs: map[string]*actionDef{},
	}
	s.c = cron.New(cron.WithLocation(loc), cron.WithLogger(cronLogger{log: log}))
	return s
}

// Start starts the timing loop. Actions registered before Start are armed
// with it.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log), supervisor.WithCancelOnError(false))
	s.running = true
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("actions", len(s.defs)))
}

// Stop halts the timing loop and waits for in-flight actions until ctx is
// done; anything still running then sees its context cancelled.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	sup := s.sup
	s.mu.Unlock()

	select {
	case <-s.c.Stop().Done():
	case <-ctx.Done():
	}
	if sup != nil {
		if err := sup.Wait(ctx); err != nil && ctx.Err() != nil {
			s.log.Warn("actions still running at stop; cancelling")
		}
		sup.Cancel()
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// cronLogger routes cron's internal logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if !l.log.Enabled(logx.LevelTrace) {
		return
	}
	l.log.Trace("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
