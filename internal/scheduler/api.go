package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"hatbot/internal/eventbus"
	logx "hatbot/pkg/logx"
)

// Schedule registers action under name. Names are unique among live actions;
// a one-shot action's name frees up as soon as it starts running, so the
// action may schedule a successor under the same name.
func (s *Service) Schedule(name string, policy Policy, action Action) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNameRequired
	}
	if action == nil || !policy.valid() {
		return ErrBadPolicy
	}

	var sched cron.Schedule
	if policy.once() {
		sched = &onceSchedule{at: policy.at}
	} else {
		sched = cron.Every(policy.every)
	}

	s.mu.Lock()
	if _, ok := s.defs[name]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	s.seq++
	d := &actionDef{id: s.seq, name: name, policy: policy, action: action}
	s.defs[name] = d
	s.mu.Unlock()

	// cron.Schedule blocks on the run loop while it is running, so it is
	// called without s.mu held.
	entryID := s.c.Schedule(sched, cron.FuncJob(func() { s.fire(d) }))

	s.mu.Lock()
	if cur, ok := s.defs[name]; ok && cur.id == d.id {
		d.entryID = entryID
		s.mu.Unlock()
	} else {
		// Cancelled, or a one-shot that already fired, between the two locks.
		s.mu.Unlock()
		s.c.Remove(entryID)
	}

	s.log.Debug("action scheduled", logx.String("name", name), logx.Bool("once", policy.once()), logx.Time("at", policy.at), logx.Duration("every", policy.every))
	return nil
}

// Cancel removes a pending action. It reports false when nothing by that name
// is registered. A run already in progress is not interrupted.
func (s *Service) Cancel(name string) bool {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	d, ok := s.defs[name]
	var entryID cron.EntryID
	if ok {
		entryID = d.entryID
		delete(s.defs, name)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	if entryID != 0 {
		s.c.Remove(entryID)
	}
	s.log.Debug("action cancelled", logx.String("name", name))
	return true
}

// Has reports whether name is registered.
func (s *Service) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.defs[strings.TrimSpace(name)]
	return ok
}

// ListUpcoming returns every registered action ordered by next fire time.
func (s *Service) ListUpcoming() []Upcoming {
	s.mu.Lock()
	defs := make([]actionDef, 0, len(s.defs))
	for _, d := range s.defs {
		defs = append(defs, *d)
	}
	running := s.running
	s.mu.Unlock()

	now := s.now()
	out := make([]Upcoming, 0, len(defs))
	for _, d := range defs {
		u := Upcoming{Name: d.name, Every: d.policy.every}
		if d.policy.once() {
			u.Next = d.policy.at
		} else {
			if running && d.entryID != 0 {
				u.Next = s.c.Entry(d.entryID).Next
			}
			if u.Next.IsZero() {
				u.Next = now.Add(d.policy.every)
			}
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Next.Equal(out[j].Next) {
			return out[i].Next.Before(out[j].Next)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (s *Service) fire(d *actionDef) {
	s.mu.Lock()
	cur, ok := s.defs[d.name]
	if !ok || cur.id != d.id {
		s.mu.Unlock()
		return
	}
	once := d.policy.once()
	if once {
		delete(s.defs, d.name)
	}
	entryID := d.entryID
	sup := s.sup
	s.mu.Unlock()

	if once && entryID != 0 {
		s.c.Remove(entryID)
	}
	if sup == nil {
		return
	}
	sup.Go0("action:"+d.name, func(ctx context.Context) {
		s.run(ctx, d)
	})
}

func (s *Service) run(ctx context.Context, d *actionDef) {
	if s.cfg.ActionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ActionTimeout)
		defer cancel()
	}

	started := s.now()
	rec := RunRecord{Name: d.name, Started: started}
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				rec.Panicked = true
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("action panicked", logx.String("name", d.name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			}
		}()
		err = d.action(ctx)
	}()
	rec.Took = s.now().Sub(started)

	evType := eventbus.ActionFired
	if err != nil {
		rec.Err = err.Error()
		evType = eventbus.ActionFailed
		if !rec.Panicked {
			lvl := s.log.Error
			if errors.Is(err, context.Canceled) {
				lvl = s.log.Warn
			}
			lvl("action failed", logx.String("name", d.name), logx.Duration("took", rec.Took), logx.Err(err))
		}
	} else {
		s.log.Debug("action done", logx.String("name", d.name), logx.Duration("took", rec.Took))
	}
	s.record(rec)
	s.bus.Publish(eventbus.Event{Type: evType, Time: time.Now(), Data: rec})
}
