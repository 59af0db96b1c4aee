// Package calendar reads the next playtest event from a YAML file and keeps
// it current as the file changes.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	yaml "go.yaml.in/yaml/v3"

	"hatbot/internal/playtest"
	logx "hatbot/pkg/logx"
)

const reloadDebounce = 250 * time.Millisecond

// Source implements playtest.EventSource over a YAML event file.
//
// A missing file means there is no event. A file that fails to parse leaves
// the last good event in place.
type Source struct {
	path string
	log  logx.Logger
	now  func() time.Time

	mu     sync.RWMutex
	ev     playtest.TestEvent
	loaded bool
}

func New(path string, log logx.Logger) *Source {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Source{
		path: path,
		log:  log.With(logx.String("comp", "calendar")),
		now:  time.Now,
	}
}

// Load reads the file now.
func (s *Source) Load() error {
	if strings.TrimSpace(s.path) == "" {
		s.store(playtest.TestEvent{})
		return nil
	}
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.store(playtest.TestEvent{})
		return nil
	}
	if err != nil {
		return fmt.Errorf("read event file: %w", err)
	}
	ev, err := Parse(b)
	if err != nil {
		return err
	}
	if ev.EditTime.IsZero() {
		if st, err := os.Stat(s.path); err == nil {
			ev.EditTime = st.ModTime().UTC().Truncate(time.Second)
		}
	}
	s.store(ev)
	s.log.Debug("event loaded", logx.String("title", ev.Title), logx.Time("start", ev.StartTime))
	return nil
}

// Parse decodes one event document. Validity is decided at read time.
func Parse(b []byte) (playtest.TestEvent, error) {
	var ev playtest.TestEvent
	if len(strings.TrimSpace(string(b))) == 0 {
		return ev, nil
	}
	if err := yaml.Unmarshal(b, &ev); err != nil {
		return playtest.TestEvent{}, fmt.Errorf("parse event file: %w", err)
	}
	return ev, nil
}

func (s *Source) store(ev playtest.TestEvent) {
	s.mu.Lock()
	s.ev = ev
	s.loaded = true
	s.mu.Unlock()
}

// TestEvent returns the current event. It is Valid when every field is
// present and the event has not ended yet.
func (s *Source) TestEvent(ctx context.Context) (playtest.TestEvent, error) {
	if err := ctx.Err(); err != nil {
		return playtest.TestEvent{}, err
	}
	s.mu.RLock()
	ev, loaded := s.ev, s.loaded
	s.mu.RUnlock()
	if !loaded {
		if err := s.Load(); err != nil {
			return playtest.TestEvent{}, err
		}
		s.mu.RLock()
		ev = s.ev
		s.mu.RUnlock()
	}
	ev.Valid = ev.Complete() && ev.EndTime.After(s.now())
	return ev, nil
}

// Watch reloads the event file on change until ctx is done.
func (s *Source) Watch(ctx context.Context) error {
	if strings.TrimSpace(s.path) == "" {
		<-ctx.Done()
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("event watcher: %w", err)
	}
	defer w.Close()
	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	file := filepath.Base(s.path)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	reload := func() {
		if err := s.Load(); err != nil {
			s.log.Warn("event reload failed; keeping previous event", logx.String("path", s.path), logx.Err(err))
			return
		}
		s.log.Info("event file reloaded", logx.String("path", s.path))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("event watcher closed")
			}
			if !strings.EqualFold(filepath.Base(ev.Name), file) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, reload)
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("event watcher closed")
			}
			s.log.Warn("event watch error", logx.Err(err))
		}
	}
}
