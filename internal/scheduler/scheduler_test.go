package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hatbot/internal/eventbus"
	logx "hatbot/pkg/logx"
)

func newStarted(t *testing.T) *Service {
	t.Helper()
	s := New(Config{HistorySize: 10}, logx.Nop(), eventbus.Nop())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func noop(context.Context) error { return nil }

func TestScheduleRejectsDuplicateName(t *testing.T) {
	s := New(Config{}, logx.Nop(), nil)
	at := time.Now().Add(time.Hour)

	require.NoError(t, s.Schedule("unmute:1", At(at), noop))
	err := s.Schedule("unmute:1", At(at), noop)
	require.ErrorIs(t, err, ErrDuplicate)

	require.True(t, s.Cancel("unmute:1"))
	require.NoError(t, s.Schedule("unmute:1", At(at), noop))
}

func TestScheduleValidates(t *testing.T) {
	s := New(Config{}, logx.Nop(), nil)
	assert.ErrorIs(t, s.Schedule("  ", At(time.Now()), noop), ErrNameRequired)
	assert.ErrorIs(t, s.Schedule("x", Policy{}, noop), ErrBadPolicy)
	assert.ErrorIs(t, s.Schedule("x", At(time.Now()), nil), ErrBadPolicy)
}

func TestCancelAbsent(t *testing.T) {
	s := New(Config{}, logx.Nop(), nil)
	assert.False(t, s.Cancel("nope"))
}

func TestOneShotFiresOnceAndFreesName(t *testing.T) {
	s := newStarted(t)

	var runs atomic.Int32
	done := make(chan struct{})
	var resched error
	err := s.Schedule("playtest:announce", At(time.Now().Add(50*time.Millisecond)), func(ctx context.Context) error {
		runs.Add(1)
		resched = s.Schedule("playtest:announce", At(time.Now().Add(time.Hour)), noop)
		close(done)
		return nil
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("one-shot action did not fire")
	}
	require.NoError(t, resched)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())

	up := s.ListUpcoming()
	require.Len(t, up, 1)
	assert.True(t, up[0].Next.After(time.Now().Add(30*time.Minute)))
}

func TestPastDueOneShotFires(t *testing.T) {
	s := newStarted(t)
	done := make(chan struct{})
	require.NoError(t, s.Schedule("late", At(time.Now().Add(-time.Minute)), func(context.Context) error {
		close(done)
		return nil
	}))
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("past-due action did not fire")
	}
	assert.False(t, s.Has("late"))
}

func TestCancelledOneShotDoesNotFire(t *testing.T) {
	s := newStarted(t)
	var fired atomic.Bool
	require.NoError(t, s.Schedule("x", At(time.Now().Add(100*time.Millisecond)), func(context.Context) error {
		fired.Store(true)
		return nil
	}))
	require.True(t, s.Cancel("x"))
	time.Sleep(300 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestSlowActionDoesNotDelayOthers(t *testing.T) {
	s := newStarted(t)
	release := make(chan struct{})
	defer close(release)

	started := make(chan struct{})
	require.NoError(t, s.Schedule("slow", At(time.Now().Add(50*time.Millisecond)), func(ctx context.Context) error {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}))
	fast := make(chan struct{})
	require.NoError(t, s.Schedule("fast", At(time.Now().Add(200*time.Millisecond)), func(context.Context) error {
		close(fast)
		return nil
	}))

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("slow action did not start")
	}
	select {
	case <-fast:
	case <-time.After(2 * time.Second):
		t.Fatal("fast action waited behind the slow one")
	}
}

func TestRecurringKeepsFiringAfterFailure(t *testing.T) {
	s := newStarted(t)
	var runs atomic.Int32
	require.NoError(t, s.Schedule("flaky", Every(time.Second), func(context.Context) error {
		runs.Add(1)
		return errors.New("boom")
	}))

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 5*time.Second, 50*time.Millisecond)
	assert.True(t, s.Has("flaky"))

	hist := s.History()
	require.NotEmpty(t, hist)
	assert.Equal(t, "flaky", hist[0].Name)
	assert.Equal(t, "boom", hist[0].Err)
}

func TestActionPanicIsContained(t *testing.T) {
	s := newStarted(t)
	done := make(chan struct{})
	require.NoError(t, s.Schedule("bad", At(time.Now()), func(context.Context) error {
		panic("kaboom")
	}))
	require.NoError(t, s.Schedule("good", At(time.Now().Add(200*time.Millisecond)), func(context.Context) error {
		close(done)
		return nil
	}))
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("loop stalled after a panicking action")
	}
	require.Eventually(t, func() bool {
		for _, r := range s.History() {
			if r.Name == "bad" && r.Panicked {
				return true
			}
		}
		return false
	}, time.Second, 20*time.Millisecond)
}

func TestListUpcomingSorted(t *testing.T) {
	s := New(Config{}, logx.Nop(), nil)
	base := time.Now().Add(time.Hour)
	require.NoError(t, s.Schedule("c", At(base.Add(2*time.Minute)), noop))
	require.NoError(t, s.Schedule("a", At(base), noop))
	require.NoError(t, s.Schedule("b", At(base), noop))

	up := s.ListUpcoming()
	require.Len(t, up, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{up[0].Name, up[1].Name, up[2].Name})
}

func TestFiredEventsPublished(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	s := New(Config{}, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	require.NoError(t, s.Schedule("ev", At(time.Now()), noop))
	select {
	case ev := <-ch:
		assert.Equal(t, eventbus.ActionFired, ev.Type)
		rec, ok := ev.Data.(RunRecord)
		require.True(t, ok)
		assert.Equal(t, "ev", rec.Name)
	case <-time.After(3 * time.Second):
		t.Fatal("no event")
	}
}
