package moderation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hatbot/internal/fault"
	"hatbot/internal/scheduler"
	"hatbot/internal/storage"
	logx "hatbot/pkg/logx"
)

type fakeRoles struct {
	mu       sync.Mutex
	granted  map[int64]time.Time
	revoked  []int64
	grantErr error
	admins   map[int64]bool
}

func newRoles() *fakeRoles {
	return &fakeRoles{granted: map[int64]time.Time{}, admins: map[int64]bool{}}
}

func (f *fakeRoles) GrantMute(_ context.Context, userID int64, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.grantErr != nil {
		return f.grantErr
	}
	f.granted[userID] = until
	return nil
}

func (f *fakeRoles) RevokeMute(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, userID)
	return nil
}

func (f *fakeRoles) IsImmune(_ context.Context, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.admins[userID], nil
}

func (f *fakeRoles) revokedUsers() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.revoked...)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time      { return c.t }
func (c *clock) add(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	ledger storage.Store
	roles  *fakeRoles
	sched  *scheduler.Service
	clock  *clock
	eng    *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ledger: storage.NewMemory(),
		roles:  newRoles(),
		sched:  scheduler.New(scheduler.Config{}, logx.Nop(), nil),
		clock:  &clock{t: time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)},
	}
	f.eng = NewEngine(f.ledger, f.roles, f.sched, logx.Nop(), WithClock(f.clock.now))
	return f
}

func (f *fixture) upcoming(name string) (time.Time, bool) {
	for _, u := range f.sched.ListUpcoming() {
		if u.Name == name {
			return u.Next, true
		}
	}
	return time.Time{}, false
}

func TestMuteThenListActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.eng.Mute(ctx, MuteRequest{UserID: 42, Username: "spammer", Duration: time.Hour, Reason: "spam", ModeratorID: 7})
	require.NoError(t, err)
	require.Equal(t, Applied, res.Outcome)

	active, err := f.eng.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, int64(42), active[0].UserID)
	assert.Equal(t, 60.0, active[0].Duration)
	assert.Equal(t, "spam", active[0].Reason)

	at, ok := f.upcoming(JobName(42))
	require.True(t, ok)
	assert.Equal(t, f.clock.t.Add(time.Hour), at)
	assert.Equal(t, f.clock.t.Add(time.Hour), f.roles.granted[42])

	res, err = f.eng.Mute(ctx, MuteRequest{UserID: 42, Duration: time.Minute, Reason: "again"})
	require.NoError(t, err)
	assert.Equal(t, AlreadyMuted, res.Outcome)
}

func TestExtendScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t0 := f.clock.t

	_, err := f.eng.Mute(ctx, MuteRequest{UserID: 42, Duration: 60 * time.Minute, Reason: "spam", ModeratorID: 7})
	require.NoError(t, err)

	f.clock.add(10 * time.Minute)
	res, err := f.eng.Mute(ctx, MuteRequest{UserID: 42, Duration: 30 * time.Minute, Reason: "E still spamming", ModeratorID: 8})
	require.NoError(t, err)
	require.Equal(t, Applied, res.Outcome)
	assert.True(t, res.Extended)
	assert.Equal(t, 90.0, res.Mute.Duration)
	assert.Equal(t, t0, res.Mute.MuteTime)
	assert.Equal(t, "Extended from previous mute: still spamming", res.Mute.Reason)

	at, ok := f.upcoming(JobName(42))
	require.True(t, ok)
	assert.Equal(t, t0.Add(90*time.Minute), at)
	assert.Len(t, f.sched.ListUpcoming(), 1)

	hist, err := f.eng.History(ctx, 42)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, res.Mute.ID, hist[0].ID)
	assert.False(t, hist[0].Expired)
	assert.Equal(t, 90.0, hist[0].Duration)

	un, err := f.eng.Unmute(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, Unmuted, un.Outcome)
	assert.NoError(t, un.RoleErr)
	assert.Equal(t, []int64{42}, f.roles.revokedUsers())
	_, ok = f.upcoming(JobName(42))
	assert.False(t, ok)

	un, err = f.eng.Unmute(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, NotMuted, un.Outcome)
}

type failingLedger struct {
	storage.MuteLedger
	replaceErr error
}

func (l *failingLedger) ReplaceMute(ctx context.Context, prevID uuid.UUID, m storage.Mute) error {
	if l.replaceErr != nil {
		return l.replaceErr
	}
	return l.MuteLedger.ReplaceMute(ctx, prevID, m)
}

func TestExtendWriteFailureKeepsPreviousMute(t *testing.T) {
	f := newFixture(t)
	ledger := &failingLedger{MuteLedger: f.ledger}
	f.eng = NewEngine(ledger, f.roles, f.sched, logx.Nop(), WithClock(f.clock.now))
	ctx := context.Background()
	t0 := f.clock.t

	first, err := f.eng.Mute(ctx, MuteRequest{UserID: 42, Duration: time.Hour, Reason: "spam"})
	require.NoError(t, err)
	require.Equal(t, Applied, first.Outcome)

	ledger.replaceErr = errors.New("disk full")
	f.clock.add(5 * time.Minute)
	_, err = f.eng.Mute(ctx, MuteRequest{UserID: 42, Duration: 30 * time.Minute, Reason: "e flooding again"})
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.Persistence))

	active, ok, err := f.ledger.ActiveMute(ctx, 42)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.Mute.ID, active.ID)
	assert.Equal(t, 60.0, active.Duration)

	at, ok := f.upcoming(JobName(42))
	require.True(t, ok, "the pending unmute must survive a failed extend")
	assert.Equal(t, t0.Add(time.Hour), at)
}

func TestConcurrentMutesKeepOneActiveRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 3 {
			case 0:
				_, _ = f.eng.Mute(ctx, MuteRequest{UserID: 42, Duration: time.Duration(i+1) * time.Minute, Reason: "spam"})
			case 1:
				_, _ = f.eng.Mute(ctx, MuteRequest{UserID: 42, Duration: time.Minute, Reason: "e more spam"})
			default:
				_, _ = f.eng.Unmute(ctx, 42)
			}
		}(i)
	}
	wg.Wait()

	active, err := f.eng.ListActive(ctx)
	require.NoError(t, err)
	require.LessOrEqual(t, len(active), 1)

	jobs := 0
	for _, u := range f.sched.ListUpcoming() {
		if u.Name == JobName(42) {
			jobs++
		}
	}
	if len(active) == 1 {
		require.Equal(t, 1, jobs)
		at, _ := f.upcoming(JobName(42))
		assert.Equal(t, active[0].Until(), at)
	} else {
		assert.Zero(t, jobs)
	}
}

func TestExtendedMuteLapsesOnSchedule(t *testing.T) {
	ledger := storage.NewMemory()
	roles := newRoles()
	sched := scheduler.New(scheduler.Config{}, logx.Nop(), nil)
	sched.Start(context.Background())
	defer sched.Stop(context.Background())
	eng := NewEngine(ledger, roles, sched, logx.Nop())
	ctx := context.Background()

	t0 := time.Now()
	_, err := eng.Mute(ctx, MuteRequest{UserID: 42, Duration: time.Second, Reason: "spam"})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	ext, err := eng.Mute(ctx, MuteRequest{UserID: 42, Duration: time.Second, Reason: "e flooding again"})
	require.NoError(t, err)
	require.True(t, ext.Extended)

	// The first mute's own lapse time passes without lifting the extension.
	time.Sleep(time.Until(t0.Add(1400 * time.Millisecond)))
	active, err := eng.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.Eventually(t, func() bool {
		active, _ := eng.ListActive(ctx)
		return len(active) == 0
	}, 5*time.Second, 20*time.Millisecond)

	hist, err := eng.History(ctx, 42)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.True(t, hist[0].Expired)
	assert.Equal(t, ext.Mute.ID, hist[0].ID)
	assert.Equal(t, "Extended from previous mute: flooding again", hist[0].Reason)
	assert.InDelta(t, 2.0/60, hist[0].Duration, 1e-9)
	assert.Equal(t, []int64{42}, roles.revokedUsers())
}

func TestExtendMarkerWithoutActiveMuteIsLiteral(t *testing.T) {
	f := newFixture(t)
	res, err := f.eng.Mute(context.Background(), MuteRequest{UserID: 5, Duration: time.Minute, Reason: "e nothing to extend"})
	require.NoError(t, err)
	assert.Equal(t, Applied, res.Outcome)
	assert.False(t, res.Extended)
	assert.Equal(t, "e nothing to extend", res.Mute.Reason)
	assert.Equal(t, 1.0, res.Mute.Duration)
}

func TestRoleGrantFailureKeepsRecord(t *testing.T) {
	f := newFixture(t)
	f.roles.grantErr = errors.New("user left")
	ctx := context.Background()

	res, err := f.eng.Mute(ctx, MuteRequest{UserID: 5, Duration: time.Minute, Reason: "x"})
	require.NoError(t, err)
	assert.Equal(t, RoleGrantFailed, res.Outcome)
	assert.Error(t, res.Err)

	_, ok, _ := f.ledger.ActiveMute(ctx, 5)
	assert.True(t, ok)
	_, scheduled := f.upcoming(JobName(5))
	assert.False(t, scheduled)
}

func TestImmuneUsers(t *testing.T) {
	f := newFixture(t)
	f.roles.admins[1] = true
	f.eng.SetImmune([]int64{2})
	ctx := context.Background()

	for _, id := range []int64{1, 2} {
		res, err := f.eng.Mute(ctx, MuteRequest{UserID: id, Duration: time.Minute, Reason: "x"})
		require.NoError(t, err)
		assert.Equal(t, Immune, res.Outcome)
		_, ok, _ := f.ledger.ActiveMute(ctx, id)
		assert.False(t, ok)
	}
}

func TestMuteValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.Mute(context.Background(), MuteRequest{UserID: 1, Reason: "x"})
	assert.ErrorIs(t, err, ErrBadDuration)
	_, err = f.eng.Mute(context.Background(), MuteRequest{Duration: time.Minute})
	assert.Error(t, err)
}

func TestRecoverSchedulesRemaining(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.t

	records := []struct {
		user    int64
		started time.Duration
		minutes float64
	}{
		{1, -10 * time.Minute, 30}, // 20m left
		{2, -10 * time.Minute, 5},  // overdue
		{3, 0, 120},
	}
	for _, r := range records {
		require.NoError(t, f.ledger.AddMute(ctx, storage.Mute{ID: uuid.New(), UserID: r.user, Duration: r.minutes, MuteTime: now.Add(r.started)}))
	}

	n, err := f.eng.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	want := map[string]time.Time{
		JobName(1): now.Add(20 * time.Minute),
		JobName(2): now.Add(-5 * time.Minute),
		JobName(3): now.Add(120 * time.Minute),
	}
	up := f.sched.ListUpcoming()
	require.Len(t, up, 3)
	for _, u := range up {
		assert.True(t, want[u.Name].Equal(u.Next), "%s fires at %v, want %v", u.Name, u.Next, want[u.Name])
	}
	assert.Equal(t, JobName(2), up[0].Name)
}

func TestScheduledUnmuteFires(t *testing.T) {
	ledger := storage.NewMemory()
	roles := newRoles()
	sched := scheduler.New(scheduler.Config{}, logx.Nop(), nil)
	sched.Start(context.Background())
	defer sched.Stop(context.Background())

	eng := NewEngine(ledger, roles, sched, logx.Nop())
	res, err := eng.Mute(context.Background(), MuteRequest{UserID: 9, Duration: 150 * time.Millisecond, Reason: "brief"})
	require.NoError(t, err)
	require.Equal(t, Applied, res.Outcome)

	require.Eventually(t, func() bool {
		_, ok, _ := ledger.ActiveMute(context.Background(), 9)
		return !ok
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, []int64{9}, roles.revokedUsers())
}

func TestParseMuteDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"1D5H30M10S", 29*time.Hour + 30*time.Minute + 10*time.Second, true},
		{"5h", 5 * time.Hour, true},
		{"30m", 30 * time.Minute, true},
		{"120", 2 * time.Hour, true},
		{"1.5", 90 * time.Second, true},
		{"1h30m", 90 * time.Minute, true},
		{"1.5h", 90 * time.Minute, true},
		{"0", 0, false},
		{"99999999999D", 0, false},
		{"106752D", 0, false},
		{"106751D24H", 0, false},
		{"9223372037S", 0, false},
		{"1e300", 0, false},
		{"Inf", 0, false},
		{"NaN", 0, false},
		{"-5", 0, false},
		{"soon", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		got, err := ParseMuteDuration(c.in)
		if c.ok && (err != nil || got != c.want) {
			t.Fatalf("ParseMuteDuration(%q) = %v, %v; want %v", c.in, got, err, c.want)
		}
		if !c.ok && err == nil {
			t.Fatalf("ParseMuteDuration(%q) = %v; want error", c.in, got)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	if got := FormatDuration(25*time.Hour + time.Minute); got != "1 Day, 1 Hour, 1 Minute" {
		t.Fatalf("got %q", got)
	}
	if got := FormatDuration(90 * time.Second); got != "1 Minute, 30 Seconds" {
		t.Fatalf("got %q", got)
	}
}
