package chatops

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hatbot/internal/notifier"
	"hatbot/internal/playtest"
	"hatbot/internal/reservation"
	"hatbot/internal/storage"
	kit "hatbot/internal/transport"
	logx "hatbot/pkg/logx"
)

type fakeAdapter struct {
	mu     sync.Mutex
	sent   []kit.ChatTarget
	texts  []string
	edited []kit.MessageRef
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	f.texts = append(f.texts, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 100 + len(f.sent)}, nil
}

func (f *fakeAdapter) EditText(_ context.Context, ref kit.MessageRef, text string, _ *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited = append(f.edited, ref)
	f.texts = append(f.texts, text)
	return nil
}

type fakeNotifier struct {
	mu  sync.Mutex
	got []notifier.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, n notifier.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, n)
	return nil
}

type fakeRestrictor struct {
	restricted map[int64]time.Time
	lifted     []int64
	admins     map[int64]bool
	chats      []int64
}

func (f *fakeRestrictor) Restrict(_ context.Context, chatID, userID int64, until time.Time) error {
	f.chats = append(f.chats, chatID)
	f.restricted[userID] = until
	return nil
}

func (f *fakeRestrictor) Unrestrict(_ context.Context, chatID, userID int64) error {
	f.chats = append(f.chats, chatID)
	f.lifted = append(f.lifted, userID)
	return nil
}

func (f *fakeRestrictor) IsAdmin(_ context.Context, _, userID int64) (bool, error) {
	return f.admins[userID], nil
}

func sampleEvent() playtest.TestEvent {
	return playtest.TestEvent{
		Valid:          true,
		Casual:         true,
		Title:          "Sunset Ridge",
		Creators:       []string{"@maker"},
		ServerLocation: "can.example.net",
		WorkshopLink:   "https://steamcommunity.com/sharedfiles/filedetails/?id=42",
		StartTime:      time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC),
		EndTime:        time.Date(2024, 6, 1, 22, 0, 0, 0, time.UTC),
		Description:    "A <new> map",
		Moderator:      "@mod",
	}
}

func TestRoles(t *testing.T) {
	r := &fakeRestrictor{restricted: map[int64]time.Time{}, admins: map[int64]bool{7: true}}
	roles := NewRoles(r, -100)
	ctx := context.Background()
	until := time.Now().Add(time.Hour)

	require.NoError(t, roles.GrantMute(ctx, 5, until))
	require.NoError(t, roles.RevokeMute(ctx, 5))
	assert.Equal(t, until, r.restricted[5])
	assert.Equal(t, []int64{5}, r.lifted)
	assert.Equal(t, []int64{-100, -100}, r.chats)

	immune, err := roles.IsImmune(ctx, 7)
	require.NoError(t, err)
	assert.True(t, immune)

	roles.SetChat(0)
	assert.Error(t, roles.GrantMute(ctx, 5, until))
}

func TestRenderAnnouncementCountdown(t *testing.T) {
	ev := sampleEvent()
	m := RenderAnnouncement(ev, ev.StartTime.Add(-(26*time.Hour + 5*time.Minute)))
	assert.Contains(t, m.Text, "(in 1 day 2 hours 5 minutes)")
	assert.Contains(t, m.Text, "A &lt;new&gt; map")
	assert.Contains(t, m.Text, "Casual")

	m = RenderAnnouncement(ev, ev.StartTime.Add(time.Minute))
	assert.Contains(t, m.Text, "(live now)")
}

func TestPublisherAnnouncements(t *testing.T) {
	ad := &fakeAdapter{}
	p := NewPublisher(ad, &fakeNotifier{}, storage.NewMemory(), Targets{Announce: kit.ChatTarget{ChatID: -5}}, logx.Nop())
	ctx := context.Background()

	chatID, msgID, err := p.PostAnnouncement(ctx, sampleEvent())
	require.NoError(t, err)
	assert.Equal(t, int64(-5), chatID)
	assert.Equal(t, 101, msgID)

	require.NoError(t, p.EditAnnouncement(ctx, chatID, msgID, sampleEvent()))
	assert.Equal(t, []kit.MessageRef{{ChatID: -5, MessageID: 101}}, ad.edited)

	p.SetTargets(Targets{})
	_, _, err = p.PostAnnouncement(ctx, sampleEvent())
	assert.Error(t, err)
}

func TestPublishDemoUsesServerShare(t *testing.T) {
	store := storage.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.PutServer(ctx, storage.Server{ID: "can", Address: "can.example.net", FtpPath: "files.example.net/csgo/", FtpType: "sftp"}))
	n := &fakeNotifier{}
	p := NewPublisher(&fakeAdapter{}, n, store, Targets{Testing: kit.ChatTarget{ChatID: -9, ThreadID: 3}}, logx.Nop())

	s := storage.PlaytestSession{Title: "Sunset Ridge", DemoName: "06_01_2024_Sunset_casual", ServerAddress: "can.example.net:27015", WorkshopID: "42"}
	require.NoError(t, p.PublishDemo(ctx, s))
	require.NoError(t, p.AnnouncePostGame(ctx, s))

	require.Len(t, n.got, 2)
	assert.Equal(t, kit.ChatTarget{ChatID: -9, ThreadID: 3}, n.got[0].Target)
	assert.Contains(t, n.got[0].Text, "sftp://files.example.net/csgo/06_01_2024_Sunset_casual.dem")
	assert.Contains(t, n.got[1].Text, "voice channel")
}

func TestDeliverNotices(t *testing.T) {
	n := &fakeNotifier{}
	p := NewPublisher(&fakeAdapter{}, n, storage.NewMemory(), Targets{}, logx.Nop())
	p.DeliverNotices(context.Background(), []reservation.Notice{{UserID: 11, ServerID: "can", Message: reservation.ClearedNotice}})
	require.Len(t, n.got, 1)
	assert.Equal(t, int64(11), n.got[0].Target.ChatID)
	assert.Contains(t, n.got[0].Text, reservation.ClearedNotice)
}
