package playtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hatbot/internal/fault"
	"hatbot/internal/scheduler"
	"hatbot/internal/storage"
	logx "hatbot/pkg/logx"
)

const (
	AnnounceJob  = "playtest:announce"
	ReattachJob  = "playtest:announce-reattach"
	reattachWait = 5 * time.Second
)

// AnnouncementPublisher renders the upcoming-event announcement into chat.
type AnnouncementPublisher interface {
	PostAnnouncement(ctx context.Context, ev TestEvent) (chatID int64, messageID int, err error)
	EditAnnouncement(ctx context.Context, chatID int64, messageID int, ev TestEvent) error
}

// Scheduler is the part of the action scheduler the refresher uses.
type Scheduler interface {
	Schedule(name string, policy scheduler.Policy, action scheduler.Action) error
	Cancel(name string) bool
}

// Announcements keeps one chat message per event revision up to date.
type Announcements struct {
	log    logx.Logger
	events EventSource
	store  storage.AnnounceStore
	pub    AnnouncementPublisher
	now    func() time.Time

	run sync.Mutex // one refresh at a time

	mu  sync.Mutex
	cur *storage.AnnounceMessage
}

func NewAnnouncements(events EventSource, store storage.AnnounceStore, pub AnnouncementPublisher, log logx.Logger) *Announcements {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Announcements{
		log:    log.With(logx.String("comp", "announce")),
		events: events,
		store:  store,
		pub:    pub,
		now:    time.Now,
	}
}

// Register adds the recurring refresh and the one-shot reattach.
func (a *Announcements) Register(s Scheduler, every time.Duration) error {
	if every <= 0 {
		every = time.Minute
	}
	if err := s.Schedule(AnnounceJob, scheduler.Every(every), a.Refresh); err != nil {
		return fmt.Errorf("register %s: %w", AnnounceJob, err)
	}
	if err := s.Schedule(ReattachJob, scheduler.At(a.now().Add(reattachWait)), a.Reattach); err != nil {
		s.Cancel(AnnounceJob)
		return fmt.Errorf("register %s: %w", ReattachJob, err)
	}
	return nil
}

// Reattach loads the stored announcement so refreshes keep editing the same
// message after a restart.
func (a *Announcements) Reattach(ctx context.Context) error {
	rec, ok, err := a.store.GetAnnounce(ctx)
	if err != nil {
		return fault.Wrap(fault.Persistence, err)
	}
	if !ok {
		a.log.Debug("no announcement to reattach")
		return nil
	}
	a.mu.Lock()
	a.cur = &rec
	a.mu.Unlock()
	a.log.Info("announcement reattached", logx.Int("message_id", rec.AnnouncementID), logx.Time("event_edit", rec.AnnouncementDateTime))
	return nil
}

// Refresh edits the current announcement when it still shows this revision
// of the event, and posts a new one otherwise.
func (a *Announcements) Refresh(ctx context.Context) error {
	if !a.run.TryLock() {
		return nil
	}
	defer a.run.Unlock()

	ev, err := a.events.TestEvent(ctx)
	if err != nil {
		return fault.Wrap(fault.RemoteUnavailable, fmt.Errorf("load test event: %w", err))
	}
	if !ev.Valid {
		return nil
	}

	a.mu.Lock()
	cur := a.cur
	a.mu.Unlock()

	if cur != nil && cur.AnnouncementDateTime.Equal(ev.EditTime) {
		err := a.pub.EditAnnouncement(ctx, cur.ChatID, cur.AnnouncementID, ev)
		if err == nil {
			return nil
		}
		a.log.Warn("announcement edit failed; posting a new one", logx.Int("message_id", cur.AnnouncementID), logx.Err(err))
	}

	chatID, msgID, err := a.pub.PostAnnouncement(ctx, ev)
	if err != nil {
		return fault.Wrap(fault.RemoteUnavailable, fmt.Errorf("post announcement: %w", err))
	}
	rec := storage.AnnounceMessage{
		ID:                   storage.AnnounceID,
		AnnouncementDateTime: ev.EditTime,
		AnnouncementID:       msgID,
		ChatID:               chatID,
	}
	a.mu.Lock()
	a.cur = &rec
	a.mu.Unlock()
	if err := a.store.PutAnnounce(ctx, rec); err != nil {
		return fault.Wrap(fault.Persistence, fmt.Errorf("store announcement: %w", err))
	}
	a.log.Info("announcement posted", logx.Int("message_id", msgID), logx.String("title", ev.Title))
	return nil
}
