package chatops

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"hatbot/internal/notifier"
	"hatbot/internal/playtest"
	"hatbot/internal/rcon"
	"hatbot/internal/reservation"
	"hatbot/internal/storage"
	kit "hatbot/internal/transport"
	logx "hatbot/pkg/logx"
)

// Notifier queues a message for delivery.
type Notifier interface {
	Notify(ctx context.Context, n notifier.Notification) error
}

type Targets struct {
	Announce kit.ChatTarget
	Testing  kit.ChatTarget
}

// Publisher renders playtest messages into chat.
type Publisher struct {
	log     logx.Logger
	ad      kit.Adapter
	notify  Notifier
	servers storage.ServerStore
	now     func() time.Time

	mu      sync.RWMutex
	targets Targets
}

func NewPublisher(ad kit.Adapter, n Notifier, servers storage.ServerStore, targets Targets, log logx.Logger) *Publisher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Publisher{
		log:     log.With(logx.String("comp", "chatops")),
		ad:      ad,
		notify:  n,
		servers: servers,
		now:     time.Now,
		targets: targets,
	}
}

func (p *Publisher) SetTargets(t Targets) {
	p.mu.Lock()
	p.targets = t
	p.mu.Unlock()
}

func (p *Publisher) current() Targets {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.targets
}

func (p *Publisher) PostAnnouncement(ctx context.Context, ev playtest.TestEvent) (int64, int, error) {
	to := p.current().Announce
	if to.ChatID == 0 {
		return 0, 0, fmt.Errorf("announce chat is not configured")
	}
	ref, err := RenderAnnouncement(ev, p.now()).Send(ctx, p.ad, to)
	if err != nil {
		return 0, 0, err
	}
	return ref.ChatID, ref.MessageID, nil
}

func (p *Publisher) EditAnnouncement(ctx context.Context, chatID int64, messageID int, ev playtest.TestEvent) error {
	ref := kit.MessageRef{ChatID: chatID, MessageID: messageID}
	return RenderAnnouncement(ev, p.now()).Edit(ctx, p.ad, ref)
}

func (p *Publisher) AnnouncePostGame(ctx context.Context, s storage.PlaytestSession) error {
	m := RenderPostGame(s)
	return p.send(ctx, p.current().Testing, m.Text, m.Opt, "postgame:"+s.DemoName)
}

// PublishDemo points testers at the demo on the game server's file share.
func (p *Publisher) PublishDemo(ctx context.Context, s storage.PlaytestSession) error {
	srv, ok, err := p.servers.GetServer(ctx, rcon.ServerIDFromAddress(s.ServerAddress))
	if err != nil {
		p.log.Warn("server lookup failed", logx.String("address", s.ServerAddress), logx.Err(err))
		ok = false
	}
	m := RenderDemo(s, srv, ok)
	return p.send(ctx, p.current().Testing, m.Text, m.Opt, "demo:"+s.DemoName)
}

// DeliverNotices messages users whose reservation was released.
func (p *Publisher) DeliverNotices(ctx context.Context, notices []reservation.Notice) {
	for _, n := range notices {
		text := fmt.Sprintf("Your reservation on %s has ended. %s", n.ServerID, n.Message)
		key := "reservation:" + strconv.FormatInt(n.UserID, 10) + ":" + n.ServerID
		if err := p.send(ctx, kit.ChatTarget{ChatID: n.UserID}, text, &kit.SendOptions{DisablePreview: true}, key); err != nil {
			p.log.Warn("reservation notice failed", logx.Int64("user_id", n.UserID), logx.Err(err))
		}
	}
}

func (p *Publisher) send(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions, key string) error {
	if to.ChatID == 0 {
		p.log.Debug("no chat for notice; skipped", logx.String("key", key))
		return nil
	}
	return p.notify.Notify(ctx, notifier.Notification{Target: to, Text: text, Options: opt, Key: key})
}
