package commands

import (
	"context"
	"fmt"
	"time"

	"hatbot/internal/transport/telegram/router"
	"hatbot/pkg/tgui"
)

const historyShown = 10

func (s *Set) systemCommands() []router.Command {
	return []router.Command{
		{
			Route:       "ping",
			Description: "health check",
			Usage:       "/ping",
			Access:      router.AccessEveryone,
			Handle: func(ctx context.Context, req *router.Request) error {
				return req.Reply(ctx, "pong")
			},
		},
		{
			Route:       "uptime",
			Aliases:     []string{"up"},
			Description: "show process uptime",
			Usage:       "/uptime",
			Access:      router.AccessEveryone,
			Handle: func(ctx context.Context, req *router.Request) error {
				return req.Reply(ctx, "uptime: "+tgui.Countdown(s.now().Sub(s.startedAt)))
			},
		},
		{
			Route:       "schedules",
			Aliases:     []string{"sched"},
			Description: "list scheduled actions and recent runs",
			Usage:       "/schedules",
			Access:      router.AccessModerator,
			Handle:      s.cmdSchedules,
		},
	}
}

func (s *Set) cmdSchedules(ctx context.Context, req *router.Request) error {
	now := s.now()
	b := tgui.New().Title("⏰", "Scheduled actions")
	up := s.Schedules.ListUpcoming()
	if len(up) == 0 {
		b.Line("nothing scheduled")
	}
	for _, u := range up {
		when := "in " + tgui.Countdown(u.Next.Sub(now))
		if !u.Next.After(now) {
			when = "due"
		}
		line := fmt.Sprintf("• %s: %s (%s)", u.Name, s.fmtTime(u.Next), when)
		if u.Every > 0 {
			line += ", every " + u.Every.String()
		}
		b.Line(line)
	}

	hist := s.Schedules.History()
	if len(hist) > historyShown {
		hist = hist[:historyShown]
	}
	if len(hist) > 0 {
		b.Blank().Title("", "Recent runs")
		for _, r := range hist {
			status := "ok"
			switch {
			case r.Panicked:
				status = "panic"
			case r.Err != "":
				status = "error: " + r.Err
			}
			b.Line(fmt.Sprintf("• %s at %s, %s: %s", r.Name, s.fmtTime(r.Started), r.Took.Round(time.Millisecond), status))
		}
	}
	msg := b.Build()
	_, err := msg.Send(ctx, req.Adapter, req.Chat)
	return err
}
