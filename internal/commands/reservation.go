package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"hatbot/internal/fault"
	"hatbot/internal/moderation"
	"hatbot/internal/reservation"
	"hatbot/internal/storage"
	"hatbot/internal/transport/telegram/router"
	"hatbot/pkg/tgui"
)

const (
	defaultReservation = 2 * time.Hour
	maxReservation     = 6 * time.Hour
)

func (s *Set) reservationCommands() []router.Command {
	return []router.Command{
		{
			Route:       "clearreservation",
			Aliases:     []string{"cr"},
			Description: "clear one server's reservation, or all of them",
			Usage:       "/clearreservation [server]",
			Access:      router.AccessModerator,
			Timeout:     30 * time.Second,
			Handle:      s.audited(s.cmdClearReservation),
		},
		{
			Route:       "reserve",
			Description: "reserve a test server for yourself",
			Usage:       "/reserve <server> [duration]",
			Access:      router.AccessEveryone,
			Timeout:     10 * time.Second,
			Handle:      s.cmdReserve,
		},
		{
			Route:       "release",
			Description: "release your server reservation",
			Usage:       "/release",
			Access:      router.AccessEveryone,
			Handle:      s.cmdRelease,
		},
		{
			Route:       "reservations",
			Description: "list server reservations",
			Usage:       "/reservations",
			Access:      router.AccessEveryone,
			Handle:      s.cmdReservations,
		},
	}
}

func (s *Set) cmdClearReservation(ctx context.Context, req *router.Request, note *auditNote) error {
	if len(req.Args) > 0 {
		id := storage.NormalizeServerID(req.Args[0])
		note.Target = id
		n, ok := s.Gate.ReleaseByServer(id)
		if !ok {
			note.Outcome = "not_found"
			return req.Reply(ctx, "There is no reservation on "+id+".")
		}
		s.deliver(ctx, []reservation.Notice{n})
		note.Outcome = "cleared"
		return req.Reply(ctx, "Cleared the reservation on "+id+".")
	}
	notices := s.Gate.ClearAll()
	note.Target = "all"
	note.Outcome = "cleared_" + strconv.Itoa(len(notices))
	s.deliver(ctx, notices)
	return req.Reply(ctx, fmt.Sprintf("Cleared %d reservation(s).", len(notices)))
}

func (s *Set) deliver(ctx context.Context, notices []reservation.Notice) {
	if s.Notices != nil && len(notices) > 0 {
		s.Notices.DeliverNotices(ctx, notices)
	}
}

func (s *Set) cmdReserve(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 || len(req.Args) > 2 {
		return usage("/reserve <server> [duration]")
	}
	id := storage.NormalizeServerID(req.Args[0])
	if _, ok, err := s.Servers.GetServer(ctx, id); err != nil {
		return fault.Wrap(fault.Persistence, err)
	} else if !ok {
		return fault.New(fault.Validation, "unknown server %q", id)
	}
	d := defaultReservation
	if len(req.Args) == 2 {
		var err error
		if d, err = moderation.ParseMuteDuration(req.Args[1]); err != nil {
			return fault.Wrap(fault.Validation, err)
		}
		if d > maxReservation {
			return fault.New(fault.Validation, "a reservation can last at most %s", moderation.FormatDuration(maxReservation))
		}
	}
	r, err := s.Gate.Reserve(req.FromID, id, s.now().Add(d))
	if err != nil {
		return err
	}
	return req.Reply(ctx, "Reserved "+r.ServerID+" until "+s.fmtTime(r.Until)+".")
}

func (s *Set) cmdRelease(ctx context.Context, req *router.Request) error {
	n, ok := s.Gate.Release(req.FromID, "You released your reservation.")
	if !ok {
		return req.Reply(ctx, "You have no reservation.")
	}
	return req.Reply(ctx, "Released "+n.ServerID+".")
}

func (s *Set) cmdReservations(ctx context.Context, req *router.Request) error {
	rs := s.Gate.Reservations()
	if len(rs) == 0 {
		text := "No servers are reserved."
		if s.Gate.Blocked() {
			text += " Reservations are closed during the playtest."
		}
		return req.Reply(ctx, text)
	}
	b := tgui.New().Title("📌", "Reservations")
	for _, r := range rs {
		b.Line(fmt.Sprintf("• %s: user %d until %s", r.ServerID, r.UserID, s.fmtTime(r.Until)))
	}
	msg := b.Build()
	_, err := msg.Send(ctx, req.Adapter, req.Chat)
	return err
}
