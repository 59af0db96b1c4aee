package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"hatbot/internal/fault"
	"hatbot/internal/moderation"
	"hatbot/internal/storage"
	"hatbot/internal/transport/telegram/router"
	"hatbot/pkg/tgui"
)

const (
	muteUsage   = "/mute <user_id> <duration> <reason...> (or reply: /mute <duration> <reason...>)"
	unmuteUsage = "/unmute <user_id> (or reply: /unmute)"
)

func (s *Set) moderationCommands() []router.Command {
	return []router.Command{
		{
			Route:       "mute",
			Description: "mute a user; start the reason with \"e \" to extend",
			Usage:       muteUsage,
			Access:      router.AccessModerator,
			Timeout:     30 * time.Second,
			Handle:      s.audited(s.cmdMute),
		},
		{
			Route:       "unmute",
			Description: "lift a user's mute",
			Usage:       unmuteUsage,
			Access:      router.AccessModerator,
			Timeout:     30 * time.Second,
			Handle:      s.audited(s.cmdUnmute),
		},
		{
			Route:       "mutes",
			Description: "list active mutes, or one user's history",
			Usage:       "/mutes [user_id]",
			Access:      router.AccessModerator,
			Timeout:     15 * time.Second,
			Handle:      s.cmdMutes,
		},
	}
}

// target picks the user from a replied-to message, or else from the first
// argument.
func target(req *router.Request) (userID int64, username string, rest []string, err error) {
	if r := req.Message.Reply; r != nil && r.FromID != 0 {
		return r.FromID, r.FromUsername, req.Args, nil
	}
	if len(req.Args) == 0 {
		return 0, "", nil, fault.New(fault.Validation, "reply to a message or give a user id")
	}
	id, err := parseUserID(req.Args[0])
	if err != nil {
		return 0, "", nil, err
	}
	return id, "", req.Args[1:], nil
}

func (s *Set) cmdMute(ctx context.Context, req *router.Request, note *auditNote) error {
	userID, username, rest, err := target(req)
	if err != nil {
		return err
	}
	note.Target = strconv.FormatInt(userID, 10)
	if len(rest) < 2 {
		return usage(muteUsage)
	}
	d, err := moderation.ParseMuteDuration(rest[0])
	if err != nil {
		return fault.Wrap(fault.Validation, err)
	}
	reason := strings.TrimSpace(strings.Join(rest[1:], " "))

	res, err := s.Moderation.Mute(ctx, moderation.MuteRequest{
		UserID:      userID,
		Username:    username,
		Duration:    d,
		Reason:      reason,
		ModeratorID: req.FromID,
	})
	if err != nil {
		return err
	}
	note.Outcome = res.Outcome.String()
	who := userLabel(userID, username)

	switch res.Outcome {
	case moderation.Immune:
		return req.Reply(ctx, who+" cannot be muted.")
	case moderation.AlreadyMuted:
		return req.Reply(ctx, who+" is already muted. Start the reason with \"e \" to extend the mute.")
	case moderation.RoleGrantFailed:
		return fault.New(fault.Precondition, "the mute for %s was recorded, but restricting them in chat failed: %v", who, res.Err)
	}

	b := tgui.New()
	if res.Extended {
		b.Title("🔇", "Mute extended")
	} else {
		b.Title("🔇", "User muted")
	}
	m := res.Mute
	b.KV("User", who).
		KV("Duration", moderation.FormatDuration(minutes(m.Duration))).
		KV("Until", s.fmtTime(m.Until())).
		KV("Reason", m.Reason)
	if res.Extended {
		b.KV("Added", moderation.FormatDuration(res.Added))
	}
	msg := b.Build()
	_, err = msg.Send(ctx, req.Adapter, req.Chat)
	return err
}

func (s *Set) cmdUnmute(ctx context.Context, req *router.Request, note *auditNote) error {
	userID, username, _, err := target(req)
	if err != nil {
		return err
	}
	note.Target = strconv.FormatInt(userID, 10)
	res, err := s.Moderation.Unmute(ctx, userID)
	if err != nil {
		return err
	}
	note.Outcome = res.Outcome.String()
	if username == "" {
		username = res.Mute.Username
	}
	who := userLabel(userID, username)
	if res.Outcome == moderation.NotMuted {
		return req.Reply(ctx, who+" is not muted.")
	}
	if res.RoleErr != nil {
		return req.Reply(ctx, "Unmuted "+who+" in the ledger, but lifting the chat restriction failed.")
	}
	return req.Reply(ctx, "Unmuted "+who+".")
}

func (s *Set) cmdMutes(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		active, err := s.Moderation.ListActive(ctx)
		if err != nil {
			return err
		}
		if len(active) == 0 {
			return req.Reply(ctx, "No active mutes.")
		}
		b := tgui.New().Title("🔇", fmt.Sprintf("Active mutes (%d)", len(active)))
		for _, m := range active {
			left := m.Until().Sub(s.now())
			b.Line(fmt.Sprintf("• %s until %s (%s left): %s", userLabel(m.UserID, m.Username), s.fmtTime(m.Until()), tgui.Countdown(left), m.Reason))
		}
		msg := b.Build()
		_, err = msg.Send(ctx, req.Adapter, req.Chat)
		return err
	}

	userID, err := parseUserID(req.Args[0])
	if err != nil {
		return err
	}
	hist, err := s.Moderation.History(ctx, userID)
	if err != nil {
		return err
	}
	if len(hist) == 0 {
		return req.Reply(ctx, "No mutes on record for "+userLabel(userID, "")+".")
	}
	b := tgui.New().Title("📜", "Mute history of "+userLabel(userID, hist[0].Username))
	for _, m := range hist {
		b.Line(muteLine(m, s.fmtTime(m.MuteTime)))
	}
	msg := b.Build()
	_, err = msg.Send(ctx, req.Adapter, req.Chat)
	return err
}

func muteLine(m storage.Mute, at string) string {
	state := "active"
	if m.Expired {
		state = "expired"
	}
	by := ""
	if m.ModeratorID != 0 {
		by = " by " + strconv.FormatInt(m.ModeratorID, 10)
	}
	return fmt.Sprintf("• %s, %s%s [%s]: %s", at, moderation.FormatDuration(minutes(m.Duration)), by, state, m.Reason)
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}
