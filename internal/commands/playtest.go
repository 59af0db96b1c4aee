package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hatbot/internal/rcon"
	"hatbot/internal/storage"
	"hatbot/internal/transport/telegram/router"
	"hatbot/pkg/tgui"
)

type sessionOp func(ctx context.Context) (storage.PlaytestSession, error)

func (s *Set) playtestCommands() []router.Command {
	type sub struct {
		name    string
		aliases []string
		desc    string
		timeout time.Duration
		handle  auditedFunc
	}
	subs := []sub{
		{"prestart", []string{"pre"}, "stage the next test and load its map", 2 * time.Minute, s.cmdPrestart},
		{"start", nil, "exec the config, start recording and go live", 2 * time.Minute, s.sessionStep(s.Playtest.Start, func(p storage.PlaytestSession) string {
			return "Playtest of " + p.Title + " is live, recording " + p.DemoName + "."
		})},
		{"post", nil, "end the match and run the post-game wrap-up", 30 * time.Second, s.sessionStep(s.Playtest.Post, func(p storage.PlaytestSession) string {
			return "Post-game started for " + p.Title + "."
		})},
		{"pause", []string{"p"}, "pause the match", 30 * time.Second, s.sessionStep(s.Playtest.Pause, func(storage.PlaytestSession) string { return "Match paused." })},
		{"unpause", []string{"u"}, "resume the match", 30 * time.Second, s.sessionStep(s.Playtest.Unpause, func(storage.PlaytestSession) string { return "Match resumed." })},
		{"scramble", []string{"s"}, "scramble the teams", 30 * time.Second, s.sessionStep(s.Playtest.Scramble, func(storage.PlaytestSession) string { return "Teams scrambled." })},
		{"kick", []string{"k"}, "kick a player from the test server", 30 * time.Second, s.cmdPlaytestKick},
		{"end", nil, "close the session and reopen reservations", 30 * time.Second, s.cmdEnd},
	}

	out := []router.Command{{
		Route:       "playtest",
		Description: "show the playtest session",
		Usage:       "/playtest <prestart|start|post|pause|unpause|scramble|kick|end>",
		Access:      router.AccessModerator,
		Handle:      s.cmdPlaytestStatus,
	}}
	for _, c := range subs {
		h := s.audited(c.handle)
		usage := "/playtest " + c.name
		if c.name == "kick" {
			usage += " [player]"
		}
		out = append(out, router.Command{
			Route:       "playtest " + c.name,
			Description: c.desc,
			Usage:       usage,
			Access:      router.AccessModerator,
			Timeout:     c.timeout,
			Handle:      h,
		})
		for _, a := range c.aliases {
			out = append(out, router.Command{
				Route:   "playtest " + a,
				Access:  router.AccessModerator,
				Hidden:  true,
				Timeout: c.timeout,
				Handle:  h,
			})
		}
	}
	return out
}

func (s *Set) cmdPlaytestStatus(ctx context.Context, req *router.Request) error {
	cur, ok := s.Sessions.Current()
	if !ok {
		return req.Reply(ctx, "There is no active playtest.")
	}
	msg := tgui.New().Title("🧪", cur.Title).
		KV("Phase", cur.Phase).
		KV("Mode", cur.Mode).
		KV("Server", cur.ServerAddress).
		KV("Demo", cur.DemoName).
		KV("Started", s.fmtTime(cur.StartDateTime)).
		Build()
	_, err := msg.Send(ctx, req.Adapter, req.Chat)
	return err
}

// cmdPrestart also closes server reservations for the duration of the test
// and tells every holder their reservation was cleared.
func (s *Set) cmdPrestart(ctx context.Context, req *router.Request, note *auditNote) error {
	sess, err := s.Playtest.Prestart(ctx)
	if sess.Title != "" {
		note.Target = sess.Title
	}
	if s.Gate != nil && sess.Title != "" {
		s.Gate.BlockReservations()
		if notices := s.Gate.ClearAll(); len(notices) > 0 && s.Notices != nil {
			s.Notices.DeliverNotices(ctx, notices)
		}
	}
	if err != nil {
		return err
	}
	note.Outcome = "staged"
	msg := tgui.New().Title("🧪", "Playtest staged").
		KV("Title", sess.Title).
		KV("Mode", sess.Mode).
		KV("Server", sess.ServerAddress).
		KV("Demo", sess.DemoName).
		Build()
	_, err = msg.Send(ctx, req.Adapter, req.Chat)
	return err
}

// sessionStep runs op and replies with done's rendering of the session.
func (s *Set) sessionStep(op sessionOp, done func(storage.PlaytestSession) string) auditedFunc {
	return func(ctx context.Context, req *router.Request, note *auditNote) error {
		sess, err := op(ctx)
		note.Target = sess.Title
		if err != nil {
			return err
		}
		note.Outcome = sess.Phase
		return req.Reply(ctx, done(sess))
	}
}

func (s *Set) cmdPlaytestKick(ctx context.Context, req *router.Request, note *auditNote) error {
	query := strings.Join(req.Args, " ")
	p, err := s.Playtest.Kick(ctx, rcon.MatchPrompter{Query: query})
	if err != nil {
		return err
	}
	note.Target = p.Name
	note.Outcome = "kicked"
	return req.Reply(ctx, fmt.Sprintf("Kicked %s (#%d).", p.Name, p.UserID))
}

func (s *Set) cmdEnd(ctx context.Context, req *router.Request, note *auditNote) error {
	sess, err := s.Playtest.End(ctx)
	note.Target = sess.Title
	if err != nil {
		return err
	}
	note.Outcome = "ended"
	return req.Reply(ctx, "Playtest of "+sess.Title+" ended. Server reservations are open again.")
}
