// Package commands is the chat command surface: moderation, the playtest
// lifecycle, ad-hoc rcon, the test-server registry and server reservations.
//
// Handlers return fault-tagged errors; the router decides what the user sees.
package commands

import (
	"context"
	"strconv"
	"strings"
	"time"

	"hatbot/internal/fault"
	"hatbot/internal/moderation"
	"hatbot/internal/rcon"
	"hatbot/internal/reservation"
	"hatbot/internal/scheduler"
	"hatbot/internal/storage"
	"hatbot/internal/transport/telegram/router"
	logx "hatbot/pkg/logx"
)

// Moderator is the mute engine as the commands use it.
type Moderator interface {
	Mute(ctx context.Context, req moderation.MuteRequest) (moderation.Result, error)
	Unmute(ctx context.Context, userID int64) (moderation.UnmuteResult, error)
	ListActive(ctx context.Context) ([]storage.Mute, error)
	History(ctx context.Context, userID int64) ([]storage.Mute, error)
}

// Playtest is the lifecycle orchestrator as the commands use it.
type Playtest interface {
	Prestart(ctx context.Context) (storage.PlaytestSession, error)
	Start(ctx context.Context) (storage.PlaytestSession, error)
	Post(ctx context.Context) (storage.PlaytestSession, error)
	Pause(ctx context.Context) (storage.PlaytestSession, error)
	Unpause(ctx context.Context) (storage.PlaytestSession, error)
	Scramble(ctx context.Context) (storage.PlaytestSession, error)
	Kick(ctx context.Context, prompt rcon.PlayerPrompter) (rcon.Player, error)
	End(ctx context.Context) (storage.PlaytestSession, error)
}

type SessionView interface {
	Current() (storage.PlaytestSession, bool)
}

type RconSender interface {
	Send(ctx context.Context, serverID, command string) (string, error)
}

type Kicker interface {
	Kick(ctx context.Context, serverID string, prompt rcon.PlayerPrompter) (rcon.Player, error)
}

type Schedules interface {
	ListUpcoming() []scheduler.Upcoming
	History() []scheduler.RunRecord
}

// NoticeSender delivers the messages owed to users whose reservation ended.
type NoticeSender interface {
	DeliverNotices(ctx context.Context, notices []reservation.Notice)
}

type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Deps struct {
	Moderation Moderator
	Playtest   Playtest
	Sessions   SessionView
	Rcon       RconSender
	Resolver   *rcon.Resolver
	Kicker     Kicker
	Gate       *reservation.Gate
	Servers    storage.ServerStore
	Notices    NoticeSender
	Audit      Auditor
	Schedules  Schedules
	Location   *time.Location
	Log        logx.Logger
}

// Set builds the command registry over its dependencies.
type Set struct {
	Deps
	now       func() time.Time
	startedAt time.Time
}

func New(d Deps) *Set {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	d.Log = d.Log.With(logx.String("comp", "commands"))
	if d.Location == nil {
		d.Location = time.Local
	}
	return &Set{Deps: d, now: time.Now, startedAt: time.Now()}
}

// Commands returns every command for router.SetRegistry.
func (s *Set) Commands() []router.Command {
	var out []router.Command
	out = append(out, s.systemCommands()...)
	out = append(out, s.moderationCommands()...)
	out = append(out, s.playtestCommands()...)
	out = append(out, s.rconCommands()...)
	out = append(out, s.serverCommands()...)
	out = append(out, s.reservationCommands()...)
	return out
}

// auditNote is filled in by an audited handler.
type auditNote struct {
	Target  string
	Outcome string
}

type auditedFunc func(ctx context.Context, req *router.Request, note *auditNote) error

// audited appends one audit entry per run of h, whatever its result.
func (s *Set) audited(h auditedFunc) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		start := s.now()
		note := &auditNote{}
		err := h(ctx, req, note)
		if s.Audit == nil {
			return err
		}
		e := storage.AuditEntry{
			At:            start,
			ActorID:       req.FromID,
			ActorUsername: req.FromUsername,
			ChatID:        req.Chat.ChatID,
			ThreadID:      req.Chat.ThreadID,
			Command:       req.Command,
			Target:        note.Target,
			Outcome:       note.Outcome,
			TookMS:        s.now().Sub(start).Milliseconds(),
		}
		if err != nil {
			e.Error = err.Error()
			if e.Outcome == "" {
				e.Outcome = "error"
			}
		}
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if aerr := s.Audit.AppendAudit(actx, e); aerr != nil {
			req.Logger.Warn("audit append failed", logx.Err(aerr))
		}
		return err
	}
}

func parseUserID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(raw), "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fault.New(fault.Validation, "%q is not a user id", raw)
	}
	return id, nil
}

// restOfLine returns the message text after its first n words, with the
// original spacing and quotes intact.
func restOfLine(text string, n int) string {
	s := strings.TrimSpace(text)
	for i := 0; i < n && s != ""; i++ {
		j := strings.IndexAny(s, " \t\n")
		if j < 0 {
			return ""
		}
		s = strings.TrimLeft(s[j:], " \t\n")
	}
	return s
}

func (s *Set) fmtTime(t time.Time) string {
	return t.In(s.Location).Format("Mon 02 Jan 15:04 MST")
}

func userLabel(id int64, username string) string {
	if username != "" {
		return username + " (" + strconv.FormatInt(id, 10) + ")"
	}
	return strconv.FormatInt(id, 10)
}

func usage(u string) error {
	return fault.New(fault.Validation, "usage: %s", u)
}
