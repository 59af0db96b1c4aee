package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hatbot/internal/fault"
	"hatbot/internal/rcon"
	"hatbot/internal/storage"
	"hatbot/internal/transport/telegram/router"
	logx "hatbot/pkg/logx"
	"hatbot/pkg/tgui"
)

// rconReplyLimit keeps a server reply inside one chat message.
const rconReplyLimit = 3500

func (s *Set) rconCommands() []router.Command {
	return []router.Command{
		{
			Route:       "rcon",
			Description: "send a console command, or show your target",
			Usage:       "/rcon [set <server> | auto | kick [player] | <command...>]",
			Access:      router.AccessModerator,
			Timeout:     30 * time.Second,
			Handle:      s.audited(s.cmdRcon),
		},
		{
			Route:       "rcon set",
			Description: "send your rcon commands to one server",
			Usage:       "/rcon set <server>",
			Access:      router.AccessModerator,
			Timeout:     10 * time.Second,
			Handle:      s.cmdRconSet,
		},
		{
			Route:       "rcon auto",
			Description: "follow the active playtest's server",
			Usage:       "/rcon auto",
			Access:      router.AccessModerator,
			Handle:      s.cmdRconAuto,
		},
		{
			Route:       "rcon kick",
			Description: "kick a player from your target server",
			Usage:       "/rcon kick [player]",
			Access:      router.AccessModerator,
			Timeout:     30 * time.Second,
			Handle:      s.audited(s.cmdRconKick),
		},
	}
}

func (s *Set) cmdRcon(ctx context.Context, req *router.Request, note *auditNote) error {
	command := restOfLine(req.Message.Text, len(req.Path))
	if command == "" {
		note.Outcome = "show_target"
		return req.Reply(ctx, s.describeTarget(req.FromID))
	}
	server, err := s.Resolver.Resolve(req.FromID)
	if err != nil {
		return err
	}
	note.Target = server + ": " + command
	reply, err := s.Rcon.Send(ctx, server, command)
	if err != nil {
		return err
	}
	note.Outcome = "sent"
	if strings.TrimSpace(reply) == "" {
		return req.Reply(ctx, command+" was sent, but provided no reply.")
	}
	msg := tgui.New().Title("🖥", server).Pre(tgui.TruncRunes(reply, rconReplyLimit)).Build()
	_, err = msg.Send(ctx, req.Adapter, req.Chat)
	return err
}

func (s *Set) describeTarget(userID int64) string {
	if id, ok := s.Resolver.Current(userID); ok {
		return "Your rcon target is " + id + "."
	}
	if id, err := s.Resolver.Resolve(userID); err == nil {
		return "Your rcon target follows the active playtest: " + id + "."
	}
	return "You have no rcon target. Use /rcon set <server>, or start a playtest."
}

func (s *Set) cmdRconSet(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return usage("/rcon set <server>")
	}
	srv, err := s.Resolver.Set(ctx, req.FromID, req.Args[0])
	if err != nil {
		return err
	}
	req.Logger.Info("rcon target set")
	return req.Reply(ctx, "Rcon commands now go to "+srv.ID+" ("+srv.Address+").")
}

func (s *Set) cmdRconAuto(ctx context.Context, req *router.Request) error {
	s.Resolver.Auto(req.FromID)
	return req.Reply(ctx, s.describeTarget(req.FromID))
}

func (s *Set) cmdRconKick(ctx context.Context, req *router.Request, note *auditNote) error {
	server, err := s.Resolver.Resolve(req.FromID)
	if err != nil {
		return err
	}
	p, err := s.Kicker.Kick(ctx, server, rcon.MatchPrompter{Query: strings.Join(req.Args, " ")})
	if err != nil {
		return err
	}
	note.Target = server + ": " + p.Name
	note.Outcome = "kicked"
	return req.Reply(ctx, fmt.Sprintf("Kicked %s (#%d) from %s.", p.Name, p.UserID, server))
}

const testserverAddUsage = "/testserver add <id> <address> <rcon_password> [description...] [--ftp-user u] [--ftp-pass p] [--ftp-path dir] [--ftp-type ftp|sftp|ftps]"

func (s *Set) serverCommands() []router.Command {
	return []router.Command{
		{
			Route:       "testserver get",
			Description: "show one test server, or all",
			Usage:       "/testserver get [id|all]",
			Access:      router.AccessModerator,
			Timeout:     10 * time.Second,
			Handle:      s.cmdServerGet,
		},
		{
			Route:       "testserver add",
			Description: "register or replace a test server",
			Usage:       testserverAddUsage,
			Access:      router.AccessOwnerOnly,
			Timeout:     10 * time.Second,
			Handle:      s.audited(s.cmdServerAdd),
		},
		{
			Route:       "testserver remove",
			Description: "remove a test server",
			Usage:       "/testserver remove <id>",
			Access:      router.AccessOwnerOnly,
			Timeout:     10 * time.Second,
			Handle:      s.audited(s.cmdServerRemove),
		},
	}
}

func (s *Set) cmdServerGet(ctx context.Context, req *router.Request) error {
	var servers []storage.Server
	if len(req.Args) == 0 || strings.EqualFold(req.Args[0], "all") {
		all, err := s.Servers.ListServers(ctx)
		if err != nil {
			return fault.Wrap(fault.Persistence, err)
		}
		servers = all
	} else {
		id := storage.NormalizeServerID(req.Args[0])
		srv, ok, err := s.Servers.GetServer(ctx, id)
		if err != nil {
			return fault.Wrap(fault.Persistence, err)
		}
		if !ok {
			return fault.New(fault.Validation, "unknown server %q", id)
		}
		servers = []storage.Server{srv}
	}
	if len(servers) == 0 {
		return req.Reply(ctx, "No test servers registered.")
	}
	b := tgui.New().Title("🗄", fmt.Sprintf("Test servers (%d)", len(servers)))
	for _, srv := range servers {
		b.Blank().HTML(tgui.Code(srv.ID)).
			KV("Address", srv.Address).
			KV("Description", srv.Description)
		if srv.FtpPath != "" {
			b.KV("Demos", srv.FtpType+" "+srv.FtpPath)
		}
	}
	msg := b.Build()
	_, err := msg.Send(ctx, req.Adapter, req.Chat)
	return err
}

func (s *Set) cmdServerAdd(ctx context.Context, req *router.Request, note *auditNote) error {
	if len(req.Args) < 3 {
		return usage(testserverAddUsage)
	}
	srv := storage.Server{
		ID:           storage.NormalizeServerID(req.Args[0]),
		Address:      strings.TrimSpace(req.Args[1]),
		RconPassword: req.Args[2],
		Description:  strings.Join(req.Args[3:], " "),
		FtpUser:      req.Flags["ftp-user"],
		FtpPassword:  req.Flags["ftp-pass"],
		FtpPath:      req.Flags["ftp-path"],
		FtpType:      strings.ToLower(req.Flags["ftp-type"]),
	}
	note.Target = srv.ID
	switch srv.FtpType {
	case "", "ftp", "sftp", "ftps":
	default:
		return fault.New(fault.Validation, "ftp type must be ftp, sftp or ftps")
	}
	if srv.ID != rcon.ServerIDFromAddress(srv.Address) {
		req.Logger.Warn("server id differs from its address prefix", logx.String("address", srv.Address))
	}
	if err := s.Servers.PutServer(ctx, srv); err != nil {
		return fault.Wrap(fault.Persistence, err)
	}
	note.Outcome = "saved"
	return req.Reply(ctx, "Saved test server "+srv.ID+" ("+srv.Address+").")
}

func (s *Set) cmdServerRemove(ctx context.Context, req *router.Request, note *auditNote) error {
	if len(req.Args) != 1 {
		return usage("/testserver remove <id>")
	}
	id := storage.NormalizeServerID(req.Args[0])
	note.Target = id
	ok, err := s.Servers.DeleteServer(ctx, id)
	if err != nil {
		return fault.Wrap(fault.Persistence, err)
	}
	if !ok {
		note.Outcome = "not_found"
		return req.Reply(ctx, "There is no test server "+id+".")
	}
	note.Outcome = "removed"
	return req.Reply(ctx, "Removed test server "+id+".")
}
