package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"hatbot/internal/runtime/supervisor"
	kit "hatbot/internal/transport"
	logx "hatbot/pkg/logx"
)

// Access is the least privileged role that may run a command. Owners pass
// every check and moderators pass AccessModerator.
type Access int

const (
	AccessEveryone Access = iota
	AccessModerator
	AccessOwnerOnly
)

func (a Access) String() string {
	switch a {
	case AccessModerator:
		return "moderator"
	case AccessOwnerOnly:
		return "owner"
	default:
		return "everyone"
	}
}

type Command struct {
	// Route is a space-separated command path, e.g.:
	//   "mute"
	//   "playtest start"
	Route       string
	Aliases     []string // root-level aliases, e.g. ["pre"] for "playtest prestart"
	Description string
	Usage       string
	Access      Access
	Hidden      bool // routable, but left out of help and the menu

	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

type Request struct {
	Update       kit.Update
	Message      *kit.Message
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Path         []string // matched command path tokens
	Command      string
	Args         []string

	// Parsed arguments
	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends plain text back to the chat (and forum topic) the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// ReplyHTML sends text formatted with Telegram HTML.
func (r *Request) ReplyHTML(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
	return err
}

// Flag returns the value of --name (or -name), if given.
func (r *Request) Flag(name string) (string, bool) {
	v, ok := r.Flags[name]
	return v, ok
}

func (r *Request) HasFlag(name string) bool {
	if r.BoolFlags[name] {
		return true
	}
	_, ok := r.Flags[name]
	return ok
}

type CommandManager struct {
	mu sync.RWMutex

	root  *cmdNode
	alias map[string]*cmdNode // alias -> leaf node

	owners     []int64
	moderators []int64

	log     logx.Logger
	adapter kit.Adapter

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor
	menu    []kit.BotCommand // pending menu update, pushed once dispatch runs

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, owners, moderators []int64) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &CommandManager{
		root:       newRoot(),
		alias:      map[string]*cmdNode{},
		log:        log.With(logx.String("comp", "telegram.router")),
		adapter:    adapter,
		owners:     slices.Clone(owners),
		moderators: slices.Clone(moderators),
		jobs:       make(chan func(), 256),
	}
}

// Supervisor returns the dispatcher's supervisor (nil if not running).
func (m *CommandManager) Supervisor() *supervisor.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *supervisor.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// SetOwners updates the owner list. Safe to call during hot-reload.
func (m *CommandManager) SetOwners(owners []int64) {
	cp := slices.Clone(owners)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

// SetModerators updates the moderator list. Safe to call during hot-reload.
func (m *CommandManager) SetModerators(ids []int64) {
	cp := slices.Clone(ids)
	m.mu.Lock()
	m.moderators = cp
	m.mu.Unlock()
}

// AccessOf returns the highest access level userID holds.
func (m *CommandManager) AccessOf(userID int64) Access {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch {
	case slices.Contains(m.owners, userID):
		return AccessOwnerOnly
	case slices.Contains(m.moderators, userID):
		return AccessModerator
	default:
		return AccessEveryone
	}
}

func (m *CommandManager) allowed(need Access, userID int64) bool {
	if need == AccessEveryone {
		return true
	}
	return m.AccessOf(userID) >= need
}

func (m *CommandManager) SetRegistry(cmds []Command) {
	helper := Command{
		Route:       "help",
		Aliases:     []string{"h"},
		Description: "show available commands",
		Usage:       "/help [cmd] [sub...]",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			return req.ReplyHTML(ctx, m.helpText(req.Args))
		},
	}
	cmds = append(cmds, helper)

	root := newRoot()
	alias := map[string]*cmdNode{}
	menuCandidates := make([]Command, 0, len(cmds))

	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		root.add(route, c)
		menuCandidates = append(menuCandidates, c)

		leaf := root.find(route)
		// Multi-token routes also answer to their menu form (/playtest_start).
		// The canonical single-token name must not become an alias, or
		// "/playtest start" would stop at "playtest".
		if menu, ok := telegramCommandNameFromRoute(route); ok {
			if len(route) > 1 || menu != route[0] {
				if _, exists := alias[menu]; !exists {
					alias[menu] = leaf
				}
			}
		}
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			alias[a] = leaf
			if sa := sanitizeTelegramCommand(a); sa != "" {
				if _, exists := alias[sa]; !exists {
					alias[sa] = leaf
				}
			}
		}
	}

	m.mu.Lock()
	m.root = root
	m.alias = alias
	m.mu.Unlock()

	if _, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		m.pushMenu(buildTelegramMenuCommands(root, menuCandidates))
	}
}

// pushMenu updates the Telegram command menu under the dispatcher's
// supervisor, or remembers it until DispatchLoop starts.
func (m *CommandManager) pushMenu(menu []kit.BotCommand) {
	m.runMu.Lock()
	sup, running := m.sup, m.running
	if !running {
		m.menu = menu
	}
	m.runMu.Unlock()
	if running && sup != nil {
		sup.Go0("telegram.menu.update", func(ctx context.Context) { m.updateMenu(ctx, menu) })
	}
}

func (m *CommandManager) updateMenu(parent context.Context, menu []kit.BotCommand) {
	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok || menu == nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, 5*time.Second)
	defer cancel()
	if err := up.UpdateMenuCommands(ctx, menu); err != nil {
		m.log.Warn("menu update failed", logx.Err(err))
	}
}

func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	sup := supervisor.New(ctx,
		supervisor.WithLogger(m.log),
		supervisor.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)

	m.runMu.Lock()
	pending := m.menu
	m.menu = nil
	m.runMu.Unlock()
	if pending != nil {
		sup.Go0("telegram.menu.update", func(c context.Context) { m.updateMenu(c, pending) })
	}

	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			m.setSupervisor(sup, false)
			close(m.jobs)
		})
	}

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			m.log.Debug("command worker started", logx.Int("worker", idx))
			defer m.log.Debug("command worker stopped", logx.Int("worker", idx))
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					if job == nil {
						continue
					}
					func() {
						defer func() {
							if r := recover(); r != nil {
								m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				m.log.Info("updates channel closed")
				return nil
			}
			if up.Kind == kit.UpdateMessage {
				m.routeMessage(ctx, up)
			}
		}
	}
}

func (m *CommandManager) routeMessage(root context.Context, up kit.Update) {
	if up.Message == nil {
		return
	}
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	args := parts[1:]

	m.mu.RLock()
	rootNode := m.root
	aliasMap := m.alias
	m.mu.RUnlock()

	if leaf, ok := aliasMap[word]; ok && leaf != nil && leaf.cmd != nil {
		cmd := *leaf.cmd
		m.enqueueCommand(root, up, cmd, splitRoute(cmd.Route), args)
		return
	}

	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	cur, ok := rootNode.child(word)
	if !ok {
		// Group chats carry other bots' commands too; stay quiet there.
		if !msg.IsGroup {
			_, _ = m.adapter.SendText(root, chat, "unknown command, try /help", nil)
		}
		return
	}
	path := []string{word}
	for len(args) > 0 {
		nxt := args[0]
		if strings.HasPrefix(nxt, "-") {
			break
		}
		child, ok := cur.child(nxt)
		if !ok {
			break
		}
		cur = child
		path = append(path, child.name)
		args = args[1:]
	}

	if cur.cmd == nil {
		_, _ = m.adapter.SendText(root, chat, m.helpText(path), &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
		return
	}
	m.enqueueCommand(root, up, *cur.cmd, path, args)
}

func (m *CommandManager) enqueueCommand(root context.Context, up kit.Update, cmd Command, path []string, raw []string) {
	msg := up.Message
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	if !m.allowed(cmd.Access, msg.FromID) {
		m.log.Info("command refused", logx.Int64("from_id", msg.FromID), logx.String("cmd", cmd.Route), logx.String("needs", cmd.Access.String()))
		_, _ = m.adapter.SendText(root, chat, "you are not allowed to use this command", nil)
		return
	}

	rid := newReqID()
	args, flags, bools := parseFlags(raw)
	req := &Request{
		Update:       up,
		Message:      msg,
		Chat:         chat,
		FromID:       msg.FromID,
		FromUsername: msg.FromUsername,
		Path:         path,
		Command:      cmd.Route,
		Args:         args,
		RawArgs:      raw,
		Flags:        flags,
		BoolFlags:    bools,
		ReqID:        rid,
		Adapter:      m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Route),
		),
	}

	final := Chain(
		cmd.Handle,
		MWReplyError(),
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(cmd.Timeout),
	)

	if !m.tryEnqueue(func() { _ = final(root, req) }) {
		_, _ = m.adapter.SendText(root, chat, "busy, try again", nil)
	}
}
