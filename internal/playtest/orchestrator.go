package playtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"hatbot/internal/eventbus"
	"hatbot/internal/fault"
	"hatbot/internal/rcon"
	"hatbot/internal/runtime/supervisor"
	"hatbot/internal/storage"
	logx "hatbot/pkg/logx"
)

// Commander sends a ';'-joined batch to a server.
type Commander interface {
	SendBatch(ctx context.Context, serverID string, commands ...string) (string, error)
}

// DemoPublisher makes the recorded demo available once a test is over.
type DemoPublisher interface {
	PublishDemo(ctx context.Context, s storage.PlaytestSession) error
}

// Announcer tells the community the test has moved to feedback.
type Announcer interface {
	AnnouncePostGame(ctx context.Context, s storage.PlaytestSession) error
}

// ReservationGate is told when test servers may be reserved again.
type ReservationGate interface {
	AllowReservations()
}

type Kicker interface {
	Kick(ctx context.Context, serverID string, prompt rcon.PlayerPrompter) (rcon.Player, error)
}

type Delays struct {
	Settle      time.Duration // between exec and map change on prestart
	StartSettle time.Duration // between exec and recording on start
	AnnounceGap time.Duration // between "live" messages
	PostSettle  time.Duration // between map reload and postgame config
}

type Config struct {
	CasualConfig     string
	CompConfig       string
	PostgameConfig   string
	FallbackImageURL string
	Delays           Delays
}

func (c Config) withDefaults() Config {
	d := &c.Delays
	if d.Settle <= 0 {
		d.Settle = time.Second
	}
	if d.StartSettle <= 0 {
		d.StartSettle = 3 * time.Second
	}
	if d.AnnounceGap <= 0 {
		d.AnnounceGap = time.Second
	}
	if d.PostSettle <= 0 {
		d.PostSettle = 15 * time.Second
	}
	return c
}

func (c Config) configFor(mode Mode) string {
	if mode == ModeComp {
		return c.CompConfig
	}
	return c.CasualConfig
}

type Deps struct {
	Events    EventSource
	Sessions  *SessionManager
	Rcon      Commander
	Demos     DemoPublisher
	Announcer Announcer
	Gate      ReservationGate
	Kicker    Kicker
	Bus       eventbus.Bus
	Log       logx.Logger
}

type Option func(*Orchestrator)

// WithSleep replaces the delay function.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

// Orchestrator drives the playtest state machine.
type Orchestrator struct {
	Deps
	cfg   atomic.Pointer[Config]
	sleep func(ctx context.Context, d time.Duration) error

	supMu sync.Mutex
	sup   *supervisor.Supervisor
}

func NewOrchestrator(d Deps, cfg Config, opts ...Option) *Orchestrator {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	d.Log = d.Log.With(logx.String("comp", "playtest"))
	if d.Bus == nil {
		d.Bus = eventbus.Nop()
	}
	o := &Orchestrator{Deps: d, sleep: sleepCtx}
	for _, opt := range opts {
		opt(o)
	}
	o.ApplyConfig(cfg)
	return o
}

func (o *Orchestrator) ApplyConfig(cfg Config) {
	cfg = cfg.withDefaults()
	o.cfg.Store(&cfg)
}

func (o *Orchestrator) config() Config { return *o.cfg.Load() }

// Serve prepares the supervisor that runs detached post tasks.
func (o *Orchestrator) Serve(ctx context.Context) {
	o.supMu.Lock()
	defer o.supMu.Unlock()
	if o.sup == nil {
		o.sup = supervisor.New(ctx, supervisor.WithLogger(o.Log))
	}
}

// Shutdown cancels running post tasks and waits for them until ctx is done.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.supMu.Lock()
	sup := o.sup
	o.sup = nil
	o.supMu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Stop(ctx)
}

// Prestart stages a session from the current event and loads the map.
func (o *Orchestrator) Prestart(ctx context.Context) (storage.PlaytestSession, error) {
	ev, err := o.Events.TestEvent(ctx)
	if err != nil {
		return storage.PlaytestSession{}, fault.Wrap(fault.RemoteUnavailable, fmt.Errorf("load test event: %w", err))
	}
	if !ev.Valid {
		return storage.PlaytestSession{}, fault.Wrap(fault.Precondition, ErrNoValidEvent)
	}
	cfg := o.config()
	s, err := BuildSession(ev, cfg.FallbackImageURL)
	if err != nil {
		return storage.PlaytestSession{}, err
	}
	if err := o.Sessions.Stage(ctx, s); err != nil {
		return storage.PlaytestSession{}, err
	}
	o.phaseChanged(s)

	server := rcon.ServerIDFromAddress(s.ServerAddress)
	if err := o.send(ctx, server, "exec "+cfg.configFor(Mode(s.Mode))); err != nil {
		return s, err
	}
	if err := o.sleep(ctx, cfg.Delays.Settle); err != nil {
		return s, err
	}
	if err := o.send(ctx, server, "host_workshop_map "+s.WorkshopID); err != nil {
		return s, err
	}
	o.Log.Info("playtest staged", logx.String("title", s.Title), logx.String("mode", s.Mode), logx.String("server", server), logx.String("demo", s.DemoName))
	return s, nil
}

// Start starts the match and the demo recording.
func (o *Orchestrator) Start(ctx context.Context) (storage.PlaytestSession, error) {
	s, err := o.Sessions.Transition(ctx, []Phase{PhaseStaged, PhaseLive, PhasePaused, PhasePostGame}, PhaseLive)
	if err != nil {
		return s, err
	}
	o.phaseChanged(s)
	cfg := o.config()
	server := rcon.ServerIDFromAddress(s.ServerAddress)

	if err := o.send(ctx, server, "exec "+cfg.configFor(Mode(s.Mode))); err != nil {
		return s, err
	}
	if err := o.sleep(ctx, cfg.Delays.StartSettle); err != nil {
		return s, err
	}
	if err := o.send(ctx, server, "tv_record "+s.DemoName, "say Recording "+s.DemoName); err != nil {
		return s, err
	}
	live := fmt.Sprintf("say Playtest of %s is live! Be respectful and GLHF!", s.Title)
	for i := 0; i < 3; i++ {
		if err := o.sleep(ctx, cfg.Delays.AnnounceGap); err != nil {
			return s, err
		}
		if err := o.send(ctx, server, live); err != nil {
			return s, err
		}
	}
	o.Log.Info("playtest live", logx.String("title", s.Title), logx.String("demo", s.DemoName))
	return s, nil
}

// Post moves the session to post-game and runs the wrap-up on a detached
// task. It returns once the task has been started.
func (o *Orchestrator) Post(ctx context.Context) (storage.PlaytestSession, error) {
	s, err := o.Sessions.Transition(ctx, []Phase{PhaseLive, PhasePaused}, PhasePostGame)
	if err != nil {
		return s, err
	}
	o.phaseChanged(s)

	o.supMu.Lock()
	sup := o.sup
	o.supMu.Unlock()
	if sup == nil {
		return s, fault.New(fault.Precondition, "playtest service is not running")
	}
	sup.Go0("playtest.post", func(ctx context.Context) { o.runPost(ctx, s) })
	return s, nil
}

func (o *Orchestrator) runPost(ctx context.Context, s storage.PlaytestSession) {
	start := time.Now()
	cfg := o.config()
	server := rcon.ServerIDFromAddress(s.ServerAddress)
	log := o.Log.With(logx.String("step", "post"), logx.String("demo", s.DemoName))

	if err := o.send(ctx, server, "host_workshop_map "+s.WorkshopID); err != nil {
		log.Warn("post: map reload failed", logx.Err(err))
	}
	if err := o.sleep(ctx, cfg.Delays.PostSettle); err != nil {
		log.Warn("post: interrupted", logx.Err(err))
		return
	}
	says := make([]string, 5)
	for i := range says {
		says[i] = "say Please join the level testing voice channel for feedback!"
	}
	post := fmt.Sprintf("sv_cheats 1; bot_stop 1;sv_voiceenable 0;exec %s;", cfg.PostgameConfig) + strings.Join(says, ";")
	if err := o.send(ctx, server, post); err != nil {
		log.Warn("post: postgame config failed", logx.Err(err))
	}
	if o.Demos != nil {
		if err := o.Demos.PublishDemo(ctx, s); err != nil {
			log.Warn("post: demo publish failed", logx.Err(err))
		}
	}
	if o.Announcer != nil {
		if err := o.Announcer.AnnouncePostGame(ctx, s); err != nil {
			log.Warn("post: announcement failed", logx.Err(err))
		}
	}
	log.Info("post-game done", logx.Duration("took", time.Since(start)))
	o.Bus.Publish(eventbus.Event{Type: eventbus.PlaytestPosted, Time: time.Now(), Data: s})
}

func (o *Orchestrator) Pause(ctx context.Context) (storage.PlaytestSession, error) {
	return o.matchCommand(ctx, []Phase{PhaseLive}, PhasePaused, "mp_pause_match", "Pausing Match!")
}

func (o *Orchestrator) Unpause(ctx context.Context) (storage.PlaytestSession, error) {
	return o.matchCommand(ctx, []Phase{PhasePaused}, PhaseLive, "mp_unpause_match", "Unpausing Match!")
}

func (o *Orchestrator) Scramble(ctx context.Context) (storage.PlaytestSession, error) {
	return o.matchCommand(ctx, []Phase{PhaseLive}, "", "mp_scrambleteams 1", "Scrambling Teams!")
}

// matchCommand sends cmd followed by four copies of msg.
func (o *Orchestrator) matchCommand(ctx context.Context, allowed []Phase, next Phase, cmd, msg string) (storage.PlaytestSession, error) {
	s, err := o.Sessions.Transition(ctx, allowed, next)
	if err != nil {
		return s, err
	}
	if next != "" {
		o.phaseChanged(s)
	}
	batch := []string{cmd}
	for i := 0; i < 4; i++ {
		batch = append(batch, "say "+msg)
	}
	if err := o.send(ctx, rcon.ServerIDFromAddress(s.ServerAddress), batch...); err != nil {
		return s, err
	}
	return s, nil
}

// Kick removes a player chosen by prompt from the live server.
func (o *Orchestrator) Kick(ctx context.Context, prompt rcon.PlayerPrompter) (rcon.Player, error) {
	s, err := o.Sessions.Transition(ctx, []Phase{PhaseLive}, "")
	if err != nil {
		return rcon.Player{}, err
	}
	if o.Kicker == nil {
		return rcon.Player{}, fault.New(fault.Precondition, "kicking is not available")
	}
	return o.Kicker.Kick(ctx, rcon.ServerIDFromAddress(s.ServerAddress), prompt)
}

// End closes the session and reopens server reservations. No server
// command is sent.
func (o *Orchestrator) End(ctx context.Context) (storage.PlaytestSession, error) {
	s, err := o.Sessions.Transition(ctx, []Phase{PhaseStaged, PhaseLive, PhasePaused, PhasePostGame}, PhaseIdle)
	if err != nil {
		return s, err
	}
	o.phaseChanged(s)
	if o.Gate != nil {
		o.Gate.AllowReservations()
	}
	o.Log.Info("playtest ended", logx.String("title", s.Title))
	return s, nil
}

func (o *Orchestrator) send(ctx context.Context, server string, commands ...string) error {
	_, err := o.Rcon.SendBatch(ctx, server, commands...)
	return err
}

func (o *Orchestrator) phaseChanged(s storage.PlaytestSession) {
	o.Bus.Publish(eventbus.Event{Type: eventbus.PlaytestPhase, Time: time.Now(), Data: s})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
