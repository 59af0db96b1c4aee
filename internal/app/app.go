package app

import (
	"context"
	"fmt"
	"time"

	"hatbot/internal/calendar"
	"hatbot/internal/chatops"
	"hatbot/internal/commands"
	"hatbot/internal/config"
	"hatbot/internal/eventbus"
	"hatbot/internal/moderation"
	"hatbot/internal/notifier"
	"hatbot/internal/observability/debughttp"
	"hatbot/internal/playtest"
	"hatbot/internal/rcon"
	"hatbot/internal/reservation"
	"hatbot/internal/runtime/supervisor"
	"hatbot/internal/scheduler"
	"hatbot/internal/storage"
	kit "hatbot/internal/transport"
	telegram "hatbot/internal/transport/telegram/adapter"
	"hatbot/internal/transport/telegram/router"
	logx "hatbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter

	sched    *scheduler.Service
	notif    *notifier.Service
	rcon     *rcon.Channel
	events   *calendar.Source
	roles    *chatops.Roles
	pub      *chatops.Publisher
	gate     *reservation.Gate
	mutes    *moderation.Engine
	sessions *playtest.SessionManager
	orch     *playtest.Orchestrator
	announce *playtest.Announcements

	cmdm  *router.CommandManager
	debug *debughttp.Service

	startedAt time.Time
	updates   chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// The chat sink warns when enabled without a target, so it is switched
	// on only after the target is set.
	logCfg := mapLogConfig(cfg)
	chatEnabled := logCfg.Chat.Enabled
	logCfg.Chat.Enabled = false
	logSvc, log := logx.New(logCfg, ad)
	if chatID, _ := config.ParseChatID("telegram.group_log", cfg.Telegram.GroupLog); chatID != 0 {
		logSvc.SetChatTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
	logCfg.Chat.Enabled = chatEnabled
	logSvc.Apply(logCfg)
	appLog := log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return nil, err
	}
	if sc.Driver == "memory" {
		appLog.Warn("storage is in memory; mutes and sessions will not survive a restart")
	} else {
		appLog.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	sched := scheduler.New(schedCfg, log.With(logx.String("comp", "scheduler")), bus)

	notif := notifier.New(notifier.Config{}, ad, log)

	timeout, err := rconTimeout(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	rc := rcon.NewChannel(store, timeout, log)

	sessions := playtest.NewSessionManager(store, log)
	resolver := rcon.NewResolver(store, sessions)
	kicker := rcon.NewKicker(rc)
	gate := reservation.NewGate()
	events := calendar.New(cfg.Playtest.EventFile, log)

	roles := chatops.NewRoles(ad, cfg.Telegram.ChatID)
	pub := chatops.NewPublisher(ad, notif, store, mapTargets(cfg), log)

	mutes := moderation.NewEngine(store, roles, sched, log, moderation.WithBus(bus))
	mutes.SetImmune(cfg.Moderation.ImmuneUserIDs)

	pcfg, err := mapPlaytestConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	orch := playtest.NewOrchestrator(playtest.Deps{
		Events:    events,
		Sessions:  sessions,
		Rcon:      rc,
		Demos:     pub,
		Announcer: pub,
		Gate:      gate,
		Kicker:    kicker,
		Bus:       bus,
		Log:       log,
	}, pcfg)
	announce := playtest.NewAnnouncements(events, store, pub, log)

	cmdm := router.NewCommandManager(log, ad, cfg.Telegram.OwnerUserIDs, cfg.Telegram.ModeratorUserIDs)
	cmds := commands.New(commands.Deps{
		Moderation: mutes,
		Playtest:   orch,
		Sessions:   sessions,
		Rcon:       rc,
		Resolver:   resolver,
		Kicker:     kicker,
		Gate:       gate,
		Servers:    store,
		Notices:    pub,
		Audit:      store,
		Schedules:  sched,
		Location:   sched.Location(),
		Log:        log,
	})
	cmdm.SetRegistry(cmds.Commands())

	a := &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      appLog,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  ad,
		sched:    sched,
		notif:    notif,
		rcon:     rc,
		events:   events,
		roles:    roles,
		pub:      pub,
		gate:     gate,
		mutes:    mutes,
		sessions: sessions,
		orch:     orch,
		announce: announce,
		cmdm:     cmdm,
		updates:  make(chan kit.Update, 256),
	}
	a.debug = debughttp.New(mapDebugConfig(cfg), a.status, log)
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.startedAt = time.Now()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if err := a.restore(a.sup.Context()); err != nil {
		return err
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.notif.Start(a.sup.Context())
	a.orch.Serve(a.sup.Context())
	a.sched.Start(a.sup.Context())
	a.debug.Start(a.sup.Context())

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.GoRestart("calendar.watch", a.events.Watch, supervisor.WithRestartBackoff(time.Second, time.Minute))

	a.log.Info("app started")
	return nil
}

// restore brings back what was persisted before the last stop. No server
// command is sent; a session comes back in the phase it was saved in.
func (a *App) restore(ctx context.Context) error {
	sess, ok, err := a.sessions.Load(ctx)
	if err != nil {
		return err
	}
	if ok && playtest.Phase(sess.Phase) != playtest.PhaseIdle {
		a.gate.BlockReservations()
		a.log.Info("playtest session restored", logx.String("title", sess.Title), logx.String("phase", sess.Phase))
	}

	if err := a.events.Load(); err != nil {
		a.log.Warn("event file not loaded; announcements wait for the next change", logx.Err(err))
	}

	if _, err := a.mutes.Recover(ctx); err != nil {
		return err
	}

	every, err := announceInterval(a.cfgm.Get())
	if err != nil {
		return err
	}
	return a.announce.Register(a.sched, every)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	// step bounds one shutdown step so a stuck component can't stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped, no time left", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
			go func() {
				err := <-done
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}

	// Scheduled actions and post-game tasks may still send rcon commands and
	// chat messages, so they stop before the channels they use.
	step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("playtest", 3*time.Second, a.orch.Shutdown)
	step("debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("rcon", time.Second, func(context.Context) error { return a.rcon.Close() })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
