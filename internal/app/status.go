package app

import (
	"context"
	"time"

	"hatbot/internal/config"
	"hatbot/internal/observability/debughttp"
	"hatbot/internal/runtime/supervisor"
)

type statusSnapshot struct {
	StartedAt           time.Time           `json:"started_at"`
	Uptime              string              `json:"uptime"`
	Playtest            *playtestStatus     `json:"playtest,omitempty"`
	ActiveMutes         int                 `json:"active_mutes"`
	ReservationsBlocked bool                `json:"reservations_blocked"`
	Reservations        int                 `json:"reservations"`
	Actions             []actionStatus      `json:"actions"`
	Supervisor          supervisor.Counters `json:"supervisor"`
	Dispatcher          supervisor.Counters `json:"dispatcher"`
}

type playtestStatus struct {
	Title  string `json:"title"`
	Phase  string `json:"phase"`
	Mode   string `json:"mode"`
	Server string `json:"server"`
	Demo   string `json:"demo"`
}

type actionStatus struct {
	Name  string    `json:"name"`
	Next  time.Time `json:"next"`
	Every string    `json:"every,omitempty"`
}

// status is served on the debug endpoint's /status.
func (a *App) status(ctx context.Context) any {
	st := statusSnapshot{
		StartedAt:           a.startedAt,
		Uptime:              time.Since(a.startedAt).Truncate(time.Second).String(),
		ReservationsBlocked: a.gate.Blocked(),
		Reservations:        len(a.gate.Reservations()),
		Actions:             []actionStatus{},
		Supervisor:          a.sup.Counters(),
		Dispatcher:          a.cmdm.Supervisor().Counters(),
	}
	if s, ok := a.sessions.Current(); ok {
		st.Playtest = &playtestStatus{
			Title:  s.Title,
			Phase:  s.Phase,
			Mode:   s.Mode,
			Server: s.ServerAddress,
			Demo:   s.DemoName,
		}
	}
	if active, err := a.store.ActiveMutes(ctx); err == nil {
		st.ActiveMutes = len(active)
	}
	for _, u := range a.sched.ListUpcoming() {
		as := actionStatus{Name: u.Name, Next: u.Next}
		if u.Every > 0 {
			as.Every = u.Every.String()
		}
		st.Actions = append(st.Actions, as)
	}
	return st
}

func mapDebugConfig(cfg *config.Config) debughttp.Config {
	return debughttp.Config{
		Enabled:       cfg.Debug.Enabled,
		Addr:          cfg.Debug.Addr,
		Token:         cfg.Debug.Token,
		AllowInsecure: cfg.Debug.AllowInsecure,
	}
}
