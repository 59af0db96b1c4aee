package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"hatbot/internal/eventbus"
	"hatbot/internal/runtime/supervisor"
	logx "hatbot/pkg/logx"
)

var (
	ErrDuplicate    = errors.New("action already scheduled")
	ErrNameRequired = errors.New("action name required")
	ErrBadPolicy    = errors.New("fire policy requires a time or a positive interval")
)

// Action is the deferred work. A returned error is logged and recorded in
// History; it never cancels future runs of a recurring action.
type Action func(ctx context.Context) error

// Policy says when an action fires. Build one with At or Every.
type Policy struct {
	at    time.Time
	every time.Duration
}

// At fires once at t. A t in the past fires on the next loop tick.
func At(t time.Time) Policy { return Policy{at: t} }

// Every fires repeatedly with a constant delay. Intervals are rounded to whole
// seconds by the cron loop.
func Every(d time.Duration) Policy { return Policy{every: d} }

func (p Policy) once() bool { return p.every <= 0 }

func (p Policy) valid() bool {
	if p.every > 0 {
		return p.at.IsZero()
	}
	return !p.at.IsZero()
}

type Config struct {
	Timezone string // IANA TZ, empty means local

	// HistorySize bounds the run history ring (default 50).
	HistorySize int

	// ActionTimeout bounds a single run. 0 disables the timeout.
	ActionTimeout time.Duration
}

// Upcoming is one registered action and its next fire time.
type Upcoming struct {
	Name  string
	Next  time.Time
	Every time.Duration // 0 for one-shot actions
}

// RunRecord describes one finished run.
type RunRecord struct {
	Name     string
	Started  time.Time
	Took     time.Duration
	Err      string
	Panicked bool
}

type actionDef struct {
	id      uint64
	name    string
	policy  Policy
	action  Action
	entryID cron.EntryID
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus
	now func() time.Time

	c       *cron.Cron
	sup     *supervisor.Supervisor
	running bool

	seq  uint64
	defs map[string]*actionDef

	histMu sync.Mutex
	hist   []RunRecord
}
