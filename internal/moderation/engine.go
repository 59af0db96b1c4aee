package moderation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"hatbot/internal/eventbus"
	"hatbot/internal/fault"
	"hatbot/internal/scheduler"
	"hatbot/internal/storage"
	logx "hatbot/pkg/logx"
)

const extendedPrefix = "Extended from previous mute: "

// RoleManager applies and lifts the chat-side mute.
type RoleManager interface {
	GrantMute(ctx context.Context, userID int64, until time.Time) error
	RevokeMute(ctx context.Context, userID int64) error
	// IsImmune reports users that can never be muted (chat administrators).
	IsImmune(ctx context.Context, userID int64) (bool, error)
}

// Scheduler is the part of the action scheduler the engine uses.
type Scheduler interface {
	Schedule(name string, policy scheduler.Policy, action scheduler.Action) error
	Cancel(name string) bool
}

type Outcome int

const (
	Applied Outcome = iota + 1
	AlreadyMuted
	RoleGrantFailed
	Immune
	Unmuted
	NotMuted
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case AlreadyMuted:
		return "already_muted"
	case RoleGrantFailed:
		return "role_grant_failed"
	case Immune:
		return "immune"
	case Unmuted:
		return "unmuted"
	case NotMuted:
		return "not_muted"
	default:
		return "unknown"
	}
}

type MuteRequest struct {
	UserID      int64
	Username    string
	Duration    time.Duration
	Reason      string
	ModeratorID int64
}

type Result struct {
	Outcome  Outcome
	Mute     storage.Mute
	Extended bool
	// Added is the length this request contributed (Mute.Duration is the total).
	Added time.Duration
	// Err explains RoleGrantFailed.
	Err error
}

type UnmuteResult struct {
	Outcome Outcome
	Mute    storage.Mute
	// RoleErr is set when the record was expired but lifting the chat-side
	// restriction failed.
	RoleErr error
}

// JobName is the scheduler key of a user's pending unmute.
func JobName(userID int64) string { return "unmute:" + strconv.FormatInt(userID, 10) }

type Engine struct {
	log    logx.Logger
	ledger storage.MuteLedger
	roles  RoleManager
	sched  Scheduler
	bus    eventbus.Bus
	now    func() time.Time

	immune atomic.Pointer[map[int64]struct{}]
	locks  userLocks
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithBus(b eventbus.Bus) Option {
	return func(e *Engine) {
		if b != nil {
			e.bus = b
		}
	}
}

func NewEngine(ledger storage.MuteLedger, roles RoleManager, sched Scheduler, log logx.Logger, opts ...Option) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		log:    log.With(logx.String("comp", "moderation")),
		ledger: ledger,
		roles:  roles,
		sched:  sched,
		bus:    eventbus.Nop(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	e.SetImmune(nil)
	return e
}

// SetImmune replaces the configured list of users that can never be muted.
func (e *Engine) SetImmune(ids []int64) {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	e.immune.Store(&m)
}

func (e *Engine) isImmune(ctx context.Context, userID int64) bool {
	if _, ok := (*e.immune.Load())[userID]; ok {
		return true
	}
	if e.roles == nil {
		return false
	}
	ok, err := e.roles.IsImmune(ctx, userID)
	if err != nil {
		e.log.Warn("immunity check failed", logx.Int64("user_id", userID), logx.Err(err))
		return false
	}
	return ok
}

// hasExtendMarker reports a reason that starts with "e " in any case.
func hasExtendMarker(reason string) bool {
	return len(reason) >= 2 && (reason[0] == 'e' || reason[0] == 'E') && reason[1] == ' '
}

// Mute applies a mute, or extends the active one when the reason starts with
// the "e " marker. The returned error is reserved for failures the caller
// cannot act on (validation and persistence); the other outcomes travel in
// Result.
func (e *Engine) Mute(ctx context.Context, req MuteRequest) (Result, error) {
	if req.UserID == 0 {
		return Result{}, fault.New(fault.Validation, "a user is required")
	}
	if req.Duration <= 0 {
		return Result{}, fault.Wrap(fault.Validation, ErrBadDuration)
	}
	if e.isImmune(ctx, req.UserID) {
		e.log.Info("mute refused: user immune", logx.Int64("user_id", req.UserID), logx.Int64("moderator_id", req.ModeratorID))
		return Result{Outcome: Immune}, nil
	}

	unlock := e.locks.lock(req.UserID)
	defer unlock()

	now := e.now()
	m := storage.Mute{
		ID:          uuid.New(),
		UserID:      req.UserID,
		Username:    req.Username,
		Reason:      req.Reason,
		Duration:    req.Duration.Minutes(),
		MuteTime:    now,
		ModeratorID: req.ModeratorID,
	}

	var prev storage.Mute
	extended := false
	if hasExtendMarker(req.Reason) {
		var err error
		prev, extended, err = e.ledger.ActiveMute(ctx, req.UserID)
		if err != nil {
			return Result{}, fault.Wrap(fault.Persistence, fmt.Errorf("load active mute: %w", err))
		}
		if extended {
			m.Duration += prev.Duration
			m.MuteTime = prev.MuteTime
			m.Reason = extendedPrefix + strings.TrimSpace(req.Reason[2:])
			if m.Username == "" {
				m.Username = prev.Username
			}
		}
	}

	if extended {
		if err := e.ledger.ReplaceMute(ctx, prev.ID, m); err != nil {
			return Result{}, fault.Wrap(fault.Persistence, fmt.Errorf("replace mute: %w", err))
		}
		e.sched.Cancel(JobName(req.UserID))
	} else if err := e.ledger.AddMute(ctx, m); err != nil {
		if errors.Is(err, storage.ErrActiveMute) {
			return Result{Outcome: AlreadyMuted}, nil
		}
		return Result{}, fault.Wrap(fault.Persistence, fmt.Errorf("add mute: %w", err))
	}

	res := Result{Mute: m, Extended: extended, Added: req.Duration}
	if err := e.roles.GrantMute(ctx, m.UserID, m.Until()); err != nil {
		// The record stays; no unmute is scheduled for it.
		e.log.Error("mute role grant failed", logx.Int64("user_id", m.UserID), logx.String("mute_id", m.ID.String()), logx.Err(err))
		res.Outcome = RoleGrantFailed
		res.Err = fault.Wrap(fault.RoleGrant, err)
		return res, nil
	}

	e.scheduleUnmute(m)
	res.Outcome = Applied
	e.log.Info("user muted",
		logx.Int64("user_id", m.UserID),
		logx.Int64("moderator_id", m.ModeratorID),
		logx.Float64("minutes", m.Duration),
		logx.Bool("extended", extended),
		logx.Time("until", m.Until()),
	)
	e.bus.Publish(eventbus.Event{Type: eventbus.MuteApplied, Time: now, Data: m})
	return res, nil
}

func (e *Engine) scheduleUnmute(m storage.Mute) {
	name := JobName(m.UserID)
	userID, id := m.UserID, m.ID
	action := func(ctx context.Context) error {
		_, err := e.expire(ctx, userID, id)
		return err
	}
	err := e.sched.Schedule(name, scheduler.At(m.Until()), action)
	if errors.Is(err, scheduler.ErrDuplicate) {
		// A leftover from an earlier record; the ledger is authoritative.
		e.sched.Cancel(name)
		err = e.sched.Schedule(name, scheduler.At(m.Until()), action)
	}
	if err != nil {
		e.log.Error("schedule unmute failed", logx.Int64("user_id", m.UserID), logx.Err(err))
	}
}

// Unmute lifts the user's active mute.
func (e *Engine) Unmute(ctx context.Context, userID int64) (UnmuteResult, error) {
	return e.expire(ctx, userID, uuid.Nil)
}

// expire lifts the active mute. A non-nil onlyID limits it to that record so a
// late-firing action never lifts a newer mute.
func (e *Engine) expire(ctx context.Context, userID int64, onlyID uuid.UUID) (UnmuteResult, error) {
	unlock := e.locks.lock(userID)
	defer unlock()

	m, ok, err := e.ledger.ActiveMute(ctx, userID)
	if err != nil {
		return UnmuteResult{}, fault.Wrap(fault.Persistence, fmt.Errorf("load active mute: %w", err))
	}
	if !ok || (onlyID != uuid.Nil && m.ID != onlyID) {
		return UnmuteResult{Outcome: NotMuted}, nil
	}
	if _, err := e.ledger.ExpireMute(ctx, userID); err != nil {
		return UnmuteResult{}, fault.Wrap(fault.Persistence, fmt.Errorf("expire mute: %w", err))
	}
	m.Expired = true

	res := UnmuteResult{Outcome: Unmuted, Mute: m}
	if err := e.roles.RevokeMute(ctx, userID); err != nil {
		e.log.Warn("mute role revoke failed", logx.Int64("user_id", userID), logx.Err(err))
		res.RoleErr = fault.Wrap(fault.RoleGrant, err)
	}
	if onlyID == uuid.Nil {
		e.sched.Cancel(JobName(userID))
	}
	e.log.Info("user unmuted", logx.Int64("user_id", userID), logx.Bool("scheduled", onlyID != uuid.Nil))
	e.bus.Publish(eventbus.Event{Type: eventbus.MuteExpired, Time: e.now(), Data: m})
	return res, nil
}

// ListActive returns every active mute.
func (e *Engine) ListActive(ctx context.Context) ([]storage.Mute, error) {
	ms, err := e.ledger.ActiveMutes(ctx)
	if err != nil {
		return nil, fault.Wrap(fault.Persistence, err)
	}
	return ms, nil
}

// History returns the user's mutes, most recent first.
func (e *Engine) History(ctx context.Context, userID int64) ([]storage.Mute, error) {
	ms, err := e.ledger.UserMutes(ctx, userID)
	if err != nil {
		return nil, fault.Wrap(fault.Persistence, err)
	}
	return ms, nil
}

// Recover schedules an unmute for every active record. Records whose time
// has passed fire on the next scheduler tick.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	active, err := e.ledger.ActiveMutes(ctx)
	if err != nil {
		return 0, fault.Wrap(fault.Persistence, fmt.Errorf("load active mutes: %w", err))
	}
	now := e.now()
	for _, m := range active {
		e.scheduleUnmute(m)
		e.log.Debug("unmute recovered", logx.Int64("user_id", m.UserID), logx.Duration("remaining", m.Until().Sub(now)))
	}
	if len(active) > 0 {
		e.log.Info("mutes recovered", logx.Int("count", len(active)))
	}
	return len(active), nil
}
