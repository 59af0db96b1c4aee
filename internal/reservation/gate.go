// Package reservation tracks exclusive test-server reservations.
package reservation

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"hatbot/internal/fault"
	"hatbot/internal/storage"
)

var (
	ErrReservationsClosed = errors.New("server reservations are closed during a playtest")
	ErrServerTaken        = errors.New("server is already reserved")
	ErrUserHasReservation = errors.New("user already has a reservation")
)

const ClearedNotice = "A moderator has cleared your reservation."

type Reservation struct {
	UserID   int64
	ServerID string
	Until    time.Time
}

// Notice is the message owed to a user whose reservation was released.
type Notice struct {
	UserID   int64
	ServerID string
	Message  string
}

// Gate holds at most one reservation per server and one per user.
type Gate struct {
	mu      sync.Mutex
	blocked bool
	byUser  map[int64]Reservation
	now     func() time.Time
}

func NewGate() *Gate {
	return &Gate{byUser: map[int64]Reservation{}, now: time.Now}
}

// Reserve claims serverID for userID until the given time.
func (g *Gate) Reserve(userID int64, serverID string, until time.Time) (Reservation, error) {
	id := storage.NormalizeServerID(serverID)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pruneLocked()
	if g.blocked {
		return Reservation{}, fault.Wrap(fault.Precondition, ErrReservationsClosed)
	}
	if _, ok := g.byUser[userID]; ok {
		return Reservation{}, fault.Wrap(fault.Precondition, ErrUserHasReservation)
	}
	for _, r := range g.byUser {
		if r.ServerID == id {
			return Reservation{}, fault.Wrap(fault.Precondition, fmt.Errorf("%w: %s", ErrServerTaken, id))
		}
	}
	r := Reservation{UserID: userID, ServerID: id, Until: until}
	g.byUser[userID] = r
	return r, nil
}

// Release drops the user's reservation.
func (g *Gate) Release(userID int64, reason string) (Notice, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.byUser[userID]
	if !ok {
		return Notice{}, false
	}
	delete(g.byUser, userID)
	return Notice{UserID: r.UserID, ServerID: r.ServerID, Message: reason}, true
}

// ReleaseByServer drops whatever reservation holds serverID.
func (g *Gate) ReleaseByServer(serverID string) (Notice, bool) {
	id := storage.NormalizeServerID(serverID)
	g.mu.Lock()
	defer g.mu.Unlock()
	for uid, r := range g.byUser {
		if r.ServerID == id {
			delete(g.byUser, uid)
			return Notice{UserID: uid, ServerID: id, Message: ClearedNotice}, true
		}
	}
	return Notice{}, false
}

// ClearAll drops every reservation.
func (g *Gate) ClearAll() []Notice {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Notice, 0, len(g.byUser))
	for uid, r := range g.byUser {
		out = append(out, Notice{UserID: uid, ServerID: r.ServerID, Message: ClearedNotice})
	}
	g.byUser = map[int64]Reservation{}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}

// BlockReservations stops new reservations until AllowReservations.
func (g *Gate) BlockReservations() {
	g.mu.Lock()
	g.blocked = true
	g.mu.Unlock()
}

func (g *Gate) AllowReservations() {
	g.mu.Lock()
	g.blocked = false
	g.mu.Unlock()
}

func (g *Gate) Blocked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.blocked
}

// Reservations lists live reservations ordered by server id.
func (g *Gate) Reservations() []Reservation {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pruneLocked()
	out := make([]Reservation, 0, len(g.byUser))
	for _, r := range g.byUser {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}

func (g *Gate) pruneLocked() {
	now := g.now()
	for uid, r := range g.byUser {
		if !r.Until.IsZero() && !r.Until.After(now) {
			delete(g.byUser, uid)
		}
	}
}
