package rcon

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"hatbot/internal/fault"
	"hatbot/internal/storage"
)

var ErrNoTarget = errors.New("no rcon target: set a server or start a playtest")

// SessionLookup reports the address of the running playtest, if any.
type SessionLookup interface {
	ActiveServerAddress() (string, bool)
}

// Resolver maps operators to the server their ad-hoc commands go to.
// Overrides live in memory only.
type Resolver struct {
	servers  ServerLookup
	sessions SessionLookup

	mu        sync.Mutex
	overrides map[int64]string
}

func NewResolver(servers ServerLookup, sessions SessionLookup) *Resolver {
	return &Resolver{servers: servers, sessions: sessions, overrides: map[int64]string{}}
}

// Set pins userID to serverID. Unknown servers are rejected.
func (r *Resolver) Set(ctx context.Context, userID int64, serverID string) (storage.Server, error) {
	id := storage.NormalizeServerID(serverID)
	srv, ok, err := r.servers.GetServer(ctx, id)
	if err != nil {
		return storage.Server{}, fault.Wrap(fault.Persistence, err)
	}
	if !ok {
		return storage.Server{}, fault.Wrap(fault.Validation, fmt.Errorf("%w: %s", ErrUnknownServer, id))
	}
	r.mu.Lock()
	r.overrides[userID] = srv.ID
	r.mu.Unlock()
	return srv, nil
}

// Auto clears the user's override.
func (r *Resolver) Auto(userID int64) {
	r.mu.Lock()
	delete(r.overrides, userID)
	r.mu.Unlock()
}

// Current returns the user's override; explicit is false in auto mode.
func (r *Resolver) Current(userID int64) (serverID string, explicit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.overrides[userID]
	return id, ok
}

// Resolve picks the override, then the active session's server.
func (r *Resolver) Resolve(userID int64) (string, error) {
	if id, ok := r.Current(userID); ok {
		return id, nil
	}
	if r.sessions != nil {
		if addr, ok := r.sessions.ActiveServerAddress(); ok {
			if id := ServerIDFromAddress(addr); id != "" {
				return id, nil
			}
		}
	}
	return "", fault.Wrap(fault.Precondition, ErrNoTarget)
}
