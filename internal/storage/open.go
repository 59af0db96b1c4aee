package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	logx "hatbot/pkg/logx"
)

// MuteLedger holds mute records. At most one record per user is active.
type MuteLedger interface {
	// AddMute fails with ErrActiveMute when the user already has an active record.
	AddMute(ctx context.Context, m Mute) error
	ActiveMute(ctx context.Context, userID int64) (Mute, bool, error)
	ActiveMutes(ctx context.Context) ([]Mute, error)
	// UserMutes returns every record for the user, most recent first.
	UserMutes(ctx context.Context, userID int64) ([]Mute, error)
	// ExpireMute marks the user's active record expired.
	ExpireMute(ctx context.Context, userID int64) (bool, error)
	// ReplaceMute swaps the user's active record prevID for m in one write.
	// It fails with ErrMuteChanged when prevID is no longer the active record.
	ReplaceMute(ctx context.Context, prevID uuid.UUID, m Mute) error
}

type SessionStore interface {
	GetSession(ctx context.Context) (PlaytestSession, bool, error)
	PutSession(ctx context.Context, s PlaytestSession) error
}

type AnnounceStore interface {
	GetAnnounce(ctx context.Context) (AnnounceMessage, bool, error)
	PutAnnounce(ctx context.Context, a AnnounceMessage) error
}

type ServerStore interface {
	PutServer(ctx context.Context, s Server) error
	GetServer(ctx context.Context, id string) (Server, bool, error)
	DeleteServer(ctx context.Context, id string) (bool, error)
	ListServers(ctx context.Context) ([]Server, error)
}

// Store is the full persistence API.
type Store interface {
	MuteLedger
	SessionStore
	AnnounceStore
	ServerStore
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "memory", "mem":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
