package storage

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrActiveMute  = errors.New("user already has an active mute")
	ErrMuteChanged = errors.New("active mute changed")
	ErrClosed      = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "memory" (or empty): nothing survives a restart
//   - "file": JSON snapshot + journal next to Path
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// SessionID and AnnounceID are the fixed keys of the singleton records.
const (
	SessionID  = 1
	AnnounceID = 1
)

// Mute is one mute ledger entry. Duration is in minutes.
type Mute struct {
	ID          uuid.UUID `json:"id"`
	UserID      int64     `json:"user_id"`
	Username    string    `json:"username,omitempty"`
	Reason      string    `json:"reason"`
	Duration    float64   `json:"duration"`
	MuteTime    time.Time `json:"mute_time"`
	ModeratorID int64     `json:"moderator_id"`
	Expired     bool      `json:"expired"`
}

// Until is the instant the mute lapses.
func (m Mute) Until() time.Time {
	return m.MuteTime.Add(time.Duration(m.Duration * float64(time.Minute)))
}

type PlaytestSession struct {
	ID              int       `json:"id"`
	Mode            string    `json:"mode"`
	DemoName        string    `json:"demo_name"`
	WorkshopID      string    `json:"workshop_id"`
	ServerAddress   string    `json:"server_address"`
	Title           string    `json:"title"`
	ThumbnailImage  string    `json:"thumbnail_image,omitempty"`
	ImageAlbum      string    `json:"image_album,omitempty"`
	CreatorMentions string    `json:"creator_mentions,omitempty"`
	StartDateTime   time.Time `json:"start_date_time"`
	Phase           string    `json:"phase"`
}

// AnnounceMessage remembers which chat message carries the upcoming-event
// announcement and which event revision it shows.
type AnnounceMessage struct {
	ID                   int       `json:"id"`
	AnnouncementDateTime time.Time `json:"announcement_date_time"`
	AnnouncementID       int       `json:"announcement_id"`
	ChatID               int64     `json:"chat_id"`
}

// Server is a registered test server. FTP fields are stored, never used.
type Server struct {
	ID           string `json:"id"`
	Description  string `json:"description,omitempty"`
	Address      string `json:"address"`
	RconPassword string `json:"rcon_password"`
	FtpUser      string `json:"ftp_user,omitempty"`
	FtpPassword  string `json:"ftp_password,omitempty"`
	FtpPath      string `json:"ftp_path,omitempty"`
	FtpType      string `json:"ftp_type,omitempty"`
}

// NormalizeServerID is the registry key form of a server id.
func NormalizeServerID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// AuditEntry records a moderator action.
type AuditEntry struct {
	At            time.Time `json:"at"`
	ActorID       int64     `json:"actor_id"`
	ActorUsername string    `json:"actor_username,omitempty"`
	ChatID        int64     `json:"chat_id"`
	ThreadID      int       `json:"thread_id,omitempty"`
	Command       string    `json:"command"`
	Target        string    `json:"target,omitempty"`
	Outcome       string    `json:"outcome,omitempty"`
	Error         string    `json:"error,omitempty"`
	TookMS        int64     `json:"took_ms"`
}
