package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	logx "hatbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Fixed-width UTC timestamps keep text ordering equal to time ordering.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers; the mute check-then-insert
	// relies on it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AddMute(ctx context.Context, m Mute) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM mutes WHERE user_id = ? AND expired = 0`, m.UserID).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return ErrActiveMute
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO mutes(id, user_id, username, reason, duration, mute_time, moderator_id, expired)
		 VALUES(?,?,?,?,?,?,?,0)`,
		m.ID.String(), m.UserID, nullStr(m.Username), m.Reason, m.Duration, fmtTime(m.MuteTime), m.ModeratorID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceMute deletes the previous record and inserts m in one transaction.
func (s *sqliteStore) ReplaceMute(ctx context.Context, prevID uuid.UUID, m Mute) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM mutes WHERE id = ? AND user_id = ? AND expired = 0`, prevID.String(), m.UserID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrMuteChanged
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO mutes(id, user_id, username, reason, duration, mute_time, moderator_id, expired)
		 VALUES(?,?,?,?,?,?,?,0)`,
		m.ID.String(), m.UserID, nullStr(m.Username), m.Reason, m.Duration, fmtTime(m.MuteTime), m.ModeratorID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

const muteCols = `id, user_id, username, reason, duration, mute_time, moderator_id, expired`

func scanMute(row interface{ Scan(...any) error }) (Mute, error) {
	var (
		m        Mute
		id       string
		username sql.NullString
		at       string
		expired  int
	)
	if err := row.Scan(&id, &m.UserID, &username, &m.Reason, &m.Duration, &at, &m.ModeratorID, &expired); err != nil {
		return Mute{}, err
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return Mute{}, fmt.Errorf("mute id %q: %w", id, err)
	}
	m.ID = u
	m.Username = username.String
	m.MuteTime, err = parseTime(at)
	if err != nil {
		return Mute{}, err
	}
	m.Expired = expired != 0
	return m, nil
}

func (s *sqliteStore) queryMutes(ctx context.Context, q string, args ...any) ([]Mute, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Mute
	for rows.Next() {
		m, err := scanMute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ActiveMute(ctx context.Context, userID int64) (Mute, bool, error) {
	m, err := scanMute(s.db.QueryRowContext(ctx, `SELECT `+muteCols+` FROM mutes WHERE user_id = ? AND expired = 0`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return Mute{}, false, nil
	}
	if err != nil {
		return Mute{}, false, err
	}
	return m, true, nil
}

func (s *sqliteStore) ActiveMutes(ctx context.Context) ([]Mute, error) {
	return s.queryMutes(ctx, `SELECT `+muteCols+` FROM mutes WHERE expired = 0 ORDER BY mute_time`)
}

func (s *sqliteStore) UserMutes(ctx context.Context, userID int64) ([]Mute, error) {
	return s.queryMutes(ctx, `SELECT `+muteCols+` FROM mutes WHERE user_id = ? ORDER BY mute_time DESC, rowid DESC`, userID)
}

func (s *sqliteStore) ExpireMute(ctx context.Context, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE mutes SET expired = 1 WHERE user_id = ? AND expired = 0`, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) GetSession(ctx context.Context) (PlaytestSession, bool, error) {
	var (
		ps                     PlaytestSession
		thumb, album, mentions sql.NullString
		start                  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, mode, demo_name, workshop_id, server_address, title, thumbnail_image, image_album, creator_mentions, start_time, phase
		 FROM playtest_session WHERE id = ?`, SessionID,
	).Scan(&ps.ID, &ps.Mode, &ps.DemoName, &ps.WorkshopID, &ps.ServerAddress, &ps.Title, &thumb, &album, &mentions, &start, &ps.Phase)
	if errors.Is(err, sql.ErrNoRows) {
		return PlaytestSession{}, false, nil
	}
	if err != nil {
		return PlaytestSession{}, false, err
	}
	ps.ThumbnailImage, ps.ImageAlbum, ps.CreatorMentions = thumb.String, album.String, mentions.String
	if ps.StartDateTime, err = parseTime(start); err != nil {
		return PlaytestSession{}, false, err
	}
	return ps, true, nil
}

func (s *sqliteStore) PutSession(ctx context.Context, ps PlaytestSession) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO playtest_session(id, mode, demo_name, workshop_id, server_address, title, thumbnail_image, image_album, creator_mentions, start_time, phase)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   mode=excluded.mode, demo_name=excluded.demo_name, workshop_id=excluded.workshop_id,
		   server_address=excluded.server_address, title=excluded.title, thumbnail_image=excluded.thumbnail_image,
		   image_album=excluded.image_album, creator_mentions=excluded.creator_mentions,
		   start_time=excluded.start_time, phase=excluded.phase`,
		SessionID, ps.Mode, ps.DemoName, ps.WorkshopID, ps.ServerAddress, ps.Title,
		nullStr(ps.ThumbnailImage), nullStr(ps.ImageAlbum), nullStr(ps.CreatorMentions), fmtTime(ps.StartDateTime), ps.Phase,
	)
	return err
}

func (s *sqliteStore) GetAnnounce(ctx context.Context) (AnnounceMessage, bool, error) {
	var (
		a  AnnounceMessage
		at string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, announcement_time, announcement_id, chat_id FROM announce_message WHERE id = ?`, AnnounceID,
	).Scan(&a.ID, &at, &a.AnnouncementID, &a.ChatID)
	if errors.Is(err, sql.ErrNoRows) {
		return AnnounceMessage{}, false, nil
	}
	if err != nil {
		return AnnounceMessage{}, false, err
	}
	if a.AnnouncementDateTime, err = parseTime(at); err != nil {
		return AnnounceMessage{}, false, err
	}
	return a, true, nil
}

func (s *sqliteStore) PutAnnounce(ctx context.Context, a AnnounceMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO announce_message(id, announcement_time, announcement_id, chat_id) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET announcement_time=excluded.announcement_time,
		   announcement_id=excluded.announcement_id, chat_id=excluded.chat_id`,
		AnnounceID, fmtTime(a.AnnouncementDateTime), a.AnnouncementID, a.ChatID,
	)
	return err
}

func (s *sqliteStore) PutServer(ctx context.Context, srv Server) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO servers(id, description, address, rcon_password, ftp_user, ftp_password, ftp_path, ftp_type)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET description=excluded.description, address=excluded.address,
		   rcon_password=excluded.rcon_password, ftp_user=excluded.ftp_user, ftp_password=excluded.ftp_password,
		   ftp_path=excluded.ftp_path, ftp_type=excluded.ftp_type`,
		NormalizeServerID(srv.ID), nullStr(srv.Description), srv.Address, srv.RconPassword,
		nullStr(srv.FtpUser), nullStr(srv.FtpPassword), nullStr(srv.FtpPath), nullStr(srv.FtpType),
	)
	return err
}

const serverCols = `id, description, address, rcon_password, ftp_user, ftp_password, ftp_path, ftp_type`

func scanServer(row interface{ Scan(...any) error }) (Server, error) {
	var (
		srv                                    Server
		desc, ftpUser, ftpPass, ftpPath, ftpTy sql.NullString
	)
	if err := row.Scan(&srv.ID, &desc, &srv.Address, &srv.RconPassword, &ftpUser, &ftpPass, &ftpPath, &ftpTy); err != nil {
		return Server{}, err
	}
	srv.Description = desc.String
	srv.FtpUser, srv.FtpPassword, srv.FtpPath, srv.FtpType = ftpUser.String, ftpPass.String, ftpPath.String, ftpTy.String
	return srv, nil
}

func (s *sqliteStore) GetServer(ctx context.Context, id string) (Server, bool, error) {
	srv, err := scanServer(s.db.QueryRowContext(ctx, `SELECT `+serverCols+` FROM servers WHERE id = ?`, NormalizeServerID(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return Server{}, false, nil
	}
	if err != nil {
		return Server{}, false, err
	}
	return srv, true, nil
}

func (s *sqliteStore) DeleteServer(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE id = ?`, NormalizeServerID(id))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) ListServers(ctx context.Context) ([]Server, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+serverCols+` FROM servers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, srv)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, chat_id, thread_id, command, target, outcome, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		fmtTime(e.At), e.ActorID, nullStr(e.ActorUsername), e.ChatID, e.ThreadID,
		e.Command, nullStr(e.Target), nullStr(e.Outcome), nullStr(e.Error), e.TookMS,
	)
	return err
}

func fmtTime(t time.Time) string { return t.UTC().Format(tsLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
