package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	logx "hatbot/pkg/logx"
)

// fileStore keeps the record set in memory and makes it durable with plain
// files.
//
// Files:
//   - <prefix>.audit.jsonl    (append-only JSON Lines)
//   - <prefix>.snapshot.json  (full record set)
//   - <prefix>.journal.jsonl  (mutations since the snapshot)
//
// The journal is compacted into the snapshot every compactEvery writes and
// on Close.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex
	st *state

	auditFile    *os.File
	snapshotPath string
	journalFile  *os.File
	writes       int
}

const compactEvery = 200

type journalOp string

const (
	opAddMute      journalOp = "mute.add"
	opExpireMute   journalOp = "mute.expire"
	opReplaceMute  journalOp = "mute.replace"
	opPutSession   journalOp = "session.put"
	opPutAnnounce  journalOp = "announce.put"
	opPutServer    journalOp = "server.put"
	opDeleteServer journalOp = "server.delete"
)

type journalRecord struct {
	Op       journalOp        `json:"op"`
	At       time.Time        `json:"at"`
	Mute     *Mute            `json:"mute,omitempty"`
	PrevID   uuid.UUID        `json:"prev_id,omitzero"`
	UserID   int64            `json:"user_id,omitempty"`
	Session  *PlaytestSession `json:"session,omitempty"`
	Announce *AnnounceMessage `json:"announce,omitempty"`
	Server   *Server          `json:"server,omitempty"`
	ServerID string           `json:"server_id,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	auditPath := prefix + ".audit.jsonl"
	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	st := newState()
	if err := loadSnapshot(snapPath, st); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	n, err := replayJournal(journalPath, st)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("replay journal: %w", err)
	}

	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}

	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("replayed", n), logx.Int("mutes", len(st.Mutes)))
	return &fileStore{
		log:          log,
		st:           st,
		auditFile:    af,
		snapshotPath: snapPath,
		journalFile:  jf,
		writes:       n,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.journalFile != nil {
		if err := s.compactLocked(); err != nil {
			errs = append(errs, err)
		}
		errs = append(errs, s.journalFile.Close())
		s.journalFile = nil
	}
	if s.auditFile != nil {
		errs = append(errs, s.auditFile.Close())
		s.auditFile = nil
	}
	return errors.Join(errs...)
}

// commitLocked journals r. The in-memory change has already been applied.
func (s *fileStore) commitLocked(r journalRecord) error {
	if err := s.appendLocked(r); err != nil {
		return err
	}
	s.maybeCompactLocked()
	return nil
}

func (s *fileStore) appendLocked(r journalRecord) error {
	if s.journalFile == nil {
		return ErrClosed
	}
	r.At = time.Now()
	return json.NewEncoder(s.journalFile).Encode(r)
}

func (s *fileStore) maybeCompactLocked() {
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compact failed", logx.Err(err))
		}
	}
}

func (s *fileStore) AddMute(_ context.Context, m Mute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}
	if err := s.st.addMute(m); err != nil {
		return err
	}
	return s.commitLocked(journalRecord{Op: opAddMute, Mute: &m})
}

func (s *fileStore) ActiveMute(_ context.Context, userID int64) (Mute, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.st.activeIndex(userID); i >= 0 {
		return s.st.Mutes[i], true, nil
	}
	return Mute{}, false, nil
}

func (s *fileStore) ActiveMutes(context.Context) ([]Mute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.activeMutes(), nil
}

func (s *fileStore) UserMutes(_ context.Context, userID int64) ([]Mute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.userMutes(userID), nil
}

func (s *fileStore) ExpireMute(_ context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return false, ErrClosed
	}
	if !s.st.expireMute(userID) {
		return false, nil
	}
	return true, s.commitLocked(journalRecord{Op: opExpireMute, UserID: userID})
}

// ReplaceMute journals before touching the record set, so a failed write
// leaves the previous record active.
func (s *fileStore) ReplaceMute(_ context.Context, prevID uuid.UUID, m Mute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}
	if i := s.st.activeIndex(m.UserID); i < 0 || s.st.Mutes[i].ID != prevID {
		return ErrMuteChanged
	}
	if err := s.appendLocked(journalRecord{Op: opReplaceMute, PrevID: prevID, Mute: &m}); err != nil {
		return err
	}
	if err := s.st.replaceMute(prevID, m); err != nil {
		return err
	}
	s.maybeCompactLocked()
	return nil
}

func (s *fileStore) GetSession(context.Context) (PlaytestSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.Session == nil {
		return PlaytestSession{}, false, nil
	}
	return *s.st.Session, true, nil
}

func (s *fileStore) PutSession(_ context.Context, ps PlaytestSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}
	s.st.putSession(ps)
	return s.commitLocked(journalRecord{Op: opPutSession, Session: s.st.Session})
}

func (s *fileStore) GetAnnounce(context.Context) (AnnounceMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.Announce == nil {
		return AnnounceMessage{}, false, nil
	}
	return *s.st.Announce, true, nil
}

func (s *fileStore) PutAnnounce(_ context.Context, a AnnounceMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}
	s.st.putAnnounce(a)
	return s.commitLocked(journalRecord{Op: opPutAnnounce, Announce: s.st.Announce})
}

func (s *fileStore) PutServer(_ context.Context, srv Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}
	s.st.putServer(srv)
	srv.ID = NormalizeServerID(srv.ID)
	return s.commitLocked(journalRecord{Op: opPutServer, Server: &srv})
}

func (s *fileStore) GetServer(_ context.Context, id string) (Server, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, ok := s.st.Servers[NormalizeServerID(id)]
	return srv, ok, nil
}

func (s *fileStore) DeleteServer(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return false, ErrClosed
	}
	if !s.st.deleteServer(id) {
		return false, nil
	}
	return true, s.commitLocked(journalRecord{Op: opDeleteServer, ServerID: NormalizeServerID(id)})
}

func (s *fileStore) ListServers(context.Context) ([]Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listServers(), nil
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.st); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, io.SeekEnd)
	return err
}

func loadSnapshot(path string, out *state) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(out); err != nil {
		return err
	}
	if out.Servers == nil {
		out.Servers = map[string]Server{}
	}
	return nil
}

// replayJournal applies journal records to st. A torn last line is skipped.
func replayJournal(path string, st *state) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		switch r.Op {
		case opAddMute:
			if r.Mute != nil {
				_ = st.addMute(*r.Mute)
			}
		case opExpireMute:
			st.expireMute(r.UserID)
		case opReplaceMute:
			if r.Mute != nil {
				_ = st.replaceMute(r.PrevID, *r.Mute)
			}
		case opPutSession:
			if r.Session != nil {
				st.putSession(*r.Session)
			}
		case opPutAnnounce:
			if r.Announce != nil {
				st.putAnnounce(*r.Announce)
			}
		case opPutServer:
			if r.Server != nil {
				st.putServer(*r.Server)
			}
		case opDeleteServer:
			st.deleteServer(r.ServerID)
		default:
			continue
		}
		n++
	}
	return n, sc.Err()
}
