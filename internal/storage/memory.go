package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// state is the in-memory record set shared by the memory and file backends.
type state struct {
	Mutes    []Mute            `json:"mutes"`
	Session  *PlaytestSession  `json:"session,omitempty"`
	Announce *AnnounceMessage  `json:"announce,omitempty"`
	Servers  map[string]Server `json:"servers"`
}

func newState() *state {
	return &state{Servers: map[string]Server{}}
}

func (st *state) activeIndex(userID int64) int {
	for i := range st.Mutes {
		if st.Mutes[i].UserID == userID && !st.Mutes[i].Expired {
			return i
		}
	}
	return -1
}

func (st *state) addMute(m Mute) error {
	if st.activeIndex(m.UserID) >= 0 {
		return ErrActiveMute
	}
	m.Expired = false
	st.Mutes = append(st.Mutes, m)
	return nil
}

func (st *state) expireMute(userID int64) bool {
	i := st.activeIndex(userID)
	if i < 0 {
		return false
	}
	st.Mutes[i].Expired = true
	return true
}

// replaceMute drops the active record prevID and adds m as the user's active
// record.
func (st *state) replaceMute(prevID uuid.UUID, m Mute) error {
	i := st.activeIndex(m.UserID)
	if i < 0 || st.Mutes[i].ID != prevID {
		return ErrMuteChanged
	}
	m.Expired = false
	st.Mutes = append(st.Mutes[:i], st.Mutes[i+1:]...)
	st.Mutes = append(st.Mutes, m)
	return nil
}

func (st *state) putSession(s PlaytestSession) {
	s.ID = SessionID
	st.Session = &s
}

func (st *state) putAnnounce(a AnnounceMessage) {
	a.ID = AnnounceID
	st.Announce = &a
}

func (st *state) putServer(s Server) {
	s.ID = NormalizeServerID(s.ID)
	if st.Servers == nil {
		st.Servers = map[string]Server{}
	}
	st.Servers[s.ID] = s
}

func (st *state) deleteServer(id string) bool {
	id = NormalizeServerID(id)
	if _, ok := st.Servers[id]; !ok {
		return false
	}
	delete(st.Servers, id)
	return true
}

func (st *state) userMutes(userID int64) []Mute {
	var out []Mute
	for i := len(st.Mutes) - 1; i >= 0; i-- {
		if st.Mutes[i].UserID == userID {
			out = append(out, st.Mutes[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MuteTime.After(out[j].MuteTime) })
	return out
}

func (st *state) activeMutes() []Mute {
	var out []Mute
	for _, m := range st.Mutes {
		if !m.Expired {
			out = append(out, m)
		}
	}
	return out
}

func (st *state) listServers() []Server {
	out := make([]Server, 0, len(st.Servers))
	for _, s := range st.Servers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// memStore keeps everything in process memory.
type memStore struct {
	mu    sync.Mutex
	st    *state
	audit []AuditEntry
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memStore{st: newState()}
}

func (s *memStore) AddMute(_ context.Context, m Mute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.addMute(m)
}

func (s *memStore) ActiveMute(_ context.Context, userID int64) (Mute, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.st.activeIndex(userID); i >= 0 {
		return s.st.Mutes[i], true, nil
	}
	return Mute{}, false, nil
}

func (s *memStore) ActiveMutes(context.Context) ([]Mute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.activeMutes(), nil
}

func (s *memStore) UserMutes(_ context.Context, userID int64) ([]Mute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.userMutes(userID), nil
}

func (s *memStore) ExpireMute(_ context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.expireMute(userID), nil
}

func (s *memStore) ReplaceMute(_ context.Context, prevID uuid.UUID, m Mute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.replaceMute(prevID, m)
}

func (s *memStore) GetSession(context.Context) (PlaytestSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.Session == nil {
		return PlaytestSession{}, false, nil
	}
	return *s.st.Session, true, nil
}

func (s *memStore) PutSession(_ context.Context, ps PlaytestSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.putSession(ps)
	return nil
}

func (s *memStore) GetAnnounce(context.Context) (AnnounceMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.Announce == nil {
		return AnnounceMessage{}, false, nil
	}
	return *s.st.Announce, true, nil
}

func (s *memStore) PutAnnounce(_ context.Context, a AnnounceMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.putAnnounce(a)
	return nil
}

func (s *memStore) PutServer(_ context.Context, srv Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.putServer(srv)
	return nil
}

func (s *memStore) GetServer(_ context.Context, id string) (Server, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, ok := s.st.Servers[NormalizeServerID(id)]
	return srv, ok, nil
}

func (s *memStore) DeleteServer(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.deleteServer(id), nil
}

func (s *memStore) ListServers(context.Context) ([]Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.listServers(), nil
}

func (s *memStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	return nil
}

func (s *memStore) Close() error { return nil }
