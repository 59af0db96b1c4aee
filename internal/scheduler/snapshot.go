package scheduler

import "time"

func (s *Service) record(r RunRecord) {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	s.hist = append(s.hist, r)
	if over := len(s.hist) - s.cfg.HistorySize; over > 0 {
		s.hist = append(s.hist[:0:0], s.hist[over:]...)
	}
}

// History returns finished runs, newest first.
func (s *Service) History() []RunRecord {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	out := make([]RunRecord, len(s.hist))
	for i := range s.hist {
		out[len(s.hist)-1-i] = s.hist[i]
	}
	return out
}

// Location is the zone the loop reports times in.
func (s *Service) Location() *time.Location { return s.loc }
