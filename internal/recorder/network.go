package recorder

import (
	"github.com/vincentbai/browsetrace-session/internal/models"
	"github.com/vincentbai/browsetrace-session/internal/netcond"
)

// NetworkConditions returns the session's current network state and its
// preset label. Implements the control server's view of the session.
func (s *Session) NetworkConditions() (netcond.Conditions, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.net, netcond.MatchPreset(s.net)
}

// SetNetworkConditions is the push path: an out-of-process controller
// requests a change, the session applies it to every tracked tab and
// records the transition.
func (s *Session) SetNetworkConditions(c netcond.Conditions) error {
	s.mu.Lock()
	pages := make([]*pageInfo, 0, len(s.pages))
	var anyID string
	for _, info := range s.pages {
		pages = append(pages, info)
		anyID = info.id
	}
	s.mu.Unlock()

	for _, info := range pages {
		if err := info.page.EmulateNetwork(c); err != nil {
			s.logf("recorder: failed to apply network conditions to %s: %v", info.id, err)
		}
	}
	s.ObserveNetwork(anyID, c)
	return nil
}

// ObserveNetwork folds one observation into the log: the first one is
// always recorded as the initial state, later ones only when they
// differ from the last recorded value beyond tolerance.
func (s *Session) ObserveNetwork(pageID string, c netcond.Conditions) {
	s.mu.Lock()
	if s.netSeen && netcond.Equal(s.net, c) {
		s.mu.Unlock()
		return
	}
	first := !s.netSeen
	s.netSeen = true
	s.net = c
	s.mu.Unlock()

	s.recordNetworkEvent(pageID, c, first)
}

// recordNetwork emits the current state, used for the mandatory initial
// sample when the first tab appears.
func (s *Session) recordNetwork(pageID string, first bool) {
	s.mu.Lock()
	if s.netSeen {
		s.mu.Unlock()
		return
	}
	s.netSeen = true
	c := s.net
	s.mu.Unlock()
	s.recordNetworkEvent(pageID, c, first)
}

func (s *Session) recordNetworkEvent(pageID string, c netcond.Conditions, first bool) {
	typ := models.TypeNetworkChange
	if first {
		typ = models.TypeNetworkInitial
	}
	s.append(typ, map[string]any{
		"offline":            c.Offline,
		"downloadThroughput": c.DownloadThroughput,
		"uploadThroughput":   c.UploadThroughput,
		"latency":            c.Latency,
		"preset":             netcond.MatchPreset(c),
	}, pageID, "")
}
