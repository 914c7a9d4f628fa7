// Package recorder converts live browser signals into an append-only,
// time-ordered interaction event log. One Session instance owns all
// capture state for one recording run; there are no package-level
// singletons.
package recorder

import (
	"log"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vincentbai/browsetrace-session/internal/browser"
	"github.com/vincentbai/browsetrace-session/internal/models"
	"github.com/vincentbai/browsetrace-session/internal/netcond"
)

const (
	// mouseMoveThrottle bounds mousemove volume.
	mouseMoveThrottle = 50 * time.Millisecond
	// scrollDebounce records settled scroll positions only.
	scrollDebounce = 100 * time.Millisecond
	// navMinInterval suppresses double-fires of the load signal for the
	// same URL caused by framework-level intra-page updates.
	navMinInterval = 500 * time.Millisecond
	// closeGrace lets just-emitted events flush before the session
	// signals completion after the last tab closes.
	closeGrace = 250 * time.Millisecond
	// drainInterval is how often injected page buffers are polled.
	drainInterval = 500 * time.Millisecond
)

// pageInfo tracks one logical tab while it is open.
type pageInfo struct {
	id     string
	url    string
	title  string
	index  int
	page   browser.Page
	closed bool

	lastMouseTS   float64
	pendingScroll map[string]any
	scrollTimer   *time.Timer
}

// Session is the capture controller for one recording run.
type Session struct {
	mu      sync.Mutex
	rec     *models.Recording
	stopped bool

	pages   map[string]*pageInfo // by logical pageId
	tracked map[string]string    // engine page id → pageId, idempotency guard
	tabs    int

	lastNavURL  map[string]string
	lastNavTime map[string]time.Time

	net     netcond.Conditions
	netSeen bool

	done     chan struct{}
	doneOnce sync.Once

	clock    func() time.Time
	grace    time.Duration
	debounce time.Duration
	logf     func(format string, args ...any)
}

// NewSession creates the controller and stamps recording metadata.
func NewSession(name string) *Session {
	now := time.Now()
	return &Session{
		rec: &models.Recording{
			StartTime: now.UnixMilli(),
			Events:    []models.InteractionEvent{},
			Metadata: models.Metadata{
				Browser:    "chromium",
				Platform:   runtime.GOOS,
				RecordedAt: now.UTC().Format(time.RFC3339),
				Name:       name,
			},
		},
		pages:       make(map[string]*pageInfo),
		tracked:     make(map[string]string),
		lastNavURL:  make(map[string]string),
		lastNavTime: make(map[string]time.Time),
		net:         netcond.NoThrottling,
		done:        make(chan struct{}),
		clock:       time.Now,
		grace:       closeGrace,
		debounce:    scrollDebounce,
		logf:        log.Printf,
	}
}

// Done is closed once the last open tab has closed and the flush grace
// period has passed. The owning command awaits it instead of the
// session terminating anything itself.
func (s *Session) Done() <-chan struct{} { return s.done }

// Stop finalizes and returns the recording. Safe to call once capture
// has ended for any reason.
func (s *Session) Stop() *models.Recording {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		s.rec.Finalize(s.clock().UnixMilli())
	}
	s.signalDone()
	return s.rec
}

// Snapshot returns a copy of the event log captured so far.
func (s *Session) Snapshot() models.Recording {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := *s.rec
	out.Events = append([]models.InteractionEvent(nil), s.rec.Events...)
	return out
}

// TrackPage registers a tab with the capture pipeline and emits its
// newtab event. Registration is idempotent: a tab already tracked is
// returned as-is, since tracking it twice would duplicate every
// subsequent event from it.
func (s *Session) TrackPage(p browser.Page) string {
	s.mu.Lock()
	if id, ok := s.tracked[p.ID()]; ok {
		s.mu.Unlock()
		return id
	}

	id := uuid.NewString()
	s.tracked[p.ID()] = id
	info := &pageInfo{id: id, url: p.URL(), index: s.tabs, page: p}
	s.tabs++
	s.pages[id] = info
	first := len(s.pages) == 1
	s.mu.Unlock()

	s.append(models.TypeNewTab, map[string]any{"url": info.url, "index": info.index}, id, info.url)

	if err := p.EvalOnNewDocument(trackerJS); err != nil {
		s.logf("recorder: failed to inject tracker into %s: %v", id, err)
	} else {
		s.append(models.TypeTrackingInitialized, nil, id, info.url)
	}

	p.OnLoad(func(url string) { s.HandleLoad(id, url) })
	p.OnClose(func() { s.HandleTabClose(id) })

	go s.drainLoop(info)

	if first {
		// The first observed network state is always recorded. Later
		// changes arrive through the control push path; the emulation
		// engine has no readback to poll.
		s.recordNetwork(id, true)
	}
	return id
}

// HandleLoad is the settled-navigation trigger. A load of the same URL
// inside the minimum interval is treated as a spurious double-fire; a
// later same-URL load is a refresh; a new URL is a navigation.
// Engine-internal error pages are never recorded.
func (s *Session) HandleLoad(pageID, url string) {
	if url == "" || strings.HasPrefix(url, "chrome-error://") || strings.HasPrefix(url, "chrome://") {
		return
	}

	s.mu.Lock()
	info, ok := s.pages[pageID]
	if !ok {
		s.mu.Unlock()
		return
	}
	now := s.clock()
	lastURL := s.lastNavURL[pageID]
	lastAt := s.lastNavTime[pageID]

	navType := "navigate"
	if lastURL == url {
		if now.Sub(lastAt) < navMinInterval {
			s.mu.Unlock()
			return
		}
		navType = "refresh"
	}
	s.lastNavURL[pageID] = url
	s.lastNavTime[pageID] = now
	info.url = url
	s.mu.Unlock()

	s.append(models.TypeNavigation, map[string]any{"url": url, "navType": navType}, pageID, url)
}

// HandleTabClose emits closetab and, when it was the last open tab,
// signals session end after the flush grace delay.
func (s *Session) HandleTabClose(pageID string) {
	s.mu.Lock()
	info, ok := s.pages[pageID]
	if !ok || info.closed {
		s.mu.Unlock()
		return
	}
	info.closed = true
	if info.scrollTimer != nil {
		info.scrollTimer.Stop()
	}
	delete(s.pages, pageID)
	remaining := len(s.pages)
	url := info.url
	grace := s.grace
	s.mu.Unlock()

	s.append(models.TypeCloseTab, nil, pageID, url)

	if remaining == 0 {
		time.AfterFunc(grace, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.signalDone()
		})
	}
}

// HandleDOMEvent ingests one raw sample drained from the injected page
// buffer. Samples carry their in-page timestamp in "ts"; the recorded
// event is re-stamped at append time so replay deltas stay meaningful.
func (s *Session) HandleDOMEvent(pageID string, raw map[string]any) {
	typ, _ := raw["type"].(string)
	if typ == "" {
		return
	}

	s.mu.Lock()
	info, ok := s.pages[pageID]
	if !ok {
		s.mu.Unlock()
		return
	}
	url := info.url

	switch typ {
	case models.TypeMouseMove:
		ts, _ := raw["ts"].(float64)
		if info.lastMouseTS != 0 && ts-info.lastMouseTS < float64(mouseMoveThrottle/time.Millisecond) {
			s.mu.Unlock()
			return
		}
		info.lastMouseTS = ts
		s.mu.Unlock()
		s.append(typ, payloadOf(raw), pageID, url)
		return

	case models.TypeScroll:
		// Debounced: only the settled position is recorded.
		info.pendingScroll = payloadOf(raw)
		if info.scrollTimer != nil {
			info.scrollTimer.Stop()
		}
		info.scrollTimer = time.AfterFunc(s.debounce, func() { s.flushScroll(pageID) })
		s.mu.Unlock()
		return

	case models.TypeSPANavigation:
		u, _ := raw["url"].(string)
		if u != "" {
			info.url = u
			s.lastNavURL[pageID] = u
			s.lastNavTime[pageID] = s.clock()
		}
		s.mu.Unlock()
		s.append(typ, payloadOf(raw), pageID, u)
		return
	}

	s.mu.Unlock()
	s.append(typ, payloadOf(raw), pageID, url)
}

func (s *Session) flushScroll(pageID string) {
	s.mu.Lock()
	info, ok := s.pages[pageID]
	if !ok || info.pendingScroll == nil {
		s.mu.Unlock()
		return
	}
	data := info.pendingScroll
	info.pendingScroll = nil
	url := info.url
	s.mu.Unlock()

	s.append(models.TypeScroll, data, pageID, url)
}

// payloadOf strips transport-only fields from a drained sample.
func payloadOf(raw map[string]any) map[string]any {
	data := make(map[string]any, len(raw))
	for k, v := range raw {
		if k == "type" || k == "ts" {
			continue
		}
		data[k] = v
	}
	return data
}

// append stamps the event at append time and adds it to the log.
func (s *Session) append(typ string, data map[string]any, pageID, pageURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.rec.Events = append(s.rec.Events, models.InteractionEvent{
		Timestamp: s.clock().UnixMilli(),
		Type:      typ,
		Data:      data,
		PageID:    pageID,
		PageURL:   pageURL,
	})
}

func (s *Session) signalDone() {
	s.doneOnce.Do(func() { close(s.done) })
}
