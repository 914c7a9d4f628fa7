package models

import "fmt"

// Event type tags emitted by the capture pipeline. The set is open:
// replay treats tags it does not recognize as no-ops.
const (
	TypeNewTab              = "newtab"
	TypeCloseTab            = "closetab"
	TypeNavigation          = "navigation"
	TypeSPANavigation       = "spa_navigation"
	TypeClick               = "click"
	TypeInput               = "input"
	TypeKeydown             = "keydown"
	TypeScroll              = "scroll"
	TypeFocus               = "focus"
	TypeSubmit              = "submit"
	TypeViewportResize      = "viewport_resize"
	TypeNetworkInitial      = "network_conditions_initial"
	TypeNetworkChange       = "network_conditions_change"
	TypeMouseMove           = "mousemove"
	TypeTrackingInitialized = "tracking_initialized"
)

// Viewport is the page viewport size at capture time.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// InteractionEvent is one timestamped, typed record of an observed
// interaction or state change. Data holds the type-specific payload;
// typed views over it live in payload.go.
type InteractionEvent struct {
	Timestamp int64          `json:"timestamp"` // absolute ms since epoch
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	PageID    string         `json:"pageId,omitempty"`
	PageURL   string         `json:"pageUrl,omitempty"`
	Viewport  *Viewport      `json:"viewport,omitempty"`
}

// Metadata describes the environment a session was recorded in.
type Metadata struct {
	Browser    string `json:"browser"`
	Platform   string `json:"platform"`
	RecordedAt string `json:"recordedAt"`
	Duration   int64  `json:"duration,omitempty"` // ms
	Name       string `json:"name,omitempty"`
}

// Recording is the full ordered event log plus metadata for one capture
// session. Events form a single chronological sequence across all tabs;
// PageID partitions them by logical tab without breaking global order.
// Once persisted a Recording is read-only input to replay.
type Recording struct {
	StartTime int64              `json:"startTime"`
	EndTime   int64              `json:"endTime,omitempty"`
	Events    []InteractionEvent `json:"events"`
	Metadata  Metadata           `json:"metadata"`
}

// Finalize stamps the end time and computes the session duration.
func (r *Recording) Finalize(endTime int64) {
	r.EndTime = endTime
	r.Metadata.Duration = endTime - r.StartTime
}

// Validate checks the ordering invariant: timestamps must be
// non-decreasing across the whole sequence.
func (r *Recording) Validate() error {
	var last int64
	for i, e := range r.Events {
		if e.Type == "" {
			return fmt.Errorf("event %d: missing type", i)
		}
		if e.Timestamp < last {
			return fmt.Errorf("event %d (%s): timestamp %d before previous %d", i, e.Type, e.Timestamp, last)
		}
		last = e.Timestamp
	}
	return nil
}
