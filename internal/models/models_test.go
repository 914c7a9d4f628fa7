package models

import (
	"encoding/json"
	"testing"
)

func TestRecordingValidate(t *testing.T) {
	tests := []struct {
		name      string
		events    []InteractionEvent
		wantError bool
	}{
		{
			name: "ordered events",
			events: []InteractionEvent{
				{Timestamp: 100, Type: TypeNewTab},
				{Timestamp: 100, Type: TypeNavigation},
				{Timestamp: 600, Type: TypeClick},
			},
			wantError: false,
		},
		{
			name: "decreasing timestamp",
			events: []InteractionEvent{
				{Timestamp: 500, Type: TypeNewTab},
				{Timestamp: 100, Type: TypeClick},
			},
			wantError: true,
		},
		{
			name: "missing type",
			events: []InteractionEvent{
				{Timestamp: 100},
			},
			wantError: true,
		},
		{
			name:      "empty recording",
			events:    nil,
			wantError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Recording{StartTime: 100, Events: tt.events}
			err := rec.Validate()
			if tt.wantError && err == nil {
				t.Error("Expected error, got nil")
			}
			if !tt.wantError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestRecordingFinalize(t *testing.T) {
	rec := Recording{StartTime: 1000}
	rec.Finalize(3500)

	if rec.EndTime != 3500 {
		t.Errorf("EndTime mismatch: got %d, want 3500", rec.EndTime)
	}
	if rec.Metadata.Duration != 2500 {
		t.Errorf("Duration mismatch: got %d, want 2500", rec.Metadata.Duration)
	}
}

func TestClickPayloadView(t *testing.T) {
	ev := InteractionEvent{
		Timestamp: 500,
		Type:      TypeClick,
		Data: map[string]any{
			"x":    10.0,
			"y":    20.0,
			"tag":  "BUTTON",
			"id":   "submit-btn",
			"text": "Sign in",
			"rect": map[string]any{"x": 5.0, "y": 15.0, "width": 80.0, "height": 30.0},
		},
	}

	d, ok := ev.Click()
	if !ok {
		t.Fatal("Expected click payload to decode")
	}
	if d.X != 10 || d.Y != 20 {
		t.Errorf("Coordinates mismatch: got (%v,%v), want (10,20)", d.X, d.Y)
	}
	if d.ElementID != "submit-btn" {
		t.Errorf("ElementID mismatch: got %q", d.ElementID)
	}
	if d.Rect.Width != 80 {
		t.Errorf("Rect width mismatch: got %v, want 80", d.Rect.Width)
	}
}

func TestPayloadViewRejectsOtherTypes(t *testing.T) {
	ev := InteractionEvent{Type: TypeScroll, Data: map[string]any{"x": 1.0}}
	if _, ok := ev.Click(); ok {
		t.Error("Click view decoded a scroll event")
	}
	if _, ok := ev.Input(); ok {
		t.Error("Input view decoded a scroll event")
	}
}

func TestNavigationPayloadFromJSON(t *testing.T) {
	// Payload shapes survive a trip through the recording file format,
	// where numbers arrive as float64 and nested maps as map[string]any.
	raw := `{"timestamp":1700000000000,"type":"navigation","pageId":"p1","data":{"url":"https://example.com/a","navType":"navigate"}}`
	var ev InteractionEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("Failed to unmarshal event: %v", err)
	}

	d, ok := ev.Navigation()
	if !ok {
		t.Fatal("Expected navigation payload to decode")
	}
	if d.URL != "https://example.com/a" {
		t.Errorf("URL mismatch: got %q", d.URL)
	}
	if d.NavType != "navigate" {
		t.Errorf("NavType mismatch: got %q", d.NavType)
	}
}

func TestNetworkPayloadView(t *testing.T) {
	ev := InteractionEvent{
		Type: TypeNetworkChange,
		Data: map[string]any{
			"offline":            false,
			"downloadThroughput": 153600.0,
			"uploadThroughput":   76800.0,
			"latency":            560.0,
			"preset":             "Fast 3G",
		},
	}

	d, ok := ev.Network()
	if !ok {
		t.Fatal("Expected network payload to decode")
	}
	if d.DownloadThroughput != 153600 {
		t.Errorf("DownloadThroughput mismatch: got %v", d.DownloadThroughput)
	}
	if d.Preset != "Fast 3G" {
		t.Errorf("Preset mismatch: got %q", d.Preset)
	}
}

func TestUnknownEventTypeStaysOpaque(t *testing.T) {
	ev := InteractionEvent{Type: "future_thing", Data: map[string]any{"anything": true}}

	rec := Recording{Events: []InteractionEvent{ev}}
	if err := rec.Validate(); err != nil {
		t.Errorf("Unknown type should validate: %v", err)
	}
	if _, ok := ev.Click(); ok {
		t.Error("Unknown type decoded as click")
	}
}
