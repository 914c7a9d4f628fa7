package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vincentbai/browsetrace-session/internal/browser"
	"github.com/vincentbai/browsetrace-session/internal/models"
	"github.com/vincentbai/browsetrace-session/internal/netcond"
)

// fakeBrowser records every automation call in order, which is exactly
// the fidelity contract replay has to honor.
type fakeBrowser struct {
	calls       []string
	pageCount   int
	failNav     error
	currentURLs map[string]string
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{currentURLs: make(map[string]string)}
}

func (b *fakeBrowser) log(format string, args ...any) {
	b.calls = append(b.calls, fmt.Sprintf(format, args...))
}

func (b *fakeBrowser) NewPage(_ context.Context, _ string) (browser.Page, error) {
	b.pageCount++
	id := fmt.Sprintf("fake-%d", b.pageCount)
	b.log("newpage")
	return &fakePage{b: b, id: id}, nil
}

func (b *fakeBrowser) OnPageCreated(func(browser.Page)) {}

func (b *fakeBrowser) Close() error {
	b.log("browser.close")
	return nil
}

type fakePage struct {
	b  *fakeBrowser
	id string
}

func (p *fakePage) ID() string    { return p.id }
func (p *fakePage) URL() string   { return p.b.currentURLs[p.id] }
func (p *fakePage) Title() string { return "" }

func (p *fakePage) Navigate(_ context.Context, url string) error {
	if p.b.failNav != nil {
		return p.b.failNav
	}
	p.b.currentURLs[p.id] = url
	p.b.log("navigate %s", url)
	return nil
}

func (p *fakePage) Reload(context.Context) error {
	p.b.log("reload")
	return nil
}

func (p *fakePage) MoveMouse(x, y float64) error {
	p.b.log("movemouse %v,%v", x, y)
	return nil
}

func (p *fakePage) Click(x, y float64) error {
	p.b.log("click %v,%v", x, y)
	return nil
}

func (p *fakePage) SetInput(_ context.Context, id, name, value string) error {
	p.b.log("input %s=%s", id+name, value)
	return nil
}

func (p *fakePage) PressKey(_ context.Context, key string) error {
	p.b.log("key %s", key)
	return nil
}

func (p *fakePage) ScrollTo(_ context.Context, x, y float64) error {
	p.b.log("scroll %v,%v", x, y)
	return nil
}

func (p *fakePage) SetViewport(w, h int) error {
	p.b.log("viewport %dx%d", w, h)
	return nil
}

func (p *fakePage) Eval(context.Context, string) (json.RawMessage, error) {
	return json.RawMessage(`null`), nil
}

func (p *fakePage) EvalOnNewDocument(string) error { return nil }

func (p *fakePage) EmulateNetwork(c netcond.Conditions) error {
	p.b.log("network offline=%v latency=%v", c.Offline, c.Latency)
	return nil
}

func (p *fakePage) OnConsole(func(kind, text string)) {}
func (p *fakePage) OnLoad(func(url string))           {}
func (p *fakePage) OnClose(func())                    {}

func (p *fakePage) Close() error {
	p.b.log("closepage")
	return nil
}

// newTestEngine wires an engine to the fake browser and captures sleeps
// instead of waiting them out.
func newTestEngine(t *testing.T, opts Options, fb *fakeBrowser) (*Engine, *[]time.Duration) {
	t.Helper()
	e := New(opts)
	e.launch = func(context.Context, browser.Options) (browser.Browser, error) { return fb, nil }
	e.logf = func(string, ...any) {}
	sleeps := &[]time.Duration{}
	e.sleep = func(_ context.Context, d time.Duration) {
		*sleeps = append(*sleeps, d)
	}
	return e, sleeps
}

func sessionEvents() []models.InteractionEvent {
	return []models.InteractionEvent{
		{Timestamp: 0, Type: models.TypeNewTab, PageID: "p1"},
		{Timestamp: 0, Type: models.TypeNavigation, PageID: "p1", Data: map[string]any{"url": "https://prod.example.com/login?x=1#y", "navType": "navigate"}},
		{Timestamp: 500, Type: models.TypeClick, PageID: "p1", Data: map[string]any{"x": 10.0, "y": 20.0}},
		{Timestamp: 1000, Type: models.TypeCloseTab, PageID: "p1"},
	}
}

func TestReplayOrderingAndPacing(t *testing.T) {
	fb := newFakeBrowser()
	e, sleeps := newTestEngine(t, Options{Speed: 1}, fb)

	rec := &models.Recording{Events: sessionEvents()}
	result, err := e.Run(context.Background(), rec)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []string{
		"newpage",
		"navigate https://prod.example.com/login?x=1#y",
		"movemouse 10,20",
		"click 10,20",
		"closepage",
		"browser.close",
	}
	if len(fb.calls) != len(want) {
		t.Fatalf("Call sequence mismatch:\ngot  %v\nwant %v", fb.calls, want)
	}
	for i := range want {
		if fb.calls[i] != want[i] {
			t.Errorf("Call %d mismatch: got %q, want %q", i, fb.calls[i], want[i])
		}
	}

	// Recorded deltas are 0, 500, 500; zero delays are skipped and the
	// last event has no trailing delay.
	wantSleeps := []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}
	if len(*sleeps) != len(wantSleeps) {
		t.Fatalf("Sleep count mismatch: got %v, want %v", *sleeps, wantSleeps)
	}
	for i := range wantSleeps {
		if (*sleeps)[i] != wantSleeps[i] {
			t.Errorf("Sleep %d mismatch: got %v, want %v", i, (*sleeps)[i], wantSleeps[i])
		}
	}

	if result.EventsReplayed != 4 {
		t.Errorf("EventsReplayed mismatch: got %d, want 4", result.EventsReplayed)
	}
}

func TestComputeDelay(t *testing.T) {
	tests := []struct {
		name      string
		cur, next int64
		speed     float64
		want      time.Duration
	}{
		{"speed 1", 0, 500, 1, 500 * time.Millisecond},
		{"speed 2 halves", 0, 500, 2, 250 * time.Millisecond},
		{"speed 0.5 doubles", 0, 500, 0.5, 1000 * time.Millisecond},
		{"clamped to max", 0, 60000, 1, 3000 * time.Millisecond},
		{"zero speed floored", 0, 100, 0, 1000 * time.Millisecond},
		{"negative delta", 500, 0, 1, 0},
		{"rounding", 0, 100, 3, 33 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := computeDelay(tt.cur, tt.next, tt.speed); got != tt.want {
				t.Errorf("computeDelay(%d,%d,%v) = %v, want %v", tt.cur, tt.next, tt.speed, got, tt.want)
			}
		})
	}
}

func TestRewriteURL(t *testing.T) {
	tests := []struct {
		name     string
		original string
		base     string
		want     string
	}{
		{
			name:     "override preserves path query fragment",
			original: "https://prod.example.com/login?x=1#y",
			base:     "http://localhost:3000",
			want:     "http://localhost:3000/login?x=1#y",
		},
		{
			name:     "no base returns original",
			original: "https://prod.example.com/a",
			base:     "",
			want:     "https://prod.example.com/a",
		},
		{
			name:     "root path",
			original: "https://prod.example.com/",
			base:     "https://staging.example.com",
			want:     "https://staging.example.com/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rewriteURL(tt.original, tt.base)
			if err != nil {
				t.Fatalf("rewriteURL failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("rewriteURL mismatch: got %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := rewriteURL("https://a.example.com/x", "not a url"); err == nil {
		t.Error("Expected invalid base to fail")
	}
}

func TestUnknownEventTypeIsNoOp(t *testing.T) {
	fb := newFakeBrowser()
	e, sleeps := newTestEngine(t, Options{Speed: 1}, fb)

	rec := &models.Recording{Events: []models.InteractionEvent{
		{Timestamp: 0, Type: models.TypeNewTab, PageID: "p1"},
		{Timestamp: 100, Type: "hologram_gesture", PageID: "p1"},
		{Timestamp: 300, Type: models.TypeCloseTab, PageID: "p1"},
	}}

	result, err := e.Run(context.Background(), rec)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.EventsReplayed != 3 {
		t.Errorf("Unknown type must still advance: got %d events", result.EventsReplayed)
	}
	// It paces but produces no automation call.
	for _, c := range fb.calls {
		if c == "hologram_gesture" {
			t.Error("Unknown type produced an automation call")
		}
	}
	if len(*sleeps) != 2 {
		t.Errorf("Unknown type must consume its pacing delay: got %v", *sleeps)
	}
}

func TestPerEventFailureDoesNotAbort(t *testing.T) {
	fb := newFakeBrowser()
	fb.failNav = errors.New("net::ERR_CONNECTION_REFUSED")
	e, _ := newTestEngine(t, Options{Speed: 1}, fb)

	rec := &models.Recording{Events: []models.InteractionEvent{
		{Timestamp: 0, Type: models.TypeNewTab, PageID: "p1"},
		{Timestamp: 100, Type: models.TypeNavigation, PageID: "p1", Data: map[string]any{"url": "https://down.example.com/", "navType": "navigate"}},
		{Timestamp: 200, Type: models.TypeClick, PageID: "p1", Data: map[string]any{"x": 1.0, "y": 2.0}},
	}}

	result, err := e.Run(context.Background(), rec)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.EventsReplayed != 3 {
		t.Errorf("Failed navigation must not stop the run: got %d events", result.EventsReplayed)
	}
	if len(result.EventErrors) != 1 {
		t.Errorf("Expected one recorded event error, got %v", result.EventErrors)
	}
	// The click after the failed navigation still dispatched.
	found := false
	for _, c := range fb.calls {
		if c == "click 1,2" {
			found = true
		}
	}
	if !found {
		t.Error("Click after failed navigation was not dispatched")
	}
}

func TestOfflineNavigationFailureIsExpected(t *testing.T) {
	fb := newFakeBrowser()
	fb.failNav = errors.New("net::ERR_INTERNET_DISCONNECTED")
	e, _ := newTestEngine(t, Options{Speed: 1}, fb)

	rec := &models.Recording{Events: []models.InteractionEvent{
		{Timestamp: 0, Type: models.TypeNewTab, PageID: "p1"},
		{Timestamp: 0, Type: models.TypeNetworkChange, PageID: "p1", Data: map[string]any{"offline": true}},
		{Timestamp: 100, Type: models.TypeNavigation, PageID: "p1", Data: map[string]any{"url": "https://x.example.com/", "navType": "navigate"}},
	}}

	result, err := e.Run(context.Background(), rec)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.EventErrors) != 0 {
		t.Errorf("Offline connectivity failure should not be recorded as an error: %v", result.EventErrors)
	}
}

func TestHookIsolation(t *testing.T) {
	fb := newFakeBrowser()
	src := `{
		onAfterEvent = function(event, ctx)
			if ctx.eventIndex == 2 then error("instrumentation bug") end
		end,
		onComplete = function(ctx) return "completed" end,
	}`
	e, _ := newTestEngine(t, Options{Speed: 1, HookSource: src}, fb)

	rec := &models.Recording{Events: []models.InteractionEvent{
		{Timestamp: 0, Type: models.TypeNewTab, PageID: "p1"},
		{Timestamp: 10, Type: models.TypeScroll, PageID: "p1", Data: map[string]any{"x": 0.0, "y": 10.0}},
		{Timestamp: 20, Type: models.TypeScroll, PageID: "p1", Data: map[string]any{"x": 0.0, "y": 20.0}},
		{Timestamp: 30, Type: models.TypeScroll, PageID: "p1", Data: map[string]any{"x": 0.0, "y": 30.0}},
		{Timestamp: 40, Type: models.TypeScroll, PageID: "p1", Data: map[string]any{"x": 0.0, "y": 40.0}},
	}}

	result, err := e.Run(context.Background(), rec)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.EventsReplayed != 5 {
		t.Errorf("Events after the failing hook must still dispatch: got %d", result.EventsReplayed)
	}
	if result.FinalResult != "completed" {
		t.Errorf("onComplete must still run after a hook error: got %v", result.FinalResult)
	}
	foundHookError := false
	for _, he := range result.HookErrors {
		if he.Hook == "onAfterEvent" && he.EventIndex == 2 {
			foundHookError = true
		}
	}
	if !foundHookError {
		t.Errorf("Expected recorded onAfterEvent error at index 2, got %v", result.HookErrors)
	}
}

func TestHooklessDegradation(t *testing.T) {
	fb := newFakeBrowser()
	e, _ := newTestEngine(t, Options{Speed: 1, HookSource: "42"}, fb)

	rec := &models.Recording{Events: sessionEvents()}
	result, err := e.Run(context.Background(), rec)
	if err != nil {
		t.Fatalf("Hookless source must not crash the run: %v", err)
	}
	if result.FinalResult != nil {
		t.Errorf("Expected empty final result, got %v", result.FinalResult)
	}
	if result.EventsReplayed != 4 {
		t.Errorf("Replay should complete hookless: got %d events", result.EventsReplayed)
	}
	if len(result.HookErrors) == 0 {
		t.Error("Expected a recorded configuration error")
	}
}

func TestURLOverrideAppliedToNavigation(t *testing.T) {
	fb := newFakeBrowser()
	e, _ := newTestEngine(t, Options{Speed: 1, BaseURL: "http://localhost:3000"}, fb)

	rec := &models.Recording{Events: sessionEvents()}
	if _, err := e.Run(context.Background(), rec); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	found := false
	for _, c := range fb.calls {
		if c == "navigate http://localhost:3000/login?x=1#y" {
			found = true
		}
	}
	if !found {
		t.Errorf("Override navigation target missing from calls: %v", fb.calls)
	}
}

func TestStopExitsBetweenEvents(t *testing.T) {
	fb := newFakeBrowser()
	src := `{ onComplete = function(ctx) return "stopped run result" end }`
	e, _ := newTestEngine(t, Options{Speed: 1, HookSource: src}, fb)

	events := sessionEvents()
	e.sleep = func(context.Context, time.Duration) {
		// Stop lands mid-run; the next loop iteration observes it.
		e.Stop()
	}

	result, err := e.Run(context.Background(), &models.Recording{Events: events})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.EventsReplayed >= len(events) {
		t.Errorf("Stop should cut the run short: got %d of %d", result.EventsReplayed, len(events))
	}
	if result.FinalResult != "stopped run result" {
		t.Errorf("onComplete must run on early stop: got %v", result.FinalResult)
	}
	// Cleanup still happened.
	if fb.calls[len(fb.calls)-1] != "browser.close" {
		t.Errorf("Browser must be closed after stop: %v", fb.calls)
	}
}

func TestCloseTabToleratesUnknownTab(t *testing.T) {
	fb := newFakeBrowser()
	e, _ := newTestEngine(t, Options{Speed: 1}, fb)

	rec := &models.Recording{Events: []models.InteractionEvent{
		{Timestamp: 0, Type: models.TypeNewTab, PageID: "p1"},
		{Timestamp: 10, Type: models.TypeCloseTab, PageID: "ghost"},
		{Timestamp: 20, Type: models.TypeCloseTab, PageID: "p1"},
		{Timestamp: 30, Type: models.TypeCloseTab, PageID: "p1"},
	}}

	result, err := e.Run(context.Background(), rec)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.EventErrors) != 0 {
		t.Errorf("Closing unknown or already-closed tabs must be silent: %v", result.EventErrors)
	}
}

func TestHooksFollowActiveTab(t *testing.T) {
	fb := newFakeBrowser()
	src := `function(page)
		local seen = {}
		return {
			onAfterEvent = function(event, ctx)
				seen[#seen + 1] = ctx.page.url()
			end,
			onComplete = function(ctx)
				return { last = ctx.page.url(), seen = seen }
			end,
		}
	end`
	e, _ := newTestEngine(t, Options{Speed: 1, HookSource: src}, fb)

	rec := &models.Recording{Events: []models.InteractionEvent{
		{Timestamp: 0, Type: models.TypeNewTab, PageID: "p1"},
		{Timestamp: 10, Type: models.TypeNavigation, PageID: "p1", Data: map[string]any{"url": "https://a.example.com/", "navType": "navigate"}},
		{Timestamp: 20, Type: models.TypeNewTab, PageID: "p2"},
		{Timestamp: 30, Type: models.TypeNavigation, PageID: "p2", Data: map[string]any{"url": "https://b.example.com/", "navType": "navigate"}},
		{Timestamp: 40, Type: models.TypeCloseTab, PageID: "p1"},
	}}

	result, err := e.Run(context.Background(), rec)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.HookErrors) != 0 {
		t.Fatalf("Unexpected hook errors: %v", result.HookErrors)
	}

	final, ok := result.FinalResult.(map[string]any)
	if !ok {
		t.Fatalf("FinalResult type mismatch: got %T (%v)", result.FinalResult, result.FinalResult)
	}
	// Tab p1 closed last; onComplete must see the surviving tab p2, not
	// the closed one.
	if got := final["last"]; got != "https://b.example.com/" {
		t.Errorf("onComplete page mismatch: got %v, want the open tab's url", got)
	}

	seen, ok := final["seen"].([]any)
	if !ok || len(seen) != 5 {
		t.Fatalf("Per-event url trace mismatch: got %v", final["seen"])
	}
	// The second tab's navigation must be observed on the second tab.
	if seen[3] != "https://b.example.com/" {
		t.Errorf("onAfterEvent saw the wrong tab for event 3: got %v", seen[3])
	}
	// The first tab's navigation stays on the first tab even after a
	// second one exists.
	if seen[1] != "https://a.example.com/" {
		t.Errorf("onAfterEvent saw the wrong tab for event 1: got %v", seen[1])
	}
}
