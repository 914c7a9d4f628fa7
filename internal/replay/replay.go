// Package replay drives event-by-event reconstruction of a recorded
// session against a fresh browser. The engine is a sequential state
// machine: exactly one event is in flight at a time, events execute in
// recorded order, and a failure in any single event or hook is logged
// and skipped, never fatal to the run.
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vincentbai/browsetrace-session/internal/browser"
	"github.com/vincentbai/browsetrace-session/internal/instrument"
	"github.com/vincentbai/browsetrace-session/internal/models"
	"github.com/vincentbai/browsetrace-session/internal/netcond"
)

// Engine states. Replaying is entered once per event index in order.
type state int

const (
	stateIdle state = iota
	stateLaunching
	stateReplaying
	stateCompleting
	stateClosed
)

// maxEventDelay caps the wait between events so pathologically long
// recorded gaps cannot stall an automated replay.
const maxEventDelay = 3000 * time.Millisecond

// minSpeed is the floor applied to the speed multiplier.
const minSpeed = 0.1

// Options configures one replay run.
type Options struct {
	// Speed is the playback multiplier. Values below 0.1 are clamped.
	Speed float64
	// BaseURL, when set, replaces scheme+host+port of every recorded
	// navigation target while preserving path, query and fragment.
	BaseURL string
	// HookSource is instrumentation code; empty means no hooks.
	HookSource string

	Headless bool
	Devtools bool
}

// ConsoleLog is one console message observed during replay.
type ConsoleLog struct {
	PageID string `json:"pageId"`
	Kind   string `json:"kind"`
	Text   string `json:"text"`
}

// HookError records a hook invocation that failed; replay continued.
type HookError struct {
	Hook       string `json:"hook"`
	EventIndex int    `json:"eventIndex"`
	Message    string `json:"message"`
}

// Context aggregates everything one replay run produced. It is built
// incrementally and returned whole at completion.
type Context struct {
	ConsoleLogs    []ConsoleLog         `json:"consoleLogs,omitempty"`
	HookErrors     []HookError          `json:"hookErrors,omitempty"`
	Network        []netcond.Conditions `json:"network,omitempty"`
	EventErrors    []string             `json:"eventErrors,omitempty"`
	FinalResult    any                  `json:"finalResult,omitempty"`
	EventsReplayed int                  `json:"eventsReplayed"`
	StartedAt      time.Time            `json:"startedAt"`
	Duration       time.Duration        `json:"duration"`
}

// Engine owns the browser for the duration of one run. The tab map is
// mutated only by the dispatch step; hooks receive a page handle, not
// mutation rights over the map.
type Engine struct {
	opts  Options
	state state

	// launch is swappable so tests can run against a fake browser.
	launch func(ctx context.Context, o browser.Options) (browser.Browser, error)
	// sleep is swappable so pacing is observable without waiting.
	sleep func(ctx context.Context, d time.Duration)
	logf  func(format string, args ...any)

	browser  browser.Browser
	pages    map[string]browser.Page
	order    []string
	current  browser.Page
	hooks    *instrument.Hooks
	setupRan bool
	offline  bool

	stopped atomic.Bool

	// consoleMu guards ConsoleLogs, which console listeners append to
	// from browser goroutines while the loop runs.
	consoleMu sync.Mutex
	result    *Context
}

// New creates an engine for one run.
func New(opts Options) *Engine {
	return &Engine{
		opts:   opts,
		state:  stateIdle,
		launch: browser.Launch,
		sleep:  sleepCtx,
		logf:   log.Printf,
		pages:  make(map[string]browser.Page),
	}
}

// Stop requests early termination. It is observed between events: the
// in-flight event finishes, already-dispatched events are not rolled
// back, and onComplete still runs.
func (e *Engine) Stop() {
	e.stopped.Store(true)
}

// Run replays rec and returns the aggregated result. The only fatal
// errors are a browser that fails to launch and an invalid recording;
// everything else is logged into the result and skipped.
func (e *Engine) Run(ctx context.Context, rec *models.Recording) (*Context, error) {
	if rec == nil {
		return nil, errors.New("no recording")
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid recording: %w", err)
	}

	e.result = &Context{StartedAt: time.Now()}

	e.state = stateLaunching
	b, err := e.launch(ctx, browser.Options{
		Headless:            e.opts.Headless,
		Devtools:            e.opts.Devtools,
		ViewportWidth:       1280,
		ViewportHeight:      800,
		NavigationTimeoutMs: 30000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	e.browser = b

	// Cleanup is unconditional: pages and browser go down however the
	// loop exits, including an early stop.
	defer func() {
		e.state = stateClosed
		for id, p := range e.pages {
			if err := p.Close(); err != nil {
				e.logf("replay: closing tab %s: %v", id, err)
			}
		}
		if err := e.browser.Close(); err != nil {
			e.logf("replay: closing browser: %v", err)
		}
		e.result.Duration = time.Since(e.result.StartedAt)
	}()

	e.loadHooks()
	e.runLoop(ctx, rec.Events)

	e.state = stateCompleting
	e.complete()
	return e.result, nil
}

func (e *Engine) loadHooks() {
	if e.opts.HookSource == "" {
		return
	}
	h, err := instrument.Load(e.opts.HookSource)
	if err != nil {
		// Configuration error: degrade to a hookless replay.
		e.logf("replay: instrumentation disabled: %v", err)
		e.result.HookErrors = append(e.result.HookErrors, HookError{Hook: "load", EventIndex: -1, Message: err.Error()})
		return
	}
	e.hooks = h
}

func (e *Engine) runLoop(ctx context.Context, events []models.InteractionEvent) {
	e.state = stateReplaying
	for i, ev := range events {
		if e.stopped.Load() || ctx.Err() != nil {
			e.logf("replay: stopped at event %d/%d", i, len(events))
			return
		}

		e.step(ctx, i, ev)
		e.result.EventsReplayed++

		if i < len(events)-1 {
			d := computeDelay(ev.Timestamp, events[i+1].Timestamp, e.opts.Speed)
			if d > 0 {
				e.sleep(ctx, d)
			}
		}
	}
}

// step runs one event through the per-event algorithm: resolve tab,
// onBeforeEvent, dispatch, deferred setup on first tab, onAfterEvent.
// Panics from the automation layer are contained to the event.
func (e *Engine) step(ctx context.Context, i int, ev models.InteractionEvent) {
	defer func() {
		if r := recover(); r != nil {
			e.eventError(i, ev.Type, fmt.Errorf("panic: %v", r))
		}
	}()

	e.logf("replay: event %d %s", i, ev.Type)

	page := e.resolvePage(ev.PageID)
	if page != nil {
		e.bindHookPage(page)
		e.invokeHook("onBeforeEvent", i, func() error { return e.hooks.OnBeforeEvent(ev, i) })
	}

	firstTab, err := e.dispatch(ctx, ev)
	if err != nil {
		e.eventError(i, ev.Type, err)
	}

	if firstTab {
		e.firstTabReady()
	}

	if page == nil {
		page = e.resolvePage(ev.PageID)
	}
	if page != nil {
		e.bindHookPage(page)
		e.invokeHook("onAfterEvent", i, func() error { return e.hooks.OnAfterEvent(ev, i) })
	}
}

// bindHookPage points the hook-visible page handle at the tab resolved
// for the current event, so hooks never operate on a stale tab after
// the active one changes or closes.
func (e *Engine) bindHookPage(p browser.Page) {
	if e.hooks == nil {
		return
	}
	e.hooks.SetPage(p)
}

// firstTabReady performs the deferred authoritative hook normalization
// against the real tab, then runs setup exactly once.
func (e *Engine) firstTabReady() {
	if e.hooks == nil || e.setupRan {
		return
	}
	e.setupRan = true
	if err := e.hooks.Rebind(e.current); err != nil {
		e.logf("replay: instrumentation disabled after rebind: %v", err)
		e.result.HookErrors = append(e.result.HookErrors, HookError{Hook: "rebind", EventIndex: -1, Message: err.Error()})
		e.hooks = nil
		return
	}
	e.invokeHook("setup", -1, func() error { return e.hooks.Setup() })
}

func (e *Engine) invokeHook(name string, index int, fn func() error) {
	if e.hooks == nil {
		return
	}
	if err := fn(); err != nil {
		e.logf("replay: %s hook at event %d: %v", name, index, err)
		e.result.HookErrors = append(e.result.HookErrors, HookError{Hook: name, EventIndex: index, Message: err.Error()})
	}
}

func (e *Engine) complete() {
	if e.hooks != nil {
		// onComplete runs against the most recently active open tab.
		if p := e.resolvePage(""); p != nil {
			e.hooks.SetPage(p)
		}
		result, err := e.hooks.OnComplete()
		if err != nil {
			e.logf("replay: onComplete hook: %v", err)
			e.result.HookErrors = append(e.result.HookErrors, HookError{Hook: "onComplete", EventIndex: -1, Message: err.Error()})
		} else {
			e.result.FinalResult = result
		}
	}
}

func (e *Engine) eventError(i int, typ string, err error) {
	msg := fmt.Sprintf("event %d (%s): %v", i, typ, err)
	if e.offline && isConnectivityError(err) {
		// Expected while offline emulation is active.
		e.logf("replay: %s (offline, expected)", msg)
		return
	}
	e.logf("replay: %s", msg)
	e.result.EventErrors = append(e.result.EventErrors, msg)
}

// resolvePage maps an event onto a tab: by pageId when tracked, else
// the first currently tracked tab, else the current one.
func (e *Engine) resolvePage(pageID string) browser.Page {
	if pageID != "" {
		if p, ok := e.pages[pageID]; ok {
			return p
		}
	}
	for _, id := range e.order {
		if p, ok := e.pages[id]; ok {
			return p
		}
	}
	return e.current
}

// dispatch performs the state transition for one event. The bool
// return reports that this event produced the run's first tab.
func (e *Engine) dispatch(ctx context.Context, ev models.InteractionEvent) (bool, error) {
	switch ev.Type {
	case models.TypeNewTab:
		return e.dispatchNewTab(ctx, ev)

	case models.TypeCloseTab:
		id := ev.PageID
		p, ok := e.pages[id]
		if !ok {
			return false, nil // already closed, tolerated
		}
		delete(e.pages, id)
		if p == e.current {
			e.current = nil
			e.current = e.resolvePage("")
		}
		if err := p.Close(); err != nil {
			return false, fmt.Errorf("failed to close tab: %w", err)
		}
		return false, nil

	case models.TypeNavigation, models.TypeSPANavigation:
		return false, e.dispatchNavigation(ctx, ev)

	case models.TypeClick:
		d, ok := ev.Click()
		if !ok {
			return false, errors.New("malformed click payload")
		}
		p := e.resolvePage(ev.PageID)
		if p == nil {
			return false, errors.New("no tab for click")
		}
		// Coordinates replay literally; layout drift can miss. Accepted.
		if err := p.MoveMouse(d.X, d.Y); err != nil {
			return false, err
		}
		return false, p.Click(d.X, d.Y)

	case models.TypeInput:
		d, ok := ev.Input()
		if !ok {
			return false, errors.New("malformed input payload")
		}
		p := e.resolvePage(ev.PageID)
		if p == nil {
			return false, errors.New("no tab for input")
		}
		return false, p.SetInput(ctx, d.ElementID, d.Name, d.Value)

	case models.TypeKeydown:
		d, ok := ev.Key()
		if !ok {
			return false, errors.New("malformed keydown payload")
		}
		p := e.resolvePage(ev.PageID)
		if p == nil {
			return false, errors.New("no tab for keydown")
		}
		return false, p.PressKey(ctx, d.Key)

	case models.TypeScroll:
		d, ok := ev.Scroll()
		if !ok {
			return false, errors.New("malformed scroll payload")
		}
		p := e.resolvePage(ev.PageID)
		if p == nil {
			return false, errors.New("no tab for scroll")
		}
		return false, p.ScrollTo(ctx, d.X, d.Y)

	case models.TypeMouseMove:
		d, ok := ev.MouseMove()
		if !ok {
			return false, errors.New("malformed mousemove payload")
		}
		p := e.resolvePage(ev.PageID)
		if p == nil {
			return false, errors.New("no tab for mousemove")
		}
		return false, p.MoveMouse(d.X, d.Y)

	case models.TypeViewportResize:
		d, ok := ev.Resize()
		if !ok {
			return false, errors.New("malformed viewport_resize payload")
		}
		p := e.resolvePage(ev.PageID)
		if p == nil {
			return false, errors.New("no tab for viewport_resize")
		}
		return false, p.SetViewport(d.Width, d.Height)

	case models.TypeNetworkInitial, models.TypeNetworkChange:
		d, ok := ev.Network()
		if !ok {
			return false, errors.New("malformed network conditions payload")
		}
		p := e.resolvePage(ev.PageID)
		if p == nil {
			return false, errors.New("no tab for network conditions")
		}
		c := netcond.Conditions{
			Offline:            d.Offline,
			DownloadThroughput: d.DownloadThroughput,
			UploadThroughput:   d.UploadThroughput,
			Latency:            d.Latency,
		}
		if err := p.EmulateNetwork(c); err != nil {
			return false, err
		}
		e.offline = c.Offline
		e.result.Network = append(e.result.Network, c)
		return false, nil

	default:
		// Unknown and capture-only types are no-ops that still pace.
		return false, nil
	}
}

func (e *Engine) dispatchNewTab(ctx context.Context, ev models.InteractionEvent) (bool, error) {
	p, err := e.browser.NewPage(ctx, "")
	if err != nil {
		return false, fmt.Errorf("failed to create tab: %w", err)
	}

	id := ev.PageID
	if id == "" {
		id = p.ID()
	}
	e.pages[id] = p
	e.order = append(e.order, id)

	pageID := id
	p.OnConsole(func(kind, text string) {
		e.consoleMu.Lock()
		e.result.ConsoleLogs = append(e.result.ConsoleLogs, ConsoleLog{PageID: pageID, Kind: kind, Text: text})
		e.consoleMu.Unlock()
	})

	if e.current == nil {
		e.current = p
		return true, nil
	}
	return false, nil
}

func (e *Engine) dispatchNavigation(ctx context.Context, ev models.InteractionEvent) error {
	d, ok := ev.Navigation()
	if !ok || d.URL == "" {
		return errors.New("malformed navigation payload")
	}
	p := e.resolvePage(ev.PageID)
	if p == nil {
		return errors.New("no tab for navigation")
	}

	target, err := rewriteURL(d.URL, e.opts.BaseURL)
	if err != nil {
		return err
	}

	if d.NavType == "refresh" && p.URL() == target {
		return p.Reload(ctx)
	}
	return p.Navigate(ctx, target)
}

// rewriteURL applies the base override: scheme, host and port come from
// base, path/query/fragment stay from the original.
func rewriteURL(original, base string) (string, error) {
	if base == "" {
		return original, nil
	}
	o, err := url.Parse(original)
	if err != nil {
		return "", fmt.Errorf("bad recorded url %q: %w", original, err)
	}
	b, err := url.Parse(base)
	if err != nil || b.Scheme == "" || b.Host == "" {
		return "", fmt.Errorf("bad base url %q", base)
	}
	o.Scheme = b.Scheme
	o.Host = b.Host
	return o.String(), nil
}

// computeDelay is the pacing law: (next-cur)/max(0.1, speed), clamped
// to [0, 3000]ms. The caller skips the delay after the final event.
func computeDelay(cur, next int64, speed float64) time.Duration {
	if speed < minSpeed {
		speed = minSpeed
	}
	ms := float64(next-cur) / speed
	if ms <= 0 {
		return 0
	}
	d := time.Duration(math.Round(ms)) * time.Millisecond
	if d > maxEventDelay {
		return maxEventDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// isConnectivityError classifies navigation failures that are expected
// while offline emulation is active: name resolution, aborted loads,
// the engine's internet-disconnected error page.
func isConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"err_name_not_resolved",
		"err_internet_disconnected",
		"err_aborted",
		"err_connection_refused",
		"net::",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Summary renders a short human-readable completion report.
func (c *Context) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "replayed %d events in %s", c.EventsReplayed, c.Duration.Round(time.Millisecond))
	if len(c.EventErrors) > 0 {
		fmt.Fprintf(&sb, ", %d event errors", len(c.EventErrors))
	}
	if len(c.HookErrors) > 0 {
		fmt.Fprintf(&sb, ", %d hook errors", len(c.HookErrors))
	}
	if c.FinalResult != nil {
		if raw, err := json.Marshal(c.FinalResult); err == nil {
			fmt.Fprintf(&sb, "\ninstrumentation result: %s", raw)
		}
	}
	return sb.String()
}
