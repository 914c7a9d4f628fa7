package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"

	"github.com/vincentbai/browsetrace-session/internal/netcond"
)

// Launch starts a Chromium instance and connects to it. The returned
// Browser owns the process; Close tears it down.
func Launch(ctx context.Context, opts Options) (Browser, error) {
	l := launcher.New().Headless(opts.Headless).Devtools(opts.Devtools)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	rb := &rodBrowser{
		browser:  b,
		launcher: l,
		opts:     opts,
		pages:    make(map[proto.TargetTargetID]*rodPage),
		ctx:      ctx,
	}
	rb.watchTargets()
	return rb, nil
}

type rodBrowser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	opts     Options
	ctx      context.Context

	mu        sync.Mutex
	pages     map[proto.TargetTargetID]*rodPage
	onCreated func(Page)
	closed    bool
}

func (b *rodBrowser) NewPage(ctx context.Context, url string) (Page, error) {
	if url == "" {
		url = "about:blank"
	}
	page, err := b.browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	return b.wrap(page, true), nil
}

func (b *rodBrowser) OnPageCreated(fn func(Page)) {
	b.mu.Lock()
	b.onCreated = fn
	b.mu.Unlock()
}

func (b *rodBrowser) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	err := b.browser.Close()
	b.launcher.Kill()
	return err
}

func (b *rodBrowser) wrap(page *rod.Page, explicit bool) *rodPage {
	p := &rodPage{
		id:         uuid.NewString(),
		page:       page,
		ctx:        b.ctx,
		navTimeout: time.Duration(b.opts.NavigationTimeoutMs) * time.Millisecond,
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             b.opts.ViewportWidth,
		Height:            b.opts.ViewportHeight,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		log.Printf("warning: failed to set viewport: %v", err)
	}

	b.mu.Lock()
	b.pages[page.TargetID] = p
	cb := b.onCreated
	b.mu.Unlock()

	if !explicit && cb != nil {
		cb(p)
	}
	return p
}

// watchTargets routes browser-level target lifecycle to page wrappers:
// pages opened by the page itself get wrapped, destroyed targets fire
// the wrapper's close callback.
func (b *rodBrowser) watchTargets() {
	go b.browser.EachEvent(
		func(e *proto.TargetTargetCreated) {
			if e.TargetInfo.Type != proto.TargetTargetInfoTypePage {
				return
			}
			b.mu.Lock()
			_, known := b.pages[e.TargetInfo.TargetID]
			b.mu.Unlock()
			if known {
				return
			}
			page, err := b.browser.PageFromTarget(e.TargetInfo.TargetID)
			if err != nil {
				log.Printf("warning: failed to attach to new target: %v", err)
				return
			}
			b.wrap(page, false)
		},
		func(e *proto.TargetTargetDestroyed) {
			b.mu.Lock()
			p, ok := b.pages[e.TargetID]
			delete(b.pages, e.TargetID)
			b.mu.Unlock()
			if ok {
				p.fireClose()
			}
		},
	)()
}

type rodPage struct {
	id         string
	page       *rod.Page
	ctx        context.Context
	navTimeout time.Duration

	mu      sync.Mutex
	onClose func()
	closed  bool
}

func (p *rodPage) ID() string { return p.id }

func (p *rodPage) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (p *rodPage) Title() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.Title
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	ctx, cancel := p.boundNav(ctx)
	defer cancel()
	page := p.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("load did not settle for %s: %w", url, err)
	}
	return nil
}

func (p *rodPage) Reload(ctx context.Context) error {
	ctx, cancel := p.boundNav(ctx)
	defer cancel()
	page := p.page.Context(ctx)
	if err := page.Reload(); err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	return page.WaitLoad()
}

// boundNav caps how long a navigation may wait for the load event, so
// a page that never settles cannot stall the caller forever.
func (p *rodPage) boundNav(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.navTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.navTimeout)
}

func (p *rodPage) MoveMouse(x, y float64) error {
	return p.page.Mouse.MoveTo(proto.Point{X: x, Y: y})
}

func (p *rodPage) Click(x, y float64) error {
	if err := p.page.Mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
		return err
	}
	return p.page.Mouse.Click(proto.InputMouseButtonLeft, 1)
}

// SetInput resolves the field by id first, then by name, and sets its
// value directly. A missing element is not an error: layout drift
// between record and replay time is expected.
func (p *rodPage) SetInput(ctx context.Context, id, name, value string) error {
	_, err := p.Eval(ctx, fmt.Sprintf(`() => {
		const el = document.getElementById(%q) || document.getElementsByName(%q)[0];
		if (!el) return false;
		el.value = %q;
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return true;
	}`, id, name, value))
	return err
}

func (p *rodPage) PressKey(ctx context.Context, key string) error {
	k, ok := lookupKey(key)
	if !ok {
		// Unknown named keys are dropped rather than mistyped.
		return nil
	}
	return p.page.Context(ctx).Keyboard.Press(k)
}

func (p *rodPage) ScrollTo(ctx context.Context, x, y float64) error {
	_, err := p.Eval(ctx, fmt.Sprintf(`() => window.scrollTo(%v, %v)`, x, y))
	return err
}

func (p *rodPage) SetViewport(width, height int) error {
	return proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}.Call(p.page)
}

func (p *rodPage) Eval(ctx context.Context, js string) (json.RawMessage, error) {
	res, err := p.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, fmt.Errorf("eval failed: %w", err)
	}
	if res == nil {
		return nil, nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

func (p *rodPage) EvalOnNewDocument(js string) error {
	_, err := p.page.EvalOnNewDocument(js)
	return err
}

func (p *rodPage) EmulateNetwork(c netcond.Conditions) error {
	return proto.NetworkEmulateNetworkConditions{
		Offline:            c.Offline,
		Latency:            c.Latency,
		DownloadThroughput: c.DownloadThroughput,
		UploadThroughput:   c.UploadThroughput,
	}.Call(p.page)
}

func (p *rodPage) OnConsole(fn func(kind, text string)) {
	go p.page.EachEvent(func(e *proto.RuntimeConsoleAPICalled) {
		fn(string(e.Type), stringifyConsoleArgs(e.Args))
	})()
}

func (p *rodPage) OnLoad(fn func(url string)) {
	go p.page.EachEvent(func(e *proto.PageLoadEventFired) {
		fn(p.URL())
	})()
}

func (p *rodPage) OnClose(fn func()) {
	p.mu.Lock()
	p.onClose = fn
	p.mu.Unlock()
}

func (p *rodPage) fireClose() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	fn := p.onClose
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (p *rodPage) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	err := p.page.Close()
	p.fireClose()
	return err
}

func stringifyConsoleArgs(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		raw, err := a.Value.MarshalJSON()
		if err != nil || string(raw) == "null" {
			if a.Description != "" {
				parts = append(parts, a.Description)
			}
			continue
		}
		parts = append(parts, strings.Trim(string(raw), `"`))
	}
	return strings.Join(parts, " ")
}

// lookupKey maps recorded key names onto the automation engine's key
// table. Single characters map directly.
func lookupKey(key string) (input.Key, bool) {
	if len(key) == 1 {
		return input.Key(key[0]), true
	}
	named := map[string]input.Key{
		"Enter":      input.Enter,
		"Tab":        input.Tab,
		"Backspace":  input.Backspace,
		"Delete":     input.Delete,
		"Escape":     input.Escape,
		"ArrowUp":    input.ArrowUp,
		"ArrowDown":  input.ArrowDown,
		"ArrowLeft":  input.ArrowLeft,
		"ArrowRight": input.ArrowRight,
		"Home":       input.Home,
		"End":        input.End,
		"PageUp":     input.PageUp,
		"PageDown":   input.PageDown,
	}
	k, ok := named[key]
	return k, ok
}
