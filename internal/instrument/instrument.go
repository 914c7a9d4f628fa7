// Package instrument loads externally authored hook code and normalizes
// it into the four-hook replay lifecycle: setup, onBeforeEvent,
// onAfterEvent, onComplete. Hook source is Lua, evaluated in its own
// interpreter state; a hook that fails never aborts the replay that
// invoked it.
package instrument

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	lua "github.com/Shopify/go-lua"

	"github.com/vincentbai/browsetrace-session/internal/models"
)

// PageHandle is the capability hooks receive: a live tab they can
// inspect and drive, without rights over the replay tab map.
type PageHandle interface {
	URL() string
	Navigate(ctx context.Context, url string) error
	Click(x, y float64) error
	Eval(ctx context.Context, js string) (json.RawMessage, error)
}

var hookNames = []string{"setup", "onBeforeEvent", "onAfterEvent", "onComplete"}

const hookCallTimeout = 10 * time.Second

// Hooks is the normalized lifecycle built from one hook source. It is
// constructed once per replay run and must only be used from the replay
// loop goroutine.
type Hooks struct {
	l       *lua.State
	has     map[string]bool
	binding *pageBinding
}

// pageBinding is the rebindable indirection between the capability
// table handed to Lua and the concrete tab. Provisional normalization
// runs with no page bound; Rebind swaps in the real one.
type pageBinding struct {
	mu   sync.Mutex
	page PageHandle
}

func (b *pageBinding) get() PageHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.page
}

func (b *pageBinding) set(p PageHandle) {
	b.mu.Lock()
	b.page = p
	b.mu.Unlock()
}

// Load sanitizes and evaluates src, then performs the provisional
// normalization against a placeholder page binding. A source that
// yields no recognized hook returns an error; callers treat that as a
// configuration problem and proceed hookless.
func Load(src string) (*Hooks, error) {
	s := Sanitize(src)
	if s == "" {
		return nil, errors.New("hook source is empty")
	}

	l := lua.NewState()
	lua.OpenLibraries(l)

	h := &Hooks{l: l, has: make(map[string]bool), binding: &pageBinding{}}
	if err := h.evaluate(s); err != nil {
		return nil, err
	}
	if err := h.normalize(); err != nil {
		return nil, err
	}
	return h, nil
}

// Rebind redoes the authoritative normalization against the real tab.
// Factory-shaped hook sources are re-invoked so code that captured the
// handle at definition time sees the live one.
func (h *Hooks) Rebind(p PageHandle) error {
	h.binding.set(p)
	return h.normalize()
}

// SetPage repoints the page capability at p without re-running a
// factory-shaped source. Every handle hooks already hold follows
// immediately; callers bind the tab resolved for each event before
// invoking its hooks.
func (h *Hooks) SetPage(p PageHandle) {
	h.binding.set(p)
}

// Has reports whether the source exposed the named hook.
func (h *Hooks) Has(name string) bool { return h.has[name] }

// Setup runs the setup hook. Called exactly once, after the first tab
// exists and before any per-event hooks.
func (h *Hooks) Setup() error {
	_, err := h.call("setup", func() int {
		h.pushContext(-1)
		return 1
	}, false)
	return err
}

// OnBeforeEvent runs the pre-dispatch hook for one event.
func (h *Hooks) OnBeforeEvent(ev models.InteractionEvent, index int) error {
	return h.callPerEvent("onBeforeEvent", ev, index)
}

// OnAfterEvent runs the post-dispatch hook for one event.
func (h *Hooks) OnAfterEvent(ev models.InteractionEvent, index int) error {
	return h.callPerEvent("onAfterEvent", ev, index)
}

// OnComplete runs the completion hook and returns its value converted
// to Go. Called exactly once however the event loop ended.
func (h *Hooks) OnComplete() (any, error) {
	return h.call("onComplete", func() int {
		h.pushContext(-1)
		return 1
	}, true)
}

func (h *Hooks) callPerEvent(name string, ev models.InteractionEvent, index int) error {
	_, err := h.call(name, func() int {
		h.pushEvent(ev)
		h.pushContext(index)
		return 2
	}, false)
	return err
}

func (h *Hooks) evaluate(s string) error {
	l := h.l
	// Bare expression first, chunk with its own return second.
	if err := lua.LoadString(l, "return ("+s+")"); err != nil {
		l.SetTop(0)
		if err2 := lua.LoadString(l, s); err2 != nil {
			return fmt.Errorf("hook source does not compile: %v", err2)
		}
	}
	if err := l.ProtectedCall(0, 1, 0); err != nil {
		l.SetTop(0)
		return fmt.Errorf("hook source failed to evaluate: %v", err)
	}
	l.SetGlobal("__btrace_entry")
	return nil
}

// normalize resolves the evaluated value into hook functions. A
// function value is called with the page capability handle and must
// return a table; a table value is used directly.
func (h *Hooks) normalize() error {
	l := h.l

	for _, name := range hookNames {
		l.PushNil()
		l.SetGlobal(hookGlobal(name))
		delete(h.has, name)
	}

	l.Global("__btrace_entry")
	switch l.TypeOf(-1) {
	case lua.TypeFunction:
		h.pushPageHandle()
		if err := l.ProtectedCall(1, 1, 0); err != nil {
			l.SetTop(0)
			return fmt.Errorf("hook factory failed: %v", err)
		}
	case lua.TypeTable:
		// used directly
	default:
		kind := lua.TypeNameOf(l, -1)
		l.Pop(1)
		return fmt.Errorf("hook source evaluated to %s, expected a function or a table", kind)
	}

	if l.TypeOf(-1) != lua.TypeTable {
		l.Pop(1)
		return errors.New("hook factory did not return a table")
	}

	found := 0
	for _, name := range hookNames {
		l.Field(-1, name)
		if l.TypeOf(-1) == lua.TypeFunction {
			l.SetGlobal(hookGlobal(name))
			h.has[name] = true
			found++
		} else {
			l.Pop(1)
		}
	}
	l.Pop(1)

	if found == 0 {
		return errors.New("no recognized hooks (setup, onBeforeEvent, onAfterEvent, onComplete)")
	}
	return nil
}

// call invokes one hook under protected call. Lua errors are returned,
// never propagated as panics, so a broken hook cannot take the replay
// loop down with it.
func (h *Hooks) call(name string, pushArgs func() int, wantResult bool) (any, error) {
	l := h.l
	if !h.has[name] {
		return nil, nil
	}
	l.Global(hookGlobal(name))
	if l.TypeOf(-1) != lua.TypeFunction {
		l.Pop(1)
		return nil, nil
	}
	n := pushArgs()
	if err := l.ProtectedCall(n, 1, 0); err != nil {
		l.SetTop(0)
		return nil, fmt.Errorf("%s hook failed: %v", name, err)
	}
	var out any
	if wantResult {
		out = toGoValue(l, -1)
	}
	l.Pop(1)
	return out, nil
}

func hookGlobal(name string) string { return "__btrace_hook_" + name }

// pushContext pushes the {page, eventIndex} table hooks receive as
// their trailing argument. A negative index omits the field.
func (h *Hooks) pushContext(eventIndex int) {
	l := h.l
	l.NewTable()
	h.pushPageHandle()
	l.SetField(-2, "page")
	if eventIndex >= 0 {
		l.PushInteger(eventIndex)
		l.SetField(-2, "eventIndex")
	}
}

func (h *Hooks) pushEvent(ev models.InteractionEvent) {
	l := h.l
	l.NewTable()
	l.PushString(ev.Type)
	l.SetField(-2, "type")
	l.PushNumber(float64(ev.Timestamp))
	l.SetField(-2, "timestamp")
	if ev.PageID != "" {
		l.PushString(ev.PageID)
		l.SetField(-2, "pageId")
	}
	if ev.PageURL != "" {
		l.PushString(ev.PageURL)
		l.SetField(-2, "pageUrl")
	}
	if ev.Data != nil {
		pushGoValue(l, map[string]any(ev.Data))
		l.SetField(-2, "data")
	}
}

// pushPageHandle pushes the capability table bound through the shared
// binding, so the same Lua-side handle follows a Rebind.
func (h *Hooks) pushPageHandle() {
	l := h.l
	b := h.binding

	l.NewTable()

	l.PushGoFunction(func(l *lua.State) int {
		p := b.get()
		if p == nil {
			l.PushString("")
			return 1
		}
		l.PushString(p.URL())
		return 1
	})
	l.SetField(-2, "url")

	l.PushGoFunction(func(l *lua.State) int {
		js := lua.CheckString(l, 1)
		p := b.get()
		if p == nil {
			l.PushNil()
			return 1
		}
		ctx, cancel := context.WithTimeout(context.Background(), hookCallTimeout)
		defer cancel()
		raw, err := p.Eval(ctx, js)
		if err != nil {
			lua.Errorf(l, "eval: %s", err.Error())
		}
		l.PushString(string(raw))
		return 1
	})
	l.SetField(-2, "eval")

	l.PushGoFunction(func(l *lua.State) int {
		url := lua.CheckString(l, 1)
		p := b.get()
		if p == nil {
			lua.Errorf(l, "page not available yet")
		}
		ctx, cancel := context.WithTimeout(context.Background(), hookCallTimeout)
		defer cancel()
		if err := p.Navigate(ctx, url); err != nil {
			lua.Errorf(l, "navigate: %s", err.Error())
		}
		return 0
	})
	l.SetField(-2, "navigate")

	l.PushGoFunction(func(l *lua.State) int {
		x := lua.CheckNumber(l, 1)
		y := lua.CheckNumber(l, 2)
		p := b.get()
		if p == nil {
			lua.Errorf(l, "page not available yet")
		}
		if err := p.Click(x, y); err != nil {
			lua.Errorf(l, "click: %s", err.Error())
		}
		return 0
	})
	l.SetField(-2, "click")
}
