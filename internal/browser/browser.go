// Package browser is the boundary to the automation engine. The rest of
// the module works against the Browser and Page interfaces; the rod
// implementation in rod.go is the only file that talks CDP.
package browser

import (
	"context"
	"encoding/json"

	"github.com/vincentbai/browsetrace-session/internal/netcond"
)

// Launch options for a browser run.
type Options struct {
	Headless            bool
	Devtools            bool
	ViewportWidth       int
	ViewportHeight      int
	NavigationTimeoutMs int
}

// DefaultOptions returns the defaults used by record and replay runs.
func DefaultOptions() Options {
	return Options{
		Headless:            false,
		ViewportWidth:       1280,
		ViewportHeight:      800,
		NavigationTimeoutMs: 30000,
	}
}

// Browser owns one automation engine process for the duration of a run.
type Browser interface {
	// NewPage opens a tab. An empty url opens a blank tab.
	NewPage(ctx context.Context, url string) (Page, error)
	// OnPageCreated fires for tabs opened by the page itself (popups,
	// window.open, target=_blank), not for tabs created via NewPage.
	OnPageCreated(fn func(Page))
	Close() error
}

// Page is one tab. Blocking operations take a context; event
// subscriptions deliver on internal goroutines and must not block.
type Page interface {
	ID() string
	URL() string
	Title() string

	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	MoveMouse(x, y float64) error
	Click(x, y float64) error
	SetInput(ctx context.Context, id, name, value string) error
	PressKey(ctx context.Context, key string) error
	ScrollTo(ctx context.Context, x, y float64) error
	SetViewport(width, height int) error
	Eval(ctx context.Context, js string) (json.RawMessage, error)
	EvalOnNewDocument(js string) error

	// EmulateNetwork lazily attaches the per-tab debug session on first
	// use and applies the given conditions.
	EmulateNetwork(c netcond.Conditions) error

	OnConsole(fn func(kind, text string))
	OnLoad(fn func(url string))
	OnClose(fn func())

	Close() error
}
