package browser

import (
	"context"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/input"
)

func TestBoundNavAppliesTimeout(t *testing.T) {
	p := &rodPage{navTimeout: 30 * time.Second}

	ctx, cancel := p.boundNav(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("Expected a navigation deadline")
	}
	remaining := time.Until(deadline)
	if remaining <= 0 || remaining > 30*time.Second {
		t.Errorf("Deadline out of range: %v remaining", remaining)
	}
}

func TestBoundNavZeroMeansUnbounded(t *testing.T) {
	p := &rodPage{}

	ctx, cancel := p.boundNav(context.Background())
	defer cancel()

	if _, ok := ctx.Deadline(); ok {
		t.Error("Zero timeout must not impose a deadline")
	}
}

func TestBoundNavKeepsTighterCallerDeadline(t *testing.T) {
	p := &rodPage{navTimeout: 30 * time.Second}

	parent, parentCancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer parentCancel()

	ctx, cancel := p.boundNav(parent)
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("Expected a navigation deadline")
	}
	if time.Until(deadline) > time.Second {
		t.Errorf("Caller's tighter deadline must win: %v remaining", time.Until(deadline))
	}
}

func TestDefaultOptionsBoundNavigation(t *testing.T) {
	if DefaultOptions().NavigationTimeoutMs <= 0 {
		t.Error("Default navigation timeout must be positive")
	}
}

func TestLookupKey(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		want  input.Key
		known bool
	}{
		{"single letter", "a", input.Key('a'), true},
		{"digit", "7", input.Key('7'), true},
		{"space", " ", input.Key(' '), true},
		{"named enter", "Enter", input.Enter, true},
		{"named arrow", "ArrowDown", input.ArrowDown, true},
		{"unknown named", "MediaPlayPause", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := lookupKey(tt.key)
			if ok != tt.known {
				t.Fatalf("lookupKey(%q) known=%v, want %v", tt.key, ok, tt.known)
			}
			if ok && got != tt.want {
				t.Errorf("lookupKey(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}
