package recorder

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vincentbai/browsetrace-session/internal/browser"
)

// Run attaches the session to a browser: it opens the initial tab,
// tracks tabs the pages open themselves, and starts capturing. Capture
// ends when the user closes the last tab (observed via Done) or the
// owner calls Stop.
func (s *Session) Run(ctx context.Context, b browser.Browser, startURL string) error {
	b.OnPageCreated(func(p browser.Page) { s.TrackPage(p) })

	p, err := b.NewPage(ctx, startURL)
	if err != nil {
		return err
	}
	s.TrackPage(p)
	return nil
}

// drainLoop polls the injected page buffer and feeds samples into the
// pipeline until the tab closes or the session stops.
func (s *Session) drainLoop(info *pageInfo) {
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			closed := info.closed
			stopped := s.stopped
			s.mu.Unlock()
			if closed || stopped {
				return
			}
			s.drainOnce(info)
		}
	}
}

func (s *Session) drainOnce(info *pageInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), drainInterval)
	defer cancel()

	raw, err := info.page.Eval(ctx, drainJS)
	if err != nil || len(raw) == 0 {
		return
	}
	var samples []map[string]any
	if err := json.Unmarshal(raw, &samples); err != nil {
		return
	}
	for _, sample := range samples {
		s.HandleDOMEvent(info.id, sample)
	}
}

const drainJS = `() => {
	const buf = Array.isArray(window.__btraceEvents) ? window.__btraceEvents : [];
	window.__btraceEvents = [];
	return buf;
}`

// trackerJS is injected into every document before any page script
// runs. Listeners serialize interaction samples into a buffer the host
// drains; history API wrappers surface in-page navigations that never
// fire a load signal.
const trackerJS = `(() => {
	if (window.__btraceHooked) return;
	window.__btraceHooked = true;
	window.__btraceEvents = [];
	const push = (e) => { try { window.__btraceEvents.push(e); } catch (_) {} };
	const now = () => Date.now();

	document.addEventListener('click', (ev) => {
		const t = ev.target || {};
		const rect = t.getBoundingClientRect ? t.getBoundingClientRect() : { x: 0, y: 0, width: 0, height: 0 };
		push({
			type: 'click', ts: now(),
			x: ev.clientX, y: ev.clientY,
			tag: t.tagName || '', id: t.id || '', class: t.className || '',
			text: (t.textContent || '').slice(0, 100).trim(),
			rect: { x: rect.x, y: rect.y, width: rect.width, height: rect.height }
		});
	}, true);

	document.addEventListener('input', (ev) => {
		const t = ev.target || {};
		push({
			type: 'input', ts: now(),
			id: t.id || '', name: t.name || '',
			value: t.value || '', fieldType: t.type || ''
		});
	}, true);

	document.addEventListener('keydown', (ev) => {
		push({
			type: 'keydown', ts: now(), key: ev.key,
			alt: ev.altKey, ctrl: ev.ctrlKey, meta: ev.metaKey, shift: ev.shiftKey
		});
	}, true);

	document.addEventListener('focusin', (ev) => {
		const t = ev.target || {};
		push({ type: 'focus', ts: now(), tag: t.tagName || '', id: t.id || '', name: t.name || '' });
	}, true);

	document.addEventListener('submit', (ev) => {
		const f = ev.target || {};
		const fields = {};
		try {
			new FormData(f).forEach((v, k) => { if (typeof v === 'string') fields[k] = v; });
		} catch (_) {}
		push({ type: 'submit', ts: now(), action: f.action || '', method: f.method || '', fields });
	}, true);

	window.addEventListener('scroll', () => {
		push({
			type: 'scroll', ts: now(),
			x: window.scrollX, y: window.scrollY,
			docWidth: document.documentElement.scrollWidth,
			docHeight: document.documentElement.scrollHeight,
			viewportWidth: window.innerWidth,
			viewportHeight: window.innerHeight
		});
	}, true);

	let lastMove = 0;
	window.addEventListener('mousemove', (ev) => {
		const t = now();
		if (t - lastMove < 50) return;
		lastMove = t;
		push({ type: 'mousemove', ts: t, x: ev.clientX, y: ev.clientY });
	}, true);

	window.addEventListener('resize', () => {
		push({ type: 'viewport_resize', ts: now(), width: window.innerWidth, height: window.innerHeight });
	});

	const spa = (kind) => push({ type: 'spa_navigation', ts: now(), url: location.href, kind });
	const origPush = history.pushState;
	history.pushState = function (...args) { const r = origPush.apply(this, args); spa('pushState'); return r; };
	const origReplace = history.replaceState;
	history.replaceState = function (...args) { const r = origReplace.apply(this, args); spa('replaceState'); return r; };
	window.addEventListener('popstate', () => spa('popstate'));
	window.addEventListener('hashchange', () => spa('hashchange'));
})()`
