package handle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dop251/goja"

	"github.com/MJE43/minigame-hub/internal/page"
)

func newPage(t *testing.T) *page.Host {
	t.Helper()
	h, err := page.New(page.Config{Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(h.Close)
	return h
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func TestDiscoverPrefersGlobalBinding(t *testing.T) {
	p := newPage(t)
	ctx := testCtx(t)
	if _, err := p.Evaluate(ctx, `
		window.puzzleGame = { id: 'global', start: function () {} };
		window.gameInstances = { puzzle: { id: 'instance', start: function () {} } };
		true;
	`); err != nil {
		t.Fatal(err)
	}

	d := NewDiscoverer(nil, quiet(), PageProviders(p)...)
	res := d.Discover(ctx, "puzzle")
	if res.Kind != KindDiscovered || res.Source != "global" {
		t.Fatalf("resolution = %+v, want global discovery", res)
	}
	js := res.Handle.(*JSHandle)
	if got := js.Object().Get("id").String(); got != "global" {
		t.Errorf("discovered %q, want global binding", got)
	}
}

func TestDiscoverInstanceMap(t *testing.T) {
	p := newPage(t)
	ctx := testCtx(t)
	if _, err := p.Evaluate(ctx, `window.gameInstances = { trivia: { id: 'instance' } }; true`); err != nil {
		t.Fatal(err)
	}
	res := NewDiscoverer(nil, quiet(), PageProviders(p)...).Discover(ctx, "trivia")
	if res.Kind != KindDiscovered || res.Source != "instances" {
		t.Fatalf("resolution = %+v, want instance map discovery", res)
	}
}

func TestDiscoverFallbackIsFullyCallable(t *testing.T) {
	p := newPage(t)
	ctx := testCtx(t)

	var mu sync.Mutex
	var events []Action
	sink := SinkFunc(func(ctx context.Context, game string, a Action) {
		mu.Lock()
		events = append(events, a)
		mu.Unlock()
	})
	d := NewDiscoverer(func(game string) Runtime { return NewFallback(game, sink) }, quiet(), PageProviders(p)...)

	res := d.Discover(ctx, "puzzle")
	if res.Kind != KindFallback {
		t.Fatalf("kind = %s, want fallback", res.Kind)
	}
	for _, a := range Actions {
		if !res.Handle.Supports(ctx, a) {
			t.Errorf("fallback does not support %s", a)
		}
		if err := res.Handle.Invoke(ctx, a); err != nil {
			t.Errorf("fallback %s: %v", a, err)
		}
	}
	if len(events) != 2 || events[0] != ActionStart || events[1] != ActionEnd {
		t.Errorf("sink events = %v, want [start end]", events)
	}
	if !res.Same(d.Discover(ctx, "puzzle")) {
		t.Error("two fallback resolutions should be the same handle")
	}
}

func TestJSHandleInvoke(t *testing.T) {
	p := newPage(t)
	ctx := testCtx(t)
	if _, err := p.Evaluate(ctx, `
		window.calls = [];
		window.triviaGame = {
			start: function () {
				var self = this;
				return new Promise(function (resolve) { setTimeout(function () { calls.push('start'); resolve(); }, 10); });
			},
			pause: function () { calls.push('pause'); },
			end: function () { throw new Error('broken end'); },
			resume: 'not a function'
		};
		true;
	`); err != nil {
		t.Fatal(err)
	}
	res := NewDiscoverer(nil, quiet(), PageProviders(p)...).Discover(ctx, "trivia")
	h := res.Handle

	if err := h.Invoke(ctx, ActionStart); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.Invoke(ctx, ActionPause); err != nil {
		t.Fatalf("pause: %v", err)
	}
	calls, _ := p.Evaluate(ctx, `calls.join(',')`)
	if calls != "start,pause" {
		t.Errorf("calls = %v, want start awaited before pause", calls)
	}

	if h.Supports(ctx, ActionResume) {
		t.Error("non-function property reported as supported")
	}
	if err := h.Invoke(ctx, ActionResume); !errors.Is(err, ErrUnsupported) {
		t.Errorf("resume err = %v, want ErrUnsupported", err)
	}
	if err := h.Invoke(ctx, ActionEnd); err == nil {
		t.Error("expected error from throwing end")
	}
}

func TestSupportsOnClosedPage(t *testing.T) {
	p := newPage(t)
	ctx := testCtx(t)
	var obj *goja.Object
	if err := p.Do(ctx, func(rt *goja.Runtime) error {
		obj = rt.NewObject()
		return obj.Set("start", func() {})
	}); err != nil {
		t.Fatal(err)
	}
	h := NewJSHandle(p, obj)
	var logs bytes.Buffer
	h.logger = log.New(&logs, "", 0)

	if !h.Supports(ctx, ActionStart) {
		t.Fatal("start should be supported on a live page")
	}
	p.Close()
	if h.Supports(ctx, ActionStart) {
		t.Error("closed page reported start as supported")
	}
	if !strings.Contains(logs.String(), "supports start") {
		t.Errorf("page error not logged: %q", logs.String())
	}
}

func TestSameComparesPageObjects(t *testing.T) {
	p := newPage(t)
	ctx := testCtx(t)
	d := NewDiscoverer(nil, quiet(), PageProviders(p)...)

	if _, err := p.Evaluate(ctx, `window.puzzleGame = {}; true`); err != nil {
		t.Fatal(err)
	}
	first := d.Discover(ctx, "puzzle")
	again := d.Discover(ctx, "puzzle")
	if !first.Same(again) {
		t.Error("same page object should compare equal")
	}

	if _, err := p.Evaluate(ctx, `window.puzzleGame = {}; true`); err != nil {
		t.Fatal(err)
	}
	if first.Same(d.Discover(ctx, "puzzle")) {
		t.Error("replaced page object should differ")
	}
	if first.Same(Resolution{Kind: KindFallback}) {
		t.Error("discovered and fallback should differ")
	}
}

func TestPublish(t *testing.T) {
	p := newPage(t)
	ctx := testCtx(t)

	started := make(chan struct{}, 1)
	fb := NewFallback("puzzle", SinkFunc(func(ctx context.Context, game string, a Action) {
		if a == ActionStart {
			started <- struct{}{}
		}
	}))
	if err := Publish(ctx, p, Resolution{Kind: KindFallback, Handle: fb}, quiet()); err != nil {
		t.Fatal(err)
	}
	kind, _ := p.Evaluate(ctx, `currentGame.kind`)
	if kind != "fallback" {
		t.Errorf("currentGame.kind = %v", kind)
	}
	if _, err := p.Evaluate(ctx, `currentGame.start(); true`); err != nil {
		t.Fatal(err)
	}
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("proxy did not invoke fallback start")
	}

	if _, err := p.Evaluate(ctx, `window.puzzleGame = { tag: 'real' }; true`); err != nil {
		t.Fatal(err)
	}
	res := NewDiscoverer(nil, quiet(), PageProviders(p)...).Discover(ctx, "puzzle")
	if err := Publish(ctx, p, res, quiet()); err != nil {
		t.Fatal(err)
	}
	same, _ := p.Evaluate(ctx, `currentGame === puzzleGame`)
	if same != true {
		t.Errorf("published object = %v, want the discovered global", fmt.Sprint(same))
	}
}

func TestParseAction(t *testing.T) {
	if a, err := ParseAction("restart"); err != nil || a != ActionRestart {
		t.Errorf("ParseAction(restart) = %v, %v", a, err)
	}
	if _, err := ParseAction("jump"); err == nil {
		t.Error("expected error for unknown action")
	}
}
