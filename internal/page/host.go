// Package page hosts the sandboxed JavaScript page that game bundles run in.
//
// A Host owns one goja runtime and a single event-loop goroutine. Every
// interaction with the runtime, from Go or from timers and network
// completions, is posted to that loop, so bundle code observes the same
// single-threaded model it would in a browser tab.
package page

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
)

//go:embed dom.js
var domShim string

// ErrClosed is returned by operations on a closed host.
var ErrClosed = errors.New("page: host closed")

const (
	defaultScriptTimeout = 2 * time.Second
	defaultFetchTimeout  = 10 * time.Second
	maxResourceBytes     = 8 << 20
	maxConsoleEntries    = 500
)

// Config holds host options.
type Config struct {
	// BaseURL resolves relative script, stylesheet and fetch URLs.
	BaseURL string
	// HTTPClient fetches resources. Defaults to a client with FetchTimeout.
	HTTPClient *http.Client
	// ScriptTimeout bounds a single job on the event loop.
	ScriptTimeout time.Duration
	// FetchTimeout bounds a single resource fetch.
	FetchTimeout time.Duration
	Logger       *log.Logger
}

func (c *Config) defaults() {
	if c.ScriptTimeout <= 0 {
		c.ScriptTimeout = defaultScriptTimeout
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.FetchTimeout}
	}
	if c.Logger == nil {
		c.Logger = log.New(os.Stdout, "[page] ", log.LstdFlags)
	}
}

// ConsoleEntry is one console.* call made by page code.
type ConsoleEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// Host is a sandboxed page with a DOM shim, timers, fetch and dynamic script
// loading.
type Host struct {
	cfg  Config
	base *url.URL
	rt   *goja.Runtime

	jobs      chan func()
	done      chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc

	// timers is only touched on the loop goroutine.
	timers    map[int64]*time.Timer
	nextTimer int64

	consoleMu sync.Mutex
	console   []ConsoleEntry
}

// New creates a host and starts its event loop.
func New(cfg Config) (*Host, error) {
	cfg.defaults()
	h := &Host{
		cfg:    cfg,
		rt:     goja.New(),
		jobs:   make(chan func(), 256),
		done:   make(chan struct{}),
		timers: make(map[int64]*time.Timer),
	}
	if cfg.BaseURL != "" {
		base, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("page: parse base url: %w", err)
		}
		h.base = base
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())

	h.injectGlobals()
	if _, err := h.rt.RunScript("dom.js", domShim); err != nil {
		return nil, fmt.Errorf("page: install dom shim: %w", err)
	}

	go h.loop()
	return h, nil
}

// Close stops the event loop and aborts in-flight fetches. Pending timers and
// resource completions are dropped.
func (h *Host) Close() {
	h.closeOnce.Do(func() {
		h.cancel()
		close(h.done)
	})
}

func (h *Host) loop() {
	for {
		select {
		case job := <-h.jobs:
			select {
			case <-h.done:
				return
			default:
			}
			job()
		case <-h.done:
			return
		}
	}
}

// post queues fn on the loop. It must not be called from the loop goroutine.
func (h *Host) post(fn func()) bool {
	select {
	case h.jobs <- fn:
		return true
	case <-h.done:
		return false
	}
}

// Do runs fn on the event loop and waits for it. Callbacks invoked by page
// code already run on the loop and must not call Do.
func (h *Host) Do(ctx context.Context, fn func(rt *goja.Runtime) error) error {
	select {
	case <-h.done:
		return ErrClosed
	default:
	}
	errc := make(chan error, 1)
	job := func() {
		errc <- h.runWithTimeout(h.cfg.ScriptTimeout, func() error { return fn(h.rt) })
	}
	select {
	case h.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrClosed
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrClosed
	}
}

// runWithTimeout interrupts a runaway job. It runs on the loop goroutine.
func (h *Host) runWithTimeout(timeout time.Duration, fn func() error) (err error) {
	timer := time.AfterFunc(timeout, func() {
		h.rt.Interrupt("script execution timeout")
	})
	defer func() {
		timer.Stop()
		h.rt.ClearInterrupt()
		if r := recover(); r != nil {
			err = fmt.Errorf("page: job panicked: %v", r)
		}
	}()
	err = fn()
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("page: script timed out: %w", err)
	}
	return err
}

func (h *Host) injectGlobals() {
	hostObj := h.rt.NewObject()
	hostObj.Set("load", h.jsLoad)
	hostObj.Set("runInline", h.jsRunInline)
	hostObj.Set("fetch", h.jsFetch)
	hostObj.Set("reportError", func(call goja.FunctionCall) goja.Value {
		h.cfg.Logger.Printf("uncaught error: %s", call.Argument(0).String())
		return goja.Undefined()
	})
	h.rt.Set("__host", hostObj)

	console := h.rt.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		level := level
		console.Set(level, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = arg.String()
			}
			h.appendConsole(level, strings.Join(parts, " "))
			return goja.Undefined()
		})
	}
	h.rt.Set("console", console)

	h.rt.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		return h.rt.ToValue(h.schedule(call, false))
	})
	h.rt.Set("setInterval", func(call goja.FunctionCall) goja.Value {
		return h.rt.ToValue(h.schedule(call, true))
	})
	clearTimer := func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).ToInteger()
		if t, ok := h.timers[id]; ok {
			t.Stop()
			delete(h.timers, id)
		}
		return goja.Undefined()
	}
	h.rt.Set("clearTimeout", clearTimer)
	h.rt.Set("clearInterval", clearTimer)

	h.rt.Set("require", goja.Undefined())
	h.rt.Set("XMLHttpRequest", goja.Undefined())
}

func (h *Host) appendConsole(level, msg string) {
	h.cfg.Logger.Printf("console.%s %s", level, msg)
	h.consoleMu.Lock()
	defer h.consoleMu.Unlock()
	if len(h.console) >= maxConsoleEntries {
		h.console = h.console[1:]
	}
	h.console = append(h.console, ConsoleEntry{Time: time.Now(), Level: level, Message: msg})
}

// Console returns a copy of the recent console output.
func (h *Host) Console() []ConsoleEntry {
	h.consoleMu.Lock()
	defer h.consoleMu.Unlock()
	out := make([]ConsoleEntry, len(h.console))
	copy(out, h.console)
	return out
}

func (h *Host) schedule(call goja.FunctionCall, repeat bool) int64 {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		return 0
	}
	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	var args []goja.Value
	if len(call.Arguments) > 2 {
		args = append(args, call.Arguments[2:]...)
	}

	h.nextTimer++
	id := h.nextTimer
	var fire func()
	fire = func() {
		h.post(func() {
			if _, live := h.timers[id]; !live {
				return
			}
			if repeat {
				h.timers[id] = time.AfterFunc(delay, fire)
			} else {
				delete(h.timers, id)
			}
			err := h.runWithTimeout(h.cfg.ScriptTimeout, func() error {
				_, err := fn(goja.Undefined(), args...)
				return err
			})
			if err != nil {
				h.cfg.Logger.Printf("timer callback failed id=%d err=%v", id, err)
			}
		})
	}
	h.timers[id] = time.AfterFunc(delay, fire)
	return id
}

func (h *Host) resolve(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("page: parse url %q: %w", raw, err)
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	if h.base == nil {
		return "", fmt.Errorf("page: relative url %q without base", raw)
	}
	return h.base.ResolveReference(u).String(), nil
}

// Evaluate runs src in the page and returns its exported completion value.
func (h *Host) Evaluate(ctx context.Context, src string) (any, error) {
	var out any
	err := h.Do(ctx, func(rt *goja.Runtime) error {
		v, err := rt.RunString(src)
		if err != nil {
			return err
		}
		out = v.Export()
		return nil
	})
	return out, err
}

// Expose sets a global binding visible to page code.
func (h *Host) Expose(ctx context.Context, name string, value any) error {
	return h.Do(ctx, func(rt *goja.Runtime) error {
		return rt.Set(name, value)
	})
}

// DispatchEvent fires a CustomEvent with the given detail on window.
func (h *Host) DispatchEvent(ctx context.Context, name string, detail any) error {
	return h.Do(ctx, func(rt *goja.Runtime) error {
		return h.fire(rt.GlobalObject(), name, detail)
	})
}

// fire dispatches an event on target. It runs on the loop goroutine.
func (h *Host) fire(target *goja.Object, name string, detail any) error {
	fn, ok := goja.AssertFunction(h.rt.Get("__hostFire"))
	if !ok {
		return fmt.Errorf("page: dom shim missing __hostFire")
	}
	_, err := fn(goja.Undefined(), target, h.rt.ToValue(name), h.rt.ToValue(detail))
	return err
}

// MissingCapabilities lists the browser APIs page code cannot rely on.
func (h *Host) MissingCapabilities(ctx context.Context) ([]string, error) {
	var missing []string
	err := h.Do(ctx, func(rt *goja.Runtime) error {
		fn, ok := goja.AssertFunction(rt.Get("__hostMissing"))
		if !ok {
			missing = []string{"document.createElement"}
			return nil
		}
		v, err := fn(goja.Undefined())
		if err != nil {
			return err
		}
		return rt.ExportTo(v, &missing)
	})
	return missing, err
}

// PrepareMount creates or empties the element bundles render into.
func (h *Host) PrepareMount(ctx context.Context, id string) error {
	return h.callHelper(ctx, "__hostPrepareMount", id)
}

// HasMounted reports whether a bundle rendered anything into the element.
func (h *Host) HasMounted(ctx context.Context, id string) (bool, error) {
	var mounted bool
	err := h.Do(ctx, func(rt *goja.Runtime) error {
		fn, ok := goja.AssertFunction(rt.Get("__hostMounted"))
		if !ok {
			return fmt.Errorf("page: dom shim missing __hostMounted")
		}
		v, err := fn(goja.Undefined(), rt.ToValue(id))
		if err != nil {
			return err
		}
		mounted = v.ToBoolean()
		return nil
	})
	return mounted, err
}

func (h *Host) callHelper(ctx context.Context, name string, args ...any) error {
	return h.Do(ctx, func(rt *goja.Runtime) error {
		fn, ok := goja.AssertFunction(rt.Get(name))
		if !ok {
			return fmt.Errorf("page: dom shim missing %s", name)
		}
		vals := make([]goja.Value, len(args))
		for i, a := range args {
			vals[i] = rt.ToValue(a)
		}
		_, err := fn(goja.Undefined(), vals...)
		return err
	})
}
