package page

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// ResourceError reports a script or stylesheet that could not be fetched.
type ResourceError struct {
	URL    string
	Reason string
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("page: load %s: %s", e.URL, e.Reason)
}

// jsLoad is called by the DOM shim when a script or stylesheet element is
// connected to the document.
func (h *Host) jsLoad(call goja.FunctionCall) goja.Value {
	el := call.Argument(0).ToObject(h.rt)
	tag := el.Get("tagName").String()
	attr := "src"
	if tag == "LINK" {
		attr = "href"
	}
	raw := el.Get(attr).String()

	target, err := h.resolve(raw)
	if err != nil {
		go h.post(func() { h.fireResource(el, "error", err.Error()) })
		return goja.Undefined()
	}
	go h.fetchResource(el, tag, target)
	return goja.Undefined()
}

func (h *Host) fetchResource(el *goja.Object, tag, target string) {
	body, status, err := h.get(target)
	if err == nil && (status < 200 || status > 299) {
		err = fmt.Errorf("HTTP %d", status)
	}
	h.post(func() {
		if err != nil {
			h.cfg.Logger.Printf("resource failed url=%s err=%v", target, err)
			h.fireResource(el, "error", err.Error())
			return
		}
		if tag == "SCRIPT" {
			h.execScript(el, target, body)
		}
		h.fireResource(el, "load", nil)
	})
}

func (h *Host) get(target string) (string, int, error) {
	ctx, cancel := context.WithTimeout(h.ctx, h.cfg.FetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := h.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResourceBytes))
	if err != nil {
		return "", resp.StatusCode, err
	}
	return string(raw), resp.StatusCode, nil
}

// execScript runs a fetched script with document.currentScript pointing at
// its element. Runtime exceptions are logged; like a browser, the element
// still fires load.
func (h *Host) execScript(el *goja.Object, name, src string) {
	doc := h.rt.Get("document").ToObject(h.rt)
	doc.Set("currentScript", el)
	err := h.runWithTimeout(h.cfg.ScriptTimeout, func() error {
		_, err := h.rt.RunScript(name, src)
		return err
	})
	doc.Set("currentScript", goja.Null())
	if err != nil {
		h.cfg.Logger.Printf("script error url=%s err=%v", name, err)
	}
}

func (h *Host) fireResource(el *goja.Object, name string, detail any) {
	err := h.runWithTimeout(h.cfg.ScriptTimeout, func() error {
		return h.fire(el, name, detail)
	})
	if err != nil {
		h.cfg.Logger.Printf("%s handler failed err=%v", name, err)
	}
}

func (h *Host) jsRunInline(call goja.FunctionCall) goja.Value {
	el := call.Argument(0).ToObject(h.rt)
	src := el.Get("textContent").String()
	if _, err := h.rt.RunScript("inline", src); err != nil {
		h.cfg.Logger.Printf("inline script error err=%v", err)
	}
	return goja.Undefined()
}

// jsFetch backs window.fetch: fetch(url, method, headers, body, ok, fail).
func (h *Host) jsFetch(call goja.FunctionCall) goja.Value {
	ok, _ := goja.AssertFunction(call.Argument(4))
	fail, _ := goja.AssertFunction(call.Argument(5))
	if ok == nil || fail == nil {
		return goja.Undefined()
	}
	method := strings.ToUpper(call.Argument(1).String())
	var headers map[string]any
	if obj := call.Argument(2); !goja.IsUndefined(obj) && !goja.IsNull(obj) {
		_ = h.rt.ExportTo(obj, &headers)
	}
	body := call.Argument(3).String()

	target, err := h.resolve(call.Argument(0).String())
	if err != nil {
		msg := err.Error()
		go h.post(func() { h.settle(fail, msg) })
		return goja.Undefined()
	}

	go func() {
		status, final, text, err := h.doFetch(method, target, headers, body)
		h.post(func() {
			if err != nil {
				h.settle(fail, err.Error())
				return
			}
			h.settle(ok, status, final, text)
		})
	}()
	return goja.Undefined()
}

func (h *Host) doFetch(method, target string, headers map[string]any, body string) (int, string, string, error) {
	ctx, cancel := context.WithTimeout(h.ctx, h.cfg.FetchTimeout)
	defer cancel()
	var rdr io.Reader
	if body != "" && method != http.MethodGet && method != http.MethodHead {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return 0, "", "", err
	}
	for k, v := range headers {
		req.Header.Set(k, fmt.Sprint(v))
	}
	resp, err := h.cfg.HTTPClient.Do(req)
	if err != nil {
		return 0, "", "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResourceBytes))
	if err != nil {
		return 0, "", "", err
	}
	return resp.StatusCode, resp.Request.URL.String(), string(raw), nil
}

func (h *Host) settle(fn goja.Callable, args ...any) {
	vals := make([]goja.Value, len(args))
	for i, a := range args {
		vals[i] = h.rt.ToValue(a)
	}
	err := h.runWithTimeout(h.cfg.ScriptTimeout, func() error {
		_, err := fn(goja.Undefined(), vals...)
		return err
	})
	if err != nil {
		h.cfg.Logger.Printf("callback failed err=%v", err)
	}
}

// InjectScript appends a script element to document.head and waits for its
// load or error event.
func (h *Host) InjectScript(ctx context.Context, src string) error {
	result := make(chan error, 1)
	err := h.Do(ctx, func(rt *goja.Runtime) error {
		doc := rt.Get("document").ToObject(rt)
		create, ok := goja.AssertFunction(doc.Get("createElement"))
		if !ok {
			return fmt.Errorf("page: document.createElement unavailable")
		}
		v, err := create(doc, rt.ToValue("script"))
		if err != nil {
			return err
		}
		el := v.ToObject(rt)
		el.Set("src", src)
		el.Set("onload", func(goja.FunctionCall) goja.Value {
			result <- nil
			return goja.Undefined()
		})
		el.Set("onerror", func(call goja.FunctionCall) goja.Value {
			reason := "load failed"
			if ev, ok := call.Argument(0).(*goja.Object); ok {
				if d := ev.Get("detail"); d != nil && !goja.IsNull(d) && !goja.IsUndefined(d) {
					reason = d.String()
				}
			}
			result <- &ResourceError{URL: src, Reason: reason}
			return goja.Undefined()
		})
		head := doc.Get("head").ToObject(rt)
		appendChild, ok := goja.AssertFunction(head.Get("appendChild"))
		if !ok {
			return fmt.Errorf("page: head.appendChild unavailable")
		}
		_, err = appendChild(head, el)
		return err
	})
	if err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrClosed
	}
}

// Waiter is a one-shot listener for a window event.
type Waiter struct {
	h      *Host
	name   string
	ch     chan any
	remove goja.Callable
}

// ListenOnce registers a one-shot window listener. Registering before the
// action that triggers the event avoids missing an early dispatch.
func (h *Host) ListenOnce(ctx context.Context, name string) (*Waiter, error) {
	w := &Waiter{h: h, name: name, ch: make(chan any, 1)}
	err := h.Do(ctx, func(rt *goja.Runtime) error {
		once, ok := goja.AssertFunction(rt.Get("__hostOnce"))
		if !ok {
			return fmt.Errorf("page: dom shim missing __hostOnce")
		}
		cb := func(call goja.FunctionCall) goja.Value {
			select {
			case w.ch <- call.Argument(0).Export():
			default:
			}
			return goja.Undefined()
		}
		rm, err := once(goja.Undefined(), rt.ToValue(name), rt.ToValue(cb))
		if err != nil {
			return err
		}
		w.remove, _ = goja.AssertFunction(rm)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Wait blocks until the event fires, timeout elapses or ctx is done. fired is
// false when the timeout won. A non-positive timeout waits indefinitely.
func (w *Waiter) Wait(ctx context.Context, timeout time.Duration) (detail any, fired bool, err error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case d := <-w.ch:
		return d, true, nil
	case <-expired:
		w.Cancel()
		return nil, false, nil
	case <-ctx.Done():
		w.Cancel()
		return nil, false, ctx.Err()
	case <-w.h.done:
		return nil, false, ErrClosed
	}
}

// Cancel removes the listener if it has not fired.
func (w *Waiter) Cancel() {
	if w.remove == nil {
		return
	}
	remove := w.remove
	w.h.post(func() {
		if _, err := remove(goja.Undefined()); err != nil {
			w.h.cfg.Logger.Printf("remove listener failed event=%s err=%v", w.name, err)
		}
	})
}

// WaitForEvent listens once for a window event and waits up to timeout.
func (h *Host) WaitForEvent(ctx context.Context, name string, timeout time.Duration) (any, bool, error) {
	w, err := h.ListenOnce(ctx, name)
	if err != nil {
		return nil, false, err
	}
	return w.Wait(ctx, timeout)
}

// Settle resolves a page value that may be a promise. value must have been
// obtained on the loop (inside Do). Non-promise values settle immediately.
func (h *Host) Settle(ctx context.Context, value goja.Value) (any, error) {
	type outcome struct {
		v   any
		err error
	}
	ch := make(chan outcome, 1)
	err := h.Do(ctx, func(rt *goja.Runtime) error {
		settle, ok := goja.AssertFunction(rt.Get("__hostSettle"))
		if !ok {
			return fmt.Errorf("page: dom shim missing __hostSettle")
		}
		onOK := func(call goja.FunctionCall) goja.Value {
			ch <- outcome{v: call.Argument(0).Export()}
			return goja.Undefined()
		}
		onErr := func(call goja.FunctionCall) goja.Value {
			ch <- outcome{err: fmt.Errorf("page: promise rejected: %s", call.Argument(0).String())}
			return goja.Undefined()
		}
		_, err := settle(goja.Undefined(), value, rt.ToValue(onOK), rt.ToValue(onErr))
		return err
	})
	if err != nil {
		return nil, err
	}
	select {
	case o := <-ch:
		return o.v, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, ErrClosed
	}
}
