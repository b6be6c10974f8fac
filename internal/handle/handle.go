// Package handle discovers and drives the runtime object a loaded game
// exposes for lifecycle control.
package handle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/dop251/goja"
)

// Action is a lifecycle control a handle may implement.
type Action string

const (
	ActionStart   Action = "start"
	ActionPause   Action = "pause"
	ActionResume  Action = "resume"
	ActionRestart Action = "restart"
	ActionEnd     Action = "end"
)

// Actions lists every lifecycle action in control-bar order.
var Actions = []Action{ActionStart, ActionPause, ActionResume, ActionRestart, ActionEnd}

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	for _, a := range Actions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("handle: unknown action %q", s)
}

// ErrUnsupported is returned when a handle does not implement an action.
var ErrUnsupported = errors.New("handle: action not supported")

// Runtime is a game handle. Every action is optional; Invoke returns
// ErrUnsupported for missing ones and waits for asynchronous completion.
type Runtime interface {
	Supports(ctx context.Context, a Action) bool
	Invoke(ctx context.Context, a Action) error
}

// Page is the part of the page host handles need.
type Page interface {
	Do(ctx context.Context, fn func(rt *goja.Runtime) error) error
	Settle(ctx context.Context, value goja.Value) (any, error)
}

// JSHandle drives an object living in the page.
type JSHandle struct {
	page   Page
	obj    *goja.Object
	logger *log.Logger
}

// NewJSHandle wraps a page object. obj must belong to page's runtime.
func NewJSHandle(page Page, obj *goja.Object) *JSHandle {
	return &JSHandle{page: page, obj: obj, logger: log.New(os.Stdout, "[handle] ", log.LstdFlags)}
}

// Object returns the underlying page object.
func (h *JSHandle) Object() *goja.Object { return h.obj }

// Supports reports whether the object has a method for a. An unreachable
// page counts as unsupported.
func (h *JSHandle) Supports(ctx context.Context, a Action) bool {
	supported := false
	err := h.page.Do(ctx, func(rt *goja.Runtime) error {
		_, supported = goja.AssertFunction(h.obj.Get(string(a)))
		return nil
	})
	if err != nil {
		h.logger.Printf("supports %s: page unavailable: %v", a, err)
		return false
	}
	return supported
}

// Invoke calls the method named after a with the object as receiver. A
// returned promise is awaited.
func (h *JSHandle) Invoke(ctx context.Context, a Action) error {
	var ret goja.Value
	err := h.page.Do(ctx, func(rt *goja.Runtime) error {
		fn, ok := goja.AssertFunction(h.obj.Get(string(a)))
		if !ok {
			return ErrUnsupported
		}
		v, err := fn(h.obj)
		if err != nil {
			return fmt.Errorf("handle: %s: %w", a, err)
		}
		ret = v
		return nil
	})
	if err != nil {
		return err
	}
	if ret == nil || goja.IsUndefined(ret) || goja.IsNull(ret) {
		return nil
	}
	if _, isObj := ret.(*goja.Object); !isObj {
		return nil
	}
	if _, err := h.page.Settle(ctx, ret); err != nil {
		return fmt.Errorf("handle: %s: %w", a, err)
	}
	return nil
}
