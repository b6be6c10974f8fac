package handle

import (
	"context"
	"log"
	"os"

	"github.com/dop251/goja"
)

// Kind tags a Resolution.
type Kind string

const (
	KindDiscovered Kind = "discovered"
	KindFallback   Kind = "fallback"
)

// Resolution is the outcome of handle discovery.
type Resolution struct {
	Kind   Kind
	Handle Runtime
	// Source names the provider that produced a discovered handle.
	Source string
}

// Same reports whether two resolutions refer to the same handle. Two
// fallbacks are always the same.
func (r Resolution) Same(o Resolution) bool {
	if r.Kind != o.Kind {
		return false
	}
	if r.Kind == KindFallback {
		return true
	}
	a, aok := r.Handle.(*JSHandle)
	b, bok := o.Handle.(*JSHandle)
	if aok && bok {
		return a.obj == b.obj
	}
	return r.Handle == o.Handle
}

// Provider finds a game's handle. ok is false when the provider has nothing
// for the game.
type Provider interface {
	Name() string
	Find(ctx context.Context, game string) (h Runtime, ok bool, err error)
}

// ProviderFunc adapts a function into a Provider.
type ProviderFunc struct {
	Label string
	Fn    func(ctx context.Context, game string) (Runtime, bool, error)
}

func (p ProviderFunc) Name() string { return p.Label }

func (p ProviderFunc) Find(ctx context.Context, game string) (Runtime, bool, error) {
	return p.Fn(ctx, game)
}

func lookupObject(v goja.Value) (*goja.Object, bool) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, false
	}
	obj, ok := v.(*goja.Object)
	return obj, ok
}

// GlobalBinding finds a handle published as the global "<game>Game".
type GlobalBinding struct {
	Page Page
}

func (p GlobalBinding) Name() string { return "global" }

func (p GlobalBinding) Find(ctx context.Context, game string) (Runtime, bool, error) {
	var obj *goja.Object
	err := p.Page.Do(ctx, func(rt *goja.Runtime) error {
		obj, _ = lookupObject(rt.Get(game + "Game"))
		return nil
	})
	if err != nil || obj == nil {
		return nil, false, err
	}
	return NewJSHandle(p.Page, obj), true, nil
}

// InstanceMap finds a handle stored under the game's name in a shared global
// map, "gameInstances" unless MapName is set.
type InstanceMap struct {
	Page    Page
	MapName string
}

func (p InstanceMap) Name() string { return "instances" }

func (p InstanceMap) Find(ctx context.Context, game string) (Runtime, bool, error) {
	name := p.MapName
	if name == "" {
		name = "gameInstances"
	}
	var obj *goja.Object
	err := p.Page.Do(ctx, func(rt *goja.Runtime) error {
		m, ok := lookupObject(rt.Get(name))
		if !ok {
			return nil
		}
		obj, _ = lookupObject(m.Get(game))
		return nil
	})
	if err != nil || obj == nil {
		return nil, false, err
	}
	return NewJSHandle(p.Page, obj), true, nil
}

// Discoverer resolves handles by asking providers in priority order.
type Discoverer struct {
	providers []Provider
	fallback  func(game string) Runtime
	logger    *log.Logger
}

// NewDiscoverer builds a discoverer. fallback constructs the synthetic handle
// used when no provider matches.
func NewDiscoverer(fallback func(game string) Runtime, logger *log.Logger, providers ...Provider) *Discoverer {
	if logger == nil {
		logger = log.New(os.Stdout, "[handle] ", log.LstdFlags)
	}
	if fallback == nil {
		fallback = func(game string) Runtime { return NewFallback(game, nil) }
	}
	return &Discoverer{providers: providers, fallback: fallback, logger: logger}
}

// PageProviders returns the bundle-convention providers: the "<game>Game"
// global first, then the gameInstances map.
func PageProviders(page Page) []Provider {
	return []Provider{GlobalBinding{Page: page}, InstanceMap{Page: page}}
}

// Discover returns the first provider match or a fallback. Provider errors
// are logged and skipped.
func (d *Discoverer) Discover(ctx context.Context, game string) Resolution {
	for _, p := range d.providers {
		h, ok, err := p.Find(ctx, game)
		if err != nil {
			d.logger.Printf("provider failed game=%s provider=%s err=%v", game, p.Name(), err)
			continue
		}
		if ok {
			return Resolution{Kind: KindDiscovered, Handle: h, Source: p.Name()}
		}
	}
	return Resolution{Kind: KindFallback, Handle: d.fallback(game), Source: "fallback"}
}
