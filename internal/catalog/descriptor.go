// Package catalog describes the mini-games the hub can load: their descriptors,
// the rules that gate loading, and the registry plugins install themselves into.
package catalog

import (
	"fmt"
	"strings"
	"sync"
)

// Spec is the immutable part of a Descriptor.
type Spec struct {
	// Name is the stable slug and registry key (e.g. "trivia").
	Name string
	// Title is the human readable label shown in the menu.
	Title string
	// BaseURL is the static-hosting prefix the bundle manifest is fetched from.
	BaseURL string
	// Icon and DisplayGradient are presentation hints only.
	Icon            string
	DisplayGradient string
	// ReadyEventName is the window event the bundle broadcasts once usable.
	ReadyEventName string
	// Difficulty and MiniGameType are forwarded to sessions and analytics.
	Difficulty   string
	MiniGameType string
}

// Descriptor identifies one loadable game. Only the rule list may grow after
// construction.
type Descriptor struct {
	spec Spec

	mu    sync.RWMutex
	rules []Rule
}

// NewDescriptor builds a descriptor. A missing ReadyEventName defaults to
// "<name>-ready" and a missing Title to the name.
func NewDescriptor(spec Spec, rules ...Rule) (*Descriptor, error) {
	spec.Name = strings.TrimSpace(spec.Name)
	if spec.Name == "" {
		return nil, fmt.Errorf("catalog: descriptor name is required")
	}
	spec.BaseURL = strings.TrimRight(strings.TrimSpace(spec.BaseURL), "/")
	if spec.ReadyEventName == "" {
		spec.ReadyEventName = spec.Name + "-ready"
	}
	if spec.Title == "" {
		spec.Title = spec.Name
	}
	if spec.MiniGameType == "" {
		spec.MiniGameType = spec.Name
	}
	d := &Descriptor{spec: spec}
	for _, r := range rules {
		if r != nil {
			d.rules = append(d.rules, r)
		}
	}
	return d, nil
}

// MustDescriptor is NewDescriptor for statically known specs.
func MustDescriptor(spec Spec, rules ...Rule) *Descriptor {
	d, err := NewDescriptor(spec, rules...)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Descriptor) Name() string            { return d.spec.Name }
func (d *Descriptor) Title() string           { return d.spec.Title }
func (d *Descriptor) BaseURL() string         { return d.spec.BaseURL }
func (d *Descriptor) Icon() string            { return d.spec.Icon }
func (d *Descriptor) DisplayGradient() string { return d.spec.DisplayGradient }
func (d *Descriptor) ReadyEventName() string  { return d.spec.ReadyEventName }
func (d *Descriptor) Difficulty() string      { return d.spec.Difficulty }
func (d *Descriptor) MiniGameType() string    { return d.spec.MiniGameType }

// Spec returns a copy of the descriptor's immutable fields.
func (d *Descriptor) Spec() Spec { return d.spec }

// AddRule appends a rule. Rules run in attachment order.
func (d *Descriptor) AddRule(r Rule) {
	if r == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rules = append(d.rules, r)
}

// Rules returns the attached rules in attachment order.
func (d *Descriptor) Rules() []Rule {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Rule, len(d.rules))
	copy(out, d.rules)
	return out
}
