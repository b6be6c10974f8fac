package catalog

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

// Rule is a named predicate gating whether a descriptor may load.
// Implementations must be idempotent and free of side effects.
type Rule interface {
	Name() string
	Validate(ctx context.Context, d *Descriptor) (bool, error)
	ErrorMessage() string
}

// RuleFunc adapts a function into a Rule.
type RuleFunc struct {
	RuleName string
	Message  string
	Fn       func(ctx context.Context, d *Descriptor) (bool, error)
}

func (r RuleFunc) Name() string         { return r.RuleName }
func (r RuleFunc) ErrorMessage() string { return r.Message }

func (r RuleFunc) Validate(ctx context.Context, d *Descriptor) (bool, error) {
	if r.Fn == nil {
		return true, nil
	}
	return r.Fn(ctx, d)
}

// Environment reports which host capabilities are unavailable.
type Environment interface {
	MissingCapabilities(ctx context.Context) ([]string, error)
}

var ruleLogger = log.New(os.Stdout, "[rules] ", log.LstdFlags)

// CapabilityRule checks the page host exposes the APIs the loader relies on.
type CapabilityRule struct {
	Env Environment
}

func (r *CapabilityRule) Name() string { return "capability" }

func (r *CapabilityRule) ErrorMessage() string {
	return "This game requires a browser with Promise, fetch and dynamic script support"
}

func (r *CapabilityRule) Validate(ctx context.Context, d *Descriptor) (bool, error) {
	if r.Env == nil {
		return true, nil
	}
	missing, err := r.Env.MissingCapabilities(ctx)
	if err != nil {
		ruleLogger.Printf("capability check failed game=%s err=%v; allowing load", d.Name(), err)
		return true, nil
	}
	if len(missing) > 0 {
		ruleLogger.Printf("capability check game=%s missing=%s", d.Name(), strings.Join(missing, ","))
		return false, nil
	}
	return true, nil
}

// ConnectivityRule gates on reachability of the game's origin. By default it
// always passes and leaves connectivity failures to the bundle loader. With
// Probe set it issues a HEAD request; transport errors still pass and only a
// 5xx answer fails the rule.
type ConnectivityRule struct {
	Probe   bool
	Client  *http.Client
	Timeout time.Duration
}

func (r *ConnectivityRule) Name() string { return "connectivity" }

func (r *ConnectivityRule) ErrorMessage() string {
	return "The game server is not reachable right now"
}

func (r *ConnectivityRule) Validate(ctx context.Context, d *Descriptor) (bool, error) {
	if !r.Probe || d.BaseURL() == "" {
		return true, nil
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, d.BaseURL()+"/"+d.Name()+"/", nil)
	if err != nil {
		return true, nil
	}
	resp, err := client.Do(req)
	if err != nil {
		ruleLogger.Printf("connectivity probe failed game=%s err=%v; allowing load", d.Name(), err)
		return true, nil
	}
	resp.Body.Close()
	return resp.StatusCode < 500, nil
}

// ResourceRule is the extension point for per-game resource checks. Without a
// Check it always passes; Check errors degrade to pass.
type ResourceRule struct {
	Check func(ctx context.Context, d *Descriptor) (bool, error)
}

func (r *ResourceRule) Name() string { return "resource" }

func (r *ResourceRule) ErrorMessage() string {
	return "Required game resources are unavailable"
}

func (r *ResourceRule) Validate(ctx context.Context, d *Descriptor) (bool, error) {
	if r.Check == nil {
		return true, nil
	}
	ok, err := r.Check(ctx, d)
	if err != nil {
		ruleLogger.Printf("resource check failed game=%s err=%v; allowing load", d.Name(), err)
		return true, nil
	}
	return ok, nil
}

// DefaultRules returns the standard rule set attached to every catalog game.
func DefaultRules(env Environment) []Rule {
	return []Rule{
		&CapabilityRule{Env: env},
		&ConnectivityRule{},
		&ResourceRule{},
	}
}
