// Package selector is the hub's orchestrator. It shows the game menu or
// auto-loads a preselected game, validates and loads bundles, waits for
// readiness, discovers the game's runtime handle and drives lifecycle
// controls and session tracking through it.
package selector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/MJE43/minigame-hub/internal/catalog"
	"github.com/MJE43/minigame-hub/internal/handle"
	"github.com/MJE43/minigame-hub/internal/page"
	"github.com/MJE43/minigame-hub/internal/session"
	"github.com/MJE43/minigame-hub/internal/tracking"
	"github.com/MJE43/minigame-hub/internal/validator"
)

// State is the orchestrator's lifecycle state.
type State string

const (
	StateIdle              State = "idle"
	StateValidating        State = "validating"
	StateValidationFailed  State = "validation_failed"
	StateLoading           State = "loading"
	StateWaitingForReady   State = "waiting_for_ready"
	StateDiscoveringHandle State = "discovering_handle"
	StateReady             State = "ready"
	StateDispatchingAction State = "dispatching_action"
	StateLoadFailed        State = "load_failed"
)

var (
	// ErrLoadInProgress rejects a load while another is in flight.
	ErrLoadInProgress = errors.New("selector: a game is already loading")
	// ErrActionInProgress rejects a load while a control is being dispatched.
	ErrActionInProgress = errors.New("selector: a game action is in progress")
	// ErrClosed is returned by loads started or interrupted by Close.
	ErrClosed = errors.New("selector: closed")
	// ErrReloadRequired is returned after a validation or load failure until
	// Reload is called.
	ErrReloadRequired = errors.New("selector: reload required")
	ErrUnknownGame    = errors.New("selector: unknown game")
	ErrNotReady       = errors.New("selector: no game ready")
	ErrActionHidden   = errors.New("selector: control not available")
)

// ValidationError lists the reasons a game failed validation.
type ValidationError struct {
	Game   string
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("selector: game %s failed validation: %v", e.Game, e.Errors)
}

// Config holds orchestrator timings and identity.
type Config struct {
	// ReadyTimeout bounds the wait for the bundle's ready event. On expiry
	// loading continues.
	ReadyTimeout time.Duration
	// MountPollDelay and MountPollInterval schedule bundle mount detection.
	MountPollDelay    time.Duration
	MountPollInterval time.Duration
	// ControlsDelay is the grace period before controls are rendered.
	ControlsDelay time.Duration
	// ActionTimeout bounds a single handle call.
	ActionTimeout time.Duration
	// LoadTimeout bounds fetching and running the bundle manifest.
	LoadTimeout time.Duration
	// MountElementID is the element bundles render into.
	MountElementID string
	PlayerID       string
	TenantID       string
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		ReadyTimeout:      5 * time.Second,
		MountPollDelay:    100 * time.Millisecond,
		MountPollInterval: 500 * time.Millisecond,
		ControlsDelay:     2 * time.Second,
		ActionTimeout:     10 * time.Second,
		LoadTimeout:       30 * time.Second,
		MountElementID:    "game-root",
	}
}

func (c *Config) defaults() {
	d := DefaultConfig()
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = d.ReadyTimeout
	}
	if c.MountPollDelay <= 0 {
		c.MountPollDelay = d.MountPollDelay
	}
	if c.MountPollInterval <= 0 {
		c.MountPollInterval = d.MountPollInterval
	}
	if c.ControlsDelay < 0 {
		c.ControlsDelay = 0
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = d.ActionTimeout
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = d.LoadTimeout
	}
	if c.MountElementID == "" {
		c.MountElementID = d.MountElementID
	}
}

// Validator checks a descriptor before loading.
type Validator interface {
	ValidateGame(ctx context.Context, d *catalog.Descriptor) validator.Result
}

// BundleLoader injects a game's manifest and waits for it to load.
type BundleLoader interface {
	LoadGame(ctx context.Context, d *catalog.Descriptor) error
}

// Page is the page host surface the orchestrator needs.
type Page interface {
	ListenOnce(ctx context.Context, name string) (*page.Waiter, error)
	PrepareMount(ctx context.Context, id string) error
	HasMounted(ctx context.Context, id string) (bool, error)
}

// HandleDiscoverer resolves a game's runtime handle.
type HandleDiscoverer interface {
	Discover(ctx context.Context, game string) handle.Resolution
}

// HandlePublisher exposes the current handle to page code.
type HandlePublisher interface {
	Publish(ctx context.Context, res handle.Resolution) error
}

// PublisherFunc adapts a function into a HandlePublisher.
type PublisherFunc func(ctx context.Context, res handle.Resolution) error

func (f PublisherFunc) Publish(ctx context.Context, res handle.Resolution) error { return f(ctx, res) }

// SessionTracker records play sessions.
type SessionTracker interface {
	StartSession(gameID, tenantID, difficulty string) (*session.GameSession, error)
	PauseSession() (*session.GameSession, error)
	ResumeSession() (*session.GameSession, error)
	EndSession(status session.Status) (*session.GameSession, error)
	CurrentSession() *session.GameSession
}

// Analytics delivers best-effort tracking events.
type Analytics interface {
	Send(env tracking.Envelope)
}

// Emitter receives every rendered view.
type Emitter interface {
	EmitSelectorState(s Snapshot)
}

// EmitterFunc adapts a function into an Emitter.
type EmitterFunc func(s Snapshot)

func (f EmitterFunc) EmitSelectorState(s Snapshot) { f(s) }

// Deps are the collaborators an orchestrator drives. Registry, Validator,
// Loader, Page and Handles are required.
type Deps struct {
	Registry  *catalog.Registry
	Validator Validator
	Loader    BundleLoader
	Page      Page
	Handles   HandleDiscoverer
	Publisher HandlePublisher
	Sessions  SessionTracker
	Analytics Analytics
	Emitter   Emitter
	// Rules builds the rules attached to descriptors synthesized from hub
	// metadata.
	Rules  func(m catalog.Metadata) []catalog.Rule
	Logger *log.Logger
}

// MenuItem is one entry of the game menu.
type MenuItem struct {
	Name       string `json:"name"`
	Title      string `json:"title"`
	Icon       string `json:"icon,omitempty"`
	Gradient   string `json:"gradient,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
}

// Button is one lifecycle control.
type Button struct {
	Action  handle.Action `json:"action"`
	Visible bool          `json:"visible"`
}

// Snapshot is the orchestrator's rendered view.
type Snapshot struct {
	State State      `json:"state"`
	Menu  []MenuItem `json:"menu,omitempty"`

	Game     string `json:"game,omitempty"`
	Title    string `json:"title,omitempty"`
	TenantID string `json:"tenantId,omitempty"`

	Errors    []string `json:"errors,omitempty"`
	LoadError string   `json:"loadError,omitempty"`
	// Retry is the full-reload affordance shown after a failure.
	Retry bool `json:"retry"`

	// Loading is true while the loading chrome is shown.
	Loading       bool `json:"loading"`
	ReadyTimedOut bool `json:"readyTimedOut"`
	Mounted       bool `json:"mounted"`

	HandleKind   handle.Kind `json:"handleKind,omitempty"`
	HandleSource string      `json:"handleSource,omitempty"`

	// Controls is empty until the grace delay after loading has elapsed.
	Controls []Button `json:"controls,omitempty"`

	SessionID       string `json:"sessionId,omitempty"`
	LastAction      string `json:"lastAction,omitempty"`
	LastActionError string `json:"lastActionError,omitempty"`
}

// Visible reports whether the control for a is rendered and visible.
func (s Snapshot) Visible(a handle.Action) bool {
	for _, b := range s.Controls {
		if b.Action == a {
			return b.Visible
		}
	}
	return false
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Menu = append([]MenuItem(nil), s.Menu...)
	out.Errors = append([]string(nil), s.Errors...)
	out.Controls = append([]Button(nil), s.Controls...)
	return out
}

// Selector is the orchestrator state machine. One instance drives one page.
type Selector struct {
	deps   Deps
	cfg    Config
	logger *log.Logger

	mu       sync.Mutex
	view     Snapshot
	current  *catalog.Descriptor
	res      handle.Resolution
	fallback *handle.Fallback
	loading  bool
	// acting is set while HandleGameAction runs.
	acting   bool
	tenantID string
	// epoch increments on every load and reload; background work from an
	// older epoch is discarded.
	epoch      uint64
	stopMount  context.CancelFunc
	dispatchMu sync.Mutex

	// life outlives any caller; loads run on it and Close cancels it.
	life     context.Context
	shutdown context.CancelFunc
}

// New creates an orchestrator in the idle state.
func New(deps Deps, cfg Config) (*Selector, error) {
	if deps.Registry == nil || deps.Validator == nil || deps.Loader == nil || deps.Page == nil || deps.Handles == nil {
		return nil, fmt.Errorf("selector: registry, validator, loader, page and handles are required")
	}
	cfg.defaults()
	logger := deps.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[selector] ", log.LstdFlags)
	}
	s := &Selector{
		deps:     deps,
		cfg:      cfg,
		logger:   logger,
		tenantID: cfg.TenantID,
		view:     Snapshot{State: StateIdle},
	}
	s.life, s.shutdown = context.WithCancel(context.Background())
	deps.Registry.Watch(func(*catalog.Descriptor) { s.refreshMenu() })
	return s, nil
}

// Init shows the menu, or auto-loads a game synthesized from hub metadata
// when preselected is non-nil.
func (s *Selector) Init(ctx context.Context, preselected *catalog.Metadata) error {
	if preselected == nil {
		s.logger.Printf("showing menu games=%d", s.deps.Registry.Len())
		s.refreshMenu()
		return nil
	}
	var rules []catalog.Rule
	if s.deps.Rules != nil {
		rules = s.deps.Rules(*preselected)
	}
	d, err := catalog.FromMetadata(*preselected, rules...)
	if err != nil {
		return fmt.Errorf("selector: preselected game: %w", err)
	}
	if preselected.TenantID != "" {
		s.mu.Lock()
		s.tenantID = preselected.TenantID
		s.mu.Unlock()
	}
	s.deps.Registry.Register(d)
	s.logger.Printf("hub preselected game=%s tenant=%s", d.Name(), preselected.TenantID)
	return s.LoadGame(ctx, d)
}

// Menu returns the menu built from the registry's current contents.
func (s *Selector) Menu() []MenuItem {
	all := s.deps.Registry.GetAll()
	items := make([]MenuItem, 0, len(all))
	for _, d := range all {
		items = append(items, MenuItem{
			Name:       d.Name(),
			Title:      d.Title(),
			Icon:       d.Icon(),
			Gradient:   d.DisplayGradient(),
			Difficulty: d.Difficulty(),
		})
	}
	return items
}

func (s *Selector) refreshMenu() {
	menu := s.Menu()
	s.update(func(v *Snapshot) bool {
		if v.State != StateIdle {
			return false
		}
		v.Menu = menu
		return true
	})
}

// SelectGame loads a registered game by name, as a menu click does.
func (s *Selector) SelectGame(ctx context.Context, name string) error {
	d, ok := s.deps.Registry.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGame, name)
	}
	return s.LoadGame(ctx, d)
}

// Snapshot returns the current rendered view.
func (s *Selector) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.clone()
}

// State returns the current state.
func (s *Selector) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.State
}

// Current returns the loaded descriptor, if any.
func (s *Selector) Current() *catalog.Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Reload returns to the menu, the equivalent of reloading the page. It is
// the only way out of validation_failed and load_failed.
func (s *Selector) Reload() error {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return ErrLoadInProgress
	}
	s.epoch++
	s.stopMountLocked()
	s.current = nil
	s.res = handle.Resolution{}
	s.fallback = nil
	s.tenantID = s.cfg.TenantID
	s.mu.Unlock()

	menu := s.Menu()
	s.update(func(v *Snapshot) bool {
		*v = Snapshot{State: StateIdle, Menu: menu}
		return true
	})
	s.logger.Printf("reloaded")
	return nil
}

// Close stops background polling and abandons any load in flight.
func (s *Selector) Close() {
	s.shutdown()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.stopMountLocked()
}

func (s *Selector) stopMountLocked() {
	if s.stopMount != nil {
		s.stopMount()
		s.stopMount = nil
	}
}

// update applies fn to the view and emits the result when fn reports a
// change.
func (s *Selector) update(fn func(v *Snapshot) bool) {
	s.mu.Lock()
	changed := fn(&s.view)
	snap := s.view.clone()
	s.mu.Unlock()
	if changed && s.deps.Emitter != nil {
		s.deps.Emitter.EmitSelectorState(snap)
	}
}

// updateEpoch is update guarded against stale background work.
func (s *Selector) updateEpoch(epoch uint64, fn func(v *Snapshot)) bool {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return false
	}
	fn(&s.view)
	snap := s.view.clone()
	s.mu.Unlock()
	if s.deps.Emitter != nil {
		s.deps.Emitter.EmitSelectorState(snap)
	}
	return true
}

func (s *Selector) setState(st State) {
	s.update(func(v *Snapshot) bool {
		v.State = st
		return true
	})
}
