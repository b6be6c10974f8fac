package selector

import (
	"context"
	"errors"
	"time"

	"github.com/MJE43/minigame-hub/internal/catalog"
	"github.com/MJE43/minigame-hub/internal/handle"
)

// LoadGame validates, loads and readies d. Steps run strictly in order:
// validate, publish the initial handle, show the loading view, load the
// bundle, wait for readiness (continuing after ReadyTimeout), rediscover the
// handle, start mount polling and render controls after ControlsDelay.
//
// ctx is only consulted before the load begins. Once started, the load runs
// on the selector's own context under the configured timeouts, so a caller
// that goes away cannot leave the page in load_failed.
//
// LoadGame returns ErrLoadInProgress while another load is in flight,
// ErrActionInProgress while a control is being dispatched and
// ErrReloadRequired after an earlier failure.
func (s *Selector) LoadGame(ctx context.Context, d *catalog.Descriptor) error {
	if d == nil {
		return ErrUnknownGame
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.life.Err() != nil {
		return ErrClosed
	}
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return ErrLoadInProgress
	}
	if s.acting {
		s.mu.Unlock()
		return ErrActionInProgress
	}
	if st := s.view.State; st == StateValidationFailed || st == StateLoadFailed {
		s.mu.Unlock()
		return ErrReloadRequired
	}
	s.loading = true
	s.epoch++
	epoch := s.epoch
	s.stopMountLocked()
	tenant := s.tenantID
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	ctx = s.life
	s.logger.Printf("load requested game=%s", d.Name())
	s.update(func(v *Snapshot) bool {
		*v = Snapshot{State: StateValidating, Game: d.Name(), Title: d.Title(), TenantID: tenant}
		return true
	})

	// 1. Validate.
	result := s.deps.Validator.ValidateGame(ctx, d)
	if !result.Valid {
		s.logger.Printf("validation failed game=%s errors=%d", d.Name(), len(result.Errors))
		s.update(func(v *Snapshot) bool {
			v.State = StateValidationFailed
			v.Errors = result.Errors
			v.Retry = true
			return true
		})
		return &ValidationError{Game: d.Name(), Errors: result.Errors}
	}

	// 2. Initial handle, published before the bundle starts.
	s.mu.Lock()
	s.current = d
	s.fallback = nil
	s.mu.Unlock()
	initial := s.discover(ctx, d)
	s.setHandle(ctx, initial)

	// 3. Loading view with a fresh mount point.
	if err := s.deps.Page.PrepareMount(ctx, s.cfg.MountElementID); err != nil {
		s.logger.Printf("prepare mount failed game=%s err=%v", d.Name(), err)
	}
	s.update(func(v *Snapshot) bool {
		v.State = StateLoading
		v.Loading = true
		return true
	})

	// The ready listener is armed before loading so a bundle that signals
	// during its own load is not missed.
	ready, err := s.deps.Page.ListenOnce(ctx, d.ReadyEventName())
	if err != nil {
		return s.failLoad(d, err)
	}

	// 4. Bundle.
	loadCtx, cancel := context.WithTimeout(ctx, s.cfg.LoadTimeout)
	err = s.deps.Loader.LoadGame(loadCtx, d)
	cancel()
	if err != nil {
		ready.Cancel()
		return s.failLoad(d, err)
	}

	// 5. Readiness, with fallback timeout.
	s.setState(StateWaitingForReady)
	_, fired, err := ready.Wait(ctx, s.cfg.ReadyTimeout)
	if err != nil {
		return s.failLoad(d, err)
	}
	if !fired {
		s.logger.Printf("ready event %q not received within %s game=%s; continuing", d.ReadyEventName(), s.cfg.ReadyTimeout, d.Name())
	}

	// 6. Rediscover.
	s.update(func(v *Snapshot) bool {
		v.State = StateDiscoveringHandle
		v.ReadyTimedOut = !fired
		return true
	})
	s.refreshHandle(ctx, d)

	// 7. Mount polling runs in the background.
	s.startMountPoll(epoch, d)

	// 8. Grace delay, then controls.
	if s.cfg.ControlsDelay > 0 {
		t := time.NewTimer(s.cfg.ControlsDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return s.failLoad(d, ctx.Err())
		}
	}
	s.refreshHandle(ctx, d)

	s.update(func(v *Snapshot) bool {
		v.State = StateReady
		v.Controls = idleControls()
		return true
	})
	s.logger.Printf("game ready game=%s handle=%s", d.Name(), s.Snapshot().HandleKind)
	return nil
}

func (s *Selector) failLoad(d *catalog.Descriptor, err error) error {
	if s.life.Err() != nil {
		s.logger.Printf("load abandoned game=%s: selector closed", d.Name())
		return ErrClosed
	}
	s.logger.Printf("load failed game=%s err=%v", d.Name(), err)
	s.mu.Lock()
	s.stopMountLocked()
	s.mu.Unlock()
	s.update(func(v *Snapshot) bool {
		v.State = StateLoadFailed
		v.Loading = false
		v.LoadError = err.Error()
		v.Retry = true
		return true
	})
	return err
}

// discover resolves the handle, substituting the orchestrator's own fallback
// so fallback events reach analytics.
func (s *Selector) discover(ctx context.Context, d *catalog.Descriptor) handle.Resolution {
	res := s.deps.Handles.Discover(ctx, d.Name())
	if res.Kind != handle.KindFallback {
		return res
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fallback == nil {
		s.fallback = handle.NewFallback(d.Name(), handle.SinkFunc(s.fallbackEvent))
	}
	res.Handle = s.fallback
	return res
}

func (s *Selector) refreshHandle(ctx context.Context, d *catalog.Descriptor) {
	s.mu.Lock()
	prev := s.res
	s.mu.Unlock()
	next := s.discover(ctx, d)
	if next.Same(prev) {
		return
	}
	s.logger.Printf("handle changed game=%s from=%s to=%s/%s", d.Name(), prev.Kind, next.Kind, next.Source)
	s.setHandle(ctx, next)
}

func (s *Selector) setHandle(ctx context.Context, res handle.Resolution) {
	s.mu.Lock()
	s.res = res
	s.mu.Unlock()
	if s.deps.Publisher != nil {
		if err := s.deps.Publisher.Publish(ctx, res); err != nil {
			s.logger.Printf("publish handle failed err=%v", err)
		}
	}
	s.update(func(v *Snapshot) bool {
		v.HandleKind = res.Kind
		v.HandleSource = res.Source
		return true
	})
}

// startMountPoll checks for the bundle's view MountPollDelay after
// readiness and then every MountPollInterval until it appears or a newer
// load or reload supersedes it.
func (s *Selector) startMountPoll(epoch uint64, d *catalog.Descriptor) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		cancel()
		return
	}
	s.stopMountLocked()
	s.stopMount = cancel
	s.mu.Unlock()

	go func() {
		defer cancel()
		wait := s.cfg.MountPollDelay
		for {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			mounted, err := s.deps.Page.HasMounted(ctx, s.cfg.MountElementID)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Printf("mount check failed game=%s err=%v", d.Name(), err)
			}
			if mounted {
				if s.updateEpoch(epoch, func(v *Snapshot) {
					v.Loading = false
					v.Mounted = true
				}) {
					s.logger.Printf("bundle mounted game=%s", d.Name())
				}
				return
			}
			wait = s.cfg.MountPollInterval
		}
	}()
}
