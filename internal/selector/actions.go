package selector

import (
	"context"
	"errors"
	"fmt"

	"github.com/MJE43/minigame-hub/internal/handle"
	"github.com/MJE43/minigame-hub/internal/session"
	"github.com/MJE43/minigame-hub/internal/tracking"
)

func controls(visible ...handle.Action) []Button {
	out := make([]Button, len(handle.Actions))
	for i, a := range handle.Actions {
		out[i] = Button{Action: a}
		for _, v := range visible {
			if v == a {
				out[i].Visible = true
			}
		}
	}
	return out
}

func idleControls() []Button { return controls(handle.ActionStart) }

func playingControls() []Button {
	return controls(handle.ActionPause, handle.ActionRestart, handle.ActionEnd)
}

func pausedControls() []Button {
	return controls(handle.ActionResume, handle.ActionRestart, handle.ActionEnd)
}

// HandleGameAction dispatches a lifecycle control to the current handle and
// the session tracker. Handle and tracker failures are logged and never stop
// the control transition. Only hidden or unavailable controls return an
// error.
func (s *Selector) HandleGameAction(ctx context.Context, a handle.Action) error {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	d, res := s.current, s.res
	snap := s.view.clone()
	if s.loading || d == nil || res.Handle == nil || snap.State != StateReady {
		s.mu.Unlock()
		return ErrNotReady
	}
	if !snap.Visible(a) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrActionHidden, a)
	}
	s.acting = true
	epoch := s.epoch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.acting = false
		s.mu.Unlock()
	}()

	s.updateEpoch(epoch, func(v *Snapshot) { v.State = StateDispatchingAction })
	s.logger.Printf("action game=%s action=%s handle=%s", d.Name(), a, res.Kind)

	var next []Button
	var actionErr error
	switch a {
	case handle.ActionStart:
		actionErr = s.invoke(ctx, res.Handle, a)
		s.startTracking(d.Name(), d.Difficulty(), d.MiniGameType())
		next = playingControls()
	case handle.ActionPause:
		actionErr = s.invoke(ctx, res.Handle, a)
		s.track("pause", func(t SessionTracker) (*session.GameSession, error) { return t.PauseSession() })
		next = pausedControls()
	case handle.ActionResume:
		actionErr = s.invoke(ctx, res.Handle, a)
		s.track("resume", func(t SessionTracker) (*session.GameSession, error) { return t.ResumeSession() })
		next = playingControls()
	case handle.ActionEnd:
		actionErr = s.invoke(ctx, res.Handle, a)
		s.endTracking(d.Name(), d.Difficulty(), d.MiniGameType(), session.StatusCompleted)
		next = idleControls()
	case handle.ActionRestart:
		if res.Handle.Supports(ctx, handle.ActionRestart) {
			actionErr = s.invoke(ctx, res.Handle, a)
			s.endTracking(d.Name(), d.Difficulty(), d.MiniGameType(), session.StatusAbandoned)
		} else {
			actionErr = s.invoke(ctx, res.Handle, handle.ActionEnd)
			s.endTracking(d.Name(), d.Difficulty(), d.MiniGameType(), session.StatusCompleted)
			if err := s.invoke(ctx, res.Handle, handle.ActionStart); err != nil && actionErr == nil {
				actionErr = err
			}
		}
		s.startTracking(d.Name(), d.Difficulty(), d.MiniGameType())
		next = playingControls()
	default:
		s.updateEpoch(epoch, func(v *Snapshot) { v.State = StateReady })
		return fmt.Errorf("%w: %s", ErrActionHidden, a)
	}

	var sessionID string
	if s.deps.Sessions != nil {
		if cur := s.deps.Sessions.CurrentSession(); cur != nil {
			sessionID = cur.SessionID
		}
	}
	// A reload during the action owns the view now.
	if !s.updateEpoch(epoch, func(v *Snapshot) {
		v.State = StateReady
		v.Controls = next
		v.LastAction = string(a)
		v.LastActionError = ""
		if actionErr != nil {
			v.LastActionError = actionErr.Error()
		}
		v.SessionID = sessionID
	}) {
		s.logger.Printf("action result discarded game=%s action=%s: page reloaded", d.Name(), a)
	}
	return nil
}

// invoke calls the handle and swallows its failure after logging it.
func (s *Selector) invoke(ctx context.Context, h handle.Runtime, a handle.Action) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
	defer cancel()
	err := h.Invoke(ctx, a)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, handle.ErrUnsupported):
		s.logger.Printf("handle has no %s; skipping", a)
		return nil
	default:
		s.logger.Printf("handle action failed action=%s err=%v", a, err)
		return err
	}
}

func (s *Selector) track(op string, fn func(SessionTracker) (*session.GameSession, error)) *session.GameSession {
	if s.deps.Sessions == nil {
		return nil
	}
	sess, err := fn(s.deps.Sessions)
	if err != nil {
		s.logger.Printf("session %s failed err=%v", op, err)
		return nil
	}
	return sess
}

func (s *Selector) tenant() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tenantID
}

func (s *Selector) startTracking(game, difficulty, gameType string) {
	tenant := s.tenant()
	sess := s.track("start", func(t SessionTracker) (*session.GameSession, error) {
		return t.StartSession(game, tenant, difficulty)
	})
	env := s.envelope(tracking.EventGamePlayStart, game, difficulty, gameType)
	if sess != nil {
		env.SessionID = sess.SessionID
	}
	s.send(env)
}

func (s *Selector) endTracking(game, difficulty, gameType string, status session.Status) {
	sess := s.track("end", func(t SessionTracker) (*session.GameSession, error) {
		return t.EndSession(status)
	})
	env := s.envelope(tracking.EventGamePlayEnd, game, difficulty, gameType)
	env.Payload.CompletionStatus = string(status)
	if sess != nil {
		env.SessionID = sess.SessionID
		score := sess.Score
		env.Payload.FinalScore = &score
		if sess.EndTime != nil {
			d := *sess.EndTime - sess.StartTime
			env.Payload.DurationMs = &d
		}
	}
	s.send(env)
}

func (s *Selector) envelope(eventType, game, difficulty, gameType string) tracking.Envelope {
	return tracking.Envelope{
		TenantID:  s.tenant(),
		PlayerID:  s.cfg.PlayerID,
		EventType: eventType,
		Payload: tracking.GamePayload{
			GameID:       game,
			MiniGameType: gameType,
			Difficulty:   difficulty,
		},
	}
}

func (s *Selector) send(env tracking.Envelope) {
	if s.deps.Analytics == nil {
		return
	}
	s.deps.Analytics.Send(env)
}

// fallbackEvent reports start and end calls on a synthetic handle.
func (s *Selector) fallbackEvent(ctx context.Context, game string, a handle.Action) {
	eventType := tracking.EventFallbackStart
	if a == handle.ActionEnd {
		eventType = tracking.EventFallbackEnd
	}
	s.logger.Printf("fallback handle %s game=%s", a, game)
	var difficulty, gameType string
	if d := s.Current(); d != nil && d.Name() == game {
		difficulty, gameType = d.Difficulty(), d.MiniGameType()
	}
	s.send(s.envelope(eventType, game, difficulty, gameType))
}
