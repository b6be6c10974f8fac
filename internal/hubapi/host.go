package hubapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MJE43/minigame-hub/bindings"
	"github.com/MJE43/minigame-hub/internal/loader"
	"github.com/MJE43/minigame-hub/internal/selector"
	"github.com/MJE43/minigame-hub/internal/session"
)

func (s *Server) hostRoutes(r chi.Router) {
	r.Get("/menu", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.host.Menu())
	})
	r.Get("/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.host.State())
	})
	r.Post("/select/{game}", s.handleSelect)
	r.Post("/action/{action}", s.handleAction)
	r.Post("/reload", s.handleReload)
	r.Post("/score", s.handleScore)
	r.Get("/history", s.handleHistory)
	r.Get("/stats", s.handleStats)
}

// POST /host/select/{game}
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	if err := s.host.SelectGame(r.Context(), chi.URLParam(r, "game")); err != nil {
		s.writeHostError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.host.State())
}

// POST /host/action/{action}
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	if err := s.host.Action(r.Context(), chi.URLParam(r, "action")); err != nil {
		s.writeHostError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.host.State())
}

// POST /host/reload
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.host.Reload(); err != nil {
		s.writeHostError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.host.State())
}

// POST /host/score
func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req bindings.ScoreRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.host.Score(req)
	if err != nil {
		s.writeHostError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /host/history
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	items, err := s.host.History()
	if err != nil {
		s.writeHostError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// GET /host/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.host.Stats()
	if err != nil {
		s.writeHostError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// writeHostError maps orchestrator errors onto HTTP statuses.
func (s *Server) writeHostError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *selector.ValidationError
	var lErr *loader.LoadError
	switch {
	case errors.As(err, &vErr):
		e := NewError(ErrTypeValidation, "game failed validation").
			WithContext("game", vErr.Game).
			WithContext("errors", vErr.Errors).
			Build()
		s.errors.writeErrorResponse(w, http.StatusUnprocessableEntity, e)
	case errors.As(err, &lErr):
		s.errors.Write(w, r, http.StatusBadGateway, ErrTypeLoadFailed, "game bundle failed to load", err)
	case errors.Is(err, selector.ErrUnknownGame):
		s.errors.Write(w, r, http.StatusNotFound, ErrTypeNotFound, "unknown game", err)
	case errors.Is(err, selector.ErrLoadInProgress):
		s.errors.Write(w, r, http.StatusConflict, ErrTypeConflict, "a game is already loading", err)
	case errors.Is(err, selector.ErrActionInProgress):
		s.errors.Write(w, r, http.StatusConflict, ErrTypeConflict, "a game action is in progress", err)
	case errors.Is(err, selector.ErrClosed):
		s.errors.Write(w, r, http.StatusServiceUnavailable, ErrTypeUnavailable, "host is shutting down", err)
	case errors.Is(err, selector.ErrReloadRequired):
		s.errors.Write(w, r, http.StatusConflict, ErrTypeConflict, "reload required", err)
	case errors.Is(err, selector.ErrNotReady), errors.Is(err, selector.ErrActionHidden),
		errors.Is(err, bindings.ErrNoGame), errors.Is(err, session.ErrNoActiveSession):
		s.errors.Write(w, r, http.StatusConflict, ErrTypeNotReady, err.Error(), nil)
	default:
		s.errors.Write(w, r, http.StatusBadRequest, ErrTypeValidation, err.Error(), nil)
	}
}
