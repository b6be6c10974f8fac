package hubapi

import (
	"net/http"
	"strings"

	"github.com/MJE43/minigame-hub/internal/hubstore"
	"github.com/MJE43/minigame-hub/internal/session"
	"github.com/MJE43/minigame-hub/internal/tracking"
)

// POST /api/sessions
func (s *Server) handleSaveSession(w http.ResponseWriter, r *http.Request) {
	var gs session.GameSession
	if !s.decode(w, r, &gs) {
		return
	}
	if gs.SessionID == "" || gs.GameID == "" {
		s.errors.HandleValidationError(w, r, "sessionId/gameId", "sessionId and gameId are required")
		return
	}
	if gs.PlayerID == "" {
		if claims, ok := ClaimsFrom(r.Context()); ok {
			gs.PlayerID = claims.Subject
		}
	}
	if err := s.store.SaveSession(r.Context(), gs); err != nil {
		s.errors.Write(w, r, http.StatusInternalServerError, ErrTypeInternal, "failed to save session", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sessionId": gs.SessionID, "status": gs.Status})
}

// GET /api/sessions?playerId=&limit=&offset=
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(qInt(r, "limit", 100), 1, 500)
	offset := clampInt(qInt(r, "offset", 0), 0, 1_000_000)
	items, err := s.store.ListSessions(r.Context(), r.URL.Query().Get("playerId"), limit, offset)
	if err != nil {
		s.errors.Write(w, r, http.StatusInternalServerError, ErrTypeInternal, "failed to list sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// POST /api/track
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	if s.ingestToken != "" && r.Header.Get("X-Ingest-Token") != s.ingestToken {
		if _, ok := ClaimsFrom(r.Context()); !ok {
			s.errors.Write(w, r, http.StatusUnauthorized, ErrTypeUnauthorized, "missing or invalid X-Ingest-Token", nil)
			return
		}
	}
	var env tracking.Envelope
	if !s.decode(w, r, &env) {
		return
	}
	if env.EventID == "" || env.EventType == "" {
		s.errors.HandleValidationError(w, r, "eventId/eventType", "eventId and eventType are required")
		return
	}
	res, err := s.store.IngestEvent(r.Context(), env)
	if err != nil {
		s.errors.Write(w, r, http.StatusInternalServerError, ErrTypeInternal, "failed to ingest event", err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// GET /api/events?type=&playerId=&gameId=&limit=&offset=
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := hubstore.EventFilter{
		EventType: strings.TrimSpace(q.Get("type")),
		PlayerID:  q.Get("playerId"),
		GameID:    q.Get("gameId"),
	}
	limit := clampInt(qInt(r, "limit", 500), 1, 10000)
	offset := clampInt(qInt(r, "offset", 0), 0, 1_000_000)
	rows, total, err := s.store.ListEvents(r.Context(), filter, limit, offset)
	if err != nil {
		s.errors.Write(w, r, http.StatusInternalServerError, ErrTypeInternal, "failed to list events", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": total, "rows": rows})
}

// GET /api/events/tail?since_id=&limit=
func (s *Server) handleTailEvents(w http.ResponseWriter, r *http.Request) {
	sinceID := qInt64(r, "since_id", 0)
	limit := clampInt(qInt(r, "limit", 1000), 1, 5000)
	rows, err := s.store.TailEvents(r.Context(), sinceID, limit)
	if err != nil {
		s.errors.Write(w, r, http.StatusInternalServerError, ErrTypeInternal, "failed to tail events", err)
		return
	}
	lastID := sinceID
	if len(rows) > 0 {
		lastID = rows[len(rows)-1].ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows, "lastID": lastID})
}

// GET /api/events/export.csv
func (s *Server) handleExportEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="events.csv"`)
	if err := s.store.ExportCSV(r.Context(), w); err != nil {
		s.logger.Printf("export events failed: %v", err)
	}
}
