// Package hubapi is the hub's HTTP surface: the demo tracking backend
// (login, sessions, analytics ingest), static bundle hosting, page host
// controls and the live state stream.
package hubapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MJE43/minigame-hub/bindings"
	"github.com/MJE43/minigame-hub/internal/catalog"
	"github.com/MJE43/minigame-hub/internal/hubstore"
	"github.com/MJE43/minigame-hub/internal/selector"
	"github.com/MJE43/minigame-hub/internal/session"
)

// Host is the page host surface exposed under /host.
type Host interface {
	Menu() []selector.MenuItem
	State() selector.Snapshot
	SelectGame(ctx context.Context, name string) error
	Action(ctx context.Context, name string) error
	Reload() error
	Score(req bindings.ScoreRequest) (bindings.ScoreResult, error)
	History() ([]session.GameSession, error)
	Stats() (session.UserStats, error)
}

// Options configures a Server. Store, JWTSecret are required; Host, Live,
// Registry and BundleDir enable their routes when set.
type Options struct {
	Store       *hubstore.Store
	JWTSecret   string
	TokenTTL    time.Duration
	IngestToken string
	Registry    *catalog.Registry
	BundleDir   string
	Host        Host
	Live        http.Handler
	Logger      *log.Logger
}

// Server handles HTTP requests.
type Server struct {
	store       *hubstore.Store
	issuer      *Issuer
	ingestToken string
	registry    *catalog.Registry
	bundleDir   string
	host        Host
	live        http.Handler
	errors      *ErrorHandler
	logger      *log.Logger
	startTime   time.Time

	httpServer *http.Server
}

// NewServer creates a server.
func NewServer(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("hubapi: store is required")
	}
	issuer, err := NewIssuer(opts.JWTSecret, opts.TokenTTL)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[API] ", log.LstdFlags)
	}
	return &Server{
		store:       opts.Store,
		issuer:      issuer,
		ingestToken: opts.IngestToken,
		registry:    opts.Registry,
		bundleDir:   opts.BundleDir,
		host:        opts.Host,
		live:        opts.Live,
		errors:      NewErrorHandler(logger),
		logger:      logger,
		startTime:   time.Now(),
	}, nil
}

// Routes sets up the HTTP routes with middleware.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequest)
	r.Use(s.errors.RecoveryHandler)
	r.Use(s.corsMiddleware)

	r.Get("/health", s.handleHealth)

	if s.live != nil {
		r.Handle("/ws", s.live)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Route("/api", func(r chi.Router) {
			r.Post("/auth/login", s.handleLogin)
			r.With(s.authenticate(true)).Get("/me", s.handleMe)
			r.Get("/games", s.handleListGames)

			r.Group(func(r chi.Router) {
				r.Use(s.authenticate(false))
				r.Post("/sessions", s.handleSaveSession)
				r.Get("/sessions", s.handleListSessions)
				r.Post("/track", s.handleTrack)
				r.Get("/events", s.handleListEvents)
				r.Get("/events/tail", s.handleTailEvents)
				r.Get("/events/export.csv", s.handleExportEvents)
			})
		})

		if s.bundleDir != "" {
			fs := http.StripPrefix("/games/", http.FileServer(http.Dir(s.bundleDir)))
			r.Handle("/games/*", noCache(fs))
		}

		if s.host != nil {
			r.Route("/host", s.hostRoutes)
		}
	})

	return r
}

// Start listens on addr in a goroutine and returns once the socket is bound.
func (s *Server) Start(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s.httpServer = &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("serve failed: %v", err)
		}
	}()
	s.logger.Printf("listening addr=%s", ln.Addr())
	return ln.Addr(), nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// GameInfo is one entry of GET /api/games.
type GameInfo struct {
	Name         string `json:"name"`
	Title        string `json:"title"`
	BaseURL      string `json:"baseUrl"`
	Icon         string `json:"icon,omitempty"`
	Gradient     string `json:"gradient,omitempty"`
	ReadyEvent   string `json:"readyEvent"`
	Difficulty   string `json:"difficulty,omitempty"`
	MiniGameType string `json:"gameType,omitempty"`
}

// GET /api/games
func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	out := []GameInfo{}
	if s.registry != nil {
		for _, d := range s.registry.GetAll() {
			out = append(out, GameInfo{
				Name:         d.Name(),
				Title:        d.Title(),
				BaseURL:      d.BaseURL(),
				Icon:         d.Icon(),
				Gradient:     d.DisplayGradient(),
				ReadyEvent:   d.ReadyEventName(),
				Difficulty:   d.Difficulty(),
				MiniGameType: d.MiniGameType(),
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"games": out, "count": len(out)})
}

// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "healthy", http.StatusOK
	checks := map[string]string{"database": "ok"}
	if err := s.store.Ping(ctx); err != nil {
		status, code = "unhealthy", http.StatusServiceUnavailable
		checks["database"] = err.Error()
	}
	games := 0
	if s.registry != nil {
		games = s.registry.Len()
	}
	if games == 0 && status == "healthy" {
		status = "degraded"
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"uptime":     time.Since(s.startTime).Round(time.Second).String(),
		"games":      games,
		"checks":     checks,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"request_id": middleware.GetReqID(r.Context()),
	})
}

// ========== Middleware ==========

func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Printf("%s %s status=%d bytes=%d took=%s request_id=%s",
			r.Method, r.URL.Path, ww.Status(), ww.BytesWritten(), time.Since(start).Round(time.Millisecond),
			middleware.GetReqID(r.Context()))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Ingest-Token")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// ========== Helpers ==========

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Hub-Version", Version)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body, writing a validation error on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		s.errors.HandleValidationError(w, r, "body", "invalid JSON")
		return false
	}
	return true
}

func qInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func qInt64(r *http.Request, key string, def int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return i
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
