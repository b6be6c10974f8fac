// Package bindings is the host-facing facade over the orchestrator. The HTTP
// host routes, the websocket command channel and the stdin loop all drive the
// page through an App.
package bindings

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/MJE43/minigame-hub/internal/catalog"
	"github.com/MJE43/minigame-hub/internal/handle"
	"github.com/MJE43/minigame-hub/internal/scoring"
	"github.com/MJE43/minigame-hub/internal/selector"
	"github.com/MJE43/minigame-hub/internal/session"
)

// SDKGlobal is the page global through which bundles report scores.
const SDKGlobal = "hubSDK"

// ErrNoGame is returned by scoring calls when no game is loaded.
var ErrNoGame = errors.New("bindings: no game loaded")

// Orchestrator is the selector surface the App drives.
type Orchestrator interface {
	Init(ctx context.Context, preselected *catalog.Metadata) error
	Menu() []selector.MenuItem
	Snapshot() selector.Snapshot
	Current() *catalog.Descriptor
	SelectGame(ctx context.Context, name string) error
	HandleGameAction(ctx context.Context, a handle.Action) error
	Reload() error
}

// Sessions is the tracker surface the App reads and scores against.
type Sessions interface {
	CurrentSession() *session.GameSession
	UpdateScore(points int, isCorrect bool) (*session.GameSession, error)
	SetTotalQuestions(n int) error
	History() ([]session.GameSession, error)
	UserStats() (session.UserStats, error)
}

// Exposer publishes Go values as page globals.
type Exposer interface {
	Expose(ctx context.Context, name string, value any) error
}

// App is the facade. Construct it with New and call Startup once the page
// host is running.
type App struct {
	sel      Orchestrator
	sessions Sessions
	page     Exposer
	logger   *log.Logger
}

// New creates an App. page may be nil when no SDK should be exposed.
func New(sel Orchestrator, sessions Sessions, page Exposer, logger *log.Logger) *App {
	if logger == nil {
		logger = log.New(os.Stdout, "[app] ", log.LstdFlags)
	}
	return &App{sel: sel, sessions: sessions, page: page, logger: logger}
}

// Startup exposes the scoring SDK to bundles and initializes the
// orchestrator, auto-loading preselected when it is non-nil.
func (a *App) Startup(ctx context.Context, preselected *catalog.Metadata) error {
	if a.page != nil {
		if err := a.page.Expose(ctx, SDKGlobal, a.sdk()); err != nil {
			return fmt.Errorf("bindings: expose sdk: %w", err)
		}
	}
	return a.sel.Init(ctx, preselected)
}

func (a *App) Menu() []selector.MenuItem { return a.sel.Menu() }

func (a *App) State() selector.Snapshot { return a.sel.Snapshot() }

func (a *App) SelectGame(ctx context.Context, name string) error {
	return a.sel.SelectGame(ctx, strings.TrimSpace(name))
}

// Action parses and dispatches a lifecycle control by name.
func (a *App) Action(ctx context.Context, name string) error {
	act, err := handle.ParseAction(name)
	if err != nil {
		return err
	}
	return a.sel.HandleGameAction(ctx, act)
}

func (a *App) Reload() error { return a.sel.Reload() }

func (a *App) History() ([]session.GameSession, error) { return a.sessions.History() }

func (a *App) Stats() (session.UserStats, error) { return a.sessions.UserStats() }

// ScoreRequest reports one scored player action.
type ScoreRequest struct {
	Kind         string `json:"kind"`
	Correct      bool   `json:"correct"`
	BasePoints   int    `json:"basePoints,omitempty"`
	ElapsedMs    int64  `json:"elapsedMs,omitempty"`
	TimeLimitMs  int64  `json:"timeLimitMs,omitempty"`
	Moves        int    `json:"moves,omitempty"`
	OptimalMoves int    `json:"optimalMoves,omitempty"`
}

// ScoreResult is the points awarded and the session totals after them.
type ScoreResult struct {
	Points    int    `json:"points"`
	Score     int    `json:"score"`
	Streak    int    `json:"streak"`
	SessionID string `json:"sessionId"`
}

// Score awards points for an action using the loaded game's strategy and
// records them on the active session.
func (a *App) Score(req ScoreRequest) (ScoreResult, error) {
	d := a.sel.Current()
	if d == nil {
		return ScoreResult{}, ErrNoGame
	}
	cur := a.sessions.CurrentSession()
	if cur == nil {
		return ScoreResult{}, session.ErrNoActiveSession
	}
	if req.Kind == "" {
		req.Kind = scoring.ActionAnswer
	}
	success := req.Correct || req.Kind == scoring.ActionComplete

	streak := 0
	if success {
		streak = cur.Streak + 1
	}
	points := scoring.For(d.MiniGameType()).CalculateScore(
		scoring.Action{Kind: req.Kind, Correct: req.Correct, BasePoints: req.BasePoints},
		scoring.Context{
			Difficulty:   d.Difficulty(),
			Streak:       streak,
			Elapsed:      time.Duration(req.ElapsedMs) * time.Millisecond,
			TimeLimit:    time.Duration(req.TimeLimitMs) * time.Millisecond,
			Moves:        req.Moves,
			OptimalMoves: req.OptimalMoves,
		},
	)
	updated, err := a.sessions.UpdateScore(points, success)
	if err != nil {
		return ScoreResult{}, err
	}
	a.logger.Printf("scored game=%s kind=%s points=%d total=%d", d.Name(), req.Kind, points, updated.Score)
	return ScoreResult{Points: points, Score: updated.Score, Streak: updated.Streak, SessionID: updated.SessionID}, nil
}
