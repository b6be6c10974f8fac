package bindings

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/MJE43/minigame-hub/internal/catalog"
	"github.com/MJE43/minigame-hub/internal/handle"
	"github.com/MJE43/minigame-hub/internal/localstore"
	"github.com/MJE43/minigame-hub/internal/page"
	"github.com/MJE43/minigame-hub/internal/selector"
	"github.com/MJE43/minigame-hub/internal/session"
)

type fakeOrchestrator struct {
	current  *catalog.Descriptor
	actions  []handle.Action
	selected []string
	inited   *catalog.Metadata
}

func (f *fakeOrchestrator) Init(ctx context.Context, m *catalog.Metadata) error {
	f.inited = m
	return nil
}
func (f *fakeOrchestrator) Menu() []selector.MenuItem { return []selector.MenuItem{{Name: "trivia"}} }
func (f *fakeOrchestrator) Snapshot() selector.Snapshot {
	return selector.Snapshot{State: selector.StateIdle}
}
func (f *fakeOrchestrator) Current() *catalog.Descriptor {
	return f.current
}
func (f *fakeOrchestrator) SelectGame(ctx context.Context, name string) error {
	f.selected = append(f.selected, name)
	return nil
}
func (f *fakeOrchestrator) HandleGameAction(ctx context.Context, a handle.Action) error {
	f.actions = append(f.actions, a)
	return nil
}
func (f *fakeOrchestrator) Reload() error { return nil }

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func newApp(t *testing.T, gameType, difficulty string) (*App, *fakeOrchestrator, *session.Manager) {
	t.Helper()
	sessions, err := session.NewManager("p1", localstore.NewMemory(), session.Options{Logger: quiet()})
	if err != nil {
		t.Fatal(err)
	}
	orch := &fakeOrchestrator{current: catalog.MustDescriptor(catalog.Spec{
		Name: "trivia", MiniGameType: gameType, Difficulty: difficulty,
	})}
	return New(orch, sessions, nil, quiet()), orch, sessions
}

func TestActionParsesNames(t *testing.T) {
	app, orch, _ := newApp(t, "trivia", "easy")
	ctx := context.Background()

	if err := app.Action(ctx, "start"); err != nil {
		t.Fatalf("Action: %v", err)
	}
	if err := app.Action(ctx, "jump"); err == nil {
		t.Error("expected error for unknown action")
	}
	if len(orch.actions) != 1 || orch.actions[0] != handle.ActionStart {
		t.Errorf("actions = %v", orch.actions)
	}
	app.SelectGame(ctx, " puzzle ")
	if orch.selected[0] != "puzzle" {
		t.Errorf("selected = %v", orch.selected)
	}
}

func TestScoreTriviaStreak(t *testing.T) {
	app, _, sessions := newApp(t, "trivia", "medium")
	if _, err := app.Score(ScoreRequest{Correct: true}); !errors.Is(err, session.ErrNoActiveSession) {
		t.Fatalf("score without session err = %v", err)
	}
	sessions.StartSession("trivia", "t1", "medium")

	want := []struct {
		correct bool
		points  int
		streak  int
	}{
		{true, 15, 1}, // 10 * 1.5
		{true, 18, 2}, // (10 + 2) * 1.5
		{false, 0, 0},
		{true, 15, 1},
	}
	total := 0
	for i, w := range want {
		res, err := app.Score(ScoreRequest{Kind: "answer", Correct: w.correct})
		if err != nil {
			t.Fatalf("#%d: %v", i, err)
		}
		total += w.points
		if res.Points != w.points || res.Streak != w.streak || res.Score != total {
			t.Errorf("#%d: got %+v, want points=%d streak=%d score=%d", i, res, w.points, w.streak, total)
		}
	}
}

func TestScorePuzzleCompletion(t *testing.T) {
	app, _, sessions := newApp(t, "maze", "easy")
	sessions.StartSession("puzzle", "", "easy")

	res, err := app.Score(ScoreRequest{Kind: "complete", Moves: 12, OptimalMoves: 12})
	if err != nil {
		t.Fatal(err)
	}
	if res.Points != 150 {
		t.Errorf("points = %d, want 150", res.Points)
	}
}

func TestScoreWithoutGame(t *testing.T) {
	app, orch, _ := newApp(t, "trivia", "easy")
	orch.current = nil
	if _, err := app.Score(ScoreRequest{Correct: true}); !errors.Is(err, ErrNoGame) {
		t.Errorf("err = %v, want ErrNoGame", err)
	}
}

func TestStartupExposesSDK(t *testing.T) {
	host, err := page.New(page.Config{Logger: quiet()})
	if err != nil {
		t.Fatal(err)
	}
	defer host.Close()

	sessions, _ := session.NewManager("p1", localstore.NewMemory(), session.Options{Logger: quiet()})
	orch := &fakeOrchestrator{current: catalog.MustDescriptor(catalog.Spec{Name: "trivia", MiniGameType: "trivia", Difficulty: "hard"})}
	app := New(orch, sessions, host, quiet())

	ctx := context.Background()
	meta := &catalog.Metadata{Name: "trivia"}
	if err := app.Startup(ctx, meta); err != nil {
		t.Fatalf("Startup: %v", err)
	}
	if orch.inited != meta {
		t.Error("orchestrator not initialized with preselected metadata")
	}

	if v, _ := host.Evaluate(ctx, `hubSDK.currentSession() === null`); v != true {
		t.Error("expected no session before start")
	}
	sessions.StartSession("trivia", "", "hard")

	points, err := host.Evaluate(ctx, `hubSDK.scoreAction({kind: 'answer', correct: true}).points`)
	if err != nil {
		t.Fatalf("scoreAction: %v", err)
	}
	if points != int64(20) {
		t.Errorf("points = %#v, want 20", points)
	}
	score, _ := host.Evaluate(ctx, `hubSDK.updateScore(5, false).score`)
	if score != int64(25) {
		t.Errorf("score = %#v, want 25", score)
	}
	if cur := sessions.CurrentSession(); cur.Attempts != 2 || cur.Streak != 0 {
		t.Errorf("session = %+v", cur)
	}
}
