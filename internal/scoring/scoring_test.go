package scoring

import (
	"testing"
	"time"
)

func TestApplyMultiplier(t *testing.T) {
	tests := []struct {
		points     int
		difficulty string
		want       int
	}{
		{10, "easy", 10},
		{10, "medium", 15},
		{11, "medium", 17},
		{10, "HARD", 20},
		{10, "unknown", 10},
		{0, "hard", 0},
	}
	for _, tt := range tests {
		if got := ApplyMultiplier(tt.points, tt.difficulty); got != tt.want {
			t.Errorf("ApplyMultiplier(%d, %q) = %d, want %d", tt.points, tt.difficulty, got, tt.want)
		}
	}
}

func TestTimeBonus(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		limit   time.Duration
		want    int
	}{
		{"no limit", time.Second, 0, 0},
		{"instant", 0, 10 * time.Second, 5},
		{"half", 5 * time.Second, 10 * time.Second, 2},
		{"over", 11 * time.Second, 10 * time.Second, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TimeBonus(tt.elapsed, tt.limit, 5); got != tt.want {
				t.Errorf("TimeBonus = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStreakBonus(t *testing.T) {
	if got := StreakBonus(1, 2, 10); got != 0 {
		t.Errorf("first success bonus = %d", got)
	}
	if got := StreakBonus(3, 2, 10); got != 4 {
		t.Errorf("streak 3 bonus = %d, want 4", got)
	}
	if got := StreakBonus(20, 2, 10); got != 10 {
		t.Errorf("capped bonus = %d, want 10", got)
	}
}

func TestTriviaStrategy(t *testing.T) {
	s := For("trivia")
	if got := s.CalculateScore(Action{Kind: ActionAnswer, Correct: false}, Context{Difficulty: "hard"}); got != 0 {
		t.Errorf("wrong answer = %d, want 0", got)
	}
	got := s.CalculateScore(Action{Kind: ActionAnswer, Correct: true}, Context{
		Difficulty: "medium",
		Streak:     3,
		Elapsed:    0,
		TimeLimit:  10 * time.Second,
	})
	// (10 + 5 + 4) * 1.5 = 28.5 -> 29
	if got != 29 {
		t.Errorf("correct answer = %d, want 29", got)
	}
}

func TestPuzzleStrategy(t *testing.T) {
	s := For("maze")
	if got := s.CalculateScore(Action{Kind: ActionMove}, Context{}); got != 0 {
		t.Errorf("move = %d, want 0", got)
	}
	got := s.CalculateScore(Action{Kind: ActionComplete}, Context{
		Difficulty:   "easy",
		Moves:        25,
		OptimalMoves: 20,
	})
	// 100 + (50 - 10) + 0
	if got != 140 {
		t.Errorf("completion = %d, want 140", got)
	}
}

func TestFlatStrategy(t *testing.T) {
	s := For("snake")
	if got := s.CalculateScore(Action{Kind: ActionAnswer, Correct: true, BasePoints: 7}, Context{}); got != 7 {
		t.Errorf("flat = %d, want 7", got)
	}
}
