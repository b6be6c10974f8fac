// Package scoring turns gameplay actions into points. Each game type has a
// statically defined Strategy composed from the shared bonus helpers.
package scoring

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Action kinds reported by bundles.
const (
	ActionAnswer   = "answer"
	ActionMove     = "move"
	ActionComplete = "complete"
)

// Action is one scored player action.
type Action struct {
	Kind    string `json:"kind"`
	Correct bool   `json:"correct"`
	// BasePoints overrides the strategy's base award when positive.
	BasePoints int `json:"basePoints,omitempty"`
}

// Context is the game state an action is scored against.
type Context struct {
	Difficulty   string        `json:"difficulty"`
	Streak       int           `json:"streak"`
	Elapsed      time.Duration `json:"elapsed"`
	TimeLimit    time.Duration `json:"timeLimit"`
	Moves        int           `json:"moves"`
	OptimalMoves int           `json:"optimalMoves"`
}

// Strategy computes the points for an action.
type Strategy interface {
	CalculateScore(a Action, c Context) int
}

var difficultyMultipliers = map[string]decimal.Decimal{
	"easy":   decimal.NewFromInt(1),
	"medium": decimal.RequireFromString("1.5"),
	"hard":   decimal.NewFromInt(2),
}

// Multiplier returns the difficulty multiplier, 1 for unknown difficulties.
func Multiplier(difficulty string) decimal.Decimal {
	if m, ok := difficultyMultipliers[strings.ToLower(difficulty)]; ok {
		return m
	}
	return decimal.NewFromInt(1)
}

// ApplyMultiplier scales points by the difficulty multiplier, rounding half
// away from zero.
func ApplyMultiplier(points int, difficulty string) int {
	return int(decimal.NewFromInt(int64(points)).Mul(Multiplier(difficulty)).Round(0).IntPart())
}

// TimeBonus awards up to max points in proportion to the unused share of
// limit. No limit or an exhausted one yields 0.
func TimeBonus(elapsed, limit time.Duration, max int) int {
	if limit <= 0 || elapsed >= limit || max <= 0 {
		return 0
	}
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := decimal.NewFromInt(int64(limit - elapsed))
	share := remaining.Div(decimal.NewFromInt(int64(limit)))
	return int(share.Mul(decimal.NewFromInt(int64(max))).Floor().IntPart())
}

// StreakBonus awards per points for every consecutive success after the
// first, capped at max.
func StreakBonus(streak, per, max int) int {
	if streak < 2 {
		return 0
	}
	bonus := (streak - 1) * per
	if bonus > max {
		return max
	}
	return bonus
}

func base(a Action, fallback int) int {
	if a.BasePoints > 0 {
		return a.BasePoints
	}
	return fallback
}

// Trivia scores answers: nothing for a wrong one, otherwise base points plus
// speed and streak bonuses, scaled by difficulty.
type Trivia struct{}

func (Trivia) CalculateScore(a Action, c Context) int {
	if a.Kind != ActionAnswer || !a.Correct {
		return 0
	}
	pts := base(a, 10) + TimeBonus(c.Elapsed, c.TimeLimit, 5) + StreakBonus(c.Streak, 2, 10)
	return ApplyMultiplier(pts, c.Difficulty)
}

// Puzzle scores only completion: base points plus move efficiency and time
// bonuses, scaled by difficulty.
type Puzzle struct{}

func (Puzzle) CalculateScore(a Action, c Context) int {
	if a.Kind != ActionComplete {
		return 0
	}
	pts := base(a, 100) + efficiencyBonus(c.Moves, c.OptimalMoves, 50) + TimeBonus(c.Elapsed, c.TimeLimit, 50)
	return ApplyMultiplier(pts, c.Difficulty)
}

func efficiencyBonus(moves, optimal, max int) int {
	if optimal <= 0 || moves <= 0 {
		return 0
	}
	if moves <= optimal {
		return max
	}
	bonus := max - (moves-optimal)*2
	if bonus < 0 {
		return 0
	}
	return bonus
}

// Flat awards base points for any correct action. Used for unknown games.
type Flat struct{}

func (Flat) CalculateScore(a Action, c Context) int {
	if !a.Correct && a.Kind != ActionComplete {
		return 0
	}
	return base(a, 10)
}

// For returns the strategy for a mini-game type.
func For(gameType string) Strategy {
	switch strings.ToLower(gameType) {
	case "trivia", "quiz":
		return Trivia{}
	case "maze", "puzzle":
		return Puzzle{}
	default:
		return Flat{}
	}
}
