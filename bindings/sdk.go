package bindings

import (
	"github.com/MJE43/minigame-hub/internal/session"
)

// sdk builds the hubSDK global. Its functions run on the page's loop
// goroutine and must not call back into the page host.
func (a *App) sdk() map[string]any {
	return map[string]any{
		"scoreAction": func(req map[string]any) map[string]any {
			res, err := a.Score(scoreRequestFrom(req))
			if err != nil {
				a.logger.Printf("sdk scoreAction failed: %v", err)
				return map[string]any{"error": err.Error()}
			}
			return map[string]any{
				"points":    res.Points,
				"score":     res.Score,
				"streak":    res.Streak,
				"sessionId": res.SessionID,
			}
		},
		"updateScore": func(points int, isCorrect bool) map[string]any {
			s, err := a.sessions.UpdateScore(points, isCorrect)
			if err != nil {
				a.logger.Printf("sdk updateScore failed: %v", err)
				return map[string]any{"error": err.Error()}
			}
			return sessionView(s)
		},
		"setTotalQuestions": func(n int) bool {
			if err := a.sessions.SetTotalQuestions(n); err != nil {
				a.logger.Printf("sdk setTotalQuestions failed: %v", err)
				return false
			}
			return true
		},
		"currentSession": func() map[string]any {
			return sessionView(a.sessions.CurrentSession())
		},
	}
}

func sessionView(s *session.GameSession) map[string]any {
	if s == nil {
		return nil
	}
	return map[string]any{
		"sessionId":      s.SessionID,
		"gameId":         s.GameID,
		"status":         string(s.Status),
		"score":          s.Score,
		"streak":         s.Streak,
		"correctAnswers": s.CorrectAnswers,
		"attempts":       s.Attempts,
	}
}

func scoreRequestFrom(m map[string]any) ScoreRequest {
	var req ScoreRequest
	req.Kind, _ = m["kind"].(string)
	req.Correct, _ = m["correct"].(bool)
	req.BasePoints = int(number(m["basePoints"]))
	req.ElapsedMs = number(m["elapsedMs"])
	req.TimeLimitMs = number(m["timeLimitMs"])
	req.Moves = int(number(m["moves"]))
	req.OptimalMoves = int(number(m["optimalMoves"]))
	return req
}

// number reads a JS number exported as int64 or float64.
func number(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
