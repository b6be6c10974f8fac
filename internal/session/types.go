// Package session tracks local play sessions, keeps a rolling history in
// durable storage and mirrors finished sessions to the hub backend.
package session

import "errors"

// Status is a session's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// Event types appended to a session's log.
const (
	EventStart     = "start"
	EventCorrect   = "correct"
	EventIncorrect = "incorrect"
	EventPause     = "pause"
	EventResume    = "resume"
	EventEnd       = "end"
)

var (
	ErrNoActiveSession   = errors.New("session: no active session")
	ErrInvalidTransition = errors.New("session: invalid status transition")
)

// Event is one entry in a session's append-only log. Timestamps are unix
// milliseconds and strictly increase within a session.
type Event struct {
	Type      string         `json:"type"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// GameSession is one play attempt.
type GameSession struct {
	SessionID      string  `json:"sessionId"`
	GameID         string  `json:"gameId"`
	TenantID       string  `json:"tenantId,omitempty"`
	PlayerID       string  `json:"playerId"`
	StartTime      int64   `json:"startTime"`
	EndTime        *int64  `json:"endTime,omitempty"`
	Status         Status  `json:"status"`
	Score          int     `json:"score"`
	MaxScore       int     `json:"maxScore"`
	Streak         int     `json:"streak"`
	Attempts       int     `json:"attempts"`
	CorrectAnswers int     `json:"correctAnswers"`
	TotalQuestions int     `json:"totalQuestions"`
	Difficulty     string  `json:"difficulty,omitempty"`
	Duration       int64   `json:"duration"`
	Events         []Event `json:"events"`
}

func (s *GameSession) clone() *GameSession {
	if s == nil {
		return nil
	}
	out := *s
	if s.EndTime != nil {
		end := *s.EndTime
		out.EndTime = &end
	}
	out.Events = make([]Event, len(s.Events))
	copy(out.Events, s.Events)
	return &out
}

// UserStats aggregates a player's stored history.
type UserStats struct {
	TotalSessions     int           `json:"totalSessions"`
	CompletedSessions int           `json:"completedSessions"`
	AbandonedSessions int           `json:"abandonedSessions"`
	PausedSessions    int           `json:"pausedSessions"`
	TotalScore        int           `json:"totalScore"`
	AverageScore      float64       `json:"averageScore"`
	BestStreak        int           `json:"bestStreak"`
	TotalPlayTime     int64         `json:"totalPlayTime"`
	RecentSessions    []GameSession `json:"recentSessions"`
}
