package session

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/MJE43/minigame-hub/internal/localstore"
)

const (
	defaultHistoryLimit = 200
	defaultStaleAfter   = 24 * time.Hour
	postTimeout         = 10 * time.Second
	recentSessions      = 5
)

// Poster mirrors a finished session to the backend.
type Poster interface {
	PostSession(ctx context.Context, s *GameSession) error
}

// Options configures a Manager. Zero values select defaults.
type Options struct {
	Poster       Poster
	Logger       *log.Logger
	Now          func() time.Time
	HistoryLimit int
	StaleAfter   time.Duration
}

// Manager tracks one player's sessions. At most one session is active.
type Manager struct {
	userID string
	store  localstore.Storage
	poster Poster
	logger *log.Logger
	now    func() time.Time
	limit  int
	stale  time.Duration

	mu      sync.Mutex
	current *GameSession
	posts   sync.WaitGroup
}

// NewManager creates a manager and restores a persisted in-flight session
// unless it is older than StaleAfter.
func NewManager(userID string, store localstore.Storage, opts Options) (*Manager, error) {
	if store == nil {
		store = localstore.NewMemory()
	}
	m := &Manager{
		userID: userID,
		store:  store,
		poster: opts.Poster,
		logger: opts.Logger,
		now:    opts.Now,
		limit:  opts.HistoryLimit,
		stale:  opts.StaleAfter,
	}
	if m.logger == nil {
		m.logger = log.New(os.Stdout, "[session] ", log.LstdFlags)
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.limit <= 0 {
		m.limit = defaultHistoryLimit
	}
	if m.stale <= 0 {
		m.stale = defaultStaleAfter
	}
	if err := m.restore(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) sessionKey() string { return "gameSession_" + m.userID }
func (m *Manager) historyKey() string { return "gameHistory_" + m.userID }

func (m *Manager) restore() error {
	raw, ok, err := m.store.GetItem(m.sessionKey())
	if err != nil {
		return fmt.Errorf("session: restore: %w", err)
	}
	if !ok {
		return nil
	}
	var s GameSession
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		m.logger.Printf("discarding unreadable session user=%s err=%v", m.userID, err)
		return m.store.RemoveItem(m.sessionKey())
	}
	age := m.now().Sub(time.UnixMilli(s.StartTime))
	if age > m.stale || s.Status.Terminal() {
		m.logger.Printf("discarding stale session user=%s session=%s age=%s", m.userID, s.SessionID, age.Round(time.Second))
		return m.store.RemoveItem(m.sessionKey())
	}
	m.current = &s
	m.logger.Printf("restored session user=%s session=%s", m.userID, s.SessionID)
	return nil
}

// NewSessionID returns "session_<unix millis>_<9 base36 chars>".
func NewSessionID(now time.Time) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	buf := make([]byte, 9)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			n = big.NewInt(now.UnixNano() % int64(len(alphabet)))
		}
		buf[i] = alphabet[n.Int64()]
	}
	return "session_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + string(buf)
}

// stamp returns a timestamp strictly after the last event of s.
func (m *Manager) stamp(s *GameSession) int64 {
	t := m.now().UnixMilli()
	if n := len(s.Events); n > 0 && t <= s.Events[n-1].Timestamp {
		t = s.Events[n-1].Timestamp + 1
	}
	return t
}

func (m *Manager) appendEvent(s *GameSession, typ string, data map[string]any) int64 {
	ts := m.stamp(s)
	s.Events = append(s.Events, Event{Type: typ, Timestamp: ts, Data: data})
	return ts
}

func (m *Manager) persistLocked() error {
	if m.current == nil {
		return m.store.RemoveItem(m.sessionKey())
	}
	raw, err := json.Marshal(m.current)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	if err := m.store.SetItem(m.sessionKey(), string(raw)); err != nil {
		return fmt.Errorf("session: persist: %w", err)
	}
	return nil
}

// StartSession begins a new session. An active session is first ended as
// abandoned.
func (m *Manager) StartSession(gameID, tenantID, difficulty string) (*GameSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.logger.Printf("abandoning session=%s for new game=%s", m.current.SessionID, gameID)
		if _, err := m.endLocked(StatusAbandoned); err != nil {
			if m.current != nil {
				return nil, err
			}
			m.logger.Printf("abandoned session not recorded user=%s err=%v", m.userID, err)
		}
	}

	now := m.now()
	s := &GameSession{
		SessionID:  NewSessionID(now),
		GameID:     gameID,
		TenantID:   tenantID,
		PlayerID:   m.userID,
		StartTime:  now.UnixMilli(),
		Status:     StatusActive,
		Difficulty: difficulty,
		Events:     []Event{},
	}
	m.appendEvent(s, EventStart, nil)
	s.StartTime = s.Events[0].Timestamp
	m.current = s
	m.logger.Printf("started session=%s game=%s user=%s", s.SessionID, gameID, m.userID)
	return s.clone(), m.persistLocked()
}

// UpdateScore records an answer worth points.
func (m *Manager) UpdateScore(points int, isCorrect bool) (*GameSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.current
	if s == nil {
		return nil, ErrNoActiveSession
	}

	s.Score += points
	if s.Score > s.MaxScore {
		s.MaxScore = s.Score
	}
	s.Attempts++
	typ := EventIncorrect
	if isCorrect {
		s.Streak++
		s.CorrectAnswers++
		typ = EventCorrect
	} else {
		s.Streak = 0
	}
	m.appendEvent(s, typ, map[string]any{"points": points})
	return s.clone(), m.persistLocked()
}

// SetTotalQuestions records how many questions the current game offers.
func (m *Manager) SetTotalQuestions(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ErrNoActiveSession
	}
	m.current.TotalQuestions = n
	return m.persistLocked()
}

// PauseSession moves an active session to paused.
func (m *Manager) PauseSession() (*GameSession, error) {
	return m.transition(StatusActive, StatusPaused, EventPause)
}

// ResumeSession moves a paused session back to active.
func (m *Manager) ResumeSession() (*GameSession, error) {
	return m.transition(StatusPaused, StatusActive, EventResume)
}

func (m *Manager) transition(from, to Status, event string) (*GameSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.current
	if s == nil {
		return nil, ErrNoActiveSession
	}
	if s.Status != from {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	s.Status = to
	m.appendEvent(s, event, nil)
	return s.clone(), m.persistLocked()
}

// EndSession finalizes the active session with status completed (the
// default when status is empty) or abandoned, appends it to the history and
// mirrors it to the backend without waiting.
func (m *Manager) EndSession(status Status) (*GameSession, error) {
	if status == "" {
		status = StatusCompleted
	}
	if !status.Terminal() {
		return nil, fmt.Errorf("%w: cannot end with %s", ErrInvalidTransition, status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, ErrNoActiveSession
	}
	ended, err := m.endLocked(status)
	return ended.clone(), err
}

// endLocked finishes the active session. The in-flight record is removed
// before the history is written; if that removal fails the session stays
// active and nothing is recorded.
func (m *Manager) endLocked(status Status) (*GameSession, error) {
	s := m.current.clone()
	s.Status = status
	end := m.appendEvent(s, EventEnd, map[string]any{"status": string(status)})
	s.EndTime = &end
	s.Duration = (end - s.StartTime) / 1000

	if err := m.store.RemoveItem(m.sessionKey()); err != nil {
		return nil, fmt.Errorf("session: clear active: %w", err)
	}
	m.current = nil

	m.post(s.clone())
	m.logger.Printf("ended session=%s status=%s score=%d duration=%ds", s.SessionID, status, s.Score, s.Duration)

	history, err := m.loadHistory()
	if err != nil {
		m.logger.Printf("history unreadable user=%s err=%v; starting fresh", m.userID, err)
		history = nil
	}
	history = append(history, *s)
	if len(history) > m.limit {
		history = history[len(history)-m.limit:]
	}
	raw, err := json.Marshal(history)
	if err != nil {
		return s, fmt.Errorf("session: encode history: %w", err)
	}
	if err := m.store.SetItem(m.historyKey(), string(raw)); err != nil {
		return s, fmt.Errorf("session: persist history: %w", err)
	}
	return s, nil
}

func (m *Manager) post(s *GameSession) {
	if m.poster == nil {
		return
	}
	m.posts.Add(1)
	go func() {
		defer m.posts.Done()
		ctx, cancel := context.WithTimeout(context.Background(), postTimeout)
		defer cancel()
		if err := m.poster.PostSession(ctx, s); err != nil {
			m.logger.Printf("session mirror failed session=%s err=%v", s.SessionID, err)
		}
	}()
}

// Wait blocks until in-flight backend mirrors finish.
func (m *Manager) Wait() {
	m.posts.Wait()
}

// CurrentSession returns a copy of the active session, or nil.
func (m *Manager) CurrentSession() *GameSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.clone()
}

func (m *Manager) loadHistory() ([]GameSession, error) {
	raw, ok, err := m.store.GetItem(m.historyKey())
	if err != nil || !ok {
		return nil, err
	}
	var history []GameSession
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		return nil, fmt.Errorf("session: decode history: %w", err)
	}
	return history, nil
}

// History returns the stored finished sessions, oldest first.
func (m *Manager) History() ([]GameSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadHistory()
}

// UserStats derives aggregate statistics from the stored history.
func (m *Manager) UserStats() (UserStats, error) {
	history, err := m.History()
	if err != nil {
		return UserStats{}, err
	}
	return computeStats(history), nil
}

func computeStats(history []GameSession) UserStats {
	st := UserStats{TotalSessions: len(history), RecentSessions: []GameSession{}}
	for _, s := range history {
		switch s.Status {
		case StatusCompleted:
			st.CompletedSessions++
		case StatusAbandoned:
			st.AbandonedSessions++
		case StatusPaused:
			st.PausedSessions++
		}
		st.TotalScore += s.Score
		if s.Streak > st.BestStreak {
			st.BestStreak = s.Streak
		}
		st.TotalPlayTime += s.Duration
	}
	if st.TotalSessions > 0 {
		st.AverageScore = float64(st.TotalScore) / float64(st.TotalSessions)
	}
	for i := len(history) - 1; i >= 0 && len(st.RecentSessions) < recentSessions; i-- {
		st.RecentSessions = append(st.RecentSessions, history[i])
	}
	return st
}
