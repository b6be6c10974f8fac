// Package hubstore is the hub backend's SQLite store: players, mirrored play
// sessions and ingested analytics events.
package hubstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/MJE43/minigame-hub/internal/session"
	"github.com/MJE43/minigame-hub/internal/tracking"
)

// --------- Data models ---------

type User struct {
	ID         uuid.UUID `json:"id"`
	Username   string    `json:"username"`
	CreatedAt  time.Time `json:"createdAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// StoredEvent is an ingested analytics envelope with its row id.
type StoredEvent struct {
	ID         int64             `json:"id"`
	ReceivedAt time.Time         `json:"receivedAt"`
	Envelope   tracking.Envelope `json:"envelope"`
}

// IngestResult indicates whether an event was stored or ignored as duplicate.
type IngestResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// EventFilter narrows ListEvents.
type EventFilter struct {
	EventType string
	PlayerID  string
	GameID    string
}

// --------- Store ---------

type Store struct {
	db *sql.DB
}

// New opens or creates a SQLite database at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// --------- Migrations ---------

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			created_at TIMESTAMP NOT NULL,
			last_seen_at TIMESTAMP NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS play_sessions (
			session_id TEXT PRIMARY KEY,
			player_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL DEFAULT '',
			game_id TEXT NOT NULL,
			status TEXT NOT NULL,
			score INTEGER NOT NULL,
			start_time INTEGER NOT NULL,
			end_time INTEGER,
			duration INTEGER NOT NULL,
			body TEXT NOT NULL,
			received_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_play_sessions_player ON play_sessions(player_id, start_time DESC);`,

		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL UNIQUE,
			event_type TEXT NOT NULL,
			player_id TEXT NOT NULL DEFAULT '',
			tenant_id TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT '',
			game_id TEXT NOT NULL DEFAULT '',
			received_at TIMESTAMP NOT NULL,
			body TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type, id);`,
		`CREATE INDEX IF NOT EXISTS idx_events_player ON events(player_id, id);`,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// --------- Users ---------

// FindOrCreateUser returns the user with the given username, creating it on
// first login. Usernames are trimmed and must be non-empty.
func (s *Store) FindOrCreateUser(ctx context.Context, username string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, errors.New("hubstore: username is required")
	}
	now := time.Now().UTC()

	u, err := s.userBy(ctx, "username", username)
	switch {
	case err == nil:
		if _, err := s.db.ExecContext(ctx, `UPDATE users SET last_seen_at=? WHERE id=?`, now, u.ID.String()); err != nil {
			return User{}, err
		}
		u.LastSeenAt = now
		return u, nil
	case errors.Is(err, sql.ErrNoRows):
		u = User{ID: uuid.New(), Username: username, CreatedAt: now, LastSeenAt: now}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO users(id, username, created_at, last_seen_at) VALUES(?, ?, ?, ?)`,
			u.ID.String(), u.Username, u.CreatedAt, u.LastSeenAt)
		if err != nil {
			if isConstraintErr(err) {
				return s.FindOrCreateUser(ctx, username)
			}
			return User{}, err
		}
		return u, nil
	default:
		return User{}, err
	}
}

// GetUser returns a user by id. Missing users yield sql.ErrNoRows.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	return s.userBy(ctx, "id", id.String())
}

func (s *Store) userBy(ctx context.Context, column, value string) (User, error) {
	var u User
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, created_at, last_seen_at FROM users WHERE `+column+`=?`, value).
		Scan(&id, &u.Username, &u.CreatedAt, &u.LastSeenAt)
	if err != nil {
		return User{}, err
	}
	u.ID, err = uuid.Parse(id)
	return u, err
}

// --------- Sessions ---------

// SaveSession upserts a mirrored session keyed by its session id.
func (s *Store) SaveSession(ctx context.Context, gs session.GameSession) error {
	if gs.SessionID == "" || gs.GameID == "" {
		return errors.New("hubstore: sessionId and gameId are required")
	}
	body, err := json.Marshal(gs)
	if err != nil {
		return fmt.Errorf("hubstore: encode session: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO play_sessions(session_id, player_id, tenant_id, game_id, status, score,
			start_time, end_time, duration, body, received_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			status=excluded.status,
			score=excluded.score,
			end_time=excluded.end_time,
			duration=excluded.duration,
			body=excluded.body,
			received_at=excluded.received_at`,
		gs.SessionID, gs.PlayerID, gs.TenantID, gs.GameID, string(gs.Status), gs.Score,
		gs.StartTime, gs.EndTime, gs.Duration, string(body), time.Now().UTC())
	return err
}

// ListSessions returns sessions newest first, optionally for one player.
func (s *Store) ListSessions(ctx context.Context, playerID string, limit, offset int) ([]session.GameSession, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := `SELECT body FROM play_sessions`
	var args []any
	if playerID != "" {
		q += ` WHERE player_id=?`
		args = append(args, playerID)
	}
	q += ` ORDER BY start_time DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []session.GameSession{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var gs session.GameSession
		if err := json.Unmarshal([]byte(body), &gs); err != nil {
			return nil, fmt.Errorf("hubstore: decode session: %w", err)
		}
		out = append(out, gs)
	}
	return out, rows.Err()
}

// --------- Events ---------

// IngestEvent stores an analytics envelope. Idempotent on event id.
func (s *Store) IngestEvent(ctx context.Context, env tracking.Envelope) (IngestResult, error) {
	if env.EventID == "" {
		return IngestResult{Reason: "missing event id"}, errors.New("hubstore: missing eventId")
	}
	if env.EventType == "" {
		return IngestResult{Reason: "missing event type"}, errors.New("hubstore: missing eventType")
	}
	body, err := json.Marshal(env)
	if err != nil {
		return IngestResult{Reason: "encode"}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events(event_id, event_type, player_id, tenant_id, session_id, game_id, received_at, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		env.EventID, env.EventType, env.PlayerID, env.TenantID, env.SessionID, env.Payload.GameID,
		time.Now().UTC(), string(body))
	if err != nil {
		if isConstraintErr(err) {
			return IngestResult{Reason: "duplicate"}, nil
		}
		return IngestResult{Reason: "db_error"}, err
	}
	return IngestResult{Accepted: true}, nil
}

func (f EventFilter) where() (string, []any) {
	clauses := []string{"1=1"}
	var args []any
	if f.EventType != "" {
		clauses = append(clauses, "event_type = ?")
		args = append(args, f.EventType)
	}
	if f.PlayerID != "" {
		clauses = append(clauses, "player_id = ?")
		args = append(args, f.PlayerID)
	}
	if f.GameID != "" {
		clauses = append(clauses, "game_id = ?")
		args = append(args, f.GameID)
	}
	return strings.Join(clauses, " AND "), args
}

// ListEvents returns a page of events newest first and the filtered total.
func (s *Store) ListEvents(ctx context.Context, f EventFilter, limit, offset int) ([]StoredEvent, int64, error) {
	if limit <= 0 || limit > 10000 {
		limit = 500
	}
	where, args := f.where()

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, received_at, body FROM events WHERE "+where+" ORDER BY id DESC LIMIT ? OFFSET ?",
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out, err := scanEvents(rows)
	return out, total, err
}

// TailEvents returns events with id strictly greater than lastID, oldest first.
func (s *Store) TailEvents(ctx context.Context, lastID int64, limit int) ([]StoredEvent, error) {
	if limit <= 0 || limit > 5000 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, received_at, body FROM events WHERE id > ? ORDER BY id ASC LIMIT ?`, lastID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]StoredEvent, error) {
	out := []StoredEvent{}
	for rows.Next() {
		var ev StoredEvent
		var body string
		if err := rows.Scan(&ev.ID, &ev.ReceivedAt, &body); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(body), &ev.Envelope); err != nil {
			return nil, fmt.Errorf("hubstore: decode event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ExportCSV writes all events to w as CSV, header included.
func (s *Store) ExportCSV(ctx context.Context, w io.Writer) error {
	if _, err := io.WriteString(w, "id,event_id,event_type,player_id,tenant_id,session_id,game_id,received_at\n"); err != nil {
		return err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, event_type, player_id, tenant_id, session_id, game_id, received_at
		FROM events ORDER BY id ASC`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var (
		id                                      int64
		eventID, typ, player, tenant, sess, gid string
		ts                                      time.Time
	)
	for rows.Next() {
		if err := rows.Scan(&id, &eventID, &typ, &player, &tenant, &sess, &gid, &ts); err != nil {
			return err
		}
		line := fmt.Sprintf("%d,%s,%s,%s,%s,%s,%s,%s\n",
			id, eventID, typ, csvSafe(player), csvSafe(tenant), sess, csvSafe(gid), ts.UTC().Format(time.RFC3339Nano))
		if _, err := io.WriteString(w, line); err != nil {
			return err
		}
	}
	return rows.Err()
}

// --------- helpers ---------

func csvSafe(v string) string {
	if strings.ContainsAny(v, ",\"\n") {
		return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
	}
	return v
}

func isConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "constraint failed") || strings.Contains(msg, "unique constraint")
}
