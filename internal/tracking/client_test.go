package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MJE43/minigame-hub/internal/session"
)

type captured struct {
	mu     sync.Mutex
	events []Envelope
	auth   []string
}

func newTestServer(t *testing.T, status int) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/track", func(w http.ResponseWriter, r *http.Request) {
		var env Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.mu.Lock()
		c.events = append(c.events, env)
		c.auth = append(c.auth, r.Header.Get("Authorization"))
		c.mu.Unlock()
		w.WriteHeader(status)
	})
	mux.HandleFunc("/api/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			json.NewEncoder(w).Encode([]session.GameSession{{SessionID: "s1", PlayerID: r.URL.Query().Get("playerId")}})
			return
		}
		w.WriteHeader(status)
	})
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(LoginResponse{Token: "tok", User: User{ID: "u1", Username: req.Username}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, c
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestTrackStampsEnvelope(t *testing.T) {
	srv, got := newTestServer(t, http.StatusNoContent)
	client := NewClient(Config{
		BaseURL:    srv.URL,
		AppVersion: "1.2.3",
		Region:     "eu",
		Token:      func() string { return "secret" },
		Logger:     quietLogger(),
	})

	err := client.Track(context.Background(), Envelope{
		TenantID:  "acme",
		PlayerID:  "p1",
		EventType: EventGamePlayStart,
		Payload:   GamePayload{GameID: "trivia", MiniGameType: "trivia"},
	})
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if len(got.events) != 1 {
		t.Fatalf("events = %d, want 1", len(got.events))
	}
	env := got.events[0]
	if env.EventID == "" || env.AppVersion != "1.2.3" || env.Locale != "en-US" || env.Region != "eu" {
		t.Errorf("envelope not stamped: %+v", env)
	}
	if _, err := time.Parse(time.RFC3339Nano, env.Timestamp); err != nil {
		t.Errorf("timestamp %q not ISO-8601: %v", env.Timestamp, err)
	}
	if env.Consent == nil {
		t.Error("consent placeholder missing")
	}
	if got.auth[0] != "Bearer secret" {
		t.Errorf("Authorization = %q", got.auth[0])
	}
}

func TestZeroScoreIsReported(t *testing.T) {
	srv, got := newTestServer(t, http.StatusNoContent)
	client := NewClient(Config{BaseURL: srv.URL, Logger: quietLogger()})

	score, dur := 0, int64(0)
	if err := client.Track(context.Background(), Envelope{
		EventType: EventGamePlayEnd,
		Payload:   GamePayload{GameID: "puzzle", FinalScore: &score, DurationMs: &dur, CompletionStatus: "abandoned"},
	}); err != nil {
		t.Fatalf("Track: %v", err)
	}
	p := got.events[0].Payload
	if p.FinalScore == nil || *p.FinalScore != 0 || p.DurationMs == nil || *p.DurationMs != 0 {
		t.Errorf("zero result dropped: %+v", p)
	}

	raw, err := json.Marshal(GamePayload{GameID: "puzzle"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "finalScore") || strings.Contains(string(raw), "durationMs") {
		t.Errorf("start payload carries a result: %s", raw)
	}
}

func TestTrackHTTPError(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusServiceUnavailable)
	client := NewClient(Config{BaseURL: srv.URL, Logger: quietLogger()})

	err := client.Track(context.Background(), Envelope{EventType: EventGamePlayEnd})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("err = %v, want HTTPError 503", err)
	}
}

func TestSendIsFireAndForget(t *testing.T) {
	srv, got := newTestServer(t, http.StatusInternalServerError)
	client := NewClient(Config{BaseURL: srv.URL, Logger: quietLogger()})

	client.Send(Envelope{EventType: EventGamePlayEnd, Payload: GamePayload{GameID: "puzzle"}})
	client.Wait()

	if len(got.events) != 1 || got.events[0].Payload.GameID != "puzzle" {
		t.Errorf("events = %+v", got.events)
	}
}

func TestSendDropsOverBudget(t *testing.T) {
	srv, got := newTestServer(t, http.StatusOK)
	client := NewClient(Config{BaseURL: srv.URL, EventsPerSecond: 0.001, Burst: 2, Logger: quietLogger()})

	for i := 0; i < 5; i++ {
		client.Send(Envelope{EventType: EventGamePlayStart})
	}
	client.Wait()
	if len(got.events) != 2 {
		t.Errorf("delivered %d events, want burst of 2", len(got.events))
	}
}

func TestSendUnreachableBackend(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1", SendTimeout: time.Second, Logger: quietLogger()})
	client.Send(Envelope{EventType: EventGamePlayStart})
	client.Wait()
}

func TestSessionsAndLogin(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusCreated)
	client := NewClient(Config{BaseURL: srv.URL + "/", Logger: quietLogger()})
	ctx := context.Background()

	if err := client.PostSession(ctx, &session.GameSession{SessionID: "s1"}); err != nil {
		t.Fatalf("PostSession: %v", err)
	}
	list, err := client.Sessions(ctx, "p 1")
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(list) != 1 || list[0].PlayerID != "p 1" {
		t.Errorf("sessions = %+v", list)
	}
	resp, err := client.Login(ctx, "ana")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.Token != "tok" || resp.User.Username != "ana" {
		t.Errorf("login = %+v", resp)
	}
}
