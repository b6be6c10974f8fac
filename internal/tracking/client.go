// Package tracking is the client for the hub backend: analytics events,
// session mirroring and player login.
//
// Analytics delivery is best-effort. Send never blocks the caller, drops
// events beyond the configured rate and only logs failures.
package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/MJE43/minigame-hub/internal/session"
)

// Config holds configuration for the tracking client.
type Config struct {
	// BaseURL is the hub backend origin. Required.
	BaseURL string

	// AppVersion, Locale and Region are stamped on every envelope.
	AppVersion string
	Locale     string
	Region     string

	// Consent placeholders forwarded with analytics events.
	AnalyticsConsent bool
	MarketingConsent bool

	// EventsPerSecond and Burst bound fire-and-forget Send calls.
	// Defaults to 5 events/s with a burst of 20.
	EventsPerSecond float64
	Burst           int

	// SendTimeout bounds a single background delivery. Defaults to 10s.
	SendTimeout time.Duration

	// HTTPClient allows injecting a custom HTTP client (useful for testing).
	// Defaults to a client with 15s timeout.
	HTTPClient *http.Client

	// Token returns the bearer token for authenticated calls. Optional.
	Token func() string

	Logger *log.Logger
}

// Client talks to the hub backend.
type Client struct {
	config  Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *log.Logger
	now     func() time.Time

	inflight sync.WaitGroup
}

// NewClient creates a tracking client.
func NewClient(cfg Config) *Client {
	if cfg.EventsPerSecond <= 0 {
		cfg.EventsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.Locale == "" {
		cfg.Locale = "en-US"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[tracking] ", log.LstdFlags)
	}
	return &Client{
		config:  cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.EventsPerSecond), cfg.Burst),
		logger:  logger,
		now:     time.Now,
	}
}

// HTTPError is a non-2xx response from the backend.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("tracking: HTTP %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.config.BaseURL, "/") + "/" + strings.TrimPrefix(path, "/")
}

// do sends a JSON request and decodes a JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("tracking: marshal request: %w", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), rdr)
	if err != nil {
		return fmt.Errorf("tracking: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.config.Token != nil {
		if tok := c.config.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("tracking: http request: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("tracking: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("tracking: decode response: %w", err)
		}
	}
	return nil
}

// Track delivers one analytics event and reports the outcome.
func (c *Client) Track(ctx context.Context, env Envelope) error {
	c.stamp(&env)
	return c.do(ctx, http.MethodPost, "/api/track", env, nil)
}

// Send delivers an analytics event in the background. Events over the rate
// budget are dropped. Failures are logged only.
func (c *Client) Send(env Envelope) {
	if !c.limiter.Allow() {
		c.logger.Printf("dropping event type=%s game=%s: rate limited", env.EventType, env.Payload.GameID)
		return
	}
	c.stamp(&env)
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.config.SendTimeout)
		defer cancel()
		if err := c.do(ctx, http.MethodPost, "/api/track", env, nil); err != nil {
			c.logger.Printf("event delivery failed type=%s event=%s err=%v", env.EventType, env.EventID, err)
			return
		}
		c.logger.Printf("event delivered type=%s event=%s", env.EventType, env.EventID)
	}()
}

// Wait blocks until background deliveries finish.
func (c *Client) Wait() {
	c.inflight.Wait()
}

func (c *Client) stamp(env *Envelope) {
	if env.EventID == "" {
		env.EventID = uuid.NewString()
	}
	if env.Timestamp == "" {
		env.Timestamp = c.now().UTC().Format(time.RFC3339Nano)
	}
	if env.AppVersion == "" {
		env.AppVersion = c.config.AppVersion
	}
	if env.Locale == "" {
		env.Locale = c.config.Locale
	}
	if env.Region == "" {
		env.Region = c.config.Region
	}
	if env.Consent == nil {
		env.Consent = &Consent{Analytics: c.config.AnalyticsConsent, Marketing: c.config.MarketingConsent}
	}
}

// PostSession mirrors a finished session to the backend.
func (c *Client) PostSession(ctx context.Context, s *session.GameSession) error {
	return c.do(ctx, http.MethodPost, "/api/sessions", s, nil)
}

// Sessions lists the sessions stored for a player.
func (c *Client) Sessions(ctx context.Context, playerID string) ([]session.GameSession, error) {
	var out []session.GameSession
	path := "/api/sessions"
	if playerID != "" {
		path += "?playerId=" + url.QueryEscape(playerID)
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Login exchanges a username for a bearer token.
func (c *Client) Login(ctx context.Context, username string) (*LoginResponse, error) {
	var out LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", LoginRequest{Username: username}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
