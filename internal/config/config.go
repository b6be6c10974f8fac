// Package config loads the hub's settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/MJE43/minigame-hub/internal/selector"
)

// Config is the process configuration. Every field maps to a HUB_* variable.
type Config struct {
	Addr      string `env:"HUB_ADDR" envDefault:"127.0.0.1:8090"`
	DBPath    string `env:"HUB_DB_PATH" envDefault:"hub.db"`
	LocalPath string `env:"HUB_LOCAL_DB_PATH" envDefault:"local.db"`
	BundleDir string `env:"HUB_BUNDLE_DIR" envDefault:"games"`
	// BaseURL is where the page host fetches bundles from. Empty means the
	// hub's own /games route.
	BaseURL     string        `env:"HUB_BASE_URL"`
	TrackingURL string        `env:"HUB_TRACKING_URL"`
	JWTSecret   string        `env:"HUB_JWT_SECRET" envDefault:"dev-secret-change-me"`
	TokenTTL    time.Duration `env:"HUB_TOKEN_TTL" envDefault:"24h"`
	IngestToken string        `env:"HUB_INGEST_TOKEN"`

	PlayerID   string `env:"HUB_PLAYER_ID" envDefault:"guest"`
	PlayerName string `env:"HUB_PLAYER_NAME"`
	TenantID   string `env:"HUB_TENANT_ID" envDefault:"default"`

	CatalogFile     string `env:"HUB_CATALOG_FILE"`
	PreselectedGame string `env:"HUB_PRESELECTED_GAME"`
	ProbeOrigins    bool   `env:"HUB_PROBE_ORIGINS" envDefault:"false"`

	ReadyTimeout      time.Duration `env:"HUB_READY_TIMEOUT" envDefault:"5s"`
	MountPollDelay    time.Duration `env:"HUB_MOUNT_POLL_DELAY" envDefault:"100ms"`
	MountPollInterval time.Duration `env:"HUB_MOUNT_POLL_INTERVAL" envDefault:"500ms"`
	ControlsDelay     time.Duration `env:"HUB_CONTROLS_DELAY" envDefault:"2s"`
	ActionTimeout     time.Duration `env:"HUB_ACTION_TIMEOUT" envDefault:"10s"`
	LoadTimeout       time.Duration `env:"HUB_LOAD_TIMEOUT" envDefault:"30s"`
	ScriptTimeout     time.Duration `env:"HUB_SCRIPT_TIMEOUT" envDefault:"2s"`

	EventsPerSecond  float64 `env:"HUB_EVENTS_PER_SECOND" envDefault:"5"`
	EventBurst       int     `env:"HUB_EVENT_BURST" envDefault:"20"`
	AnalyticsConsent bool    `env:"HUB_ANALYTICS_CONSENT" envDefault:"true"`
	MarketingConsent bool    `env:"HUB_MARKETING_CONSENT" envDefault:"false"`
	Locale           string  `env:"HUB_LOCALE" envDefault:"en-US"`
	Region           string  `env:"HUB_REGION"`

	KeyringService  string `env:"HUB_KEYRING_SERVICE" envDefault:"minigame-hub"`
	SecretsFallback string `env:"HUB_SECRETS_FALLBACK"`

	Interactive bool `env:"HUB_INTERACTIVE" envDefault:"false"`
}

// Load parses the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the hub cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("config: HUB_ADDR is required")
	}
	if strings.TrimSpace(c.PlayerID) == "" {
		return fmt.Errorf("config: HUB_PLAYER_ID is required")
	}
	if c.EventsPerSecond <= 0 || c.EventBurst <= 0 {
		return fmt.Errorf("config: event rate and burst must be positive")
	}
	if c.ReadyTimeout <= 0 {
		return fmt.Errorf("config: HUB_READY_TIMEOUT must be positive")
	}
	return nil
}

// BundleBaseURL returns where bundles are served from.
func (c Config) BundleBaseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return "http://" + c.Addr + "/games"
}

// BackendURL returns the tracking backend, defaulting to the hub itself.
func (c Config) BackendURL() string {
	if c.TrackingURL != "" {
		return strings.TrimRight(c.TrackingURL, "/")
	}
	return "http://" + c.Addr
}

// Selector returns the orchestrator configuration.
func (c Config) Selector() selector.Config {
	return selector.Config{
		ReadyTimeout:      c.ReadyTimeout,
		MountPollDelay:    c.MountPollDelay,
		MountPollInterval: c.MountPollInterval,
		ControlsDelay:     c.ControlsDelay,
		ActionTimeout:     c.ActionTimeout,
		LoadTimeout:       c.LoadTimeout,
		PlayerID:          c.PlayerID,
		TenantID:          c.TenantID,
	}
}
