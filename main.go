package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/MJE43/minigame-hub/bindings"
	"github.com/MJE43/minigame-hub/internal/catalog"
	"github.com/MJE43/minigame-hub/internal/config"
	"github.com/MJE43/minigame-hub/internal/credentials"
	"github.com/MJE43/minigame-hub/internal/handle"
	"github.com/MJE43/minigame-hub/internal/hubapi"
	"github.com/MJE43/minigame-hub/internal/hubstore"
	"github.com/MJE43/minigame-hub/internal/livews"
	"github.com/MJE43/minigame-hub/internal/loader"
	"github.com/MJE43/minigame-hub/internal/localstore"
	"github.com/MJE43/minigame-hub/internal/page"
	"github.com/MJE43/minigame-hub/internal/selector"
	"github.com/MJE43/minigame-hub/internal/session"
	"github.com/MJE43/minigame-hub/internal/tracking"
	"github.com/MJE43/minigame-hub/internal/validator"
)

const appConfigDirName = "minigame-hub"

func main() {
	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	switch cmd {
	case "serve":
	case "version":
		fmt.Printf("minigame-hub %s (commit %s, built %s)\n", hubapi.Version, hubapi.GitCommit, hubapi.BuildTime)
		return
	default:
		fmt.Fprintf(os.Stderr, "usage: %s [serve|version]\n", filepath.Base(os.Args[0]))
		os.Exit(2)
	}

	log.Printf("Starting minigame hub (Go %s)...", runtime.Version())

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("hub exited: %v", err)
	}
	log.Println("Hub exited normally")
}

func run(ctx context.Context, cfg config.Config) error {
	logger := log.New(os.Stdout, "[hub] ", log.LstdFlags)

	store, err := hubstore.New(dataPath(cfg.DBPath))
	if err != nil {
		return err
	}
	defer store.Close()

	local, err := localstore.New(dataPath(cfg.LocalPath))
	if err != nil {
		return err
	}
	defer local.Close()
	if err := local.Migrate(); err != nil {
		return err
	}

	secretsPath := cfg.SecretsFallback
	if secretsPath == "" {
		secretsPath = dataPath("secrets.json")
	}
	creds := credentials.NewStore(cfg.KeyringService, secretsPath)

	client := tracking.NewClient(tracking.Config{
		BaseURL:          cfg.BackendURL(),
		AppVersion:       hubapi.Version,
		Locale:           cfg.Locale,
		Region:           cfg.Region,
		AnalyticsConsent: cfg.AnalyticsConsent,
		MarketingConsent: cfg.MarketingConsent,
		EventsPerSecond:  cfg.EventsPerSecond,
		Burst:            cfg.EventBurst,
		Token:            creds.TokenFunc(cfg.PlayerID),
	})
	defer client.Wait()

	host, err := page.New(page.Config{BaseURL: cfg.BundleBaseURL(), ScriptTimeout: cfg.ScriptTimeout})
	if err != nil {
		return err
	}
	defer host.Close()

	rules := gameRules(host, cfg.ProbeOrigins)
	registry := catalog.NewRegistry()
	catalog.Install(registry, catalog.BuiltinPlugins(cfg.BundleBaseURL(), rules)...)

	sessions, err := session.NewManager(cfg.PlayerID, local, session.Options{Poster: client})
	if err != nil {
		return err
	}
	defer sessions.Wait()

	var app *bindings.App
	live := livews.New(livews.Config{
		OnCommand: func(ctx context.Context, cmd livews.Command) error {
			return dispatch(ctx, app, cmd.Cmd, cmd.Arg)
		},
	})

	sel, err := selector.New(selector.Deps{
		Registry:  registry,
		Validator: validator.New(nil),
		Loader:    loader.New(host, nil),
		Page:      host,
		Handles:   handle.NewDiscoverer(nil, nil, handle.PageProviders(host)...),
		Publisher: selector.PublisherFunc(func(ctx context.Context, res handle.Resolution) error {
			return handle.Publish(ctx, host, res, nil)
		}),
		Sessions:  sessions,
		Analytics: client,
		Emitter:   live,
		Rules:     func(catalog.Metadata) []catalog.Rule { return rules() },
	}, cfg.Selector())
	if err != nil {
		return err
	}
	defer sel.Close()

	app = bindings.New(sel, sessions, host, nil)

	srv, err := hubapi.NewServer(hubapi.Options{
		Store:       store,
		JWTSecret:   cfg.JWTSecret,
		TokenTTL:    cfg.TokenTTL,
		IngestToken: cfg.IngestToken,
		Registry:    registry,
		BundleDir:   cfg.BundleDir,
		Host:        app,
		Live:        live,
	})
	if err != nil {
		return err
	}
	if _, err := srv.Start(cfg.Addr); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Printf("http shutdown error: %v", err)
		}
	}()

	if cfg.PlayerName != "" {
		login(ctx, client, creds, cfg, logger)
	}

	preselected, err := preselectedGame(cfg)
	if err != nil {
		logger.Printf("catalog unavailable: %v; showing menu", err)
	}
	if err := app.Startup(ctx, preselected); err != nil {
		logger.Printf("startup load failed: %v", err)
	}
	if preselected == nil && cfg.PreselectedGame != "" {
		if err := app.SelectGame(ctx, cfg.PreselectedGame); err != nil {
			logger.Printf("preselected game %s failed: %v", cfg.PreselectedGame, err)
		}
	}

	logger.Printf("hub ready addr=%s bundles=%s games=%s", cfg.Addr, cfg.BundleBaseURL(), strings.Join(registry.Names(), ","))

	if cfg.Interactive {
		go commandLoop(ctx, os.Stdin, os.Stdout, app, logger)
	}

	<-ctx.Done()
	logger.Println("shutting down")
	return nil
}

// gameRules builds a fresh rule set per descriptor.
func gameRules(env catalog.Environment, probe bool) func() []catalog.Rule {
	return func() []catalog.Rule {
		rules := catalog.DefaultRules(env)
		for _, r := range rules {
			if c, ok := r.(*catalog.ConnectivityRule); ok {
				c.Probe = probe
			}
		}
		return rules
	}
}

func preselectedGame(cfg config.Config) (*catalog.Metadata, error) {
	if cfg.CatalogFile == "" || cfg.PreselectedGame == "" {
		return nil, nil
	}
	c, err := catalog.LoadMetadataFile(cfg.CatalogFile)
	if err != nil {
		return nil, err
	}
	m, ok := c.Find(cfg.TenantID, cfg.PreselectedGame)
	if !ok {
		return nil, fmt.Errorf("game %q not in catalog for tenant %q", cfg.PreselectedGame, cfg.TenantID)
	}
	return &m, nil
}

// login exchanges the configured player name for a bearer token unless an
// unexpired login for that name is stored. Failures leave tracking
// unauthenticated.
func login(ctx context.Context, client *tracking.Client, creds *credentials.Store, cfg config.Config, logger *log.Logger) {
	if l, err := creds.Load(cfg.PlayerID); err == nil && l.Username == cfg.PlayerName {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	resp, err := client.Login(ctx, cfg.PlayerName)
	if err != nil {
		logger.Printf("login failed player=%s err=%v", cfg.PlayerName, err)
		return
	}
	stored := credentials.Login{Token: resp.Token, UserID: resp.User.ID, Username: resp.User.Username}
	if resp.ExpiresAt != "" {
		exp, err := time.Parse(time.RFC3339, resp.ExpiresAt)
		if err != nil {
			logger.Printf("login expiry unreadable %q: %v", resp.ExpiresAt, err)
		}
		stored.ExpiresAt = exp
	}
	if err := creds.Save(cfg.PlayerID, stored); err != nil {
		logger.Printf("store login failed: %v", err)
		return
	}
	logger.Printf("logged in player=%s user=%s expires=%s", cfg.PlayerID, resp.User.ID, resp.ExpiresAt)
}

func dispatch(ctx context.Context, app *bindings.App, cmd, arg string) error {
	if app == nil {
		return errors.New("hub is starting")
	}
	switch cmd {
	case "select":
		return app.SelectGame(ctx, arg)
	case "action":
		return app.Action(ctx, arg)
	case "reload":
		return app.Reload()
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// commandLoop reads lifecycle commands from r, one per line:
// "select <game>", "reload", "state", "menu" or an action name.
func commandLoop(ctx context.Context, r io.Reader, w io.Writer, app *bindings.App, logger *log.Logger) {
	sc := bufio.NewScanner(r)
	fmt.Fprintln(w, "commands: menu | select <game> | start | pause | resume | restart | end | reload | state")
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		var err error
		switch fields[0] {
		case "menu":
			for _, m := range app.Menu() {
				fmt.Fprintf(w, "  %s %s (%s)\n", m.Icon, m.Title, m.Name)
			}
			continue
		case "state":
			st := app.State()
			fmt.Fprintf(w, "state=%s game=%s\n", st.State, st.Game)
			continue
		case "select":
			if len(fields) < 2 {
				fmt.Fprintln(w, "usage: select <game>")
				continue
			}
			err = dispatch(ctx, app, "select", fields[1])
		case "reload":
			err = dispatch(ctx, app, "reload", "")
		default:
			err = dispatch(ctx, app, "action", fields[0])
		}
		if err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
			continue
		}
		fmt.Fprintf(w, "ok state=%s\n", app.State().State)
	}
	if err := sc.Err(); err != nil {
		logger.Printf("stdin closed: %v", err)
	}
}

// dataPath resolves relative file names under the app data directory.
func dataPath(name string) string {
	if filepath.IsAbs(name) || strings.HasPrefix(name, ".") {
		return name
	}
	base := appDataDir()
	if err := os.MkdirAll(base, 0o755); err != nil {
		log.Printf("appdata mkdir failed: %v; using working directory", err)
		return name
	}
	return filepath.Join(base, name)
}

// appDataDir returns an OS-appropriate writable directory.
func appDataDir() string {
	if d, err := os.UserConfigDir(); err == nil && d != "" {
		return filepath.Join(d, appConfigDirName)
	}
	if h, err := os.UserHomeDir(); err == nil && h != "" {
		return filepath.Join(h, "."+appConfigDirName)
	}
	return "."
}
