// Package loader injects a game's remote bundle manifest into the page.
package loader

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/MJE43/minigame-hub/internal/catalog"
)

// ManifestFile is the per-game entry script every bundle must provide.
const ManifestFile = "load-app-scripts.js"

// Injector appends a script element to the page and waits for load or error.
type Injector interface {
	InjectScript(ctx context.Context, src string) error
}

// LoadError identifies the game whose bundle failed to load.
type LoadError struct {
	Game string
	URL  string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load game %s: %v", e.Game, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ManifestURL builds the cache-busted manifest URL for a game.
func ManifestURL(d *catalog.Descriptor, t int64) string {
	return fmt.Sprintf("%s/%s/%s?t=%d", d.BaseURL(), d.Name(), ManifestFile, t)
}

// Loader fetches bundle manifests. Cache-busting stamps strictly increase per
// loader so repeated loads of one game never share a URL.
type Loader struct {
	page   Injector
	logger *log.Logger
	now    func() time.Time

	mu    sync.Mutex
	lastT int64
}

// New creates a loader bound to a page.
func New(page Injector, logger *log.Logger) *Loader {
	if logger == nil {
		logger = log.New(os.Stdout, "[loader] ", log.LstdFlags)
	}
	return &Loader{page: page, logger: logger, now: time.Now}
}

// NextURL returns the manifest URL for the next load of d.
func (l *Loader) NextURL(d *catalog.Descriptor) string {
	l.mu.Lock()
	t := l.now().UnixMilli()
	if t <= l.lastT {
		t = l.lastT + 1
	}
	l.lastT = t
	l.mu.Unlock()
	return ManifestURL(d, t)
}

// LoadGame injects the manifest script for d and waits for it to load.
func (l *Loader) LoadGame(ctx context.Context, d *catalog.Descriptor) error {
	url := l.NextURL(d)
	l.logger.Printf("loading game=%s url=%s", d.Name(), url)
	start := time.Now()
	if err := l.page.InjectScript(ctx, url); err != nil {
		l.logger.Printf("load failed game=%s err=%v", d.Name(), err)
		return &LoadError{Game: d.Name(), URL: url, Err: err}
	}
	l.logger.Printf("manifest loaded game=%s took=%s", d.Name(), time.Since(start).Round(time.Millisecond))
	return nil
}
