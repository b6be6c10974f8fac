package loader

import (
	"context"
	"errors"
	"io"
	"log"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/MJE43/minigame-hub/internal/catalog"
)

type fakeInjector struct {
	urls []string
	err  error
}

func (f *fakeInjector) InjectScript(ctx context.Context, src string) error {
	f.urls = append(f.urls, src)
	return f.err
}

var manifestPattern = regexp.MustCompile(`^https://x/trivia/load-app-scripts\.js\?t=\d+$`)

func TestManifestURLIsFreshPerCall(t *testing.T) {
	d := catalog.MustDescriptor(catalog.Spec{Name: "trivia", BaseURL: "https://x"})
	inj := &fakeInjector{}
	l := New(inj, log.New(io.Discard, "", 0))
	frozen := time.UnixMilli(1700000000000)
	l.now = func() time.Time { return frozen }

	for i := 0; i < 2; i++ {
		if err := l.LoadGame(context.Background(), d); err != nil {
			t.Fatalf("LoadGame: %v", err)
		}
	}
	if len(inj.urls) != 2 {
		t.Fatalf("injected %d scripts, want 2", len(inj.urls))
	}
	for _, u := range inj.urls {
		if !manifestPattern.MatchString(u) {
			t.Errorf("url %q does not match manifest pattern", u)
		}
	}
	if inj.urls[0] == inj.urls[1] {
		t.Errorf("successive loads share url %q", inj.urls[0])
	}
}

func TestManifestURL(t *testing.T) {
	d := catalog.MustDescriptor(catalog.Spec{Name: "puzzle", BaseURL: "https://cdn.example/games/"})
	got := ManifestURL(d, 42)
	if got != "https://cdn.example/games/puzzle/load-app-scripts.js?t=42" {
		t.Errorf("ManifestURL = %q", got)
	}
}

func TestLoadGameWrapsFailure(t *testing.T) {
	d := catalog.MustDescriptor(catalog.Spec{Name: "trivia", BaseURL: "https://x"})
	cause := errors.New("HTTP 404")
	l := New(&fakeInjector{err: cause}, log.New(io.Discard, "", 0))

	err := l.LoadGame(context.Background(), d)
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("err = %v, want *LoadError", err)
	}
	if loadErr.Game != "trivia" || !strings.Contains(err.Error(), "trivia") {
		t.Errorf("error does not name the game: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("LoadError should unwrap to the injector error")
	}
}
