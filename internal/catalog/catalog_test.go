package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestNewDescriptorDefaults(t *testing.T) {
	d, err := NewDescriptor(Spec{Name: " puzzle ", BaseURL: "https://cdn.example/"})
	if err != nil {
		t.Fatalf("NewDescriptor: %v", err)
	}
	if d.Name() != "puzzle" {
		t.Errorf("Name = %q, want puzzle", d.Name())
	}
	if d.BaseURL() != "https://cdn.example" {
		t.Errorf("BaseURL = %q, want trailing slash trimmed", d.BaseURL())
	}
	if d.ReadyEventName() != "puzzle-ready" {
		t.Errorf("ReadyEventName = %q, want puzzle-ready", d.ReadyEventName())
	}
	if d.Title() != "puzzle" {
		t.Errorf("Title = %q, want name fallback", d.Title())
	}

	if _, err := NewDescriptor(Spec{}); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestDescriptorRulesGrowInOrder(t *testing.T) {
	first := RuleFunc{RuleName: "a"}
	d := MustDescriptor(Spec{Name: "trivia"}, first)
	d.AddRule(RuleFunc{RuleName: "b"})
	d.AddRule(nil)

	rules := d.Rules()
	if len(rules) != 2 {
		t.Fatalf("rules = %d, want 2", len(rules))
	}
	if rules[0].Name() != "a" || rules[1].Name() != "b" {
		t.Errorf("unexpected order: %s, %s", rules[0].Name(), rules[1].Name())
	}

	// Mutating the returned slice must not affect the descriptor.
	rules[0] = nil
	if d.Rules()[0] == nil {
		t.Error("Rules returned the internal slice")
	}
}

func TestRegistryRegisterGetReplace(t *testing.T) {
	r := NewRegistry()
	first := MustDescriptor(Spec{Name: "puzzle"})
	r.Register(first)

	got, ok := r.Get("puzzle")
	if !ok || got != first {
		t.Fatalf("Get returned %v, %v; want the registered instance", got, ok)
	}

	second := MustDescriptor(Spec{Name: "puzzle", Title: "Maze v2"})
	r.Register(second)

	got, _ = r.Get("puzzle")
	if got != second {
		t.Error("re-registration did not replace the descriptor")
	}
	if all := r.GetAll(); len(all) != 1 {
		t.Errorf("GetAll = %d entries, want 1", len(all))
	}
}

func TestRegistryWatchAndInstall(t *testing.T) {
	r := NewRegistry()
	var seen []string
	r.Watch(func(d *Descriptor) { seen = append(seen, d.Name()) })

	Install(r, BuiltinPlugins("https://games.example", nil)...)

	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}
	names := r.Names()
	if names[0] != "puzzle" || names[1] != "trivia" {
		t.Errorf("Names = %v, want sorted [puzzle trivia]", names)
	}
	if len(seen) != 2 || seen[0] != "trivia" || seen[1] != "puzzle" {
		t.Errorf("watch order = %v, want install order [trivia puzzle]", seen)
	}
	puzzle, _ := r.Get("puzzle")
	if puzzle.ReadyEventName() != "puzzle-ready" {
		t.Errorf("puzzle ready event = %q", puzzle.ReadyEventName())
	}
}

type stubEnv struct {
	missing []string
	err     error
}

func (e stubEnv) MissingCapabilities(ctx context.Context) ([]string, error) {
	return e.missing, e.err
}

func TestCapabilityRule(t *testing.T) {
	d := MustDescriptor(Spec{Name: "trivia"})
	ctx := context.Background()

	tests := []struct {
		name string
		env  Environment
		want bool
	}{
		{"no env", nil, true},
		{"all present", stubEnv{}, true},
		{"missing fetch", stubEnv{missing: []string{"fetch"}}, false},
		{"env failure is permissive", stubEnv{err: errors.New("boom")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := &CapabilityRule{Env: tt.env}
			ok, err := rule.Validate(ctx, d)
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if ok != tt.want {
				t.Errorf("Validate = %v, want %v", ok, tt.want)
			}
		})
	}
}

func TestConnectivityRule(t *testing.T) {
	ctx := context.Background()

	rule := &ConnectivityRule{}
	ok, _ := rule.Validate(ctx, MustDescriptor(Spec{Name: "x", BaseURL: "http://127.0.0.1:1"}))
	if !ok {
		t.Error("default connectivity rule must always pass")
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()

	probe := &ConnectivityRule{Probe: true, Client: down.Client()}
	ok, _ = probe.Validate(ctx, MustDescriptor(Spec{Name: "x", BaseURL: down.URL}))
	if ok {
		t.Error("probe should fail on 5xx")
	}

	unreachable := &ConnectivityRule{Probe: true}
	ok, _ = unreachable.Validate(ctx, MustDescriptor(Spec{Name: "x", BaseURL: "http://127.0.0.1:1"}))
	if !ok {
		t.Error("transport errors must degrade to pass")
	}
}

func TestResourceRule(t *testing.T) {
	ctx := context.Background()
	d := MustDescriptor(Spec{Name: "puzzle"})

	if ok, _ := (&ResourceRule{}).Validate(ctx, d); !ok {
		t.Error("resource rule without check must pass")
	}
	failing := &ResourceRule{Check: func(context.Context, *Descriptor) (bool, error) { return false, errors.New("cdn down") }}
	if ok, _ := failing.Validate(ctx, d); !ok {
		t.Error("resource check errors must degrade to pass")
	}
	denied := &ResourceRule{Check: func(context.Context, *Descriptor) (bool, error) { return false, nil }}
	if ok, _ := denied.Validate(ctx, d); ok {
		t.Error("explicit false must fail")
	}
}

const sampleCatalog = `
tenants:
  - id: acme
    name: Acme Corp
    games:
      - name: trivia
        title: Acme Trivia
        baseUrl: https://cdn.acme.example/games
        difficulty: hard
        gameType: trivia
      - name: puzzle
        baseUrl: https://cdn.acme.example/games
        readyEvent: maze-loaded
  - id: globex
    games:
      - name: trivia
        baseUrl: https://globex.example
`

func TestParseMetadataAndFind(t *testing.T) {
	c, err := ParseMetadata([]byte(sampleCatalog))
	if err != nil {
		t.Fatalf("ParseMetadata: %v", err)
	}

	m, ok := c.Find("globex", "trivia")
	if !ok {
		t.Fatal("expected globex trivia")
	}
	if m.TenantID != "globex" || m.BaseURL != "https://globex.example" {
		t.Errorf("unexpected metadata: %+v", m)
	}

	m, ok = c.Find("", "puzzle")
	if !ok || m.TenantID != "acme" {
		t.Fatalf("Find any tenant: %+v %v", m, ok)
	}
	d, err := FromMetadata(m, &ResourceRule{})
	if err != nil {
		t.Fatalf("FromMetadata: %v", err)
	}
	if d.ReadyEventName() != "maze-loaded" {
		t.Errorf("ReadyEventName = %q, want maze-loaded", d.ReadyEventName())
	}
	if len(d.Rules()) != 1 {
		t.Errorf("rules = %d, want 1", len(d.Rules()))
	}

	if _, ok := c.Find("acme", "chess"); ok {
		t.Error("unexpected match for unknown game")
	}
}

func TestLoadMetadataFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(sampleCatalog), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := LoadMetadataFile(path)
	if err != nil {
		t.Fatalf("LoadMetadataFile: %v", err)
	}
	if len(c.Tenants) != 2 {
		t.Errorf("tenants = %d, want 2", len(c.Tenants))
	}

	if _, err := ParseMetadata([]byte("tenants:\n  - id: x\n    games:\n      - title: nameless\n")); err == nil {
		t.Error("expected error for game without name")
	}
}
