package localstore

import (
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStorageImplementations(t *testing.T) {
	impls := map[string]func(t *testing.T) Storage{
		"sqlite": func(t *testing.T) Storage { return testStore(t) },
		"memory": func(t *testing.T) Storage { return NewMemory() },
	}
	for name, mk := range impls {
		t.Run(name, func(t *testing.T) {
			s := mk(t)

			if _, ok, err := s.GetItem("gameSession_u1"); err != nil || ok {
				t.Fatalf("GetItem on empty store: ok=%t err=%v", ok, err)
			}
			if err := s.SetItem("gameSession_u1", `{"score":1}`); err != nil {
				t.Fatalf("SetItem: %v", err)
			}
			if err := s.SetItem("gameSession_u1", `{"score":2}`); err != nil {
				t.Fatalf("SetItem overwrite: %v", err)
			}
			if err := s.SetItem("gameHistory_u1", `[]`); err != nil {
				t.Fatal(err)
			}

			v, ok, err := s.GetItem("gameSession_u1")
			if err != nil || !ok || v != `{"score":2}` {
				t.Errorf("GetItem = %q, %t, %v", v, ok, err)
			}

			if v, ok, err := s.GetItem("gameHistory_u1"); err != nil || !ok || v != `[]` {
				t.Errorf("GetItem history = %q, %t, %v", v, ok, err)
			}

			if err := s.RemoveItem("gameSession_u1"); err != nil {
				t.Fatal(err)
			}
			if _, ok, _ := s.GetItem("gameSession_u1"); ok {
				t.Error("item still present after RemoveItem")
			}
		})
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")
	s, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Migrate(); err != nil {
		t.Fatal(err)
	}
	if err := s.SetItem("k", "v"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	if err := s2.Migrate(); err != nil {
		t.Fatal(err)
	}
	if v, ok, _ := s2.GetItem("k"); !ok || v != "v" {
		t.Errorf("after reopen GetItem = %q, %t", v, ok)
	}
}
