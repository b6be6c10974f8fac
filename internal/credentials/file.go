package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// fileVault keeps blobs in a single owner-only JSON object keyed by account.
// Writes go through a temp file and rename.
type fileVault struct {
	path string
	mu   sync.Mutex
}

func (f *fileVault) get(account string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	blobs, err := f.load()
	if err != nil {
		return "", err
	}
	v, ok := blobs[account]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (f *fileVault) set(account, blob string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	blobs, err := f.load()
	if err != nil {
		return err
	}
	blobs[account] = blob
	return f.store(blobs)
}

func (f *fileVault) remove(account string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	blobs, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := blobs[account]; !ok {
		return nil
	}
	delete(blobs, account)
	return f.store(blobs)
}

func (f *fileVault) load() (map[string]string, error) {
	blobs := map[string]string{}
	raw, err := os.ReadFile(f.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return blobs, nil
	case err != nil:
		return nil, fmt.Errorf("credentials: read %s: %w", f.path, err)
	case len(raw) == 0:
		return blobs, nil
	}
	if err := json.Unmarshal(raw, &blobs); err != nil {
		return nil, fmt.Errorf("credentials: decode %s: %w", f.path, err)
	}
	return blobs, nil
}

func (f *fileVault) store(blobs map[string]string) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("credentials: mkdir %s: %w", dir, err)
	}
	raw, err := json.MarshalIndent(blobs, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".logins-*")
	if err != nil {
		return fmt.Errorf("credentials: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("credentials: write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}
