// Package migrate imports memory files into the store with an
// idempotency manifest, plus an optional re-import watcher.
package migrate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	mnerr "github.com/hephaestus-forge/mnemo/internal/errors"
)

// Manifest is the persistent content-hash -> chunk-id map that makes
// imports idempotent.
type Manifest struct {
	path string

	mu      sync.Mutex
	entries map[string]string
}

// LoadManifest reads the manifest at path; a missing file yields an
// empty manifest.
func LoadManifest(path string) (*Manifest, error) {
	m := &Manifest{path: path, entries: make(map[string]string)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, mnerr.Wrap(mnerr.ErrCodeCorrupt, err)
	}
	if err := json.Unmarshal(data, &m.entries); err != nil {
		return nil, mnerr.Wrap(mnerr.ErrCodeCorrupt, err)
	}
	return m, nil
}

// Has reports whether the content hash is already imported.
func (m *Manifest) Has(hash string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[hash]
	return ok
}

// Record maps the content hash to the stored chunk id.
func (m *Manifest) Record(hash, chunkID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[hash] = chunkID
}

// Len returns the number of recorded entries.
func (m *Manifest) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Save writes the manifest atomically (temp file + rename).
func (m *Manifest) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.MarshalIndent(m.entries, "", "  ")
	if err != nil {
		return mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}

	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return mnerr.Wrap(mnerr.ErrCodeInternal, err)
		}
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		_ = os.Remove(tmp)
		return mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	return nil
}

// ContentHash returns the hex SHA-256 of the chunk text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
