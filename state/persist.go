package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// SchemaVersion is the current persisted-state schema. Version 1 lacked the
// session_id field; Migrate upgrades it in place.
const SchemaVersion = 2

// Persisted is the durable view of the auth state. Only this safe, minimal
// subset is ever written outside cookies: no tokens, no user details.
type Persisted struct {
	Version         int    `yaml:"version"`
	IsAuthenticated bool   `yaml:"is_authenticated"`
	LastActivityMS  int64  `yaml:"last_activity_ms"`
	SessionID       string `yaml:"session_id,omitempty"`
}

// ErrUnknownSchema is returned for persisted state newer than this build.
var ErrUnknownSchema = errors.New("unknown persisted auth state schema")

// Migrate upgrades a persisted snapshot to the current schema.
func Migrate(p *Persisted) error {
	switch p.Version {
	case 0, 1:
		// v1 had no session_id; nothing to backfill, just stamp.
		p.Version = SchemaVersion
		return nil
	case SchemaVersion:
		return nil
	default:
		return fmt.Errorf("%w: version %d", ErrUnknownSchema, p.Version)
	}
}

// ToPersisted snapshots the durable subset of the store.
func (s *Store) ToPersisted() Persisted {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := Persisted{
		Version:         SchemaVersion,
		IsAuthenticated: s.authenticated,
		LastActivityMS:  s.lastActivity.UnixMilli(),
	}
	if s.session != nil {
		p.SessionID = s.session.ID
	}
	return p
}

// ApplyPersisted restores the durable subset. It deliberately does NOT mark
// the store authenticated: a persisted flag is only a hint that a server
// round-trip (session validation) is worth attempting, and the invariant
// "authenticated implies user and session present" must hold.
func (s *Store) ApplyPersisted(p Persisted) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.LastActivityMS > 0 {
		s.lastActivity = time.UnixMilli(p.LastActivityMS)
	}
}

// Storage persists opaque bytes. Absence on Load is reported as
// (nil, os.ErrNotExist).
type Storage interface {
	Load() ([]byte, error)
	Save(data []byte) error
}

// FileStorage keeps the persisted view in a single file, mode 0600.
type FileStorage struct {
	Path string
}

// Load reads the file.
func (f FileStorage) Load() ([]byte, error) {
	return os.ReadFile(f.Path)
}

// Save writes the file, creating parent directories as needed.
func (f FileStorage) Save(data []byte) error {
	if dir := filepath.Dir(f.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}
	return os.WriteFile(f.Path, data, 0o600)
}

// Persist writes the durable view of the store to storage as YAML.
func (s *Store) Persist(storage Storage) error {
	data, err := yaml.Marshal(s.ToPersisted())
	if err != nil {
		return fmt.Errorf("marshal persisted auth state: %w", err)
	}
	return storage.Save(data)
}

// Restore loads, migrates and applies the persisted view, returning the
// snapshot so the caller can decide whether a session validation round-trip
// is warranted. A missing file yields a zero snapshot and no error.
func (s *Store) Restore(storage Storage) (Persisted, error) {
	data, err := storage.Load()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Persisted{Version: SchemaVersion}, nil
		}
		return Persisted{}, fmt.Errorf("load persisted auth state: %w", err)
	}

	var p Persisted
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Persisted{}, fmt.Errorf("decode persisted auth state: %w", err)
	}
	if err := Migrate(&p); err != nil {
		return Persisted{}, err
	}

	s.ApplyPersisted(p)
	return p, nil
}
