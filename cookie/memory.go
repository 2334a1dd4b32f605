package cookie

import (
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	cfg       Config
	expiresAt time.Time // zero means session cookie, no expiry
}

// MemoryJar is an in-process Jar standing in for the browser cookie jar.
// Expired entries behave as absent. Safe for concurrent use.
type MemoryJar struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryJar creates an empty jar.
func NewMemoryJar() *MemoryJar {
	return &MemoryJar{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// WithClock injects a clock, for tests.
func (j *MemoryJar) WithClock(now func() time.Time) *MemoryJar {
	j.now = now
	return j
}

// Set stores a value under name. A non-zero MaxAge sets an expiry.
func (j *MemoryJar) Set(name, value string, cfg Config) {
	cfg = cfg.normalize()

	var expiresAt time.Time
	if cfg.MaxAge > 0 {
		expiresAt = j.now().Add(cfg.MaxAge)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[name] = memoryEntry{value: value, cfg: cfg, expiresAt: expiresAt}
}

// Get returns the stored value, or false when absent or expired.
func (j *MemoryJar) Get(name string) (string, bool) {
	j.mu.RLock()
	e, ok := j.entries[name]
	j.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !e.expiresAt.IsZero() && !j.now().Before(e.expiresAt) {
		j.Delete(name)
		return "", false
	}
	return e.value, true
}

// Delete removes the entry. Deleting an absent cookie is a no-op.
func (j *MemoryJar) Delete(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.entries, name)
}

// Len reports the number of live entries.
func (j *MemoryJar) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	n := 0
	for _, e := range j.entries {
		if e.expiresAt.IsZero() || j.now().Before(e.expiresAt) {
			n++
		}
	}
	return n
}
