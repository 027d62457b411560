package data

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// memoryEntry is one stored value with its optional expiry deadline.
type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryCacheRepo implements the CacheRepository interface with an in-process
// map. It is the fallback backend when the shared Redis cache is unreachable.
// Expired entries are evicted lazily on read rather than by a sweeper.
type MemoryCacheRepo struct {
	mu           sync.RWMutex
	entries      map[string]memoryEntry
	timeProvider TimeProvider
}

// NewMemoryCacheRepo creates a new empty MemoryCacheRepo.
func NewMemoryCacheRepo(tp TimeProvider) *MemoryCacheRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &MemoryCacheRepo{
		entries:      make(map[string]memoryEntry),
		timeProvider: tp,
	}
}

// Set stores a value with the given key and TTL. A TTL of 0 means no expiry.
func (m *MemoryCacheRepo) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}

	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = m.timeProvider.Now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

// Get retrieves a value by key. Returns nil if the key doesn't exist or has
// expired; an expired entry is evicted on the way out.
func (m *MemoryCacheRepo) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("key cannot be empty")
	}

	now := m.timeProvider.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	if entry.expired(now) {
		delete(m.entries, key)
		return nil, nil
	}
	return append([]byte(nil), entry.value...), nil
}

// Delete removes a key. Returns true if a live entry was removed.
func (m *MemoryCacheRepo) Delete(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("key cannot be empty")
	}

	now := m.timeProvider.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	delete(m.entries, key)
	if entry.expired(now) {
		return false, nil
	}
	return true, nil
}

// Exists checks if a live entry exists for the key.
func (m *MemoryCacheRepo) Exists(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("key cannot be empty")
	}

	now := m.timeProvider.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	if entry.expired(now) {
		delete(m.entries, key)
		return false, nil
	}
	return true, nil
}

// DeletePattern removes all live entries whose keys match a glob-style pattern
// with at most one "*" wildcard. Returns the number of entries removed.
// Expired entries encountered during the scan are evicted but not counted.
func (m *MemoryCacheRepo) DeletePattern(_ context.Context, pattern string) (int, error) {
	if pattern == "" {
		return 0, errors.New("pattern cannot be empty")
	}

	now := m.timeProvider.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int
	for key, entry := range m.entries {
		if !matchPattern(pattern, key) {
			continue
		}
		delete(m.entries, key)
		if !entry.expired(now) {
			deleted++
		}
	}
	return deleted, nil
}

// Clear removes every entry.
func (m *MemoryCacheRepo) Clear(_ context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.mu.Unlock()
	return nil
}

// Health always succeeds for the in-process backend.
func (m *MemoryCacheRepo) Health(_ context.Context) error {
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *MemoryCacheRepo) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// matchPattern matches key against a glob pattern with at most one "*"
// wildcard. Without a wildcard the match is exact.
func matchPattern(pattern, key string) bool {
	star := strings.IndexByte(pattern, '*')
	if star < 0 {
		return pattern == key
	}
	prefix, suffix := pattern[:star], pattern[star+1:]
	return len(key) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(key, prefix) &&
		strings.HasSuffix(key, suffix)
}
