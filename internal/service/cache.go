package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mymuse-io/adcopy-api/internal/core"
)

// CacheServiceOptions groups dependencies for CacheService.
type CacheServiceOptions struct {
	Shared       core.CacheRepository // Required: shared backend (Redis)
	Fallback     core.CacheRepository // Required: in-process fallback backend
	DefaultTTL   time.Duration        // Optional: TTL applied when Set gets no explicit TTL (default 1h)
	ProbeTimeout time.Duration        // Optional: bound for the startup connectivity probe (default 2s)
	Logger       *slog.Logger         // Optional: structured logger
}

const (
	defaultCacheTTL     = time.Hour
	defaultProbeTimeout = 2 * time.Second
)

// CacheService fronts the cache backends for the rest of the application.
//
// The backend is chosen once at construction: a single connectivity probe
// against the shared backend decides between it and the in-process fallback,
// and the choice holds for the life of the process. Callers never see backend
// errors; a failing call degrades to a miss (or a false/zero return) and the
// failure is logged.
type CacheService struct {
	backend    core.CacheRepository
	usingLocal bool
	defaultTTL time.Duration
	logger     *slog.Logger
}

// NewCacheService constructs a CacheService, probing the shared backend once
// to decide which backend serves this process.
func NewCacheService(ctx context.Context, opts CacheServiceOptions) (*CacheService, error) {
	if opts.Shared == nil {
		return nil, errors.New("shared cache backend is required")
	}
	if opts.Fallback == nil {
		return nil, errors.New("fallback cache backend is required")
	}

	ttl := opts.DefaultTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	probeTimeout := opts.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "cache_service")
	}

	svc := &CacheService{
		backend:    opts.Shared,
		defaultTTL: ttl,
		logger:     logger,
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := opts.Shared.Health(probeCtx); err != nil {
		svc.backend = opts.Fallback
		svc.usingLocal = true
		if logger != nil {
			logger.WarnContext(ctx, "shared cache unreachable, using in-process fallback",
				"error", err,
			)
		}
	} else if logger != nil {
		logger.InfoContext(ctx, "cache connected to shared backend")
	}

	return svc, nil
}

// MustNewCacheService constructs a CacheService and panics on error.
func MustNewCacheService(ctx context.Context, opts CacheServiceOptions) *CacheService {
	svc, err := NewCacheService(ctx, opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create CacheService: %v", err))
	}
	return svc
}

// UsingLocalFallback reports whether the in-process fallback serves this process.
func (s *CacheService) UsingLocalFallback() bool {
	return s.usingLocal
}

// Set stores a value under key, JSON-encoded, with the given TTL. A zero TTL
// applies the configured default. Returns false when the value could not be
// stored; the caller is expected to carry on without the cache.
func (s *CacheService) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	encoded, err := json.Marshal(value)
	if err != nil {
		s.logFailure(ctx, "set", key, err)
		return false
	}

	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	if err := s.backend.Set(ctx, key, encoded, ttl); err != nil {
		s.logFailure(ctx, "set", key, err)
		return false
	}
	return true
}

// Get retrieves the value under key. The second return is false on a miss or
// any backend failure. Stored JSON decodes into its natural Go shape; a value
// that does not decode is returned verbatim as a string rather than dropped.
func (s *CacheService) Get(ctx context.Context, key string) (any, bool) {
	raw, err := s.backend.Get(ctx, key)
	if err != nil {
		s.logFailure(ctx, "get", key, err)
		return nil, false
	}
	if raw == nil {
		return nil, false
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		// Not JSON; hand back the raw payload instead of losing it.
		return string(raw), true
	}
	return value, true
}

// Delete removes the value under key. Returns true only when a live entry was
// removed.
func (s *CacheService) Delete(ctx context.Context, key string) bool {
	deleted, err := s.backend.Delete(ctx, key)
	if err != nil {
		s.logFailure(ctx, "delete", key, err)
		return false
	}
	return deleted
}

// Exists reports whether a live entry is stored under key.
func (s *CacheService) Exists(ctx context.Context, key string) bool {
	exists, err := s.backend.Exists(ctx, key)
	if err != nil {
		s.logFailure(ctx, "exists", key, err)
		return false
	}
	return exists
}

// DeletePattern removes every key matching a glob pattern with a single "*"
// wildcard and returns the exact number of keys removed. Returns 0 on failure.
func (s *CacheService) DeletePattern(ctx context.Context, pattern string) int {
	deleted, err := s.backend.DeletePattern(ctx, pattern)
	if err != nil {
		s.logFailure(ctx, "delete_pattern", pattern, err)
		return deleted
	}
	return deleted
}

// Clear removes every entry from the active backend. Returns false on failure.
func (s *CacheService) Clear(ctx context.Context) bool {
	if err := s.backend.Clear(ctx); err != nil {
		s.logFailure(ctx, "clear", "", err)
		return false
	}
	return true
}

// Health reports the health of the active backend.
func (s *CacheService) Health(ctx context.Context) error {
	return s.backend.Health(ctx)
}

func (s *CacheService) logFailure(ctx context.Context, op, key string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.WarnContext(ctx, "cache operation failed",
		"op", op,
		"key", key,
		"error", err,
	)
}

// JobCacheKey returns the cache key for a job's serialized representation.
func JobCacheKey(jobID string) string {
	return "job:" + jobID
}

// JobCachePattern returns the pattern matching every job cache entry.
func JobCachePattern() string {
	return "job:*"
}
