package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultRateLimitMaxEntries bounds the number of tracked identifiers
	DefaultRateLimitMaxEntries = 10000

	// DefaultRateLimitIdleTimeout is how long an unused bucket is kept
	DefaultRateLimitIdleTimeout = 30 * time.Minute

	// DefaultRateLimitCleanupInterval is how often idle buckets are dropped
	DefaultRateLimitCleanupInterval = 5 * time.Minute
)

// RateLimiterConfig configures a RateLimiter. Zero values select defaults.
type RateLimiterConfig struct {
	RequestsPerSecond float64
	Burst             int
	MaxEntries        int
	IdleTimeout       time.Duration
	CleanupInterval   time.Duration
}

type bucket struct {
	key        string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter provides per-identifier token bucket rate limiting with LRU
// eviction. It is safe for concurrent use.
type RateLimiter struct {
	config RateLimiterConfig
	logger *slog.Logger

	mu      sync.Mutex
	buckets map[string]*list.Element // key -> element holding *bucket
	lru     *list.List               // front = most recently used

	evictions int64

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a rate limiter and starts its cleanup goroutine.
// Call Stop to release it.
func NewRateLimiter(config RateLimiterConfig, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 10
	}
	if config.Burst <= 0 {
		config.Burst = 20
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultRateLimitMaxEntries
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultRateLimitIdleTimeout
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultRateLimitCleanupInterval
	}

	rl := &RateLimiter{
		config:  config,
		logger:  logger,
		buckets: make(map[string]*list.Element),
		lru:     list.New(),
		stop:    make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow reports whether one more request from key is allowed now.
func (rl *RateLimiter) Allow(key string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if elem, ok := rl.buckets[key]; ok {
		rl.lru.MoveToFront(elem)
		b := elem.Value.(*bucket)
		b.lastAccess = now
		return b.limiter.AllowN(now, 1)
	}

	if len(rl.buckets) >= rl.config.MaxEntries {
		rl.evictOldestLocked()
	}

	b := &bucket{
		key:        key,
		limiter:    rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst),
		lastAccess: now,
	}
	rl.buckets[key] = rl.lru.PushFront(b)
	return b.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) evictOldestLocked() {
	elem := rl.lru.Back()
	if elem == nil {
		return
	}
	b := elem.Value.(*bucket)
	rl.lru.Remove(elem)
	delete(rl.buckets, b.key)
	rl.evictions++

	rl.logger.Debug("Rate limiter evicted least recently used bucket",
		"total_evictions", rl.evictions,
		"entries", len(rl.buckets))
}

// Cleanup drops buckets not used since before now minus the idle timeout.
// Returns the number removed.
func (rl *RateLimiter) Cleanup(now time.Time) int {
	cutoff := now.Add(-rl.config.IdleTimeout)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	// Walk from the back: entries are ordered by last access.
	for elem := rl.lru.Back(); elem != nil; {
		b := elem.Value.(*bucket)
		if !b.lastAccess.Before(cutoff) {
			break
		}
		prev := elem.Prev()
		rl.lru.Remove(elem)
		delete(rl.buckets, b.key)
		removed++
		elem = prev
	}

	if removed > 0 {
		rl.logger.Debug("Rate limiter cleanup", "removed", removed, "remaining", len(rl.buckets))
	}
	return removed
}

// Len returns the number of tracked identifiers.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			rl.Cleanup(now)
		case <-rl.stop:
			return
		}
	}
}

// Stop terminates the cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}
