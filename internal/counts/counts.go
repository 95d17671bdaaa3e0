// Package counts maintains a periodically refreshed cache of the active
// session count, so the health endpoint and connection greetings never fan
// read load onto the database.
package counts

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// defaultRefreshInterval is the cache refresh cadence.
const defaultRefreshInterval = 30 * time.Second

// Counter is the single store operation the cache needs.
type Counter interface {
	CountActiveSessions(ctx context.Context) (int, error)
}

// Cache is the refreshed active-session count. Safe for concurrent use.
type Cache struct {
	counter  Counter
	interval time.Duration
	logger   *slog.Logger

	mu        sync.RWMutex
	value     int
	updatedAt time.Time
}

// Option is a functional option for configuring a Cache.
type Option func(*Cache)

// WithInterval overrides the refresh cadence.
func WithInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates a Cache. The value is zero until the first Refresh.
func New(counter Counter, opts ...Option) *Cache {
	c := &Cache{
		counter:  counter,
		interval: defaultRefreshInterval,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ActiveSessions returns the cached count.
func (c *Cache) ActiveSessions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// UpdatedAt returns when the cache was last refreshed; zero before the first
// refresh.
func (c *Cache) UpdatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updatedAt
}

// Refresh reads the count from the store. A failed read keeps the previous
// value.
func (c *Cache) Refresh(ctx context.Context) {
	n, err := c.counter.CountActiveSessions(ctx)
	if err != nil {
		c.logger.Warn("failed to refresh active session count", "error", err)
		return
	}
	c.mu.Lock()
	c.value = n
	c.updatedAt = time.Now()
	c.mu.Unlock()
}

// Run refreshes once immediately and then on the configured cadence until
// ctx is cancelled.
func (c *Cache) Run(ctx context.Context) {
	c.Refresh(ctx)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}
