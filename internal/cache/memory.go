// ABOUTME: In-memory TTL cache for running without Redis.
// ABOUTME: Expired entries are ignored on read and swept by a background goroutine.

package cache

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const cleanupInterval = 10 * time.Minute

type entry struct {
	data      []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryCache is a process-local Cache. A zero TTL keeps entries forever.
type MemoryCache struct {
	namespace string
	ttl       time.Duration
	logger    *logrus.Logger

	mutex   sync.RWMutex
	entries map[string]entry

	now  func() time.Time
	done chan struct{}
	once sync.Once
}

func NewMemoryCache(namespace string, ttl time.Duration, logger *logrus.Logger) *MemoryCache {
	c := &MemoryCache{
		namespace: namespace,
		ttl:       ttl,
		logger:    logger,
		entries:   make(map[string]entry),
		now:       time.Now,
		done:      make(chan struct{}),
	}

	go c.startCleanup()

	return c
}

func (c *MemoryCache) Get(ctx context.Context, kind, key string, dst any) (bool, error) {
	storageKey := Key(c.namespace, kind, key)

	c.mutex.RLock()
	e, exists := c.entries[storageKey]
	c.mutex.RUnlock()

	// Expired entries are left for the cleanup sweep
	if !exists || e.expired(c.now()) {
		return false, nil
	}

	if err := decode(e.data, dst); err != nil {
		return false, err
	}
	c.logger.WithField("key", storageKey).Debug("Cache hit")
	return true, nil
}

func (c *MemoryCache) Set(ctx context.Context, kind, key string, value any) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	storageKey := Key(c.namespace, kind, key)

	e := entry{data: data}
	if c.ttl > 0 {
		e.expiresAt = c.now().Add(c.ttl)
	}

	c.mutex.Lock()
	c.entries[storageKey] = e
	c.mutex.Unlock()

	c.logger.WithField("key", storageKey).Debug("Cached value")
	return nil
}

// Close stops the cleanup goroutine.
func (c *MemoryCache) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *MemoryCache) startCleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

func (c *MemoryCache) cleanup() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	expiredCount := 0

	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			expiredCount++
		}
	}

	if expiredCount > 0 {
		c.logger.WithFields(logrus.Fields{
			"expired_entries":   expiredCount,
			"remaining_entries": len(c.entries),
		}).Debug("Cache cleanup completed")
	}
}

// Stats reports the number of stored and expired entries.
func (c *MemoryCache) Stats() (total int, expired int) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	now := c.now()
	total = len(c.entries)

	for _, e := range c.entries {
		if e.expired(now) {
			expired++
		}
	}

	return total, expired
}
