// ABOUTME: Process-wide set of open caches keyed by URL.
// ABOUTME: Opens each cache once and closes all of them on shutdown.

package cache

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// MemoryURL selects the in-memory cache.
const MemoryURL = "memory://"

// Registry hands out one shared Cache per URL.
type Registry struct {
	namespace string
	ttl       time.Duration
	logger    *logrus.Logger

	mu     sync.Mutex
	caches map[string]Cache
}

func NewRegistry(namespace string, ttl time.Duration, logger *logrus.Logger) *Registry {
	return &Registry{
		namespace: namespace,
		ttl:       ttl,
		logger:    logger,
		caches:    make(map[string]Cache),
	}
}

// Open returns the cache for rawURL, creating it on first use. An empty URL
// or memory:// selects the in-memory cache.
func (r *Registry) Open(rawURL string) (Cache, error) {
	if rawURL == "" {
		rawURL = MemoryURL
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.caches[rawURL]; ok {
		return c, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid cache URL: %w", err)
	}

	var c Cache
	switch u.Scheme {
	case "memory":
		c = NewMemoryCache(r.namespace, r.ttl, r.logger)
	case "redis", "rediss":
		client, err := NewRedisClient(rawURL)
		if err != nil {
			return nil, err
		}
		c = NewRedisCache(client, r.namespace, r.ttl, r.logger)
	default:
		return nil, fmt.Errorf("unsupported cache URL scheme: %s", u.Scheme)
	}

	r.logger.WithFields(logrus.Fields{
		"scheme":    u.Scheme,
		"namespace": r.namespace,
		"ttl":       r.ttl,
	}).Info("Opened cache")
	r.caches[rawURL] = c
	return c, nil
}

// Close closes every open cache and forgets them. The first error is returned.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for key, c := range r.caches {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing cache: %w", err)
		}
		delete(r.caches, key)
	}
	return firstErr
}
