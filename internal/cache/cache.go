// ABOUTME: Lookaside cache contract for aggregated artifact data.
// ABOUTME: Values are stored as JSON under namespaced type/key pairs.

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// AllKey addresses the result of a collection over every project.
const AllKey = "_ALL"

// Kinds of cached values.
const (
	KindArtifactInfo = "ArtifactInfo"
	KindProject      = "Project"
)

// Cache stores JSON-encoded values keyed by kind and key. Implementations
// are safe for concurrent use.
type Cache interface {
	// Get decodes the cached value into dst. found is false on a miss.
	Get(ctx context.Context, kind, key string, dst any) (found bool, err error)
	Set(ctx context.Context, kind, key string, value any) error
	Close() error
}

// Key builds the storage key "{namespace}:{kind}_{key}". Multi-part keys
// are joined without a separator.
func Key(namespace, kind string, parts ...string) string {
	return fmt.Sprintf("%s:%s_%s", namespace, kind, strings.Join(parts, ""))
}

func encode(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshalling cache value: %w", err)
	}
	return data, nil
}

func decode(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshalling cache value: %w", err)
	}
	return nil
}
