// Package kvstore provides a schemaless key-value store addressed by a single partition key string.
// Items carry a JSON document and an optional expiry time after which they are no longer visible.
package kvstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MaxBatchKeys is the largest number of keys accepted by a single BatchGet call
const MaxBatchKeys = 100

// ErrNotFound is returned by Get when no live item exists for the key
var ErrNotFound = errors.New("item not found")

// Item is a single record in the store
type Item struct {
	Key string
	// Value is the JSON document stored under Key
	Value []byte
	// ExpiresAt is nil for items that never expire
	ExpiresAt *time.Time
}

// Expired reports whether the item is past its expiry time at "at"
func (i *Item) Expired(at time.Time) bool {
	return i.ExpiresAt != nil && !at.Before(*i.ExpiresAt)
}

// Store is implemented by Postgres and Memory
type Store interface {
	// Get retrieves the item under key, returns ErrNotFound if missing or expired
	Get(ctx context.Context, key string) (*Item, error)

	// Put creates or replaces the item under item.Key
	Put(ctx context.Context, item Item) error

	// BatchGet retrieves up to MaxBatchKeys items. Missing keys are absent from the result map.
	BatchGet(ctx context.Context, keys []string) (map[string]Item, error)

	// BatchWrite creates or replaces all items together
	BatchWrite(ctx context.Context, items []Item) error

	// ScanPrefix calls fn for every live item whose key starts with prefix, stopping at the first error
	ScanPrefix(ctx context.Context, prefix string, fn func(Item) error) error

	// DeleteExpired removes items whose expiry is at or before "at", returns number removed
	DeleteExpired(ctx context.Context, at time.Time) (int64, error)
}

// uniqueKeys removes duplicates from keys preserving first occurrence order
func uniqueKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	results := make([]string, 0, len(keys))
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true
		results = append(results, key)
	}
	return results
}

// escapeLikePrefix makes prefix safe for use in a sql "like" expression with '\' as escape character
func escapeLikePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	return r.Replace(prefix) + "%"
}
