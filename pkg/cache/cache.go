// Package cache provides a generic, thread-safe LRU cache.
//
// The cache keeps compiled address patterns so that repeated queries and
// filter checks do not recompile the same wildcard expression.
package cache

import (
	"fmt"

	"github.com/c360/oscbridge/errors"
)

// Cache is a bounded key/value cache parameterized by value type V.
type Cache[V any] interface {
	// Get retrieves a value by key and marks it as recently used.
	Get(key string) (V, bool)

	// Set stores a value. Returns true if a new entry was created, false if updated.
	Set(key string, value V) (bool, error)

	// Delete removes an entry. Returns true if the key existed.
	Delete(key string) bool

	// Clear removes all entries.
	Clear()

	// Size returns the current number of entries.
	Size() int

	// Keys returns all keys, most recently used first.
	Keys() []string

	// Stats returns cache statistics.
	Stats() *Statistics
}

// EvictCallback is called when an entry is evicted because the cache is full.
type EvictCallback[V any] func(key string, value V)

// NewLRU creates an LRU cache holding at most maxSize entries.
func NewLRU[V any](maxSize int, options ...Option[V]) (Cache[V], error) {
	if maxSize <= 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("max size %d must be positive", maxSize),
			"cache", "NewLRU", "size validation")
	}
	return newLRUCache(maxSize, applyOptions(options...))
}

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
