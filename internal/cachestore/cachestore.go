// Package cachestore supplies concrete persistence backends (in-memory,
// disk, LevelDB, Redis, Memcache) for cached HTTP responses. The cache
// strategy in pkg/cachepolicy is a pure decision function; these backends
// are the persistence layer it is exercised against.
package cachestore

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Entry is the on-the-wire record a Cache Store persists: enough to
// reconstruct a cachepolicy.CacheEntry without importing pkg/engine types
// (gob round-trips plain data only).
type Entry struct {
	StatusCode          int
	Headers             map[string][]string
	Body                []byte
	SentAtUnixMilli     int64
	ReceivedAtUnixMilli int64
}

// Store is the persistence contract every backend implements.
type Store interface {
	Get(key string) (*Entry, bool, error)
	Put(key string, e *Entry) error
	Remove(key string) error
}

// Key derives the cache key for a request from its method and URL.
func Key(method, url string) string {
	return method + " " + url
}

func encode(e *Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, fmt.Errorf("cachestore: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (*Entry, error) {
	var e Entry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e); err != nil {
		return nil, fmt.Errorf("cachestore: decode: %w", err)
	}
	return &e, nil
}
