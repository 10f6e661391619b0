package cachestore

import (
	"github.com/bradfitz/gomemcache/memcache"
)

// MemcacheStore persists entries to a Memcache cluster over
// github.com/bradfitz/gomemcache.
type MemcacheStore struct {
	client *memcache.Client
}

// NewMemcacheStore dials the given Memcache server addresses.
func NewMemcacheStore(servers ...string) *MemcacheStore {
	return &MemcacheStore{client: memcache.New(servers...)}
}

// Get looks up key. Memcache caps key length, and cache keys are request
// method+URL that can easily exceed the cap, so Get/Put/Remove hash the
// key with diskKey the same way DiskStore does.
func (s *MemcacheStore) Get(key string) (*Entry, bool, error) {
	item, err := s.client.Get(diskKey(key))
	if err == memcache.ErrCacheMiss {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	e, err := decode(item.Value)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

func (s *MemcacheStore) Put(key string, e *Entry) error {
	data, err := encode(e)
	if err != nil {
		return err
	}
	return s.client.Set(&memcache.Item{Key: diskKey(key), Value: data})
}

func (s *MemcacheStore) Remove(key string) error {
	err := s.client.Delete(diskKey(key))
	if err == memcache.ErrCacheMiss {
		return nil
	}
	return err
}
