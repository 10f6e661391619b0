package cachestore

import (
	"crypto/sha256"
	"encoding/hex"
	"os"

	"github.com/peterbourgon/diskv/v3"
)

// DiskStore persists entries to individual files under a base directory,
// over github.com/peterbourgon/diskv.
type DiskStore struct {
	d *diskv.Diskv
}

// NewDiskStore returns a DiskStore rooted at dir.
func NewDiskStore(dir string) *DiskStore {
	d := diskv.New(diskv.Options{
		BasePath:     dir,
		Transform:    func(string) []string { return nil },
		CacheSizeMax: 64 * 1024 * 1024,
	})
	return &DiskStore{d: d}
}

// diskKey hashes the cache key into a filesystem-safe filename: request
// URLs contain characters (":", "/", "?") diskv's default Transform does
// not sanitize.
func diskKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (s *DiskStore) Get(key string) (*Entry, bool, error) {
	data, err := s.d.Read(diskKey(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	e, err := decode(data)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

func (s *DiskStore) Put(key string, e *Entry) error {
	data, err := encode(e)
	if err != nil {
		return err
	}
	return s.d.Write(diskKey(key), data)
}

func (s *DiskStore) Remove(key string) error {
	return s.d.Erase(diskKey(key))
}
