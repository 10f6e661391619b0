package cachestore

import (
	"github.com/syndtr/goleveldb/leveldb"
)

// LevelDBStore persists entries in an embedded LevelDB database over
// github.com/syndtr/goleveldb.
type LevelDBStore struct {
	db *leveldb.DB
}

// NewLevelDBStore opens (creating if absent) a LevelDB database at dir.
func NewLevelDBStore(dir string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDBStore{db: db}, nil
}

func (s *LevelDBStore) Get(key string) (*Entry, bool, error) {
	data, err := s.db.Get([]byte(key), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
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

func (s *LevelDBStore) Put(key string, e *Entry) error {
	data, err := encode(e)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(key), data, nil)
}

func (s *LevelDBStore) Remove(key string) error {
	return s.db.Delete([]byte(key), nil)
}

// Close releases the underlying database handle.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}
