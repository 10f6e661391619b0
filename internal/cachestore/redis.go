package cachestore

import (
	"github.com/gomodule/redigo/redis"
)

// RedisStore persists entries in Redis over github.com/gomodule/redigo.
type RedisStore struct {
	pool *redis.Pool
}

// NewRedisStore wraps an existing redigo connection pool.
func NewRedisStore(pool *redis.Pool) *RedisStore {
	return &RedisStore{pool: pool}
}

func (s *RedisStore) Get(key string) (*Entry, bool, error) {
	conn := s.pool.Get()
	defer conn.Close()

	data, err := redis.Bytes(conn.Do("GET", key))
	if err == redis.ErrNil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	e, err := decode(data)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

func (s *RedisStore) Put(key string, e *Entry) error {
	data, err := encode(e)
	if err != nil {
		return err
	}
	conn := s.pool.Get()
	defer conn.Close()
	_, err = conn.Do("SET", key, data)
	return err
}

func (s *RedisStore) Remove(key string) error {
	conn := s.pool.Get()
	defer conn.Close()
	_, err := conn.Do("DEL", key)
	return err
}
