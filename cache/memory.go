package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStore keeps keys in process. It serves CACHE_BACKEND=memory and tests.
type MemoryStore struct {
	mu    sync.Mutex
	items *ttlcache.Cache[string, []byte]
}

func NewMemoryStore() *MemoryStore {
	items := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	)
	go items.Start()
	return &MemoryStore{items: items}
}

// Close stops the expiry loop.
func (s *MemoryStore) Close() {
	s.items.Stop()
}

func memoryTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttlcache.NoTTL
	}
	return ttl
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	item := s.items.Get(key)
	if item == nil || item.IsExpired() {
		return nil, ErrMiss
	}
	val := item.Value()
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	val := make([]byte, len(value))
	copy(val, value)
	s.items.Set(key, val, memoryTTL(ttl))
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		s.items.Delete(key)
	}
	return nil
}

func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	ttl := ttlcache.NoTTL
	if item := s.items.Get(key); item != nil && !item.IsExpired() {
		current, err := strconv.ParseInt(string(item.Value()), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("incr %s: value is not an integer", key)
		}
		n = current
		if item.TTL() > 0 {
			ttl = time.Until(item.ExpiresAt())
		}
	}
	n++
	s.items.Set(key, []byte(strconv.FormatInt(n, 10)), ttl)
	return n, nil
}

func (s *MemoryStore) SetNX(_ context.Context, key string, value int64, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item := s.items.Get(key); item != nil && !item.IsExpired() {
		return false, nil
	}
	s.items.Set(key, []byte(strconv.FormatInt(value, 10)), memoryTTL(ttl))
	return true, nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.items.Get(key)
	if item == nil || item.IsExpired() {
		return nil
	}
	if ttl <= 0 {
		s.items.Delete(key)
		return nil
	}
	s.items.Set(key, item.Value(), ttl)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}
