package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmdatafocus/docs_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type directionStats struct {
	DocumentCount int64 `json:"document_count"`
	ProcessCount  int64 `json:"process_count"`
}

// flakyStore fails the first failDeletes Delete calls and optionally every Expire and Get.
type flakyStore struct {
	*MemoryStore
	mu          sync.Mutex
	failDeletes int
	failExpire  bool
	failGet     bool
	deletes     int
	expired     map[string]time.Duration
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: NewMemoryStore(), expired: map[string]time.Duration{}}
}

func (s *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.failGet {
		return nil, utils.ErrCacheUnavailable
	}
	return s.MemoryStore.Get(ctx, key)
}

func (s *flakyStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	s.deletes++
	fail := s.deletes <= s.failDeletes
	s.mu.Unlock()
	if fail {
		return utils.ErrCacheUnavailable
	}
	return s.MemoryStore.Delete(ctx, keys...)
}

func (s *flakyStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if s.failExpire {
		return utils.ErrCacheUnavailable
	}
	s.mu.Lock()
	s.expired[key] = ttl
	s.mu.Unlock()
	return s.MemoryStore.Expire(ctx, key, ttl)
}

func testTTLs() TTLs {
	return TTLs{Entity: time.Minute, Listing: time.Minute, Structural: 5 * time.Minute, Degraded: 15 * time.Second}
}

func newTestLayer(t *testing.T, store Store) *Layer {
	t.Helper()
	return NewLayer(store, testTTLs(), nil)
}

func TestGetOrComputeHitSkipsCompute(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	t.Cleanup(store.Close)
	layer := newTestLayer(t, store)

	var calls int32
	compute := func(context.Context) (directionStats, error) {
		atomic.AddInt32(&calls, 1)
		return directionStats{DocumentCount: 6, ProcessCount: 2}, nil
	}

	first, err := GetOrCompute(ctx, layer, DirectionStatsKey(1), time.Minute, compute)
	require.NoError(t, err)
	second, err := GetOrCompute(ctx, layer, DirectionStatsKey(1), time.Minute, compute)
	require.NoError(t, err)

	assert.Equal(t, directionStats{DocumentCount: 6, ProcessCount: 2}, first)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGetOrComputeDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	t.Cleanup(store.Close)
	layer := newTestLayer(t, store)

	notFound := utils.NewNotFound("direction", 9)
	_, err := GetOrCompute(ctx, layer, EntityKey(EntityDirection, 9), time.Minute, func(context.Context) (directionStats, error) {
		return directionStats{}, notFound
	})
	require.ErrorIs(t, err, utils.ErrorRecordNotFound)

	got, err := GetOrCompute(ctx, layer, EntityKey(EntityDirection, 9), time.Minute, func(context.Context) (directionStats, error) {
		return directionStats{DocumentCount: 1}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.DocumentCount)
}

func TestGetOrComputeCollapsesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	t.Cleanup(store.Close)
	layer := newTestLayer(t, store)

	var calls int32
	release := make(chan struct{})
	compute := func(context.Context) (directionStats, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return directionStats{DocumentCount: 3}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := GetOrCompute(ctx, layer, GlobalStatsKey, time.Minute, compute)
			assert.NoError(t, err)
			assert.Equal(t, int64(3), got.DocumentCount)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestGetOrComputeSurvivesCancelledFirstCaller(t *testing.T) {
	store := NewMemoryStore()
	t.Cleanup(store.Close)
	layer := newTestLayer(t, store)

	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	compute := func(ctx context.Context) (directionStats, error) {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return directionStats{}, err
		}
		return directionStats{DocumentCount: 4}, nil
	}

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := GetOrCompute(firstCtx, layer, GlobalStatsKey, time.Minute, compute)
		firstErr <- err
	}()
	<-started

	type result struct {
		stats directionStats
		err   error
	}
	second := make(chan result, 1)
	go func() {
		got, err := GetOrCompute(context.Background(), layer, GlobalStatsKey, time.Minute, compute)
		second <- result{got, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, int64(4), res.stats.DocumentCount)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	var cached directionStats
	hit, err := layer.Get(context.Background(), GlobalStatsKey, &cached)
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestGetOrComputeDegradesWhenBackendDown(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	store.failGet = true
	t.Cleanup(store.Close)
	layer := newTestLayer(t, store)

	var calls int
	for i := 0; i < 2; i++ {
		got, err := GetOrCompute(ctx, layer, GlobalStatsKey, time.Minute, func(context.Context) (directionStats, error) {
			calls++
			return directionStats{DocumentCount: 4}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(4), got.DocumentCount)
	}
	assert.Equal(t, 2, calls)
}

func TestNilLayerComputesDirectly(t *testing.T) {
	var layer *Layer
	got, err := GetOrCompute(context.Background(), layer, GlobalStatsKey, time.Minute, func(context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.NoError(t, layer.Evict(context.Background(), GlobalStatsKey))
	assert.NoError(t, layer.EvictByEpoch(context.Background(), DirectionScope(1)))
}

func TestEvictIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	t.Cleanup(store.Close)
	layer := newTestLayer(t, store)

	require.NoError(t, layer.Set(ctx, ProcessStatsKey(2), directionStats{DocumentCount: 1}, time.Minute))
	require.NoError(t, layer.Evict(ctx, ProcessStatsKey(2)))
	require.NoError(t, layer.Evict(ctx, ProcessStatsKey(2)))

	var out directionStats
	hit, err := layer.Get(ctx, ProcessStatsKey(2), &out)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestEvictRetriesOnce(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	store.failDeletes = 1
	t.Cleanup(store.Close)
	layer := newTestLayer(t, store)

	require.NoError(t, layer.Set(ctx, GlobalStatsKey, directionStats{}, time.Minute))
	require.NoError(t, layer.Evict(ctx, GlobalStatsKey))
	assert.Equal(t, 2, store.deletes)
	assert.Empty(t, store.expired)

	var out directionStats
	hit, _ := layer.Get(ctx, GlobalStatsKey, &out)
	assert.False(t, hit)
}

func TestEvictFallsBackToDegradedTTL(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	store.failDeletes = 2
	t.Cleanup(store.Close)
	layer := newTestLayer(t, store)

	require.NoError(t, layer.Set(ctx, GlobalStatsKey, directionStats{}, time.Hour))
	require.NoError(t, layer.Evict(ctx, GlobalStatsKey))
	assert.Equal(t, 15*time.Second, store.expired[string(GlobalStatsKey)])
}

func TestEvictReportsUnrecoverableFailure(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	store.failDeletes = 2
	store.failExpire = true
	t.Cleanup(store.Close)
	layer := newTestLayer(t, store)

	err := layer.Evict(ctx, GlobalStatsKey, DirectionStatsKey(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrCacheUnavailable))
	assert.Contains(t, err.Error(), "direction-stats:1")
}

func TestEpochSeedsAndBumps(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	t.Cleanup(store.Close)
	layer := newTestLayer(t, store)
	layer.now = func() time.Time { return time.Unix(0, 1000) }

	first, err := layer.Epoch(ctx, DirectionScope(3))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), first)

	again, err := layer.Epoch(ctx, DirectionScope(3))
	require.NoError(t, err)
	assert.Equal(t, first, again)

	require.NoError(t, layer.EvictByEpoch(ctx, DirectionScope(3)))
	bumped, err := layer.Epoch(ctx, DirectionScope(3))
	require.NoError(t, err)
	assert.Greater(t, bumped, first)
	assert.NotEqual(t, ListingKey(DirectionScope(3), first, "abc"), ListingKey(DirectionScope(3), bumped, "abc"))

	other, err := layer.Epoch(ctx, ProcessScope(3))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), other)
}

func TestBumpOnUnseenScopeStartsAboveSeed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	t.Cleanup(store.Close)
	layer := newTestLayer(t, store)
	layer.now = func() time.Time { return time.Unix(0, 500) }

	require.NoError(t, layer.EvictByEpoch(ctx, ProcessScope(8)))
	epoch, err := layer.Epoch(ctx, ProcessScope(8))
	require.NoError(t, err)
	assert.Equal(t, int64(501), epoch)
}
