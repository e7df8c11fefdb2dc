package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

type TTLs struct {
	Entity     time.Duration
	Listing    time.Duration
	Structural time.Duration
	Degraded   time.Duration
}

// Layer is the typed read-through cache. A nil *Layer is valid and caches nothing.
type Layer struct {
	store  Store
	ttls   TTLs
	logger *logrus.Logger
	group  singleflight.Group
	now    func() time.Time
}

func NewLayer(store Store, ttls TTLs, logger *logrus.Logger) *Layer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Layer{
		store:  store,
		ttls:   ttls,
		logger: logger,
		now:    time.Now,
	}
}

func (l *Layer) TTLs() TTLs {
	if l == nil {
		return TTLs{}
	}
	return l.ttls
}

func (l *Layer) Ping(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.store.Ping(ctx)
}

// Get decodes key into dest. A miss is (false, nil).
func (l *Layer) Get(ctx context.Context, key Key, dest any) (bool, error) {
	if l == nil {
		return false, nil
	}
	raw, err := l.store.Get(ctx, string(key))
	if err != nil {
		if errors.Is(err, ErrMiss) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		// unreadable entries are dropped and recomputed
		_ = l.store.Delete(ctx, string(key))
		return false, nil
	}
	return true, nil
}

func (l *Layer) Set(ctx context.Context, key Key, value any, ttl time.Duration) error {
	if l == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return l.store.Set(ctx, string(key), raw, ttl)
}

// Evict deletes keys. A failed delete is retried once, then the key gets
// the degraded TTL instead. Only keys where both steps failed are returned.
func (l *Layer) Evict(ctx context.Context, keys ...Key) error {
	if l == nil || len(keys) == 0 {
		return nil
	}
	raw := make([]string, len(keys))
	for i, key := range keys {
		raw[i] = string(key)
	}

	err := l.store.Delete(ctx, raw...)
	if err == nil {
		return nil
	}
	if err = l.store.Delete(ctx, raw...); err == nil {
		return nil
	}

	var result *multierror.Error
	for _, key := range raw {
		if expErr := l.store.Expire(ctx, key, l.ttls.Degraded); expErr != nil {
			result = multierror.Append(result, fmt.Errorf("evict %s: %w", key, expErr))
			continue
		}
		l.logger.WithFields(logrus.Fields{
			"module":   "cache",
			"funcName": "Evict",
			"key":      key,
			"ttl":      l.ttls.Degraded.String(),
		}).Warn("eviction failed twice, shortened ttl instead: " + err.Error())
	}
	return result.ErrorOrNil()
}

// Epoch returns the current epoch of scope, seeding it on first use.
// Seeds are wall-clock nanoseconds so a lost counter never reuses an old epoch.
func (l *Layer) Epoch(ctx context.Context, scope Scope) (int64, error) {
	if l == nil {
		return 0, nil
	}
	key := string(EpochKey(scope))
	raw, err := l.store.Get(ctx, key)
	if err == nil {
		return parseEpoch(key, raw)
	}
	if !errors.Is(err, ErrMiss) {
		return 0, err
	}
	if _, err := l.store.SetNX(ctx, key, l.now().UnixNano(), 0); err != nil {
		return 0, err
	}
	raw, err = l.store.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	return parseEpoch(key, raw)
}

func parseEpoch(key string, raw []byte) (int64, error) {
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("epoch %s: %w", key, err)
	}
	return n, nil
}

// EvictByEpoch bumps the epoch of every scope, orphaning all listing keys built on the old value.
func (l *Layer) EvictByEpoch(ctx context.Context, scopes ...Scope) error {
	if l == nil {
		return nil
	}
	var result *multierror.Error
	for _, scope := range scopes {
		err := l.bump(ctx, scope)
		if err != nil {
			err = l.bump(ctx, scope)
		}
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("bump epoch %s: %w", scope, err))
		}
	}
	return result.ErrorOrNil()
}

func (l *Layer) bump(ctx context.Context, scope Scope) error {
	key := string(EpochKey(scope))
	if _, err := l.store.SetNX(ctx, key, l.now().UnixNano(), 0); err != nil {
		return err
	}
	_, err := l.store.Incr(ctx, key)
	return err
}

// GetOrCompute is the read path: a hit is returned as is, a miss runs compute
// once per key across concurrent callers and stores the result. Errors from
// compute are never cached. A caller whose ctx ends stops waiting, the compute
// carries on for the others. When the backend is unavailable compute runs directly.
func GetOrCompute[T any](ctx context.Context, l *Layer, key Key, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	if l == nil {
		return compute(ctx)
	}

	var cached T
	hit, err := l.Get(ctx, key, &cached)
	if err != nil {
		l.warn("GetOrCompute", key, err)
		return compute(ctx)
	}
	if hit {
		return cached, nil
	}

	// the shared compute serves every waiter, so no single caller may cancel it
	shared := context.WithoutCancel(ctx)
	ch := l.group.DoChan(string(key), func() (any, error) {
		value, err := compute(shared)
		if err != nil {
			return nil, err
		}
		if setErr := l.Set(shared, key, value, ttl); setErr != nil {
			l.warn("GetOrCompute", key, setErr)
		}
		return value, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

func (l *Layer) warn(funcName string, key Key, err error) {
	l.logger.WithFields(logrus.Fields{
		"module":   "cache",
		"funcName": funcName,
		"key":      string(key),
	}).Warn(err.Error())
}
