package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/docs_backend/cache"
	"github.com/mmdatafocus/docs_backend/config"
	"github.com/mmdatafocus/docs_backend/models"
	"github.com/mmdatafocus/docs_backend/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const warmLockKey = "lock:cache-warm"

// CacheWarmer pre-populates the aggregate and structural keys readers hit most.
// Correctness never depends on it: every key it fills is also filled on demand.
type CacheWarmer struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Locker *redislock.Client

	Interval    time.Duration
	Concurrency int
	LockTTL     time.Duration
}

type WarmReport struct {
	Directions int  `json:"directions"`
	Processes  int  `json:"processes"`
	Skipped    bool `json:"skipped"`
}

type VerifyReport struct {
	Checked    int      `json:"checked"`
	Mismatches []string `json:"mismatches"`
}

func (r *VerifyReport) OK() bool {
	return len(r.Mismatches) == 0
}

func NewCacheWarmer(db *gorm.DB, logger *logrus.Logger) *CacheWarmer {
	return &CacheWarmer{
		DB:          db,
		Logger:      logger,
		Locker:      config.GetRedisLock(),
		Interval:    config.CacheWarmInterval(),
		Concurrency: 4,
		LockTTL:     time.Minute,
	}
}

// Run warms once per Interval until ctx is done. A zero Interval disables it.
func (w *CacheWarmer) Run(ctx context.Context) {
	if w.Interval <= 0 {
		return
	}
	for {
		if _, err := w.WarmOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			config.LogError(w.Logger, "workflow", "CacheWarmer.Run", "warm pass", nil, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.Interval):
		}
	}
}

// WarmOnce fills global, per-direction and per-process stats plus the structural lists.
// When another instance holds the warm lock the pass is skipped.
func (w *CacheWarmer) WarmOnce(ctx context.Context) (*WarmReport, error) {
	report := &WarmReport{}

	if w.Locker != nil {
		lock, err := w.Locker.Obtain(ctx, warmLockKey, w.LockTTL, nil)
		switch {
		case errors.Is(err, redislock.ErrNotObtained):
			report.Skipped = true
			return report, nil
		case err != nil:
			// the lock only avoids duplicate work; warm anyway
			config.LogWarn(w.Logger, "workflow", "CacheWarmer.WarmOnce", logrus.Fields{"key": warmLockKey}, err)
		default:
			defer func() { _ = lock.Release(context.WithoutCancel(ctx)) }()
		}
	}

	if _, err := models.GetGlobalStats(ctx); err != nil {
		return nil, err
	}
	if _, err := models.ListDirections(ctx, utils.NewTrue()); err != nil {
		return nil, err
	}
	directions, err := models.ListDirections(ctx, nil)
	if err != nil {
		return nil, err
	}
	processes, err := models.ListSupportProcesses(ctx, nil)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency())
	for _, d := range directions {
		id := d.ID
		g.Go(func() error {
			if _, err := models.GetDirectionStats(gctx, id); err != nil {
				return fmt.Errorf("direction %d stats: %w", id, err)
			}
			_, err := models.ListSupportProcesses(gctx, &id)
			return err
		})
	}
	for _, p := range processes {
		id := p.ID
		g.Go(func() error {
			if _, err := models.GetProcessStats(gctx, id); err != nil {
				return fmt.Errorf("process %d stats: %w", id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Directions = len(directions)
	report.Processes = len(processes)
	w.Logger.WithFields(logrus.Fields{
		"module":     "workflow",
		"funcName":   "CacheWarmer.WarmOnce",
		"directions": report.Directions,
		"processes":  report.Processes,
	}).Info("cache warmed")
	return report, nil
}

// Verify compares every cached aggregate with a direct computation against the DB.
// Keys not currently cached are not counted.
func (w *CacheWarmer) Verify(ctx context.Context) (*VerifyReport, error) {
	layer := models.GetCache()
	report := &VerifyReport{Mismatches: []string{}}

	if err := verifyKey(ctx, layer, report, cache.GlobalStatsKey, func(ctx context.Context) (*models.GlobalStats, error) {
		return models.ComputeGlobalStats(ctx, w.DB)
	}); err != nil {
		return nil, err
	}

	var directionIds, processIds []int
	if err := w.DB.WithContext(ctx).Model(&models.Direction{}).Order("id").Pluck("id", &directionIds).Error; err != nil {
		return nil, err
	}
	if err := w.DB.WithContext(ctx).Model(&models.SupportProcess{}).Order("id").Pluck("id", &processIds).Error; err != nil {
		return nil, err
	}

	for _, id := range directionIds {
		if err := verifyKey(ctx, layer, report, cache.DirectionStatsKey(id), func(ctx context.Context) (*models.DirectionStats, error) {
			return models.ComputeDirectionStats(ctx, w.DB, id)
		}); err != nil {
			return nil, err
		}
	}
	for _, id := range processIds {
		if err := verifyKey(ctx, layer, report, cache.ProcessStatsKey(id), func(ctx context.Context) (*models.ProcessStats, error) {
			return models.ComputeProcessStats(ctx, w.DB, id)
		}); err != nil {
			return nil, err
		}
	}

	if !report.OK() {
		w.Logger.WithFields(logrus.Fields{
			"module":     "workflow",
			"funcName":   "CacheWarmer.Verify",
			"mismatches": report.Mismatches,
		}).Error("cached aggregates differ from the database")
	}
	return report, nil
}

// values are compared by their JSON encoding, the form they are cached in
func verifyKey[T any](ctx context.Context, layer *cache.Layer, report *VerifyReport, key cache.Key, compute func(context.Context) (T, error)) error {
	var cached T
	hit, err := layer.Get(ctx, key, &cached)
	if err != nil {
		return err
	}
	if !hit {
		return nil
	}
	fresh, err := compute(ctx)
	if err != nil {
		return err
	}
	report.Checked++

	a, err := json.Marshal(cached)
	if err != nil {
		return err
	}
	b, err := json.Marshal(fresh)
	if err != nil {
		return err
	}
	if !bytes.Equal(a, b) {
		report.Mismatches = append(report.Mismatches, fmt.Sprintf("%s: cached %s, computed %s", key, a, b))
	}
	return nil
}

func (w *CacheWarmer) concurrency() int {
	if w.Concurrency <= 0 {
		return 1
	}
	return w.Concurrency
}
