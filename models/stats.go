package models

import (
	"context"

	"github.com/mmdatafocus/docs_backend/cache"
	"github.com/mmdatafocus/docs_backend/config"
	"github.com/mmdatafocus/docs_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type DirectionStats struct {
	DirectionId   int   `json:"direction_id"`
	DocumentCount int64 `json:"document_count"`
	ProcessCount  int64 `json:"process_count"`
}

type ProcessStats struct {
	ProcessId     int   `json:"process_id"`
	DocumentCount int64 `json:"document_count"`
}

type GlobalStats struct {
	TotalDocuments    int64                    `json:"total_documents"`
	TotalDirections   int64                    `json:"total_directions"`
	TotalProcesses    int64                    `json:"total_processes"`
	TotalStorageBytes int64                    `json:"total_storage_bytes"`
	StorageMB         decimal.Decimal          `json:"storage_mb"`
	ByClassification  map[Classification]int64 `json:"by_classification"`
}

var bytesPerMB = decimal.NewFromInt(1 << 20)

func megabytes(size int64) decimal.Decimal {
	return decimal.NewFromInt(size).Div(bytesPerMB).Round(2)
}

/* computed straight from the entity store */

func ComputeDirectionStats(ctx context.Context, db *gorm.DB, directionId int) (*DirectionStats, error) {
	if err := utils.ValidateResourceId[Direction](ctx, db, "direction", directionId); err != nil {
		return nil, err
	}
	stats := DirectionStats{DirectionId: directionId}
	var err error
	if stats.DocumentCount, err = utils.ResourceCountWhere[Document](ctx, db, "direction_id = ?", directionId); err != nil {
		return nil, err
	}
	if stats.ProcessCount, err = utils.ResourceCountWhere[SupportProcess](ctx, db, "direction_id = ?", directionId); err != nil {
		return nil, err
	}
	return &stats, nil
}

func ComputeProcessStats(ctx context.Context, db *gorm.DB, processId int) (*ProcessStats, error) {
	if err := utils.ValidateResourceId[SupportProcess](ctx, db, "support process", processId); err != nil {
		return nil, err
	}
	count, err := utils.ResourceCountWhere[Document](ctx, db, "support_process_id = ?", processId)
	if err != nil {
		return nil, err
	}
	return &ProcessStats{ProcessId: processId, DocumentCount: count}, nil
}

func ComputeGlobalStats(ctx context.Context, db *gorm.DB) (*GlobalStats, error) {
	stats := GlobalStats{ByClassification: make(map[Classification]int64, len(Classifications))}
	for _, c := range Classifications {
		stats.ByClassification[c] = 0
	}

	var rows []struct {
		Classification Classification
		Count          int64
		Bytes          int64
	}
	if err := db.WithContext(ctx).Model(&Document{}).
		Select("classification, COUNT(*) AS count, COALESCE(SUM(size), 0) AS bytes").
		Group("classification").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		stats.ByClassification[row.Classification] += row.Count
		stats.TotalDocuments += row.Count
		stats.TotalStorageBytes += row.Bytes
	}
	stats.StorageMB = megabytes(stats.TotalStorageBytes)

	if err := db.WithContext(ctx).Model(&Direction{}).Count(&stats.TotalDirections).Error; err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Model(&SupportProcess{}).Count(&stats.TotalProcesses).Error; err != nil {
		return nil, err
	}
	return &stats, nil
}

/* read through the cache */

func GetDirectionStats(ctx context.Context, directionId int) (*DirectionStats, error) {
	layer := GetCache()
	return cache.GetOrCompute(ctx, layer, cache.DirectionStatsKey(directionId), layer.TTLs().Listing,
		func(ctx context.Context) (*DirectionStats, error) {
			return ComputeDirectionStats(ctx, config.GetDB(), directionId)
		})
}

func GetProcessStats(ctx context.Context, processId int) (*ProcessStats, error) {
	layer := GetCache()
	return cache.GetOrCompute(ctx, layer, cache.ProcessStatsKey(processId), layer.TTLs().Listing,
		func(ctx context.Context) (*ProcessStats, error) {
			return ComputeProcessStats(ctx, config.GetDB(), processId)
		})
}

func GetGlobalStats(ctx context.Context) (*GlobalStats, error) {
	layer := GetCache()
	return cache.GetOrCompute(ctx, layer, cache.GlobalStatsKey, layer.TTLs().Listing,
		func(ctx context.Context) (*GlobalStats, error) {
			return ComputeGlobalStats(ctx, config.GetDB())
		})
}
