package middlewares

import (
	"context"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/docs_backend/models"
	"gorm.io/gorm"
)

type supportProcessReader struct {
	db *gorm.DB
}

func (r *supportProcessReader) getSupportProcesses(ctx context.Context, ids []int) []*dataloader.Result[*models.SupportProcess] {
	var results []models.SupportProcess
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&results).Error
	if err != nil {
		return handleError[*models.SupportProcess](len(ids), err)
	}
	return generateLoaderResults(results, ids)
}

func GetSupportProcess(ctx context.Context, id int) (*models.SupportProcess, error) {
	loaders := For(ctx)
	return loaders.SupportProcessLoader.Load(ctx, id)()
}
