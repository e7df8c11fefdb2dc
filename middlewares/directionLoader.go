package middlewares

import (
	"context"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/docs_backend/models"
	"gorm.io/gorm"
)

type directionReader struct {
	db *gorm.DB
}

func (r *directionReader) getDirections(ctx context.Context, ids []int) []*dataloader.Result[*models.Direction] {
	var results []models.Direction
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&results).Error
	if err != nil {
		return handleError[*models.Direction](len(ids), err)
	}
	return generateLoaderResults(results, ids)
}

func GetDirection(ctx context.Context, id int) (*models.Direction, error) {
	loaders := For(ctx)
	return loaders.DirectionLoader.Load(ctx, id)()
}

func GetDirections(ctx context.Context, ids []int) ([]*models.Direction, []error) {
	loaders := For(ctx)
	return loaders.DirectionLoader.LoadMany(ctx, ids)()
}
