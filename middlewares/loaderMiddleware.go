package middlewares

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/docs_backend/config"
	"github.com/mmdatafocus/docs_backend/models"
	"github.com/mmdatafocus/docs_backend/utils"
	"gorm.io/gorm"
)

type ctxKey string

const (
	loadersKey = ctxKey("dataloaders")
)

// Loaders batch the parent lookups a response needs into one query per kind.
type Loaders struct {
	DirectionLoader      *dataloader.Loader[int, *models.Direction]
	SupportProcessLoader *dataloader.Loader[int, *models.SupportProcess]
	UserLoader           *dataloader.Loader[int, *models.User]
}

// NewLoaders instantiates data loaders for the middleware
func NewLoaders(conn *gorm.DB) *Loaders {
	directionReader := &directionReader{db: conn}
	supportProcessReader := &supportProcessReader{db: conn}
	userReader := &userReader{db: conn}

	return &Loaders{
		DirectionLoader:      dataloader.NewBatchedLoader(directionReader.getDirections, dataloader.WithWait[int, *models.Direction](time.Millisecond)),
		SupportProcessLoader: dataloader.NewBatchedLoader(supportProcessReader.getSupportProcesses, dataloader.WithWait[int, *models.SupportProcess](time.Millisecond)),
		UserLoader:           dataloader.NewBatchedLoader(userReader.getUsers, dataloader.WithWait[int, *models.User](time.Millisecond)),
	}
}

func LoaderMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		loader := NewLoaders(config.GetDB())
		ctx := context.WithValue(c.Request.Context(), loadersKey, loader)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// For returns the request's loaders, or fresh ones outside a request.
func For(ctx context.Context) *Loaders {
	if loaders, ok := ctx.Value(loadersKey).(*Loaders); ok {
		return loaders
	}
	return NewLoaders(config.GetDB())
}

// handleError creates array of result with the same error repeated for as many items requested
func handleError[T any](itemsLength int, err error) []*dataloader.Result[T] {
	result := make([]*dataloader.Result[T], itemsLength)
	for i := 0; i < itemsLength; i++ {
		result[i] = &dataloader.Result[T]{Error: err}
	}
	return result
}

// turns results from db into dataloader results, in the order of ids
// (missing ids resolve to NotFoundError)
func generateLoaderResults[T models.Data](results []T, ids []int) []*dataloader.Result[*T] {
	resultMap := make(map[int]*T, len(results))
	for i := range results {
		resultMap[results[i].GetId()] = &results[i]
	}

	var zero T
	loaderResults := make([]*dataloader.Result[*T], 0, len(ids))
	for _, id := range ids {
		data, ok := resultMap[id]
		if !ok {
			loaderResults = append(loaderResults, &dataloader.Result[*T]{Error: utils.NewNotFound(zero.EntityName(), id)})
			continue
		}
		loaderResults = append(loaderResults, &dataloader.Result[*T]{Data: data})
	}
	return loaderResults
}
