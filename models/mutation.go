package models

import (
	"context"

	"github.com/mmdatafocus/docs_backend/cache"
	"github.com/mmdatafocus/docs_backend/config"
	"github.com/mmdatafocus/docs_backend/storage"
	"github.com/sirupsen/logrus"
)

// changeSet collects the side effects of one committed write.
// apply runs them after commit; none of them can fail the write.
type changeSet struct {
	mutations    []cache.Mutation
	indexUpserts []int
	indexDeletes []int
	blobDeletes  []string
}

func (c *changeSet) mutate(m cache.Mutation) {
	c.mutations = append(c.mutations, m)
}

func (c *changeSet) apply(ctx context.Context) {
	// the caller may already be gone, the effects still have to land
	ctx = context.WithoutCancel(ctx)
	logger := config.GetLogger()

	// the index lands first: a listing recomputed after the epoch bump must see it
	index := GetSearchIndex()
	if len(c.indexUpserts) > 0 {
		summaries, err := GetDocumentSummaries(ctx, config.GetDB(), c.indexUpserts...)
		if err != nil {
			config.LogError(logger, "models", "changeSet.apply", "load summaries", c.indexUpserts, err)
		}
		for _, summary := range summaries {
			if err := index.IndexUpsert(ctx, summary); err != nil {
				config.LogWarn(logger, "models", "changeSet.apply", logrus.Fields{"document_id": summary.ID}, err)
			}
		}
	}
	for _, id := range c.indexDeletes {
		if err := index.IndexDelete(ctx, id); err != nil {
			config.LogWarn(logger, "models", "changeSet.apply", logrus.Fields{"document_id": id}, err)
		}
	}

	// errors are logged by the coordinator
	_ = GetCoordinator().Invalidate(ctx, c.mutations...)

	if store := GetBlobStore(); store != nil && len(c.blobDeletes) > 0 {
		if err := storage.Remove(ctx, store, c.blobDeletes...); err != nil {
			config.LogError(logger, "models", "changeSet.apply", "remove blobs", c.blobDeletes, err)
		}
	}
}
