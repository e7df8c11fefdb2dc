package models

import (
	"sync"

	"github.com/mmdatafocus/docs_backend/cache"
	"github.com/mmdatafocus/docs_backend/config"
	"github.com/mmdatafocus/docs_backend/storage"
	"github.com/sirupsen/logrus"
)

// process-wide collaborators, set once at startup (and per test)
var (
	collabMu    sync.RWMutex
	cacheLayer  *cache.Layer
	coordinator *cache.Coordinator
	searchIndex SearchIndex
	blobStore   storage.BlobStore
)

// UseCache installs the cache layer. nil disables caching.
func UseCache(layer *cache.Layer) {
	collabMu.Lock()
	defer collabMu.Unlock()
	cacheLayer = layer
	coordinator = cache.NewCoordinator(layer, config.GetLogger())
}

func GetCache() *cache.Layer {
	collabMu.RLock()
	defer collabMu.RUnlock()
	return cacheLayer
}

func GetCoordinator() *cache.Coordinator {
	collabMu.RLock()
	defer collabMu.RUnlock()
	return coordinator
}

func UseSearchIndex(index SearchIndex) {
	collabMu.Lock()
	defer collabMu.Unlock()
	searchIndex = index
}

// GetSearchIndex falls back to the table-backed index.
func GetSearchIndex() SearchIndex {
	collabMu.RLock()
	defer collabMu.RUnlock()
	if searchIndex == nil {
		return DBSearchIndex{}
	}
	return searchIndex
}

func UseBlobStore(store storage.BlobStore) {
	collabMu.Lock()
	defer collabMu.Unlock()
	blobStore = store
}

func GetBlobStore() storage.BlobStore {
	collabMu.RLock()
	defer collabMu.RUnlock()
	return blobStore
}

// CacheLayerFromEnv picks the backend from CACHE_BACKEND. When redis is wanted
// but not connected the in-process store is used so reads keep working.
func CacheLayerFromEnv(logger *logrus.Logger) *cache.Layer {
	var store cache.Store
	switch backend := config.CacheBackend(); {
	case backend == "memory":
		store = cache.NewMemoryStore()
	case config.GetRedisDB() != nil:
		store = cache.NewRedisStore(config.GetRedisDB())
	default:
		logger.WithFields(logrus.Fields{"module": "models", "backend": backend}).Warn("redis unavailable; using in-process cache")
		store = cache.NewMemoryStore()
	}
	ttls := config.GetCacheTTLs()
	return cache.NewLayer(store, cache.TTLs{
		Entity:     ttls.Entity,
		Listing:    ttls.Listing,
		Structural: ttls.Structural,
		Degraded:   ttls.Degraded,
	}, logger)
}

// SearchIndexFromEnv wraps the table index with Pub/Sub publishing when SEARCH_INDEX_TOPIC is set.
func SearchIndexFromEnv() SearchIndex {
	var index SearchIndex = DBSearchIndex{}
	if config.SearchIndexTopic() != "" {
		index = NewPubSubSearchIndex(index)
	}
	return index
}
