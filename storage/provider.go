package storage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
)

const (
	ProviderGCS   = "gcs"
	ProviderMinio = "minio"
	ProviderLocal = "local"
)

func GetStorageProvider() string {
	provider := strings.TrimSpace(strings.ToLower(os.Getenv("STORAGE_PROVIDER")))
	if provider == "" {
		return ProviderGCS
	}
	return provider
}

// NewFromEnv builds the BlobStore selected by STORAGE_PROVIDER.
func NewFromEnv(ctx context.Context) (BlobStore, error) {
	switch provider := GetStorageProvider(); provider {
	case ProviderGCS:
		return NewGCSStore(ctx)
	case ProviderMinio:
		return NewMinioStore(ctx)
	case ProviderLocal:
		root := strings.TrimSpace(os.Getenv("LOCAL_STORAGE_ROOT"))
		if root == "" {
			root = "./storage"
		}
		baseURL := strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL"))
		if baseURL == "" {
			baseURL = "http://localhost:" + port()
		}
		return NewLocalStore(osfs.New(root), baseURL), nil
	default:
		return nil, fmt.Errorf("storage provider %q is not supported", provider)
	}
}

func port() string {
	if p := os.Getenv("PORT"); p != "" {
		return p
	}
	return "8080"
}
