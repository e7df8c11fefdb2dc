package config

import (
	"os"
	"strings"
	"time"
)

// CacheTTLs are the tiered cache lifetimes.
type CacheTTLs struct {
	Entity     time.Duration
	Listing    time.Duration
	Structural time.Duration
	Degraded   time.Duration
}

func GetCacheTTLs() CacheTTLs {
	return CacheTTLs{
		Entity:     secondsFromEnv("CACHE_ENTITY_TTL_SECONDS", 120),
		Listing:    secondsFromEnv("CACHE_LISTING_TTL_SECONDS", 120),
		Structural: secondsFromEnv("CACHE_STRUCTURAL_TTL_SECONDS", 300),
		Degraded:   secondsFromEnv("CACHE_DEGRADED_TTL_SECONDS", 15),
	}
}

// CacheBackend is "redis" (default) or "memory".
func CacheBackend() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("CACHE_BACKEND")))
	if v == "" {
		return "redis"
	}
	return v
}

// CacheWarmInterval is zero when the warmer is disabled.
func CacheWarmInterval() time.Duration {
	return secondsFromEnv("CACHE_WARM_INTERVAL_SECONDS", 0)
}

type SearchSettings struct {
	DefaultPageSize int
	MaxPageSize     int
	MinTermLength   int
}

func GetSearchSettings() SearchSettings {
	return SearchSettings{
		DefaultPageSize: intFromEnv("SEARCH_DEFAULT_PAGE_SIZE", 15),
		MaxPageSize:     intFromEnv("SEARCH_MAX_PAGE_SIZE", 100),
		MinTermLength:   intFromEnv("SEARCH_MIN_TERM_LENGTH", 3),
	}
}

// MaxUploadBytes reads MAX_UPLOAD_MB (default 20).
func MaxUploadBytes() int64 {
	return int64(intFromEnv("MAX_UPLOAD_MB", 20)) << 20
}

func DownloadURLTTL() time.Duration {
	return secondsFromEnv("DOWNLOAD_URL_TTL_SECONDS", 300)
}

func IsProduction() bool {
	return strings.EqualFold(os.Getenv("GO_ENV"), "production")
}

func secondsFromEnv(key string, def int) time.Duration {
	return time.Duration(intFromEnv(key, def)) * time.Second
}

func boolFromEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// SkipMigrations is set with SKIP_MIGRATIONS=true.
func SkipMigrations() bool {
	return boolFromEnv("SKIP_MIGRATIONS")
}
