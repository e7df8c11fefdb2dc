package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/docs_backend/config"
	"github.com/mmdatafocus/docs_backend/middlewares"
	"github.com/mmdatafocus/docs_backend/models"
	"github.com/mmdatafocus/docs_backend/storage"
	"github.com/mmdatafocus/docs_backend/utils"
	"github.com/mmdatafocus/docs_backend/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("docs-backend")

// ready flips once the database and collaborators are wired.
var ready atomic.Bool

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(utils.JsonTagName)
	}
}

func customNotFoundHandler(c *gin.Context) {
	fail(c, http.StatusNotFound, "route not found", nil)
}

// readinessGate answers 503 until the service is wired. /healthz always passes.
func readinessGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if !ready.Load() || config.GetDB() == nil {
			fail(c, http.StatusServiceUnavailable, "service is starting", nil)
			return
		}
		c.Next()
	}
}

func tracing() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), c.Request.Method+" "+c.FullPath())
		defer span.End()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func corsConfig() cors.Config {
	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if config.IsProduction() {
		if allowedOrigins == "" {
			// deny all cross-origin requests until an allowlist is configured
			corsConfig.AllowOriginFunc = func(string) bool { return false }
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", middlewares.CorrelationHeader)
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", middlewares.CorrelationHeader)
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins
	return corsConfig
}

// newRouter builds the full HTTP surface.
func newRouter(logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = config.MaxUploadBytes()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(readinessGate())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	r.Use(cors.New(corsConfig()))
	if rateLimiter := rateLimiterFromEnv(); rateLimiter != nil {
		r.Use(rateLimiter.RateLimitMiddleware)
	}
	r.Use(tracing())
	r.Use(middlewares.LoaderMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	// signed links from the local storage provider carry their own token
	r.GET("/files/*path", serveFileHandler())

	r.POST("/auth/login", loginHandler())

	api := r.Group("/")
	api.Use(middlewares.AuthMiddleware(), middlewares.RequireAuth())

	api.POST("/auth/logout", logoutHandler())
	api.GET("/auth/me", meHandler())
	api.POST("/users", middlewares.RequirePermission(middlewares.PermissionManageUsers), createUserHandler())

	manageDirections := middlewares.RequirePermission(middlewares.PermissionManageDirections)
	api.GET("/directions", listDirectionsHandler())
	api.GET("/directions/:id", getDirectionHandler())
	api.GET("/directions/:id/processes", directionProcessesHandler())
	api.GET("/directions/:id/stats", directionStatsHandler())
	api.POST("/directions", manageDirections, createDirectionHandler())
	api.PUT("/directions/:id", manageDirections, updateDirectionHandler())
	api.PATCH("/directions/:id/active", manageDirections, toggleDirectionHandler())
	api.DELETE("/directions/:id", manageDirections, deleteDirectionHandler())

	manageProcesses := middlewares.RequirePermission(middlewares.PermissionManageProcesses)
	api.GET("/processes", listProcessesHandler())
	api.GET("/processes/:id", getProcessHandler())
	api.GET("/processes/:id/stats", processStatsHandler())
	api.POST("/processes", manageProcesses, createProcessHandler())
	api.PUT("/processes/:id", manageProcesses, updateProcessHandler())
	api.PATCH("/processes/:id/active", manageProcesses, toggleProcessHandler())
	api.DELETE("/processes/:id", manageProcesses, deleteProcessHandler())

	writeDocuments := middlewares.RequirePermission(middlewares.PermissionWriteDocuments)
	api.GET("/documents", searchDocumentsHandler())
	api.GET("/documents/search", searchDocumentsHandler())
	api.GET("/documents/export", exportDocumentsHandler())
	api.GET("/documents/:id", getDocumentHandler())
	api.POST("/documents", writeDocuments, createDocumentHandler())
	api.PUT("/documents/:id", writeDocuments, updateDocumentHandler())
	api.DELETE("/documents/:id", writeDocuments, deleteDocumentHandler())
	api.POST("/documents/:id/download", downloadDocumentHandler())

	api.GET("/stats", globalStatsHandler())

	r.NoRoute(customNotFoundHandler)
	return r
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until dependencies are wired, we return 503 for app endpoints.
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: newRouter(logger),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	if config.CacheBackend() == "redis" {
		config.ConnectRedisWithRetry()
	}

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !config.SkipMigrations() {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	store, err := storage.NewFromEnv(sigCtx)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "storage", "provider": storage.GetStorageProvider()}).Fatal(err.Error())
	}
	models.UseBlobStore(store)
	models.UseCache(models.CacheLayerFromEnv(logger))
	models.UseSearchIndex(models.SearchIndexFromEnv())

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	go workflow.NewCacheWarmer(db, logger).Run(workerCtx)

	ready.Store(true)
	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on port ", port)
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelWorkers()

	// Drain HTTP requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// rateLimiterFromEnv is nil unless RATE_LIMIT_ENABLED=true. The limiter has no client
// of its own: RateLimitMiddleware picks up the global redis client per request and
// lets traffic through while none is connected.
// Env:
// - RATE_LIMIT_WINDOW_SECONDS=60
// - RATE_LIMIT_MAX_REQUESTS=600
func rateLimiterFromEnv() *RateLimiter {
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		return nil
	}
	limit := int64(600)
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			limit = n
		}
	}
	windowSec := int64(60)
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			windowSec = n
		}
	}
	return NewRateLimiter(nil, limit, time.Duration(windowSec)*time.Second)
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits. Without redis it lets everything through.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	client := rl.client
	if client == nil {
		client = config.GetRedisDB()
	}
	if client == nil {
		c.Next()
		return
	}
	key := "ratelimit:" + c.ClientIP()

	count, err := client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		// fail open
		config.LogWarn(config.GetLogger(), "main", "RateLimitMiddleware", logrus.Fields{"key": key}, err)
		c.Next()
		return
	}
	if count == 1 {
		_ = client.Expire(c.Request.Context(), key, rl.window).Err()
	}

	// If the count exceeds the limit, return an error response.
	if count > rl.limit {
		fail(c, http.StatusTooManyRequests, fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())), nil)
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
