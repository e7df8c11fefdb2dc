// seed-admin creates the admin user, or resets its password and role if it exists.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//	ADMIN_PASSWORD=... go run ./cmd/seed-admin
//
// ADMIN_USERNAME defaults to "admin", ADMIN_NAME to "Administrator".
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/docs_backend/config"
	"github.com/mmdatafocus/docs_backend/models"
)

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func main() {
	ctx := context.Background()

	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		fmt.Fprintln(os.Stderr, "ADMIN_PASSWORD is required")
		os.Exit(2)
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	if !config.SkipMigrations() {
		models.MigrateTable()
	}

	user, err := models.EnsureAdmin(ctx, envOr("ADMIN_USERNAME", "admin"), envOr("ADMIN_NAME", "Administrator"), password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed admin user: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Admin user ready: username=%q id=%d\n", user.Username, user.ID)
}
