package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mmdatafocus/docs_backend/config"
	"github.com/mmdatafocus/docs_backend/models"
	"github.com/mmdatafocus/docs_backend/workflow"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var errCacheMismatch = errors.New("cached aggregates differ from the database")

// env is what every command needs once connected.
type env struct {
	v      *viper.Viper
	out    io.Writer
	warmer *workflow.CacheWarmer
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("DOCSCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault("batch-size", 500)
	v.SetDefault("timeout", 10*time.Minute)
	return v
}

func newRootCmd() *cobra.Command {
	v := newViper()
	e := &env{v: v}

	root := &cobra.Command{
		Use:           "docsctl",
		Short:         "Operational commands for the document backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			e.out = cmd.OutOrStdout()
		},
	}
	root.PersistentFlags().Duration("timeout", 10*time.Minute, "abort the job after this long")
	_ = v.BindPFlag("timeout", root.PersistentFlags().Lookup("timeout"))

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			connectDatabase()
			models.MigrateTable()
			_, err := fmt.Fprintln(e.out, "schema up to date")
			return err
		},
	}

	warmCmd := &cobra.Command{
		Use:   "warm-cache",
		Short: "Populate aggregate and structural cache keys once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := e.context(cmd)
			defer cancel()
			e.connect()
			report, err := e.warmer.WarmOnce(ctx)
			if err != nil {
				return err
			}
			return e.print(report)
		},
	}

	verifyCmd := &cobra.Command{
		Use:   "verify-cache",
		Short: "Compare every cached aggregate with a direct count; exits non-zero on mismatch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := e.context(cmd)
			defer cancel()
			e.connect()
			report, err := e.warmer.Verify(ctx)
			if err != nil {
				return err
			}
			if err := e.print(report); err != nil {
				return err
			}
			if !report.OK() {
				return errCacheMismatch
			}
			return nil
		},
	}

	reindexCmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the search index from the documents table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := e.context(cmd)
			defer cancel()
			e.connect()
			n, err := models.Reindex(ctx, config.GetDB(), models.SearchIndexFromEnv(), v.GetInt("batch-size"))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(e.out, "reindexed %d documents\n", n)
			return err
		},
	}
	reindexCmd.Flags().Int("batch-size", 500, "documents per batch")
	_ = v.BindPFlag("batch-size", reindexCmd.Flags().Lookup("batch-size"))

	initTopicCmd := &cobra.Command{
		Use:   "init-topic",
		Short: "Create the search index Pub/Sub topic if it does not exist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := e.context(cmd)
			defer cancel()
			topic := config.SearchIndexTopic()
			if topic == "" {
				return errors.New("SEARCH_INDEX_TOPIC is not set")
			}
			client, err := config.GetClient(ctx)
			if err != nil {
				return err
			}
			if _, err := config.CreateTopicIfNotExists(ctx, client, topic); err != nil {
				return err
			}
			_, err = fmt.Fprintf(e.out, "topic %s ready\n", topic)
			return err
		},
	}

	root.AddCommand(migrateCmd, warmCmd, verifyCmd, reindexCmd, initTopicCmd)
	return root
}

func (e *env) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, e.v.GetDuration("timeout"))
}

func connectDatabase() {
	if config.GetDB() == nil {
		config.ConnectDatabaseWithRetry()
	}
}

// connect wires the same collaborators the server uses, skipping whatever a test already set.
func (e *env) connect() {
	connectDatabase()
	if config.CacheBackend() == "redis" && config.GetRedisDB() == nil {
		config.ConnectRedisWithRetry()
	}
	if models.GetCache() == nil {
		models.UseCache(models.CacheLayerFromEnv(config.GetLogger()))
	}
	if e.warmer == nil {
		e.warmer = workflow.NewCacheWarmer(config.GetDB(), config.GetLogger())
	}
}

func (e *env) print(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
