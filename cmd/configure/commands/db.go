package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/benvon/visionpath/internal/config"
	"github.com/benvon/visionpath/internal/database"
)

// withDB loads configuration, connects to Postgres and runs fn
func withDB(ctx context.Context, fn func(ctx context.Context, db *database.DB) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.UsesPostgres() {
		return fmt.Errorf("DATABASE_URL is not set")
	}
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
		}
	}()
	return fn(ctx, db)
}

// NewMigrateCmd creates the migrate command
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Long:  "Create or upgrade the users, settings and projects tables. Safe to run repeatedly.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, db *database.DB) error {
				if err := db.Migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Database schema is up to date.")
				return nil
			})
		},
	}
}
