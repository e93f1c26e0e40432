package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/ulule/limiter/v3"

	"github.com/benvon/visionpath/internal/database"
	"github.com/benvon/visionpath/internal/models"
)

// NewRatelimitCmd creates the ratelimit command with list and set subcommands
func NewRatelimitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Manage the authenticated API rate limit",
		Long:  "List or update the per-client rate (e.g. 5-S, 100-M) applied to authenticated routes.",
	}
	cmd.AddCommand(newRatelimitListCmd())
	cmd.AddCommand(newRatelimitSetCmd())
	return cmd
}

func newRatelimitListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the current rate limit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, db *database.DB) error {
				c, err := database.NewRatelimitConfigRepository(db).Get(ctx)
				if err != nil {
					return fmt.Errorf("failed to get ratelimit config: %w", err)
				}
				if c == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "No rate limit in database; servers use the built-in default. Use 'ratelimit set' to add one.")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rate: %s\n", c.Rate)
				return nil
			})
		},
	}
}

func newRatelimitSetCmd() *cobra.Command {
	var rate string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set the rate limit",
		RunE: func(cmd *cobra.Command, args []string) error {
			rate = strings.TrimSpace(rate)
			if rate == "" {
				return fmt.Errorf("--rate is required (e.g. 5-S, 100-M)")
			}
			// Reject values the servers would discard on reload
			if _, err := limiter.NewRateFromFormatted(rate); err != nil {
				return fmt.Errorf("invalid rate %q: %w", rate, err)
			}
			return withDB(cmd.Context(), func(ctx context.Context, db *database.DB) error {
				if err := database.NewRatelimitConfigRepository(db).Set(ctx, &models.RatelimitConfig{Rate: rate}); err != nil {
					return fmt.Errorf("failed to set ratelimit config: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Rate limit configuration updated.")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&rate, "rate", "", "Rate such as 5-S, 100-M or 1000-H (required)")
	return cmd
}
