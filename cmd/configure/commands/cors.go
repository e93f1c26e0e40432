package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/benvon/visionpath/internal/database"
	"github.com/benvon/visionpath/internal/models"
)

// NewCorsCmd creates the cors command with list and set subcommands
func NewCorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cors",
		Short: "Manage CORS configuration",
		Long:  "List or update the allowed origins. Running servers pick up changes on their next reload.",
	}
	cmd.AddCommand(newCorsListCmd())
	cmd.AddCommand(newCorsSetCmd())
	return cmd
}

func newCorsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the current CORS configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, db *database.DB) error {
				c, err := database.NewCorsConfigRepository(db).Get(ctx)
				if err != nil {
					return fmt.Errorf("failed to get cors config: %w", err)
				}
				out := cmd.OutOrStdout()
				if c == nil {
					fmt.Fprintln(out, "No CORS configuration in database; servers use FRONTEND_URL. Use 'cors set' to add one.")
					return nil
				}
				fmt.Fprintln(out, "CORS configuration:")
				for _, origin := range database.AllowedOriginsSlice(c.AllowedOrigins) {
					fmt.Fprintf(out, "  Origin: %s\n", origin)
				}
				fmt.Fprintf(out, "  Allow credentials: %v\n", c.AllowCredentials)
				fmt.Fprintf(out, "  Max-Age: %d\n", c.MaxAge)
				return nil
			})
		},
	}
}

func newCorsSetCmd() *cobra.Command {
	var origins string
	var allowCreds bool
	var maxAge int
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Replace the CORS configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			origins = strings.TrimSpace(origins)
			if len(database.AllowedOriginsSlice(origins)) == 0 {
				return fmt.Errorf("--origins is required (comma-separated list)")
			}
			if maxAge < 0 {
				return fmt.Errorf("--max-age cannot be negative")
			}
			return withDB(cmd.Context(), func(ctx context.Context, db *database.DB) error {
				c := &models.CorsConfig{AllowedOrigins: origins, AllowCredentials: allowCreds, MaxAge: maxAge}
				if err := database.NewCorsConfigRepository(db).Set(ctx, c); err != nil {
					return fmt.Errorf("failed to set cors config: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "CORS configuration updated.")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&origins, "origins", "", "Comma-separated allowed origins (required)")
	cmd.Flags().BoolVar(&allowCreds, "allow-credentials", true, "Allow credentials")
	cmd.Flags().IntVar(&maxAge, "max-age", 86400, "Access-Control-Max-Age in seconds")
	return cmd
}
