package commands

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/benvon/visionpath/internal/database"
	"github.com/benvon/visionpath/internal/models"
	"github.com/benvon/visionpath/internal/services/oidc"
)

// NewOIDCCmd creates the oidc command with set, list and test subcommands
func NewOIDCCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oidc",
		Short: "Manage OIDC providers",
		Long:  "Create, list and verify the identity providers the API accepts bearer tokens from.",
	}
	cmd.AddCommand(newOIDCSetCmd())
	cmd.AddCommand(newOIDCListCmd())
	cmd.AddCommand(newOIDCTestCmd())
	return cmd
}

func newOIDCSetCmd() *cobra.Command {
	var issuer, domain, clientID, clientSecret, redirectURI, jwksURL string

	cmd := &cobra.Command{
		Use:   "set <provider-name>",
		Short: "Create or update an OIDC provider",
		Long:  "Configure an OIDC provider. The name is any identifier (e.g. 'cognito', 'okta', 'auth0') and must match OIDC_PROVIDER on the server.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			oidcConfig, err := buildOIDCConfig(args[0], issuer, domain, clientID, clientSecret, redirectURI, jwksURL)
			if err != nil {
				return err
			}
			return withDB(cmd.Context(), func(ctx context.Context, db *database.DB) error {
				if err := database.NewOIDCConfigRepository(db).Save(ctx, oidcConfig); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved OIDC configuration for provider: %s\n", oidcConfig.Provider)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&issuer, "issuer", "", "OIDC issuer URL (required)")
	cmd.Flags().StringVar(&domain, "domain", "", "OAuth2 hosted domain, e.g. a Cognito custom domain")
	cmd.Flags().StringVar(&clientID, "client-id", "", "OAuth2 client ID (required)")
	cmd.Flags().StringVar(&clientSecret, "client-secret", "", "OAuth2 client secret (optional for public clients)")
	cmd.Flags().StringVar(&redirectURI, "redirect-uri", "", "OAuth2 redirect URI (required)")
	cmd.Flags().StringVar(&jwksURL, "jwks-url", "", "JWKS URL (defaults to <issuer>/.well-known/jwks.json)")
	return cmd
}

// buildOIDCConfig validates flag values and fills derived fields
func buildOIDCConfig(provider, issuer, domain, clientID, clientSecret, redirectURI, jwksURL string) (*models.OIDCConfig, error) {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return nil, fmt.Errorf("provider name cannot be empty")
	}
	if issuer == "" || clientID == "" || redirectURI == "" {
		return nil, fmt.Errorf("required flags: --issuer, --client-id, --redirect-uri")
	}
	issuer = strings.TrimSuffix(issuer, "/")
	if jwksURL == "" {
		jwksURL = issuer + "/.well-known/jwks.json"
	}

	c := &models.OIDCConfig{
		ID:          uuid.New(),
		Provider:    provider,
		Issuer:      issuer,
		ClientID:    clientID,
		RedirectURI: redirectURI,
		JWKSUrl:     &jwksURL,
	}
	if domain != "" {
		c.Domain = &domain
	}
	if clientSecret != "" {
		c.ClientSecret = &clientSecret
	}
	return c, nil
}

func newOIDCListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured OIDC providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, db *database.DB) error {
				configs, err := database.NewOIDCConfigRepository(db).GetAll(ctx)
				if err != nil {
					return fmt.Errorf("failed to list OIDC configs: %w", err)
				}
				out := cmd.OutOrStdout()
				if len(configs) == 0 {
					fmt.Fprintln(out, "No OIDC providers configured")
					return nil
				}
				fmt.Fprintln(out, "Configured OIDC providers:")
				for _, c := range configs {
					fmt.Fprintf(out, "  - Provider: %s\n", c.Provider)
					fmt.Fprintf(out, "    Issuer: %s\n", c.Issuer)
					fmt.Fprintf(out, "    Client ID: %s\n", c.ClientID)
					fmt.Fprintf(out, "    Redirect URI: %s\n", c.RedirectURI)
					if c.JWKSUrl != nil {
						fmt.Fprintf(out, "    JWKS URL: %s\n", *c.JWKSUrl)
					}
				}
				return nil
			})
		},
	}
}

func newOIDCTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <provider-name>",
		Short: "Verify an OIDC provider's endpoints",
		Long:  "Resolve the authorization and token endpoints and fetch the signing keys the server will verify tokens with.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, db *database.DB) error {
				provider := oidc.NewProvider(database.NewOIDCConfigRepository(db))
				c, err := provider.GetConfig(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to get OIDC config: %w", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Testing OIDC configuration for provider: %s\n", c.Provider)
				ep := provider.Endpoints(ctx, c)
				fmt.Fprintf(out, "Authorization endpoint: %s\n", ep.Authorization)
				fmt.Fprintf(out, "Token endpoint: %s\n", ep.Token)

				if c.JWKSUrl == nil {
					return fmt.Errorf("provider has no JWKS URL")
				}
				jwks := oidc.NewJWKSManagerWithClient(&http.Client{Timeout: 10 * time.Second}, time.Minute)
				set, err := jwks.GetJWKS(ctx, *c.JWKSUrl)
				if err != nil {
					return fmt.Errorf("failed to fetch JWKS: %w", err)
				}
				if set.Len() == 0 {
					return fmt.Errorf("JWKS at %s has no keys", *c.JWKSUrl)
				}
				fmt.Fprintf(out, "JWKS: %d signing key(s)\n", set.Len())
				fmt.Fprintln(out, "OIDC configuration test passed")
				return nil
			})
		},
	}
}
