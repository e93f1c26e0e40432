package oidc

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/benvon/visionpath/internal/models"
)

var defaultScopes = []string{"openid", "email", "profile"}

// Client wraps the OAuth2 authorization code flow for one provider
type Client struct {
	config *oauth2.Config
}

// NewClient creates an OAuth2 client from provider settings and resolved endpoints
func NewClient(oidcConfig *models.OIDCConfig, ep Endpoints) *Client {
	clientSecret := ""
	if oidcConfig.ClientSecret != nil {
		clientSecret = *oidcConfig.ClientSecret
	}
	return &Client{config: &oauth2.Config{
		ClientID:     oidcConfig.ClientID,
		ClientSecret: clientSecret,
		RedirectURL:  oidcConfig.RedirectURI,
		Scopes:       defaultScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  ep.Authorization,
			TokenURL: ep.Token,
		},
	}}
}

// ExchangeCode exchanges an authorization code for tokens
func (c *Client) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return c.config.Exchange(ctx, code)
}

// AuthCodeURL returns the authorization URL
func (c *Client) AuthCodeURL(state string) string {
	return c.config.AuthCodeURL(state)
}
