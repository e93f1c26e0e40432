package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/benvon/visionpath/internal/database"
	"github.com/benvon/visionpath/internal/models"
)

// Provider serves identity provider settings and their derived endpoints
type Provider struct {
	repo   database.OIDCConfigSource
	client *http.Client
}

// NewProvider creates a new OIDC provider manager
func NewProvider(repo database.OIDCConfigSource) *Provider {
	return &Provider{repo: repo, client: &http.Client{Timeout: 5 * time.Second}}
}

// GetConfig retrieves OIDC configuration for a provider
func (p *Provider) GetConfig(ctx context.Context, providerName string) (*models.OIDCConfig, error) {
	config, err := p.repo.GetByProvider(ctx, providerName)
	if err != nil {
		return nil, fmt.Errorf("failed to get OIDC config: %w", err)
	}
	return config, nil
}

// Endpoints are the OAuth2 endpoints of a provider
type Endpoints struct {
	Authorization string
	Token         string
}

// Endpoints resolves the authorization and token endpoints for config. The
// discovery document is preferred; a Cognito hosted domain overrides it, since
// Cognito serves OAuth2 flows from the domain rather than the issuer.
func (p *Provider) Endpoints(ctx context.Context, config *models.OIDCConfig) Endpoints {
	if base := cognitoDomainBase(config); base != "" {
		return Endpoints{Authorization: base + "/oauth2/authorize", Token: base + "/oauth2/token"}
	}
	issuer := strings.TrimSuffix(config.Issuer, "/")
	ep := Endpoints{Authorization: issuer + "/oauth2/authorize", Token: issuer + "/oauth2/token"}
	if d, err := p.discover(ctx, issuer); err == nil {
		if d.AuthorizationEndpoint != "" {
			ep.Authorization = d.AuthorizationEndpoint
		}
		if d.TokenEndpoint != "" {
			ep.Token = d.TokenEndpoint
		}
	}
	return ep
}

type discoveryDocument struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
}

func (p *Provider) discover(ctx context.Context, issuer string) (*discoveryDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, issuer+"/.well-known/openid-configuration", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery returned status %d", resp.StatusCode)
	}
	var d discoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}
	return &d, nil
}

func cognitoDomainBase(config *models.OIDCConfig) string {
	if config.Domain == nil || *config.Domain == "" || !strings.Contains(config.Issuer, "cognito-idp.") {
		return ""
	}
	domain := strings.TrimSuffix(*config.Domain, "/")
	if strings.HasPrefix(domain, "https://") {
		return domain
	}
	return "https://" + domain
}

// GetLoginConfig returns what a frontend needs to start a login, including a
// ready-made authorization URL carrying state
func (p *Provider) GetLoginConfig(ctx context.Context, providerName, state string) (*LoginConfig, error) {
	config, err := p.GetConfig(ctx, providerName)
	if err != nil {
		return nil, err
	}
	ep := p.Endpoints(ctx, config)
	client := NewClient(config, ep)
	return &LoginConfig{
		AuthorizationEndpoint: ep.Authorization,
		TokenEndpoint:         ep.Token,
		AuthorizationURL:      client.AuthCodeURL(state),
		ClientID:              config.ClientID,
		RedirectURI:           config.RedirectURI,
		Scope:                 strings.Join(defaultScopes, " "),
		State:                 state,
	}, nil
}

// LoginConfig contains OIDC login configuration for frontend
type LoginConfig struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	AuthorizationURL      string `json:"authorization_url"`
	ClientID              string `json:"client_id"`
	RedirectURI           string `json:"redirect_uri"`
	Scope                 string `json:"scope"`
	State                 string `json:"state"`
}
