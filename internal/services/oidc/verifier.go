package oidc

import (
	"context"
	"errors"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/benvon/visionpath/internal/models"
)

// ErrNoJWKSURL is returned when a provider has no key set configured
var ErrNoJWKSURL = errors.New("JWKS URL not configured")

// Verifier verifies JWT tokens against a key set and issuer
type Verifier struct {
	jwksManager *JWKSManager
	issuer      string
}

// NewVerifier creates a new JWT verifier
func NewVerifier(jwksManager *JWKSManager, issuer string) *Verifier {
	return &Verifier{
		jwksManager: jwksManager,
		issuer:      issuer,
	}
}

// Verify checks the token signature, expiry and issuer and extracts its claims
func (v *Verifier) Verify(ctx context.Context, tokenString string, jwksURL string) (*models.JWTClaims, error) {
	keys, err := v.jwksManager.GetJWKS(ctx, jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWKS: %w", err)
	}

	token, err := jwt.Parse([]byte(tokenString),
		jwt.WithKeySet(keys),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse/verify token: %w", err)
	}
	if token.Subject() == "" {
		return nil, errors.New("token missing subject claim")
	}

	claims := &models.JWTClaims{
		Sub: token.Subject(),
		Iss: token.Issuer(),
		Exp: token.Expiration().Unix(),
		Iat: token.IssuedAt().Unix(),
	}
	if aud := token.Audience(); len(aud) > 0 {
		claims.Aud = aud[0]
	}
	private := token.PrivateClaims()
	if email, ok := private["email"].(string); ok {
		claims.Email = email
	}
	if name, ok := private["name"].(string); ok {
		claims.Name = name
	}
	return claims, nil
}

// Authenticator verifies bearer tokens for one configured provider
type Authenticator struct {
	provider     *Provider
	jwks         *JWKSManager
	providerName string
}

// NewAuthenticator creates an authenticator for providerName
func NewAuthenticator(provider *Provider, jwks *JWKSManager, providerName string) *Authenticator {
	return &Authenticator{provider: provider, jwks: jwks, providerName: providerName}
}

// Authenticate verifies tokenString with the provider's current configuration
func (a *Authenticator) Authenticate(ctx context.Context, tokenString string) (*models.JWTClaims, error) {
	cfg, err := a.provider.GetConfig(ctx, a.providerName)
	if err != nil {
		return nil, err
	}
	if cfg.JWKSUrl == nil || *cfg.JWKSUrl == "" {
		return nil, ErrNoJWKSURL
	}
	return NewVerifier(a.jwks, cfg.Issuer).Verify(ctx, tokenString, *cfg.JWKSUrl)
}
