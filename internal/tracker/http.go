package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const maxErrorBody = 512

// Config configures an HTTPClient
type Config struct {
	BaseURL           string
	Token             string
	RequestsPerSecond int
	Timeout           time.Duration
	// Transport overrides the base round tripper, mainly for tests
	Transport http.RoundTripper
}

// HTTPClient talks to a REST issue tracker exposing POST /issues and
// PATCH /issues/{id}, authenticated with a bearer token
type HTTPClient struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
}

// NewHTTPClient creates a tracker client with outbound rate limiting
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid tracker base URL %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}

	hc := &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport}
	if cfg.Token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, hc)
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"}))
	}

	return &HTTPClient{
		base:    base,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestsPerSecond),
	}, nil
}

type createResponse struct {
	ID string `json:"id"`
}

// CreateIssue creates an issue and returns its external id
func (c *HTTPClient) CreateIssue(ctx context.Context, issue Issue) (string, error) {
	var out createResponse
	if err := c.do(ctx, http.MethodPost, "/issues", issue, &out); err != nil {
		return "", fmt.Errorf("failed to create issue: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("failed to create issue: response has no id")
	}
	return out.ID, nil
}

// UpdateIssue replaces the fields of an existing issue
func (c *HTTPClient) UpdateIssue(ctx context.Context, externalID string, issue Issue) error {
	if err := c.do(ctx, http.MethodPatch, "/issues/"+url.PathEscape(externalID), issue, nil); err != nil {
		return fmt.Errorf("failed to update issue %s: %w", externalID, err)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return ErrIssueNotFound
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

var _ Client = (*HTTPClient)(nil)
