// Package pipefy implements the client for the upstream workflow SaaS
// GraphQL API: a rate-limited request primitive, cursor pagination over
// phase cards, and the batched field-update mutation the transfer engine
// rides on.
package pipefy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"cardshift/backend/internal/logging"
)

// Config configures the upstream client.
type Config struct {
	// URL is the GraphQL endpoint.
	URL string

	// RequestInterval is the minimum spacing between consecutive outbound
	// calls. The upstream enforces roughly 500 requests per 30s; the fixed
	// spacing is a conservative approximation of that window, not a token
	// bucket mirroring it.
	RequestInterval time.Duration

	// MaxRetries bounds retries for throttled and 5xx responses.
	MaxRetries int

	// PageSize for cursor pagination (upstream caps at 50).
	PageSize int

	// ThrottleBackoff is the base backoff after HTTP 429, doubled per
	// attempt. ServerBackoff is the fixed backoff after HTTP 5xx. Both are
	// injectable so tests run in milliseconds.
	ThrottleBackoff time.Duration
	ServerBackoff   time.Duration

	// Transport allows injecting a custom HTTP transport for tests.
	Transport http.RoundTripper
}

// DefaultConfig returns a config with production defaults.
func DefaultConfig() *Config {
	return &Config{
		URL:             "https://api.pipefy.com/graphql",
		RequestInterval: 60 * time.Millisecond,
		MaxRetries:      3,
		PageSize:        50,
		ThrottleBackoff: time.Second,
		ServerBackoff:   2 * time.Second,
	}
}

// Client is the single choke point for all upstream traffic. The embedded
// limiter is shared process-wide state on purpose: the rate limit only holds
// if every caller funnels through the same pacer.
type Client struct {
	cfg     *Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *logging.Logger
}

// NewClient creates a new upstream client.
func NewClient(cfg *Config, logger *logging.Logger) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.URL == "" {
		cfg.URL = "https://api.pipefy.com/graphql"
	}
	if cfg.RequestInterval <= 0 {
		cfg.RequestInterval = 60 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.ThrottleBackoff <= 0 {
		cfg.ThrottleBackoff = time.Second
	}
	if cfg.ServerBackoff <= 0 {
		cfg.ServerBackoff = 2 * time.Second
	}

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   60 * time.Second,
			Transport: cfg.Transport,
		},
		limiter: rate.NewLimiter(rate.Every(cfg.RequestInterval), 1),
		logger:  logger,
	}
}

// PageSize exposes the configured pagination page size.
func (c *Client) PageSize() int { return c.cfg.PageSize }

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

type graphqlEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

// Execute sends one GraphQL request and decodes the data payload into out.
// It enforces the inter-request spacing, retries throttled (exponential
// backoff) and 5xx (fixed backoff) responses up to the retry budget, and
// fails immediately on a rejected credential.
func (c *Client) Execute(ctx context.Context, token, query string, variables map[string]any, out any) error {
	env, err := c.execute(ctx, token, query, variables)
	if err != nil {
		return err
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decoding upstream response: %w", err)
		}
	}
	return nil
}

// executeRaw is Execute without decoding, for callers that need the raw data
// payload together with the structured error list (the batch mutation parser).
func (c *Client) executeRaw(ctx context.Context, token, query string, variables map[string]any) (json.RawMessage, []graphqlError, error) {
	env, err := c.execute(ctx, token, query, variables)
	if err != nil {
		// a batch response can carry per-alias errors next to partial data;
		// hand both to the caller instead of failing the whole chunk
		var apiErr *APIError
		if errors.As(err, &apiErr) && env != nil && len(env.Data) > 0 {
			return env.Data, env.Errors, nil
		}
		return nil, nil, err
	}
	return env.Data, env.Errors, nil
}

func (c *Client) execute(ctx context.Context, token, query string, variables map[string]any) (*graphqlEnvelope, error) {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		env, err := c.doOnce(ctx, token, body)
		if err == nil {
			return env, nil
		}

		var backoff time.Duration
		switch {
		case errors.Is(err, ErrRateLimited):
			// 1s, 2s, 4s with the default base
			backoff = c.cfg.ThrottleBackoff << attempt
		case errors.Is(err, ErrServerError):
			backoff = c.cfg.ServerBackoff
		default:
			return env, err
		}
		lastErr = err

		if attempt == c.cfg.MaxRetries {
			break
		}

		if c.logger != nil {
			c.logger.Warn("upstream request will be retried",
				"attempt", attempt+1, "max", c.cfg.MaxRetries, "backoff", backoff.String(), "reason", err.Error())
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, lastErr
}

// doOnce performs a single attempt. Throttled and 5xx responses come back as
// ErrRateLimited / ErrServerError wraps, which the caller treats as retryable.
func (c *Client) doOnce(ctx context.Context, token string, body []byte) (env *graphqlEnvelope, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w (HTTP 429)", ErrRateLimited)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w (HTTP %d)", ErrServerError, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: unexpected HTTP %d", ErrConnectivity, resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrConnectivity, err)
	}

	var envelope graphqlEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrConnectivity, err)
	}

	if len(envelope.Errors) > 0 {
		messages := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			messages = append(messages, e.Message)
		}
		return &envelope, &APIError{Messages: messages}
	}

	return &envelope, nil
}
