// Package directory talks to the remote REST user directory that owns canonical accounts.
//
// Endpoints, relative to the configured base URL:
//
//	GET  /users/{id}               200 {"username", "email"}; 404 when no account matches
//	POST /users/{name}/credentials 200/204 when accepted; 401/403 when rejected
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/oauth2"

	"github.com/tailscale-portfolio/rest-user-federation/internal/identity"
)

const maxErrorBody = 512

// Option configures the Client.
type Option func(c *Client)

// WithHTTPClient replaces the underlying HTTP client used for each attempt.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRetry sets how many times failed requests are retried and the backoff bounds.
func WithRetry(retries int, waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		c.retryMax = retries
		c.retryWaitMin = waitMin
		c.retryWaitMax = waitMax
	}
}

// WithTokenSource authenticates every request with tokens from ts.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) {
		c.tokenSource = ts
	}
}

// WithLogger sets the logger for transport retries.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client implements identity.Directory and identity.CredentialValidator over HTTP.
type Client struct {
	baseURL *url.URL

	httpClient   *http.Client
	tokenSource  oauth2.TokenSource
	logger       *slog.Logger
	retryMax     int
	retryWaitMin time.Duration
	retryWaitMax time.Duration

	rc *retryablehttp.Client
}

// New validates baseURL and constructs a client.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	parsed, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("directory: parse base url: %w", err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("directory: invalid base url %q", baseURL)
	}

	c := &Client{
		baseURL:      parsed,
		retryMax:     2,
		retryWaitMin: 200 * time.Millisecond,
		retryWaitMax: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	hc := *c.httpClient
	if c.tokenSource != nil {
		base := hc.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		hc.Transport = &oauth2.Transport{Source: c.tokenSource, Base: base}
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &hc
	rc.RetryMax = c.retryMax
	rc.RetryWaitMin = c.retryWaitMin
	rc.RetryWaitMax = c.retryWaitMax
	rc.Logger = c.logger
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.rc = rc

	return c, nil
}

// FindByIdentifier looks up the remote account for a login identifier.
func (c *Client) FindByIdentifier(ctx context.Context, id string) (*identity.RemoteUser, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, identity.ErrNotFound
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("users", id), nil)
	if err != nil {
		return nil, fmt.Errorf("directory: new lookup request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.rc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory: lookup failed: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, identity.ErrNotFound
	default:
		return nil, statusError("lookup", res)
	}

	var user identity.RemoteUser
	if err := json.NewDecoder(res.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("directory: decode user: %w", err)
	}
	if user.Username == "" {
		return nil, errors.New("directory: user response missing username")
	}
	return &user, nil
}

// ValidateCredentials asks the remote directory whether password is valid for username.
func (c *Client) ValidateCredentials(ctx context.Context, username, password string) error {
	payload := struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	}{Type: "password", Value: password}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("directory: marshal credentials: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("users", username, "credentials"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("directory: new credentials request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.rc.Do(req)
	if err != nil {
		return fmt.Errorf("directory: credentials call failed: %w", err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	switch res.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return identity.ErrInvalidCredentials
	case http.StatusNotFound:
		return identity.ErrNotFound
	default:
		return statusError("credentials", res)
	}
}

func (c *Client) endpoint(segments ...string) string {
	u := *c.baseURL
	escaped := make([]string, 0, len(segments))
	for _, s := range segments {
		escaped = append(escaped, url.PathEscape(s))
	}
	u.RawPath = strings.TrimSuffix(u.EscapedPath(), "/") + "/" + strings.Join(escaped, "/")
	u.Path, _ = url.PathUnescape(u.RawPath)
	return u.String()
}

func statusError(op string, res *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	msg := strings.TrimSpace(string(snippet))
	if msg == "" {
		return fmt.Errorf("directory: %s returned status %d", op, res.StatusCode)
	}
	return fmt.Errorf("directory: %s returned status %d: %s", op, res.StatusCode, msg)
}
