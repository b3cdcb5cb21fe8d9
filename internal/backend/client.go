// Package backend is the REST client for the notification endpoints of the
// task backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/nhle/task-notifications/internal/model"
)

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

// AccessToken calls f.
func (f TokenFunc) AccessToken(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken returns a TokenSource that always yields token.
func StaticToken(token string) TokenSource {
	return TokenFunc(func(context.Context) (string, error) { return token, nil })
}

// Options tunes the HTTP client.
type Options struct {
	// Timeout bounds a single request. Default 30s.
	Timeout time.Duration

	// RequestsPerSec limits outbound calls. Zero disables limiting.
	RequestsPerSec float64

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client

	// Now is the clock used for local token expiry checks.
	Now func() time.Time
}

// Client is a thin HTTP client for the notification REST surface.
// It handles Bearer token authentication, JSON marshaling, local
// session-expiry detection and client-side rate limiting. It does not
// retry; callers apply their own policy.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

// NewClient creates a new backend client. baseURL is the API root that
// the /notifications paths are appended to.
func NewClient(baseURL string, tokens TokenSource, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSec > 0 {
		burst := int(opts.RequestsPerSec)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSec), burst)
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: httpClient,
		limiter:    limiter,
		now:        opts.Now,
	}
}

// registerDeviceRequest is the body of POST /notifications/register-device.
type registerDeviceRequest struct {
	DeviceToken string `json:"device_token"`
	DeviceType  string `json:"device_type"`
}

// statusRequest is the body of PATCH /notifications/{id}.
type statusRequest struct {
	NotificationStatus model.Status `json:"notification_status"`
}

// RegisterDevice hands the push token of this installation to the backend.
func (c *Client) RegisterDevice(ctx context.Context, token, deviceType string) error {
	return c.do(ctx, http.MethodPost, "/notifications/register-device",
		registerDeviceRequest{DeviceToken: token, DeviceType: deviceType}, nil)
}

// ListNotifications fetches the backend's view of this user's
// notifications. An empty result means "no change", never "clear all".
func (c *Client) ListNotifications(ctx context.Context) ([]model.Notification, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/notifications/", nil, &raw); err != nil {
		return nil, err
	}

	remote, err := decodeNotificationList(raw)
	if err != nil {
		return nil, &DecodeError{Method: http.MethodGet, Path: "/notifications/", Err: err}
	}

	out := make([]model.Notification, 0, len(remote))
	for _, r := range remote {
		n, ok := r.toModel()
		if !ok {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// UpdateStatus records a read or deleted status on the backend.
func (c *Client) UpdateStatus(ctx context.Context, id string, status model.Status) error {
	return c.do(ctx, http.MethodPatch, "/notifications/"+url.PathEscape(id),
		statusRequest{NotificationStatus: status}, nil)
}

// DeleteNotification hard-deletes a notification on the backend.
func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/notifications/"+url.PathEscape(id), nil, nil)
}

// do builds the request, applies auth and rate limiting, and decodes the
// JSON response into result when it is non-nil.
func (c *Client) do(
	ctx context.Context,
	method string,
	path string,
	body interface{},
	result interface{},
) error {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("loading access token: %w", err)
	}
	if token == "" || tokenExpired(token, c.now()) {
		return fmt.Errorf("%s %s: %w", method, path, ErrSessionExpired)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s %s returned 401: %w", method, path, ErrSessionExpired)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{
			Method: method,
			Path:   path,
			Code:   resp.StatusCode,
			Body:   truncate(string(respBody), 256),
		}
	}

	// No content to parse (e.g. 204).
	if result == nil || resp.StatusCode == http.StatusNoContent || len(respBody) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return &DecodeError{Method: method, Path: path, Err: err}
	}

	return nil
}

// tokenExpired reports whether token is a JWT whose exp claim has passed.
// Opaque tokens are left for the server to judge.
func tokenExpired(token string, now time.Time) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !claims.ExpiresAt.After(now)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
