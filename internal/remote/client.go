package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// HTTPError is a non-retryable remote failure carrying the status the
// control plane returned.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote http %d", e.StatusCode)
	}
	return fmt.Sprintf("remote http %d: %s", e.StatusCode, e.Message)
}

// TokenProvider yields a valid auth credential for the control plane.
// Implementations handle sign-in and renewal; callers just ask.
type TokenProvider func(ctx context.Context) (string, error)

// StaticToken returns a provider that always yields the same credential.
func StaticToken(token string) TokenProvider {
	return func(ctx context.Context) (string, error) {
		return token, nil
	}
}

type ClientOptions struct {
	BaseURL       string
	TokenProvider TokenProvider
	HTTPClient    *http.Client
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
}

// Client speaks the control plane's document protocol: GET reads a node,
// PATCH merges named fields, PUT replaces a whole subtree. A node that
// does not exist reads as the JSON literal null.
type Client struct {
	baseURL       string
	tokenProvider TokenProvider
	httpClient    *http.Client
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
}

func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	tokenProvider := opts.TokenProvider
	if tokenProvider == nil {
		tokenProvider = StaticToken("")
	}
	return &Client{
		baseURL:       baseURL,
		tokenProvider: tokenProvider,
		httpClient:    httpClient,
		maxRetries:    maxRetries,
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
	}
}

// GetRaw reads the JSON document at path. A missing node (404 or a null
// body) returns ErrNotFound so callers can tell absence from malformed
// content.
func (c *Client) GetRaw(ctx context.Context, path string) ([]byte, error) {
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if isNullDocument(body) {
		return nil, ErrNotFound
	}
	return body, nil
}

func (c *Client) Get(ctx context.Context, path string, out any) error {
	body, err := c.GetRaw(ctx, path)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

// Put replaces the entire subtree at path in one write.
func (c *Client) Put(ctx context.Context, path string, payload any) error {
	_, err := c.do(ctx, http.MethodPut, path, payload)
	return err
}

// Patch merges the named fields of payload into the node at path.
func (c *Client) Patch(ctx context.Context, path string, payload any) error {
	_, err := c.do(ctx, http.MethodPatch, path, payload)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("remote client is nil")
	}
	token, err := c.tokenProvider(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth token: %w", err)
	}
	var payloadBytes []byte
	if payload != nil {
		payloadBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	requestURL, err := c.nodeURL(path, token)
	if err != nil {
		return nil, err
	}
	correlationID := "ride_" + uuid.NewString()

	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if payloadBytes != nil {
			bodyReader = bytes.NewReader(payloadBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("X-Correlation-Id", correlationID)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, err
		}
		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return respBody, nil
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}
		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, waitErr
			}
			continue
		}
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(respBody)),
		}
	}
}

func (c *Client) nodeURL(path, token string) (string, error) {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return "", fmt.Errorf("empty remote path")
	}
	requestURL := c.baseURL + "/" + path + ".json"
	if token != "" {
		requestURL += "?auth=" + url.QueryEscape(token)
	}
	return requestURL, nil
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func isNullDocument(body []byte) bool {
	return len(bytes.TrimSpace(body)) == 0 || bytes.Equal(bytes.TrimSpace(body), []byte("null"))
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
