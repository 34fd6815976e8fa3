package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/kbukum/authkit/resilience"
)

// RefreshFunc exchanges the persisted refresh token for a new access token
// and returns it. Wired to the session manager's silent refresh.
type RefreshFunc func(ctx context.Context) (string, error)

// Client is the HTTP client for the authentication API.
type Client struct {
	httpClient *http.Client
	config     Config
	refresh    RefreshFunc
}

// New creates a new HTTP client with the given configuration.
func New(cfg Config) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
	}, nil
}

// SetRefresher installs the silent-refresh hook invoked on a 401 response
// to an authenticated request. The session manager calls this once during
// startup; a nil refresher disables the retry.
func (c *Client) SetRefresher(fn RefreshFunc) {
	c.refresh = fn
}

// Unwrap returns the underlying *http.Client for advanced use cases.
func (c *Client) Unwrap() *http.Client {
	return c.httpClient
}

// Do executes an HTTP request and returns the complete response.
// Transport-level retry applies to idempotent methods only; a POST that
// fails mid-flight must not be re-sent, the server may have acted on it.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if c.config.Retry != nil && idempotentMethod(req.Method) {
		return resilience.Retry(ctx, *c.config.Retry, func() (*Response, error) {
			return c.doOnce(ctx, req, 0)
		})
	}
	return c.doOnce(ctx, req, 0)
}

func idempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// doOnce executes a request carrying an explicit attempt counter. A 401 on
// an authenticated request triggers at most one refresh-and-retry: the
// retried request runs with attempt=1 and can never refresh again.
func (c *Client) doOnce(ctx context.Context, req Request, attempt int) (*Response, error) {
	resp, err := c.executeRequest(ctx, req)
	if err == nil {
		return resp, nil
	}

	var httpErr *Error
	if attempt == 0 && req.Authenticated && req.Auth == nil && c.refresh != nil &&
		errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusUnauthorized {
		newToken, refreshErr := c.refresh(ctx)
		if refreshErr != nil {
			// Refresh failed; the session manager has already torn the
			// session down. Propagate the original 401.
			return resp, err
		}
		retry := req
		retry.Auth = BearerAuth(newToken)
		return c.doOnce(ctx, retry, attempt+1)
	}

	return resp, err
}

// executeRequest builds and sends the HTTP request.
func (c *Client) executeRequest(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	if c.config.Logger != nil {
		c.config.Logger.Debug("request", map[string]interface{}{
			"request_id": requestID,
			"method":     req.Method,
			"path":       req.Path,
		})
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewTimeoutError(err)
		}
		return nil, NewConnectionError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewConnectionError(fmt.Errorf("read response body: %w", err))
	}

	if c.config.Logger != nil {
		c.config.Logger.Debug("response", map[string]interface{}{
			"request_id": requestID,
			"status":     resp.StatusCode,
		})
	}

	result := &Response{
		StatusCode: resp.StatusCode,
		Headers:    flattenHeaders(resp.Header),
		Body:       body,
	}

	if classErr := ClassifyStatusCode(resp.StatusCode, body); classErr != nil {
		return result, classErr
	}

	return result, nil
}

// buildRequest constructs an *http.Request from the client config and request.
func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	// Resolve URL
	url := req.Path
	if c.config.BaseURL != "" && !strings.HasPrefix(req.Path, "http://") && !strings.HasPrefix(req.Path, "https://") {
		url = strings.TrimRight(c.config.BaseURL, "/") + "/" + strings.TrimLeft(req.Path, "/")
	}

	// Build body
	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, NewValidationError(fmt.Sprintf("encode body: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, body)
	if err != nil {
		return nil, NewValidationError(fmt.Sprintf("create request: %v", err))
	}

	// Apply query parameters
	if len(req.Query) > 0 {
		q := httpReq.URL.Query()
		for k, v := range req.Query {
			q.Set(k, v)
		}
		httpReq.URL.RawQuery = q.Encode()
	}

	// Apply default headers
	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}

	// Apply request-specific headers (override defaults)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	// Set content-type if body present and not already set
	if body != nil && httpReq.Header.Get("Content-Type") == "" && contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	// Propagate trace context when a span is active on ctx.
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	return httpReq, c.applyAuth(httpReq, req)
}

// applyAuth attaches credentials: a per-request override wins; otherwise an
// authenticated request reads the current token from the TokenSource.
func (c *Client) applyAuth(httpReq *http.Request, req Request) error {
	if req.Auth != nil {
		req.Auth.apply(httpReq)
		return nil
	}
	if !req.Authenticated || c.config.Tokens == nil {
		return nil
	}
	token, err := c.config.Tokens()
	if err != nil {
		// Storage trouble reads as "no credentials": send the request
		// bare and let the server decide.
		return nil
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// encodeBody converts a body value into an io.Reader and content type.
func encodeBody(body any) (io.Reader, string, error) {
	if body == nil {
		return nil, "", nil
	}
	switch v := body.(type) {
	case *MultipartBody:
		return v.encode()
	case io.Reader:
		return v, "", nil
	case []byte:
		return bytes.NewReader(v), "", nil
	case string:
		return strings.NewReader(v), "text/plain", nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

// flattenHeaders converts multi-value headers to single-value.
func flattenHeaders(h http.Header) map[string]string {
	result := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			result[k] = v[0]
		}
	}
	return result
}
