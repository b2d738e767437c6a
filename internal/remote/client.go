package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/Kamar-Folarin/mobile-sync/internal/config"
	"github.com/Kamar-Folarin/mobile-sync/internal/models"
)

// Client is the REST implementation of Source
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *logrus.Logger
	limiter *rate.Limiter

	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	multiplier     float64
}

// ClientOption allows configuring the client
type ClientOption func(*Client)

// WithRetryConfig configures retry behavior
func WithRetryConfig(maxRetries int, initialBackoff, maxBackoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.initialBackoff = initialBackoff
		c.maxBackoff = maxBackoff
	}
}

// WithBackoffMultiplier sets the factor applied to the backoff after each failed attempt
func WithBackoffMultiplier(multiplier float64) ClientOption {
	return func(c *Client) {
		c.multiplier = multiplier
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.client = httpClient
	}
}

// WithRateLimit caps the request rate; a non-positive rate disables the limit
func WithRateLimit(requestsPerSecond float64, burst int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

// NewClient creates a new REST client for the configured backend
func NewClient(cfg *config.RemoteConfig, logger *logrus.Logger, opts ...ClientOption) *Client {
	if cfg == nil {
		cfg = config.DefaultRemoteConfig()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	client := &Client{
		baseURL:        strings.TrimSuffix(cfg.BaseURL, "/"),
		token:          cfg.Token,
		client:         &http.Client{Timeout: cfg.Timeout},
		logger:         logger,
		maxRetries:     cfg.RateLimit.MaxRetries,
		initialBackoff: cfg.RateLimit.InitialBackoff,
		maxBackoff:     cfg.RateLimit.MaxBackoff,
		multiplier:     cfg.RateLimit.RetryMultiplier,
	}
	WithRateLimit(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)(client)

	// Apply options
	for _, opt := range opts {
		opt(client)
	}
	if client.multiplier <= 1 {
		client.multiplier = 2
	}

	if client.token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: client.token},
		)
		authed := *client.client
		authed.Transport = &oauth2.Transport{Source: ts, Base: client.client.Transport}
		client.client = &authed
	}

	return client
}

type pageResponse struct {
	Records    []models.Record `json:"records"`
	NextCursor string          `json:"nextCursor"`
	TotalSize  int             `json:"totalSize"`
}

type idsPayload struct {
	IDs []string `json:"ids"`
}

func (c *Client) queryValues(spec QuerySpec) url.Values {
	query := url.Values{}
	if spec.Query != "" {
		query.Set("q", spec.Query)
	}
	if len(spec.Fields) > 0 {
		query.Set("fields", strings.Join(spec.Fields, ","))
	}
	if len(spec.IDs) > 0 {
		query.Set("ids", strings.Join(spec.IDs, ","))
	}
	if spec.IDField != "" {
		query.Set("idField", spec.IDField)
	}
	if spec.ModField != "" {
		query.Set("modifiedField", spec.ModField)
		query.Set("orderBy", spec.ModField)
	}
	if spec.Since > models.NoTimeStamp {
		query.Set("since", strconv.FormatInt(spec.Since, 10))
	}
	return query
}

func objectPath(objectType string, parts ...string) string {
	segments := []string{url.PathEscape(objectType)}
	for _, p := range parts {
		segments = append(segments, url.PathEscape(p))
	}
	return "/" + strings.Join(segments, "/")
}

// Count returns the number of records the spec matches
func (c *Client) Count(ctx context.Context, spec QuerySpec) (int, error) {
	if spec.ObjectType == "" {
		return 0, NewValidationError("objectType", "cannot be empty")
	}

	var resp struct {
		TotalSize int `json:"totalSize"`
	}
	if _, err := c.doRequestWithBackoff(ctx, http.MethodGet, objectPath(spec.ObjectType, "count"), c.queryValues(spec), nil, &resp); err != nil {
		return 0, err
	}
	return resp.TotalSize, nil
}

// Query fetches one page of records
func (c *Client) Query(ctx context.Context, spec QuerySpec) (*Page, error) {
	if spec.ObjectType == "" {
		return nil, NewValidationError("objectType", "cannot be empty")
	}

	query := c.queryValues(spec)
	if spec.PageSize > 0 {
		query.Set("pageSize", strconv.Itoa(spec.PageSize))
	}
	if spec.Cursor != "" {
		query.Set("cursor", spec.Cursor)
	}

	c.logger.WithFields(logrus.Fields{
		"object_type": spec.ObjectType,
		"since":       spec.Since,
		"cursor":      spec.Cursor,
		"page_size":   spec.PageSize,
	}).Debug("Requesting records page from remote")

	var resp pageResponse
	if _, err := c.doRequestWithBackoff(ctx, http.MethodGet, objectPath(spec.ObjectType), query, nil, &resp); err != nil {
		return nil, err
	}

	return &Page{
		Records:      resp.Records,
		NextCursor:   resp.NextCursor,
		TotalSize:    resp.TotalSize,
		MaxTimeStamp: MaxTimeStamp(resp.Records, spec.ModField),
	}, nil
}

// Retrieve fetches a single record
func (c *Client) Retrieve(ctx context.Context, objectType, id string, fields []string) (models.Record, error) {
	if objectType == "" {
		return nil, NewValidationError("objectType", "cannot be empty")
	}
	if id == "" {
		return nil, NewValidationError("id", "cannot be empty")
	}

	query := url.Values{}
	if len(fields) > 0 {
		query.Set("fields", strings.Join(fields, ","))
	}

	var record models.Record
	if _, err := c.doRequestWithBackoff(ctx, http.MethodGet, objectPath(objectType, id), query, nil, &record); err != nil {
		return nil, err
	}
	return record, nil
}

// Create creates a record and returns it as stored by the backend
func (c *Client) Create(ctx context.Context, objectType string, fields models.Record) (models.Record, error) {
	if objectType == "" {
		return nil, NewValidationError("objectType", "cannot be empty")
	}

	var record models.Record
	if _, err := c.doRequestWithBackoff(ctx, http.MethodPost, objectPath(objectType), nil, fields, &record); err != nil {
		return nil, err
	}
	return record, nil
}

// Update patches a record
func (c *Client) Update(ctx context.Context, objectType, id string, fields models.Record) (models.Record, error) {
	if objectType == "" {
		return nil, NewValidationError("objectType", "cannot be empty")
	}
	if id == "" {
		return nil, NewValidationError("id", "cannot be empty")
	}

	var record models.Record
	status, err := c.doRequestWithBackoff(ctx, http.MethodPatch, objectPath(objectType, id), nil, fields, &record)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return record, nil
}

// Delete deletes a record
func (c *Client) Delete(ctx context.Context, objectType, id string) error {
	if objectType == "" {
		return NewValidationError("objectType", "cannot be empty")
	}
	if id == "" {
		return NewValidationError("id", "cannot be empty")
	}

	_, err := c.doRequestWithBackoff(ctx, http.MethodDelete, objectPath(objectType, id), nil, nil, nil)
	return err
}

// Exists reports which ids still exist remotely
func (c *Client) Exists(ctx context.Context, objectType string, ids []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}
	if objectType == "" {
		return nil, NewValidationError("objectType", "cannot be empty")
	}

	var resp idsPayload
	if _, err := c.doRequestWithBackoff(ctx, http.MethodPost, objectPath(objectType, "exists"), nil, idsPayload{IDs: ids}, &resp); err != nil {
		return nil, err
	}
	for _, id := range resp.IDs {
		existing[id] = true
	}
	return existing, nil
}

// doRequestWithBackoff performs an HTTP request with exponential backoff.
// 429 and 5xx responses are retried, honoring Retry-After.
func (c *Client) doRequestWithBackoff(ctx context.Context, method, path string, query url.Values, body interface{}, result interface{}) (int, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	var lastErr error
	backoff := c.initialBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, err
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return 0, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			lastErr = NewRemoteError(0, "request failed", err)
			c.logger.Warnf("Request attempt %d failed: %v", attempt+1, err)
			if err := c.wait(ctx, backoff); err != nil {
				return 0, err
			}
			backoff = c.nextBackoff(backoff)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = NewRemoteError(resp.StatusCode, "failed to read response body", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = NewRemoteError(resp.StatusCode, strings.TrimSpace(string(respBody)), nil)
			waitTime := backoff
			if retryAfter := retryAfter(resp); retryAfter > 0 {
				waitTime = retryAfter
			}
			c.logger.WithFields(logrus.Fields{
				"status":  resp.StatusCode,
				"attempt": attempt + 1,
				"wait":    waitTime.String(),
			}).Warn("Remote unavailable, retrying")
			if attempt < c.maxRetries {
				if err := c.wait(ctx, waitTime); err != nil {
					return 0, err
				}
			}
			backoff = c.nextBackoff(backoff)
			continue
		}

		if resp.StatusCode >= 400 {
			return resp.StatusCode, NewRemoteError(resp.StatusCode, strings.TrimSpace(string(respBody)), nil)
		}

		if result != nil && resp.StatusCode != http.StatusNoContent && len(bytes.TrimSpace(respBody)) > 0 {
			if err := json.Unmarshal(respBody, result); err != nil {
				return resp.StatusCode, NewRemoteError(resp.StatusCode, "failed to decode response", err)
			}
		}

		return resp.StatusCode, nil
	}

	return 0, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) nextBackoff(backoff time.Duration) time.Duration {
	return time.Duration(math.Min(float64(backoff)*c.multiplier, float64(c.maxBackoff)))
}

func (c *Client) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func retryAfter(resp *http.Response) time.Duration {
	value := resp.Header.Get("Retry-After")
	if value == "" {
		return 0
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		return time.Until(at)
	}
	return 0
}
