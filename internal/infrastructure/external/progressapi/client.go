// Package progressapi implements the RemoteStore port over HTTP.
//
// Wire contract:
//
//	GET  /progress/{contentId}  -> 200 Snapshot | 404
//	POST /progress              {contentId, progress: Snapshot} -> 2xx
//
// The client never retries: the progress store treats every push as
// best-effort. A circuit breaker fails calls fast while the API is down.
package progressapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stepwise-hub/stepwise/internal/domain/progress"
	"github.com/stepwise-hub/stepwise/internal/domain/shared"
	"github.com/stepwise-hub/stepwise/internal/infrastructure/metrics"
	"github.com/stepwise-hub/stepwise/pkg/circuitbreaker"
	"github.com/stepwise-hub/stepwise/pkg/logger"
)

const tracerName = "github.com/stepwise-hub/stepwise/internal/infrastructure/external/progressapi"

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the progress API client.
type ClientConfig struct {
	// BaseURL is the API base URL, e.g. https://sync.example.com/api.
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Timeout bounds each HTTP request. Zero means no client-side timeout;
	// callers may still bound requests through the context.
	Timeout time.Duration

	// Breaker protects the API. Nil disables it.
	Breaker *circuitbreaker.CircuitBreaker

	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client

	// Logger for structured logging.
	Logger *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client implements progress.RemoteStore.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	log        *logger.Logger
	tracer     trace.Tracer
}

var _ progress.RemoteStore = (*Client)(nil)

// NewClient creates a new progress API client.
func NewClient(cfg ClientConfig) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("progressapi: invalid base URL %q", cfg.BaseURL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		breaker:    cfg.Breaker,
		log:        log.With(logger.Component("progress_api")),
		tracer:     otel.Tracer(tracerName),
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Get fetches the remote snapshot. A 404 returns (nil, nil).
func (c *Client) Get(ctx context.Context, contentID string) (*progress.Snapshot, error) {
	path := "/progress/" + url.PathEscape(contentID)

	var snap progress.Snapshot
	found, err := c.doRequest(ctx, http.MethodGet, path, nil, &snap)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &snap, nil
}

// Put replaces the remote record with snap.
func (c *Client) Put(ctx context.Context, contentID string, snap progress.Snapshot) error {
	body := PutRequestDTO{ContentID: contentID, Progress: snap}
	_, err := c.doRequest(ctx, http.MethodPost, "/progress", body, nil)
	return err
}

// Ping checks that the API answers at all. Any HTTP response counts.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return shared.WrapError("remote", "Ping", shared.ErrRemoteUnavailable, "health check", err)
	}
	_ = resp.Body.Close()
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// doRequest performs one request through the breaker. found is false on 404.
func (c *Client) doRequest(ctx context.Context, method, path string, body, result any) (found bool, err error) {
	ctx, span := c.tracer.Start(ctx, "progressapi."+method, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		))
	defer span.End()

	start := time.Now()
	outcome := metrics.ResultOK
	defer func() {
		metrics.RemoteRequestDuration.WithLabelValues(method, outcome).Observe(time.Since(start).Seconds())
	}()

	if c.breaker != nil {
		if berr := c.breaker.Allow(); berr != nil {
			outcome = metrics.ResultRejected
			span.SetStatus(codes.Error, berr.Error())
			return false, shared.WrapError("remote", method, shared.ErrRemoteUnavailable, "circuit open", berr)
		}
	}

	found, err = c.doSingleRequest(ctx, method, path, body, result)

	if c.breaker != nil {
		c.breaker.Done(breakerError(err))
	}

	switch {
	case err != nil:
		outcome = metrics.ResultError
		span.SetStatus(codes.Error, err.Error())
		c.log.Debug("progress api request failed",
			logger.String("method", method),
			logger.String("path", path),
			logger.Latency(time.Since(start)),
			logger.Err(err))
	case !found:
		outcome = metrics.ResultNotFound
	}
	return found, err
}

func (c *Client) doSingleRequest(ctx context.Context, method, path string, body, result any) (bool, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, transportError(method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return false, transportError(method, err)
	}

	if resp.StatusCode == http.StatusNotFound && method == http.MethodGet {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{Method: method, Path: path, Status: resp.StatusCode}
		_ = json.Unmarshal(respBody, &se.Body)
		return false, shared.WrapError("remote", method, shared.ErrRemoteUnavailable, "unexpected status", se)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return false, shared.WrapError("remote", method, shared.ErrRemoteInvalidResponse, "decode body", err)
		}
	}
	return true, nil
}

func transportError(method string, err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return shared.WrapError("remote", method, shared.ErrRemoteTimeout, "request timed out", err)
	}
	return shared.WrapError("remote", method, shared.ErrRemoteUnavailable, "request failed", err)
}

// breakerError filters out errors that say nothing about the API's health.
func breakerError(err error) error {
	var se *StatusError
	if errors.As(err, &se) && !se.Temporary() {
		return nil
	}
	if errors.Is(err, shared.ErrRemoteInvalidResponse) {
		return nil
	}
	return err
}
