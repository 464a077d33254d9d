// Package transport delivers batches of events to a collection endpoint.
package transport

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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/withregard/regard-go/pkg/event"
	"github.com/withregard/regard-go/pkg/httpclient"
	"github.com/withregard/regard-go/pkg/useragent"
)

// DefaultBaseURL is the hosted collection endpoint.
const DefaultBaseURL = "https://api.withregard.io"

// DefaultAPIKeyHeader carries the API key unless configured otherwise.
const DefaultAPIKeyHeader = "X-Api-Key"

const (
	defaultTimeout   = 10 * time.Second
	maxErrorBodySize = 1024
)

// HTTPClient is the subset of *http.Client the transport needs (allows
// mocking in tests).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Batch is the request body of a delivery.
type Batch struct {
	Records []event.Event `json:"records"`
}

// StatusError is returned when the endpoint answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP request failed with status %d: %s", e.StatusCode, e.Body)
}

// HTTP posts batches to <baseURL>/track/v1/<organization>/<product>/events.
// A batch either succeeds as a whole or fails as a whole.
type HTTP struct {
	client    HTTPClient
	endpoint  string
	key       event.Key
	header    string
	apiKey    string
	userAgent string
	timeout   time.Duration
	logger    *slog.Logger
	tracer    trace.Tracer
}

type Option func(*HTTP)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c HTTPClient) Option {
	return func(t *HTTP) {
		t.client = c
	}
}

// WithAPIKey sends key in header with every batch.
func WithAPIKey(header, key string) Option {
	return func(t *HTTP) {
		t.header = header
		t.apiKey = key
	}
}

// WithTimeout bounds a single delivery attempt.
func WithTimeout(d time.Duration) Option {
	return func(t *HTTP) {
		t.timeout = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTP) {
		t.logger = logger
	}
}

// New returns a transport for key. An empty baseURL selects DefaultBaseURL.
func New(baseURL string, key event.Key, opts ...Option) (*HTTP, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid endpoint %q: scheme must be http or https", baseURL)
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}

	t := &HTTP{
		endpoint:  EventsURL(strings.TrimRight(u.String(), "/"), key),
		key:       key,
		userAgent: useragent.Header,
		timeout:   defaultTimeout,
		logger:    slog.Default(),
		tracer:    otel.Tracer("github.com/withregard/regard-go/pkg/transport"),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.client == nil {
		t.client = httpclient.NewHTTPClient(httpclient.WithTimeout(t.timeout))
	}
	return t, nil
}

// EventsURL returns the batch endpoint for key under base.
func EventsURL(base string, key event.Key) string {
	return fmt.Sprintf("%s/track/v1/%s/%s/events", base, url.PathEscape(key.Organization), url.PathEscape(key.Product))
}

// Endpoint returns the URL batches are posted to.
func (t *HTTP) Endpoint() string {
	return t.endpoint
}

// SendBatch delivers events in order. Any network error or non-2xx status is
// a failure of the whole batch.
func (t *HTTP) SendBatch(ctx context.Context, events []event.Event) (err error) {
	if len(events) == 0 {
		return nil
	}

	ctx, span := t.tracer.Start(ctx, "regard.send_batch", trace.WithAttributes(
		attribute.String("regard.organization", t.key.Organization),
		attribute.String("regard.product", t.key.Product),
		attribute.Int("regard.batch_size", len(events)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	body, err := json.Marshal(Batch{Records: events})
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", t.userAgent)
	if t.header != "" && t.apiKey != "" {
		req.Header.Set(t.header, t.apiKey)
	}

	t.logger.Debug("Sending batch",
		"url", t.endpoint,
		"events", len(events),
		"payload_size", len(body),
		"has_api_key", t.apiKey != "",
	)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		t.logger.Debug("HTTP error response",
			"status_code", resp.StatusCode,
			"status_text", resp.Status,
			"response_body", string(msg),
		)
		return &StatusError{StatusCode: resp.StatusCode, Body: string(msg)}
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	return nil
}

// IsRetryable reports whether a failed delivery is worth retrying on the next
// flush. Client errors other than 408 and 429 mean the batch will never be
// accepted as is.
func IsRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		code := statusErr.StatusCode
		return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
	}
	return err != nil
}
