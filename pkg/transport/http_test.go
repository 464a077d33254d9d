package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withregard/regard-go/pkg/event"
)

var key = event.Key{Product: "app", Organization: "acme"}

// MockHTTPClient captures HTTP requests for testing
type MockHTTPClient struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   [][]byte
	status   int
	body     string
	err      error
}

func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{status: http.StatusOK, body: `{"accepted":1}`}
}

func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if req.Body != nil {
		body, _ := io.ReadAll(req.Body)
		m.bodies = append(m.bodies, body)
	}
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: m.status,
		Status:     http.StatusText(m.status),
		Body:       io.NopCloser(bytes.NewReader([]byte(m.body))),
		Header:     make(http.Header),
	}, nil
}

func (m *MockHTTPClient) GetRequests() []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*http.Request{}, m.requests...)
}

func (m *MockHTTPClient) GetBodies() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte{}, m.bodies...)
}

func events(names ...string) []event.Event {
	out := make([]event.Event, len(names))
	for i, n := range names {
		out[i] = event.New(n, event.Properties{"i": event.Number(float64(i))}, time.Now(), "user", "session")
	}
	return out
}

func TestNewValidates(t *testing.T) {
	_, err := New("ftp://example.com", key)
	require.Error(t, err)

	_, err = New("https://example.com", event.Key{Product: "app"})
	require.Error(t, err)

	tr, err := New("", key)
	require.NoError(t, err)
	assert.Equal(t, "https://api.withregard.io/track/v1/acme/app/events", tr.Endpoint())

	tr, err = New("http://localhost:8080/", key)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/track/v1/acme/app/events", tr.Endpoint())
}

func TestSendBatch(t *testing.T) {
	mock := NewMockHTTPClient()
	tr, err := New("https://collector.test", key, WithHTTPClient(mock), WithAPIKey("X-Api-Key", "test-key"))
	require.NoError(t, err)

	batch := events("login", "purchase")
	require.NoError(t, tr.SendBatch(t.Context(), batch))

	requests := mock.GetRequests()
	require.Len(t, requests, 1)
	req := requests[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "https://collector.test/track/v1/acme/app/events", req.URL.String())
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "test-key", req.Header.Get("X-Api-Key"))
	assert.Contains(t, req.Header.Get("User-Agent"), "regard-go/")

	var sent Batch
	require.NoError(t, json.Unmarshal(mock.GetBodies()[0], &sent))
	assert.Equal(t, []string{"login", "purchase"}, event.Names(sent.Records))
	assert.Equal(t, batch[0].ID, sent.Records[0].ID)
}

func TestSendBatchEmptyIsNoop(t *testing.T) {
	mock := NewMockHTTPClient()
	tr, err := New("https://collector.test", key, WithHTTPClient(mock))
	require.NoError(t, err)

	require.NoError(t, tr.SendBatch(t.Context(), nil))
	assert.Empty(t, mock.GetRequests())
}

func TestSendBatchStatusError(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.status = http.StatusServiceUnavailable
	mock.body = "try later"

	tr, err := New("https://collector.test", key, WithHTTPClient(mock))
	require.NoError(t, err)

	err = tr.SendBatch(t.Context(), events("a"))
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Equal(t, "try later", statusErr.Body)
	assert.True(t, IsRetryable(err))
}

func TestSendBatchNetworkError(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.err = errors.New("connection refused")

	tr, err := New("https://collector.test", key, WithHTTPClient(mock))
	require.NoError(t, err)

	err = tr.SendBatch(t.Context(), events("a"))
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestSendBatchAgainstServer(t *testing.T) {
	var got Batch
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/track/v1/acme/app/events", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tr, err := New(srv.URL, key)
	require.NoError(t, err)
	require.NoError(t, tr.SendBatch(t.Context(), events("x", "y", "z")))
	assert.Equal(t, []string{"x", "y", "z"}, event.Names(got.Records))
}

func TestSendBatchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	tr, err := New(srv.URL, key, WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	err = tr.SendBatch(t.Context(), events("slow"))
	require.Error(t, err)
}

func TestSendBatchCanceledContext(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.err = context.Canceled
	tr, err := New("https://collector.test", key, WithHTTPClient(mock))
	require.NoError(t, err)

	require.ErrorIs(t, tr.SendBatch(t.Context(), events("a")), context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(&StatusError{StatusCode: http.StatusBadRequest}))
	assert.False(t, IsRetryable(&StatusError{StatusCode: http.StatusUnauthorized}))
	assert.True(t, IsRetryable(&StatusError{StatusCode: http.StatusTooManyRequests}))
	assert.True(t, IsRetryable(&StatusError{StatusCode: http.StatusRequestTimeout}))
	assert.True(t, IsRetryable(&StatusError{StatusCode: http.StatusBadGateway}))
}
