package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withregard/regard-go/pkg/event"
	"github.com/withregard/regard-go/pkg/transport"
)

var key = event.Key{Product: "app", Organization: "acme"}

func post(t *testing.T, h http.Handler, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPostEventsDeduplicates(t *testing.T) {
	s := New()
	e1 := event.New("login", nil, time.Now(), "u", "s")
	e2 := event.New("purchase", event.Properties{"amount": event.String("9.99")}, time.Now(), "u", "s")

	rec := post(t, s.Handler(), "/track/v1/acme/app/events", transport.Batch{Records: []event.Event{e1, e2}})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, Response{Accepted: 2}, resp)

	rec = post(t, s.Handler(), "/track/v1/acme/app/events", transport.Batch{Records: []event.Event{e2}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, Response{Duplicates: 1}, resp)

	assert.Equal(t, []string{"login", "purchase"}, event.Names(s.Events(key)))
	assert.Equal(t, 2, s.Batches())
}

func TestPostEventsRejectsInvalid(t *testing.T) {
	s := New()

	invalid := event.New("", nil, time.Now(), "", "")
	rec := post(t, s.Handler(), "/track/v1/acme/app/events", transport.Batch{Records: []event.Event{invalid}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/track/v1/acme/app/events", bytes.NewReader([]byte(`{"records":[{"id":"x","event":"a","properties":{"k":null}}]}`)))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, s.Events(key))
}

func TestFailNext(t *testing.T) {
	s := New()
	s.FailNext(1)

	batch := transport.Batch{Records: []event.Event{event.New("a", nil, time.Now(), "", "")}}
	rec := post(t, s.Handler(), "/track/v1/acme/app/events", batch)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, s.Events(key))

	rec = post(t, s.Handler(), "/track/v1/acme/app/events", batch)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, s.Events(key), 1)
}

func TestAPIKey(t *testing.T) {
	s := New(WithAPIKey("X-Api-Key", "secret"))
	batch := transport.Batch{Records: []event.Event{event.New("a", nil, time.Now(), "", "")}}

	rec := post(t, s.Handler(), "/track/v1/acme/app/events", batch)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(t, s.Handler(), "/track/v1/acme/app/events", batch, "X-Api-Key", "secret")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetEventsAndPing(t *testing.T) {
	s := New()
	post(t, s.Handler(), "/track/v1/acme/app/events", transport.Batch{Records: []event.Event{event.New("a", nil, time.Now(), "", "")}})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/track/v1/acme/app/events", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)

	var batch transport.Batch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	assert.Equal(t, []string{"a"}, event.Names(batch.Records))

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServeStopsWithContext(t *testing.T) {
	s := New(WithRequestLogging())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/ping")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestReceiverSeesAcceptedEvents(t *testing.T) {
	var got []string
	s := New(WithReceiver(func(k event.Key, accepted []event.Event) {
		assert.Equal(t, key, k)
		got = append(got, event.Names(accepted)...)
	}))

	e := event.New("login", nil, time.Now(), "", "")
	post(t, s.Handler(), "/track/v1/acme/app/events", transport.Batch{Records: []event.Event{e}})
	post(t, s.Handler(), "/track/v1/acme/app/events", transport.Batch{Records: []event.Event{e}})

	assert.Equal(t, []string{"login"}, got)
}
