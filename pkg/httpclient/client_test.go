package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withregard/regard-go/pkg/useragent"
)

func TestHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		opts      []Opt
		wantAgent string
	}{
		{
			name:      "default user agent",
			wantAgent: useragent.Header,
		},
		{
			name:      "custom user agent",
			opts:      []Opt{WithUserAgent("my-app/1.0")},
			wantAgent: "my-app/1.0",
		},
		{
			name:      "custom transport keeps user agent",
			opts:      []Opt{WithTransport(http.DefaultTransport)},
			wantAgent: useragent.Header,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var capturedHeaders http.Header
			srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				capturedHeaders = r.Header
			}))
			defer srv.Close()

			client := NewHTTPClient(tt.opts...)
			req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
			require.NoError(t, err)

			resp, err := client.Do(req)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.wantAgent, capturedHeaders.Get("User-Agent"))
		})
	}
}

func TestTimeout(t *testing.T) {
	client := NewHTTPClient(WithTimeout(time.Second))
	assert.Equal(t, time.Second, client.Timeout)
}
