package httpclient

import (
	"net/http"
	"time"

	"github.com/withregard/regard-go/pkg/useragent"
)

type options struct {
	timeout   time.Duration
	userAgent string
	rt        http.RoundTripper
}

type Opt func(*options)

// WithTimeout bounds every request made by the client.
func WithTimeout(d time.Duration) Opt {
	return func(o *options) {
		o.timeout = d
	}
}

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(agent string) Opt {
	return func(o *options) {
		o.userAgent = agent
	}
}

// WithTransport replaces the underlying round tripper.
func WithTransport(rt http.RoundTripper) Opt {
	return func(o *options) {
		o.rt = rt
	}
}

type userAgentTransport struct {
	agent string
	rt    http.RoundTripper
}

func (u *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r2 := req.Clone(req.Context())
	r2.Header.Set("User-Agent", u.agent)
	return u.rt.RoundTrip(r2)
}

// NewHTTPClient returns a client that stamps the regard User-Agent on each
// request.
func NewHTTPClient(opts ...Opt) *http.Client {
	o := options{
		timeout:   30 * time.Second,
		userAgent: useragent.Header,
		rt:        http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &http.Client{
		Timeout: o.timeout,
		Transport: &userAgentTransport{
			agent: o.userAgent,
			rt:    o.rt,
		},
	}
}
