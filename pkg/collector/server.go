// Package collector is a small collection endpoint that accepts the batches
// produced by pkg/transport. It is used for local development (`regard
// collect`) and as a real server in tests.
package collector

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/withregard/regard-go/pkg/event"
	"github.com/withregard/regard-go/pkg/transport"
)

// Response is returned for every accepted batch.
type Response struct {
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
}

type Server struct {
	e *echo.Echo

	mu       sync.Mutex
	received map[event.Key][]event.Event
	seen     map[string]struct{}
	batches  int
	failures int
	apiKey   string
	header   string
	onBatch  func(event.Key, []event.Event)
}

type Option func(*Server)

// WithAPIKey rejects batches that do not carry key in header.
func WithAPIKey(header, key string) Option {
	return func(s *Server) {
		s.header = header
		s.apiKey = key
	}
}

// WithReceiver calls fn with the newly accepted events of every batch.
func WithReceiver(fn func(key event.Key, accepted []event.Event)) Option {
	return func(s *Server) {
		s.onBatch = fn
	}
}

// WithRequestLogging logs every request through slog.
func WithRequestLogging() Option {
	return func(s *Server) {
		s.e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			LogStatus:  true,
			LogURI:     true,
			LogMethod:  true,
			LogLatency: true,
			LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
				slog.Info("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
				return nil
			},
		}))
	}
}

func New(opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		e:        e,
		received: make(map[event.Key][]event.Event),
		seen:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	group := e.Group("/track/v1")
	// Receive a batch of events
	group.POST("/:organization/:product/events", s.postEvents)
	// List the events received so far
	group.GET("/:organization/:product/events", s.getEvents)

	// Health check endpoint
	e.GET("/ping", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	return s
}

// Handler exposes the server for httptest.
func (s *Server) Handler() http.Handler {
	return s.e
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// FailNext makes the next n batches fail with 503.
func (s *Server) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

// Events returns the de-duplicated events received for key, in arrival order.
func (s *Server) Events(key event.Key) []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.received[key])
}

// Batches returns the number of batch requests received, including rejected
// ones.
func (s *Server) Batches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}

func keyOf(c echo.Context) (event.Key, error) {
	key := event.Key{Organization: c.Param("organization"), Product: c.Param("product")}
	if err := key.Validate(); err != nil {
		return key, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return key, nil
}

func (s *Server) postEvents(c echo.Context) error {
	key, err := keyOf(c)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.batches++
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return echo.NewHTTPError(http.StatusServiceUnavailable, "collector unavailable")
	}
	s.mu.Unlock()

	if s.apiKey != "" && c.Request().Header.Get(s.header) != s.apiKey {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
	}

	var batch transport.Batch
	if err := c.Bind(&batch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid batch: "+err.Error())
	}
	for _, e := range batch.Records {
		if err := e.Validate(); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	var (
		resp     Response
		accepted []event.Event
	)
	s.mu.Lock()
	for _, e := range batch.Records {
		if _, dup := s.seen[e.ID]; dup {
			resp.Duplicates++
			continue
		}
		s.seen[e.ID] = struct{}{}
		s.received[key] = append(s.received[key], e)
		accepted = append(accepted, e)
	}
	s.mu.Unlock()
	resp.Accepted = len(accepted)

	if s.onBatch != nil && len(accepted) > 0 {
		s.onBatch(key, accepted)
	}

	return c.JSON(http.StatusOK, resp)
}

func (s *Server) getEvents(c echo.Context) error {
	key, err := keyOf(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, transport.Batch{Records: s.Events(key)})
}
