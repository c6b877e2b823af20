package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arena-labs/arena-gateway/internal/service"
)

// DefaultAddr is the gateway's default listen address.
const DefaultAddr = "127.0.0.1:8900"

// HTTPTransport is the inbound adapter exposing the gateway over HTTP.
type HTTPTransport struct {
	gateway   *service.GatewayService
	server    *http.Server
	addr      string
	keepalive time.Duration
	logger    *slog.Logger
	metrics   *Metrics
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithAddr sets the listen address. Default is "127.0.0.1:8900".
func WithAddr(addr string) Option {
	return func(t *HTTPTransport) {
		t.addr = addr
	}
}

// WithKeepaliveInterval sets the SSE heartbeat interval.
func WithKeepaliveInterval(d time.Duration) Option {
	return func(t *HTTPTransport) {
		t.keepalive = d
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// NewHTTPTransport creates an HTTP transport adapter around the gateway service.
func NewHTTPTransport(gateway *service.GatewayService, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		gateway:   gateway,
		addr:      DefaultAddr,
		keepalive: defaultKeepaliveInterval,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Handler builds the full route table with middleware applied.
// Exposed so tests can drive the transport through httptest.
func (t *HTTPTransport) Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	t.metrics = NewMetrics(reg, t.gateway.Sessions().Count)

	handler := NewHandler(t.gateway, t.metrics, t.keepalive)
	admin := NewAdminHandler(t.gateway.Router())

	mux := http.NewServeMux()
	mux.HandleFunc("/message", handler.handleMessage)
	mux.HandleFunc("/stream", handler.handleStream)
	mux.HandleFunc("/health", handler.handleHealth)
	mux.HandleFunc("/status", handler.handleStatus)
	mux.HandleFunc("/traffic", handler.handleTraffic)
	mux.HandleFunc("/admin/register", admin.handleRegister)
	mux.HandleFunc("/admin/unregister", admin.handleUnregister)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	// Middleware order, outermost first: metrics capture the full request
	// duration, then request id enrichment for everything inside.
	var h http.Handler = mux
	h = RequestIDMiddleware(t.logger)(h)
	h = MetricsMiddleware(t.metrics)(h)
	return h
}

// Start begins accepting HTTP connections. It blocks until the context is
// cancelled or the listener fails.
func (t *HTTPTransport) Start(ctx context.Context) error {
	t.server = &http.Server{
		Addr:              t.addr,
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Request contexts derive from the transport context so open SSE
		// streams unwind when the gateway stops, letting Shutdown drain.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		t.logger.Info("starting HTTP server", "addr", t.addr)
		if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown drains in-flight requests, including open SSE streams, before
// returning.
func (t *HTTPTransport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}

	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *HTTPTransport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}
