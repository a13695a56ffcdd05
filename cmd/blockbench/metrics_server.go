package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odvcencio/blockbench/pkg/logging"
)

const metricsShutdownTimeout = 5 * time.Second

func newMetricsRouter() http.Handler {
	router := chi.NewRouter()
	router.Get("/metrics", promhttp.Handler().ServeHTTP)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return router
}

type metricsServer struct {
	srv    *http.Server
	addr   string
	logger *logging.Logger
}

// startMetricsServer listens on addr before returning so a bad address fails
// the run up front.
func startMetricsServer(addr string, logger *logging.Logger) (*metricsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener on %s: %w", addr, err)
	}

	ms := &metricsServer{
		srv: &http.Server{
			Handler:           newMetricsRouter(),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       2 * time.Minute,
			MaxHeaderBytes:    1 << 20,
		},
		addr:   ln.Addr().String(),
		logger: logger,
	}
	_ = logger.Info(logging.CategoryMetrics, "metrics_listen", "serving metrics on "+ms.addr, nil)

	go func() {
		if err := ms.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = logger.Error(logging.CategoryMetrics, "metrics_serve_failed", err.Error(), nil)
		}
	}()
	return ms, nil
}

// Addr returns the bound address, with the real port when addr used :0.
func (m *metricsServer) Addr() string {
	return m.addr
}

func (m *metricsServer) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	if err := m.srv.Shutdown(ctx); err != nil {
		_ = m.logger.Warn(logging.CategoryMetrics, "metrics_shutdown_failed", err.Error(), nil)
	}
}
