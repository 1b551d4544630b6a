package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/MrWong99/voicelink/internal/health"
	"github.com/MrWong99/voicelink/internal/observe"
)

// diagnosticsHandler routes /metrics, /healthz and /readyz through the
// observability middleware.
func diagnosticsHandler(p *observe.Provider, m *observe.Metrics, checks *health.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", p.MetricsHandler())
	checks.Register(mux)
	return observe.Middleware(m)(mux)
}

// serveDiagnostics listens on addr until ctx is cancelled, then shuts the
// server down gracefully.
func serveDiagnostics(ctx context.Context, addr string, p *observe.Provider, m *observe.Metrics, checks *health.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("diagnostics: listen: %w", err)
	}
	srv := &http.Server{
		Handler:           diagnosticsHandler(p, m, checks),
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("diagnostics listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return fmt.Errorf("diagnostics: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("diagnostics: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("diagnostics: serve: %w", err)
	}
	return nil
}
