package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Rorqualx/sdk-debugger-go/internal/config"
	"github.com/Rorqualx/sdk-debugger-go/internal/handlers"
	"github.com/Rorqualx/sdk-debugger-go/internal/metrics"
	"github.com/Rorqualx/sdk-debugger-go/pkg/version"
)

const shutdownTimeout = 10 * time.Second

// serve runs the API server, and the metrics server when it has its own
// port, until ctx is done. A listener that fails to start ends the group.
func serve(ctx context.Context, cfg *config.Config, ov handlers.Overlay) error {
	g, ctx := errgroup.WithContext(ctx)

	if cfg.PrometheusEnabled {
		metrics.SetBuildInfo(version.Full(), version.GoVersion())
	}

	servers := []*http.Server{{
		Addr:        net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		Handler:     handlers.NewRouter(handlers.New(ov, cfg), cfg),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: the event stream is long lived. JSON routes carry
		// their own timeout middleware.
		IdleTimeout: 120 * time.Second,
	}}

	if cfg.PrometheusEnabled && cfg.PrometheusPort != 0 {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("GET /metrics", metrics.Handler())
		servers = append(servers, &http.Server{
			Addr:         net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.PrometheusPort)),
			Handler:      metricsMux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		})
	}

	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			log.Info().Str("address", srv.Addr).Msg("HTTP server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server on %s failed: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Str("address", srv.Addr).Msg("Server shutdown error")
			}
		}
		return nil
	})

	return g.Wait()
}
