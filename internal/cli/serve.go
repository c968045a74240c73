package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"bitespeed/internal/config"
	"bitespeed/internal/database"
	"bitespeed/internal/handlers"
	"bitespeed/internal/metrics"
	"bitespeed/internal/ratelimit"
	"bitespeed/internal/service"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long:  "Load configuration, open the database, and serve POST /identify until interrupted.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	contactStore := database.NewContactStore(e.db)
	svc := service.NewReconciliationService(contactStore, e.logger, m)

	g, gctx := errgroup.WithContext(ctx)

	limiter, err := newLimiter(gctx, e, g)
	if err != nil {
		return err
	}

	router := handlers.NewRouter(handlers.RouterDeps{
		Service:    svc,
		Store:      contactStore,
		Limiter:    limiter,
		Metrics:    m,
		Gatherer:   reg,
		Logger:     e.logger,
		Production: e.cfg.Production(),
		TrustProxy: e.cfg.Server.TrustProxy,
		Version:    Version,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", e.cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: e.cfg.Server.ReadHeaderTimeout,
	}

	g.Go(func() error {
		e.logger.Infof("server starting on %s", srv.Addr)
		e.logger.Infof("POST http://localhost%s/identify", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		e.logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), e.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		e.logger.Info("server closed")
		return nil
	})

	return g.Wait()
}

// newLimiter builds the configured rate limiter, or nil when disabled. The
// memory backend gets a sweeper goroutine in g.
func newLimiter(ctx context.Context, e *env, g *errgroup.Group) (ratelimit.Limiter, error) {
	rl := e.cfg.RateLimit
	if !rl.Enabled {
		e.logger.Info("rate limiting disabled")
		return nil, nil
	}

	switch rl.Backend {
	case config.RateLimitBackendRedis:
		client, err := ratelimit.NewRedisClient(ctx, e.cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		g.Go(func() error {
			<-ctx.Done()
			return client.Close()
		})
		return ratelimit.NewRedisLimiter(client, rl.Limit, rl.Window), nil
	default:
		limiter := ratelimit.NewMemoryLimiter(rl.Limit, rl.Window)
		g.Go(func() error {
			ticker := time.NewTicker(rl.Window)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					limiter.Sweep()
				}
			}
		})
		return limiter, nil
	}
}
