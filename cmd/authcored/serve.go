package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kestrelhq/authcore"
	promexport "github.com/kestrelhq/authcore/metrics/export/prometheus"
	"github.com/kestrelhq/authcore/postgres"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the authentication HTTP API. Users and grants live in PostgreSQL;
tokens live in Redis or PostgreSQL depending on token_store.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := loadConfig(opts.configFile, cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting authcored", "config", cfg.String())

	d, err := openDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	exporter, err := promexport.NewExporter(cfg.Auth.Metrics.Namespace)
	if err != nil {
		return oops.Code("METRICS_INIT_FAILED").Wrap(err)
	}

	users := postgres.NewUserStore(d.pool)
	b := authcore.New().
		WithConfig(cfg.Auth).
		WithRedis(d.redis).
		WithUserStore(users).
		WithGrantStore(postgres.NewGrantStore(d.pool)).
		WithLogger(logger).
		WithMetricsRegisterer(exporter.Registry())
	if cfg.TokenStore == tokenStorePostgres {
		b.WithTokenStore(postgres.NewTokenStore(d.pool, nil))
	}
	if cfg.Auth.Audit.Enabled {
		b.WithAuditSink(authcore.NewSlogSink(logger.With("component", "audit")))
	}
	engine, err := b.Build()
	if err != nil {
		return oops.Code("ENGINE_INIT_FAILED").Wrap(err)
	}
	defer engine.Close()

	if err := exporter.WatchAudit(engine); err != nil {
		return oops.Code("METRICS_INIT_FAILED").Wrap(err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           newRouter(engine, users, exporter.Handler(), cfg.HTTP.MetricsPath, logger),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	return serveUntilDone(ctx, srv, cfg.HTTP, logger)
}

func serveUntilDone(ctx context.Context, srv *http.Server, cfg httpConfig, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return oops.Code("HTTP_SERVE_FAILED").With("addr", srv.Addr).Wrap(err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
