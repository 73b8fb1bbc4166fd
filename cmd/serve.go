package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/netsight/reconciled/internal/quality"
	"github.com/netsight/reconciled/internal/resolver"
	"github.com/netsight/reconciled/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the reconciliation HTTP server",
	Long:  "Serves the ingest and admin API and runs the background resolution sweep and quality evaluator.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Sweep.Enabled {
			sweeper := resolver.NewSweeper(env.engine, env.store, cfg.Sweep)
			go sweeper.Run(ctx)
		}
		if cfg.Quality.Enabled {
			calc := quality.NewCalculator(env.store, env.catalog, cfg.Quality)
			go quality.NewEvaluator(calc, cfg.Quality).Run(ctx)
		}

		api := server.New(env.store, env.detector, env.engine, env.registry, env.ledger)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go awaitShutdown(ctx, srv, 10*time.Second)

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// awaitShutdown blocks until ctx is cancelled, then drains in-flight
// requests. The drain gets its own deadline: ctx is already cancelled at
// that point and would abort the graceful shutdown immediately.
func awaitShutdown(ctx context.Context, srv *http.Server, drainTimeout time.Duration) {
	<-ctx.Done()
	zap.L().Info("shutting down server")
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	srv.Shutdown(drainCtx) //nolint:errcheck
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
