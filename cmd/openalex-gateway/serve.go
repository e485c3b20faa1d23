package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/openalex-client/pkg/logging"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `serve starts the HTTP API:

  GET    /health, /ready, /metrics
  GET    /v1/works?year_min&year_max&limit&topics&institution&q
  POST   /v1/authors          {"work_ids": [...]}
  POST   /v1/collaborations   {"author_ids": [...]}
  GET    /v1/networks/collaboration?...&min_collaborations
  GET    /v1/networks/citation?...
  DELETE /v1/cache?pattern=`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default :8080)")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	logger := logging.NewLogger("gateway")

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.ready(ctx); err != nil {
		return fmt.Errorf("connect to redis at %s: %w", cfg.Cache.RedisAddr, err)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newHandler(a.service, a.ready),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Server.Addr).
			Str("cache_backend", cfg.Cache.Backend).
			Float64("max_rps", cfg.RateLimit.MaxRPS).
			Str("version", version).
			Msg("Starting OpenAlex gateway")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
