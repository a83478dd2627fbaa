// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/campaign-mailer/internal/app"
	"github.com/unclebandit/campaign-mailer/internal/config"
	"github.com/unclebandit/campaign-mailer/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("info", "console", os.Stderr)
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout).With().Str("service", "server").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	// With the AMQP driver, batches run in cmd/worker and the sweeper lives there.
	if cfg.DispatchDriver != config.DispatchAMQP {
		if cfg.DispatchDriver == config.DispatchMemory {
			if err := a.StartConsumer(); err != nil {
				return err
			}
		}
		if err := a.StartSweeper(ctx); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("dispatch", cfg.DispatchDriver).Msg("server running")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	// In-flight batches may run for the whole invocation budget.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.InvocationBudget+5*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	if drainErr := a.Shutdown(context.Background()); drainErr != nil {
		log.Error().Err(drainErr).Msg("queue drain incomplete")
	}
	return err
}
