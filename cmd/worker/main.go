// cmd/worker/main.go consumes batch jobs from RabbitMQ and runs the sweeper.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/unclebandit/campaign-mailer/internal/app"
	"github.com/unclebandit/campaign-mailer/internal/config"
	"github.com/unclebandit/campaign-mailer/internal/logging"
	"github.com/unclebandit/campaign-mailer/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("info", "console", os.Stderr)
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout).With().Str("service", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("worker stopped")
	}
}

// checkDriver rejects dispatch drivers that have no shared broker.
func checkDriver(cfg *config.Config) error {
	if cfg.DispatchDriver != config.DispatchAMQP {
		return fmt.Errorf("worker requires DISPATCH_DRIVER=%s, got %q", config.DispatchAMQP, cfg.DispatchDriver)
	}
	return nil
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	if err := checkDriver(cfg); err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.StartConsumer(); err != nil {
		return err
	}
	if err := a.StartSweeper(ctx); err != nil {
		return err
	}

	var closed <-chan *amqp.Error
	if q, ok := a.Queue.(*queue.AMQPQueue); ok {
		closed = q.NotifyClose()
	}

	log.Info().Str("queue", cfg.AMQPQueue).Msg("worker running, waiting for jobs")
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		return a.Shutdown(context.Background())
	case err := <-closed:
		return fmt.Errorf("broker connection closed: %v", err)
	}
}
