package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/unclebandit/campaign-mailer/internal/app"
	"github.com/unclebandit/campaign-mailer/internal/config"
	"github.com/unclebandit/campaign-mailer/internal/db"
	"github.com/unclebandit/campaign-mailer/internal/service"
)

// Runner holds what every command needs.
type Runner struct {
	Log zerolog.Logger
	Out io.Writer

	// load and open are replaced in tests.
	load func() (*config.Config, error)
	open func(ctx context.Context, cfg *config.Config) (*app.App, error)
}

// app builds the service against the database named by --database-url.
// Without one it would run against an empty in-memory store.
func (r *Runner) app(ctx context.Context, cmd *cli.Command) (*app.App, error) {
	dsn := cmd.String("database-url")
	if dsn == "" {
		return nil, fmt.Errorf("%s: --database-url or DATABASE_URL is required", cmd.Name)
	}

	load := r.load
	if load == nil {
		load = config.Load
	}
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	cfg.DatabaseURL = dsn

	if cmd.Bool("continue") && cfg.DispatchDriver == config.DispatchMemory {
		return nil, fmt.Errorf("--continue needs DISPATCH_DRIVER=%s or %s; the in-memory queue has no consumer in this process",
			config.DispatchAMQP, config.DispatchHTTP)
	}

	if r.open != nil {
		return r.open(ctx, cfg)
	}
	return app.New(ctx, cfg, r.Log, app.Options{})
}

func (r *Runner) print(v any) error {
	enc := json.NewEncoder(r.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (r *Runner) Migrate(ctx context.Context, cmd *cli.Command) error {
	conn, err := db.Open(ctx, cmd.String("database-url"))
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := db.Migrate(ctx, conn); err != nil {
		return err
	}
	r.Log.Info().Msg("schema applied")
	return nil
}

func (r *Runner) Seed(ctx context.Context, cmd *cli.Command) error {
	files := cmd.Args().Slice()
	if len(files) == 0 {
		return fmt.Errorf("seed: at least one SQL file is required")
	}
	conn, err := db.Open(ctx, cmd.String("database-url"))
	if err != nil {
		return err
	}
	defer conn.Close()

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("execute %s: %w", file, err)
		}
		r.Log.Info().Str("file", file).Msg("seeded")
	}
	return nil
}

func (r *Runner) Process(ctx context.Context, cmd *cli.Command) error {
	a, err := r.app(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	id := cmd.String("campaign")
	var result *service.BatchResult
	if cmd.Bool("continue") {
		result, err = a.Processor.Run(ctx, id)
	} else {
		result, err = runBudgeted(ctx, a.Processor, id)
	}
	if err != nil {
		return err
	}
	return r.print(result)
}

// Drain runs invocations back to back without dispatching continuations.
func (r *Runner) Drain(ctx context.Context, cmd *cli.Command) error {
	a, err := r.app(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	id := cmd.String("campaign")
	total := service.BatchResult{}
	for {
		res, err := runBudgeted(ctx, a.Processor, id)
		if err != nil {
			return err
		}
		total.Processed += res.Processed
		total.Sent += res.Sent
		total.Failed += res.Failed
		r.Log.Info().Int("processed", res.Processed).Bool("has_more", res.HasMore).Msg("batch done")
		if !res.HasMore || res.Processed == 0 {
			total.HasMore = res.HasMore
			break
		}
	}
	return r.print(total)
}

func (r *Runner) Stats(ctx context.Context, cmd *cli.Command) error {
	a, err := r.app(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	details, err := a.Service.GetCampaignDetailsWithStats(ctx, cmd.String("campaign"))
	if err != nil {
		return err
	}
	return r.print(details)
}

func (r *Runner) Sweep(ctx context.Context, cmd *cli.Command) error {
	a, err := r.app(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Sweeper.Sweep(ctx)
	if err != nil {
		return err
	}
	return r.print(res)
}

func runBudgeted(ctx context.Context, p *service.Processor, id string) (*service.BatchResult, error) {
	if p.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Budget)
		defer cancel()
	}
	return p.Worker.ProcessBatch(ctx, id)
}
