// cmd/campaignctl is the operator CLI: schema, seeding and manual batch control.
package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/unclebandit/campaign-mailer/internal/logging"
)

func main() {
	log := logging.New(os.Getenv("LOG_LEVEL"), "console", os.Stderr)
	r := &Runner{Log: log, Out: os.Stdout}

	cmd := &cli.Command{
		Name:     "campaignctl",
		Usage:    "Operate email campaigns",
		Commands: r.register(),
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("campaignctl failed")
	}
}
