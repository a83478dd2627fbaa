package main

import "github.com/urfave/cli/v3"

func databaseFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "database-url",
		Usage:    "Postgres connection string",
		Sources:  cli.EnvVars("DATABASE_URL"),
		Required: true,
	}
}

func campaignFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "campaign",
		Aliases:  []string{"c"},
		Usage:    "Campaign ID",
		Required: true,
	}
}

func (r *Runner) register() []*cli.Command {
	return []*cli.Command{
		{
			Name:   "migrate",
			Usage:  "Apply the database schema",
			Flags:  []cli.Flag{databaseFlag()},
			Action: r.Migrate,
		},
		{
			Name:      "seed",
			Usage:     "Execute SQL seed files in order",
			ArgsUsage: "FILE...",
			Flags:     []cli.Flag{databaseFlag()},
			Action:    r.Seed,
		},
		{
			Name:  "process",
			Usage: "Run one batch invocation for a campaign",
			Flags: []cli.Flag{
				databaseFlag(),
				campaignFlag(),
				&cli.BoolFlag{
					Name:  "continue",
					Usage: "Dispatch the next invocation when rows remain",
				},
			},
			Action: r.Process,
		},
		{
			Name:   "drain",
			Usage:  "Run batches in this process until the campaign queue is empty",
			Flags:  []cli.Flag{databaseFlag(), campaignFlag()},
			Action: r.Drain,
		},
		{
			Name:   "stats",
			Usage:  "Show a campaign with per-status recipient counts",
			Flags:  []cli.Flag{databaseFlag(), campaignFlag()},
			Action: r.Stats,
		},
		{
			Name:   "sweep",
			Usage:  "Expire stale claims and re-dispatch stalled campaigns once",
			Flags:  []cli.Flag{databaseFlag()},
			Action: r.Sweep,
		},
	}
}
