package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/raido/internal"
	pkgconfig "github.com/starford/raido/pkg/config"
)

func buildConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if v := cmd.String("redash-url"); v != "" {
		cfg.Redash.URL = v
	}
	if v := cmd.String("api-key"); v != "" {
		cfg.Redash.APIKey = v
	}
	if v := cmd.String("data-source-name"); v != "" {
		cfg.Redash.DataSource = v
	}
	if v := cmd.String("dir"); v != "" {
		cfg.Sync.Dir = v
	}
	if v := cmd.String("log-level"); v != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", v, err)
		}
		cfg.App.LogLevel = level
	}
	return cfg, nil
}

func runFetch(ctx context.Context, cmd *cli.Command) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	return internal.Fetch(ctx, internal.WithConfig(cfg))
}

func runPush(ctx context.Context, cmd *cli.Command) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	return internal.Push(ctx, internal.WithConfig(cfg))
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "redash-url",
			Usage:   "Base URL of the Redash instance, e.g. http://localhost:5000/",
			Sources: cli.EnvVars("REDASH_URL"),
		},
		&cli.StringFlag{
			Name:    "api-key",
			Usage:   "User API key",
			Sources: cli.EnvVars("REDASH_API_KEY"),
		},
		&cli.StringFlag{
			Name:  "dir",
			Usage: "Directory holding the queries/ tree",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level (DEBUG, INFO, WARN, ERROR)",
		},
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to optional config file",
			DefaultText: "raido.yaml",
			Value:       "raido.yaml",
			Sources:     cli.EnvVars("RAIDO_CONFIG_FILE"),
		},
	}
}

func main() {
	cmd := &cli.Command{
		Name:  "raido",
		Usage: "Version control for Redash queries: fetch them into plain files, push them back",
		Commands: []*cli.Command{
			{
				Name:   "fetch",
				Usage:  "Download all queries from Redash into the local queries/ tree",
				Action: runFetch,
				Flags:  commonFlags(),
			},
			{
				Name:   "push",
				Usage:  "Upload local queries of one data source's type to Redash",
				Action: runPush,
				Flags: append(commonFlags(),
					&cli.StringFlag{
						Name:    "data-source-name",
						Usage:   "Data source to attach pushed queries to; optional when only one exists",
						Sources: cli.EnvVars("REDASH_DATA_SOURCE"),
					},
				),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
