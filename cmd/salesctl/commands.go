package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/maauso/sales-aggregator-api/internal/auth"
	"github.com/maauso/sales-aggregator-api/internal/sales"
)

var version = "dev"

func cmd() *cli.Command {
	return &cli.Command{
		Name:    "salesctl",
		Usage:   "Sales aggregator operator tool",
		Version: version,
		Commands: []*cli.Command{
			tokenCmd(),
			aggregateCmd(),
		},
	}
}

func tokenCmd() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Print the authentication token for the current hour",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "secret",
				Aliases: []string{"s"},
				Usage:   "Shared secret `KEY`",
				Value:   auth.DefaultSecretKey,
				Sources: cli.EnvVars("AUTH_SECRET_KEY"),
			},
			&cli.StringFlag{
				Name:      "at",
				Usage:     "Compute the token for the hour containing `TIME` (RFC 3339)",
				Validator: validateTimestamp,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			at := time.Now()
			if v := cmd.String("at"); v != "" {
				at, _ = time.Parse(time.RFC3339, v)
			}

			authn := auth.New(true, cmd.String("secret"))
			_, err := fmt.Fprintln(cmd.Root().Writer, authn.TokenAt(at))
			return err
		},
	}
}

func aggregateCmd() *cli.Command {
	return &cli.Command{
		Name:  "aggregate",
		Usage: "Aggregate a local sales CSV and write the department report",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "input",
				Aliases:  []string{"i"},
				Usage:    "Read sales rows from `FILE`",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write the report to `FILE` (- for stdout)",
				Value:   "-",
			},
			&cli.IntFlag{
				Name:  "chunk-size",
				Usage: "Read the input in chunks of `BYTES`",
				Value: sales.DefaultChunkSize,
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log every skipped row",
			},
		},
		Action: runAggregate,
	}
}

func runAggregate(ctx context.Context, cmd *cli.Command) error {
	level := slog.LevelWarn
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.Root().ErrWriter, &slog.HandlerOptions{Level: level}))

	in, err := os.Open(cmd.String("input"))
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer func() { _ = in.Close() }()

	stream := sales.NewReaderStream(in, int(cmd.Int("chunk-size")), in.Name(), "")
	result, err := sales.NewAggregator(logger).Aggregate(ctx, stream)
	if err != nil {
		return fmt.Errorf("aggregate %s: %w", in.Name(), err)
	}

	var out io.Writer = cmd.Root().Writer
	if path := cmd.String("output"); path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}
	if err := sales.WriteReport(out, result); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	return printSummary(cmd.Root().ErrWriter, result)
}

func printSummary(w io.Writer, result *sales.Result) error {
	_, err := fmt.Fprintf(w, "rows processed: %d\nrows skipped: %d\ndepartments: %d\n",
		result.RowsProcessed, result.RowsSkipped, result.DepartmentsCount())
	if err != nil {
		return err
	}

	reasons := make([]sales.SkipReason, 0, len(result.Skipped))
	for r := range result.Skipped {
		reasons = append(reasons, r)
	}
	slices.Sort(reasons)
	for _, r := range reasons {
		if _, err := fmt.Fprintf(w, "  %s: %d\n", r, result.Skipped[r]); err != nil {
			return err
		}
	}
	return nil
}

func validateTimestamp(v string) error {
	if _, err := time.Parse(time.RFC3339, v); err != nil {
		return errors.New("expected an RFC 3339 timestamp such as 2024-01-01T10:00:00Z")
	}
	return nil
}
