// Command prenews runs the prediction-market ingestion pipeline. Without
// arguments it starts the configured mode (worker, server or full); the run
// subcommand executes one job and prints its result.
//
//	prenews [-config prenews.toml] [-mode full]
//	prenews [-format json|table] run <discovery|pricing|enrich|feeds|archive> [limit]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/alanyoungcy/prenews/internal/app"
	"github.com/alanyoungcy/prenews/internal/config"
	"github.com/alanyoungcy/prenews/internal/pipeline"
)

var jobNames = []string{pipeline.JobDiscovery, pipeline.JobPricing, pipeline.JobEnrich, pipeline.JobFeeds, pipeline.JobArchive}

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to TOML configuration file (optional)")
	mode := flag.String("mode", "", "override the configured mode: worker, server or full")
	format := flag.String("format", "json", "result format for run: json or table")
	flag.Usage = usage
	flag.Parse()

	// Usage errors are reported before any configuration is read.
	job, err := parseRunArgs(flag.Args(), *format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errBadInvocation) {
			usage()
		}
		return exitUsage
	}

	// Setup structured JSON logger.
	logger := newLogger("info")
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		return exitError
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	logger = newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return exitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, logger)
	defer application.Close()

	if job != nil {
		return runJob(ctx, application, *job)
	}

	logger.Info("prenews starting", slog.String("mode", cfg.Mode))
	if err := application.Run(ctx); err != nil {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return exitError
	}
	logger.Info("prenews stopped")
	return exitOK
}

// runArgs is a validated run subcommand.
type runArgs struct {
	name   string
	limit  string
	format string
}

var errBadInvocation = errors.New("expected: run <job> [limit]")

// parseRunArgs validates the positional arguments. It returns nil, nil when
// no subcommand is given.
func parseRunArgs(args []string, format string) (*runArgs, error) {
	if len(args) == 0 {
		return nil, nil
	}
	if args[0] != "run" || len(args) < 2 || len(args) > 3 {
		return nil, errBadInvocation
	}
	if format != "json" && format != "table" {
		return nil, fmt.Errorf("%w: unknown format %q", pipeline.ErrUsage, format)
	}
	ra := &runArgs{name: args[1], format: format}
	if len(args) == 3 {
		ra.limit = args[2]
	}
	if !slices.Contains(jobNames, ra.name) {
		return nil, fmt.Errorf("%w: unknown job %q (want one of %s)", pipeline.ErrUsage, ra.name, strings.Join(jobNames, ", "))
	}
	if _, err := pipeline.ParseLimit(ra.limit); err != nil {
		return nil, err
	}
	return ra, nil
}

func runJob(ctx context.Context, application *app.App, job runArgs) int {
	name, limit, format := job.name, job.limit, job.format
	result, err := application.RunJob(ctx, name, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		if errors.Is(err, pipeline.ErrUsage) {
			return exitUsage
		}
		return exitError
	}

	if err := writeResult(os.Stdout, result, format); err != nil {
		fmt.Fprintf(os.Stderr, "print result: %v\n", err)
		return exitError
	}
	return exitOK
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `usage:
  prenews [flags]                       start the configured mode
  prenews [flags] run <job> [limit]     run one job (%s)

flags:
`, strings.Join(jobNames, ", "))
	flag.PrintDefaults()
}
