// Package main provides the smelterd entrypoint.
//
// One binary hosts every stage; the subcommand picks which one this
// process runs. Each stage is a push endpoint plus health and metrics:
//
//	smelterd <stage> [options]
//	smelterd dev [options]
//
// Exit codes:
//   - 0: clean shutdown
//   - 1: configuration or backend error
//   - 2: port binding failure
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/smelter/config"
	"github.com/pithecene-io/smelter/log"
	"github.com/pithecene-io/smelter/metrics"
	"github.com/pithecene-io/smelter/pipeline"
	"github.com/pithecene-io/smelter/runtime"
	"github.com/pithecene-io/smelter/types"
)

const (
	exitSuccess = 0
	exitConfig  = 1
	exitBind    = 2
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "smelterd",
		Usage:          "Invoice extraction pipeline stage host",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			stageCommand(types.StageNormalizer, "Render uploaded documents into one PNG per page"),
			stageCommand(types.StageClassifier, "Partition page images by vendor"),
			stageCommand(types.StageExtractor, "Extract structured invoices with the vision model"),
			stageCommand(types.StageLoader, "Land validated extractions in the warehouse"),
			stageCommand(types.StageDLQ, "Record exhausted deliveries from the dead-letter topics"),
			devCommand(),
			versionCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already handled cli.ExitCoder errors; this
		// branch covers errors that were not wrapped.
		os.Exit(exitConfig)
	}
}

// exitErrHandler preserves exit codes from cli.Exit().
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		// cli.Exit("", N).Error() returns "exit status N"; skip those.
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(exitConfig)
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "Path to the YAML configuration file",
			EnvVars: []string{"SMELTER_CONFIG"},
		},
		&cli.IntFlag{
			Name:    "port",
			Usage:   "HTTP port for push, health, and metrics",
			EnvVars: []string{"SMELTER_PORT", "PORT"},
		},
		&cli.StringFlag{
			Name:    "project",
			Usage:   "Cloud project for the gcs, pubsub, and bigquery backends",
			EnvVars: []string{"SMELTER_PROJECT"},
		},
		&cli.StringFlag{
			Name:    "model",
			Usage:   "Extraction model identifier",
			EnvVars: []string{"SMELTER_MODEL"},
		},
	}
}

func stageCommand(stage types.Stage, usage string) *cli.Command {
	return &cli.Command{
		Name:  stage.String(),
		Usage: usage,
		Flags: commonFlags(),
		Action: func(c *cli.Context) error {
			return runStage(c, stage)
		},
	}
}

// loadConfig resolves the configuration for one invocation: YAML file if
// given, then flag and environment overrides, then defaults.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := &config.Config{}
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if port := c.Int("port"); port != 0 {
		cfg.Runtime.Port = port
	}
	if project := c.String("project"); project != "" {
		cfg.Project = project
	}
	if model := c.String("model"); model != "" {
		cfg.LLM.Model = model
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runStage(c *cli.Context, stage types.Stage) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitConfig)
	}

	logger := log.New(stage.String()).With(map[string]any{"region": cfg.Region})
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	be, cleanup, err := pipeline.Open(ctx, cfg, stage)
	if err != nil {
		return cli.Exit(fmt.Sprintf("opening backends: %v", err), exitConfig)
	}
	defer cleanup()

	registry := prometheus.NewRegistry()
	be.Metrics = metrics.New(registry)

	host, err := pipeline.NewHost(stage, cfg, be, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("building stage host: %v", err), exitConfig)
	}

	server := runtime.NewServer(cfg.Runtime.Port, host, registry, logger)
	if err := server.Listen(); err != nil {
		return cli.Exit(err.Error(), exitBind)
	}
	if err := server.Run(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("stage host failed: %v", err), exitConfig)
	}
	return cli.Exit("", exitSuccess)
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(_ *cli.Context) error {
			fmt.Printf("smelterd %s (commit: %s)\n", types.Version, commit)
			return nil
		},
	}
}
