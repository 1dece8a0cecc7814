package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/smelter/bus"
	"github.com/pithecene-io/smelter/config"
	"github.com/pithecene-io/smelter/log"
	"github.com/pithecene-io/smelter/metrics"
	"github.com/pithecene-io/smelter/pipeline"
	"github.com/pithecene-io/smelter/runtime"
	"github.com/pithecene-io/smelter/types"
)

// devStages is the port order of the dev runner: base port for the
// normalizer, +1 per following stage.
var devStages = []types.Stage{
	types.StageNormalizer,
	types.StageClassifier,
	types.StageExtractor,
	types.StageLoader,
	types.StageDLQ,
}

func devCommand() *cli.Command {
	return &cli.Command{
		Name:  "dev",
		Usage: "Run every stage in one process against local backends",
		Flags: commonFlags(),
		Action: devAction,
	}
}

// devAction hosts all five stages on consecutive ports, wired together
// by the in-process broker. Unset backends fall back to memory so the
// pipeline runs with no cloud dependencies; only the extractor's model
// client talks to the outside.
func devAction(c *cli.Context) error {
	cfg := &config.Config{}
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitConfig)
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
	applyDevDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitConfig)
	}

	logger := log.New("dev")
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	be, cleanup, err := pipeline.Open(ctx, cfg, devStages...)
	if err != nil {
		return cli.Exit(fmt.Sprintf("opening backends: %v", err), exitConfig)
	}
	defer cleanup()

	registry := prometheus.NewRegistry()
	be.Metrics = metrics.New(registry)

	servers := make([]*runtime.Server, len(devStages))
	for i, stage := range devStages {
		host, err := pipeline.NewHost(stage, cfg, be, logger.With(map[string]any{"stage": stage.String()}))
		if err != nil {
			return cli.Exit(fmt.Sprintf("building %s host: %v", stage, err), exitConfig)
		}
		servers[i] = runtime.NewServer(cfg.Runtime.Port+i, host, registry, logger)
		if err := servers[i].Listen(); err != nil {
			return cli.Exit(err.Error(), exitBind)
		}
	}

	if broker, ok := be.Bus.(*bus.Broker); ok {
		wireBroker(broker, cfg)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, server := range servers {
		server := server
		g.Go(func() error { return server.Run(ctx) })
	}
	if err := g.Wait(); err != nil {
		return cli.Exit(fmt.Sprintf("stage host failed: %v", err), exitConfig)
	}
	return cli.Exit("", exitSuccess)
}

// applyDevDefaults fills what a zero config needs to run locally.
func applyDevDefaults(cfg *config.Config) {
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Bus.Backend == "" {
		cfg.Bus.Backend = "local"
	}
	if cfg.Warehouse.Backend == "" {
		cfg.Warehouse.Backend = "memory"
	}
	defaults := map[*string]string{
		&cfg.Buckets.Input:      "smelter-input",
		&cfg.Buckets.Processed:  "smelter-processed",
		&cfg.Buckets.Classified: "smelter-classified",
		&cfg.Buckets.Extracted:  "smelter-extracted",
		&cfg.Buckets.Archive:    "smelter-archive",
		&cfg.Buckets.Failed:     "smelter-failed",
	}
	for field, value := range defaults {
		if *field == "" {
			*field = value
		}
	}
	cfg.ApplyDefaults()
}

// wireBroker routes each stage's input topic to its push endpoint. The
// dead-letter processor consumes all four twins.
func wireBroker(broker *bus.Broker, cfg *config.Config) {
	for i, stage := range devStages {
		endpoint := fmt.Sprintf("http://127.0.0.1:%d/push", cfg.Runtime.Port+i)
		if stage == types.StageDLQ {
			for _, topic := range cfg.Topics.DLQTopics() {
				broker.Subscribe(topic, endpoint)
			}
			continue
		}
		broker.Subscribe(cfg.Topics.StageInput(stage), endpoint)
	}
}
