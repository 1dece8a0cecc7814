package pipeline

import (
	"context"
	"fmt"
	"io"

	"github.com/pithecene-io/smelter/bus"
	pubsubbus "github.com/pithecene-io/smelter/bus/pubsub"
	redisbus "github.com/pithecene-io/smelter/bus/redis"
	"github.com/pithecene-io/smelter/config"
	"github.com/pithecene-io/smelter/iox"
	"github.com/pithecene-io/smelter/llm"
	"github.com/pithecene-io/smelter/store"
	"github.com/pithecene-io/smelter/store/gcs"
	"github.com/pithecene-io/smelter/store/s3"
	"github.com/pithecene-io/smelter/types"
	"github.com/pithecene-io/smelter/warehouse"
	"github.com/pithecene-io/smelter/warehouse/bigquery"
)

// Open builds the backends the given stages need from configuration.
// Passing several stages shares one client set between them, which is how
// the dev runner keeps every stage on the same memory store. The returned
// cleanup closes every client that was opened; it is safe to call after a
// partial failure.
func Open(ctx context.Context, cfg *config.Config, stages ...types.Stage) (Backends, func(), error) {
	var be Backends
	var closers []io.Closer
	cleanup := func() {
		for _, c := range closers {
			iox.DiscardClose(c)
		}
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return be, cleanup, err
	}
	be.Store = st
	if c, ok := st.(io.Closer); ok {
		closers = append(closers, c)
	}

	b, err := openBus(ctx, cfg)
	if err != nil {
		cleanup()
		return be, func() {}, err
	}
	be.Bus = b
	if c, ok := b.(io.Closer); ok {
		closers = append(closers, c)
	}

	if hasStage(stages, types.StageLoader) {
		wh, err := openWarehouse(ctx, cfg)
		if err != nil {
			cleanup()
			return be, func() {}, err
		}
		be.Warehouse = wh
		if c, ok := wh.(io.Closer); ok {
			closers = append(closers, c)
		}
	}

	if hasStage(stages, types.StageExtractor) {
		client, err := llm.NewGemini(ctx, cfg.LLM.Model)
		if err != nil {
			cleanup()
			return be, func() {}, fmt.Errorf("opening gemini client: %w", err)
		}
		be.LLM = client
		closers = append(closers, client)
	}

	return be, cleanup, nil
}

func hasStage(stages []types.Stage, want types.Stage) bool {
	for _, s := range stages {
		if s == want {
			return true
		}
	}
	return false
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "gcs":
		st, err := gcs.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("opening gcs store: %w", err)
		}
		return st, nil
	case "s3":
		st, err := s3.New(ctx, s3.Config{
			Region:       cfg.Store.S3.Region,
			Endpoint:     cfg.Store.S3.Endpoint,
			UsePathStyle: cfg.Store.S3.PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("opening s3 store: %w", err)
		}
		return st, nil
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func openBus(ctx context.Context, cfg *config.Config) (bus.Bus, error) {
	switch cfg.Bus.Backend {
	case "pubsub":
		b, err := pubsubbus.New(ctx, cfg.Project)
		if err != nil {
			return nil, fmt.Errorf("opening pubsub bus: %w", err)
		}
		return b, nil
	case "redis":
		b, err := redisbus.New(redisbus.Config{
			Addr:         cfg.Bus.RedisAddr,
			StreamMaxLen: cfg.Bus.RedisStreamMaxLen,
		})
		if err != nil {
			return nil, fmt.Errorf("opening redis bus: %w", err)
		}
		return b, nil
	case "local":
		return bus.NewBroker(bus.BrokerConfig{
			MaxAttempts: cfg.Runtime.MaxAttempts,
			DLQ:         cfg.Topics.DLQ,
		}), nil
	default:
		return nil, fmt.Errorf("unknown bus backend %q", cfg.Bus.Backend)
	}
}

func openWarehouse(ctx context.Context, cfg *config.Config) (warehouse.Warehouse, error) {
	switch cfg.Warehouse.Backend {
	case "bigquery":
		wh, err := bigquery.New(ctx, cfg.Project, cfg.Warehouse.Dataset, bigquery.Tables{
			Invoices:  cfg.Warehouse.InvoicesTable,
			LineItems: cfg.Warehouse.LineItemsTable,
			Metrics:   cfg.Warehouse.MetricsTable,
		})
		if err != nil {
			return nil, fmt.Errorf("opening bigquery warehouse: %w", err)
		}
		return wh, nil
	case "memory":
		return warehouse.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown warehouse backend %q", cfg.Warehouse.Backend)
	}
}
