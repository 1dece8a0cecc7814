// Package pipeline assembles stage handlers and hosts from configuration
// and concrete backends. It is the single place that knows which bucket,
// topic, and dependency each stage consumes.
package pipeline

import (
	"fmt"

	"github.com/pithecene-io/smelter/bus"
	"github.com/pithecene-io/smelter/config"
	"github.com/pithecene-io/smelter/llm"
	"github.com/pithecene-io/smelter/log"
	"github.com/pithecene-io/smelter/metrics"
	"github.com/pithecene-io/smelter/runtime"
	"github.com/pithecene-io/smelter/stage/classify"
	"github.com/pithecene-io/smelter/stage/dlq"
	"github.com/pithecene-io/smelter/stage/extract"
	"github.com/pithecene-io/smelter/stage/load"
	"github.com/pithecene-io/smelter/stage/normalize"
	"github.com/pithecene-io/smelter/store"
	"github.com/pithecene-io/smelter/types"
	"github.com/pithecene-io/smelter/warehouse"
)

// Backends holds the concrete adapters a stage runs against. Store, Bus,
// and Metrics serve every stage; LLM only the extractor and Warehouse
// only the loader.
type Backends struct {
	Store     store.Store
	Bus       bus.Bus
	Warehouse warehouse.Warehouse
	LLM       llm.Client
	Metrics   *metrics.Metrics
}

// NewHandler builds the handler for one stage.
func NewHandler(stage types.Stage, cfg *config.Config, be Backends) (runtime.Handler, error) {
	if be.Store == nil {
		return nil, fmt.Errorf("stage %s: no store backend", stage)
	}
	if be.Bus == nil && stage != types.StageDLQ {
		return nil, fmt.Errorf("stage %s: no bus backend", stage)
	}

	switch stage {
	case types.StageNormalizer:
		return normalize.New(be.Store, be.Bus, be.Metrics, normalize.Config{
			ProcessedBucket: cfg.Buckets.Processed,
			FailedBucket:    cfg.Buckets.Failed,
			ConvertedTopic:  cfg.Topics.Converted,
		}), nil

	case types.StageClassifier:
		return classify.New(be.Store, be.Bus, be.Metrics, classify.Config{
			ClassifiedBucket: cfg.Buckets.Classified,
			FailedBucket:     cfg.Buckets.Failed,
			ClassifiedTopic:  cfg.Topics.Classified,
		}), nil

	case types.StageExtractor:
		if be.LLM == nil {
			return nil, fmt.Errorf("stage %s: no llm backend", stage)
		}
		return extract.New(be.Store, be.Bus, be.LLM, be.Metrics, extract.Config{
			ExtractedBucket: cfg.Buckets.Extracted,
			FailedBucket:    cfg.Buckets.Failed,
			ExtractedTopic:  cfg.Topics.Extracted,
		}), nil

	case types.StageLoader:
		if be.Warehouse == nil {
			return nil, fmt.Errorf("stage %s: no warehouse backend", stage)
		}
		return load.New(be.Store, be.Bus, be.Warehouse, be.Metrics, load.Config{
			ArchiveBucket: cfg.Buckets.Archive,
			FailedBucket:  cfg.Buckets.Failed,
			LoadedTopic:   cfg.Topics.Loaded,
		}), nil

	case types.StageDLQ:
		return dlq.New(be.Store, be.Metrics, dlq.Config{
			FailedBucket: cfg.Buckets.Failed,
			Topics:       cfg.Topics,
		}), nil

	default:
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
}

// NewHost builds the push host for one stage.
func NewHost(stage types.Stage, cfg *config.Config, be Backends, logger *log.Logger) (*runtime.Host, error) {
	h, err := NewHandler(stage, cfg, be)
	if err != nil {
		return nil, err
	}
	return runtime.NewHost(h, runtime.HostConfig{
		Logger:      logger,
		Metrics:     be.Metrics,
		AckDeadline: cfg.Runtime.AckDeadline.Duration,
		Concurrency: cfg.Concurrency(stage),
	}), nil
}
