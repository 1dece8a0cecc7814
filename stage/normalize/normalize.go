// Package normalize implements the pipeline's first stage: it turns one
// uploaded container image into one PNG per page in the processed area
// and announces the pages downstream.
package normalize

import (
	"context"
	"fmt"
	"time"

	"github.com/pithecene-io/smelter/bus"
	"github.com/pithecene-io/smelter/fault"
	"github.com/pithecene-io/smelter/log"
	"github.com/pithecene-io/smelter/metrics"
	"github.com/pithecene-io/smelter/runtime"
	"github.com/pithecene-io/smelter/store"
	"github.com/pithecene-io/smelter/types"
)

// Config locates the normalizer's buckets and output topic.
type Config struct {
	ProcessedBucket string
	FailedBucket    string
	ConvertedTopic  string
}

// Handler consumes storage upload notifications.
type Handler struct {
	store   store.Store
	bus     bus.Bus
	metrics *metrics.Metrics
	cfg     Config
	now     func() time.Time
}

// New builds the normalizer handler.
func New(st store.Store, b bus.Bus, m *metrics.Metrics, cfg Config) *Handler {
	return &Handler{store: st, bus: b, metrics: m, cfg: cfg, now: time.Now}
}

// Stage implements runtime.Handler.
func (h *Handler) Stage() types.Stage { return types.StageNormalizer }

// Handle implements runtime.Handler. Every write is keyed by the derived
// invoice id and page index, so a redelivered notification overwrites
// its own previous output byte for byte.
func (h *Handler) Handle(ctx context.Context, d runtime.Delivery) error {
	src, err := types.DecodeSourceObject(d.Data)
	if err != nil {
		if _, qerr := store.Quarantine(ctx, h.store, h.cfg.FailedBucket, "schema",
			h.now(), d.MessageID+".json", d.Data, "application/json"); qerr != nil {
			return fault.Transient("normalize.quarantine", qerr)
		}
		return fault.Permanent("normalize.decode", err)
	}

	invoiceID := types.DeriveInvoiceID(src.Name)
	logger := log.FromContext(ctx).With(map[string]any{
		"invoice_id": invoiceID,
		"object":     src.Ref().String(),
	})

	if !Accepted(src.ContentType) {
		return h.quarantineSource(ctx, logger, src.Ref(), "unsupported",
			fmt.Errorf("content type %q is not an accepted container format", src.ContentType))
	}

	data, err := h.store.Get(ctx, src.Bucket, src.Name)
	if err != nil {
		return err
	}

	pages, err := decodePages(data, src.ContentType)
	if err != nil {
		return h.quarantineSource(ctx, logger, src.Ref(), "convert", err)
	}
	if len(pages) == 0 {
		return h.quarantineSource(ctx, logger, src.Ref(), "convert",
			fmt.Errorf("container decoded to zero pages"))
	}

	ev := &types.ConvertedEvent{InvoiceID: invoiceID, Source: src.Ref()}
	for i, page := range pages {
		rendered, err := renderPNG(page)
		if err != nil {
			return h.quarantineSource(ctx, logger, src.Ref(), "convert", err)
		}
		name := store.PageName(invoiceID, i)
		if _, err := h.store.Put(ctx, h.cfg.ProcessedBucket, name, rendered, "image/png"); err != nil {
			return err
		}
		ev.Pages = append(ev.Pages, types.PageRef{
			Bucket:    h.cfg.ProcessedBucket,
			Name:      name,
			PageIndex: i,
		})
	}

	payload, err := ev.Encode()
	if err != nil {
		return fault.Permanent("normalize.encode", err)
	}
	if _, err := h.bus.Publish(ctx, h.cfg.ConvertedTopic, payload, nil); err != nil {
		return err
	}
	h.metrics.RecordPublish(h.Stage(), h.cfg.ConvertedTopic)

	logger.Info("converted upload", map[string]any{"pages": len(ev.Pages)})
	return nil
}

// quarantineSource copies the offending landing object into the failed
// area, then reports the failure as permanent so the runtime acks.
// A failing copy stays transient: quarantine must land before the ack.
func (h *Handler) quarantineSource(ctx context.Context, logger *log.Logger, src types.ObjectRef, reason string, cause error) error {
	uri, err := store.QuarantineCopy(ctx, h.store, src, h.cfg.FailedBucket, reason, h.now())
	if err != nil {
		return fault.Transient("normalize.quarantine", err)
	}
	logger.Error("quarantined source object", map[string]any{
		"reason": reason,
		"failed": uri,
		"error":  cause.Error(),
	})
	return fault.Permanent("normalize."+reason, cause)
}

var _ runtime.Handler = (*Handler)(nil)
