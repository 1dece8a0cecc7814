// Package classify implements the pipeline's second stage: it decides
// the vendor category from the invoice identifier and partitions the
// page images by vendor.
//
// Classification itself cannot fail; identifiers that match no platform
// pattern classify as "other" and continue downstream. Image-content
// inspection is deliberately absent: it could never be authoritative
// over the identifier match.
package classify

import (
	"context"
	"time"

	"github.com/pithecene-io/smelter/bus"
	"github.com/pithecene-io/smelter/fault"
	"github.com/pithecene-io/smelter/log"
	"github.com/pithecene-io/smelter/metrics"
	"github.com/pithecene-io/smelter/runtime"
	"github.com/pithecene-io/smelter/store"
	"github.com/pithecene-io/smelter/types"
)

// Config locates the classifier's buckets and output topic.
type Config struct {
	ClassifiedBucket string
	FailedBucket     string
	ClassifiedTopic  string
}

// Handler consumes converted events.
type Handler struct {
	store   store.Store
	bus     bus.Bus
	metrics *metrics.Metrics
	cfg     Config
	now     func() time.Time
}

// New builds the classifier handler.
func New(st store.Store, b bus.Bus, m *metrics.Metrics, cfg Config) *Handler {
	return &Handler{store: st, bus: b, metrics: m, cfg: cfg, now: time.Now}
}

// Stage implements runtime.Handler.
func (h *Handler) Stage() types.Stage { return types.StageClassifier }

// Handle implements runtime.Handler. Pages are copied, never re-rendered,
// onto vendor-partitioned keys; a replayed event re-copies onto the same
// keys.
func (h *Handler) Handle(ctx context.Context, d runtime.Delivery) error {
	ev, err := types.DecodeConverted(d.Data)
	if err != nil {
		if _, qerr := store.Quarantine(ctx, h.store, h.cfg.FailedBucket, "schema",
			h.now(), d.MessageID+".json", d.Data, "application/json"); qerr != nil {
			return fault.Transient("classify.quarantine", qerr)
		}
		return fault.Permanent("classify.decode", err)
	}

	vendor := types.ClassifyInvoiceID(ev.InvoiceID)
	logger := log.FromContext(ctx).With(map[string]any{
		"invoice_id": ev.InvoiceID,
		"vendor":     vendor.String(),
	})

	out := &types.ClassifiedEvent{InvoiceID: ev.InvoiceID, Vendor: vendor, Source: ev.Source}
	for _, page := range ev.Pages {
		name := store.ClassifiedPageName(vendor, ev.InvoiceID, page.PageIndex)
		if _, err := h.store.Copy(ctx, page.Bucket, page.Name, h.cfg.ClassifiedBucket, name); err != nil {
			// Copy failures stay transient, missing sources included: a
			// replayed event can arrive ahead of the pages it names.
			// Transientf rebuilds the error so the store's own kind does
			// not leak through the chain.
			return fault.Transientf("classify.copy", "page %s: %v", page.Name, err)
		}
		out.Pages = append(out.Pages, types.PageRef{
			Bucket:    h.cfg.ClassifiedBucket,
			Name:      name,
			PageIndex: page.PageIndex,
		})
	}

	payload, err := out.Encode()
	if err != nil {
		return fault.Permanent("classify.encode", err)
	}
	if _, err := h.bus.Publish(ctx, h.cfg.ClassifiedTopic, payload, nil); err != nil {
		return err
	}
	h.metrics.RecordPublish(h.Stage(), h.cfg.ClassifiedTopic)

	logger.Info("classified invoice", map[string]any{"pages": len(out.Pages)})
	return nil
}

var _ runtime.Handler = (*Handler)(nil)
