// Package extract implements the pipeline's third stage: it sends the
// primary page image to the vision LLM with a vendor-specific prompt,
// validates the structured reply, and persists the extraction.
package extract

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/pithecene-io/smelter/bus"
	"github.com/pithecene-io/smelter/fault"
	"github.com/pithecene-io/smelter/llm"
	"github.com/pithecene-io/smelter/log"
	"github.com/pithecene-io/smelter/metrics"
	"github.com/pithecene-io/smelter/runtime"
	"github.com/pithecene-io/smelter/store"
	"github.com/pithecene-io/smelter/types"
)

// Config locates the extractor's buckets and output topic.
type Config struct {
	ExtractedBucket string
	FailedBucket    string
	ExtractedTopic  string
}

// Handler consumes classified events.
type Handler struct {
	store   store.Store
	bus     bus.Bus
	llm     llm.Client
	metrics *metrics.Metrics
	cfg     Config
	now     func() time.Time
	backoff fault.Backoff
}

// New builds the extractor handler.
func New(st store.Store, b bus.Bus, client llm.Client, m *metrics.Metrics, cfg Config) *Handler {
	return &Handler{
		store:   st,
		bus:     b,
		llm:     client,
		metrics: m,
		cfg:     cfg,
		now:     time.Now,
		backoff: llm.Backoff(),
	}
}

// Stage implements runtime.Handler.
func (h *Handler) Stage() types.Stage { return types.StageExtractor }

// Handle implements runtime.Handler.
func (h *Handler) Handle(ctx context.Context, d runtime.Delivery) error {
	ev, err := types.DecodeClassified(d.Data)
	if err != nil {
		if _, qerr := store.Quarantine(ctx, h.store, h.cfg.FailedBucket, "schema",
			h.now(), d.MessageID+".json", d.Data, "application/json"); qerr != nil {
			return fault.Transient("extract.quarantine", qerr)
		}
		return fault.Permanent("extract.decode", err)
	}

	logger := log.FromContext(ctx).With(map[string]any{
		"invoice_id": ev.InvoiceID,
		"vendor":     ev.Vendor.String(),
	})

	primary := primaryPage(ev.Pages)
	image, err := h.store.Get(ctx, primary.Bucket, primary.Name)
	if err != nil {
		return err
	}

	req := llm.Request{
		Prompt:    llm.Prompt(ev.Vendor),
		Image:     image,
		ImageMIME: "image/png",
	}

	started := time.Now()
	var resp *llm.Response
	err = fault.Retry(ctx, h.backoff, "llm.generate", func() error {
		var callErr error
		resp, callErr = h.llm.GenerateJSON(ctx, req)
		return callErr
	})
	latency := time.Since(started)
	if err != nil {
		h.metrics.RecordLLM(modelOf(resp), fault.KindOf(err), latency)
		if fault.IsPermanent(err) {
			return h.quarantineExtraction(ctx, logger, ev, "", err)
		}
		return err
	}
	h.metrics.RecordLLM(resp.Model, metrics.OutcomeSuccess, latency)

	invoice, err := parseInvoice(resp.Text, ev)
	if err != nil {
		return h.quarantineExtraction(ctx, logger, ev, resp.Text, err)
	}

	out := &types.ExtractedEvent{
		InvoiceID:  ev.InvoiceID,
		Vendor:     ev.Vendor,
		Source:     ev.Source,
		Extraction: *invoice,
		Meta: &types.ExtractionMeta{
			Model:     resp.Model,
			LatencyMS: latency.Milliseconds(),
		},
	}
	payload, err := out.Encode()
	if err != nil {
		return h.quarantineExtraction(ctx, logger, ev, resp.Text, err)
	}

	if _, err := h.store.Put(ctx, h.cfg.ExtractedBucket,
		store.ExtractionName(ev.Vendor, ev.InvoiceID), payload, "application/json"); err != nil {
		return err
	}
	if _, err := h.bus.Publish(ctx, h.cfg.ExtractedTopic, payload, nil); err != nil {
		return err
	}
	h.metrics.RecordPublish(h.Stage(), h.cfg.ExtractedTopic)

	logger.Info("extracted invoice", map[string]any{
		"model":      resp.Model,
		"latency_ms": latency.Milliseconds(),
		"line_items": len(invoice.LineItems),
	})
	return nil
}

// parseInvoice turns the model reply into a validated Invoice. The
// classifier's vendor and the event's invoice id are authoritative and
// override whatever the model read off the document; amounts round
// half-even to two digits before the cross-field checks run.
func parseInvoice(text string, ev *types.ClassifiedEvent) (*types.Invoice, error) {
	var invoice types.Invoice
	if err := json.Unmarshal([]byte(text), &invoice); err != nil {
		return nil, fault.Permanentf("extract.parse", "model reply is not invoice JSON: %v", err)
	}
	invoice.VendorType = ev.Vendor
	invoice.InvoiceID = ev.InvoiceID
	invoice.Normalize()
	if err := invoice.Validate(); err != nil {
		return nil, fault.Permanent("extract.validate", err)
	}
	return &invoice, nil
}

// quarantineExtraction writes the diagnostics sidecar for a permanent
// extraction failure, then acks by returning the permanent error.
type sidecar struct {
	InvoiceID   string `json:"invoice_id"`
	Vendor      string `json:"vendor"`
	Error       string `json:"error"`
	RawResponse string `json:"raw_response,omitempty"`
	FailedAt    string `json:"failed_at"`
}

func (h *Handler) quarantineExtraction(ctx context.Context, logger *log.Logger, ev *types.ClassifiedEvent, raw string, cause error) error {
	doc, err := json.Marshal(sidecar{
		InvoiceID:   ev.InvoiceID,
		Vendor:      ev.Vendor.String(),
		Error:       cause.Error(),
		RawResponse: raw,
		FailedAt:    h.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fault.Transient("extract.quarantine", err)
	}
	uri, err := store.Quarantine(ctx, h.store, h.cfg.FailedBucket, "extract",
		h.now(), ev.InvoiceID+".error.json", doc, "application/json")
	if err != nil {
		return fault.Transient("extract.quarantine", err)
	}
	logger.Error("quarantined failed extraction", map[string]any{
		"reason": "extract",
		"failed": uri,
		"error":  cause.Error(),
	})
	return cause
}

// primaryPage returns the page with the lowest index. Events carry at
// least one page past validation.
func primaryPage(pages []types.PageRef) types.PageRef {
	sorted := make([]types.PageRef, len(pages))
	copy(sorted, pages)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PageIndex < sorted[j].PageIndex })
	return sorted[0]
}

func modelOf(resp *llm.Response) string {
	if resp == nil {
		return "unknown"
	}
	return resp.Model
}

var _ runtime.Handler = (*Handler)(nil)
