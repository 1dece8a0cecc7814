// Package load implements the pipeline's final stage: it lands a
// validated extraction in the warehouse, archives the landing object,
// and announces the load.
package load

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/smelter/bus"
	"github.com/pithecene-io/smelter/fault"
	"github.com/pithecene-io/smelter/log"
	"github.com/pithecene-io/smelter/metrics"
	"github.com/pithecene-io/smelter/runtime"
	"github.com/pithecene-io/smelter/store"
	"github.com/pithecene-io/smelter/types"
	"github.com/pithecene-io/smelter/warehouse"
)

// Config locates the loader's buckets and output topic.
type Config struct {
	ArchiveBucket string
	FailedBucket  string
	LoadedTopic   string
}

// Handler consumes extracted events.
type Handler struct {
	store     store.Store
	bus       bus.Bus
	warehouse warehouse.Warehouse
	metrics   *metrics.Metrics
	cfg       Config
	now       func() time.Time
	backoff   fault.Backoff
	newRowID  func(invoiceID string) string
}

// New builds the loader handler.
func New(st store.Store, b bus.Bus, wh warehouse.Warehouse, m *metrics.Metrics, cfg Config) *Handler {
	return &Handler{
		store:     st,
		bus:       b,
		warehouse: wh,
		metrics:   m,
		cfg:       cfg,
		now:       time.Now,
		backoff:   warehouse.Backoff(),
		newRowID:  rowID,
	}
}

// rowIDNamespace scopes load row ids.
var rowIDNamespace = uuid.MustParse("c9a4f8d2-31b7-4f02-8e6a-5d90b1c47e21")

// rowID derives the row identifier from the invoice id. Name-based, so
// a redelivered extraction announces the same row it announced the
// first time.
func rowID(invoiceID string) string {
	return uuid.NewSHA1(rowIDNamespace, []byte(invoiceID)).String()
}

// Stage implements runtime.Handler.
func (h *Handler) Stage() types.Stage { return types.StageLoader }

// Handle implements runtime.Handler. The dedup read gates the inserts,
// so a redelivered extraction archives and re-announces without writing
// a second set of rows.
func (h *Handler) Handle(ctx context.Context, d runtime.Delivery) error {
	ev, err := types.DecodeExtracted(d.Data)
	if err != nil {
		if _, qerr := store.Quarantine(ctx, h.store, h.cfg.FailedBucket, "schema",
			h.now(), d.MessageID+".json", d.Data, "application/json"); qerr != nil {
			return fault.Transient("load.quarantine", qerr)
		}
		return fault.Permanent("load.decode", err)
	}

	logger := log.FromContext(ctx).With(map[string]any{
		"invoice_id": ev.InvoiceID,
		"vendor":     ev.Vendor.String(),
	})

	exists, err := h.warehouse.HasInvoice(ctx, ev.InvoiceID)
	if err != nil {
		return err
	}
	if exists {
		logger.Warn("invoice already loaded, skipping inserts", map[string]any{"duplicate": true})
		h.metrics.RecordDuplicate(ev.Vendor)
	} else {
		if err := h.insert(ctx, ev); err != nil {
			return err
		}
	}

	if _, err := h.store.Copy(ctx, ev.Source.Bucket, ev.Source.Name,
		h.cfg.ArchiveBucket, store.ArchiveName(h.now(), ev.Source.Name)); err != nil {
		// The rows are in; the dedup read keeps the redelivery from
		// inserting them again while the archive copy retries.
		return fault.Transientf("load.archive", "%s: %v", ev.Source.Name, err)
	}

	id := h.newRowID(ev.InvoiceID)
	out := &types.LoadedEvent{InvoiceID: ev.InvoiceID, RowID: id, Table: warehouse.TableInvoices}
	payload, err := out.Encode()
	if err != nil {
		return fault.Permanent("load.encode", err)
	}
	if _, err := h.bus.Publish(ctx, h.cfg.LoadedTopic, payload, nil); err != nil {
		return err
	}
	h.metrics.RecordPublish(h.Stage(), h.cfg.LoadedTopic)

	logger.Info("loaded invoice", map[string]any{
		"row_id":     id,
		"line_items": len(ev.Extraction.LineItems),
	})
	return nil
}

// insert lands the rows with the bounded retry budget. A failed attempt
// may have left an orphan header; it is deleted before the next try and
// before handing the failure back to the bus, so no partial invoice
// survives.
func (h *Handler) insert(ctx context.Context, ev *types.ExtractedEvent) error {
	rows, err := warehouse.BuildRows(ev, h.now())
	if err != nil {
		return fault.Permanent("load.rows", err)
	}

	err = fault.Retry(ctx, h.backoff, "warehouse.insert", func() error {
		insertCtx, cancel := context.WithTimeout(ctx, warehouse.InsertTimeout)
		defer cancel()
		insertErr := h.warehouse.Insert(insertCtx, rows)
		if insertErr != nil {
			h.metrics.RecordInsert(fault.KindOf(insertErr))
			h.rollback(ctx, ev.InvoiceID)
			return insertErr
		}
		return nil
	})
	if err != nil {
		return err
	}
	h.metrics.RecordInsert(metrics.OutcomeSuccess)
	return nil
}

// rollback removes a possibly-orphaned header row. Best effort: if the
// delete itself fails the redelivered insert finds the header, skips as
// a duplicate, and the orphan surfaces in reconciliation instead of
// blocking the pipeline.
func (h *Handler) rollback(ctx context.Context, invoiceID string) {
	if err := h.warehouse.DeleteInvoice(ctx, invoiceID); err != nil {
		log.FromContext(ctx).Warn("header rollback failed", map[string]any{
			"invoice_id": invoiceID,
			"error":      err.Error(),
		})
	}
}

var _ runtime.Handler = (*Handler)(nil)
