// Package dlq implements the dead-letter processor: it drains the four
// dead-letter twin topics and writes one quarantine record per exhausted
// message. Records preserve the original payload verbatim so an operator
// can replay it after fixing the cause.
package dlq

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/pithecene-io/smelter/bus"
	"github.com/pithecene-io/smelter/config"
	"github.com/pithecene-io/smelter/fault"
	"github.com/pithecene-io/smelter/log"
	"github.com/pithecene-io/smelter/metrics"
	"github.com/pithecene-io/smelter/runtime"
	"github.com/pithecene-io/smelter/store"
	"github.com/pithecene-io/smelter/types"
)

// Config locates the quarantine bucket and the topic map used to
// attribute dead letters to their origin stage.
type Config struct {
	FailedBucket string
	Topics       config.Topics
}

// Handler consumes the dead-letter twin topics.
type Handler struct {
	store   store.Store
	metrics *metrics.Metrics
	cfg     Config
	now     func() time.Time
}

// New builds the dead-letter handler.
func New(st store.Store, m *metrics.Metrics, cfg Config) *Handler {
	return &Handler{store: st, metrics: m, cfg: cfg, now: time.Now}
}

// Stage implements runtime.Handler.
func (h *Handler) Stage() types.Stage { return types.StageDLQ }

// Handle implements runtime.Handler. The record key is derived from the
// message id, so a redelivered dead letter finds its own record and acks
// without writing twice. Only a failed store write nacks; a dead letter
// must never travel back through the pipeline.
func (h *Handler) Handle(ctx context.Context, d runtime.Delivery) error {
	topic, origin := h.resolveOrigin(d.Attributes)
	logger := log.FromContext(ctx).With(map[string]any{
		"origin_topic": topic,
		"origin_stage": origin,
	})

	name := store.DLQRecordName(origin, h.now(), d.MessageID)
	if _, err := h.store.Get(ctx, h.cfg.FailedBucket, name); err == nil {
		logger.Info("dead letter already recorded", map[string]any{"record": name})
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	rec := &types.DeadLetterRecord{
		MessageID:        d.MessageID,
		OriginTopic:      topic,
		OriginStage:      origin,
		DeliveryCount:    deliveryCount(d),
		FirstFailureAt:   d.Attributes[bus.AttrDeadLetterPublishTime],
		LastErrorMessage: d.Attributes[bus.AttrDeadLetterLastError],
		Attributes:       d.Attributes,
		Body:             d.Data,
		ReceivedAt:       h.now().UTC().Format(time.RFC3339),
	}
	doc, err := rec.Encode()
	if err != nil {
		// Only an empty message id gets here; nothing to key a record by.
		return fault.Permanent("dlq.encode", err)
	}

	if _, err := h.store.Put(ctx, h.cfg.FailedBucket, name, doc, "application/json"); err != nil {
		return fault.Transient("dlq.record", err)
	}
	h.metrics.RecordDeadLetter(origin)

	logger.Error("dead letter recorded", map[string]any{
		"record":         name,
		"delivery_count": rec.DeliveryCount,
		"body_bytes":     len(d.Data),
	})
	return nil
}

// resolveOrigin maps the dead-letter source subscription back to the
// topic it consumed and the stage that owns it. Messages without the
// attribute, or from a subscription outside the pipeline, attribute to
// "unknown" and are still recorded.
func (h *Handler) resolveOrigin(attrs map[string]string) (topic, origin string) {
	sub := attrs[bus.AttrDeadLetterSubscription]
	if sub == "" {
		return "", "unknown"
	}
	// Subscription paths look like projects/<p>/subscriptions/<name>;
	// subscriptions are named after the topic they consume.
	if i := strings.LastIndex(sub, "/"); i >= 0 {
		sub = sub[i+1:]
	}
	topic = strings.TrimSuffix(sub, "-sub")
	if stage := h.cfg.Topics.OriginStage(topic); stage != "" {
		return topic, string(stage)
	}
	return topic, "unknown"
}

// deliveryCount prefers the bus-stamped dead-letter count over the push
// envelope's attempt, which restarts at 1 on the twin subscription.
func deliveryCount(d runtime.Delivery) int {
	if raw := d.Attributes[bus.AttrDeadLetterDeliveryCount]; raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return d.Attempt
}

var _ runtime.Handler = (*Handler)(nil)
