package runtime

import (
	"context"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/pithecene-io/smelter/bus"
	"github.com/pithecene-io/smelter/fault"
	"github.com/pithecene-io/smelter/log"
	"github.com/pithecene-io/smelter/metrics"
)

// maxPushBody bounds the push request body. Payloads are event JSON,
// far below the bus's own 10 MB message cap.
const maxPushBody = 10 << 20

// HostConfig configures a stage host.
type HostConfig struct {
	// Logger receives delivery lifecycle entries. nil discards.
	Logger *log.Logger
	// Metrics receives delivery counters. nil discards.
	Metrics *metrics.Metrics
	// AckDeadline is the subscription ack deadline. The per-delivery
	// context deadline is AckDeadline minus AckMargin.
	AckDeadline time.Duration
	// Concurrency bounds in-flight deliveries. Minimum 1.
	Concurrency int
}

// Host adapts a Handler to the push endpoint. Each delivery runs on its
// own request goroutine; the semaphore bounds how many run at once.
type Host struct {
	handler     Handler
	logger      *log.Logger
	metrics     *metrics.Metrics
	ackDeadline time.Duration
	sem         *semaphore.Weighted
}

// NewHost wraps a stage handler.
func NewHost(h Handler, cfg HostConfig) *Host {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	ackDeadline := cfg.AckDeadline
	if ackDeadline <= AckMargin {
		ackDeadline = AckMargin + 30*time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}
	return &Host{
		handler:     h,
		logger:      logger,
		metrics:     cfg.Metrics,
		ackDeadline: ackDeadline,
		sem:         semaphore.NewWeighted(int64(concurrency)),
	}
}

// ServeHTTP terminates one push delivery.
func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stage := h.handler.Stage()

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPushBody))
	if err != nil {
		// The bus will resend; nothing was decoded yet.
		h.logger.Warn("push body read failed", map[string]any{"error": err.Error()})
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	body, err := bus.DecodePushBody(raw)
	if err != nil {
		// Poison: the envelope itself is unusable. Ack it away.
		h.logger.Error("dropping unparseable envelope", map[string]any{
			"reason": "envelope_unparseable",
			"error":  err.Error(),
		})
		h.metrics.DeliveryStarted(stage)
		h.metrics.DeliveryFinished(stage, metrics.OutcomePoison, 0)
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.sem.Acquire(r.Context(), 1); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	defer h.sem.Release(1)

	d := Delivery{
		MessageID:       body.Message.MessageID,
		PublishTime:     body.Message.PublishTime,
		Attempt:         body.Attempt(),
		AttemptReported: body.Message.DeliveryAttempt != nil,
		Attributes:      body.Message.Attributes,
		Subscription:    body.Subscription,
		Data:            body.Message.Data,
	}

	fields := map[string]any{"message_id": d.MessageID}
	if d.AttemptReported {
		fields["delivery_attempt"] = d.Attempt
	}
	logger := h.logger.With(fields)

	ctx, cancel := context.WithTimeout(r.Context(), h.ackDeadline-AckMargin)
	defer cancel()
	ctx = log.NewContext(ctx, logger)

	h.metrics.DeliveryStarted(stage)
	started := time.Now()
	err = h.handler.Handle(ctx, d)
	elapsed := time.Since(started)

	switch {
	case err == nil:
		h.metrics.DeliveryFinished(stage, metrics.OutcomeSuccess, elapsed)
		logger.Info("delivery handled", map[string]any{"elapsed_ms": elapsed.Milliseconds()})
		w.WriteHeader(http.StatusNoContent)

	case fault.IsPermanent(err):
		// The stage quarantined before returning; acking stops the
		// retry budget from burning on an unwinnable delivery.
		h.metrics.DeliveryFinished(stage, metrics.OutcomePermanent, elapsed)
		logger.Error("delivery failed permanently", map[string]any{
			"reason": fault.KindOf(err),
			"error":  err.Error(),
		})
		w.WriteHeader(http.StatusOK)

	default:
		h.metrics.DeliveryFinished(stage, metrics.OutcomeTransient, elapsed)
		logger.Error("delivery failed, redelivery requested", map[string]any{
			"reason": fault.KindOf(err),
			"error":  err.Error(),
		})
		w.WriteHeader(http.StatusServiceUnavailable)
	}
}
