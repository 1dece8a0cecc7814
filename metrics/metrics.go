// Package metrics owns the pipeline's prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so stages and adapters
// never nil-check before recording. Collectors register on the
// Registerer supplied at construction; the stage host exposes them on
// /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pithecene-io/smelter/types"
)

const namespace = "smelter"

// Delivery outcomes used as metric labels. They mirror the handler
// outcome taxonomy the runtime maps to HTTP statuses.
const (
	OutcomeSuccess   = "success"
	OutcomeTransient = "transient"
	OutcomePermanent = "permanent"
	OutcomePoison    = "poison"
)

// Metrics bundles every collector the pipeline records into.
type Metrics struct {
	deliveries  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	inFlight    *prometheus.GaugeVec
	publishes   *prometheus.CounterVec
	llmRequests *prometheus.CounterVec
	llmLatency  *prometheus.HistogramVec
	inserts     *prometheus.CounterVec
	duplicates  *prometheus.CounterVec
	dlqRecords  *prometheus.CounterVec
}

// New builds and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Push deliveries handled, by stage and outcome.",
		}, []string{"stage", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Wall time spent handling one delivery.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "deliveries_in_flight",
			Help:      "Deliveries currently being handled.",
		}, []string{"stage"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Events published downstream, by stage and topic.",
		}, []string{"stage", "topic"}),
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Vision LLM calls, by model and outcome.",
		}, []string{"model", "outcome"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_latency_seconds",
			Help:      "Vision LLM call latency.",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 20, 40, 80, 120},
		}, []string{"model"}),
		inserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warehouse_inserts_total",
			Help:      "Warehouse insert batches, by outcome.",
		}, []string{"outcome"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warehouse_duplicates_total",
			Help:      "Extractions skipped by the dedup check.",
		}, []string{"vendor"}),
		dlqRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dlq_records_total",
			Help:      "Dead-letter records quarantined, by origin stage.",
		}, []string{"origin_stage"}),
	}
	reg.MustRegister(
		m.deliveries, m.duration, m.inFlight, m.publishes,
		m.llmRequests, m.llmLatency, m.inserts, m.duplicates, m.dlqRecords,
	)
	return m
}

// DeliveryStarted marks one delivery in flight.
func (m *Metrics) DeliveryStarted(stage types.Stage) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(stage.String()).Inc()
}

// DeliveryFinished records the outcome and duration of one delivery and
// releases the in-flight gauge.
func (m *Metrics) DeliveryFinished(stage types.Stage, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(stage.String()).Dec()
	m.deliveries.WithLabelValues(stage.String(), outcome).Inc()
	m.duration.WithLabelValues(stage.String()).Observe(elapsed.Seconds())
}

// RecordPublish counts a downstream publish.
func (m *Metrics) RecordPublish(stage types.Stage, topic string) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(stage.String(), topic).Inc()
}

// RecordLLM records one vision LLM call.
func (m *Metrics) RecordLLM(model, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.llmRequests.WithLabelValues(model, outcome).Inc()
	m.llmLatency.WithLabelValues(model).Observe(elapsed.Seconds())
}

// RecordInsert records one warehouse insert batch.
func (m *Metrics) RecordInsert(outcome string) {
	if m == nil {
		return
	}
	m.inserts.WithLabelValues(outcome).Inc()
}

// RecordDuplicate counts an extraction skipped by the dedup check.
func (m *Metrics) RecordDuplicate(vendor types.VendorType) {
	if m == nil {
		return
	}
	m.duplicates.WithLabelValues(vendor.String()).Inc()
}

// RecordDeadLetter counts a quarantined dead-letter record.
func (m *Metrics) RecordDeadLetter(originStage string) {
	if m == nil {
		return
	}
	m.dlqRecords.WithLabelValues(originStage).Inc()
}
