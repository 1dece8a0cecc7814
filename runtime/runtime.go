// Package runtime hosts a pipeline stage behind the bus's push
// subscription protocol.
//
// The host terminates the push HTTP endpoint, decodes the envelope,
// bounds concurrency and the per-delivery deadline, and maps the
// handler's outcome onto the HTTP status the bus interprets:
//
//	success           2xx  ack
//	transient failure 5xx  nack, redeliver with backoff, then dead-letter
//	permanent failure 2xx  ack after the stage quarantined the input
//	poison envelope   2xx  ack after logging
//
// Returning 2xx for permanent failures keeps the bus from spending its
// retry budget on errors no redelivery can repair; the stage quarantines
// before its handler returns.
package runtime

import (
	"context"
	"time"

	"github.com/pithecene-io/smelter/types"
)

// AckMargin is subtracted from the subscription ack deadline to form the
// per-delivery context deadline, leaving room to reply before the bus
// gives up on the delivery.
const AckMargin = 10 * time.Second

// Delivery is one decoded push delivery.
type Delivery struct {
	// MessageID is the bus-assigned message id.
	MessageID string
	// PublishTime is the original publish time, RFC3339.
	PublishTime string
	// Attempt is the delivery attempt, 1 when the bus did not report one.
	Attempt int
	// AttemptReported is whether the bus reported the attempt. Deployment
	// dependent; reported attempts are logged.
	AttemptReported bool
	// Attributes are the message attributes.
	Attributes map[string]string
	// Subscription is the full subscription path of the push.
	Subscription string
	// Data is the decoded payload.
	Data []byte
}

// Handler processes deliveries for one stage.
//
// Handle returns nil to ack, a transient error to nack, or a permanent
// error to ack after having quarantined the offending input itself.
// Handlers must be idempotent: the bus delivers at least once.
type Handler interface {
	Stage() types.Stage
	Handle(ctx context.Context, d Delivery) error
}
