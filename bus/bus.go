// Package bus defines the message bus port and the push envelope wire
// format. Stages publish through the port; delivery arrives by push
// through the runtime host, so subscribing is not abstracted here.
package bus

import "context"

// Bus is the publish side of the message bus.
type Bus interface {
	// Publish sends data with attributes to topic and returns the
	// bus-assigned message id.
	Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error)
}

// Attributes the bus attaches when it dead-letters a message. The names
// follow the Cloud Pub/Sub convention so records read the same against
// the local broker and the managed service.
const (
	AttrDeadLetterDeliveryCount       = "CloudPubSubDeadLetterSourceDeliveryCount"
	AttrDeadLetterSubscription        = "CloudPubSubDeadLetterSourceSubscription"
	AttrDeadLetterSubscriptionProject = "CloudPubSubDeadLetterSourceSubscriptionProject"
	AttrDeadLetterPublishTime         = "CloudPubSubDeadLetterSourceTopicPublishTime"

	// AttrDeadLetterLastError is stamped by the local broker only: the
	// last delivery failure it observed before the message exhausted
	// its budget. The managed service has no equivalent attribute.
	AttrDeadLetterLastError = "DeadLetterSourceLastErrorMessage"
)
