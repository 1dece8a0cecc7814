package bus

import (
	"encoding/json"
	"fmt"
)

// PushMessage is the message object inside a push delivery. Data is
// base64 on the wire; encoding/json handles the []byte conversion.
type PushMessage struct {
	Data        []byte            `json:"data"`
	MessageID   string            `json:"messageId"`
	PublishTime string            `json:"publishTime"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	// DeliveryAttempt is absent on subscriptions without a dead-letter
	// policy; consumers assume 1.
	DeliveryAttempt *int `json:"deliveryAttempt,omitempty"`
}

// PushBody is the canonical envelope a push subscription POSTs to the
// stage endpoint.
type PushBody struct {
	Message      PushMessage `json:"message"`
	Subscription string      `json:"subscription"`
}

// Attempt returns the delivery attempt, defaulting to 1 when the bus
// did not report one.
func (b *PushBody) Attempt() int {
	if b.Message.DeliveryAttempt == nil || *b.Message.DeliveryAttempt < 1 {
		return 1
	}
	return *b.Message.DeliveryAttempt
}

// DecodePushBody parses a push delivery. A failure here is poison: the
// envelope itself is unusable and the delivery can only be acked away.
func DecodePushBody(raw []byte) (*PushBody, error) {
	var body PushBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("push body is not envelope JSON: %w", err)
	}
	if body.Message.MessageID == "" {
		return nil, fmt.Errorf("push body has no messageId")
	}
	return &body, nil
}
