package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/smelter/fault"
	"github.com/pithecene-io/smelter/iox"
	"github.com/pithecene-io/smelter/log"
)

// Broker defaults.
const (
	DefaultBrokerAttempts = 5
	DefaultBrokerRetry    = 50 * time.Millisecond
	brokerRequestTimeout  = 10 * time.Minute
)

// BrokerConfig tunes the local broker.
type BrokerConfig struct {
	// MaxAttempts is the delivery budget per subscription before the
	// message dead-letters. Zero means DefaultBrokerAttempts.
	MaxAttempts int
	// RetryDelay separates redelivery attempts. Zero means
	// DefaultBrokerRetry.
	RetryDelay time.Duration
	// DLQ resolves a topic's dead-letter twin. Topics it maps to ""
	// drop exhausted messages.
	DLQ func(topic string) string
	// Logger receives delivery failures. Nil means no logging.
	Logger *log.Logger
}

// Broker is an in-process push bus for local runs and end-to-end tests.
// Publish returns as soon as the message is recorded; deliveries run on
// their own goroutines with the same envelope, retry, and dead-letter
// semantics as a managed push subscription. Wait blocks until every
// delivery has settled.
type Broker struct {
	cfg    BrokerConfig
	client *http.Client
	logger *log.Logger

	mu       sync.Mutex
	subs     map[string][]string
	messages []Message
	wg       sync.WaitGroup
}

// NewBroker builds a broker. The zero BrokerConfig is usable.
func NewBroker(cfg BrokerConfig) *Broker {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultBrokerAttempts
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultBrokerRetry
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}
	return &Broker{
		cfg:    cfg,
		client: &http.Client{Timeout: brokerRequestTimeout},
		logger: logger,
		subs:   make(map[string][]string),
	}
}

// Subscribe routes a topic's messages to a push endpoint. Multiple
// endpoints on one topic each get every message.
func (b *Broker) Subscribe(topic, endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], endpoint)
}

// Publish implements Bus.
func (b *Broker) Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fault.Transient("bus.publish", err)
	}
	id := uuid.NewString()
	publishTime := time.Now().UTC().Format(time.RFC3339Nano)

	stored := make([]byte, len(data))
	copy(stored, data)
	attrsCopy := make(map[string]string, len(attrs))
	for k, v := range attrs {
		attrsCopy[k] = v
	}
	msg := Message{Topic: topic, Data: stored, Attributes: attrsCopy, ID: id}

	b.mu.Lock()
	b.messages = append(b.messages, msg)
	endpoints := append([]string(nil), b.subs[topic]...)
	b.mu.Unlock()

	for _, endpoint := range endpoints {
		b.wg.Add(1)
		go func(endpoint string) {
			defer b.wg.Done()
			b.deliver(topic, endpoint, msg, publishTime)
		}(endpoint)
	}
	return id, nil
}

// deliver pushes one message to one endpoint until it acks or the
// attempt budget runs out, then hands it to the dead-letter twin.
func (b *Broker) deliver(topic, endpoint string, msg Message, publishTime string) {
	subscription := subscriptionPath(topic)
	var lastErr string
	for attempt := 1; attempt <= b.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(b.cfg.RetryDelay)
		}
		acked, failure := b.push(endpoint, subscription, msg, publishTime, attempt)
		if acked {
			return
		}
		lastErr = failure
	}

	b.logger.Error("delivery attempts exhausted", map[string]any{
		"topic":      topic,
		"message_id": msg.ID,
		"attempts":   b.cfg.MaxAttempts,
		"last_error": lastErr,
	})
	b.deadLetter(topic, subscription, msg, publishTime, lastErr)
}

// push POSTs one envelope and reports whether the endpoint acked. On a
// nack the second return describes the failure: the transport error, or
// the HTTP status the endpoint answered with.
func (b *Broker) push(endpoint, subscription string, msg Message, publishTime string, attempt int) (bool, string) {
	body := PushBody{
		Message: PushMessage{
			Data:            msg.Data,
			MessageID:       msg.ID,
			PublishTime:     publishTime,
			Attributes:      msg.Attributes,
			DeliveryAttempt: &attempt,
		},
		Subscription: subscription,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		b.logger.Error("envelope encoding failed", map[string]any{"message_id": msg.ID, "error": err.Error()})
		return true, "" // unrecoverable, do not retry
	}

	resp, err := b.client.Post(endpoint, "application/json", bytes.NewReader(raw))
	if err != nil {
		b.logger.Warn("push failed", map[string]any{
			"message_id": msg.ID,
			"attempt":    attempt,
			"error":      err.Error(),
		})
		return false, err.Error()
	}
	defer iox.DiscardClose(resp.Body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true, ""
	}
	return false, fmt.Sprintf("push status %d", resp.StatusCode)
}

// deadLetter republishes an exhausted message on the topic's twin with
// the managed-service source attributes attached.
func (b *Broker) deadLetter(topic, subscription string, msg Message, publishTime, lastErr string) {
	if b.cfg.DLQ == nil {
		return
	}
	twin := b.cfg.DLQ(topic)
	if twin == "" {
		return
	}
	attrs := make(map[string]string, len(msg.Attributes)+5)
	for k, v := range msg.Attributes {
		attrs[k] = v
	}
	attrs[AttrDeadLetterDeliveryCount] = fmt.Sprint(b.cfg.MaxAttempts)
	attrs[AttrDeadLetterSubscription] = subscription
	attrs[AttrDeadLetterSubscriptionProject] = "local"
	attrs[AttrDeadLetterPublishTime] = publishTime
	if lastErr != "" {
		attrs[AttrDeadLetterLastError] = lastErr
	}

	if _, err := b.Publish(context.Background(), twin, msg.Data, attrs); err != nil {
		b.logger.Error("dead-letter publish failed", map[string]any{
			"topic":      twin,
			"message_id": msg.ID,
			"error":      err.Error(),
		})
	}
}

// Wait blocks until every in-flight delivery has acked or dead-lettered.
func (b *Broker) Wait() {
	b.wg.Wait()
}

// ByTopic returns recorded messages for one topic, in publish order.
func (b *Broker) ByTopic(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Message
	for _, msg := range b.messages {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

func subscriptionPath(topic string) string {
	return "projects/local/subscriptions/" + topic
}

var _ Bus = (*Broker)(nil)
