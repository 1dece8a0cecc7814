// Package pubsub implements the bus port on Google Cloud Pub/Sub.
//
// Only publishing lives here. Subscriptions are push-mode and terminate
// at the runtime host; their ack deadlines, retry policy, and
// dead-letter topics are provisioned out of band.
package pubsub

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pithecene-io/smelter/bus"
	"github.com/pithecene-io/smelter/fault"
)

// Bus publishes to Cloud Pub/Sub topics.
type Bus struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New builds a Bus for the project using application default
// credentials. Extra options serve the emulator in tests.
func New(ctx context.Context, projectID string, opts ...option.ClientOption) (*Bus, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("building pubsub client: %w", err)
	}
	return &Bus{client: client, topics: make(map[string]*pubsub.Topic)}, nil
}

// Publish implements bus.Bus. The returned id is the server-assigned
// message id.
func (b *Bus) Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error) {
	res := b.topic(topic).Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	id, err := res.Get(ctx)
	if err != nil {
		return "", classify(topic, err)
	}
	return id, nil
}

// topic returns a cached publisher handle. Handles batch internally and
// must be reused across publishes.
func (b *Bus) topic(name string) *pubsub.Topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[name]; ok {
		return t
	}
	t := b.client.Topic(name)
	b.topics[name] = t
	return t
}

// Close flushes pending publishes and releases the client.
func (b *Bus) Close() error {
	b.mu.Lock()
	for _, t := range b.topics {
		t.Stop()
	}
	b.mu.Unlock()
	return b.client.Close()
}

// classify maps publish failures onto the fault taxonomy by gRPC code.
func classify(topic string, err error) error {
	op := "bus.publish"
	s, ok := status.FromError(err)
	if !ok {
		return fault.Classify(op, err)
	}
	switch s.Code() {
	case codes.NotFound, codes.InvalidArgument, codes.PermissionDenied,
		codes.Unauthenticated, codes.FailedPrecondition:
		return fault.Permanent(op, fmt.Errorf("topic %s: %w", topic, err))
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted,
		codes.Aborted, codes.Internal, codes.Canceled, codes.Unknown:
		return fault.Transient(op, fmt.Errorf("topic %s: %w", topic, err))
	default:
		return fault.Classify(op, err)
	}
}

var _ bus.Bus = (*Bus)(nil)
