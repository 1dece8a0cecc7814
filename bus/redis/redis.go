// Package redis implements the bus port on Redis Streams.
//
// Each topic is a stream; XADD assigns the message id. A relay outside
// this module turns stream entries into push deliveries, so the pipeline
// can run against plain Redis where Cloud Pub/Sub is unavailable.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/smelter/bus"
	"github.com/pithecene-io/smelter/fault"
)

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// Stream entry field names.
const (
	FieldData       = "data"
	FieldAttributes = "attributes"
)

// Config configures the Redis Streams bus.
type Config struct {
	// Addr is the host:port of the Redis server (required).
	Addr string
	// StreamMaxLen caps each stream with approximate trimming.
	// Zero keeps everything.
	StreamMaxLen int64
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
}

// Bus publishes to Redis streams.
type Bus struct {
	config Config
	client *goredis.Client
}

// New creates a Redis Streams bus.
func New(cfg Config) (*Bus, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis bus requires an address")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Bus{
		config: cfg,
		client: goredis.NewClient(&goredis.Options{Addr: cfg.Addr}),
	}, nil
}

// NewWithClient wraps an existing client. Test hook.
func NewWithClient(client *goredis.Client, cfg Config) *Bus {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Bus{config: cfg, client: client}
}

// Publish implements bus.Bus. The stream entry id doubles as the
// message id.
func (b *Bus) Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error) {
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return "", fault.Permanent("bus.publish", fmt.Errorf("marshal attributes: %w", err))
	}

	publishCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	args := &goredis.XAddArgs{
		Stream: topic,
		Values: map[string]any{
			FieldData:       string(data),
			FieldAttributes: string(attrsJSON),
		},
	}
	if b.config.StreamMaxLen > 0 {
		args.MaxLen = b.config.StreamMaxLen
		args.Approx = true
	}

	id, err := b.client.XAdd(publishCtx, args).Result()
	if err != nil {
		return "", fault.Classify("bus.publish", err)
	}
	return id, nil
}

// Close releases the client.
func (b *Bus) Close() error {
	return b.client.Close()
}

var _ bus.Bus = (*Bus)(nil)
