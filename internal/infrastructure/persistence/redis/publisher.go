package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/skillforge/internal/domain/shared"
	"github.com/alem-hub/skillforge/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// PUB/SUB
// ══════════════════════════════════════════════════════════════════════════════

// Publisher implements shared.EventPublisher by publishing each event as a
// JSON EventEnvelope on the channel for its type.
type Publisher struct {
	client  redis.UniversalClient
	timeout time.Duration
	source  string
}

// NewPublisher creates a Publisher with a random source id.
func NewPublisher(client redis.UniversalClient) *Publisher {
	return &Publisher{client: client, timeout: 2 * time.Second, source: uuid.NewString()}
}

// Source returns the id stamped on every envelope this publisher sends.
func (p *Publisher) Source() string {
	return p.source
}

// Publish implements shared.EventPublisher.
func (p *Publisher) Publish(event shared.Event) error {
	env, err := shared.NewEventEnvelope(uuid.NewString(), event)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	env.Source = p.source
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	return p.client.Publish(ctx, EventChannel(string(env.Type)), data).Err()
}

// EnvelopeHandler receives events delivered by Subscribe.
type EnvelopeHandler func(ctx context.Context, env shared.EventEnvelope)

// Subscribe delivers every engine event published by any process until ctx
// is cancelled. Undecodable messages are logged and skipped.
func Subscribe(ctx context.Context, client redis.UniversalClient, log *logger.Logger, handle EnvelopeHandler) error {
	if log == nil {
		log = logger.Nop()
	}
	sub := client.PSubscribe(ctx, PrefixEvents+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis: subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env shared.EventEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Warn("dropping undecodable event", logger.String("channel", msg.Channel), logger.Err(err))
				continue
			}
			handle(ctx, env)
		}
	}
}
