package orchestrator

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Publisher publishes import ticks to a Redis Stream, grounded on
// internal/publisher.Publisher's watermill-redisstream wiring, generalized
// from a fixed block-height payload to an arbitrary Tick.
type Publisher struct {
	pub   message.Publisher
	topic string
}

// NewPublisher builds a Publisher against the given Redis stream topic.
func NewPublisher(redisClient redis.UniversalClient, topic string, logger *zap.Logger) (*Publisher, error) {
	pub, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: redisClient}, newWatermillLogger(logger))
	if err != nil {
		return nil, err
	}
	return &Publisher{pub: pub, topic: topic}, nil
}

// PublishTick enqueues one tick for workers to pick up.
func (p *Publisher) PublishTick(ctx context.Context, tick Tick) error {
	payload, err := tick.encode()
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return p.pub.Publish(p.topic, msg)
}

func (p *Publisher) Close() error {
	return p.pub.Close()
}
