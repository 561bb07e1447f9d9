package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	rediscommon "github.com/H51976/roombox-fyp/common/redis"
	"github.com/H51976/roombox-fyp/internal/events"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Sink where notifications go; *mqtt.Client satisfies it.
type Sink interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// NotificationConsumer reads the lifecycle stream through a consumer group and forwards
// each event to both parties' MQTT topics.
type NotificationConsumer struct {
	redisClient  *redis.Client
	sink         Sink
	logger       *zap.Logger
	stream       string
	groupName    string
	consumerName string
	batchSize    int64
	topicPrefix  string
	qos          byte
	block        time.Duration
}

type Options struct {
	Stream       string
	GroupName    string
	ConsumerName string
	BatchSize    int64
	TopicPrefix  string
	QoS          byte
	// Block how long one XREADGROUP waits for new entries (default 5s)
	Block time.Duration
}

func NewNotificationConsumer(redisClient *redis.Client, sink Sink, logger *zap.Logger, opts Options) *NotificationConsumer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Block == 0 {
		opts.Block = 5 * time.Second
	}
	return &NotificationConsumer{
		redisClient:  redisClient,
		sink:         sink,
		logger:       logger,
		stream:       opts.Stream,
		groupName:    opts.GroupName,
		consumerName: opts.ConsumerName,
		batchSize:    opts.BatchSize,
		topicPrefix:  opts.TopicPrefix,
		qos:          opts.QoS,
		block:        opts.Block,
	}
}

// Start blocks until ctx is cancelled.
func (c *NotificationConsumer) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, c.stream, c.groupName); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Notification consumer started",
		zap.String("stream", c.stream),
		zap.String("consumer_group", c.groupName),
		zap.String("consumer_name", c.consumerName),
	)

	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if _, err := c.consumeEvents(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to consume events",
				zap.Error(err),
				zap.Duration("backoff", backoffDuration),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoffDuration):
				backoffDuration *= 2
				if backoffDuration > maxBackoff {
					backoffDuration = maxBackoff
				}
			}
			continue
		}
		backoffDuration = time.Second
	}
}

// consumeEvents one read/forward/ack round; returns the number of events forwarded.
func (c *NotificationConsumer) consumeEvents(ctx context.Context) (int, error) {
	messages, err := rediscommon.ReadFromStream(ctx, c.redisClient, c.stream, c.groupName, c.consumerName, c.batchSize, c.block)
	if err != nil {
		return 0, fmt.Errorf("failed to read from stream: %w", err)
	}

	forwarded := 0
	for _, msg := range messages {
		ev, err := events.Decode(msg)
		if err != nil {
			// undecodable entries would be redelivered forever
			c.logger.Warn("Dropping malformed lifecycle message", zap.String("message_id", msg.ID), zap.Error(err))
			c.ack(ctx, msg.ID)
			continue
		}
		if err := c.forward(ev); err != nil {
			return forwarded, err
		}
		forwarded++
		c.ack(ctx, msg.ID)
	}
	return forwarded, nil
}

func (c *NotificationConsumer) forward(ev events.LifecycleEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	for _, userID := range recipients(ev) {
		topic := UserTopic(c.topicPrefix, userID)
		if err := c.sink.Publish(topic, c.qos, false, payload); err != nil {
			return fmt.Errorf("notify %s about %s: %w", topic, ev.Type, err)
		}
		c.logger.Debug("Lifecycle notification sent",
			zap.String("topic", topic),
			zap.String("event_type", string(ev.Type)),
			zap.String("booking_id", ev.BookingID),
		)
	}
	return nil
}

func (c *NotificationConsumer) ack(ctx context.Context, id string) {
	if err := rediscommon.Ack(ctx, c.redisClient, c.stream, c.groupName, id); err != nil {
		c.logger.Warn("Failed to ack message", zap.String("message_id", id), zap.Error(err))
	}
}

func recipients(ev events.LifecycleEvent) []string {
	out := make([]string, 0, 2)
	if ev.TenantID != "" {
		out = append(out, ev.TenantID)
	}
	if ev.LandlordID != "" && ev.LandlordID != ev.TenantID {
		out = append(out, ev.LandlordID)
	}
	return out
}

// UserTopic <prefix>/users/<user id>
func UserTopic(prefix, userID string) string {
	return prefix + "/users/" + userID
}
