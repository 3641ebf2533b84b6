package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DefaultQueueName is the durable queue ImageDownloaded events are forwarded to.
const DefaultQueueName = "avatar.downloaded"

var errMissingAMQPURL = errors.New("notify: amqp url is required")

// AMQPForwarderConfig configures an AMQPForwarder.
type AMQPForwarderConfig struct {
	URL       string
	QueueName string
	Logger    *zap.Logger
}

// AMQPForwarder republishes dispatcher events to a message broker.
// Failures are logged and dropped.
type AMQPForwarder struct {
	url       string
	queueName string
	logger    *zap.Logger
}

// NewAMQPForwarder validates the configuration.
func NewAMQPForwarder(cfg AMQPForwarderConfig) (*AMQPForwarder, error) {
	if cfg.URL == "" {
		return nil, errMissingAMQPURL
	}
	queueName := cfg.QueueName
	if queueName == "" {
		queueName = DefaultQueueName
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQPForwarder{url: cfg.URL, queueName: queueName, logger: logger}, nil
}

// Run forwards events from the stream until it closes.
func (f *AMQPForwarder) Run(ctx context.Context, events <-chan ImageDownloaded) {
	for event := range events {
		if err := f.Publish(ctx, event); err != nil {
			f.logger.Warn("avatar event forward failed",
				zap.String("event_id", event.EventID),
				zap.String("comment_id", event.CommentID),
				zap.Error(err))
		}
	}
}

// Publish sends one event as a persistent JSON message.
func (f *AMQPForwarder) Publish(ctx context.Context, event ImageDownloaded) error {
	publishing, err := newPublishing(event)
	if err != nil {
		return err
	}

	conn, err := amqp.Dial(f.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	channel, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp channel: %w", err)
	}
	defer func() { _ = channel.Close() }()

	if _, err := channel.QueueDeclare(f.queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp queue declare: %w", err)
	}

	if err := channel.PublishWithContext(ctx, "", f.queueName, false, false, publishing); err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

func newPublishing(event ImageDownloaded) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}
	timestamp := event.At
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.EventID,
		Type:         EventImageDownloaded,
		Timestamp:    timestamp.UTC(),
		Body:         body,
	}, nil
}
