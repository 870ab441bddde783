// Package queue is the AMQP consumer the job creator runs against the
// message broker: one durable direct exchange and quorum queue, bound
// with an empty routing key, consumed message-by-message with manual
// acknowledgement — mirroring the original's pika-based QueueConsumer.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/isisneutron/jobcontroller/internal/apperrors"
	"github.com/isisneutron/jobcontroller/pkg/metrics"
)

// MessageHandler processes one decoded message body. A returned error
// is logged but never requeues the delivery — the original likewise
// swallows handler errors and moves on rather than blocking the queue
// on a single bad message.
type MessageHandler func(ctx context.Context, body []byte) error

// Consumer owns a connection, channel, and the single queue the job
// creator listens on.
type Consumer struct {
	url       string
	queueName string
	log       *zap.Logger

	conn    *amqp.Connection
	channel *amqp.Channel
}

// Config names the broker connection and queue the Consumer binds to.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Queue    string
}

// New dials the broker and declares the exchange/queue/binding. Port
// defaults to 5672, the AMQP default, matching the original's
// ConnectionParameters(queue_host, 5672, ...).
func New(cfg Config, log *zap.Logger) (*Consumer, error) {
	port := cfg.Port
	if port == 0 {
		port = 5672
	}
	url := fmt.Sprintf("amqp://%s:%s@%s:%d/", cfg.Username, cfg.Password, cfg.Host, port)

	c := &Consumer{url: url, queueName: cfg.Queue, log: log}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Consumer) connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeTransient, "failed to connect to message broker")
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return apperrors.Wrap(err, apperrors.TypeTransient, "failed to open broker channel")
	}

	if err := channel.ExchangeDeclare(c.queueName, "direct", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return apperrors.Wrap(err, apperrors.TypeTransient, "failed to declare exchange")
	}

	_, err = channel.QueueDeclare(c.queueName, true, false, false, false, amqp.Table{
		"x-queue-type": "quorum",
	})
	if err != nil {
		channel.Close()
		conn.Close()
		return apperrors.Wrap(err, apperrors.TypeTransient, "failed to declare queue")
	}

	if err := channel.QueueBind(c.queueName, "", c.queueName, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return apperrors.Wrap(err, apperrors.TypeTransient, "failed to bind queue")
	}

	c.conn = conn
	c.channel = channel
	return nil
}

// Close tears down the channel and connection.
func (c *Consumer) Close() error {
	var err error
	if c.channel != nil {
		err = c.channel.Close()
	}
	if c.conn != nil {
		if cerr := c.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Run consumes messages until ctx is cancelled, invoking heartbeat once
// per loop iteration regardless of whether a message arrived — the Go
// equivalent of the original's callback_func() called every pass of
// start_consuming's outer while loop, used to touch a readiness probe
// file. handle processes each successfully decoded message body.
func (c *Consumer) Run(ctx context.Context, heartbeat func(), handle MessageHandler) error {
	deliveries, err := c.channel.Consume(c.queueName, "", false, false, false, false, nil)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeTransient, "failed to start consuming")
	}

	for {
		if heartbeat != nil {
			heartbeat()
		}

		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return apperrors.New(apperrors.TypeTransient, "broker delivery channel closed")
			}
			c.handleDelivery(ctx, d, handle)
		case <-time.After(5 * time.Second):
			// No delivery within the window; loop back to the heartbeat,
			// mirroring the original's inactivity_timeout=5 consume loop.
		}
	}
}

// handleDelivery mirrors the original's _message_handler: a malformed
// body is logged and discarded (still acked, not requeued), and a
// handler error is logged rather than propagated: as a warning when it
// is a transient AppError, as an error otherwise. Either way the
// delivery is acked exactly once.
func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery, handle MessageHandler) {
	timer := metrics.NewTimer()
	var probe json.RawMessage
	if err := json.Unmarshal(d.Body, &probe); err != nil {
		c.log.Error("error attempting to decode JSON", zap.Error(err), zap.ByteString("body", d.Body))
	} else if err := handle(ctx, d.Body); err != nil {
		if apperrors.IsTransient(err) {
			c.log.Warn("problem processing message, will not be retried", zap.Error(err), zap.ByteString("body", d.Body))
		} else {
			c.log.Error("problem processing message", zap.Error(err), zap.ByteString("body", d.Body))
		}
	}
	timer.RecordQueueConsume()

	if err := d.Ack(false); err != nil {
		c.log.Warn("failed to ack delivery", zap.Error(err))
	}
}
