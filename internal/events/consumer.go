package events

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pkg/errors"
	"github.com/streadway/amqp"
)

// AMQPSettings represents the settings that we require in order to connect
// to the AMQP exchange.
type AMQPSettings struct {
	URI          string
	ExchangeName string
	ExchangeType string
	QueueName    string
}

// Consumer dispatches deliveries to handlers by routing key prefix. A
// handler registered for "notification" receives "notification.*" keys.
type Consumer struct {
	settings   *AMQPSettings
	handlerFor map[string]MessageHandler

	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewConsumer connects to the broker and declares the exchange and queue.
func NewConsumer(settings *AMQPSettings, handlerFor map[string]MessageHandler) (*Consumer, error) {
	wrapMsg := "unable to create the event consumer"

	conn, err := amqp.Dial(settings.URI)
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, wrapMsg)
	}

	c := &Consumer{
		settings:   settings,
		handlerFor: handlerFor,
		conn:       conn,
		channel:    channel,
	}
	if err := c.declare(); err != nil {
		c.Close()
		return nil, errors.Wrap(err, wrapMsg)
	}

	return c, nil
}

func (c *Consumer) declare() error {
	exchangeType := c.settings.ExchangeType
	if exchangeType == "" {
		exchangeType = amqp.ExchangeTopic
	}

	err := c.channel.ExchangeDeclare(c.settings.ExchangeName, exchangeType, true, false, false, false, nil)
	if err != nil {
		return err
	}

	queue, err := c.channel.QueueDeclare(c.settings.QueueName, true, false, false, false, nil)
	if err != nil {
		return err
	}

	for prefix := range c.handlerFor {
		if err := c.channel.QueueBind(queue.Name, prefix+".#", c.settings.ExchangeName, false, nil); err != nil {
			return err
		}
	}

	return c.channel.Qos(16, 0, false)
}

// Run consumes deliveries until ctx is done or the channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.channel.Consume(c.settings.QueueName, "", false, false, false, false, nil)
	if err != nil {
		return errors.Wrap(err, "unable to start consuming")
	}

	slog.Info("[AMQP] Consuming events", "queue", c.settings.QueueName, "exchange", c.settings.ExchangeName)

	for {
		select {
		case <-ctx.Done():
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.Dispatch(ctx, delivery, delivery.Acknowledger, delivery.DeliveryTag)
		}
	}
}

// Dispatch runs the handler for delivery and settles it: ack on success,
// requeue on recoverable errors, reject otherwise.
func (c *Consumer) Dispatch(ctx context.Context, delivery amqp.Delivery, ack amqp.Acknowledger, tag uint64) {
	handler := c.handlerForKey(delivery.RoutingKey)
	if handler == nil {
		slog.Warn("[AMQP] No handler for routing key", "key", delivery.RoutingKey)
		logSettleError(ack.Reject(tag, false))
		return
	}

	err := handler.HandleMessage(ctx, delivery)
	switch err.(type) {
	case nil:
		logSettleError(ack.Ack(tag, false))
	case RecoverableError:
		slog.Warn("[AMQP] Recoverable error, requeueing", "key", delivery.RoutingKey, "error", err)
		logSettleError(ack.Nack(tag, false, true))
	default:
		slog.Error("[AMQP] Unrecoverable error, rejecting", "key", delivery.RoutingKey, "error", err)
		logSettleError(ack.Reject(tag, false))
	}
}

func (c *Consumer) handlerForKey(routingKey string) MessageHandler {
	prefix, _, _ := strings.Cut(routingKey, ".")
	return c.handlerFor[prefix]
}

func (c *Consumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

func logSettleError(err error) {
	if err != nil {
		slog.Error("[AMQP] Failed to settle delivery", "error", err)
	}
}
