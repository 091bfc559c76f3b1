// Package tasks notifies the task-scheduling engine about newly linked leads.
// Notifications are fire-and-forget from the importer's point of view.
package tasks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	// DefaultExchange is the topic exchange the task engine binds to.
	DefaultExchange = "ex.cadence.tasks"

	RoutingFirstTask   = "task.first"
	RoutingRecalculate = "task.recalculate"
)

// FirstTask asks the engine to create the first task of a lead in a cadence.
type FirstTask struct {
	LeadID    int64 `json:"lead_id"`
	CadenceID int64 `json:"cadence_id"`
	UserID    int64 `json:"user_id"`
}

// Recalculate asks the engine to recount a user's daily tasks.
type Recalculate struct {
	UserID int64 `json:"user_id"`
}

// Notifier is the task-engine port.
type Notifier interface {
	LeadLinked(ctx context.Context, t FirstTask) error
	RecalculateDailyTasks(ctx context.Context, userID int64) error
}

// Nop discards notifications.
type Nop struct{}

func (Nop) LeadLinked(context.Context, FirstTask) error          { return nil }
func (Nop) RecalculateDailyTasks(context.Context, int64) error { return nil }

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPNotifier publishes task messages to a RabbitMQ topic exchange.
type AMQPNotifier struct {
	ch       Channel
	conn     *amqp.Connection
	exchange string
}

// Dial connects to RabbitMQ and declares the task exchange.
func Dial(url, exchange string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, eris.Wrap(err, "tasks: dial amqp")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "tasks: open channel")
	}
	n, err := NewAMQPNotifier(ch, exchange)
	if err != nil {
		conn.Close() //nolint:errcheck
		return nil, err
	}
	n.conn = conn
	return n, nil
}

// NewAMQPNotifier declares the exchange on ch and returns a notifier bound
// to it.
func NewAMQPNotifier(ch Channel, exchange string) (*AMQPNotifier, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, eris.Wrapf(err, "tasks: declare exchange %s", exchange)
	}
	return &AMQPNotifier{ch: ch, exchange: exchange}, nil
}

func (n *AMQPNotifier) LeadLinked(ctx context.Context, t FirstTask) error {
	return n.publish(ctx, RoutingFirstTask, t)
}

func (n *AMQPNotifier) RecalculateDailyTasks(ctx context.Context, userID int64) error {
	return n.publish(ctx, RoutingRecalculate, Recalculate{UserID: userID})
}

func (n *AMQPNotifier) publish(ctx context.Context, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrapf(err, "tasks: marshal %s", key)
	}

	err = n.ch.PublishWithContext(ctx, n.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return eris.Wrapf(err, "tasks: publish %s", key)
	}
	zap.L().Debug("tasks: published", zap.String("routing_key", key), zap.ByteString("body", body))
	return nil
}

// Close closes the channel and, when the notifier dialed it, the connection.
func (n *AMQPNotifier) Close() error {
	err := n.ch.Close()
	if n.conn != nil {
		if cerr := n.conn.Close(); err == nil {
			err = cerr
		}
	}
	return eris.Wrap(err, "tasks: close")
}
