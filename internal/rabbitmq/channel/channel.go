package channel

import (
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mfbutner/pl-autograders/internal/logger"
	"github.com/mfbutner/pl-autograders/pkg/constants"
)

// Channel abstracts the subset of *amqp.Channel used by the project.
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Close() error
}

// AmqpChannel wraps a real *amqp.Channel and the connection it was opened on.
type AmqpChannel struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAmqpChannel(conn *amqp.Connection, ch *amqp.Channel) *AmqpChannel {
	return &AmqpChannel{conn: conn, ch: ch}
}

// Dial connects to the broker and opens a channel, retrying a few times
// with a growing delay.
func Dial(url string) (*AmqpChannel, error) {
	logger := logger.NewNamedLogger("rabbitmq")

	var lastErr error
	for attempt := 1; attempt <= constants.RabbitMQReconnectTries; attempt++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			ch, chErr := conn.Channel()
			if chErr == nil {
				return NewAmqpChannel(conn, ch), nil
			}
			_ = conn.Close()
			err = chErr
		}
		lastErr = err
		logger.Warnf("Failed to connect to RabbitMQ (attempt %d/%d): %s", attempt, constants.RabbitMQReconnectTries, err)
		if attempt < constants.RabbitMQReconnectTries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", lastErr)
}

func (a *AmqpChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return a.ch.Publish(exchange, key, mandatory, immediate, msg)
}

func (a *AmqpChannel) QueueDeclare(name string,
	durable, autoDelete, exclusive, noWait bool,
	args amqp.Table) (amqp.Queue, error) {
	return a.ch.QueueDeclare(name, durable, autoDelete, exclusive, noWait, args)
}

func (a *AmqpChannel) Close() error {
	return errors.Join(a.ch.Close(), a.conn.Close())
}
