package notify

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/mfbutner/pl-autograders/internal/config"
	"github.com/mfbutner/pl-autograders/internal/logger"
	"github.com/mfbutner/pl-autograders/internal/rabbitmq/channel"
	"github.com/mfbutner/pl-autograders/pkg/constants"
	"github.com/mfbutner/pl-autograders/pkg/errors"
	"github.com/mfbutner/pl-autograders/pkg/messages"
	"github.com/mfbutner/pl-autograders/pkg/report"
)

// Notifier publishes a finished report to the result queue. The report file
// stays authoritative; a failed notification never changes the run's outcome.
type Notifier interface {
	Notify(runID string, rep report.Report) error
	Close() error
}

type notifier struct {
	logger    *zap.SugaredLogger
	channel   channel.Channel
	queueName string
	timeout   time.Duration

	mu     sync.Mutex
	closed bool
}

// NewNotifier declares the durable result queue on ch and returns a notifier
// publishing to it.
func NewNotifier(ch channel.Channel, queueName string) (Notifier, error) {
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}
	return &notifier{
		logger:    logger.NewNamedLogger("notifier"),
		channel:   ch,
		queueName: queueName,
		timeout:   constants.RabbitMQPublishTimeout,
	}, nil
}

// Dial connects to the broker described by cfg and returns a ready notifier.
func Dial(cfg config.NotifyConfig) (Notifier, error) {
	ch, err := channel.Dial(cfg.RabbitMQURL)
	if err != nil {
		return nil, err
	}
	n, err := NewNotifier(ch, cfg.QueueName)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	return n, nil
}

func (n *notifier) Notify(runID string, rep report.Report) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return errors.ErrNotifierClosed
	}

	payload, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	body, err := json.Marshal(messages.ResponseQueueMessage{
		Type:      messages.MessageTypeGradingResult,
		MessageID: runID,
		Ok:        rep.Gradable,
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal response message: %w", err)
	}

	n.logger.Infof("Publishing report to queue %s [RunID: %s]", n.queueName, runID)
	return n.publish(amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: runID,
		Timestamp:     time.Now(),
		Body:          body,
	})
}

// publish gives up after n.timeout; the broker call itself may still finish later.
func (n *notifier) publish(msg amqp.Publishing) error {
	done := make(chan error, 1)
	go func() {
		done <- n.channel.Publish("", n.queueName, false, false, msg)
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(n.timeout):
		return fmt.Errorf("publish to %s timed out after %s", n.queueName, n.timeout)
	}
}

func (n *notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	return n.channel.Close()
}
