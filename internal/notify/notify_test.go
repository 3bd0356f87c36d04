package notify_test

import (
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/mock/gomock"

	. "github.com/mfbutner/pl-autograders/internal/notify"
	pkgerrors "github.com/mfbutner/pl-autograders/pkg/errors"
	"github.com/mfbutner/pl-autograders/pkg/messages"
	"github.com/mfbutner/pl-autograders/pkg/report"
	"github.com/mfbutner/pl-autograders/tests/mocks"
)

const queue = "grading_results"

func newNotifier(t *testing.T) (Notifier, *mocks.MockChannel) {
	t.Helper()
	ctrl := gomock.NewController(t)
	ch := mocks.NewMockChannel(ctrl)
	ch.EXPECT().QueueDeclare(queue, true, false, false, false, nil).Return(amqp.Queue{Name: queue}, nil)

	n, err := NewNotifier(ch, queue)
	if err != nil {
		t.Fatalf("NewNotifier failed: %v", err)
	}
	return n, ch
}

func TestNotify_PublishesReport(t *testing.T) {
	n, ch := newNotifier(t)

	rep := report.Report{RunID: "run-7", Gradable: true, Score: 0.5, Points: 1, MaxPoints: 2, Tests: []report.TestOutcome{}}

	ch.EXPECT().Publish("", queue, false, false, gomock.AssignableToTypeOf(amqp.Publishing{})).Do(
		func(_ string, _ string, _ bool, _ bool, pub amqp.Publishing) {
			if pub.ContentType != "application/json" || pub.CorrelationId != "run-7" {
				t.Errorf("unexpected publishing headers %+v", pub)
			}
			if pub.DeliveryMode != amqp.Persistent {
				t.Errorf("expected a persistent message")
			}
			var msg messages.ResponseQueueMessage
			if err := json.Unmarshal(pub.Body, &msg); err != nil {
				t.Fatalf("failed to unmarshal message: %v", err)
			}
			if msg.Type != messages.MessageTypeGradingResult || msg.MessageID != "run-7" || !msg.Ok {
				t.Errorf("unexpected envelope %+v", msg)
			}
			var got report.Report
			if err := json.Unmarshal(msg.Payload, &got); err != nil {
				t.Fatalf("failed to unmarshal payload: %v", err)
			}
			if got.Score != 0.5 || got.RunID != "run-7" {
				t.Errorf("unexpected payload %+v", got)
			}
		}).Return(nil)

	if err := n.Notify("run-7", rep); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
}

func TestNotify_UngradableIsNotOk(t *testing.T) {
	n, ch := newNotifier(t)

	ch.EXPECT().Publish("", queue, false, false, gomock.Any()).Do(
		func(_ string, _ string, _ bool, _ bool, pub amqp.Publishing) {
			var msg messages.ResponseQueueMessage
			if err := json.Unmarshal(pub.Body, &msg); err != nil {
				t.Fatalf("failed to unmarshal message: %v", err)
			}
			if msg.Ok {
				t.Errorf("ungradable reports must be published with ok=false")
			}
		}).Return(nil)

	if err := n.Notify("run-8", report.Report{Gradable: false}); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
}

func TestNotify_ReturnsChannelError(t *testing.T) {
	n, ch := newNotifier(t)

	expectedErr := errors.New("publish failed")
	ch.EXPECT().Publish("", queue, false, false, gomock.Any()).Return(expectedErr)

	if err := n.Notify("run-9", report.Report{}); !errors.Is(err, expectedErr) {
		t.Fatalf("expected %v, got %v", expectedErr, err)
	}
}

func TestNewNotifier_DeclareFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	ch := mocks.NewMockChannel(ctrl)
	ch.EXPECT().QueueDeclare(queue, true, false, false, false, nil).Return(amqp.Queue{}, errors.New("access refused"))

	if _, err := NewNotifier(ch, queue); err == nil {
		t.Fatalf("expected an error when the queue cannot be declared")
	}
}

func TestClose_PreventsNotify(t *testing.T) {
	n, ch := newNotifier(t)
	ch.EXPECT().Close().Return(nil).Times(1)

	if err := n.Close(); err != nil {
		t.Fatalf("unexpected error on close: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("second close must be a no-op, got %v", err)
	}

	if err := n.Notify("run-10", report.Report{}); !errors.Is(err, pkgerrors.ErrNotifierClosed) {
		t.Fatalf("expected ErrNotifierClosed, got %v", err)
	}
}
