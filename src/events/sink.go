package events

import (
	"context"

	logger "github.com/sirupsen/logrus"
)

// Lifecycle event names published by the core. Downstream transports decide
// how to fan them out; the core only calls Publish.
const (
	OrderCreated   = "order.created"
	OrderSubmitted = "order.submitted"
	OrderOpened    = "order.opened"
	OrderFilled    = "order.filled"
	OrderCancelled = "order.cancelled"
	OrderRejected  = "order.rejected"

	PositionOpened  = "position.opened"
	PositionUpdated = "position.updated"
	PositionClosed  = "position.closed"

	TradeExecuted = "trade.executed"

	StopLossTriggered = "position.stop_loss_triggered"
)

// Sink receives lifecycle notifications. Publish is fire-and-forget: callers
// log a returned error and continue, it must never roll back or block a state
// transition that has already been committed.
type Sink interface {
	Publish(ctx context.Context, event string, payload interface{}) error
}

// LogSink writes every event to the application log. It is the default sink
// when no broadcast transport is wired in.
type LogSink struct{}

func NewLogSink() *LogSink {
	return &LogSink{}
}

func (s *LogSink) Publish(_ context.Context, event string, payload interface{}) error {
	logger.WithFields(map[string]interface{}{
		"event":   event,
		"payload": payload,
	}).Info("event published")
	return nil
}

// Publish is the swallow-errors helper used at call sites: it forwards to the
// sink and logs (but never propagates) a failure.
func Publish(ctx context.Context, sink Sink, event string, payload interface{}) {
	if sink == nil {
		return
	}
	if err := sink.Publish(ctx, event, payload); err != nil {
		logger.WithError(err).WithField("event", event).Warn("event sink publish failed, continuing")
	}
}
