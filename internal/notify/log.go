package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/haneul-labs/tripdesk/model"
)

// LogSink writes approval results to the application log. It is the default
// driver for deployments without a message broker.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log-backed notification sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// SendApprovalResult logs the message.
func (s *LogSink) SendApprovalResult(_ context.Context, msg model.ApprovalResultMessage) {
	s.logger.Info("approval result notification",
		zap.String("approval_id", msg.ApprovalID),
		zap.String("result", msg.Result),
		zap.Strings("to", msg.To),
		zap.String("message", msg.Message))
}
