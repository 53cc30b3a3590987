// Package notify delivers approval result notifications to requesters. Every
// sink is best-effort: failures are logged and never propagated, so a broken
// notification channel cannot affect a committed approval transition.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/haneul-labs/tripdesk/model"
)

// NatsSink publishes approval result messages to NATS for consumption by the
// notification service.
//
// Subject convention: <prefix>.<result>, e.g. notifications.approvals.approved
type NatsSink struct {
	conn          *nats.Conn
	subjectPrefix string
	logger        *zap.Logger
}

// NewNatsSink creates a sink backed by the given NATS connection.
func NewNatsSink(conn *nats.Conn, subjectPrefix string, logger *zap.Logger) *NatsSink {
	return &NatsSink{
		conn:          conn,
		subjectPrefix: subjectPrefix,
		logger:        logger,
	}
}

// SendApprovalResult publishes the message. Failures are logged, not returned.
func (s *NatsSink) SendApprovalResult(_ context.Context, msg model.ApprovalResultMessage) {
	if s.conn == nil || len(msg.To) == 0 {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("notification: failed to marshal message",
			zap.String("approval_id", msg.ApprovalID),
			zap.Error(err))
		return
	}

	subject := fmt.Sprintf("%s.%s", s.subjectPrefix, msg.Result)
	if err := s.conn.Publish(subject, data); err != nil {
		s.logger.Warn("notification: failed to publish (non-fatal)",
			zap.String("subject", subject),
			zap.String("approval_id", msg.ApprovalID),
			zap.Error(err))
		return
	}

	s.logger.Debug("notification: published",
		zap.String("subject", subject),
		zap.String("approval_id", msg.ApprovalID),
		zap.Int("recipients", len(msg.To)))
}

// HealthCheck reports broker connectivity.
func (s *NatsSink) HealthCheck(context.Context) error {
	if s.conn == nil {
		return fmt.Errorf("nats: no connection configured")
	}
	if !s.conn.IsConnected() {
		return fmt.Errorf("nats: connection is %s", s.conn.Status())
	}
	return nil
}
