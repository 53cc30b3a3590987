package notify

import (
	"context"
	"sync"

	"github.com/haneul-labs/tripdesk/model"
)

// MemorySink collects messages in memory. For testing.
type MemorySink struct {
	mu       sync.Mutex
	messages []model.ApprovalResultMessage
}

// NewMemorySink creates an in-memory notification sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// SendApprovalResult records the message.
func (s *MemorySink) SendApprovalResult(_ context.Context, msg model.ApprovalResultMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

// Messages returns a copy of everything sent so far.
func (s *MemorySink) Messages() []model.ApprovalResultMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ApprovalResultMessage, len(s.messages))
	copy(out, s.messages)
	return out
}
