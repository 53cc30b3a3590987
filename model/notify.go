package model

import "context"

// Approval result constants carried by notifications.
const (
	ApprovalResultApproved = "approved"
	ApprovalResultRejected = "rejected"
)

// ApprovalResultMessage is the fire-and-forget message sent to the requester
// once an approval reaches a terminal approve/reject state.
type ApprovalResultMessage struct {
	ApprovalID string   `json:"approval_id"`
	Result     string   `json:"result"`
	To         []string `json:"to"`
	Message    string   `json:"message"`
}

// NotificationSink accepts approval result messages. Implementations are
// best-effort: they log delivery failures and never propagate them, so a
// failed notification can never affect a committed approval transition.
type NotificationSink interface {
	SendApprovalResult(ctx context.Context, msg ApprovalResultMessage)
}
