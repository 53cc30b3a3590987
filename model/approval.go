package model

import (
	"sort"
	"time"
)

// Approval status constants.
const (
	ApprovalStatusPending   = "pending"
	ApprovalStatusApproved  = "approved"
	ApprovalStatusRejected  = "rejected"
	ApprovalStatusCancelled = "cancelled"
)

// Approval target type constants.
const (
	TargetTypeFinance = "finance"
	TargetTypeCustom  = "custom"
)

// Step action constants.
const (
	StepActionApprove = "approve"
	StepActionReject  = "reject"
)

// DefaultCurrency is applied when a custom-target approval is created
// without an explicit currency.
const DefaultCurrency = "KRW"

// ApprovalStep is one position in an approval chain, bound to a single
// approver. Action, Comment and ActedAt stay unset until the approver acts;
// ActedAt is set exactly once, together with Action.
type ApprovalStep struct {
	ApproverID string     `json:"approver_id"`
	Order      int        `json:"order"`
	Action     string     `json:"action,omitempty"`
	Comment    string     `json:"comment,omitempty"`
	ActedAt    *time.Time `json:"acted_at,omitempty"`
}

// Approval is a request progressing through an ordered chain of approvers.
// CurrentStep is the zero-based index of the next unresolved step and equals
// len(Steps) once the approval is fully approved. Steps are always stored
// sorted by Order ascending.
type Approval struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	TargetType  string         `json:"target_type"`
	TargetID    string         `json:"target_id,omitempty"`
	Amount      float64        `json:"amount,omitempty"`
	Currency    string         `json:"currency"`
	Status      string         `json:"status"`
	CurrentStep int            `json:"current_step"`
	Steps       []ApprovalStep `json:"steps"`
	RequesterID string         `json:"requester_id"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   *time.Time     `json:"updated_at,omitempty"`
	DeletedAt   *time.Time     `json:"deleted_at,omitempty"`
	Version     int            `json:"version"`
}

// Clone returns a deep copy of the approval. Stores hand out and accept
// copies so callers can never mutate persisted state in place.
func (a Approval) Clone() Approval {
	c := a
	c.Steps = make([]ApprovalStep, len(a.Steps))
	copy(c.Steps, a.Steps)
	return c
}

// IsTerminal reports whether the approval admits no further actions.
func (a *Approval) IsTerminal() bool {
	return a.Status != ApprovalStatusPending
}

// SortSteps orders the steps by their caller-supplied Order, ascending.
// The sort is stable so equal orders keep their relative position.
func SortSteps(steps []ApprovalStep) {
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Order < steps[j].Order
	})
}

// ApprovalFilters narrows list queries. Zero values mean "no filter".
// Soft-deleted approvals are always excluded regardless of filters.
type ApprovalFilters struct {
	Status      string
	RequesterID string
	// ApproverID matches approvals where any step is assigned to this
	// identity, acted or not.
	ApproverID string
	// AwaitingApproverID matches pending approvals where some step assigned
	// to this identity has not been acted upon yet.
	AwaitingApproverID string
	TargetType         string
	TargetID           string
	// CreatedFrom/CreatedUntil bound CreatedAt as [from, until).
	CreatedFrom  *time.Time
	CreatedUntil *time.Time
	// Limit <= 0 disables pagination.
	Limit  int
	Offset int
}

// Pagination describes the page of results returned by a list query.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// ApprovalPage is a page of approvals plus pagination metadata.
type ApprovalPage struct {
	Data       []Approval `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// ApprovalStats aggregates approvals created within a time window.
// AvgApprovalTime is in whole hours, computed over approved records only.
type ApprovalStats struct {
	Total           int     `json:"total"`
	Pending         int     `json:"pending"`
	Approved        int     `json:"approved"`
	Rejected        int     `json:"rejected"`
	Cancelled       int     `json:"cancelled"`
	AvgApprovalTime float64 `json:"avgApprovalTime"`
}
