package approval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haneul-labs/tripdesk/model"
)

// StepInput is one requested position in an approval chain.
type StepInput struct {
	ApproverID string `json:"approver_id"`
	Order      int    `json:"order"`
}

// CreateInput is the payload for creating an approval request.
type CreateInput struct {
	Title      string      `json:"title"`
	Content    string      `json:"content"`
	TargetType string      `json:"target_type"`
	TargetID   string      `json:"target_id"`
	Amount     float64     `json:"amount"`
	Currency   string      `json:"currency"`
	Steps      []StepInput `json:"steps"`
}

// UpdateInput is the payload for updating a pending approval. Nil pointers
// mean "leave unchanged"; a nil Steps slice leaves the chain untouched.
type UpdateInput struct {
	Title   *string     `json:"title"`
	Content *string     `json:"content"`
	Steps   []StepInput `json:"steps"`
	Status  string      `json:"status"`
}

// ActionInput is the payload for acting on the current step.
type ActionInput struct {
	Action  string `json:"action"`
	Comment string `json:"comment"`
}

// ListQuery narrows and paginates approval listings.
type ListQuery struct {
	Page        int
	Limit       int
	Status      string
	RequesterID string
	ApproverID  string
	TargetType  string
	TargetID    string
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Engine manages the lifecycle of approval requests. All state transitions
// for one approval are serialized through a per-approval lock; the store's
// optimistic version check backstops multi-node deployments.
type Engine struct {
	store       Store
	finance     model.FinanceLookup
	notifier    model.NotificationSink
	capResolver model.CapabilityResolver

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewEngine creates a new approval engine.
func NewEngine(
	store Store,
	finance model.FinanceLookup,
	notifier model.NotificationSink,
	capResolver model.CapabilityResolver,
) *Engine {
	return &Engine{
		store:       store,
		finance:     finance,
		notifier:    notifier,
		capResolver: capResolver,
		locks:       make(map[string]*sync.Mutex),
	}
}

// lock serializes transitions for a single approval ID.
func (e *Engine) lock(id string) func() {
	e.lockMu.Lock()
	m, ok := e.locks[id]
	if !ok {
		m = &sync.Mutex{}
		e.locks[id] = m
	}
	e.lockMu.Unlock()

	m.Lock()
	return m.Unlock
}

// Create validates the input and persists a new pending approval. For
// finance-target requests the amount and currency are copied from the finance
// record, overriding whatever the caller sent.
func (e *Engine) Create(
	ctx context.Context,
	rctx *model.RequestContext,
	input CreateInput,
) (model.Approval, error) {
	// 1. Structural validation.
	if err := validateCreate(input); err != nil {
		return model.Approval{}, err
	}

	// 2. Finance targets sync monetary fields from the finance service.
	if input.TargetType == model.TargetTypeFinance && input.TargetID != "" {
		record, err := e.finance.FindByID(ctx, input.TargetID)
		if err != nil {
			if env, ok := err.(*model.ErrorEnvelope); ok && env.Code == model.ErrNotFound {
				return model.Approval{}, model.NewInvalidReferenceError("Invalid finance record ID")
			}
			return model.Approval{}, err
		}
		input.Amount = record.Amount
		input.Currency = record.Currency
	}
	if input.Currency == "" {
		input.Currency = model.DefaultCurrency
	}

	// 3. Build the approval with a sorted step chain.
	steps := make([]model.ApprovalStep, len(input.Steps))
	for i, s := range input.Steps {
		steps[i] = model.ApprovalStep{ApproverID: s.ApproverID, Order: s.Order}
	}
	model.SortSteps(steps)

	now := time.Now().UTC()
	ap := model.Approval{
		ID:          uuid.New().String(),
		Title:       input.Title,
		Content:     input.Content,
		TargetType:  input.TargetType,
		TargetID:    input.TargetID,
		Amount:      input.Amount,
		Currency:    input.Currency,
		Status:      model.ApprovalStatusPending,
		CurrentStep: 0,
		Steps:       steps,
		RequesterID: rctx.SubjectID,
		CreatedAt:   now,
		Version:     1,
	}

	// 4. Persist.
	if err := e.store.Create(ctx, ap); err != nil {
		return model.Approval{}, err
	}

	return ap, nil
}

// FindByID returns a single approval. Soft-deleted approvals are reported as
// NOT_FOUND.
func (e *Engine) FindByID(ctx context.Context, id string) (model.Approval, error) {
	return e.store.Get(ctx, id)
}

// List returns a page of approvals matching the query, newest first.
func (e *Engine) List(ctx context.Context, query ListQuery) (model.ApprovalPage, error) {
	page := query.Page
	if page < 1 {
		page = 1
	}
	limit := query.Limit
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	filters := model.ApprovalFilters{
		Status:      query.Status,
		RequesterID: query.RequesterID,
		ApproverID:  query.ApproverID,
		TargetType:  query.TargetType,
		TargetID:    query.TargetID,
		Limit:       limit,
		Offset:      (page - 1) * limit,
	}

	data, total, err := e.store.Find(ctx, filters)
	if err != nil {
		return model.ApprovalPage{}, err
	}

	return model.ApprovalPage{
		Data: data,
		Pagination: model.Pagination{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: (total + limit - 1) / limit,
		},
	}, nil
}

// PendingFor returns pending approvals with an unacted step assigned to the
// given subject, oldest first.
func (e *Engine) PendingFor(ctx context.Context, subjectID string) ([]model.Approval, error) {
	data, _, err := e.store.Find(ctx, model.ApprovalFilters{
		Status:             model.ApprovalStatusPending,
		AwaitingApproverID: subjectID,
	})
	if err != nil {
		return nil, err
	}

	// Find returns newest first; a worklist reads oldest first.
	sort.Slice(data, func(i, j int) bool {
		return data[i].CreatedAt.Before(data[j].CreatedAt)
	})
	return data, nil
}

// Update modifies a pending approval. Step replacement reassigning the
// current step's approver requires the override capability.
func (e *Engine) Update(
	ctx context.Context,
	rctx *model.RequestContext,
	id string,
	input UpdateInput,
) (model.Approval, error) {
	unlock := e.lock(id)
	defer unlock()

	// 1. Load.
	ap, err := e.store.Get(ctx, id)
	if err != nil {
		return model.Approval{}, err
	}

	// 2. Only pending approvals can change.
	if ap.Status != model.ApprovalStatusPending {
		return model.Approval{}, model.NewInvalidStateError("Cannot update non-pending approval")
	}

	// 3. Scalar fields.
	if input.Title != nil {
		ap.Title = *input.Title
	}
	if input.Content != nil {
		ap.Content = *input.Content
	}

	// 4. Step chain replacement.
	if input.Steps != nil {
		if err := validateSteps(input.Steps); err != nil {
			return model.Approval{}, err
		}

		newSteps := make([]model.ApprovalStep, len(input.Steps))
		for i, s := range input.Steps {
			newSteps[i] = model.ApprovalStep{ApproverID: s.ApproverID, Order: s.Order}
		}
		model.SortSteps(newSteps)

		// Reassigning the approver who is currently up requires override.
		if ap.CurrentStep < len(ap.Steps) {
			current := ap.Steps[ap.CurrentStep]
			reassigned := ap.CurrentStep >= len(newSteps) ||
				newSteps[ap.CurrentStep].ApproverID != current.ApproverID
			if reassigned {
				caps, err := e.capResolver.Resolve(rctx)
				if err != nil {
					return model.Approval{}, fmt.Errorf("resolve capabilities: %w", err)
				}
				if !caps.Has(model.CapApprovalsOverride) {
					return model.Approval{}, model.NewForbiddenError(
						"Cannot modify current approval step without admin role")
				}
			}
		}

		ap.Steps = newSteps
	}

	// 5. Cancellation is the only status transition accepted here.
	if input.Status == model.ApprovalStatusCancelled {
		ap.Status = model.ApprovalStatusCancelled
	}

	// 6. Persist with optimistic locking.
	if err := e.store.Update(ctx, ap); err != nil {
		return model.Approval{}, err
	}

	return e.store.Get(ctx, id)
}

// Action records an approve or reject decision on the current step and
// advances the state machine. Terminal transitions notify the requester after
// the write commits.
func (e *Engine) Action(
	ctx context.Context,
	rctx *model.RequestContext,
	id string,
	input ActionInput,
) (model.Approval, error) {
	if input.Action != model.StepActionApprove && input.Action != model.StepActionReject {
		return model.Approval{}, model.NewValidationError([]model.FieldError{
			{Field: "action", Code: "INVALID", Message: "action must be approve or reject"},
		})
	}

	unlock := e.lock(id)
	defer unlock()

	// 1. Load.
	ap, err := e.store.Get(ctx, id)
	if err != nil {
		return model.Approval{}, err
	}

	// 2. Preconditions, checked in a fixed order so callers get stable
	// errors: status, self-approval, step existence, authorization, replay.
	if ap.Status != model.ApprovalStatusPending {
		return model.Approval{}, model.NewConflictError(
			fmt.Sprintf("Cannot %s %s approval", input.Action, ap.Status))
	}

	if ap.RequesterID == rctx.SubjectID {
		return model.Approval{}, model.NewForbiddenError("Requester cannot approve their own request")
	}

	if ap.CurrentStep >= len(ap.Steps) {
		return model.Approval{}, model.NewInvalidStateError("No more approval steps")
	}
	step := &ap.Steps[ap.CurrentStep]

	if step.ApproverID != rctx.SubjectID {
		caps, err := e.capResolver.Resolve(rctx)
		if err != nil {
			return model.Approval{}, fmt.Errorf("resolve capabilities: %w", err)
		}
		if !caps.Has(model.CapApprovalsOverride) {
			return model.Approval{}, model.NewForbiddenError("Not authorized to approve at this step")
		}
	}

	if step.Action != "" {
		return model.Approval{}, model.NewConflictError("This step has already been acted upon")
	}

	// 3. Record the decision.
	now := time.Now().UTC()
	step.Action = input.Action
	step.Comment = input.Comment
	step.ActedAt = &now

	var notification *model.ApprovalResultMessage
	if input.Action == model.StepActionReject {
		// Rejection ends the approval process.
		ap.Status = model.ApprovalStatusRejected
		notification = &model.ApprovalResultMessage{
			ApprovalID: ap.ID,
			Result:     model.ApprovalResultRejected,
			To:         []string{ap.RequesterID},
			Message: fmt.Sprintf("Your approval request %q has been rejected by %s",
				ap.Title, rctx.SubjectID),
		}
	} else {
		ap.CurrentStep++
		if ap.CurrentStep >= len(ap.Steps) {
			// All steps approved.
			ap.Status = model.ApprovalStatusApproved
			notification = &model.ApprovalResultMessage{
				ApprovalID: ap.ID,
				Result:     model.ApprovalResultApproved,
				To:         []string{ap.RequesterID},
				Message: fmt.Sprintf("Your approval request %q has been approved",
					ap.Title),
			}
		}
	}

	// 4. Persist with optimistic locking.
	if err := e.store.Update(ctx, ap); err != nil {
		return model.Approval{}, err
	}

	// 5. Notify only after the transition is durable.
	if notification != nil {
		e.notifier.SendApprovalResult(ctx, *notification)
	}

	return e.store.Get(ctx, id)
}

// Delete soft-deletes an approval. Subsequent reads report NOT_FOUND.
func (e *Engine) Delete(ctx context.Context, id string) error {
	unlock := e.lock(id)
	defer unlock()

	ap, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	ap.DeletedAt = &now
	return e.store.Update(ctx, ap)
}

// Stats aggregates approvals created in the given UTC year, optionally
// narrowed to a single month (1-12, 0 means the whole year). The average
// approval time is the mean, over approved records, of the gap between
// creation and the final step's decision, rounded to whole hours.
func (e *Engine) Stats(ctx context.Context, year, month int) (model.ApprovalStats, error) {
	if year < 1 {
		return model.ApprovalStats{}, model.NewValidationError([]model.FieldError{
			{Field: "year", Code: "REQUIRED", Message: "year is required"},
		})
	}
	if month < 0 || month > 12 {
		return model.ApprovalStats{}, model.NewValidationError([]model.FieldError{
			{Field: "month", Code: "INVALID", Message: "month must be between 1 and 12"},
		})
	}

	var from, until time.Time
	if month == 0 {
		from = time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		until = from.AddDate(1, 0, 0)
	} else {
		from = time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
		until = from.AddDate(0, 1, 0)
	}

	data, _, err := e.store.Find(ctx, model.ApprovalFilters{
		CreatedFrom:  &from,
		CreatedUntil: &until,
	})
	if err != nil {
		return model.ApprovalStats{}, err
	}

	var stats model.ApprovalStats
	stats.Total = len(data)

	var totalApprovalTime time.Duration
	var approvedWithTime int

	for _, ap := range data {
		switch ap.Status {
		case model.ApprovalStatusPending:
			stats.Pending++
		case model.ApprovalStatusApproved:
			stats.Approved++
		case model.ApprovalStatusRejected:
			stats.Rejected++
		case model.ApprovalStatusCancelled:
			stats.Cancelled++
		}

		if ap.Status == model.ApprovalStatusApproved && len(ap.Steps) > 0 {
			last := ap.Steps[len(ap.Steps)-1]
			if last.ActedAt != nil {
				totalApprovalTime += last.ActedAt.Sub(ap.CreatedAt)
				approvedWithTime++
			}
		}
	}

	if approvedWithTime > 0 {
		avg := totalApprovalTime.Hours() / float64(approvedWithTime)
		stats.AvgApprovalTime = math.Round(avg)
	}

	return stats, nil
}

func validateCreate(input CreateInput) error {
	var details []model.FieldError

	if input.Title == "" {
		details = append(details, model.FieldError{
			Field: "title", Code: "REQUIRED", Message: "title is required",
		})
	}
	switch input.TargetType {
	case model.TargetTypeFinance, model.TargetTypeCustom:
	default:
		details = append(details, model.FieldError{
			Field: "target_type", Code: "INVALID", Message: "target_type must be finance or custom",
		})
	}
	details = append(details, stepErrors(input.Steps)...)

	if len(details) > 0 {
		return model.NewValidationError(details)
	}
	return nil
}

func validateSteps(steps []StepInput) error {
	if details := stepErrors(steps); len(details) > 0 {
		return model.NewValidationError(details)
	}
	return nil
}

func stepErrors(steps []StepInput) []model.FieldError {
	var details []model.FieldError

	if len(steps) == 0 {
		return append(details, model.FieldError{
			Field: "steps", Code: "REQUIRED", Message: "at least one step is required",
		})
	}

	seen := make(map[int]bool, len(steps))
	for i, s := range steps {
		if s.ApproverID == "" {
			details = append(details, model.FieldError{
				Field:   fmt.Sprintf("steps[%d].approver_id", i),
				Code:    "REQUIRED",
				Message: "approver_id is required",
			})
		}
		if seen[s.Order] {
			details = append(details, model.FieldError{
				Field:   fmt.Sprintf("steps[%d].order", i),
				Code:    "DUPLICATE",
				Message: fmt.Sprintf("duplicate step order %d", s.Order),
			})
		}
		seen[s.Order] = true
	}
	return details
}
