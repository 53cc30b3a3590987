package approval

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/haneul-labs/tripdesk/model"
)

// MemoryStore is an in-memory Store for testing and single-node deployments.
type MemoryStore struct {
	mu        sync.RWMutex
	approvals map[string]model.Approval
}

// NewMemoryStore creates a new in-memory approval store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		approvals: make(map[string]model.Approval),
	}
}

// Create persists a new approval.
func (s *MemoryStore) Create(_ context.Context, ap model.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.approvals[ap.ID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("approval %q already exists", ap.ID),
		)
	}

	s.approvals[ap.ID] = ap.Clone()
	return nil
}

// Get retrieves an approval by ID. Soft-deleted records are treated as absent.
func (s *MemoryStore) Get(_ context.Context, id string) (model.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ap, exists := s.approvals[id]
	if !exists || ap.DeletedAt != nil {
		return model.Approval{}, model.NewNotFoundError("Approval not found")
	}
	return ap.Clone(), nil
}

// Update persists an updated approval with optimistic locking.
func (s *MemoryStore) Update(_ context.Context, ap model.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.approvals[ap.ID]
	if !exists || existing.DeletedAt != nil {
		return model.NewNotFoundError("Approval not found")
	}

	// Optimistic lock check.
	if existing.Version != ap.Version {
		return model.NewConflictError(
			fmt.Sprintf("approval %q version conflict (expected %d, got %d)", ap.ID, ap.Version, existing.Version),
		)
	}

	stored := ap.Clone()
	stored.Version++
	now := time.Now().UTC()
	stored.UpdatedAt = &now
	s.approvals[ap.ID] = stored
	return nil
}

// Find returns approvals matching the filters, newest first, plus the total
// match count before pagination.
func (s *MemoryStore) Find(_ context.Context, filters model.ApprovalFilters) ([]model.Approval, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Approval
	for _, ap := range s.approvals {
		if !matches(ap, filters) {
			continue
		}
		result = append(result, ap.Clone())
	}

	// Sort by created_at descending, ID as a deterministic tie-break.
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	total := len(result)

	// Apply offset and limit.
	if filters.Offset > 0 {
		if filters.Offset >= len(result) {
			return []model.Approval{}, total, nil
		}
		result = result[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(result) {
		result = result[:filters.Limit]
	}

	return result, total, nil
}

func matches(ap model.Approval, f model.ApprovalFilters) bool {
	if ap.DeletedAt != nil {
		return false
	}
	if f.Status != "" && ap.Status != f.Status {
		return false
	}
	if f.RequesterID != "" && ap.RequesterID != f.RequesterID {
		return false
	}
	if f.TargetType != "" && ap.TargetType != f.TargetType {
		return false
	}
	if f.TargetID != "" && ap.TargetID != f.TargetID {
		return false
	}
	if f.CreatedFrom != nil && ap.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedUntil != nil && !ap.CreatedAt.Before(*f.CreatedUntil) {
		return false
	}
	if f.ApproverID != "" && !hasApprover(ap, f.ApproverID) {
		return false
	}
	if f.AwaitingApproverID != "" && !isAwaiting(ap, f.AwaitingApproverID) {
		return false
	}
	return true
}

func hasApprover(ap model.Approval, approverID string) bool {
	for _, step := range ap.Steps {
		if step.ApproverID == approverID {
			return true
		}
	}
	return false
}

// isAwaiting reports whether the approval is pending with an unacted step
// assigned to approverID.
func isAwaiting(ap model.Approval, approverID string) bool {
	if ap.Status != model.ApprovalStatusPending {
		return false
	}
	for _, step := range ap.Steps {
		if step.ApproverID == approverID && step.ActedAt == nil {
			return true
		}
	}
	return false
}

// Len returns the total number of stored approvals, soft-deleted included.
// For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.approvals)
}

// HealthCheck reports the store as healthy; an in-process map has no failure
// modes worth probing.
func (s *MemoryStore) HealthCheck(context.Context) error {
	return nil
}
