// Package approval implements the travel-agency approval workflow: a
// sequential multi-approver state machine with role-based authorization,
// finance-record amount sync, and time-window statistics.
package approval

import (
	"context"

	"github.com/haneul-labs/tripdesk/model"
)

// Store persists approvals. Implementations hand out and accept copies;
// callers never share memory with stored state.
type Store interface {
	// Create persists a new approval. Returns CONFLICT if the ID already
	// exists.
	Create(ctx context.Context, ap model.Approval) error

	// Get retrieves an approval by ID. Soft-deleted approvals are treated as
	// absent. Returns NOT_FOUND if the approval doesn't exist.
	Get(ctx context.Context, id string) (model.Approval, error)

	// Update persists an updated approval with optimistic locking. The
	// version must match the current stored version. Returns CONFLICT if the
	// version has changed.
	Update(ctx context.Context, ap model.Approval) error

	// Find returns approvals matching the filters, newest first, plus the
	// total match count before pagination. Soft-deleted approvals are always
	// excluded.
	Find(ctx context.Context, filters model.ApprovalFilters) ([]model.Approval, int, error)
}
