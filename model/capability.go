package model

import "strings"

// Capabilities consumed by the approval service. Roles are mapped to these
// strings by a PolicyEvaluator; the engine itself only ever checks
// capabilities, never role names.
const (
	CapApprovalsView   = "approvals:view"
	CapApprovalsCreate = "approvals:create"
	CapApprovalsUpdate = "approvals:update"
	CapApprovalsAction = "approvals:action"
	CapApprovalsDelete = "approvals:delete"

	// CapApprovalsOverride is the administrative override: holders may act
	// at any step regardless of the assigned approver, and may reassign an
	// in-flight approval's current step.
	CapApprovalsOverride = "approvals:override"
)

// CapabilitySet is a set of capabilities granted to a user. Each key is a
// capability string (e.g. "approvals:action") and may include wildcards
// (e.g. "approvals:*").
type CapabilitySet map[string]bool

// Has returns true if the set contains the exact capability or a wildcard
// that matches it.
func (cs CapabilitySet) Has(cap string) bool {
	if cs[cap] {
		return true
	}
	for pattern := range cs {
		if matchWildcard(pattern, cap) {
			return true
		}
	}
	return false
}

// HasAll returns true if the set matches all given capabilities (including
// via wildcards).
func (cs CapabilitySet) HasAll(caps ...string) bool {
	for _, cap := range caps {
		if !cs.Has(cap) {
			return false
		}
	}
	return true
}

// HasAny returns true if the set matches at least one of the given
// capabilities (including via wildcards).
func (cs CapabilitySet) HasAny(caps ...string) bool {
	for _, cap := range caps {
		if cs.Has(cap) {
			return true
		}
	}
	return false
}

// matchWildcard returns true if pattern (which may end in "*") matches cap.
// Examples:
//
//	"*"            matches anything
//	"approvals:*"  matches "approvals:action"
//	"approvals:action" does NOT match "approvals:action:x" (exact only)
func matchWildcard(pattern, cap string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.HasSuffix(pattern, ":*") {
		return false
	}
	prefix := pattern[:len(pattern)-1] // "approvals:*" → "approvals:"
	return strings.HasPrefix(cap, prefix)
}

// CapabilityResolver resolves the full capability set for a request context.
type CapabilityResolver interface {
	// Resolve returns all capabilities for the given subject.
	Resolve(rctx *RequestContext) (CapabilitySet, error)

	// Invalidate clears cached capabilities for the given subject.
	Invalidate(subjectID string)
}

// PolicyEvaluator is the backend implementation that resolves capabilities
// from roles and policy configuration.
type PolicyEvaluator interface {
	// ResolveCapabilities returns the full capability set for the given
	// context.
	ResolveCapabilities(rctx *RequestContext) (CapabilitySet, error)

	// Sync refreshes policy data from its source.
	Sync() error
}
