package capability

import "github.com/haneul-labs/tripdesk/model"

// builtinRoles is the default role-to-capability mapping used when no static
// policy file is configured. Admins hold the full approvals namespace, which
// includes the override capability.
var builtinRoles = map[string][]string{
	"admin": {"approvals:*"},
	"approver": {
		model.CapApprovalsView,
		model.CapApprovalsCreate,
		model.CapApprovalsAction,
	},
	"staff": {
		model.CapApprovalsView,
		model.CapApprovalsCreate,
	},
}

// BuiltinPolicyEvaluator resolves capabilities from the compiled-in role
// mapping. It needs no external configuration and never fails.
type BuiltinPolicyEvaluator struct{}

// NewBuiltinPolicyEvaluator creates a new evaluator backed by the built-in
// role mapping.
func NewBuiltinPolicyEvaluator() *BuiltinPolicyEvaluator {
	return &BuiltinPolicyEvaluator{}
}

// ResolveCapabilities returns the union of capabilities for all roles in the
// request context. Unknown roles contribute nothing.
func (e *BuiltinPolicyEvaluator) ResolveCapabilities(rctx *model.RequestContext) (model.CapabilitySet, error) {
	caps := make(model.CapabilitySet)
	for _, role := range rctx.Roles {
		for _, cap := range builtinRoles[role] {
			caps[cap] = true
		}
	}
	return caps, nil
}

// Sync is a no-op; the built-in mapping is compiled in.
func (e *BuiltinPolicyEvaluator) Sync() error { return nil }
