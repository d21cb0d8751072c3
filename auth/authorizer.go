package auth

import (
	"context"
	"fmt"
)

// Admin API actions.
const (
	ActionReadSegments  = "segments:read"
	ActionWriteSegments = "segments:write"
	ActionSweep         = "sweep"
)

// Roles understood by DefaultPolicy.
const (
	RoleAdmin  = "admin"
	RoleWriter = "writer"
	RoleReader = "reader"
)

// DefaultPolicy lets readers list tokens, writers bump them, and admins do
// everything.
var DefaultPolicy = map[string][]string{
	ActionReadSegments:  {RoleReader, RoleWriter, RoleAdmin},
	ActionWriteSegments: {RoleWriter, RoleAdmin},
	ActionSweep:         {RoleAdmin},
}

// Authorizer decides whether an identity may perform an action.
type Authorizer interface {
	Authorize(ctx context.Context, id *Identity, action string) error
}

// DeniedError reports a refused action. It matches ErrForbidden.
type DeniedError struct {
	Principal string
	Action    string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("auth: %q may not %s", e.Principal, e.Action)
}

func (e *DeniedError) Is(target error) bool { return target == ErrForbidden }

// RoleAuthorizer allows an action when the identity holds one of the roles
// listed for it. Unlisted actions are denied.
type RoleAuthorizer struct {
	policy map[string][]string
}

// NewRoleAuthorizer creates an authorizer over policy, or DefaultPolicy when
// policy is nil.
func NewRoleAuthorizer(policy map[string][]string) *RoleAuthorizer {
	if policy == nil {
		policy = DefaultPolicy
	}
	return &RoleAuthorizer{policy: policy}
}

func (a *RoleAuthorizer) Authorize(_ context.Context, id *Identity, action string) error {
	for _, role := range a.policy[action] {
		if id.HasRole(role) {
			return nil
		}
	}
	principal := ""
	if id != nil {
		principal = id.Principal
	}
	return &DeniedError{Principal: principal, Action: action}
}

// AllowAll permits everything. For deployments without credentials.
type AllowAll struct{}

func (AllowAll) Authorize(context.Context, *Identity, string) error { return nil }

var (
	_ Authorizer = (*RoleAuthorizer)(nil)
	_ Authorizer = AllowAll{}
)
