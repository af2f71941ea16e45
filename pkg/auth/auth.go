// Package auth carries the authorization context of internal callers.
// Session issuance lives elsewhere; this package only verifies bearer
// tokens and answers whether a principal may act on a workflow.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/mrlynn/netpad-v3-sub010/pkg/models"
)

var (
	// ErrUnauthenticated is returned when no valid principal is present.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden is returned when a principal may not act on a resource.
	ErrForbidden = errors.New("forbidden")
)

const RoleAdmin = "admin"

// Principal is an authenticated internal caller.
type Principal struct {
	Subject string   `json:"sub"`
	OrgID   string   `json:"org_id"`
	Roles   []string `json:"roles,omitempty"`
}

// HasRole reports whether p carries role.
func (p *Principal) HasRole(role string) bool {
	return p != nil && slices.Contains(p.Roles, role)
}

// Authorizer is the authorization capability for internal triggers.
type Authorizer interface {
	AuthorizeWorkflow(ctx context.Context, principal *Principal, workflow *models.Workflow) error
}

// OrgAuthorizer allows principals to act on their own organization's
// workflows.
type OrgAuthorizer struct{}

// NewOrgAuthorizer creates the default authorizer.
func NewOrgAuthorizer() *OrgAuthorizer {
	return &OrgAuthorizer{}
}

func (a *OrgAuthorizer) AuthorizeWorkflow(_ context.Context, principal *Principal, workflow *models.Workflow) error {
	if principal == nil || principal.OrgID == "" {
		return ErrUnauthenticated
	}

	if principal.OrgID != workflow.OrgID {
		return fmt.Errorf("%w: workflow %s belongs to another organization", ErrForbidden, workflow.ID)
	}

	return nil
}

type principalKey struct{}

// WithPrincipal returns a context carrying principal.
func WithPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// FromContext returns the principal stored in ctx.
func FromContext(ctx context.Context) (*Principal, bool) {
	principal, ok := ctx.Value(principalKey{}).(*Principal)

	return principal, ok && principal != nil
}
