// rbac.go answers role questions for org-scoped operations. The guard only
// decides; membership mutations happen in the repository layer behind their
// own transactional last-owner re-check.
package services

import (
	"context"
	"fmt"

	"github.com/smp-platform/access-gateway/internal/auth"
	"github.com/smp-platform/access-gateway/internal/db/repositories"
)

// RBACService evaluates a principal's role within an organization.
type RBACService struct {
	members *repositories.MembershipRepository
}

// NewRBACService creates an RBAC guard.
func NewRBACService(members *repositories.MembershipRepository) *RBACService {
	return &RBACService{members: members}
}

// EffectiveRole returns the principal's role within orgID.
//
// API keys are org-scoped service credentials: within their own org they act
// with effective role admin without holding a membership row; in any other
// org they are strangers. User principals are looked up in
// organization_members.
func (s *RBACService) EffectiveRole(ctx context.Context, principal *auth.Principal, orgID string) (auth.Role, error) {
	if principal.IsAPIKey() {
		if principal.OrgID != orgID {
			return 0, ErrNotAMember
		}
		return auth.RoleAdmin, nil
	}

	member, err := s.members.GetMember(ctx, orgID, principal.UserID)
	if err != nil {
		return 0, fmt.Errorf("failed to load membership: %w", err)
	}
	if member == nil {
		return 0, ErrNotAMember
	}

	role, err := auth.ParseRole(member.Role)
	if err != nil {
		return 0, fmt.Errorf("corrupt membership row for user %s in org %s: %w", principal.UserID, orgID, err)
	}
	return role, nil
}

// RequireRole returns nil when the principal holds at least min within orgID,
// ErrNotAMember when it holds no role there, and ErrInsufficientRole when its
// role is below min.
func (s *RBACService) RequireRole(ctx context.Context, principal *auth.Principal, orgID string, min auth.Role) error {
	role, err := s.EffectiveRole(ctx, principal, orgID)
	if err != nil {
		return err
	}
	if !role.AtLeast(min) {
		return ErrInsufficientRole
	}
	return nil
}
