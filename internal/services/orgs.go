// orgs.go implements organization and membership management. Admins manage
// members and keys; only owners grant or revoke the owner role; the last
// owner can never be demoted or removed. Membership mutations require a user
// principal: an API key manages keys, not the member list.
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/smp-platform/access-gateway/internal/auth"
	"github.com/smp-platform/access-gateway/internal/db/models"
	"github.com/smp-platform/access-gateway/internal/db/repositories"
	"github.com/smp-platform/access-gateway/internal/validation"
)

// OrganizationService manages organizations and their member lists.
type OrganizationService struct {
	orgs       *repositories.OrganizationRepository
	users      *repositories.UserRepository
	members    *repositories.MembershipRepository
	rbac       *RBACService
	defaultRPM int
}

// NewOrganizationService creates an organization service. defaultRPM is the
// rate_limit_rpm assigned to newly created organizations.
func NewOrganizationService(
	orgs *repositories.OrganizationRepository,
	users *repositories.UserRepository,
	members *repositories.MembershipRepository,
	rbac *RBACService,
	defaultRPM int,
) *OrganizationService {
	return &OrganizationService{
		orgs:       orgs,
		users:      users,
		members:    members,
		rbac:       rbac,
		defaultRPM: defaultRPM,
	}
}

// Create provisions an organization with the caller as its first owner. The
// org row and the owner membership commit atomically, so an org without an
// owner is never visible.
func (s *OrganizationService) Create(ctx context.Context, principal *auth.Principal, name string) (*models.Organization, error) {
	if principal.IsAPIKey() {
		return nil, ErrInsufficientRole
	}

	org := &models.Organization{
		Name:         strings.TrimSpace(name),
		RateLimitRPM: s.defaultRPM,
	}
	if err := s.orgs.CreateWithOwner(ctx, org, principal.UserID); err != nil {
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}

	return org, nil
}

// ListForPrincipal returns the orgs the caller belongs to together with the
// caller's role in each. An API key maps to its own org with effective role
// admin.
func (s *OrganizationService) ListForPrincipal(ctx context.Context, principal *auth.Principal) ([]models.UserMembership, error) {
	if principal.IsAPIKey() {
		org, err := s.orgs.GetByID(ctx, principal.OrgID)
		if err != nil {
			return nil, fmt.Errorf("failed to load organization: %w", err)
		}
		if org == nil {
			return []models.UserMembership{}, nil
		}
		return []models.UserMembership{{
			OrganizationID:   org.ID,
			OrganizationName: org.Name,
			Role:             auth.RoleAdmin.String(),
			CreatedAt:        org.CreatedAt,
		}}, nil
	}

	memberships, err := s.members.GetUserMemberships(ctx, principal.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load memberships: %w", err)
	}
	return memberships, nil
}

// ListMembers returns the org's member list. Any member may read it.
func (s *OrganizationService) ListMembers(ctx context.Context, principal *auth.Principal, orgID string) ([]*models.OrganizationMemberWithUser, error) {
	if err := s.rbac.RequireRole(ctx, principal, orgID, auth.RoleMember); err != nil {
		return nil, err
	}

	list, err := s.members.ListMembersWithUsers(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return list, nil
}

// AddOrUpdateMember adds a user (looked up by email) to the org or changes an
// existing member's role. Minimum role admin. Granting owner, or changing the
// role of a current owner, requires the acting principal to be an owner.
// Demoting the last owner fails with ErrLastOwnerProtected.
func (s *OrganizationService) AddOrUpdateMember(ctx context.Context, principal *auth.Principal, orgID, email string, role auth.Role) (*models.OrganizationMemberWithUser, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role: %d", role)
	}
	if principal.IsAPIKey() {
		return nil, ErrInsufficientRole
	}

	actorRole, err := s.rbac.EffectiveRole(ctx, principal, orgID)
	if err != nil {
		return nil, err
	}
	if !actorRole.AtLeast(auth.RoleAdmin) {
		return nil, ErrInsufficientRole
	}

	target, err := s.users.GetUserByEmail(ctx, validation.NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if target == nil {
		return nil, ErrUserNotFound
	}

	// Touching the owner role in either direction is owner-only: granting it,
	// or changing the role of someone who currently holds it.
	needsOwner := role == auth.RoleOwner
	if !needsOwner {
		current, err := s.members.GetMember(ctx, orgID, target.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load membership: %w", err)
		}
		needsOwner = current != nil && current.Role == auth.RoleOwner.String()
	}
	if needsOwner && !actorRole.AtLeast(auth.RoleOwner) {
		return nil, ErrInsufficientRole
	}

	if err := s.members.UpsertMember(ctx, orgID, target.ID, role.String()); err != nil {
		return nil, err
	}

	member, err := s.members.GetMember(ctx, orgID, target.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load membership after update: %w", err)
	}
	if member == nil {
		return nil, fmt.Errorf("membership missing after update for user %s in org %s", target.ID, orgID)
	}

	return &models.OrganizationMemberWithUser{
		OrganizationID: orgID,
		UserID:         target.ID,
		Role:           member.Role,
		CreatedAt:      member.CreatedAt,
		UserEmail:      target.Email,
	}, nil
}

// RemoveMember deletes a membership. Minimum role admin; removing an owner
// requires owner; removing the last owner fails with ErrLastOwnerProtected.
func (s *OrganizationService) RemoveMember(ctx context.Context, principal *auth.Principal, orgID, userID string) error {
	if principal.IsAPIKey() {
		return ErrInsufficientRole
	}

	actorRole, err := s.rbac.EffectiveRole(ctx, principal, orgID)
	if err != nil {
		return err
	}
	if !actorRole.AtLeast(auth.RoleAdmin) {
		return ErrInsufficientRole
	}

	current, err := s.members.GetMember(ctx, orgID, userID)
	if err != nil {
		return fmt.Errorf("failed to load membership: %w", err)
	}
	if current == nil {
		return ErrMemberNotFound
	}
	if current.Role == auth.RoleOwner.String() && !actorRole.AtLeast(auth.RoleOwner) {
		return ErrInsufficientRole
	}

	found, err := s.members.RemoveMember(ctx, orgID, userID)
	if err != nil {
		return err
	}
	if !found {
		return ErrMemberNotFound
	}
	return nil
}
