// membership_repository.go implements MembershipRepository, providing database
// queries for organization membership: role lookup, member listings, and the
// add/update/remove mutations that enforce the at-least-one-owner invariant.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/smp-platform/access-gateway/internal/db/models"
)

// MembershipRepository handles database operations for organization membership
type MembershipRepository struct {
	db *sqlx.DB
}

// NewMembershipRepository creates a new membership repository
func NewMembershipRepository(db *sqlx.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

// GetMember retrieves a user's membership in an organization
func (r *MembershipRepository) GetMember(ctx context.Context, orgID, userID string) (*models.OrganizationMember, error) {
	query := `
		SELECT organization_id, user_id, role, created_at
		FROM organization_members
		WHERE organization_id = $1 AND user_id = $2
	`

	member := &models.OrganizationMember{}
	err := r.db.QueryRowxContext(ctx, query, orgID, userID).Scan(
		&member.OrganizationID,
		&member.UserID,
		&member.Role,
		&member.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}

	return member, nil
}

// UpsertMember adds a user to an organization or updates their existing role.
// Demoting the organization's only owner fails with ErrLastOwnerProtected;
// the owner rows are locked for the duration of the transaction so two
// concurrent demotions serialize and exactly one succeeds.
func (r *MembershipRepository) UpsertMember(ctx context.Context, orgID, userID, role string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	owners, err := lockOwnerRows(ctx, tx, orgID)
	if err != nil {
		return err
	}

	if role != "owner" && len(owners) == 1 && owners[0] == userID {
		return ErrLastOwnerProtected
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO organization_members (organization_id, user_id, role, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (organization_id, user_id) DO UPDATE SET role = EXCLUDED.role
	`, orgID, userID, role)
	if err != nil {
		return fmt.Errorf("failed to upsert member: %w", err)
	}

	return tx.Commit()
}

// RemoveMember removes a user from an organization. Removing the only owner
// fails with ErrLastOwnerProtected under the same row locks as UpsertMember.
// Returns false when no membership row existed.
func (r *MembershipRepository) RemoveMember(ctx context.Context, orgID, userID string) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	owners, err := lockOwnerRows(ctx, tx, orgID)
	if err != nil {
		return false, err
	}

	if len(owners) == 1 && owners[0] == userID {
		return false, ErrLastOwnerProtected
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM organization_members
		WHERE organization_id = $1 AND user_id = $2
	`, orgID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to remove member: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}

	return rows > 0, nil
}

// lockOwnerRows selects the org's owner user ids FOR UPDATE. Under read
// committed a blocked locker re-evaluates against the latest committed rows,
// so a concurrent demotion that already committed is observed here.
func lockOwnerRows(ctx context.Context, tx *sqlx.Tx, orgID string) ([]string, error) {
	rows, err := tx.QueryxContext(ctx, `
		SELECT user_id FROM organization_members
		WHERE organization_id = $1 AND role = 'owner'
		FOR UPDATE
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock owner rows: %w", err)
	}
	defer rows.Close()

	owners := make([]string, 0, 2)
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		owners = append(owners, userID)
	}

	return owners, rows.Err()
}

// CountOwners returns the number of owners in an organization
func (r *MembershipRepository) CountOwners(ctx context.Context, orgID string) (int, error) {
	var count int
	err := r.db.QueryRowxContext(ctx, `
		SELECT COUNT(*) FROM organization_members
		WHERE organization_id = $1 AND role = 'owner'
	`, orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count owners: %w", err)
	}

	return count, nil
}

// ListMembersWithUsers retrieves all members of an organization with user details
func (r *MembershipRepository) ListMembersWithUsers(ctx context.Context, orgID string) ([]*models.OrganizationMemberWithUser, error) {
	query := `
		SELECT om.organization_id, om.user_id, om.role, om.created_at,
		       COALESCE(u.email, '') as user_email
		FROM organization_members om
		LEFT JOIN users u ON om.user_id = u.id
		WHERE om.organization_id = $1
		ORDER BY om.created_at DESC
	`

	rows, err := r.db.QueryxContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	members := make([]*models.OrganizationMemberWithUser, 0)
	for rows.Next() {
		member := &models.OrganizationMemberWithUser{}
		err := rows.Scan(
			&member.OrganizationID,
			&member.UserID,
			&member.Role,
			&member.CreatedAt,
			&member.UserEmail,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, member)
	}

	return members, rows.Err()
}

// GetUserMemberships retrieves all organization memberships for a user with org names
func (r *MembershipRepository) GetUserMemberships(ctx context.Context, userID string) ([]models.UserMembership, error) {
	query := `
		SELECT om.organization_id, COALESCE(o.name, '') as organization_name,
		       om.role, om.created_at
		FROM organization_members om
		LEFT JOIN organizations o ON om.organization_id = o.id
		WHERE om.user_id = $1
		ORDER BY om.created_at DESC
	`

	rows, err := r.db.QueryxContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user memberships: %w", err)
	}
	defer rows.Close()

	memberships := make([]models.UserMembership, 0)
	for rows.Next() {
		m := models.UserMembership{}
		err := rows.Scan(
			&m.OrganizationID,
			&m.OrganizationName,
			&m.Role,
			&m.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}

	return memberships, rows.Err()
}

// ListOwnerEmails returns the email addresses of an organization's owners,
// used by the key expiry notifier.
func (r *MembershipRepository) ListOwnerEmails(ctx context.Context, orgID string) ([]string, error) {
	query := `
		SELECT u.email
		FROM organization_members om
		INNER JOIN users u ON om.user_id = u.id
		WHERE om.organization_id = $1 AND om.role = 'owner'
		ORDER BY u.email
	`

	rows, err := r.db.QueryxContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list owner emails: %w", err)
	}
	defer rows.Close()

	emails := make([]string, 0, 2)
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}

	return emails, rows.Err()
}
