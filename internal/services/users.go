// users.go implements dashboard account operations: signup, login, and
// profile retrieval.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/smp-platform/access-gateway/internal/auth"
	"github.com/smp-platform/access-gateway/internal/crypto"
	"github.com/smp-platform/access-gateway/internal/db/models"
	"github.com/smp-platform/access-gateway/internal/db/repositories"
	"github.com/smp-platform/access-gateway/internal/validation"
)

// UserService manages dashboard user accounts.
type UserService struct {
	users     *repositories.UserRepository
	members   *repositories.MembershipRepository
	jwtExpiry time.Duration
}

// NewUserService creates a user service. jwtExpiry is the lifetime of bearer
// tokens issued on login.
func NewUserService(users *repositories.UserRepository, members *repositories.MembershipRepository, jwtExpiry time.Duration) *UserService {
	return &UserService{
		users:     users,
		members:   members,
		jwtExpiry: jwtExpiry,
	}
}

// Signup registers a dashboard user. The email is normalized before storage;
// the password is hashed with Argon2id and the plaintext is never retained.
// A duplicate email surfaces as ErrDuplicateEmail.
func (s *UserService) Signup(ctx context.Context, email, password string) (*models.User, error) {
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Email:        validation.NormalizeEmail(email),
		PasswordHash: hash,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

// Login verifies a password credential and issues a bearer token. Unknown
// email and wrong password both return ErrInvalidCredentials so the endpoint
// cannot be used to probe which emails are registered.
func (s *UserService) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	user, err := s.users.GetUserByEmail(ctx, validation.NormalizeEmail(email))
	if err != nil {
		return "", nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return "", nil, ErrInvalidCredentials
	}

	ok, err := crypto.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return "", nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return "", nil, ErrInvalidCredentials
	}

	token, err := auth.GenerateJWT(user.ID, user.Email, s.jwtExpiry)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return token, user, nil
}

// Profile returns the user together with their organization memberships.
func (s *UserService) Profile(ctx context.Context, userID string) (*models.UserWithMemberships, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	memberships, err := s.members.GetUserMemberships(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load memberships: %w", err)
	}

	return &models.UserWithMemberships{
		User:        *user,
		Memberships: memberships,
	}, nil
}
