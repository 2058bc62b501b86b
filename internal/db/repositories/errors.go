// errors.go defines the storage-level sentinel errors raised by this package.
// The service layer re-exports them as part of the domain error taxonomy so
// callers can match everything through one package.
package repositories

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrDuplicateEmail is returned when an insert collides with the unique
	// lower(email) index on users.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrDuplicateKeyDigest is returned when an insert collides with the
	// unique key_hash index on api_keys.
	ErrDuplicateKeyDigest = errors.New("api key digest already exists")

	// ErrLastOwnerProtected is returned when a membership mutation would
	// leave an organization with zero owners. The check runs inside the
	// mutation transaction, so concurrent demotions cannot both pass.
	ErrLastOwnerProtected = errors.New("organization must retain at least one owner")
)

// isUniqueViolation reports whether err is a Postgres unique_violation
// (error code 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
