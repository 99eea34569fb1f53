package postgres

import (
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/devilmonastery/parley/internal/identity"
)

// SQLSTATE codes
const (
	uniqueViolation = pq.ErrorCode("23505")
)

// isUniqueViolation detects PostgreSQL unique constraint violations (SQLSTATE 23505)
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// mapConflict turns a unique violation into identity.ErrConflict. Both the identity
// pair and the generated username can collide with a concurrent signup; in either
// case resolving again sees the other row and succeeds.
func mapConflict(err error) error {
	if !isUniqueViolation(err) {
		return err
	}
	var pqErr *pq.Error
	errors.As(err, &pqErr)
	return fmt.Errorf("%w (constraint %s)", identity.ErrConflict, pqErr.Constraint)
}
