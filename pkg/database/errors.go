package database

import (
	"strings"

	"github.com/lib/pq"
	"github.com/track360/track360-backend/pkg/errors"
)

// PostgreSQL error codes we translate.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeNotNullViolation    = "23502"
	codeCheckViolation      = "23514"
)

// IsUniqueViolation reports whether err is a unique constraint violation,
// optionally restricted to constraints whose name contains constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != codeUniqueViolation {
		return false
	}
	return constraint == "" || strings.Contains(pqErr.Constraint, constraint)
}

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return nil
	}

	switch string(pqErr.Code) {
	case codeCheckViolation:
		return mapCheckConstraint(pqErr)

	case codeUniqueViolation:
		return errors.Conflict(formatConstraintMessage(pqErr))

	case codeForeignKeyViolation:
		return errors.BadRequest("referenced record does not exist")

	case codeNotNullViolation:
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	default:
		return nil
	}
}

func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "latitude_range"):
		return errors.Validation(map[string]string{
			"latitude": "must be a latitude between -90 and 90",
		})

	case strings.Contains(constraint, "longitude_range"):
		return errors.Validation(map[string]string{
			"longitude": "must be a longitude between -180 and 180",
		})

	case strings.Contains(constraint, "processed_link"):
		return errors.Conflict("processed flag and processed id must be set together")

	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

func formatConstraintMessage(pqErr *pq.Error) string {
	switch {
	case strings.Contains(pqErr.Constraint, "unprocessed_id"):
		return "video has already been processed"
	default:
		return "a record with these values already exists"
	}
}
