package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/casestore/internal/common"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// mapError translates driver errors into the common error kinds.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return common.NewStorageError(op, err)
	}

	switch pgErr.Code {
	case pgerrcode.ForeignKeyViolation:
		// a delete blocked by dependents is an ordinary violation; a write
		// pointing at an absent row may succeed once the row arrives
		if removes(op) {
			return fmt.Errorf("%s: %w: %s", op, common.ErrConstraintViolation, pgErr.Message)
		}
		return fmt.Errorf("%s: %w: %s", op, common.ErrMissingReference, pgErr.Message)
	case pgerrcode.UniqueViolation,
		pgerrcode.CheckViolation,
		pgerrcode.NotNullViolation,
		pgerrcode.ExclusionViolation:
		return fmt.Errorf("%s: %w: %s", op, common.ErrConstraintViolation, pgErr.Message)
	case pgerrcode.InsufficientPrivilege:
		return fmt.Errorf("%s: %w: %s", op, common.ErrPermissionDenied, pgErr.Message)
	case pgerrcode.InvalidAuthorizationSpecification,
		pgerrcode.InvalidPassword:
		return fmt.Errorf("%s: %w: %s", op, common.ErrNotAuthenticated, pgErr.Message)
	case pgerrcode.InvalidTextRepresentation,
		pgerrcode.InvalidDatetimeFormat,
		pgerrcode.DatetimeFieldOverflow,
		pgerrcode.NumericValueOutOfRange,
		pgerrcode.StringDataRightTruncationDataException,
		pgerrcode.InvalidParameterValue:
		return fmt.Errorf("%s: %w: %s", op, common.ErrValidation, pgErr.Message)
	}
	return common.NewStorageError(op, err)
}

func removes(op string) bool {
	return strings.Contains(op, "delete") || strings.HasPrefix(op, "clear")
}
