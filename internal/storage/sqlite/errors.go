package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/wok-oss/wok/internal/wokerrors"
)

// wrapDBError wraps a database error with operation context, converting
// sql.ErrNoRows to the shared wokerrors.ErrIssueNotFound sentinel so
// callers across packages can all use errors.Is against one taxonomy
// instead of a package-local one.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sqlite: %s: %w", op, wokerrors.ErrIssueNotFound)
	}
	return fmt.Errorf("sqlite: %s: %w", op, err)
}

func wrapDBErrorf(err error, format string, args ...interface{}) error {
	return wrapDBError(fmt.Sprintf(format, args...), err)
}
