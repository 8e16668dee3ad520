package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// PgError unwraps err into a *pgconn.PgError, or nil when err is not one.
func PgError(err error) *pgconn.PgError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr
	}
	return nil
}
