package db

import (
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned by updates that matched no row
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateSend is returned when a second successful send is logged
	// for the same (user, job, channel)
	ErrDuplicateSend = errors.New("notification already sent")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
