package database

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
)

// ErrNotFound is returned when an update or lookup matches no row.
var ErrNotFound = errors.New("record not found")

const uniqueViolation = "23505"

// execRequireRows turns a zero-row update into notFoundErr.
func execRequireRows(result sql.Result, err, notFoundErr error) error {
	if err != nil {
		return err
	}
	n, affectedErr := result.RowsAffected()
	if affectedErr != nil {
		return affectedErr
	}
	if n == 0 {
		return notFoundErr
	}
	return nil
}

// IsUniqueViolation reports whether err is a Postgres unique_violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

// splitKeys flattens natural keys into parallel arrays for UNNEST queries.
func splitKeys(keys []domain.ItemKey) ([]int64, []string) {
	ids := make([]int64, len(keys))
	types := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = k.ExternalID
		types[i] = string(k.ContentType)
	}
	return ids, types
}
