package sqlite

import (
	"database/sql"
	"time"
)

// nullableMs maps an optional timestamp onto a nullable INTEGER column.
func nullableMs(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixMilli()
}

func fromNullableMs(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func fromMs(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// nullableText stores empty strings as NULL so partial unique indexes on
// optional keys ignore them.
func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}
