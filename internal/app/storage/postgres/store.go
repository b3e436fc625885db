// Package postgres implements the coordinator's storage interfaces backed
// by PostgreSQL.
package postgres

import (
	"database/sql"
	"strings"
	"time"

	"github.com/oddurs/prime-coordinator/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var (
	_ storage.SchedulerStore = (*Store)(nil)
	_ storage.RegistryStore  = (*Store)(nil)
	_ storage.PrimeStore     = (*Store)(nil)
	_ storage.CostModelStore = (*Store)(nil)
	_ storage.ReleaseStore   = (*Store)(nil)
)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func toNullString(value string) sql.NullString {
	if strings.TrimSpace(value) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullStringOr(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func nullTimeOr(nt sql.NullTime) time.Time {
	if nt.Valid {
		return nt.Time.UTC()
	}
	return time.Time{}
}
