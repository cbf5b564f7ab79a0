// Package repository provides PostgreSQL persistence for the review analysis pipeline.
//
// # Repositories
//
//   - ReportRepository: report lifecycle, compare-and-swap status transitions
//   - SessionRepository: scraping sessions and per-platform scraper status
//   - ReviewRepository: raw reviews written by scrapers
//   - TaskRepository: analysis tasks, lease-based claiming and fenced writes
//   - ThemeRepository: consolidated themes with their quotes and suggestions
//
// # Concurrency
//
// Mutual exclusion between pipeline workers comes only from conditional
// updates. Methods that guard on an expected state return (bool, error); a
// false result means another worker changed the row first and is not an error.
//
// # Transactions
//
// Every implementation takes a DBTX, so the same repository works on the pool
// or inside a pgx.Tx obtained from database.DB.WithTransaction.
package repository

import (
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/happynocode/app-review-analysis/internal/database"
)

// DBTX is the database interface supporting both pool and transaction contexts.
type DBTX = database.DBTX

// PostgreSQL error codes used for constraint violation detection.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Filter pagination defaults and limits.
const (
	defaultFilterLimit = 100
	maxFilterLimit     = 1000
)

// psql builds dynamic statements with $n placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// applyPaginationDefaults clamps limit to [1, maxFilterLimit] and offset to >= 0.
func applyPaginationDefaults(limit, offset *int) {
	if *limit <= 0 {
		*limit = defaultFilterLimit
	}
	if *limit > maxFilterLimit {
		*limit = maxFilterLimit
	}
	if *offset < 0 {
		*offset = 0
	}
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func isPgUniqueViolation(err error) bool {
	return isPgError(err, pgUniqueViolation)
}

func isPgForeignKeyViolation(err error) bool {
	return isPgError(err, pgForeignKeyViolation)
}

// nullString returns a pointer to s if non-empty, otherwise nil.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
