// Package sqlite provides a SQLite-backed execution store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/benchhistory/internal/platform/otel"
	"github.com/louisbranch/benchhistory/internal/platform/pagination"
	sqlitemigrate "github.com/louisbranch/benchhistory/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/benchhistory/internal/services/history/execution"
	"github.com/louisbranch/benchhistory/internal/services/history/filter"
	"github.com/louisbranch/benchhistory/internal/services/history/storage"
	"github.com/louisbranch/benchhistory/internal/services/history/storage/sqlite/migrations"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const executionColumns = `uuid, git_ref, started_at, finished_at, type_of, pull_nb, golang_version, sort_key`

// unparsedSortKey orders executions without a readable start after every dated one.
const unparsedSortKey int64 = math.MinInt64

// Store persists execution records in SQLite.
type Store struct {
	sqlDB    *sql.DB
	location *time.Location
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLocation sets the timezone for timestamps stored without an offset.
// The default is UTC.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.location = loc
		}
	}
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// Open opens a SQLite execution store and applies embedded migrations.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(context.Background(), sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	store := &Store{
		sqlDB:    sqlDB,
		location: time.UTC,
		tracer:   otel.Tracer("history/storage/sqlite"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// CreateExecution inserts one execution record.
func (s *Store) CreateExecution(ctx context.Context, record execution.Record) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	ctx, span := s.tracer.Start(ctx, "sqlite.CreateExecution", trace.WithAttributes(
		attribute.String("execution.uuid", record.UUID),
	))
	defer endSpan(span, &err)

	record.UUID = strings.TrimSpace(record.UUID)
	record.GitRef = strings.TrimSpace(record.GitRef)
	record.TypeOf = strings.TrimSpace(record.TypeOf)
	if err := record.Validate(); err != nil {
		return err
	}

	startedMs := s.timestampMillis(record.StartedAt)
	sortKey := unparsedSortKey
	if startedMs.Valid {
		sortKey = startedMs.Int64
	}
	var pullInt sql.NullInt64
	if value, ok := record.PullNB.Int64(); ok {
		pullInt = sql.NullInt64{Int64: value, Valid: true}
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO executions (
		   uuid,
		   git_ref,
		   started_at,
		   finished_at,
		   started_at_ms,
		   finished_at_ms,
		   type_of,
		   pull_nb,
		   pull_nb_int,
		   golang_version,
		   sort_key,
		   created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.UUID,
		record.GitRef,
		record.StartedAt,
		record.FinishedAt,
		startedMs,
		s.timestampMillis(record.FinishedAt),
		record.TypeOf,
		record.PullNB.String(),
		pullInt,
		record.GolangVersion,
		sortKey,
		toMillis(s.now()),
	)
	if err != nil {
		if isExecutionUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

// GetExecution returns one execution by UUID.
func (s *Store) GetExecution(ctx context.Context, uuid string) (record execution.Record, err error) {
	if err := ctx.Err(); err != nil {
		return execution.Record{}, err
	}
	if s == nil || s.sqlDB == nil {
		return execution.Record{}, fmt.Errorf("storage is not configured")
	}
	uuid = strings.TrimSpace(uuid)
	if uuid == "" {
		return execution.Record{}, fmt.Errorf("uuid is required")
	}
	ctx, span := s.tracer.Start(ctx, "sqlite.GetExecution", trace.WithAttributes(
		attribute.String("execution.uuid", uuid),
	))
	defer endSpan(span, &err)

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT `+executionColumns+`
		   FROM executions
		  WHERE uuid = ?`,
		uuid,
	)
	record, _, err = scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return execution.Record{}, storage.ErrNotFound
		}
		return execution.Record{}, fmt.Errorf("get execution: %w", err)
	}
	return record, nil
}

// ListExecutions returns one page of executions, newest start time first.
func (s *Store) ListExecutions(ctx context.Context, query storage.ListQuery) (page storage.ExecutionPage, err error) {
	if err := ctx.Err(); err != nil {
		return storage.ExecutionPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ExecutionPage{}, fmt.Errorf("storage is not configured")
	}
	if query.PageSize <= 0 {
		return storage.ExecutionPage{}, fmt.Errorf("page size must be greater than zero")
	}
	ctx, span := s.tracer.Start(ctx, "sqlite.ListExecutions", trace.WithAttributes(
		attribute.Int("page.size", query.PageSize),
		attribute.String("page.filter", query.Filter),
	))
	defer endSpan(span, &err)

	var (
		clauses []string
		params  []any
	)
	condition, err := filter.Parse(query.Filter)
	if err != nil {
		return storage.ExecutionPage{}, fmt.Errorf("%w: %v", storage.ErrInvalidFilter, err)
	}
	if !condition.Empty() {
		clauses = append(clauses, condition.Clause)
		params = append(params, condition.Params...)
	}
	if token := strings.TrimSpace(query.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return storage.ExecutionPage{}, fmt.Errorf("%w: %v", storage.ErrInvalidPageToken, err)
		}
		clauses = append(clauses, "(sort_key < ? OR (sort_key = ? AND uuid < ?))")
		params = append(params, cursor.SortKey, cursor.SortKey, cursor.ID)
	}

	statement := `SELECT ` + executionColumns + ` FROM executions`
	if len(clauses) > 0 {
		statement += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	statement += ` ORDER BY sort_key DESC, uuid DESC LIMIT ?`
	params = append(params, query.PageSize+1)

	rows, err := s.sqlDB.QueryContext(ctx, statement, params...)
	if err != nil {
		return storage.ExecutionPage{}, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	page.Executions = make([]execution.Record, 0, query.PageSize)
	sortKeys := make([]int64, 0, query.PageSize)
	for rows.Next() {
		record, sortKey, err := scanExecution(rows)
		if err != nil {
			return storage.ExecutionPage{}, fmt.Errorf("list executions: %w", err)
		}
		page.Executions = append(page.Executions, record)
		sortKeys = append(sortKeys, sortKey)
	}
	if err := rows.Err(); err != nil {
		return storage.ExecutionPage{}, fmt.Errorf("list executions: %w", err)
	}
	if len(page.Executions) > query.PageSize {
		last := query.PageSize - 1
		page.NextPageToken = pagination.EncodeCursor(pagination.Cursor{
			SortKey: sortKeys[last],
			ID:      page.Executions[last].UUID,
		})
		page.Executions = page.Executions[:query.PageSize]
	}
	span.SetAttributes(attribute.Int("page.returned", len(page.Executions)))
	return page, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (execution.Record, int64, error) {
	var (
		record  execution.Record
		pullNB  string
		sortKey int64
	)
	if err := row.Scan(
		&record.UUID,
		&record.GitRef,
		&record.StartedAt,
		&record.FinishedAt,
		&record.TypeOf,
		&pullNB,
		&record.GolangVersion,
		&sortKey,
	); err != nil {
		return execution.Record{}, 0, err
	}
	record.PullNB = execution.PullNumber(pullNB)
	return record, sortKey, nil
}

func (s *Store) timestampMillis(value string) sql.NullInt64 {
	parsed, ok := execution.ParseTimestamp(value, s.location)
	if !ok {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(parsed), Valid: true}
}

func endSpan(span trace.Span, err *error) {
	if err != nil && *err != nil && !errors.Is(*err, storage.ErrNotFound) {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}

func isExecutionUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") &&
		strings.Contains(message, "executions.uuid")
}

var _ storage.ExecutionStore = (*Store)(nil)
