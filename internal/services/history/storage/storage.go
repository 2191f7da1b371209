// Package storage defines persistence contracts for execution history.
package storage

import (
	"context"
	"errors"

	"github.com/louisbranch/benchhistory/internal/services/history/execution"
)

var (
	// ErrNotFound indicates a requested execution is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates an execution with the same UUID is stored.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrInvalidPageToken indicates a page token that was not issued by the store.
	ErrInvalidPageToken = errors.New("invalid page token")
	// ErrInvalidFilter indicates a filter expression that does not parse.
	ErrInvalidFilter = errors.New("invalid filter")
)

// ListQuery selects one page of executions.
type ListQuery struct {
	PageSize  int
	PageToken string
	// Filter is an AIP-160 expression over execution fields.
	Filter string
}

// ExecutionPage stores one page of executions, newest first.
type ExecutionPage struct {
	Executions    []execution.Record
	NextPageToken string
}

// ExecutionStore persists execution records.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, record execution.Record) error
	GetExecution(ctx context.Context, uuid string) (execution.Record, error)
	ListExecutions(ctx context.Context, query ListQuery) (ExecutionPage, error)
}
