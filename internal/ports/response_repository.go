package ports

import (
	"context"
	"errors"

	"fieldsync/internal/domain/survey"
)

var ErrResponseNotFound = errors.New("survey response not found")

// ResponseRepository is the durable queue of captured survey responses.
//
// Writes are transactional; a committed write is observable after process
// restart. The repository honours a transaction handle placed in context
// by the UnitOfWork.
type ResponseRepository interface {
	// InsertOrReplace upserts the full record by id.
	InsertOrReplace(ctx context.Context, resp survey.Response) error

	// GetByID returns ErrResponseNotFound when no row matches.
	GetByID(ctx context.Context, id string) (survey.Response, error)

	// ListPending returns every record with status PENDING or
	// FAILED_RETRYABLE, ordered by created_at ascending, ties broken by id.
	ListPending(ctx context.Context) ([]survey.Response, error)

	// UpdateStatus atomically rewrites the attempt bookkeeping fields.
	// Missing ids are a no-op.
	UpdateStatus(ctx context.Context, id string, status survey.Status, retryCount int, lastAttemptAt int64) error

	// MarkSynced atomically sets status SYNCED and clears media paths.
	MarkSynced(ctx context.Context, id string) error

	// DeleteSyncedBefore removes SYNCED rows with created_at < cutoff and
	// returns the number of rows removed.
	DeleteSyncedBefore(ctx context.Context, cutoff int64) (int64, error)

	// Count returns the total row count across all statuses.
	Count(ctx context.Context) (int64, error)

	// CountByStatus returns row counts grouped by status.
	CountByStatus(ctx context.Context) (map[survey.Status]int64, error)
}
