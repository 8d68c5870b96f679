// internal/store/syncjobs.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "pr-insights/internal/errors"
	"pr-insights/internal/model"
)

// CreateSyncJob opens a RUNNING job row for one sync execution.
func (s *Store) CreateSyncJob(ctx context.Context, accountID int64, trigger model.SyncTrigger, startedAt time.Time) (model.SyncJob, error) {
	row := s.pool.QueryRow(ctx, queryCreateSyncJob, accountID, trigger, startedAt)
	job, err := scanSyncJob(row)
	if err != nil {
		return model.SyncJob{}, fmt.Errorf("create sync job: %w", err)
	}
	return job, nil
}

// FinishSyncJob closes a job as COMPLETED or FAILED with final counters.
func (s *Store) FinishSyncJob(ctx context.Context, id int64, status model.JobStatus, repos, prs, reviews int, errMsg *string) error {
	if _, err := s.pool.Exec(ctx, queryFinishSyncJob, id, status, repos, prs, reviews, errMsg); err != nil {
		return fmt.Errorf("finish sync job: %w", err)
	}
	return nil
}

// LatestSyncJob returns the most recently started job for an account.
func (s *Store) LatestSyncJob(ctx context.Context, accountID int64) (model.SyncJob, error) {
	job, err := scanSyncJob(s.pool.QueryRow(ctx, queryLatestSyncJob, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.SyncJob{}, apperrors.ErrNotFound
	}
	if err != nil {
		return model.SyncJob{}, fmt.Errorf("latest sync job: %w", err)
	}
	return job, nil
}

// FailStaleJobs force-fails jobs still RUNNING past the cutoff. Covers
// processes killed mid-sync, which never reach FinishSyncJob.
func (s *Store) FailStaleJobs(ctx context.Context, startedBefore time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, queryFailStaleJobs, startedBefore)
	if err != nil {
		return 0, fmt.Errorf("fail stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanSyncJob(row pgx.Row) (model.SyncJob, error) {
	var j model.SyncJob
	err := row.Scan(&j.ID, &j.AccountID, &j.Trigger, &j.Status,
		&j.ReposSynced, &j.PRsSynced, &j.ReviewsSynced, &j.Error, &j.StartedAt, &j.CompletedAt)
	return j, err
}
