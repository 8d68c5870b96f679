// internal/store/repositories.go
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"pr-insights/internal/model"
)

// UpsertRepository creates or updates a repository keyed by
// (account_id, github_repo_id) and refreshes its last-synced timestamp.
func (s *Store) UpsertRepository(ctx context.Context, r model.Repository) (model.Repository, error) {
	row := s.pool.QueryRow(ctx, queryUpsertRepository,
		r.AccountID, r.GithubRepoID, r.Name, r.FullName, r.Description, r.DefaultBranch, r.Private)
	out, err := scanRepository(row)
	if err != nil {
		return model.Repository{}, fmt.Errorf("upsert repository: %w", err)
	}
	return out, nil
}

// ListRepositories returns all repositories for an account.
func (s *Store) ListRepositories(ctx context.Context, accountID int64) ([]model.Repository, error) {
	rows, err := s.pool.Query(ctx, queryListRepositories, accountID)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	var repos []model.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

// SetRepositoryLastSynced stamps one repository after its PRs are synced.
func (s *Store) SetRepositoryLastSynced(ctx context.Context, id int64, t time.Time) error {
	if _, err := s.pool.Exec(ctx, querySetRepositoryLastSynced, id, t); err != nil {
		return fmt.Errorf("set repository last synced: %w", err)
	}
	return nil
}

// DeactivateMissingRepos soft-deactivates repositories no longer visible to
// the account. Only meaningful after a full (non-incremental) fetch, where
// seenIDs is known to be complete.
func (s *Store) DeactivateMissingRepos(ctx context.Context, accountID int64, seenIDs []int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, queryDeactivateMissingRepos, accountID, seenIDs)
	if err != nil {
		return 0, fmt.Errorf("deactivate missing repos: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRepository(row pgx.Row) (model.Repository, error) {
	var r model.Repository
	err := row.Scan(&r.ID, &r.AccountID, &r.GithubRepoID, &r.Name, &r.FullName, &r.Description,
		&r.DefaultBranch, &r.Private, &r.IsActive, &r.LastSyncedAt, &r.DBCreatedAt, &r.DBUpdatedAt)
	return r, err
}
