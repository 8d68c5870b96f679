// internal/store/pullrequests.go
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

// UpsertPullRequest creates or updates a pull request keyed by
// (repository_id, number). A row already in MERGED keeps its state and merge
// timestamp regardless of what the new observation says.
func (s *Store) UpsertPullRequest(ctx context.Context, pr model.PullRequest) (model.PullRequest, error) {
	row := s.pool.QueryRow(ctx, queryUpsertPullRequest,
		pr.RepositoryID, pr.GithubPRID, pr.Number, pr.Title, pr.Body, pr.State, pr.AuthorLogin,
		pr.Additions, pr.Deletions, pr.ChangedFiles, pr.Commits,
		pr.CreatedAt, pr.UpdatedAt, pr.ClosedAt, pr.MergedAt)
	out, err := scanPullRequest(row)
	if err != nil {
		return model.PullRequest{}, fmt.Errorf("upsert pull request: %w", err)
	}
	return out, nil
}

// UpsertPullRequestShallow creates or updates a pull request from a source
// that does not carry the diff stats, such as a review webhook payload. On
// conflict the existing additions/deletions/changed_files/commits values are
// preserved instead of being overwritten with zeros.
func (s *Store) UpsertPullRequestShallow(ctx context.Context, pr model.PullRequest) (model.PullRequest, error) {
	row := s.pool.QueryRow(ctx, queryUpsertPullRequestShallow,
		pr.RepositoryID, pr.GithubPRID, pr.Number, pr.Title, pr.Body, pr.State, pr.AuthorLogin,
		pr.CreatedAt, pr.UpdatedAt, pr.ClosedAt, pr.MergedAt)
	out, err := scanPullRequest(row)
	if err != nil {
		return model.PullRequest{}, fmt.Errorf("upsert pull request shallow: %w", err)
	}
	return out, nil
}

// SetPullRequestTimings writes the derived timing fields. These are always
// recomputed by the syncer, never edited by hand.
func (s *Store) SetPullRequestTimings(ctx context.Context, id int64, firstReviewMin, mergeMin *int64) error {
	if _, err := s.pool.Exec(ctx, querySetPullRequestTimings, id, firstReviewMin, mergeMin); err != nil {
		return fmt.Errorf("set pull request timings: %w", err)
	}
	return nil
}

// GetPullRequestByNumber fetches one PR by its repository and number.
func (s *Store) GetPullRequestByNumber(ctx context.Context, repoID int64, number int) (model.PullRequest, error) {
	out, err := scanPullRequest(s.pool.QueryRow(ctx, queryGetPullRequestByNumber, repoID, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PullRequest{}, apperrors.ErrNotFound
	}
	if err != nil {
		return model.PullRequest{}, fmt.Errorf("get pull request: %w", err)
	}
	return out, nil
}

// ListPullRequestsSince returns the account's PRs created or updated at or
// after since, newest first. An empty authorLogin means no contributor
// filter.
func (s *Store) ListPullRequestsSince(ctx context.Context, accountID int64, since time.Time, authorLogin string) ([]model.PullRequest, error) {
	rows, err := s.pool.Query(ctx, queryListPullRequestsSince, accountID, since, authorLogin)
	if err != nil {
		return nil, fmt.Errorf("list pull requests since: %w", err)
	}
	defer rows.Close()
	return collectPullRequests(rows)
}

// ListPullRequestsForRepo returns all PRs of one repository, newest first.
func (s *Store) ListPullRequestsForRepo(ctx context.Context, repoID int64) ([]model.PullRequest, error) {
	rows, err := s.pool.Query(ctx, queryListPullRequestsForRepo, repoID)
	if err != nil {
		return nil, fmt.Errorf("list pull requests for repo: %w", err)
	}
	defer rows.Close()
	return collectPullRequests(rows)
}

func collectPullRequests(rows pgx.Rows) ([]model.PullRequest, error) {
	var prs []model.PullRequest
	for rows.Next() {
		pr, err := scanPullRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pull request: %w", err)
		}
		prs = append(prs, pr)
	}
	return prs, rows.Err()
}

func scanPullRequest(row pgx.Row) (model.PullRequest, error) {
	var pr model.PullRequest
	err := row.Scan(&pr.ID, &pr.RepositoryID, &pr.GithubPRID, &pr.Number, &pr.Title, &pr.Body,
		&pr.State, &pr.AuthorLogin, &pr.Additions, &pr.Deletions, &pr.ChangedFiles, &pr.Commits,
		&pr.CreatedAt, &pr.UpdatedAt, &pr.ClosedAt, &pr.MergedAt,
		&pr.TimeToFirstReviewMin, &pr.TimeToMergeMin)
	return pr, err
}
