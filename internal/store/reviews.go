// internal/store/reviews.go
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"pr-insights/internal/model"
)

// UpsertReview creates or updates a review keyed by its globally unique
// GitHub review id. Reviewer and owning PR are immutable after creation; only
// state, body and submission time are overwritten on conflict.
func (s *Store) UpsertReview(ctx context.Context, r model.Review) (model.Review, error) {
	row := s.pool.QueryRow(ctx, queryUpsertReview,
		r.PullRequestID, r.GithubReviewID, r.ReviewerLogin, r.State, r.Body, r.SubmittedAt)
	out, err := scanReview(row)
	if err != nil {
		return model.Review{}, fmt.Errorf("upsert review: %w", err)
	}
	return out, nil
}

// EarliestReviewSubmission returns the first submission time for a PR, or nil
// when it has no reviews.
func (s *Store) EarliestReviewSubmission(ctx context.Context, prID int64) (*time.Time, error) {
	var t *time.Time
	if err := s.pool.QueryRow(ctx, queryEarliestReviewSubmission, prID).Scan(&t); err != nil {
		return nil, fmt.Errorf("earliest review submission: %w", err)
	}
	return t, nil
}

// ListReviewsForPullRequests returns reviews for the given PR ids, oldest
// submission first.
func (s *Store) ListReviewsForPullRequests(ctx context.Context, prIDs []int64) ([]model.Review, error) {
	rows, err := s.pool.Query(ctx, queryListReviewsForPullRequests, prIDs)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var reviews []model.Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

// UpsertComment creates or updates a comment keyed by its GitHub comment id.
func (s *Store) UpsertComment(ctx context.Context, c model.Comment) error {
	_, err := s.pool.Exec(ctx, queryUpsertComment,
		c.PullRequestID, c.GithubCommentID, c.AuthorLogin, c.Body, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert comment: %w", err)
	}
	return nil
}

func scanReview(row pgx.Row) (model.Review, error) {
	var r model.Review
	err := row.Scan(&r.ID, &r.PullRequestID, &r.GithubReviewID, &r.ReviewerLogin,
		&r.State, &r.Body, &r.SubmittedAt)
	return r, err
}
