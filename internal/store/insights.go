// internal/store/insights.go
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	apperrors "pr-insights/internal/errors"
	"pr-insights/internal/model"
)

// ReplaceInsights swaps the account's disposable insight batch: unread,
// undismissed rows are deleted and the new batch inserted in one transaction.
// Read or dismissed insights are user state and are left untouched.
func (s *Store) ReplaceInsights(ctx context.Context, accountID int64, batch []model.Insight) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("replace insights begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, queryDeleteReplaceableInsights, accountID); err != nil {
		return fmt.Errorf("delete replaceable insights: %w", err)
	}

	for _, in := range batch {
		_, err := tx.Exec(ctx, queryInsertInsight,
			accountID, in.Category, in.Severity, in.Title, in.Description,
			in.Recommendation, in.MetricValue, in.AffectedLogins, in.Priority, in.GeneratedAt)
		if err != nil {
			return fmt.Errorf("insert insight %q: %w", in.Category, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("replace insights commit: %w", err)
	}
	return nil
}

// ListInsights returns all insights for an account, highest priority first.
func (s *Store) ListInsights(ctx context.Context, accountID int64) ([]model.Insight, error) {
	rows, err := s.pool.Query(ctx, queryListInsights, accountID)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	defer rows.Close()

	var insights []model.Insight
	for rows.Next() {
		in, err := scanInsight(rows)
		if err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		insights = append(insights, in)
	}
	return insights, rows.Err()
}

// MarkInsightRead flags one insight as read; it then survives batch
// replacement.
func (s *Store) MarkInsightRead(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, queryMarkInsightRead, id)
	if err != nil {
		return fmt.Errorf("mark insight read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// DismissInsight flags one insight as dismissed.
func (s *Store) DismissInsight(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, queryDismissInsight, id)
	if err != nil {
		return fmt.Errorf("dismiss insight: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// UpsertMetricSnapshot writes a per-repository daily rollup; rebuilding the
// same day overwrites the previous row.
func (s *Store) UpsertMetricSnapshot(ctx context.Context, snap model.MetricSnapshot) error {
	_, err := s.pool.Exec(ctx, queryUpsertMetricSnapshot,
		snap.RepositoryID, snap.Day, snap.PRsOpened, snap.PRsMerged,
		snap.CycleTimeP50Min, snap.CycleTimeP95Min, snap.MergeRate)
	if err != nil {
		return fmt.Errorf("upsert metric snapshot: %w", err)
	}
	return nil
}

func scanInsight(row pgx.Row) (model.Insight, error) {
	var in model.Insight
	err := row.Scan(&in.ID, &in.AccountID, &in.Category, &in.Severity, &in.Title, &in.Description,
		&in.Recommendation, &in.MetricValue, &in.AffectedLogins, &in.Priority,
		&in.Read, &in.Dismissed, &in.GeneratedAt)
	return in, err
}
