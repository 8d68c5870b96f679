// internal/store/accounts.go
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

// UpsertAccount creates or refreshes an account keyed by the external GitHub
// user id. Re-authentication rotates the stored token in place.
func (s *Store) UpsertAccount(ctx context.Context, a model.Account) (model.Account, error) {
	row := s.pool.QueryRow(ctx, queryUpsertAccount, a.GithubUserID, a.Login, a.EncryptedToken)
	out, err := scanAccount(row)
	if err != nil {
		return model.Account{}, fmt.Errorf("upsert account: %w", err)
	}
	return out, nil
}

// GetAccount fetches one account by internal id.
func (s *Store) GetAccount(ctx context.Context, id int64) (model.Account, error) {
	out, err := scanAccount(s.pool.QueryRow(ctx, queryGetAccount, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, apperrors.ErrNotFound
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("get account: %w", err)
	}
	return out, nil
}

// GetAccountByLogin fetches one account by GitHub login.
func (s *Store) GetAccountByLogin(ctx context.Context, login string) (model.Account, error) {
	out, err := scanAccount(s.pool.QueryRow(ctx, queryGetAccountByLogin, login))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, apperrors.ErrNotFound
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("get account by login: %w", err)
	}
	return out, nil
}

// ListAccounts returns all connected accounts.
func (s *Store) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx, queryListAccounts)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// SetAccountLastSynced records the incremental cursor for the next sync.
func (s *Store) SetAccountLastSynced(ctx context.Context, id int64, t time.Time) error {
	if _, err := s.pool.Exec(ctx, querySetAccountLastSynced, id, t); err != nil {
		return fmt.Errorf("set account last synced: %w", err)
	}
	return nil
}

func scanAccount(row pgx.Row) (model.Account, error) {
	var a model.Account
	err := row.Scan(&a.ID, &a.GithubUserID, &a.Login, &a.EncryptedToken,
		&a.LastSyncedAt, &a.DBCreatedAt, &a.DBUpdatedAt)
	return a, err
}
