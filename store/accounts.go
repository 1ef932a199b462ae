package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertAccount returns the account for (userID, email), creating it if
// absent.
func (s *Store) UpsertAccount(ctx context.Context, userID, email string) (*Account, error) {
	acc, err := s.accountByUserEmail(ctx, userID, email)
	if err != nil {
		return nil, err
	}
	if acc != nil {
		return acc, nil
	}

	acc = &Account{
		ID:        s.newID(),
		UserID:    userID,
		Email:     email,
		CreatedAt: time.Now().UnixMilli(),
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO accounts (id, user_id, email, created_at) VALUES (?,?,?,?)`,
		acc.ID, acc.UserID, acc.Email, acc.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("store: insert account: %w", err)
	}
	return acc, nil
}

// GetAccount retrieves an account by ID. Returns nil, nil when absent.
func (s *Store) GetAccount(ctx context.Context, id string) (*Account, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, user_id, email, created_at FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

// AccountForUser returns the user's first account (by creation order), or
// nil when the user has none.
func (s *Store) AccountForUser(ctx context.Context, userID string) (*Account, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, user_id, email, created_at FROM accounts
		 WHERE user_id = ? ORDER BY created_at ASC LIMIT 1`, userID)
	return scanAccount(row)
}

// SaveCredential stores (or replaces) the encrypted secret for an account.
func (s *Store) SaveCredential(ctx context.Context, accountID string, secret []byte, algorithm string) error {
	now := time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO credentials (account_id, secret, algorithm, updated_at)
		VALUES (?,?,?,?)
		ON CONFLICT(account_id) DO UPDATE SET
			secret = excluded.secret,
			algorithm = excluded.algorithm,
			updated_at = excluded.updated_at`,
		accountID, secret, algorithm, now,
	)
	if err != nil {
		return fmt.Errorf("store: save credential: %w", err)
	}
	return nil
}

// GetCredential returns the encrypted credential for an account, or nil
// when none was ever saved.
func (s *Store) GetCredential(ctx context.Context, accountID string) (*Credential, error) {
	var c Credential
	err := s.DB.QueryRowContext(ctx,
		`SELECT account_id, secret, algorithm, updated_at FROM credentials WHERE account_id = ?`,
		accountID).Scan(&c.AccountID, &c.Secret, &c.Algorithm, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get credential: %w", err)
	}
	return &c, nil
}

func (s *Store) accountByUserEmail(ctx context.Context, userID, email string) (*Account, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, user_id, email, created_at FROM accounts WHERE user_id = ? AND email = ?`,
		userID, email)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.UserID, &a.Email, &a.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: scan account: %w", err)
	}
	return &a, nil
}
