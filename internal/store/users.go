package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/aegishub/aegishub-go/internal/errors"
	"github.com/aegishub/aegishub-go/internal/models"
)

// UpsertUser inserts or replaces an account.
func (s *Store) UpsertUser(ctx context.Context, u models.User) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO users (id, username, password_hash, role, org_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				username = excluded.username,
				password_hash = excluded.password_hash,
				role = excluded.role,
				org_id = excluded.org_id`,
			u.ID, u.Username, u.PasswordHash, u.Role, u.OrgID, u.CreatedAt.Unix())
		if err != nil {
			return fmt.Errorf("upsert user %s: %w", u.Username, err)
		}
		return nil
	})
}

// GetUserByUsername loads an account for login.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, role, org_id, created_at FROM users WHERE username = ?`, username)

	var (
		u         models.User
		createdAt int64
	)
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.OrgID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("get_user", username)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", username, err)
	}
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &u, nil
}

// GetUser loads an account by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, role, org_id, created_at FROM users WHERE id = ?`, id)

	var (
		u         models.User
		createdAt int64
	)
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.OrgID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("get_user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &u, nil
}
