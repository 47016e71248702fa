package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/your-org/faceid/internal/models"
)

var ErrIdentityExists = errors.New("identity already exists")

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *PostgresStore) CreateIdentity(ctx context.Context, email, name string, passwordHash []byte) (*models.Identity, error) {
	id := &models.Identity{
		ID:           uuid.New(),
		Email:        normalizeEmail(email),
		Name:         name,
		PasswordHash: passwordHash,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO identities (id, email, name, password_hash) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		id.ID, id.Email, id.Name, id.PasswordHash,
	).Scan(&id.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrIdentityExists, id.Email)
		}
		return nil, fmt.Errorf("create identity: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetIdentity(ctx context.Context, id uuid.UUID) (*models.Identity, error) {
	return s.getIdentity(ctx, `SELECT id, email, name, password_hash, created_at FROM identities WHERE id = $1`, id)
}

func (s *PostgresStore) GetIdentityByEmail(ctx context.Context, email string) (*models.Identity, error) {
	return s.getIdentity(ctx, `SELECT id, email, name, password_hash, created_at FROM identities WHERE email = $1`, normalizeEmail(email))
}

func (s *PostgresStore) getIdentity(ctx context.Context, sql string, arg interface{}) (*models.Identity, error) {
	id := &models.Identity{}
	err := s.pool.QueryRow(ctx, sql, arg).Scan(&id.ID, &id.Email, &id.Name, &id.PasswordHash, &id.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return id, nil
}

// UpdatePasswordHash replaces the stored bcrypt hash. It reports whether the
// identity exists.
func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, id uuid.UUID, passwordHash []byte) (bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE identities SET password_hash = $2 WHERE id = $1`, id, passwordHash)
	if err != nil {
		return false, fmt.Errorf("update password: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteIdentity removes the identity row. Face enrollments are keyed by the
// identity string and are removed through the enrollment store.
func (s *PostgresStore) DeleteIdentity(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM identities WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	return nil
}
