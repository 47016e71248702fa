package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/your-org/faceid/internal/models"
)

// CreateAuthEvent persists an audit row. Redelivered events for the same
// attempt are ignored.
func (s *PostgresStore) CreateAuthEvent(ctx context.Context, ev *models.AuthEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO auth_events (id, attempt_id, method, outcome, reason, identity_id, distance, threshold, scanned, timestamp, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (attempt_id) DO NOTHING`,
		ev.ID, ev.AttemptID, ev.Method, ev.Outcome, ev.Reason, ev.IdentityID,
		ev.Distance, ev.Threshold, ev.Scanned, ev.Timestamp, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("create auth event: %w", err)
	}
	return nil
}

// ListAuthEvents returns the newest events for identityID, or for everyone when identityID is empty.
func (s *PostgresStore) ListAuthEvents(ctx context.Context, identityID string, limit int) ([]models.AuthEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	query := `SELECT id, attempt_id, method, outcome, reason, identity_id, distance, threshold, scanned, timestamp, created_at
		FROM auth_events`
	args := []interface{}{}
	if identityID != "" {
		query += ` WHERE identity_id = $1 ORDER BY timestamp DESC LIMIT $2`
		args = append(args, identityID, limit)
	} else {
		query += ` ORDER BY timestamp DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list auth events: %w", err)
	}
	defer rows.Close()

	var events []models.AuthEvent
	for rows.Next() {
		var ev models.AuthEvent
		if err := rows.Scan(&ev.ID, &ev.AttemptID, &ev.Method, &ev.Outcome, &ev.Reason, &ev.IdentityID,
			&ev.Distance, &ev.Threshold, &ev.Scanned, &ev.Timestamp, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan auth event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
