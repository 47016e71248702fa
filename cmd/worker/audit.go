package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/your-org/faceid/internal/models"
	"github.com/your-org/faceid/internal/observability"
	"github.com/your-org/faceid/internal/queue"
)

type eventWriter interface {
	CreateAuthEvent(ctx context.Context, ev *models.AuthEvent) error
}

type recordFlagger interface {
	FlagForReenrollment(ctx context.Context, recordIDs []uuid.UUID) error
}

// newAuditHandler persists ev and re-applies any re-enrollment flags it
// carries. Both writes are idempotent, so redelivery is harmless.
func newAuditHandler(events eventWriter, flagger recordFlagger) queue.EventHandler {
	return func(ctx context.Context, ev *models.AuthEvent) error {
		if err := events.CreateAuthEvent(ctx, ev); err != nil {
			return fmt.Errorf("persist event %s: %w", ev.AttemptID, err)
		}
		observability.EventsPersisted.Inc()

		if len(ev.MismatchedRecordIDs) > 0 {
			if err := flagger.FlagForReenrollment(ctx, ev.MismatchedRecordIDs); err != nil {
				return fmt.Errorf("flag records for event %s: %w", ev.AttemptID, err)
			}
			slog.Info("records flagged for re-enrollment",
				"attempt_id", ev.AttemptID, "count", len(ev.MismatchedRecordIDs))
		}
		return nil
	}
}
