package main

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/your-org/faceid/internal/models"
)

type fakeEvents struct {
	saved []uuid.UUID
	err   error
}

func (f *fakeEvents) CreateAuthEvent(_ context.Context, ev *models.AuthEvent) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, ev.AttemptID)
	return nil
}

type fakeFlagger struct {
	flagged []uuid.UUID
}

func (f *fakeFlagger) FlagForReenrollment(_ context.Context, ids []uuid.UUID) error {
	f.flagged = append(f.flagged, ids...)
	return nil
}

func TestAuditHandler(t *testing.T) {
	stale := uuid.New()

	tests := []struct {
		name        string
		event       *models.AuthEvent
		storeErr    error
		wantErr     bool
		wantFlagged int
	}{
		{
			name:  "plain event",
			event: &models.AuthEvent{AttemptID: uuid.New(), Outcome: models.OutcomeAuthenticated},
		},
		{
			name:        "event with mismatched records",
			event:       &models.AuthEvent{AttemptID: uuid.New(), Outcome: models.OutcomeRejected, MismatchedRecordIDs: []uuid.UUID{stale}},
			wantFlagged: 1,
		},
		{
			name:     "storage failure is retried",
			event:    &models.AuthEvent{AttemptID: uuid.New(), MismatchedRecordIDs: []uuid.UUID{stale}},
			storeErr: errors.New("connection reset"),
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := &fakeEvents{err: tt.storeErr}
			flagger := &fakeFlagger{}
			err := newAuditHandler(events, flagger)(context.Background(), tt.event)

			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if len(flagger.flagged) != 0 {
					t.Error("records flagged although the event was not persisted")
				}
				return
			}
			if len(events.saved) != 1 || events.saved[0] != tt.event.AttemptID {
				t.Errorf("saved = %v", events.saved)
			}
			if len(flagger.flagged) != tt.wantFlagged {
				t.Errorf("flagged = %v, want %d", flagger.flagged, tt.wantFlagged)
			}
		})
	}
}
