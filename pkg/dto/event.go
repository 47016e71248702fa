package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/your-org/faceid/internal/models"
)

type AuthEventResponse struct {
	ID         uuid.UUID `json:"id"`
	AttemptID  uuid.UUID `json:"attempt_id"`
	Method     string    `json:"method"`
	Outcome    string    `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
	IdentityID *string   `json:"identity_id,omitempty"`
	Distance   float64   `json:"distance"`
	Threshold  float64   `json:"threshold"`
	Scanned    int       `json:"scanned"`
	Timestamp  string    `json:"timestamp"`
}

type AuthEventListResponse struct {
	Events []AuthEventResponse `json:"events"`
	Total  int                 `json:"total"`
}

// WSEvent is a WebSocket message for real-time auth event delivery.
type WSEvent struct {
	Type string            `json:"type"` // auth_event
	Data AuthEventResponse `json:"data"`
}

func NewAuthEventResponse(ev *models.AuthEvent) AuthEventResponse {
	return AuthEventResponse{
		ID:         ev.ID,
		AttemptID:  ev.AttemptID,
		Method:     ev.Method,
		Outcome:    string(ev.Outcome),
		Reason:     ev.Reason,
		IdentityID: ev.IdentityID,
		Distance:   ev.Distance,
		Threshold:  ev.Threshold,
		Scanned:    ev.Scanned,
		Timestamp:  ev.Timestamp.UTC().Format(time.RFC3339),
	}
}
