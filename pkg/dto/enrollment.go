package dto

import "github.com/google/uuid"

type EnrollRequest struct {
	IdentityID string    `json:"identity_id" binding:"required"`
	Embedding  []float64 `json:"embedding" binding:"required"`
}

type EnrollmentResponse struct {
	RecordID   uuid.UUID `json:"record_id"`
	IdentityID string    `json:"identity_id"`
	Dimension  int       `json:"dimension"`
	ImageKey   string    `json:"image_key,omitempty"`
	EnrolledAt string    `json:"enrolled_at"`
}

type EnrollmentListResponse struct {
	IdentityID string               `json:"identity_id"`
	Records    []EnrollmentResponse `json:"records"`
	Total      int                  `json:"total"`
}

// ErrorResponse carries a user-facing message. Reason is set for face flow failures.
type ErrorResponse struct {
	Error     string `json:"error"`
	Reason    string `json:"reason,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}
