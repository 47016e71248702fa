package dto

import "github.com/google/uuid"

// AuthenticateRequest is the JSON form of POST /v1/auth/face. Image uploads
// use multipart with an "image" file field and an optional "threshold" field.
type AuthenticateRequest struct {
	Probe     []float64 `json:"probe" binding:"required"`
	Threshold *float64  `json:"threshold,omitempty"`
}

// AuthenticateResponse reports the match outcome. IdentityID is null when no
// enrolled record crossed the threshold. Authenticated additionally requires a
// session to have been started.
type AuthenticateResponse struct {
	AttemptID     uuid.UUID        `json:"attempt_id"`
	Matched       bool             `json:"matched"`
	Authenticated bool             `json:"authenticated"`
	IdentityID    *string          `json:"identity_id"`
	Distance      float64          `json:"distance"`
	Threshold     float64          `json:"threshold"`
	Scanned       int              `json:"scanned"`
	Reason        string           `json:"reason,omitempty"`
	Message       string           `json:"message,omitempty"`
	Retryable     bool             `json:"retryable,omitempty"`
	Session       *SessionResponse `json:"session,omitempty"`
}

type PasswordLoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type SessionResponse struct {
	ID         uuid.UUID `json:"id"`
	Token      string    `json:"token"`
	IdentityID string    `json:"identity_id"`
	Method     string    `json:"method"`
	ExpiresAt  string    `json:"expires_at"`
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=72"`
	Name     string `json:"name" binding:"required"`
	// Embedding optionally enrolls a face in the same request.
	Embedding []float64 `json:"embedding,omitempty"`
}

type IdentityResponse struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Enrolled  bool      `json:"enrolled"`
	CreatedAt string    `json:"created_at"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type ResetPasswordRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required,min=8,max=72"`
}

type StatusResponse struct {
	Status string `json:"status"`
}
