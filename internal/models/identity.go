package models

import (
	"time"

	"github.com/google/uuid"
)

// Identity is a registered user. Face enrollments reference it by ID.String().
type Identity struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	Name         string    `json:"name" db:"name"`
	PasswordHash []byte    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// PasswordResetNotice asks the mail sender to deliver a reset link.
type PasswordResetNotice struct {
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
