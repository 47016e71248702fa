package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/faceid/internal/faceid"
	"github.com/your-org/faceid/internal/models"
	"github.com/your-org/faceid/pkg/dto"
)

// maxImageBytes bounds uploaded capture images.
const maxImageBytes = 10 << 20

// IdentityRepository persists registered users.
type IdentityRepository interface {
	CreateIdentity(ctx context.Context, email, name string, passwordHash []byte) (*models.Identity, error)
	GetIdentity(ctx context.Context, id uuid.UUID) (*models.Identity, error)
	GetIdentityByEmail(ctx context.Context, email string) (*models.Identity, error)
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, passwordHash []byte) (bool, error)
	DeleteIdentity(ctx context.Context, id uuid.UUID) error
}

// Mailer delivers password reset links.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, token string, expiresAt time.Time) error
}

// ImageArchive keeps enrollment source images.
type ImageArchive interface {
	PutEnrollmentImage(ctx context.Context, identityID string, recordID uuid.UUID, data []byte) (string, error)
	RemoveIdentityImages(ctx context.Context, identityID string) error
}

// EventPublisher emits audit events for flows that bypass the authenticator.
type EventPublisher interface {
	PublishAuthEvent(ctx context.Context, ev *models.AuthEvent) error
}

// EventLister reads persisted audit events.
type EventLister interface {
	ListAuthEvents(ctx context.Context, identityID string, limit int) ([]models.AuthEvent, error)
}

// respondFaceError writes err classified by faceid.ReasonFor. Internal error
// text is never exposed.
func respondFaceError(c *gin.Context, err error) {
	reason := faceid.ReasonFor(err)
	c.JSON(reason.HTTPStatus(), dto.ErrorResponse{
		Error:     reason.Message(),
		Reason:    string(reason),
		Retryable: reason.Retryable(),
	})
}

func respondError(c *gin.Context, status int, msg string) {
	c.JSON(status, dto.ErrorResponse{Error: msg})
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func sessionResponse(s *faceid.Session) *dto.SessionResponse {
	if s == nil {
		return nil
	}
	return &dto.SessionResponse{
		ID:         s.ID,
		Token:      s.Token,
		IdentityID: s.IdentityID,
		Method:     s.Method,
		ExpiresAt:  formatTime(s.ExpiresAt),
	}
}

// readImage returns the "image" multipart file.
func readImage(c *gin.Context) ([]byte, error) {
	fh, err := c.FormFile("image")
	if err != nil {
		return nil, errors.New("image file is required")
	}
	if fh.Size > maxImageBytes {
		return nil, errors.New("image too large")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data := make([]byte, fh.Size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("image file is empty")
	}
	return data, nil
}

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/form-data")
}

func notFound(c *gin.Context, what string) {
	respondError(c, http.StatusNotFound, what+" not found")
}
