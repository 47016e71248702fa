package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/your-org/faceid/internal/faceid"
	"github.com/your-org/faceid/internal/models"
	"github.com/your-org/faceid/internal/observability"
	"github.com/your-org/faceid/internal/session"
	"github.com/your-org/faceid/pkg/dto"
)

const invalidCredentials = "invalid email or password"

var errInvalidThreshold = errors.New("threshold must be a positive number")

// dummyHash is compared against when the email is unknown so both failure
// paths cost one bcrypt comparison.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("faceid-unknown-user"), bcrypt.DefaultCost)

type AuthHandler struct {
	auth       *faceid.Authenticator
	identities IdentityRepository
	sessions   *session.Issuer
	publisher  EventPublisher
}

// NewAuthHandler builds the login handler. identities and publisher may be
// nil; password login is then unavailable and not audited respectively.
func NewAuthHandler(auth *faceid.Authenticator, identities IdentityRepository, sessions *session.Issuer, publisher EventPublisher) *AuthHandler {
	return &AuthHandler{auth: auth, identities: identities, sessions: sessions, publisher: publisher}
}

// Face authenticates either a JSON probe or a multipart "image" upload.
func (h *AuthHandler) Face(c *gin.Context) {
	ctx := c.Request.Context()

	var attempt *faceid.Attempt
	if isMultipart(c) {
		threshold, err := parseThreshold(c.PostForm("threshold"))
		if err != nil {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		image, err := readImage(c)
		if err != nil {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		attempt = h.auth.AuthenticateImage(ctx, image, threshold)
	} else {
		var req dto.AuthenticateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		if req.Threshold != nil && *req.Threshold <= 0 {
			respondError(c, http.StatusBadRequest, errInvalidThreshold.Error())
			return
		}
		attempt = h.auth.AuthenticateProbe(ctx, faceid.Embedding(req.Probe), req.Threshold)
	}

	c.JSON(attempt.Reason.HTTPStatus(), attemptResponse(attempt))
}

// parseThreshold reads the optional multipart threshold; empty means default.
func parseThreshold(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return nil, errInvalidThreshold
	}
	return &v, nil
}

func attemptResponse(a *faceid.Attempt) dto.AuthenticateResponse {
	resp := dto.AuthenticateResponse{
		AttemptID:     a.ID,
		Matched:       a.Result.Matched,
		Authenticated: a.State == faceid.StateAuthenticated,
		Distance:      a.Result.Distance,
		Threshold:     a.Threshold,
		Scanned:       a.Result.Scanned,
		Session:       sessionResponse(a.Session),
	}
	if a.Result.Matched {
		id := a.Result.IdentityID
		resp.IdentityID = &id
	}
	if !resp.Authenticated {
		resp.Reason = string(a.Reason)
		resp.Message = a.Reason.Message()
		resp.Retryable = a.Reason.Retryable()
	}
	return resp
}

// Password is the fallback login. Unknown email and wrong password produce
// the same response.
func (h *AuthHandler) Password(c *gin.Context) {
	if h.identities == nil {
		respondError(c, http.StatusNotImplemented, "password login is not configured")
		return
	}

	var req dto.PasswordLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	started := time.Now()

	identity, err := h.identities.GetIdentityByEmail(ctx, req.Email)
	if err != nil {
		slog.Error("lookup identity", "error", err)
		respondError(c, http.StatusInternalServerError, "login failed")
		return
	}

	hash := dummyHash
	if identity != nil {
		hash = identity.PasswordHash
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(req.Password)); err != nil || identity == nil {
		h.audit(ctx, nil, models.OutcomeRejected, "invalid_credentials", started)
		respondError(c, http.StatusUnauthorized, invalidCredentials)
		return
	}

	sess, err := h.sessions.Start(ctx, identity.ID.String(), faceid.MethodPassword)
	if err != nil {
		slog.Error("start session", "error", err)
		respondError(c, http.StatusInternalServerError, "login failed")
		return
	}

	id := identity.ID.String()
	h.audit(ctx, &id, models.OutcomeAuthenticated, "", started)
	c.JSON(http.StatusOK, sessionResponse(sess))
}

func (h *AuthHandler) audit(ctx context.Context, identityID *string, outcome models.AuthOutcome, reason string, started time.Time) {
	observability.AuthAttempts.WithLabelValues(faceid.MethodPassword, string(outcome), reason).Inc()
	if h.publisher == nil {
		return
	}
	ev := &models.AuthEvent{
		ID:         uuid.New(),
		AttemptID:  uuid.New(),
		Method:     faceid.MethodPassword,
		Outcome:    outcome,
		Reason:     reason,
		IdentityID: identityID,
		Timestamp:  started,
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := h.publisher.PublishAuthEvent(ctx, ev); err != nil {
		slog.Error("publish auth event", "attempt_id", ev.AttemptID, "error", err)
	}
}

// CurrentSession verifies the bearer token and echoes the session it encodes.
func (h *AuthHandler) CurrentSession(c *gin.Context) {
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || token == "" {
		respondError(c, http.StatusUnauthorized, "missing bearer token")
		return
	}

	sess, err := h.sessions.Verify(token)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "invalid or expired session")
		return
	}
	resp := sessionResponse(sess)
	resp.Token = ""
	c.JSON(http.StatusOK, resp)
}
