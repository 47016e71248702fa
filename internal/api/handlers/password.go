package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/your-org/faceid/internal/session"
	"github.com/your-org/faceid/pkg/dto"
)

const (
	resetAccepted = "if the account exists, a reset link has been sent"
	resetInvalid  = "invalid or expired reset token"
)

// PasswordHandler serves the forgot and reset steps of password recovery.
type PasswordHandler struct {
	identities IdentityRepository
	sessions   *session.Issuer
	mailer     Mailer
	ttl        time.Duration
}

func NewPasswordHandler(identities IdentityRepository, sessions *session.Issuer, mailer Mailer, ttl time.Duration) *PasswordHandler {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &PasswordHandler{identities: identities, sessions: sessions, mailer: mailer, ttl: ttl}
}

// Forgot issues a reset token and hands it to the mailer. The response is the
// same whether or not the email is registered.
func (h *PasswordHandler) Forgot(c *gin.Context) {
	var req dto.ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	identity, err := h.identities.GetIdentityByEmail(ctx, req.Email)
	if err != nil {
		slog.Error("lookup identity", "error", err)
		respondError(c, http.StatusInternalServerError, "password reset failed")
		return
	}
	if identity != nil {
		token, expires, err := h.sessions.IssueReset(identity.ID, identity.PasswordHash, h.ttl)
		if err != nil {
			slog.Error("issue reset token", "identity_id", identity.ID, "error", err)
			respondError(c, http.StatusInternalServerError, "password reset failed")
			return
		}
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		err = h.mailer.SendPasswordReset(sendCtx, identity.Email, token, expires)
		cancel()
		if err != nil {
			slog.Error("send password reset", "identity_id", identity.ID, "error", err)
		}
	}
	c.JSON(http.StatusAccepted, dto.StatusResponse{Status: resetAccepted})
}

// Reset sets a new password. A token is accepted only while the password it
// was issued against is still current, so each token works once.
func (h *PasswordHandler) Reset(c *gin.Context) {
	var req dto.ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	id, claims, err := h.sessions.VerifyReset(req.Token)
	if err != nil {
		respondError(c, http.StatusBadRequest, resetInvalid)
		return
	}

	ctx := c.Request.Context()
	identity, err := h.identities.GetIdentity(ctx, id)
	if err != nil {
		slog.Error("get identity", "error", err)
		respondError(c, http.StatusInternalServerError, "password reset failed")
		return
	}
	if identity == nil || !claims.MatchesPassword(identity.PasswordHash) {
		respondError(c, http.StatusBadRequest, resetInvalid)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("hash password", "error", err)
		respondError(c, http.StatusInternalServerError, "password reset failed")
		return
	}
	ok, err := h.identities.UpdatePasswordHash(ctx, id, hash)
	if err != nil {
		slog.Error("update password", "identity_id", id, "error", err)
		respondError(c, http.StatusInternalServerError, "password reset failed")
		return
	}
	if !ok {
		respondError(c, http.StatusBadRequest, resetInvalid)
		return
	}
	slog.Info("password reset", "identity_id", id)
	c.JSON(http.StatusOK, dto.StatusResponse{Status: "password updated"})
}
