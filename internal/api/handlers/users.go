package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/your-org/faceid/internal/faceid"
	"github.com/your-org/faceid/internal/storage"
	"github.com/your-org/faceid/pkg/dto"
)

type UserHandler struct {
	identities IdentityRepository
	store      faceid.Store
}

func NewUserHandler(identities IdentityRepository, store faceid.Store) *UserHandler {
	return &UserHandler{identities: identities, store: store}
}

// Register creates an identity and, when an embedding is supplied, enrolls it.
// The embedding is validated before the identity is written, and the identity
// is deleted again if enrollment fails so the email can be reused.
func (h *UserHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	emb := faceid.Embedding(req.Embedding)
	if len(emb) > 0 {
		if err := faceid.CheckDim(emb, h.store.Dimension()); err != nil {
			respondFaceError(c, err)
			return
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("hash password", "error", err)
		respondError(c, http.StatusInternalServerError, "registration failed")
		return
	}

	ctx := c.Request.Context()
	identity, err := h.identities.CreateIdentity(ctx, req.Email, req.Name, hash)
	if err != nil {
		if errors.Is(err, storage.ErrIdentityExists) {
			respondError(c, http.StatusConflict, "an account with this email already exists")
			return
		}
		slog.Error("create identity", "error", err)
		respondError(c, http.StatusInternalServerError, "registration failed")
		return
	}

	resp := identityResponse(identity.ID, identity.Email, identity.Name, formatTime(identity.CreatedAt))
	if len(emb) > 0 {
		if _, err := h.store.Enroll(ctx, identity.ID.String(), emb); err != nil {
			slog.Warn("enroll at registration", "identity_id", identity.ID, "error", err)
			if derr := h.identities.DeleteIdentity(context.WithoutCancel(ctx), identity.ID); derr != nil {
				slog.Error("roll back identity after failed enrollment", "identity_id", identity.ID, "error", derr)
			}
			respondFaceError(c, err)
			return
		}
		resp.Enrolled = true
	}
	c.JSON(http.StatusCreated, resp)
}

// Get returns one identity and whether it has an active face enrollment.
func (h *UserHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid identity id")
		return
	}

	identity, err := h.identities.GetIdentity(c.Request.Context(), id)
	if err != nil {
		slog.Error("get identity", "error", err)
		respondError(c, http.StatusInternalServerError, "failed to load identity")
		return
	}
	if identity == nil {
		notFound(c, "identity")
		return
	}

	resp := identityResponse(identity.ID, identity.Email, identity.Name, formatTime(identity.CreatedAt))
	if lister, ok := h.store.(faceid.RecordLister); ok {
		recs, err := lister.Records(c.Request.Context(), identity.ID.String())
		if err == nil {
			resp.Enrolled = len(recs) > 0
		}
	}
	c.JSON(http.StatusOK, resp)
}

func identityResponse(id uuid.UUID, email, name, createdAt string) dto.IdentityResponse {
	return dto.IdentityResponse{ID: id, Email: email, Name: name, CreatedAt: createdAt}
}
