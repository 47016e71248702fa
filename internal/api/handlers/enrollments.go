package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/faceid/internal/faceid"
	"github.com/your-org/faceid/internal/observability"
	"github.com/your-org/faceid/pkg/dto"
)

type EnrollmentHandler struct {
	store  faceid.Store
	auth   *faceid.Authenticator
	images ImageArchive
}

// NewEnrollmentHandler builds the handler. images may be nil, in which case
// source images are not archived.
func NewEnrollmentHandler(store faceid.Store, auth *faceid.Authenticator, images ImageArchive) *EnrollmentHandler {
	return &EnrollmentHandler{store: store, auth: auth, images: images}
}

// Enroll stores a pre-extracted embedding.
func (h *EnrollmentHandler) Enroll(c *gin.Context) {
	var req dto.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.store.Enroll(c.Request.Context(), req.IdentityID, faceid.Embedding(req.Embedding))
	if err != nil {
		h.fail(c, err)
		return
	}
	observability.Enrollments.WithLabelValues("enrolled").Inc()
	c.JSON(http.StatusCreated, enrollmentResponse(rec, ""))
}

// EnrollImage extracts the embedding from a multipart "image" and enrolls it
// for the "identity_id" form field.
func (h *EnrollmentHandler) EnrollImage(c *gin.Context) {
	identityID := c.PostForm("identity_id")
	if identityID == "" {
		respondError(c, http.StatusBadRequest, "identity_id is required")
		return
	}
	image, err := readImage(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	emb, err := h.auth.Extract(ctx, image)
	if err != nil {
		h.fail(c, err)
		return
	}
	rec, err := h.store.Enroll(ctx, identityID, emb)
	if err != nil {
		h.fail(c, err)
		return
	}

	var key string
	if h.images != nil {
		key, err = h.images.PutEnrollmentImage(ctx, identityID, rec.ID, image)
		if err != nil {
			slog.Warn("archive enrollment image", "identity_id", identityID, "record_id", rec.ID, "error", err)
			key = ""
		}
	}

	observability.Enrollments.WithLabelValues("enrolled").Inc()
	c.JSON(http.StatusCreated, enrollmentResponse(rec, key))
}

// List returns the active records of one identity.
func (h *EnrollmentHandler) List(c *gin.Context) {
	lister, ok := h.store.(faceid.RecordLister)
	if !ok {
		respondError(c, http.StatusNotImplemented, "listing enrollments is not supported by this store")
		return
	}

	identityID := c.Param("identityId")
	records, err := lister.Records(c.Request.Context(), identityID)
	if err != nil {
		slog.Error("list enrollments", "identity_id", identityID, "error", err)
		respondError(c, http.StatusInternalServerError, "failed to list enrollments")
		return
	}

	resp := dto.EnrollmentListResponse{
		IdentityID: identityID,
		Records:    make([]dto.EnrollmentResponse, 0, len(records)),
	}
	for i := range records {
		resp.Records = append(resp.Records, enrollmentResponse(&records[i], ""))
	}
	resp.Total = len(resp.Records)
	c.JSON(http.StatusOK, resp)
}

// Remove deletes every record of an identity together with archived images.
func (h *EnrollmentHandler) Remove(c *gin.Context) {
	identityID := c.Param("identityId")
	ctx := c.Request.Context()

	if err := h.store.Remove(ctx, identityID); err != nil {
		slog.Error("remove enrollments", "identity_id", identityID, "error", err)
		respondError(c, http.StatusInternalServerError, "failed to remove enrollment")
		return
	}
	if h.images != nil {
		if err := h.images.RemoveIdentityImages(ctx, identityID); err != nil {
			slog.Warn("remove enrollment images", "identity_id", identityID, "error", err)
		}
	}
	observability.Enrollments.WithLabelValues("removed").Inc()
	c.Status(http.StatusNoContent)
}

func (h *EnrollmentHandler) fail(c *gin.Context, err error) {
	reason := faceid.ReasonFor(err)
	observability.Enrollments.WithLabelValues(string(reason)).Inc()
	if reason == faceid.ReasonInternal {
		slog.Error("enroll", "error", err)
	}
	respondFaceError(c, err)
}

func enrollmentResponse(rec *faceid.Record, imageKey string) dto.EnrollmentResponse {
	return dto.EnrollmentResponse{
		RecordID:   rec.ID,
		IdentityID: rec.IdentityID,
		Dimension:  rec.Embedding.Dim(),
		ImageKey:   imageKey,
		EnrolledAt: formatTime(rec.EnrolledAt),
	}
}
