package faceid

import (
	"errors"
	"net/http"
)

var (
	ErrNoFaceDetected    = errors.New("no face detected")
	ErrExtractionFailure = errors.New("descriptor extraction failed")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrNoEnrollmentMatch = errors.New("no enrollment matched the probe")
	ErrAlreadyEnrolled   = errors.New("identity already enrolled")
	ErrNotReady          = errors.New("extractor not ready")
	ErrEmptyEmbedding    = errors.New("empty embedding")
	ErrInvalidEmbedding  = errors.New("embedding contains NaN or Inf")
	ErrEmptyIdentity     = errors.New("identity id is required")
)

// RejectReason is the typed outcome of a failed authentication or enrollment.
type RejectReason string

const (
	ReasonNone              RejectReason = ""
	ReasonNoFaceDetected    RejectReason = "no_face_detected"
	ReasonExtractionFailure RejectReason = "extraction_failure"
	ReasonDimensionMismatch RejectReason = "dimension_mismatch"
	ReasonNoEnrollmentMatch RejectReason = "no_enrollment_match"
	ReasonAlreadyEnrolled   RejectReason = "already_enrolled"
	ReasonInvalidInput      RejectReason = "invalid_input"
	ReasonInternal          RejectReason = "internal"
)

// ReasonFor classifies err. A nil error maps to ReasonNone.
func ReasonFor(err error) RejectReason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrNoFaceDetected):
		return ReasonNoFaceDetected
	case errors.Is(err, ErrExtractionFailure), errors.Is(err, ErrNotReady):
		return ReasonExtractionFailure
	case errors.Is(err, ErrDimensionMismatch):
		return ReasonDimensionMismatch
	case errors.Is(err, ErrNoEnrollmentMatch):
		return ReasonNoEnrollmentMatch
	case errors.Is(err, ErrAlreadyEnrolled):
		return ReasonAlreadyEnrolled
	case errors.Is(err, ErrEmptyEmbedding), errors.Is(err, ErrInvalidEmbedding), errors.Is(err, ErrEmptyIdentity):
		return ReasonInvalidInput
	default:
		return ReasonInternal
	}
}

// Message is the user-facing text for the reason. It never includes internal error text.
func (r RejectReason) Message() string {
	switch r {
	case ReasonNoFaceDetected:
		return "No face was found in the image. Make sure your face is well lit and try again."
	case ReasonExtractionFailure:
		return "Face recognition is temporarily unavailable. Please try again."
	case ReasonDimensionMismatch:
		return "The face data does not match this deployment. Please re-enroll your face."
	case ReasonNoEnrollmentMatch:
		return "Face not recognized. Try again or sign in with your password."
	case ReasonAlreadyEnrolled:
		return "A face is already enrolled for this account. Remove it before enrolling a new one."
	case ReasonInvalidInput:
		return "The submitted face data is invalid."
	case ReasonNone:
		return ""
	default:
		return "Something went wrong. Please try again later."
	}
}

// Retryable reports whether the caller may simply re-submit a probe.
func (r RejectReason) Retryable() bool {
	switch r {
	case ReasonNoFaceDetected, ReasonExtractionFailure, ReasonNoEnrollmentMatch:
		return true
	}
	return false
}

// HTTPStatus maps the reason onto a response status.
func (r RejectReason) HTTPStatus() int {
	switch r {
	case ReasonNone:
		return http.StatusOK
	case ReasonNoFaceDetected, ReasonDimensionMismatch, ReasonInvalidInput:
		return http.StatusUnprocessableEntity
	case ReasonExtractionFailure:
		return http.StatusServiceUnavailable
	case ReasonNoEnrollmentMatch:
		return http.StatusUnauthorized
	case ReasonAlreadyEnrolled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
