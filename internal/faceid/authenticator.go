package faceid

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// State is a step of one authentication attempt.
type State string

const (
	StateIdle          State = "idle"
	StateCapturing     State = "capturing"
	StateMatching      State = "matching"
	StateAuthenticated State = "authenticated"
	StateRejected      State = "rejected"
)

// Terminal reports whether no further transition is possible within the attempt.
func (s State) Terminal() bool {
	return s == StateAuthenticated || s == StateRejected
}

var transitions = map[State][]State{
	StateIdle:      {StateCapturing, StateMatching},
	StateCapturing: {StateMatching, StateRejected},
	StateMatching:  {StateAuthenticated, StateRejected},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Login methods recorded on sessions and audit events.
const (
	MethodFace     = "face"
	MethodPassword = "password"
)

// Extractor turns an image into an embedding. Extract returns ErrNoFaceDetected
// when the image holds no face.
type Extractor interface {
	Extract(ctx context.Context, image []byte) (Embedding, error)
	Ready() bool
	EnsureReady(ctx context.Context) error
}

// Session is the credential bound to an authenticated identity.
type Session struct {
	ID         uuid.UUID `json:"id"`
	Token      string    `json:"token"`
	IdentityID string    `json:"identity_id"`
	Method     string    `json:"method"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// SessionStarter issues sessions once an identity is established.
type SessionStarter interface {
	Start(ctx context.Context, identityID, method string) (*Session, error)
}

// Listener receives terminal attempts.
type Listener interface {
	OnAuthenticated(ctx context.Context, a *Attempt)
	OnRejected(ctx context.Context, a *Attempt)
}

// Attempt records one pass through the state machine.
type Attempt struct {
	ID         uuid.UUID
	Method     string
	State      State
	History    []State
	Threshold  float64
	Result     MatchResult
	Reason     RejectReason
	Err        error
	Session    *Session
	StartedAt  time.Time
	FinishedAt time.Time
}

func (a *Attempt) moveTo(s State) {
	if !canTransition(a.State, s) {
		panic(fmt.Sprintf("faceid: invalid transition %s -> %s", a.State, s))
	}
	a.State = s
	a.History = append(a.History, s)
}

// AuthenticatorConfig holds the knobs of the authentication flow.
type AuthenticatorConfig struct {
	Threshold      float64
	ExtractTimeout time.Duration
}

// Authenticator drives Idle → Capturing → Matching → {Authenticated, Rejected}.
// It never retries; callers decide whether to submit another probe.
type Authenticator struct {
	store     Store
	extractor Extractor
	matcher   *Matcher
	sessions  SessionStarter
	listeners []Listener
	cfg       AuthenticatorConfig
	logger    *slog.Logger
	now       func() time.Time
}

func NewAuthenticator(store Store, extractor Extractor, matcher *Matcher, sessions SessionStarter, cfg AuthenticatorConfig) *Authenticator {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = 5 * time.Second
	}
	if matcher == nil {
		matcher = NewMatcher()
	}
	return &Authenticator{
		store:     store,
		extractor: extractor,
		matcher:   matcher,
		sessions:  sessions,
		cfg:       cfg,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// AddListener registers l for terminal attempts.
func (a *Authenticator) AddListener(l Listener) {
	a.listeners = append(a.listeners, l)
}

// Threshold is the configured default threshold.
func (a *Authenticator) Threshold() float64 {
	return a.cfg.Threshold
}

// Extract runs the extractor bounded by the configured timeout. A stuck
// extractor yields ErrExtractionFailure once the deadline passes.
func (a *Authenticator) Extract(ctx context.Context, image []byte) (Embedding, error) {
	if a.extractor == nil {
		return nil, ErrNotReady
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ExtractTimeout)
	defer cancel()

	if !a.extractor.Ready() {
		if err := a.extractor.EnsureReady(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrExtractionFailure, err)
		}
	}

	type result struct {
		emb Embedding
		err error
	}
	done := make(chan result, 1)
	go func() {
		emb, err := a.extractor.Extract(ctx, image)
		done <- result{emb, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailure, ctx.Err())
	case r := <-done:
		switch {
		case r.err == nil:
			return r.emb, nil
		case errors.Is(r.err, ErrNoFaceDetected), errors.Is(r.err, ErrExtractionFailure):
			return nil, r.err
		default:
			return nil, fmt.Errorf("%w: %w", ErrExtractionFailure, r.err)
		}
	}
}

// AuthenticateImage runs the full flow starting from a captured image. A nil
// threshold selects the configured default.
func (a *Authenticator) AuthenticateImage(ctx context.Context, image []byte, threshold *float64) *Attempt {
	att := a.begin(threshold)
	att.moveTo(StateCapturing)

	probe, err := a.Extract(ctx, image)
	if err != nil {
		return a.reject(ctx, att, err)
	}
	return a.match(ctx, att, probe)
}

// AuthenticateProbe runs the flow for an already extracted probe embedding.
// A nil threshold selects the configured default; an explicit value is used as
// given, so zero or less never matches.
func (a *Authenticator) AuthenticateProbe(ctx context.Context, probe Embedding, threshold *float64) *Attempt {
	return a.match(ctx, a.begin(threshold), probe)
}

func (a *Authenticator) begin(override *float64) *Attempt {
	threshold := a.cfg.Threshold
	if override != nil {
		threshold = *override
	}
	return &Attempt{
		ID:        uuid.New(),
		Method:    MethodFace,
		State:     StateIdle,
		History:   []State{StateIdle},
		Threshold: threshold,
		StartedAt: a.now(),
	}
}

func (a *Authenticator) match(ctx context.Context, att *Attempt, probe Embedding) *Attempt {
	att.moveTo(StateMatching)

	if err := CheckDim(probe, a.store.Dimension()); err != nil {
		return a.reject(ctx, att, err)
	}

	records, err := a.snapshot(ctx, probe)
	if err != nil {
		return a.reject(ctx, att, fmt.Errorf("load enrollments: %w", err))
	}

	att.Result = a.matcher.Match(ctx, probe, att.Threshold, records)
	a.flagMismatched(ctx, att.Result.Mismatched)

	if !att.Result.Matched {
		return a.reject(ctx, att, ErrNoEnrollmentMatch)
	}

	if a.sessions != nil {
		sess, err := a.sessions.Start(ctx, att.Result.IdentityID, att.Method)
		if err != nil {
			return a.reject(ctx, att, fmt.Errorf("start session: %w", err))
		}
		att.Session = sess
	}

	att.moveTo(StateAuthenticated)
	att.FinishedAt = a.now()
	for _, l := range a.listeners {
		l.OnAuthenticated(ctx, att)
	}
	return att
}

func (a *Authenticator) snapshot(ctx context.Context, probe Embedding) (iter.Seq[Record], error) {
	if cs, ok := a.store.(CandidateSource); ok {
		return cs.Candidates(ctx, probe)
	}
	return a.store.AllRecords(ctx)
}

func (a *Authenticator) flagMismatched(ctx context.Context, mismatched []Record) {
	if len(mismatched) == 0 {
		return
	}
	f, ok := a.store.(Flagger)
	if !ok {
		return
	}
	ids := make([]uuid.UUID, 0, len(mismatched))
	for _, r := range mismatched {
		ids = append(ids, r.ID)
	}
	if err := f.FlagForReenrollment(ctx, ids); err != nil {
		a.logger.ErrorContext(ctx, "flag records for re-enrollment", "error", err, "count", len(ids))
	}
}

func (a *Authenticator) reject(ctx context.Context, att *Attempt, err error) *Attempt {
	att.Err = err
	att.Reason = ReasonFor(err)
	att.moveTo(StateRejected)
	att.FinishedAt = a.now()

	if att.Reason == ReasonInternal {
		a.logger.ErrorContext(ctx, "authentication attempt failed", "attempt_id", att.ID, "error", err)
	} else {
		a.logger.InfoContext(ctx, "authentication rejected", "attempt_id", att.ID, "reason", att.Reason)
	}
	for _, l := range a.listeners {
		l.OnRejected(ctx, att)
	}
	return att
}
