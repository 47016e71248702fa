package faceid

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is one enrolled embedding. Records are never updated in place.
type Record struct {
	ID         uuid.UUID `json:"id"`
	IdentityID string    `json:"identity_id"`
	Embedding  Embedding `json:"-"`
	EnrolledAt time.Time `json:"enrolled_at"`
}

// Policy decides what Enroll does when the identity already has an active record.
type Policy string

const (
	// PolicyReject fails the second enrollment with ErrAlreadyEnrolled.
	PolicyReject Policy = "reject"
	// PolicyReplace deactivates the previous record and inserts the new one atomically.
	PolicyReplace Policy = "replace"
)

// ParsePolicy accepts the configuration spelling of a policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyReject, PolicyReplace:
		return Policy(s), nil
	}
	return "", fmt.Errorf("unknown enrollment policy %q", s)
}

// Store is the enrollment store contract. Implementations serialize writes per identity
// so two concurrent enrollments for the same identity cannot both pass the policy check.
type Store interface {
	// Dimension is the fixed embedding length accepted by Enroll.
	Dimension() int
	Enroll(ctx context.Context, identityID string, e Embedding) (*Record, error)
	// AllRecords returns a finite, restartable sequence over a consistent snapshot
	// of the active records. Order is unspecified.
	AllRecords(ctx context.Context) (iter.Seq[Record], error)
	// Remove deletes every record for identityID. Removing an unknown identity is not an error.
	Remove(ctx context.Context, identityID string) error
}

// RecordLister is implemented by stores that can list one identity's records.
type RecordLister interface {
	Records(ctx context.Context, identityID string) ([]Record, error)
}

// Flagger is implemented by stores that can mark records for re-enrollment.
type Flagger interface {
	FlagForReenrollment(ctx context.Context, recordIDs []uuid.UUID) error
}

// MemoryStore keeps enrollments in process memory. A single lock makes the
// policy check and the insert one atomic step.
type MemoryStore struct {
	dim     int
	policy  Policy
	now     func() time.Time
	mu      sync.RWMutex
	records map[string]Record
	flagged map[uuid.UUID]time.Time
}

func NewMemoryStore(dim int, policy Policy) *MemoryStore {
	if policy == "" {
		policy = PolicyReject
	}
	return &MemoryStore{
		dim:     dim,
		policy:  policy,
		now:     time.Now,
		records: make(map[string]Record),
		flagged: make(map[uuid.UUID]time.Time),
	}
}

func (s *MemoryStore) Dimension() int {
	return s.dim
}

func (s *MemoryStore) Enroll(_ context.Context, identityID string, e Embedding) (*Record, error) {
	if identityID == "" {
		return nil, ErrEmptyIdentity
	}
	if err := CheckDim(e, s.dim); err != nil {
		return nil, err
	}

	rec := Record{
		ID:         uuid.New(),
		IdentityID: identityID,
		Embedding:  e.Clone(),
		EnrolledAt: s.now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[identityID]; ok && s.policy == PolicyReject {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyEnrolled, identityID)
	}
	s.records[identityID] = rec
	return &rec, nil
}

func (s *MemoryStore) AllRecords(_ context.Context) (iter.Seq[Record], error) {
	s.mu.RLock()
	snapshot := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		snapshot = append(snapshot, r)
	}
	s.mu.RUnlock()
	return slices.Values(snapshot), nil
}

func (s *MemoryStore) Remove(_ context.Context, identityID string) error {
	s.mu.Lock()
	if rec, ok := s.records[identityID]; ok {
		delete(s.flagged, rec.ID)
	}
	delete(s.records, identityID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Records(_ context.Context, identityID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.records[identityID]; ok {
		return []Record{rec}, nil
	}
	return nil, nil
}

func (s *MemoryStore) FlagForReenrollment(_ context.Context, recordIDs []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range recordIDs {
		s.flagged[id] = s.now().UTC()
	}
	return nil
}

// Flagged returns the record IDs marked for re-enrollment, sorted for stable output.
func (s *MemoryStore) Flagged() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(s.flagged))
	for id := range s.flagged {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Len returns the number of active records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
