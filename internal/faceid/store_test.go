package faceid

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
)

func TestMemoryStoreEnroll(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(3, PolicyReject)

	r, err := s.Enroll(ctx, "u1", Embedding{1, 2, 3})
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if r.IdentityID != "u1" || r.EnrolledAt.IsZero() {
		t.Errorf("unexpected record %+v", r)
	}

	if _, err := s.Enroll(ctx, "u2", Embedding{1, 2}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Enroll with wrong dim: err = %v, want ErrDimensionMismatch", err)
	}
	if _, err := s.Enroll(ctx, "u1", Embedding{3, 2, 1}); !errors.Is(err, ErrAlreadyEnrolled) {
		t.Errorf("second Enroll: err = %v, want ErrAlreadyEnrolled", err)
	}
	if _, err := s.Enroll(ctx, "", Embedding{3, 2, 1}); !errors.Is(err, ErrEmptyIdentity) {
		t.Errorf("Enroll without identity: err = %v, want ErrEmptyIdentity", err)
	}
}

func TestMemoryStoreEnrollCopiesEmbedding(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2, PolicyReject)
	e := Embedding{1, 1}
	if _, err := s.Enroll(ctx, "u1", e); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	e[0] = 99

	seq, _ := s.AllRecords(ctx)
	for r := range seq {
		if r.Embedding[0] != 1 {
			t.Errorf("stored embedding changed through caller slice: %v", r.Embedding)
		}
	}
}

func TestMemoryStoreReplacePolicy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2, PolicyReplace)

	first, _ := s.Enroll(ctx, "u1", Embedding{0, 0})
	second, err := s.Enroll(ctx, "u1", Embedding{1, 1})
	if err != nil {
		t.Fatalf("replace Enroll: %v", err)
	}
	if first.ID == second.ID {
		t.Fatal("replacement reused the record id")
	}

	recs, _ := s.Records(ctx, "u1")
	if len(recs) != 1 || recs[0].ID != second.ID {
		t.Errorf("Records = %v, want only %s", recs, second.ID)
	}
}

func TestMemoryStoreRemoveIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2, PolicyReject)
	_, _ = s.Enroll(ctx, "u1", Embedding{0, 0})

	for i := 0; i < 2; i++ {
		if err := s.Remove(ctx, "u1"); err != nil {
			t.Fatalf("Remove #%d: %v", i, err)
		}
	}
	if err := s.Remove(ctx, "never-enrolled"); err != nil {
		t.Fatalf("Remove unknown: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
	if _, err := s.Enroll(ctx, "u1", Embedding{1, 0}); err != nil {
		t.Errorf("Enroll after Remove: %v", err)
	}
}

func TestMemoryStoreAllRecordsRestartable(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(1, PolicyReject)
	for i := 0; i < 5; i++ {
		_, _ = s.Enroll(ctx, fmt.Sprintf("u%d", i), Embedding{float64(i)})
	}

	seq, _ := s.AllRecords(ctx)
	first := slices.Collect(seq)
	second := slices.Collect(seq)
	if len(first) != 5 || len(second) != 5 {
		t.Fatalf("iterations yielded %d and %d records, want 5 each", len(first), len(second))
	}

	// Writes after the snapshot do not leak into it.
	_, _ = s.Enroll(ctx, "late", Embedding{9})
	if n := len(slices.Collect(seq)); n != 5 {
		t.Errorf("snapshot grew to %d records after a later enroll", n)
	}
}

func TestMemoryStoreConcurrentEnrollSameIdentity(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2, PolicyReject)

	const n = 64
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Enroll(ctx, "racer", Embedding{float64(i), 0})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, rejected int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyEnrolled):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || rejected != n-1 {
		t.Errorf("ok=%d rejected=%d, want 1 and %d", ok, rejected, n-1)
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"reject", PolicyReject, false},
		{"replace", PolicyReplace, false},
		{"append", "", true},
		{"", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParsePolicy(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParsePolicy(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("ParsePolicy(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
