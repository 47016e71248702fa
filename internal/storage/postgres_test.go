//go:build integration

package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/your-org/faceid/internal/faceid"
	"github.com/your-org/faceid/internal/models"
)

func setupTestContainer(t *testing.T) (*PostgresStore, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "faceid",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil || container == nil {
		t.Skipf("docker not available, skipping integration test: %v", err)
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/faceid?sslmode=disable", host, port.Port())
	store, err := NewPostgresStoreFromDSN(dsn, 10)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("connect: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		container.Terminate(ctx)
		t.Fatalf("migrate: %v", err)
	}
	// second run must be a no-op
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}

	return store, func() {
		store.Close()
		container.Terminate(ctx)
	}
}

func collect(t *testing.T, s faceid.Store) []faceid.Record {
	t.Helper()
	seq, err := s.AllRecords(context.Background())
	if err != nil {
		t.Fatalf("AllRecords: %v", err)
	}
	var out []faceid.Record
	for r := range seq {
		out = append(out, r)
	}
	return out
}

func TestEnrollmentStore(t *testing.T) {
	db, cleanup := setupTestContainer(t)
	if db == nil {
		return
	}
	defer cleanup()
	ctx := context.Background()

	t.Run("enroll and match round trip", func(t *testing.T) {
		s := db.Enrollments(3, faceid.PolicyReject)
		rec, err := s.Enroll(ctx, "alice", faceid.Embedding{0.1, 0.2, 0.3})
		if err != nil {
			t.Fatalf("Enroll: %v", err)
		}
		if rec.EnrolledAt.IsZero() {
			t.Error("EnrolledAt not populated")
		}

		res := faceid.NewMatcher().Match(ctx, faceid.Embedding{0.1, 0.2, 0.3}, 0.6, func(yield func(faceid.Record) bool) {
			for _, r := range collect(t, s) {
				if !yield(r) {
					return
				}
			}
		})
		if !res.Matched || res.IdentityID != "alice" {
			t.Fatalf("expected alice match, got %+v", res)
		}
		if res.Distance != 0 {
			t.Errorf("self distance = %v, want exactly 0", res.Distance)
		}
		recs := collect(t, s)
		for _, r := range recs {
			if r.ID == rec.ID && !slices.Equal(r.Embedding, rec.Embedding) {
				t.Errorf("stored embedding = %v, want %v", r.Embedding, rec.Embedding)
			}
		}
	})

	t.Run("reject policy", func(t *testing.T) {
		s := db.Enrollments(3, faceid.PolicyReject)
		if _, err := s.Enroll(ctx, "bob", faceid.Embedding{1, 0, 0}); err != nil {
			t.Fatalf("Enroll: %v", err)
		}
		_, err := s.Enroll(ctx, "bob", faceid.Embedding{0, 1, 0})
		if !errors.Is(err, faceid.ErrAlreadyEnrolled) {
			t.Fatalf("expected ErrAlreadyEnrolled, got %v", err)
		}
	})

	t.Run("replace policy keeps one active record", func(t *testing.T) {
		s := db.Enrollments(3, faceid.PolicyReplace)
		if _, err := s.Enroll(ctx, "carol", faceid.Embedding{1, 0, 0}); err != nil {
			t.Fatal(err)
		}
		second, err := s.Enroll(ctx, "carol", faceid.Embedding{0, 0, 1})
		if err != nil {
			t.Fatal(err)
		}
		recs, err := s.Records(ctx, "carol")
		if err != nil {
			t.Fatal(err)
		}
		if len(recs) != 1 || recs[0].ID != second.ID {
			t.Fatalf("expected only the replacement record, got %+v", recs)
		}
	})

	t.Run("concurrent enroll of one identity", func(t *testing.T) {
		s := db.Enrollments(3, faceid.PolicyReject)
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			success int
		)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Enroll(ctx, "dave", faceid.Embedding{0.5, 0.5, 0.5}); err == nil {
					mu.Lock()
					success++
					mu.Unlock()
				} else if !errors.Is(err, faceid.ErrAlreadyEnrolled) {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		if success != 1 {
			t.Fatalf("expected exactly one successful enroll, got %d", success)
		}
	})

	t.Run("dimension enforced", func(t *testing.T) {
		s := db.Enrollments(3, faceid.PolicyReject)
		_, err := s.Enroll(ctx, "erin", faceid.Embedding{1, 2})
		if !errors.Is(err, faceid.ErrDimensionMismatch) {
			t.Fatalf("expected ErrDimensionMismatch, got %v", err)
		}
	})

	t.Run("legacy dimension is readable and flaggable", func(t *testing.T) {
		legacy := db.Enrollments(2, faceid.PolicyReject)
		old, err := legacy.Enroll(ctx, "frank", faceid.Embedding{1, 2})
		if err != nil {
			t.Fatal(err)
		}
		s := db.Enrollments(3, faceid.PolicyReject)
		res := faceid.NewMatcher().Match(ctx, faceid.Embedding{1, 2, 3}, 0.6, func(yield func(faceid.Record) bool) {
			for _, r := range collect(t, s) {
				if !yield(r) {
					return
				}
			}
		})
		found := false
		for _, m := range res.Mismatched {
			if m.ID == old.ID {
				found = true
			}
		}
		if !found {
			t.Fatalf("legacy record not reported as mismatched: %+v", res.Mismatched)
		}
		if err := s.FlagForReenrollment(ctx, []uuid.UUID{old.ID}); err != nil {
			t.Fatal(err)
		}
		flagged, err := s.FlaggedRecords(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(flagged) != 1 || flagged[0].ID != old.ID {
			t.Fatalf("unexpected flagged records: %+v", flagged)
		}
	})

	t.Run("pgvector candidates keep exact embeddings", func(t *testing.T) {
		s := db.Enrollments(3, faceid.PolicyReject)
		if _, err := s.Enroll(ctx, "hank", faceid.Embedding{0.7, 0.1, 0.3}); err != nil {
			t.Fatal(err)
		}
		seq, err := s.NearestCandidates(4).Candidates(ctx, faceid.Embedding{0.7, 0.1, 0.3})
		if err != nil {
			t.Fatalf("Candidates: %v", err)
		}
		res := faceid.NewMatcher().Match(ctx, faceid.Embedding{0.7, 0.1, 0.3}, 0.6, seq)
		if !res.Matched || res.IdentityID != "hank" || res.Distance != 0 {
			t.Fatalf("match over pgvector candidates = %+v, want hank at 0", res)
		}
		// frank's 2-d record from the legacy subtest is still active
		if len(res.Mismatched) == 0 {
			t.Error("legacy rows of another dimension were not returned for flagging")
		}
	})

	t.Run("remove", func(t *testing.T) {
		s := db.Enrollments(3, faceid.PolicyReject)
		if _, err := s.Enroll(ctx, "gina", faceid.Embedding{0, 0, 0}); err != nil {
			t.Fatal(err)
		}
		if err := s.Remove(ctx, "gina"); err != nil {
			t.Fatal(err)
		}
		for _, r := range collect(t, s) {
			if r.IdentityID == "gina" {
				t.Fatal("removed identity still present")
			}
		}
	})
}

func TestIdentitiesAndEvents(t *testing.T) {
	db, cleanup := setupTestContainer(t)
	if db == nil {
		return
	}
	defer cleanup()
	ctx := context.Background()

	id, err := db.CreateIdentity(ctx, " Alice@Example.com ", "Alice", []byte("hash"))
	if err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}
	if _, err := db.CreateIdentity(ctx, "alice@example.com", "Other", []byte("x")); !errors.Is(err, ErrIdentityExists) {
		t.Fatalf("expected ErrIdentityExists, got %v", err)
	}

	got, err := db.GetIdentityByEmail(ctx, "ALICE@example.com")
	if err != nil || got == nil || got.ID != id.ID {
		t.Fatalf("GetIdentityByEmail = %+v, %v", got, err)
	}
	missing, err := db.GetIdentity(ctx, uuid.New())
	if err != nil || missing != nil {
		t.Fatalf("expected nil identity, got %+v, %v", missing, err)
	}

	if ok, err := db.UpdatePasswordHash(ctx, id.ID, []byte("new-hash")); err != nil || !ok {
		t.Fatalf("UpdatePasswordHash = %v, %v", ok, err)
	}
	if got, _ := db.GetIdentity(ctx, id.ID); got == nil || string(got.PasswordHash) != "new-hash" {
		t.Fatalf("password hash not updated: %+v", got)
	}
	if ok, err := db.UpdatePasswordHash(ctx, uuid.New(), []byte("x")); err != nil || ok {
		t.Errorf("UpdatePasswordHash(unknown) = %v, %v; want false", ok, err)
	}

	doomed, err := db.CreateIdentity(ctx, "doomed@example.com", "Doomed", []byte("h"))
	if err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteIdentity(ctx, doomed.ID); err != nil {
		t.Fatalf("DeleteIdentity: %v", err)
	}
	if _, err := db.CreateIdentity(ctx, "doomed@example.com", "Again", []byte("h")); err != nil {
		t.Errorf("re-create after delete: %v", err)
	}

	identity := id.ID.String()
	ev := &models.AuthEvent{
		ID:         uuid.New(),
		AttemptID:  uuid.New(),
		Method:     "face",
		Outcome:    models.OutcomeAuthenticated,
		IdentityID: &identity,
		Distance:   0.21,
		Threshold:  0.6,
		Scanned:    4,
		Timestamp:  time.Now(),
	}
	if err := db.CreateAuthEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}
	// redelivery of the same attempt is ignored
	dup := *ev
	dup.ID = uuid.New()
	if err := db.CreateAuthEvent(ctx, &dup); err != nil {
		t.Fatal(err)
	}

	events, err := db.ListAuthEvents(ctx, identity, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].AttemptID != ev.AttemptID {
		t.Fatalf("unexpected events: %+v", events)
	}
}
