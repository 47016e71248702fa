package storage

import (
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/faceid/internal/faceid"
)

// EnrollmentStore is the Postgres-backed faceid.Store. Embeddings are persisted
// as float8[] so matching sees exactly the values that were enrolled. A float32
// pgvector copy backs the optional nearest-neighbour prefilter.
type EnrollmentStore struct {
	db     *PostgresStore
	dim    int
	policy faceid.Policy
}

var (
	_ faceid.Store        = (*EnrollmentStore)(nil)
	_ faceid.RecordLister = (*EnrollmentStore)(nil)
	_ faceid.Flagger      = (*EnrollmentStore)(nil)
)

func (s *PostgresStore) Enrollments(dim int, policy faceid.Policy) *EnrollmentStore {
	if policy == "" {
		policy = faceid.PolicyReject
	}
	return &EnrollmentStore{db: s, dim: dim, policy: policy}
}

func (e *EnrollmentStore) Dimension() int {
	return e.dim
}

// Enroll inserts a new active record. Writes for the same identity are
// serialized with a transaction-scoped advisory lock; the partial unique
// index on (identity_id) WHERE active backs up the policy check.
func (e *EnrollmentStore) Enroll(ctx context.Context, identityID string, emb faceid.Embedding) (*faceid.Record, error) {
	if identityID == "" {
		return nil, faceid.ErrEmptyIdentity
	}
	if err := faceid.CheckDim(emb, e.dim); err != nil {
		return nil, err
	}

	tx, err := e.db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin enroll: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, identityID); err != nil {
		return nil, fmt.Errorf("lock identity: %w", err)
	}

	var existing uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM face_enrollments WHERE identity_id = $1 AND active`, identityID,
	).Scan(&existing)
	switch {
	case err == pgx.ErrNoRows:
	case err != nil:
		return nil, fmt.Errorf("check enrollment: %w", err)
	case e.policy == faceid.PolicyReject:
		return nil, fmt.Errorf("%w: %s", faceid.ErrAlreadyEnrolled, identityID)
	default:
		if _, err := tx.Exec(ctx,
			`UPDATE face_enrollments SET active = FALSE, deactivated_at = NOW() WHERE identity_id = $1 AND active`,
			identityID); err != nil {
			return nil, fmt.Errorf("deactivate enrollment: %w", err)
		}
	}

	rec := &faceid.Record{
		ID:         uuid.New(),
		IdentityID: identityID,
		Embedding:  emb.Clone(),
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO face_enrollments (id, identity_id, embedding, embedding_vec)
		 VALUES ($1, $2, $3, $4) RETURNING enrolled_at`,
		rec.ID, rec.IdentityID, []float64(rec.Embedding), pgvector.NewVector(emb.Float32()),
	).Scan(&rec.EnrolledAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", faceid.ErrAlreadyEnrolled, identityID)
		}
		return nil, fmt.Errorf("insert enrollment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit enroll: %w", err)
	}
	return rec, nil
}

// AllRecords reads every active record with one statement, so the snapshot is
// consistent as of the statement start.
func (e *EnrollmentStore) AllRecords(ctx context.Context) (iter.Seq[faceid.Record], error) {
	records, err := e.query(ctx,
		`SELECT id, identity_id, embedding, enrolled_at FROM face_enrollments WHERE active`)
	if err != nil {
		return nil, err
	}
	return slices.Values(records), nil
}

func (e *EnrollmentStore) Records(ctx context.Context, identityID string) ([]faceid.Record, error) {
	return e.query(ctx,
		`SELECT id, identity_id, embedding, enrolled_at FROM face_enrollments
		 WHERE active AND identity_id = $1 ORDER BY enrolled_at DESC`, identityID)
}

func (e *EnrollmentStore) query(ctx context.Context, sql string, args ...interface{}) ([]faceid.Record, error) {
	rows, err := e.db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query enrollments: %w", err)
	}
	defer rows.Close()

	var records []faceid.Record
	for rows.Next() {
		var (
			r   faceid.Record
			emb []float64
		)
		if err := rows.Scan(&r.ID, &r.IdentityID, &emb, &r.EnrolledAt); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		r.Embedding = faceid.Embedding(emb)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enrollments: %w", err)
	}
	return records, nil
}

// Remove deletes active and deactivated records for identityID.
func (e *EnrollmentStore) Remove(ctx context.Context, identityID string) error {
	tx, err := e.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin remove: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, identityID); err != nil {
		return fmt.Errorf("lock identity: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM face_enrollments WHERE identity_id = $1`, identityID); err != nil {
		return fmt.Errorf("delete enrollments: %w", err)
	}
	return tx.Commit(ctx)
}

// NearestCandidates wraps e as a faceid.CandidateSource that asks pgvector for
// the k nearest active records. Ordering uses the float32 copy; the returned
// records carry the exact embeddings, so the matcher re-ranks them precisely.
func (e *EnrollmentStore) NearestCandidates(k int) *VectorCandidates {
	if k <= 0 {
		k = 32
	}
	return &VectorCandidates{EnrollmentStore: e, k: k}
}

// VectorCandidates is an EnrollmentStore that narrows each scan with a
// pgvector L2 query.
type VectorCandidates struct {
	*EnrollmentStore
	k int
}

var _ faceid.CandidateSource = (*VectorCandidates)(nil)

// Candidates returns the k nearest records of the store's dimension plus every
// active record of another dimension, so the matcher still reports and flags
// legacy rows.
func (v *VectorCandidates) Candidates(ctx context.Context, probe faceid.Embedding) (iter.Seq[faceid.Record], error) {
	if err := faceid.CheckDim(probe, v.dim); err != nil {
		return nil, err
	}
	nearest, err := v.query(ctx,
		`SELECT id, identity_id, embedding, enrolled_at FROM face_enrollments
		 WHERE active AND vector_dims(embedding_vec) = $2
		 ORDER BY embedding_vec <-> $1 LIMIT $3`,
		pgvector.NewVector(probe.Float32()), v.dim, v.k)
	if err != nil {
		return nil, err
	}
	legacy, err := v.query(ctx,
		`SELECT id, identity_id, embedding, enrolled_at FROM face_enrollments
		 WHERE active AND vector_dims(embedding_vec) <> $1`, v.dim)
	if err != nil {
		return nil, err
	}
	return slices.Values(append(nearest, legacy...)), nil
}

func (e *EnrollmentStore) FlagForReenrollment(ctx context.Context, recordIDs []uuid.UUID) error {
	if len(recordIDs) == 0 {
		return nil
	}
	ids := make([]string, len(recordIDs))
	for i, id := range recordIDs {
		ids[i] = id.String()
	}
	_, err := e.db.pool.Exec(ctx,
		`UPDATE face_enrollments SET flagged_at = NOW() WHERE id = ANY($1::uuid[]) AND flagged_at IS NULL`,
		ids)
	if err != nil {
		return fmt.Errorf("flag enrollments: %w", err)
	}
	return nil
}

// FlaggedRecords lists records awaiting re-enrollment.
func (e *EnrollmentStore) FlaggedRecords(ctx context.Context) ([]faceid.Record, error) {
	return e.query(ctx,
		`SELECT id, identity_id, embedding, enrolled_at FROM face_enrollments
		 WHERE active AND flagged_at IS NOT NULL ORDER BY identity_id`)
}
