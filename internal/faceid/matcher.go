package faceid

import (
	"context"
	"iter"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultThreshold is the Euclidean distance below which a probe matches. Lower is stricter.
const DefaultThreshold = 0.6

// TieBreak names the rule used when candidates share the minimum distance.
type TieBreak string

// TieBreakAscendingID picks the lexicographically smallest identity ID.
const TieBreakAscendingID TieBreak = "ascending_id"

// MatchResult is the outcome of one probe against an enrollment snapshot.
// When Matched is false, Distance is the nearest comparable distance seen
// (0 when nothing was comparable) and IdentityID is empty.
type MatchResult struct {
	IdentityID string
	RecordID   uuid.UUID
	Distance   float64
	Matched    bool
	// Scanned counts records whose distance was computed.
	Scanned int
	// Mismatched lists records skipped because their dimension differs from the probe.
	Mismatched []Record
}

// Matcher compares a probe against enrolled records.
type Matcher struct {
	// Workers > 1 enables the partitioned scan once the snapshot holds at least ParallelMin records.
	Workers     int
	ParallelMin int
	Logger      *slog.Logger
}

// NewMatcher returns a sequential matcher.
func NewMatcher() *Matcher {
	return &Matcher{Workers: 1, Logger: slog.Default()}
}

type candidate struct {
	rec  Record
	dist float64
	ok   bool
}

// better reports whether a sorts before b in the total order (distance, identity, record).
func better(a, b candidate) bool {
	if !b.ok {
		return a.ok
	}
	if !a.ok {
		return false
	}
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	if a.rec.IdentityID != b.rec.IdentityID {
		return a.rec.IdentityID < b.rec.IdentityID
	}
	return a.rec.ID.String() < b.rec.ID.String()
}

type partial struct {
	best       candidate // best strictly under threshold
	nearest    candidate // best regardless of threshold
	scanned    int
	mismatched []Record
}

func (p *partial) merge(o partial) {
	if better(o.best, p.best) {
		p.best = o.best
	}
	if better(o.nearest, p.nearest) {
		p.nearest = o.nearest
	}
	p.scanned += o.scanned
	p.mismatched = append(p.mismatched, o.mismatched...)
}

func scan(probe Embedding, threshold float64, records []Record) partial {
	var p partial
	for _, rec := range records {
		d, err := Distance(probe, rec.Embedding)
		if err != nil {
			p.mismatched = append(p.mismatched, rec)
			continue
		}
		p.scanned++
		c := candidate{rec: rec, dist: d, ok: true}
		if better(c, p.nearest) {
			p.nearest = c
		}
		if d < threshold && better(c, p.best) {
			p.best = c
		}
	}
	return p
}

// Match returns the best record strictly under threshold. Records with a
// different dimensionality are skipped and reported, never coerced.
// Sequential and parallel scans return identical results for identical input.
func (m *Matcher) Match(ctx context.Context, probe Embedding, threshold float64, records iter.Seq[Record]) MatchResult {
	snapshot := slices.Collect(records)

	var total partial
	if m.Workers > 1 && len(snapshot) >= max(m.ParallelMin, m.Workers) {
		total = m.scanParallel(probe, threshold, snapshot)
	} else {
		total = scan(probe, threshold, snapshot)
	}

	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, rec := range total.mismatched {
		logger.WarnContext(ctx, "skipping enrollment with mismatched dimension",
			"identity_id", rec.IdentityID,
			"record_id", rec.ID,
			"want", len(probe),
			"got", len(rec.Embedding),
		)
	}
	slices.SortFunc(total.mismatched, func(a, b Record) int {
		if a.ID.String() < b.ID.String() {
			return -1
		}
		if a.ID.String() > b.ID.String() {
			return 1
		}
		return 0
	})

	res := MatchResult{Scanned: total.scanned, Mismatched: total.mismatched}
	if total.best.ok {
		res.Matched = true
		res.IdentityID = total.best.rec.IdentityID
		res.RecordID = total.best.rec.ID
		res.Distance = total.best.dist
	} else if total.nearest.ok {
		res.Distance = total.nearest.dist
	}
	return res
}

// scanParallel splits records into contiguous chunks, one per worker, and
// reduces the partial results with the same ordering as scan. The scan is pure
// CPU work over an in-memory snapshot and always runs to completion.
func (m *Matcher) scanParallel(probe Embedding, threshold float64, records []Record) partial {
	workers := min(m.Workers, len(records))
	chunk := (len(records) + workers - 1) / workers
	parts := make([]partial, workers)

	var g errgroup.Group
	g.SetLimit(workers)
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := min(lo+chunk, len(records))
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			parts[w] = scan(probe, threshold, records[lo:hi])
			return nil
		})
	}
	// workers never return an error
	g.Wait()

	var total partial
	for _, p := range parts {
		total.merge(p)
	}
	return total
}
