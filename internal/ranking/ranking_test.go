package ranking

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/example/biomatch/internal/codec"
	"github.com/example/biomatch/internal/vision"
)

func randomSet(rows int, seed int64) *vision.DescriptorSet {
	rng := rand.New(rand.NewSource(seed))
	s := &vision.DescriptorSet{
		Kind:  vision.ElementUint8,
		Rows:  rows,
		Width: vision.DescriptorWidth,
		Data:  make([]byte, rows*vision.DescriptorWidth),
	}
	rng.Read(s.Data)
	return s
}

// subset returns the first n rows of a set. Matched against the full set the
// result yields exactly n good (zero-distance) matches: random 256-bit rows
// sit far above the good-distance cutoff from each other.
func subset(s *vision.DescriptorSet, n int) *vision.DescriptorSet {
	return &vision.DescriptorSet{
		Kind:  s.Kind,
		Rows:  n,
		Width: s.Width,
		Data:  s.Data[:n*s.Width],
	}
}

func envelopeFor(t *testing.T, s *vision.DescriptorSet) string {
	t.Helper()
	env, err := codec.Encode(s)
	if err != nil {
		t.Fatalf("failed to encode test envelope: %v", err)
	}
	return env
}

func mapFetch(envelopes map[string]string) FetchFunc {
	return func(_ context.Context, c Candidate) (string, bool, error) {
		env, ok := envelopes[c.ID]
		return env, ok, nil
	}
}

func TestRankSelectsGreatestGoodMatchCount(t *testing.T) {
	probe := randomSet(30, 1)
	envelopes := map[string]string{
		"cand-15": envelopeFor(t, subset(probe, 15)),
		"cand-25": envelopeFor(t, subset(probe, 25)),
		"cand-30": envelopeFor(t, probe),
	}
	candidates := []Candidate{
		{ID: "cand-15", Distance: 3},
		{ID: "cand-25", Distance: 5},
		{ID: "cand-30", Distance: 9},
	}

	ranker := NewRanker(20, 2, zap.NewNop())
	best, ok := ranker.Rank(context.Background(), probe, candidates, mapFetch(envelopes))
	if !ok {
		t.Fatal("expected an accepted match")
	}
	if best.Candidate.ID != "cand-30" {
		t.Fatalf("expected cand-30 to win, got %s", best.Candidate.ID)
	}
	if best.Score.GoodMatches != 30 {
		t.Fatalf("expected 30 good matches, got %d", best.Score.GoodMatches)
	}
}

func TestRankNoCandidateMeetsThreshold(t *testing.T) {
	probe := randomSet(30, 2)
	envelopes := map[string]string{
		"cand-10": envelopeFor(t, subset(probe, 10)),
		"cand-15": envelopeFor(t, subset(probe, 15)),
		"cand-18": envelopeFor(t, subset(probe, 18)),
	}
	candidates := []Candidate{{ID: "cand-10"}, {ID: "cand-15"}, {ID: "cand-18"}}

	ranker := NewRanker(20, 2, zap.NewNop())
	if best, ok := ranker.Rank(context.Background(), probe, candidates, mapFetch(envelopes)); ok {
		t.Fatalf("expected no accepted match, got %s", best.Candidate.ID)
	}
}

func TestRankTiesKeepFirstSeenCandidate(t *testing.T) {
	probe := randomSet(30, 3)
	env := envelopeFor(t, subset(probe, 25))
	envelopes := map[string]string{"closer": env, "farther": env}
	candidates := []Candidate{
		{ID: "closer", Distance: 2},
		{ID: "farther", Distance: 8},
	}

	// The workers race, but the reduction must still honour the index
	// (hash-distance) order; run it a few times to shake out scheduling.
	ranker := NewRanker(20, 8, zap.NewNop())
	for i := 0; i < 20; i++ {
		best, ok := ranker.Rank(context.Background(), probe, candidates, mapFetch(envelopes))
		if !ok {
			t.Fatal("expected an accepted match")
		}
		if best.Candidate.ID != "closer" {
			t.Fatalf("run %d: tie must keep the hash-closer candidate, got %s", i, best.Candidate.ID)
		}
	}
}

func TestRankSkipsCandidatesWithoutDescriptors(t *testing.T) {
	probe := randomSet(30, 4)
	envelopes := map[string]string{
		"with-descriptors": envelopeFor(t, subset(probe, 25)),
	}
	candidates := []Candidate{
		{ID: "partial-enrollment"},
		{ID: "with-descriptors"},
	}

	ranker := NewRanker(20, 2, zap.NewNop())
	best, ok := ranker.Rank(context.Background(), probe, candidates, mapFetch(envelopes))
	if !ok {
		t.Fatal("missing stored descriptors must not suppress the remaining candidates")
	}
	if best.Candidate.ID != "with-descriptors" {
		t.Fatalf("unexpected winner: %s", best.Candidate.ID)
	}
}

func TestRankIsolatesPerCandidateFailures(t *testing.T) {
	probe := randomSet(30, 5)
	good := envelopeFor(t, subset(probe, 25))
	candidates := []Candidate{
		{ID: "fetch-error"},
		{ID: "corrupt-envelope"},
		{ID: "healthy"},
	}
	fetch := func(_ context.Context, c Candidate) (string, bool, error) {
		switch c.ID {
		case "fetch-error":
			return "", false, errors.New("record store unavailable")
		case "corrupt-envelope":
			return "@@@not an envelope@@@", true, nil
		default:
			return good, true, nil
		}
	}

	ranker := NewRanker(20, 2, zap.NewNop())
	best, ok := ranker.Rank(context.Background(), probe, candidates, fetch)
	if !ok {
		t.Fatal("per-candidate failures must not abort the ranking pass")
	}
	if best.Candidate.ID != "healthy" {
		t.Fatalf("unexpected winner: %s", best.Candidate.ID)
	}
}

func TestRankEmptyInputs(t *testing.T) {
	ranker := NewRanker(20, 2, zap.NewNop())
	fetch := mapFetch(nil)

	if _, ok := ranker.Rank(context.Background(), nil, []Candidate{{ID: "a"}}, fetch); ok {
		t.Fatal("empty probe must yield no match")
	}
	if _, ok := ranker.Rank(context.Background(), randomSet(10, 6), nil, fetch); ok {
		t.Fatal("empty candidate list must yield no match")
	}
}

func TestRankBoundsConcurrentFetches(t *testing.T) {
	probe := randomSet(30, 7)
	env := envelopeFor(t, subset(probe, 25))

	var inFlight, peak atomic.Int32
	fetch := func(_ context.Context, c Candidate) (string, bool, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		defer inFlight.Add(-1)
		return env, true, nil
	}

	candidates := make([]Candidate, 16)
	for i := range candidates {
		candidates[i] = Candidate{ID: fmt.Sprintf("cand-%d", i), Distance: i}
	}

	ranker := NewRanker(20, 2, zap.NewNop())
	if _, ok := ranker.Rank(context.Background(), probe, candidates, fetch); !ok {
		t.Fatal("expected an accepted match")
	}
	if got := peak.Load(); got > 2 {
		t.Fatalf("worker pool exceeded its bound: peak %d", got)
	}
}
