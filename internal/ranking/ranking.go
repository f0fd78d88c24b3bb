// Package ranking drives the feature matcher across a bounded candidate list
// and selects the best acceptable match.
package ranking

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/biomatch/internal/codec"
	"github.com/example/biomatch/internal/matcher"
	"github.com/example/biomatch/internal/vision"
)

// DefaultWorkers bounds the candidate-scoring pool when no explicit size is
// configured.
const DefaultWorkers = 4

// Candidate is one bucket-index hit. The slice order handed to Rank is owned
// by the index (ascending hash distance) and is never re-sorted here.
type Candidate struct {
	ID       string
	Distance int
	Bucket   int
}

// FetchFunc lazily loads the stored descriptor envelope for one candidate.
// ok=false reports a record enrolled without descriptors; that is an expected
// partial-enrollment state, not an error.
type FetchFunc func(ctx context.Context, c Candidate) (envelope string, ok bool, err error)

// Best is the accepted winner of a ranking pass.
type Best struct {
	Candidate Candidate
	Score     matcher.MatchScore
}

// Ranker scores candidates against a probe descriptor set.
type Ranker struct {
	minGood int
	workers int
	logger  *zap.Logger
}

// NewRanker builds a ranker with the given acceptance threshold and worker
// pool size; non-positive values select the defaults.
func NewRanker(minGood, workers int, logger *zap.Logger) *Ranker {
	if minGood <= 0 {
		minGood = matcher.DefaultMinGoodMatches
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Ranker{minGood: minGood, workers: workers, logger: logger.Named("ranker")}
}

// Rank fetches, decodes and matches every candidate's stored descriptors
// against the probe and returns the candidate with the strictly greatest
// accepted good-match count. Candidates are scored on a bounded worker pool,
// but the reduction walks the original order, so ties keep the first-seen
// (hash-closer) candidate exactly as a serial pass would. A candidate whose
// fetch, decode or match fails is skipped; nothing here is fatal. The second
// return value is false when no candidate met the threshold, which is a
// success outcome, not an error.
func (r *Ranker) Rank(ctx context.Context, probe *vision.DescriptorSet, candidates []Candidate, fetch FetchFunc) (*Best, bool) {
	if probe.Empty() || len(candidates) == 0 {
		return nil, false
	}

	scores := make([]*matcher.MatchScore, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for idx := range candidates {
		idx := idx
		g.Go(func() error {
			if score, ok := r.scoreCandidate(gctx, probe, candidates[idx], fetch); ok {
				scores[idx] = &score
			}
			// Per-candidate failures are swallowed so one bad stored record
			// cannot abort the scan of the remaining candidates.
			return nil
		})
	}
	_ = g.Wait()

	var best *Best
	for idx, score := range scores {
		if score == nil || !score.IsMatch {
			continue
		}
		if best == nil || score.GoodMatches > best.Score.GoodMatches {
			best = &Best{Candidate: candidates[idx], Score: *score}
		}
	}
	return best, best != nil
}

func (r *Ranker) scoreCandidate(ctx context.Context, probe *vision.DescriptorSet, cand Candidate, fetch FetchFunc) (matcher.MatchScore, bool) {
	envelope, ok, err := fetch(ctx, cand)
	if err != nil {
		r.logger.Warn("descriptor fetch failed",
			zap.String("candidate_id", cand.ID), zap.Error(err))
		return matcher.MatchScore{}, false
	}
	if !ok || envelope == "" {
		return matcher.MatchScore{}, false
	}

	stored, err := codec.Decode(envelope)
	if err != nil {
		r.logger.Warn("stored descriptors unreadable",
			zap.String("candidate_id", cand.ID), zap.Error(err))
		return matcher.MatchScore{}, false
	}

	score, err := matcher.Match(probe, stored, r.minGood)
	if err != nil {
		r.logger.Warn("candidate match failed",
			zap.String("candidate_id", cand.ID), zap.Error(err))
		return matcher.MatchScore{}, false
	}
	return score, true
}
