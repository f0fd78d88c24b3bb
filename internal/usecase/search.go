package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/biomatch/internal/logging"
	"github.com/example/biomatch/internal/matcher"
	"github.com/example/biomatch/internal/ranking"
	"github.com/example/biomatch/internal/repository"
	"github.com/example/biomatch/internal/vision"
)

// Search no-match reasons. Every one of them is a success outcome.
const (
	ReasonNoCandidates    = "no_candidates_in_bucket"
	ReasonNoProbeFeatures = "no_features_in_probe_image"
	ReasonNoAcceptedMatch = "no_accepted_match"
)

// SearchResult is the outcome of one search request.
type SearchResult struct {
	RequestID         string              `json:"request_id"`
	Modality          string              `json:"modality"`
	Match             bool                `json:"match"`
	Reason            string              `json:"reason,omitempty"`
	SubjectID         string              `json:"subject_id,omitempty"`
	HashDistance      int                 `json:"hash_distance,omitempty"`
	Score             *matcher.MatchScore `json:"score,omitempty"`
	Bucket            int                 `json:"bucket"`
	CandidatesChecked int                 `json:"candidates_checked"`
	ProbeKeypoints    int                 `json:"probe_keypoints"`
	CreatedAt         time.Time           `json:"created_at"`
}

// Search runs the full probe pipeline: fingerprint, bucket lookup, candidate
// scan, probe feature extraction, and ranked matching. An undecodable probe
// image is a true error; everything else resolves to a match or an explicit
// no-match reason. A bucket-index failure counts as an empty bucket, not a
// fault of the engine.
func (uc *BiometricUseCase) Search(ctx context.Context, image string, m repository.Modality) (*SearchResult, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.search", requestID).
		With(zap.String("modality", string(m)))

	fingerprint, err := vision.Hash(image)
	if err != nil {
		return nil, logging.NewOperationError("usecase.probe_fingerprint", requestID, err)
	}

	res := &SearchResult{
		RequestID: requestID,
		Modality:  string(m),
		CreatedAt: time.Now().UTC(),
	}

	bucket, err := uc.repo.HashBucket(ctx, string(fingerprint))
	if err != nil {
		opLogger.Warn("bucket lookup failed, treating as empty bucket", zap.Error(err))
		return uc.finish(ctx, opLogger, res, ReasonNoCandidates)
	}
	res.Bucket = bucket

	rows, err := uc.repo.FindCandidates(ctx, m, string(fingerprint), bucket,
		uc.cfg.BucketRange, uc.cfg.HashDistanceThreshold)
	if err != nil {
		opLogger.Warn("candidate lookup failed, treating as empty bucket", zap.Error(err))
		rows = nil
	}
	if len(rows) == 0 {
		return uc.finish(ctx, opLogger, res, ReasonNoCandidates)
	}
	res.CandidatesChecked = len(rows)

	probe, err := vision.ExtractFeatures(image)
	if err != nil || probe.Empty() {
		return uc.finish(ctx, opLogger, res, ReasonNoProbeFeatures)
	}
	res.ProbeKeypoints = probe.Rows

	candidates := make([]ranking.Candidate, len(rows))
	for i, row := range rows {
		candidates[i] = ranking.Candidate{ID: row.ID, Distance: row.Distance, Bucket: row.Bucket}
	}

	best, ok := uc.ranker.Rank(ctx, probe, candidates, uc.descriptorFetcher(m))
	if !ok {
		return uc.finish(ctx, opLogger, res, ReasonNoAcceptedMatch)
	}

	res.SubjectID = best.Candidate.ID
	res.HashDistance = best.Candidate.Distance
	score := best.Score
	res.Score = &score
	opLogger.Info("match accepted",
		zap.String("subject_id", res.SubjectID),
		zap.Int("good_matches", score.GoodMatches),
		zap.Float64("match_ratio", score.MatchRatio),
	)
	return uc.finish(ctx, opLogger, res, "")
}

func (uc *BiometricUseCase) descriptorFetcher(m repository.Modality) ranking.FetchFunc {
	return func(ctx context.Context, c ranking.Candidate) (string, bool, error) {
		return uc.repo.FetchDescriptorColumn(ctx, c.ID, m)
	}
}

// finish stamps the outcome, persists the search log, and caches the result.
func (uc *BiometricUseCase) finish(ctx context.Context, opLogger *zap.Logger, res *SearchResult, reason string) (*SearchResult, error) {
	res.Reason = reason
	res.Match = reason == ""

	log := &repository.SearchLog{
		RequestID:         res.RequestID,
		Modality:          res.Modality,
		Matched:           res.Match,
		SubjectID:         res.SubjectID,
		Reason:            res.Reason,
		CandidatesChecked: res.CandidatesChecked,
		CreatedAt:         res.CreatedAt,
	}
	if res.Score != nil {
		log.GoodMatches = res.Score.GoodMatches
		log.MatchRatio = res.Score.MatchRatio
	}
	if err := uc.repo.SaveSearchLog(ctx, log); err != nil {
		opLogger.Error("failed to persist search log", zap.Error(err))
		return nil, err
	}

	serialized, err := json.Marshal(res)
	if err != nil {
		opLogger.Error("failed to serialize search result", zap.Error(err))
		return nil, err
	}
	cacheKey := cacheKeyFor(res.RequestID)
	if err := uc.withRedisRetry(ctx, res.RequestID, "cache.set.search_result", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), 5*time.Minute)
	}); err != nil {
		opLogger.Error("failed to cache search result", zap.Error(err))
		return nil, err
	}

	return res, nil
}

// GetResult retrieves a cached search outcome or falls back to the persisted
// search log.
func (uc *BiometricUseCase) GetResult(ctx context.Context, requestID string) (*SearchResult, error) {
	cacheKey := cacheKeyFor(requestID)
	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.search_result", cacheKey); err == nil {
		var res SearchResult
		if err := json.Unmarshal([]byte(cached), &res); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_result", requestID).
				Warn("failed to decode cached result", zap.Error(err))
		} else {
			return &res, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_result", requestID).
			Warn("failed to read cache", zap.Error(err))
	}

	log, err := uc.repo.FindSearchLogByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	res := &SearchResult{
		RequestID:         log.RequestID,
		Modality:          log.Modality,
		Match:             log.Matched,
		Reason:            log.Reason,
		SubjectID:         log.SubjectID,
		CandidatesChecked: log.CandidatesChecked,
		CreatedAt:         log.CreatedAt,
	}
	if log.Matched {
		res.Score = &matcher.MatchScore{
			GoodMatches: log.GoodMatches,
			MatchRatio:  log.MatchRatio,
			IsMatch:     true,
		}
	}
	return res, nil
}

func cacheKeyFor(requestID string) string {
	return fmt.Sprintf("search:%s", requestID)
}
