package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/biomatch/internal/logging"
	"github.com/example/biomatch/internal/matcher"
	"github.com/example/biomatch/internal/ranking"
	"github.com/example/biomatch/internal/repository"
)

// Config carries the engine thresholds. The bucket-stage hash-distance
// threshold and the feature-match acceptance threshold are deliberately
// independent knobs; neither is derived from the other.
type Config struct {
	// BucketRange widens the bucket scan to +/- this many buckets.
	BucketRange int
	// HashDistanceThreshold caps the fingerprint Hamming distance of
	// candidates admitted to fine matching.
	HashDistanceThreshold int
	// MinGoodMatches is the good-match count a candidate needs to be
	// accepted by the feature matcher.
	MinGoodMatches int
	// RankWorkers bounds the candidate-scoring worker pool.
	RankWorkers int
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		BucketRange:           10,
		HashDistanceThreshold: 100,
		MinGoodMatches:        matcher.DefaultMinGoodMatches,
		RankWorkers:           ranking.DefaultWorkers,
	}
}

// SubjectRepository defines the persistence operations needed by the use case.
type SubjectRepository interface {
	SaveSubject(ctx context.Context, rec *repository.SubjectRecord) error
	FindSubjectByID(ctx context.Context, id string) (*repository.SubjectRecord, error)
	HashBucket(ctx context.Context, fingerprint string) (int, error)
	FindCandidates(ctx context.Context, m repository.Modality, fingerprint string, bucket, bucketRange, distanceThreshold int) ([]repository.CandidateRow, error)
	FetchDescriptorColumn(ctx context.Context, subjectID string, m repository.Modality) (string, bool, error)
	SaveSearchLog(ctx context.Context, log *repository.SearchLog) error
	FindSearchLogByRequestID(ctx context.Context, requestID string) (*repository.SearchLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// BiometricUseCase encapsulates the enrollment and search flows.
type BiometricUseCase struct {
	repo           SubjectRepository
	cache          Cache
	ranker         *ranking.Ranker
	cfg            Config
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewBiometricUseCase constructs a new use case instance. Zero config fields
// fall back to the defaults.
func NewBiometricUseCase(repo SubjectRepository, cache Cache, cfg Config, logger *zap.Logger) *BiometricUseCase {
	defaults := DefaultConfig()
	if cfg.BucketRange <= 0 {
		cfg.BucketRange = defaults.BucketRange
	}
	if cfg.HashDistanceThreshold <= 0 {
		cfg.HashDistanceThreshold = defaults.HashDistanceThreshold
	}
	if cfg.MinGoodMatches <= 0 {
		cfg.MinGoodMatches = defaults.MinGoodMatches
	}
	if cfg.RankWorkers <= 0 {
		cfg.RankWorkers = defaults.RankWorkers
	}
	return &BiometricUseCase{
		repo:           repo,
		cache:          cache,
		ranker:         ranking.NewRanker(cfg.MinGoodMatches, cfg.RankWorkers, logger),
		cfg:            cfg,
		logger:         logger.Named("biometric_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

func (uc *BiometricUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, requestID, err)
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *BiometricUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
