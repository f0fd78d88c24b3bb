package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/biomatch/internal/logging"
)

// SubjectRepository provides persistence for enrolled subjects, search logs,
// and the in-database bucket index.
type SubjectRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewSubjectRepository creates a new repository instance.
func NewSubjectRepository(db *gorm.DB, logger *zap.Logger) *SubjectRepository {
	return &SubjectRepository{
		db:             db,
		logger:         logger.Named("subject_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema and the bucket-index SQL functions exist.
func (r *SubjectRepository) AutoMigrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&SubjectRecord{}, &SearchLog{}); err != nil {
		return err
	}
	for _, stmt := range indexFunctions {
		if err := r.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// SaveSubject persists an enrolled subject.
func (r *SubjectRepository) SaveSubject(ctx context.Context, rec *SubjectRecord) error {
	return r.executeWithRetry(ctx, "repository.save_subject", rec.ID, func() error {
		return r.db.WithContext(ctx).Create(rec).Error
	})
}

// FindSubjectByID loads a full subject record.
func (r *SubjectRepository) FindSubjectByID(ctx context.Context, id string) (*SubjectRecord, error) {
	var rec SubjectRecord
	if err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// HashBucket asks the index which coarse bucket a fingerprint falls into.
func (r *SubjectRepository) HashBucket(ctx context.Context, fingerprint string) (int, error) {
	var bucket int
	err := r.db.WithContext(ctx).
		Raw("SELECT get_hash_bucket(?)", fingerprint).
		Scan(&bucket).Error
	if err != nil {
		return 0, logging.NewOperationError("repository.hash_bucket", "", err)
	}
	return bucket, nil
}

// FindCandidates queries the bucket index for records near the probe
// fingerprint, ordered by Hamming distance ascending. An empty result is a
// valid no-candidates outcome.
func (r *SubjectRepository) FindCandidates(ctx context.Context, m Modality, fingerprint string, bucket, bucketRange, distanceThreshold int) ([]CandidateRow, error) {
	var rows []CandidateRow
	err := r.db.WithContext(ctx).
		Raw("SELECT id, distance, bucket FROM find_candidates(?, ?, ?, ?, ?, ?)",
			m.HashColumn(), m.BucketColumn(), fingerprint, bucket, bucketRange, distanceThreshold).
		Scan(&rows).Error
	if err != nil {
		return nil, logging.NewOperationError("repository.find_candidates", "", err)
	}
	return rows, nil
}

// FetchDescriptorColumn lazily loads one candidate's stored descriptor
// envelope. A missing row or a NULL column is absence, not an error.
func (r *SubjectRepository) FetchDescriptorColumn(ctx context.Context, subjectID string, m Modality) (string, bool, error) {
	var value sql.NullString
	row := r.db.WithContext(ctx).
		Table(SubjectRecord{}.TableName()).
		Select(m.DescriptorColumn()).
		Where("id = ?", subjectID).
		Limit(1).
		Row()
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, logging.NewOperationError("repository.fetch_descriptors", subjectID, err)
	}
	if !value.Valid || value.String == "" {
		return "", false, nil
	}
	return value.String, true, nil
}

// SaveSearchLog persists one search outcome.
func (r *SubjectRepository) SaveSearchLog(ctx context.Context, log *SearchLog) error {
	return r.executeWithRetry(ctx, "repository.save_search_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindSearchLogByRequestID retrieves one persisted search outcome.
func (r *SubjectRepository) FindSearchLogByRequestID(ctx context.Context, requestID string) (*SearchLog, error) {
	var log SearchLog
	if err := r.db.WithContext(ctx).First(&log, "request_id = ?", requestID).Error; err != nil {
		return nil, err
	}
	return &log, nil
}

// AggregateMetrics folds the search log into summary counters.
func (r *SubjectRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.db.WithContext(ctx).
		Raw(`SELECT COUNT(*) AS total_count,
		            COUNT(*) FILTER (WHERE matched) AS matched_count,
		            COALESCE(AVG(good_matches) FILTER (WHERE matched), 0) AS average_good_matches
		       FROM search_logs`).
		Scan(&agg).Error
	if err != nil {
		return nil, logging.NewOperationError("repository.aggregate_metrics", "", err)
	}
	return &agg, nil
}

// executeWithRetry retries transient database failures with exponential
// backoff; non-transient failures and exhausted attempts come back wrapped
// with operation metadata.
func (r *SubjectRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	if r.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
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
