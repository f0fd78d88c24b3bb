package usecase

import "context"

// MetricsSummary represents aggregated search insights.
type MetricsSummary struct {
	TotalSearches      int64   `json:"total_searches"`
	MatchedSearches    int64   `json:"matched_searches"`
	MatchRate          float64 `json:"match_rate"`
	AverageGoodMatches float64 `json:"average_good_matches"`
}

// GetMetricsSummary aggregates search metrics from persisted logs.
func (uc *BiometricUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalSearches:      aggregation.TotalCount,
		MatchedSearches:    aggregation.MatchedCount,
		AverageGoodMatches: aggregation.AverageGoodMatches,
	}

	if aggregation.TotalCount > 0 {
		summary.MatchRate = float64(aggregation.MatchedCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
