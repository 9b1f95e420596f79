package usecase

import "context"

// AttendanceSummary represents aggregated attendance insights for a professor.
type AttendanceSummary struct {
	FinalizedSessions int64   `json:"finalized_sessions"`
	AbandonedSessions int64   `json:"abandoned_sessions"`
	TotalPresences    int64   `json:"total_presences"`
	AveragePresent    float64 `json:"average_present"`
}

// Summary aggregates attendance totals from persisted sessions.
func (uc *AttendanceUseCase) Summary(ctx context.Context, professorID uint) (*AttendanceSummary, error) {
	aggregation, err := uc.repo.AggregateAttendance(ctx, professorID)
	if err != nil {
		return nil, err
	}

	summary := &AttendanceSummary{
		FinalizedSessions: aggregation.FinalizedSessions,
		AbandonedSessions: aggregation.AbandonedSessions,
		TotalPresences:    aggregation.TotalRecords,
	}

	if aggregation.FinalizedSessions > 0 {
		summary.AveragePresent = float64(aggregation.TotalRecords) / float64(aggregation.FinalizedSessions)
	}

	return summary, nil
}
