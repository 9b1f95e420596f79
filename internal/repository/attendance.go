package repository

import (
	"context"
	"time"

	"gorm.io/gorm/clause"
)

// AttendanceAggregation holds raw totals for one professor.
type AttendanceAggregation struct {
	FinalizedSessions int64
	AbandonedSessions int64
	TotalRecords      int64
}

// CreateSession persists a new open session.
func (r *Repository) CreateSession(ctx context.Context, s *AttendanceSession) error {
	return r.executeWithRetry(ctx, "repository.create_session", func() error {
		return r.db.WithContext(ctx).Create(s).Error
	})
}

// FindSession loads a session owned by professorID.
func (r *Repository) FindSession(ctx context.Context, professorID uint, id string) (*AttendanceSession, error) {
	var s AttendanceSession
	err := r.executeWithRetry(ctx, "repository.find_session", func() error {
		return translate(r.db.WithContext(ctx).First(&s, "id = ? AND professor_id = ?", id, professorID).Error)
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CloseSession moves an open session to status. Sessions that are no longer
// open report ErrSessionClosed.
func (r *Repository) CloseSession(ctx context.Context, id, status string, closedAt time.Time) error {
	return r.executeWithRetry(ctx, "repository.close_session", func() error {
		res := r.db.WithContext(ctx).Model(&AttendanceSession{}).
			Where("id = ? AND status = ?", id, SessionOpen).
			Updates(map[string]any{"status": status, "closed_at": closedAt})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrSessionClosed
		}
		return nil
	})
}

// SaveRecords stores the presence records of a closed session. Records already
// stored for the same student are kept.
func (r *Repository) SaveRecords(ctx context.Context, sessionID string, records []AttendanceRecord) error {
	if len(records) == 0 {
		return nil
	}
	for i := range records {
		records[i].SessionID = sessionID
	}
	return r.executeWithRetry(ctx, "repository.save_records", func() error {
		return r.db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "session_id"}, {Name: "student_id"}}, DoNothing: true}).
			Create(&records).Error
	})
}

// ListRecords returns the stored records of a session ordered by mark time.
func (r *Repository) ListRecords(ctx context.Context, sessionID string) ([]AttendanceRecord, error) {
	var records []AttendanceRecord
	err := r.executeWithRetry(ctx, "repository.list_records", func() error {
		return r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("marked_at ASC, id ASC").Find(&records).Error
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ListStaleSessions returns open sessions started before cutoff.
func (r *Repository) ListStaleSessions(ctx context.Context, cutoff time.Time) ([]AttendanceSession, error) {
	var sessions []AttendanceSession
	err := r.executeWithRetry(ctx, "repository.list_stale_sessions", func() error {
		return r.db.WithContext(ctx).
			Where("status = ? AND started_at < ?", SessionOpen, cutoff).
			Order("started_at ASC").
			Find(&sessions).Error
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// AggregateAttendance computes session and record totals for professorID.
func (r *Repository) AggregateAttendance(ctx context.Context, professorID uint) (*AttendanceAggregation, error) {
	var agg AttendanceAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_attendance", func() error {
		db := r.db.WithContext(ctx)
		if err := db.Model(&AttendanceSession{}).
			Where("professor_id = ? AND status = ?", professorID, SessionFinalized).
			Count(&agg.FinalizedSessions).Error; err != nil {
			return err
		}
		if err := db.Model(&AttendanceSession{}).
			Where("professor_id = ? AND status = ?", professorID, SessionAbandoned).
			Count(&agg.AbandonedSessions).Error; err != nil {
			return err
		}
		return db.Model(&AttendanceRecord{}).
			Joins("JOIN attendance_sessions ON attendance_sessions.id = attendance_records.session_id").
			Where("attendance_sessions.professor_id = ?", professorID).
			Count(&agg.TotalRecords).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}
