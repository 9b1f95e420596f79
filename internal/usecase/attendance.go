package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/chamada/internal/attendance"
	"github.com/example/chamada/internal/extractor"
	"github.com/example/chamada/internal/logging"
	"github.com/example/chamada/internal/matcher"
	"github.com/example/chamada/internal/metrics"
	"github.com/example/chamada/internal/repository"
)

// RecognitionStatus is the outcome of one capture during a roll call.
type RecognitionStatus string

const (
	StatusPresent        RecognitionStatus = "present"
	StatusAlreadyPresent RecognitionStatus = "already_present"
	StatusNotRecognized  RecognitionStatus = "not_recognized"
)

// Recognition is returned by Recognize. Student is nil when not recognised.
type Recognition struct {
	Status   RecognitionStatus
	Student  *repository.Student
	Distance float64
}

// PresentStudent is one entry of a session's present list.
type PresentStudent struct {
	StudentID uint
	Name      string
	Class     string
	MarkedAt  time.Time
}

// SessionState describes a session and who is present so far.
type SessionState struct {
	Session  *repository.AttendanceSession
	Enrolled int
	Present  []PresentStudent
}

// AttendanceUseCase runs roll calls against a professor's enrolled descriptors.
type AttendanceUseCase struct {
	repo       AttendanceRepository
	store      attendance.Store
	matcher    *matcher.Matcher
	extractor  extractor.Client
	metrics    *metrics.Metrics
	logger     *zap.Logger
	sessionTTL time.Duration
	now        func() time.Time
}

// NewAttendanceUseCase wires the roll call flow. ext may be nil when no
// descriptor extractor is deployed.
func NewAttendanceUseCase(repo AttendanceRepository, store attendance.Store, m *matcher.Matcher, ext extractor.Client,
	mt *metrics.Metrics, sessionTTL time.Duration, logger *zap.Logger) *AttendanceUseCase {
	return &AttendanceUseCase{
		repo:       repo,
		store:      store,
		matcher:    m,
		extractor:  ext,
		metrics:    mt,
		logger:     logger.Named("attendance_usecase"),
		sessionTTL: sessionTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// StartSession opens a roll call for the professor.
func (uc *AttendanceUseCase) StartSession(ctx context.Context, professorID uint) (*SessionState, error) {
	candidates, err := uc.repo.ListCandidates(ctx, professorID)
	if err != nil {
		return nil, err
	}

	session := &repository.AttendanceSession{
		ID:          uuid.NewString(),
		ProfessorID: professorID,
		Status:      repository.SessionOpen,
		StartedAt:   uc.now(),
	}
	if err := uc.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	uc.metrics.SessionsOpened.Inc()
	logging.WithProfessor(uc.logger, professorID).Info("attendance session opened",
		zap.String("session_id", session.ID), zap.Int("enrolled", len(candidates)))

	return &SessionState{Session: session, Enrolled: len(candidates), Present: []PresentStudent{}}, nil
}

// Recognize identifies query among the professor's students and marks the
// match present. A student already in the session is reported
// StatusAlreadyPresent and not re-added.
func (uc *AttendanceUseCase) Recognize(ctx context.Context, professorID uint, sessionID string, query matcher.Embedding) (*Recognition, error) {
	opLogger := logging.WithProfessor(logging.WithOperation(uc.logger, "usecase.recognize", logging.RequestIDFromContext(ctx)), professorID).
		With(zap.String("session_id", sessionID))

	if err := uc.matcher.Validate(query); err != nil {
		uc.metrics.RecognitionTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if _, err := uc.openSession(ctx, professorID, sessionID); err != nil {
		return nil, err
	}

	candidates, err := uc.repo.ListCandidates(ctx, professorID)
	if err != nil {
		uc.metrics.RecognitionTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, err
	}
	uc.metrics.CandidateSetSize.Observe(float64(len(candidates)))

	result, err := uc.matcher.Identify(query, candidates)
	if err != nil {
		uc.metrics.RecognitionTotal.WithLabelValues(metrics.OutcomeError).Inc()
		opLogger.Error("roster descriptors inconsistent", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrRosterInconsistent, err)
	}
	if !result.Matched {
		uc.metrics.RecognitionTotal.WithLabelValues(metrics.OutcomeNotRecognized).Inc()
		return &Recognition{Status: StatusNotRecognized}, nil
	}
	uc.metrics.MatchDistance.Observe(result.Distance)

	added, err := uc.store.Mark(ctx, sessionID, result.IdentityID, uc.now())
	if err != nil {
		uc.metrics.RecognitionTotal.WithLabelValues(metrics.OutcomeError).Inc()
		opLogger.Error("failed to mark presence", zap.Error(err))
		return nil, err
	}
	// Finalize closes the session before reading the set, so a mark made
	// after that point is not persisted and must not be reported present.
	if _, err := uc.openSession(ctx, professorID, sessionID); err != nil {
		if errors.Is(err, ErrSessionClosed) {
			opLogger.Warn("session closed while marking presence", zap.Uint("student_id", result.IdentityID))
		}
		return nil, err
	}

	students, err := uc.repo.FindStudents(ctx, professorID, []uint{result.IdentityID})
	if err != nil {
		return nil, err
	}
	rec := &Recognition{Status: StatusPresent, Distance: result.Distance}
	if s, ok := students[result.IdentityID]; ok {
		rec.Student = &s
	} else {
		rec.Student = &repository.Student{ID: result.IdentityID, ProfessorID: professorID}
	}
	if !added {
		rec.Status = StatusAlreadyPresent
	}

	outcome := metrics.OutcomePresent
	if !added {
		outcome = metrics.OutcomeAlreadyPresent
	}
	uc.metrics.RecognitionTotal.WithLabelValues(outcome).Inc()
	opLogger.Info("student recognised",
		zap.Uint("student_id", result.IdentityID),
		zap.Float64("distance", result.Distance),
		zap.String("status", string(rec.Status)))
	return rec, nil
}

// RecognizeImage extracts a descriptor from a camera frame and runs Recognize.
// A frame without a face is reported StatusNotRecognized.
func (uc *AttendanceUseCase) RecognizeImage(ctx context.Context, professorID uint, sessionID string, image []byte, contentType string) (*Recognition, error) {
	if uc.extractor == nil {
		return nil, ErrExtractorUnavailable
	}
	if _, err := uc.openSession(ctx, professorID, sessionID); err != nil {
		return nil, err
	}

	descriptor, err := uc.extractor.Extract(ctx, image, contentType)
	if err != nil {
		if errors.Is(err, extractor.ErrNoFace) {
			uc.metrics.RecognitionTotal.WithLabelValues(metrics.OutcomeNotRecognized).Inc()
			return &Recognition{Status: StatusNotRecognized}, nil
		}
		uc.metrics.RecognitionTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, err
	}
	return uc.Recognize(ctx, professorID, sessionID, descriptor)
}

// Session returns the session and its present list. Closed sessions are
// read from the stored records.
func (uc *AttendanceUseCase) Session(ctx context.Context, professorID uint, sessionID string) (*SessionState, error) {
	session, err := uc.repo.FindSession(ctx, professorID, sessionID)
	if err != nil {
		return nil, err
	}

	var marks []attendance.Mark
	if session.Status == repository.SessionOpen {
		marks, err = uc.store.Marks(ctx, sessionID)
	} else {
		marks, err = uc.storedMarks(ctx, sessionID)
	}
	if err != nil {
		return nil, err
	}

	present, err := uc.resolve(ctx, professorID, marks)
	if err != nil {
		return nil, err
	}

	candidates, err := uc.repo.ListCandidates(ctx, professorID)
	if err != nil {
		return nil, err
	}
	return &SessionState{Session: session, Enrolled: len(candidates), Present: present}, nil
}

// Finalize closes an open session and stores who was present. The session
// is closed before the presence set is read so that late recognitions fail
// with ErrSessionClosed instead of being lost.
func (uc *AttendanceUseCase) Finalize(ctx context.Context, professorID uint, sessionID string) (*SessionState, error) {
	session, err := uc.openSession(ctx, professorID, sessionID)
	if err != nil {
		return nil, err
	}

	closedAt := uc.now()
	if err := uc.repo.CloseSession(ctx, sessionID, repository.SessionFinalized, closedAt); err != nil {
		return nil, err
	}
	uc.metrics.SessionsClosed.WithLabelValues(repository.SessionFinalized).Inc()
	session.Status = repository.SessionFinalized
	session.ClosedAt = &closedAt

	opLogger := logging.WithProfessor(logging.WithOperation(uc.logger, "usecase.finalize", logging.RequestIDFromContext(ctx)), professorID).
		With(zap.String("session_id", sessionID))

	marks, err := uc.store.Marks(ctx, sessionID)
	if err != nil {
		opLogger.Error("session closed but presence set unreadable", zap.Error(err))
		return nil, err
	}
	present, err := uc.resolve(ctx, professorID, marks)
	if err != nil {
		return nil, err
	}

	records := make([]repository.AttendanceRecord, 0, len(present))
	for _, p := range present {
		records = append(records, repository.AttendanceRecord{StudentID: p.StudentID, MarkedAt: p.MarkedAt})
	}
	if err := uc.repo.SaveRecords(ctx, sessionID, records); err != nil {
		opLogger.Error("session closed but records not stored", zap.Error(err), zap.Int("present", len(records)))
		return nil, err
	}
	uc.clearPresence(ctx, sessionID)

	opLogger.Info("attendance session finalized", zap.Int("present", len(present)))
	return &SessionState{Session: session, Present: present}, nil
}

// SweepStale abandons sessions left open longer than the session TTL and
// drops their presence sets. It returns the number of sessions abandoned.
func (uc *AttendanceUseCase) SweepStale(ctx context.Context) (int, error) {
	cutoff := uc.now().Add(-uc.sessionTTL)
	sessions, err := uc.repo.ListStaleSessions(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	abandoned := 0
	for _, s := range sessions {
		err := uc.repo.CloseSession(ctx, s.ID, repository.SessionAbandoned, uc.now())
		if errors.Is(err, ErrSessionClosed) {
			continue
		}
		if err != nil {
			return abandoned, err
		}
		uc.metrics.SessionsClosed.WithLabelValues(repository.SessionAbandoned).Inc()
		uc.clearPresence(ctx, s.ID)
		abandoned++
	}
	if abandoned > 0 {
		uc.logger.Info("abandoned stale attendance sessions", zap.Int("count", abandoned), zap.Time("cutoff", cutoff))
	}
	return abandoned, nil
}

func (uc *AttendanceUseCase) openSession(ctx context.Context, professorID uint, sessionID string) (*repository.AttendanceSession, error) {
	session, err := uc.repo.FindSession(ctx, professorID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != repository.SessionOpen {
		return nil, ErrSessionClosed
	}
	return session, nil
}

func (uc *AttendanceUseCase) storedMarks(ctx context.Context, sessionID string) ([]attendance.Mark, error) {
	records, err := uc.repo.ListRecords(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	marks := make([]attendance.Mark, 0, len(records))
	for _, r := range records {
		marks = append(marks, attendance.Mark{StudentID: r.StudentID, MarkedAt: r.MarkedAt})
	}
	return marks, nil
}

// resolve attaches student details to marks. Students deleted since they were
// marked are dropped.
func (uc *AttendanceUseCase) resolve(ctx context.Context, professorID uint, marks []attendance.Mark) ([]PresentStudent, error) {
	ids := make([]uint, 0, len(marks))
	for _, m := range marks {
		ids = append(ids, m.StudentID)
	}
	students, err := uc.repo.FindStudents(ctx, professorID, ids)
	if err != nil {
		return nil, err
	}

	present := make([]PresentStudent, 0, len(marks))
	for _, m := range marks {
		s, ok := students[m.StudentID]
		if !ok {
			continue
		}
		present = append(present, PresentStudent{StudentID: s.ID, Name: s.Name, Class: s.Class, MarkedAt: m.MarkedAt})
	}
	return present, nil
}

func (uc *AttendanceUseCase) clearPresence(ctx context.Context, sessionID string) {
	if err := uc.store.Clear(ctx, sessionID); err != nil {
		uc.logger.Warn("failed to clear presence set", zap.String("session_id", sessionID), zap.Error(err))
	}
}
