package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/example/chamada/internal/matcher"
	"github.com/example/chamada/internal/repository"
)

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrDuplicateFace        = errors.New("face already enrolled for another student")
	ErrExtractorUnavailable = errors.New("descriptor extractor not configured")

	ErrNotFound           = repository.ErrNotFound
	ErrEmailTaken         = repository.ErrEmailTaken
	ErrSessionClosed      = repository.ErrSessionClosed
	ErrRosterInconsistent = repository.ErrRosterInconsistent
)

// ProfessorRepository defines the persistence operations for accounts.
type ProfessorRepository interface {
	CreateProfessor(ctx context.Context, p *repository.Professor) error
	FindProfessorByEmail(ctx context.Context, email string) (*repository.Professor, error)
	FindProfessorByID(ctx context.Context, id uint) (*repository.Professor, error)
}

// StudentRepository defines the persistence operations for rosters.
type StudentRepository interface {
	EnrollStudent(ctx context.Context, s *repository.Student, check repository.EnrollCheck) error
	ListStudents(ctx context.Context, professorID uint, class string) ([]repository.Student, error)
	DeleteStudent(ctx context.Context, professorID, id uint) error
}

// AttendanceRepository defines the persistence operations for roll calls.
type AttendanceRepository interface {
	ListCandidates(ctx context.Context, professorID uint) ([]matcher.Candidate, error)
	FindStudents(ctx context.Context, professorID uint, ids []uint) (map[uint]repository.Student, error)
	CreateSession(ctx context.Context, s *repository.AttendanceSession) error
	FindSession(ctx context.Context, professorID uint, id string) (*repository.AttendanceSession, error)
	CloseSession(ctx context.Context, id, status string, closedAt time.Time) error
	SaveRecords(ctx context.Context, sessionID string, records []repository.AttendanceRecord) error
	ListRecords(ctx context.Context, sessionID string) ([]repository.AttendanceRecord, error)
	ListStaleSessions(ctx context.Context, cutoff time.Time) ([]repository.AttendanceSession, error)
	AggregateAttendance(ctx context.Context, professorID uint) (*repository.AttendanceAggregation, error)
}

// IsValidationError reports errors caused by bad client input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, matcher.ErrDimensionMismatch) ||
		errors.Is(err, matcher.ErrEmptyEmbedding) ||
		errors.Is(err, matcher.ErrInvalidValue)
}
