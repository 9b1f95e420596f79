package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/chamada/internal/logging"
	"github.com/example/chamada/internal/retry"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrEmailTaken    = errors.New("email already registered")
	ErrSessionClosed = errors.New("attendance session is not open")
	// ErrRosterInconsistent reports stored descriptors that cannot be compared
	// with the rest of the roster: unreadable JSON or a different dimension.
	ErrRosterInconsistent = errors.New("enrolled face descriptors are inconsistent")
)

// Professor owns a roster of students and is the tenant boundary for matching.
type Professor struct {
	ID           uint      `gorm:"primaryKey"`
	Name         string    `gorm:"column:name;size:120;not null"`
	Email        string    `gorm:"column:email;size:255;uniqueIndex;not null"`
	PasswordHash string    `gorm:"column:password_hash;size:100;not null"`
	Institution  string    `gorm:"column:institution;size:200"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (Professor) TableName() string {
	return "professors"
}

// Student is one enrolled pupil. FaceDescriptor holds the embedding as a JSON
// array and is nil when no face was captured.
type Student struct {
	ID             uint      `gorm:"primaryKey"`
	ProfessorID    uint      `gorm:"column:professor_id;index;not null"`
	Name           string    `gorm:"column:name;size:120;not null"`
	Age            int       `gorm:"column:age"`
	Class          string    `gorm:"column:class;size:60;index"`
	FaceDescriptor *string   `gorm:"column:face_descriptor;type:text"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

func (Student) TableName() string {
	return "students"
}

// Session states.
const (
	SessionOpen      = "open"
	SessionFinalized = "finalized"
	SessionAbandoned = "abandoned"
)

// AttendanceSession is one roll call.
type AttendanceSession struct {
	ID          string     `gorm:"primaryKey;size:36"`
	ProfessorID uint       `gorm:"column:professor_id;index;not null"`
	Status      string     `gorm:"column:status;size:16;index;not null"`
	StartedAt   time.Time  `gorm:"column:started_at;index"`
	ClosedAt    *time.Time `gorm:"column:closed_at"`
}

func (AttendanceSession) TableName() string {
	return "attendance_sessions"
}

// AttendanceRecord marks one student present in a finalized session.
type AttendanceRecord struct {
	ID        uint      `gorm:"primaryKey"`
	SessionID string    `gorm:"column:session_id;size:36;uniqueIndex:idx_session_student;not null"`
	StudentID uint      `gorm:"column:student_id;uniqueIndex:idx_session_student;not null"`
	MarkedAt  time.Time `gorm:"column:marked_at"`
}

func (AttendanceRecord) TableName() string {
	return "attendance_records"
}

// Repository provides persistence for professors, students and attendance.
type Repository struct {
	db     *gorm.DB
	logger *zap.Logger
	policy retry.Policy
}

// New creates a repository with the default retry policy.
func New(db *gorm.DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger.Named("repository"),
		policy: retry.DefaultPolicy,
	}
}

// AutoMigrate ensures the schema is available.
func (r *Repository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(
		&Professor{},
		&Student{},
		&AttendanceSession{},
		&AttendanceRecord{},
	)
}

func (r *Repository) executeWithRetry(ctx context.Context, operation string, fn func() error) error {
	return retry.Do(ctx, r.logger, r.policy, operation, logging.RequestIDFromContext(ctx), fn)
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
