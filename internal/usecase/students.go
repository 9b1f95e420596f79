package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/example/chamada/internal/logging"
	"github.com/example/chamada/internal/matcher"
	"github.com/example/chamada/internal/metrics"
	"github.com/example/chamada/internal/repository"
)

// EnrollInput is the student registration form. Descriptor is nil when no
// face was captured.
type EnrollInput struct {
	Name       string
	Age        int
	Class      string
	Descriptor matcher.Embedding
}

// StudentUseCase manages a professor's roster.
type StudentUseCase struct {
	repo    StudentRepository
	matcher *matcher.Matcher
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewStudentUseCase(repo StudentRepository, m *matcher.Matcher, mt *metrics.Metrics, logger *zap.Logger) *StudentUseCase {
	return &StudentUseCase{repo: repo, matcher: m, metrics: mt, logger: logger.Named("student_usecase")}
}

// Enroll registers a student. A descriptor within the duplicate threshold of
// any descriptor already enrolled by the same professor is rejected with
// ErrDuplicateFace.
func (uc *StudentUseCase) Enroll(ctx context.Context, professorID uint, in EnrollInput) (*repository.Student, error) {
	opLogger := logging.WithProfessor(logging.WithOperation(uc.logger, "usecase.enroll_student", logging.RequestIDFromContext(ctx)), professorID)

	in.Name = strings.TrimSpace(in.Name)
	in.Class = strings.TrimSpace(in.Class)
	if in.Name == "" {
		uc.metrics.EnrollmentTotal.WithLabelValues(metrics.EnrollInvalid).Inc()
		return nil, fmt.Errorf("%w: nome is required", ErrInvalidInput)
	}
	if in.Age < 0 {
		uc.metrics.EnrollmentTotal.WithLabelValues(metrics.EnrollInvalid).Inc()
		return nil, fmt.Errorf("%w: idade must not be negative", ErrInvalidInput)
	}

	student := &repository.Student{
		ProfessorID: professorID,
		Name:        in.Name,
		Age:         in.Age,
		Class:       in.Class,
	}

	var check repository.EnrollCheck
	if in.Descriptor != nil {
		if err := uc.matcher.Validate(in.Descriptor); err != nil {
			uc.metrics.EnrollmentTotal.WithLabelValues(metrics.EnrollInvalid).Inc()
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		encoded, err := in.Descriptor.JSON()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		student.FaceDescriptor = &encoded

		check = func(candidates []matcher.Candidate) error {
			uc.metrics.CandidateSetSize.Observe(float64(len(candidates)))
			conflict, found, err := uc.matcher.FindDuplicate(in.Descriptor, candidates)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrRosterInconsistent, err)
			}
			if found {
				opLogger.Info("rejected duplicate face enrollment", zap.Uint("conflicting_student_id", conflict.IdentityID))
				return ErrDuplicateFace
			}
			return nil
		}
	}

	if err := uc.repo.EnrollStudent(ctx, student, check); err != nil {
		switch {
		case errors.Is(err, ErrDuplicateFace):
			uc.metrics.EnrollmentTotal.WithLabelValues(metrics.EnrollDuplicateFace).Inc()
		case errors.Is(err, ErrNotFound):
		default:
			opLogger.Error("failed to enroll student", zap.Error(err))
		}
		return nil, err
	}

	outcome := metrics.EnrollAccepted
	if student.FaceDescriptor == nil {
		outcome = metrics.EnrollNoDescriptor
	}
	uc.metrics.EnrollmentTotal.WithLabelValues(outcome).Inc()
	opLogger.Info("student enrolled", zap.Uint("student_id", student.ID), zap.Bool("has_descriptor", student.FaceDescriptor != nil))
	return student, nil
}

// List returns the professor's roster, optionally filtered by class.
func (uc *StudentUseCase) List(ctx context.Context, professorID uint, class string) ([]repository.Student, error) {
	return uc.repo.ListStudents(ctx, professorID, class)
}

// Delete removes a student and with it the enrolled descriptor.
func (uc *StudentUseCase) Delete(ctx context.Context, professorID, id uint) error {
	if id == 0 {
		return fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	if err := uc.repo.DeleteStudent(ctx, professorID, id); err != nil {
		return err
	}
	logging.WithProfessor(uc.logger, professorID).Info("student deleted", zap.Uint("student_id", id))
	return nil
}
