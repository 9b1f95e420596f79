package repository

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/chamada/internal/matcher"
)

// EnrollCheck inspects the professor's enrolled candidates before a student
// with a face descriptor is inserted. Returning an error aborts the insert.
type EnrollCheck func(candidates []matcher.Candidate) error

// EnrollStudent inserts s. When s has a descriptor, check runs against a
// snapshot of the same professor's candidates inside the transaction, with the
// professor row locked so concurrent enrollments in one roster serialise.
func (r *Repository) EnrollStudent(ctx context.Context, s *Student, check EnrollCheck) error {
	return r.executeWithRetry(ctx, "repository.enroll_student", func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var owner Professor
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&owner, s.ProfessorID).Error; err != nil {
				return translate(err)
			}

			if s.FaceDescriptor != nil && check != nil {
				candidates, err := r.loadCandidates(tx, s.ProfessorID)
				if err != nil {
					return err
				}
				if err := check(candidates); err != nil {
					return err
				}
			}

			return tx.Create(s).Error
		})
	})
}

// ListStudents returns the professor's roster ordered by name. A non-empty
// class filters by case-insensitive substring.
func (r *Repository) ListStudents(ctx context.Context, professorID uint, class string) ([]Student, error) {
	var students []Student
	err := r.executeWithRetry(ctx, "repository.list_students", func() error {
		q := r.db.WithContext(ctx).Where("professor_id = ?", professorID)
		if class = strings.TrimSpace(class); class != "" {
			q = q.Where("LOWER(class) LIKE ?", "%"+strings.ToLower(class)+"%")
		}
		return q.Order("name ASC, id ASC").Find(&students).Error
	})
	if err != nil {
		return nil, err
	}
	return students, nil
}

// FindStudents loads the given students of one professor keyed by ID.
func (r *Repository) FindStudents(ctx context.Context, professorID uint, ids []uint) (map[uint]Student, error) {
	out := make(map[uint]Student, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var students []Student
	err := r.executeWithRetry(ctx, "repository.find_students", func() error {
		return r.db.WithContext(ctx).
			Where("professor_id = ? AND id IN ?", professorID, ids).
			Find(&students).Error
	})
	if err != nil {
		return nil, err
	}
	for _, s := range students {
		out[s.ID] = s
	}
	return out, nil
}

// DeleteStudent removes a student owned by professorID. Students of other
// professors report ErrNotFound.
func (r *Repository) DeleteStudent(ctx context.Context, professorID, id uint) error {
	return r.executeWithRetry(ctx, "repository.delete_student", func() error {
		res := r.db.WithContext(ctx).Where("professor_id = ?", professorID).Delete(&Student{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ListCandidates returns the professor's students that have a face
// descriptor, ordered by ID. An unreadable descriptor fails the whole call
// with ErrRosterInconsistent.
func (r *Repository) ListCandidates(ctx context.Context, professorID uint) ([]matcher.Candidate, error) {
	var candidates []matcher.Candidate
	err := r.executeWithRetry(ctx, "repository.list_candidates", func() error {
		var err error
		candidates, err = r.loadCandidates(r.db.WithContext(ctx), professorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

func (r *Repository) loadCandidates(db *gorm.DB, professorID uint) ([]matcher.Candidate, error) {
	var rows []Student
	if err := db.Select("id", "face_descriptor").
		Where("professor_id = ? AND face_descriptor IS NOT NULL", professorID).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	candidates := make([]matcher.Candidate, 0, len(rows))
	for _, row := range rows {
		embedding, err := matcher.ParseEmbedding([]byte(*row.FaceDescriptor))
		if err != nil {
			r.logger.Error("unreadable face descriptor",
				zap.Uint("student_id", row.ID), zap.Uint("professor_id", professorID), zap.Error(err))
			return nil, fmt.Errorf("%w: student %d: %v", ErrRosterInconsistent, row.ID, err)
		}
		candidates = append(candidates, matcher.Candidate{IdentityID: row.ID, Embedding: embedding})
	}
	return candidates, nil
}
