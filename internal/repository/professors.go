package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

// CreateProfessor inserts p, failing with ErrEmailTaken when the e-mail exists.
// The unique index on email decides concurrent registrations; the database
// must be opened with TranslateError so the violation surfaces as
// gorm.ErrDuplicatedKey.
func (r *Repository) CreateProfessor(ctx context.Context, p *Professor) error {
	p.Email = normalizeEmail(p.Email)
	return r.executeWithRetry(ctx, "repository.create_professor", func() error {
		err := r.db.WithContext(ctx).Create(p).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrEmailTaken
		}
		return err
	})
}

// FindProfessorByEmail looks a professor up for login.
func (r *Repository) FindProfessorByEmail(ctx context.Context, email string) (*Professor, error) {
	var p Professor
	err := r.executeWithRetry(ctx, "repository.find_professor_by_email", func() error {
		return translate(r.db.WithContext(ctx).First(&p, "email = ?", normalizeEmail(email)).Error)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// FindProfessorByID loads a professor.
func (r *Repository) FindProfessorByID(ctx context.Context, id uint) (*Professor, error) {
	var p Professor
	err := r.executeWithRetry(ctx, "repository.find_professor", func() error {
		return translate(r.db.WithContext(ctx).First(&p, id).Error)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
