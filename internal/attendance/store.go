// Package attendance keeps the per-session set of students already marked
// present. Marking is an idempotent insert keyed by student ID.
package attendance

import (
	"context"
	"sort"
	"time"
)

// Mark records when a student was first recognised in a session.
type Mark struct {
	StudentID uint
	MarkedAt  time.Time
}

// Store is the session-scoped presence set.
type Store interface {
	// Mark adds studentID to the session set. added is false when the student
	// was already present; the first mark time is kept.
	Mark(ctx context.Context, sessionID string, studentID uint, at time.Time) (added bool, err error)
	// Marks returns the session's marks ordered by time, then student ID.
	Marks(ctx context.Context, sessionID string) ([]Mark, error)
	// Clear drops the session set.
	Clear(ctx context.Context, sessionID string) error
}

func sortMarks(marks []Mark) {
	sort.Slice(marks, func(i, j int) bool {
		if marks[i].MarkedAt.Equal(marks[j].MarkedAt) {
			return marks[i].StudentID < marks[j].StudentID
		}
		return marks[i].MarkedAt.Before(marks[j].MarkedAt)
	})
}
