package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/example/chamada/internal/matcher"
	"github.com/example/chamada/internal/repository"
)

// stubRepository is an in-memory implementation of every repository
// interface the use cases depend on.
type stubRepository struct {
	professors []*repository.Professor
	students   []*repository.Student
	sessions   map[string]*repository.AttendanceSession
	records    []repository.AttendanceRecord
	nextID     uint

	createErr error
	closeErr  error
}

func newStubRepository() *stubRepository {
	return &stubRepository{sessions: make(map[string]*repository.AttendanceSession)}
}

func (s *stubRepository) id() uint {
	s.nextID++
	return s.nextID
}

func (s *stubRepository) CreateProfessor(ctx context.Context, p *repository.Professor) error {
	if s.createErr != nil {
		return s.createErr
	}
	for _, existing := range s.professors {
		if strings.EqualFold(existing.Email, p.Email) {
			return repository.ErrEmailTaken
		}
	}
	p.ID = s.id()
	s.professors = append(s.professors, p)
	return nil
}

func (s *stubRepository) FindProfessorByEmail(ctx context.Context, email string) (*repository.Professor, error) {
	for _, p := range s.professors {
		if strings.EqualFold(p.Email, email) {
			return p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubRepository) FindProfessorByID(ctx context.Context, id uint) (*repository.Professor, error) {
	for _, p := range s.professors {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubRepository) EnrollStudent(ctx context.Context, st *repository.Student, check repository.EnrollCheck) error {
	if st.FaceDescriptor != nil && check != nil {
		candidates, err := s.ListCandidates(ctx, st.ProfessorID)
		if err != nil {
			return err
		}
		if err := check(candidates); err != nil {
			return err
		}
	}
	st.ID = s.id()
	s.students = append(s.students, st)
	return nil
}

func (s *stubRepository) ListStudents(ctx context.Context, professorID uint, class string) ([]repository.Student, error) {
	var out []repository.Student
	for _, st := range s.students {
		if st.ProfessorID == professorID && strings.Contains(strings.ToLower(st.Class), strings.ToLower(class)) {
			out = append(out, *st)
		}
	}
	return out, nil
}

func (s *stubRepository) DeleteStudent(ctx context.Context, professorID, id uint) error {
	for i, st := range s.students {
		if st.ID == id && st.ProfessorID == professorID {
			s.students = append(s.students[:i], s.students[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *stubRepository) ListCandidates(ctx context.Context, professorID uint) ([]matcher.Candidate, error) {
	var out []matcher.Candidate
	for _, st := range s.students {
		if st.ProfessorID != professorID || st.FaceDescriptor == nil {
			continue
		}
		e, err := matcher.ParseEmbedding([]byte(*st.FaceDescriptor))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", repository.ErrRosterInconsistent, err)
		}
		out = append(out, matcher.Candidate{IdentityID: st.ID, Embedding: e})
	}
	return out, nil
}

func (s *stubRepository) FindStudents(ctx context.Context, professorID uint, ids []uint) (map[uint]repository.Student, error) {
	out := make(map[uint]repository.Student)
	for _, st := range s.students {
		for _, id := range ids {
			if st.ID == id && st.ProfessorID == professorID {
				out[id] = *st
			}
		}
	}
	return out, nil
}

func (s *stubRepository) CreateSession(ctx context.Context, session *repository.AttendanceSession) error {
	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

func (s *stubRepository) FindSession(ctx context.Context, professorID uint, id string) (*repository.AttendanceSession, error) {
	session, ok := s.sessions[id]
	if !ok || session.ProfessorID != professorID {
		return nil, repository.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (s *stubRepository) CloseSession(ctx context.Context, id, status string, closedAt time.Time) error {
	if s.closeErr != nil {
		return s.closeErr
	}
	session, ok := s.sessions[id]
	if !ok || session.Status != repository.SessionOpen {
		return repository.ErrSessionClosed
	}
	session.Status = status
	session.ClosedAt = &closedAt
	return nil
}

func (s *stubRepository) SaveRecords(ctx context.Context, sessionID string, records []repository.AttendanceRecord) error {
	for _, r := range records {
		r.SessionID = sessionID
		s.records = append(s.records, r)
	}
	return nil
}

func (s *stubRepository) ListRecords(ctx context.Context, sessionID string) ([]repository.AttendanceRecord, error) {
	var out []repository.AttendanceRecord
	for _, r := range s.records {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarkedAt.Before(out[j].MarkedAt) })
	return out, nil
}

func (s *stubRepository) ListStaleSessions(ctx context.Context, cutoff time.Time) ([]repository.AttendanceSession, error) {
	var out []repository.AttendanceSession
	for _, session := range s.sessions {
		if session.Status == repository.SessionOpen && session.StartedAt.Before(cutoff) {
			out = append(out, *session)
		}
	}
	return out, nil
}

func (s *stubRepository) AggregateAttendance(ctx context.Context, professorID uint) (*repository.AttendanceAggregation, error) {
	agg := &repository.AttendanceAggregation{}
	owned := make(map[string]bool)
	for id, session := range s.sessions {
		if session.ProfessorID != professorID {
			continue
		}
		owned[id] = true
		switch session.Status {
		case repository.SessionFinalized:
			agg.FinalizedSessions++
		case repository.SessionAbandoned:
			agg.AbandonedSessions++
		}
	}
	for _, r := range s.records {
		if owned[r.SessionID] {
			agg.TotalRecords++
		}
	}
	return agg, nil
}

// seedStudent adds a student with a descriptor directly to the stub.
func (s *stubRepository) seedStudent(t *testing.T, professorID uint, name string, e matcher.Embedding) *repository.Student {
	t.Helper()
	st := &repository.Student{ID: s.id(), ProfessorID: professorID, Name: name}
	if e != nil {
		encoded, err := e.JSON()
		if err != nil {
			t.Fatalf("encode descriptor: %v", err)
		}
		st.FaceDescriptor = &encoded
	}
	s.students = append(s.students, st)
	return st
}
