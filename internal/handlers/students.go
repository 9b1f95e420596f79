package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/chamada/internal/auth"
	"github.com/example/chamada/internal/matcher"
	"github.com/example/chamada/internal/repository"
	"github.com/example/chamada/internal/usecase"
)

type enrollRequest struct {
	Name     string            `json:"nome"`
	Age      int               `json:"idade"`
	Class    string            `json:"turma"`
	FaceData matcher.Embedding `json:"faceData"`
}

type studentResponse struct {
	ID          uint              `json:"id"`
	ProfessorID uint              `json:"professorId"`
	Name        string            `json:"nome"`
	Age         int               `json:"idade"`
	Class       string            `json:"turma"`
	FaceData    matcher.Embedding `json:"faceData"`
}

func (h *handler) newStudentResponse(s *repository.Student) studentResponse {
	resp := studentResponse{ID: s.ID, ProfessorID: s.ProfessorID, Name: s.Name, Age: s.Age, Class: s.Class}
	if s.FaceDescriptor != nil {
		e, err := matcher.ParseEmbedding([]byte(*s.FaceDescriptor))
		if err != nil {
			h.logger.Warn("stored descriptor unreadable", zap.Uint("student_id", s.ID), zap.Error(err))
		} else {
			resp.FaceData = e
		}
	}
	return resp
}

func (h *handler) enrollStudent(c *gin.Context) {
	professorID, _ := auth.ProfessorID(c.Request.Context())

	var req enrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	student, err := h.deps.Students.Enroll(c.Request.Context(), professorID, usecase.EnrollInput{
		Name:       req.Name,
		Age:        req.Age,
		Class:      req.Class,
		Descriptor: req.FaceData,
	})
	if err != nil {
		h.fail(c, "http.enroll_student", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Aluno cadastrado com sucesso",
		"aluno":   h.newStudentResponse(student),
	})
}

func (h *handler) listStudents(c *gin.Context) {
	professorID, _ := auth.ProfessorID(c.Request.Context())

	students, err := h.deps.Students.List(c.Request.Context(), professorID, c.Query("turma"))
	if err != nil {
		h.fail(c, "http.list_students", err)
		return
	}

	out := make([]studentResponse, 0, len(students))
	for i := range students {
		out = append(out, h.newStudentResponse(&students[i]))
	}
	c.JSON(http.StatusOK, gin.H{"alunos": out})
}

func (h *handler) deleteStudent(c *gin.Context) {
	professorID, _ := auth.ProfessorID(c.Request.Context())

	id, err := strconv.ParseUint(c.Query("id"), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "id must be a positive integer")
		return
	}

	if err := h.deps.Students.Delete(c.Request.Context(), professorID, uint(id)); err != nil {
		h.fail(c, "http.delete_student", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Aluno removido com sucesso"})
}
