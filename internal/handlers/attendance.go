package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/chamada/internal/auth"
	"github.com/example/chamada/internal/matcher"
	"github.com/example/chamada/internal/usecase"
)

// multipartOverhead is the slack allowed on top of MaxUploadSize for form
// boundaries and headers.
const multipartOverhead = 1 << 20

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

type recognizeRequest struct {
	Descriptor matcher.Embedding `json:"descriptor"`
}

type presentResponse struct {
	ID       uint      `json:"id"`
	Name     string    `json:"nome"`
	Class    string    `json:"turma"`
	MarkedAt time.Time `json:"marked_at"`
}

func newPresentList(present []usecase.PresentStudent) []presentResponse {
	out := make([]presentResponse, 0, len(present))
	for _, p := range present {
		out = append(out, presentResponse{ID: p.StudentID, Name: p.Name, Class: p.Class, MarkedAt: p.MarkedAt})
	}
	return out
}

func (h *handler) startSession(c *gin.Context) {
	professorID, _ := auth.ProfessorID(c.Request.Context())

	state, err := h.deps.Attendance.StartSession(c.Request.Context(), professorID)
	if err != nil {
		h.fail(c, "http.start_session", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session_id": state.Session.ID,
		"started_at": state.Session.StartedAt,
		"enrolled":   state.Enrolled,
	})
}

func (h *handler) session(c *gin.Context) {
	professorID, _ := auth.ProfessorID(c.Request.Context())

	state, err := h.deps.Attendance.Session(c.Request.Context(), professorID, c.Param("id"))
	if err != nil {
		h.fail(c, "http.session", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":    state.Session.ID,
		"status":        state.Session.Status,
		"started_at":    state.Session.StartedAt,
		"closed_at":     state.Session.ClosedAt,
		"enrolled":      state.Enrolled,
		"present_count": len(state.Present),
		"alunos":        newPresentList(state.Present),
	})
}

func (h *handler) recognize(c *gin.Context) {
	professorID, _ := auth.ProfessorID(c.Request.Context())

	var req recognizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.Descriptor == nil {
		badRequest(c, "descriptor is required")
		return
	}

	rec, err := h.deps.Attendance.Recognize(c.Request.Context(), professorID, c.Param("id"), req.Descriptor)
	if err != nil {
		h.fail(c, "http.recognize", err)
		return
	}
	h.writeRecognition(c, rec)
}

func (h *handler) capture(c *gin.Context) {
	professorID, _ := auth.ProfessorID(c.Request.Context())

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)
	file, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return
		}
		badRequest(c, "image file is required")
		return
	}
	if file.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
		return
	}

	src, err := file.Open()
	if err != nil {
		badRequest(c, "unable to open image")
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		h.fail(c, "http.capture", err)
		return
	}

	contentType := strings.ToLower(strings.TrimSpace(strings.Split(file.Header.Get("Content-Type"), ";")[0]))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if !allowedImageTypes[contentType] {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "image must be jpeg or png"})
		return
	}

	rec, err := h.deps.Attendance.RecognizeImage(c.Request.Context(), professorID, c.Param("id"), data, contentType)
	if err != nil {
		h.fail(c, "http.capture", err)
		return
	}
	h.writeRecognition(c, rec)
}

func (h *handler) writeRecognition(c *gin.Context, rec *usecase.Recognition) {
	body := gin.H{"status": rec.Status}
	if rec.Student != nil {
		body["aluno"] = h.newStudentResponse(rec.Student)
		body["distance"] = rec.Distance
	}
	c.JSON(http.StatusOK, body)
}

func (h *handler) finalize(c *gin.Context) {
	professorID, _ := auth.ProfessorID(c.Request.Context())

	state, err := h.deps.Attendance.Finalize(c.Request.Context(), professorID, c.Param("id"))
	if err != nil {
		h.fail(c, "http.finalize", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":    state.Session.ID,
		"present_count": len(state.Present),
		"alunos":        newPresentList(state.Present),
	})
}

func (h *handler) summary(c *gin.Context) {
	professorID, _ := auth.ProfessorID(c.Request.Context())

	summary, err := h.deps.Attendance.Summary(c.Request.Context(), professorID)
	if err != nil {
		h.fail(c, "http.summary", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
