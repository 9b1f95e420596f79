package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/chamada/internal/auth"
	"github.com/example/chamada/internal/repository"
	"github.com/example/chamada/internal/usecase"
)

type registerRequest struct {
	Name        string `json:"nome"`
	Email       string `json:"email"`
	Password    string `json:"senha"`
	Institution string `json:"instituicao"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"senha"`
}

type professorResponse struct {
	ID          uint   `json:"id"`
	Name        string `json:"nome"`
	Email       string `json:"email"`
	Institution string `json:"instituicao"`
}

func newProfessorResponse(p *repository.Professor) professorResponse {
	return professorResponse{ID: p.ID, Name: p.Name, Email: p.Email, Institution: p.Institution}
}

func (h *handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	res, err := h.deps.Professors.Register(c.Request.Context(), usecase.RegisterInput{
		Name:        req.Name,
		Email:       req.Email,
		Password:    req.Password,
		Institution: req.Institution,
	})
	if err != nil {
		h.fail(c, "http.register", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":   "Professor cadastrado com sucesso",
		"token":     res.Token,
		"professor": newProfessorResponse(res.Professor),
	})
}

func (h *handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	res, err := h.deps.Professors.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, "http.login", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Login realizado com sucesso",
		"token":     res.Token,
		"professor": newProfessorResponse(res.Professor),
	})
}

func (h *handler) profile(c *gin.Context) {
	professorID, _ := auth.ProfessorID(c.Request.Context())

	professor, err := h.deps.Professors.Profile(c.Request.Context(), professorID)
	if err != nil {
		h.fail(c, "http.profile", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"professor": newProfessorResponse(professor)})
}
