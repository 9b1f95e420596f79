package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/example/chamada/internal/usecase"
)

// MaxUploadSize limits camera frames sent to the capture endpoint.
const MaxUploadSize = 5 << 20

// Dependencies are the use cases served over HTTP.
type Dependencies struct {
	Professors *usecase.ProfessorUseCase
	Students   *usecase.StudentUseCase
	Attendance *usecase.AttendanceUseCase
	Gatherer   prometheus.Gatherer
	Logger     *zap.Logger
}

type handler struct {
	deps   Dependencies
	logger *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router. Routes under /api
// other than register and login require authMiddleware.
func RegisterRoutes(router *gin.Engine, deps Dependencies, authMiddleware gin.HandlerFunc) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{deps: deps, logger: logger.Named("http")}

	router.Use(RequestID())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")
	api.POST("/register", h.register)
	api.POST("/login", h.login)

	protected := api.Group("")
	protected.Use(authMiddleware)
	protected.GET("/professor", h.profile)
	protected.POST("/alunoregister", h.enrollStudent)
	protected.GET("/alunos", h.listStudents)
	protected.DELETE("/deletealuno", h.deleteStudent)

	protected.POST("/chamadas", h.startSession)
	protected.GET("/chamadas/resumo", h.summary)
	protected.GET("/chamadas/:id", h.session)
	protected.POST("/chamadas/:id/reconhecer", h.recognize)
	protected.POST("/chamadas/:id/captura", h.capture)
	protected.POST("/chamadas/:id/finalizar", h.finalize)
}
