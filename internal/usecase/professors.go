package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"github.com/example/chamada/internal/auth"
	"github.com/example/chamada/internal/logging"
	"github.com/example/chamada/internal/repository"
)

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Issue(professorID uint, email string) (string, error)
}

// RegisterInput is the professor sign-up form.
type RegisterInput struct {
	Name        string
	Email       string
	Password    string
	Institution string
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	Professor *repository.Professor
	Token     string
}

// ProfessorUseCase handles professor accounts.
type ProfessorUseCase struct {
	repo   ProfessorRepository
	tokens TokenIssuer
	logger *zap.Logger
}

func NewProfessorUseCase(repo ProfessorRepository, tokens TokenIssuer, logger *zap.Logger) *ProfessorUseCase {
	return &ProfessorUseCase{repo: repo, tokens: tokens, logger: logger.Named("professor_usecase")}
}

// Register creates an account and signs the professor in.
func (uc *ProfessorUseCase) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Institution = strings.TrimSpace(in.Institution)
	if in.Name == "" || in.Email == "" || in.Password == "" || in.Institution == "" {
		return nil, fmt.Errorf("%w: nome, email, senha and instituicao are required", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return nil, fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	professor := &repository.Professor{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Institution:  in.Institution,
	}
	if err := uc.repo.CreateProfessor(ctx, professor); err != nil {
		if !errors.Is(err, ErrEmailTaken) {
			logging.WithOperation(uc.logger, "usecase.register_professor", logging.RequestIDFromContext(ctx)).
				Error("failed to create professor", zap.Error(err))
		}
		return nil, err
	}

	return uc.signIn(professor)
}

// Login checks credentials and issues a token.
func (uc *ProfessorUseCase) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, fmt.Errorf("%w: email and senha are required", ErrInvalidInput)
	}

	professor, err := uc.repo.FindProfessorByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.CheckPassword(professor.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	return uc.signIn(professor)
}

// Profile returns the signed-in professor.
func (uc *ProfessorUseCase) Profile(ctx context.Context, professorID uint) (*repository.Professor, error) {
	return uc.repo.FindProfessorByID(ctx, professorID)
}

func (uc *ProfessorUseCase) signIn(professor *repository.Professor) (*AuthResult, error) {
	token, err := uc.tokens.Issue(professor.ID, professor.Email)
	if err != nil {
		return nil, logging.NewOperationError("usecase.issue_token", "", err)
	}
	return &AuthResult{Professor: professor, Token: token}, nil
}
