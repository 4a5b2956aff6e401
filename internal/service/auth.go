package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/campussite/campussite-go/internal/crypto"
	"github.com/campussite/campussite-go/internal/model"
	"github.com/campussite/campussite-go/internal/repository"
	"github.com/google/uuid"
)

// ValidationError reports a missing or malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")

	ErrEmailRequired    = &ValidationError{Field: "email", Message: "email is required"}
	ErrPasswordRequired = &ValidationError{Field: "password", Message: "password is required"}
	ErrInvalidEmail     = &ValidationError{Field: "email", Message: "email is not a valid address"}
	ErrPasswordTooLong  = &ValidationError{Field: "password", Message: "password must be at most 72 bytes"}
)

// UserStore is the credential store used by AuthService.
type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
	List(ctx context.Context) ([]model.User, error)
}

// AuthService handles authentication business logic.
type AuthService struct {
	repo   UserStore
	hasher *crypto.Hasher
	tokens *crypto.TokenIssuer
	logger *slog.Logger
	newID  func() string

	// dummyHash is compared against when the email is unknown so that path
	// pays the same hashing cost as a real comparison.
	dummyHash string
}

// NewAuthService creates a new AuthService. It hashes a placeholder password
// up front and fails if the hasher cannot produce one.
func NewAuthService(repo UserStore, hasher *crypto.Hasher, tokens *crypto.TokenIssuer, logger *slog.Logger) (*AuthService, error) {
	if hasher == nil {
		return nil, errors.New("auth service: password hasher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	dummy, err := hasher.Hash("campussite-dummy-password")
	if err != nil {
		return nil, fmt.Errorf("auth service: dummy hash: %w", err)
	}

	return &AuthService{
		repo:      repo,
		hasher:    hasher,
		tokens:    tokens,
		logger:    logger,
		newID:     uuid.NewString,
		dummyHash: dummy,
	}, nil
}

// NormalizeEmail trims and lower-cases an address; it is applied on both
// register and login so lookups and uniqueness are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a new account with the default role.
func (s *AuthService) Register(ctx context.Context, req model.CreateUserRequest) (model.UserResponse, error) {
	email := NormalizeEmail(req.Email)
	if email == "" {
		return model.UserResponse{}, ErrEmailRequired
	}
	if req.Password == "" {
		return model.UserResponse{}, ErrPasswordRequired
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return model.UserResponse{}, ErrInvalidEmail
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		if errors.Is(err, crypto.ErrPasswordTooLong) {
			return model.UserResponse{}, ErrPasswordTooLong
		}
		return model.UserResponse{}, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		ID:           s.newID(),
		Email:        email,
		PasswordHash: hash,
		Role:         model.RoleUser,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return model.UserResponse{}, ErrEmailTaken
		}
		return model.UserResponse{}, fmt.Errorf("create user: %w", err)
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID)
	return user.ToResponse(), nil
}

// Verify checks an email/password pair. Unknown email and wrong password
// both return ErrInvalidCredentials.
func (s *AuthService) Verify(ctx context.Context, email, password string) (model.UserResponse, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return model.UserResponse{}, ErrEmailRequired
	}
	if password == "" {
		return model.UserResponse{}, ErrPasswordRequired
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			_, _ = crypto.VerifyPassword(password, s.dummyHash)
			return model.UserResponse{}, ErrInvalidCredentials
		}
		return model.UserResponse{}, fmt.Errorf("find user: %w", err)
	}

	match, err := crypto.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return model.UserResponse{}, fmt.Errorf("verify password for user %s: %w", user.ID, err)
	}
	if !match {
		return model.UserResponse{}, ErrInvalidCredentials
	}

	return user.ToResponse(), nil
}

// Login verifies credentials and returns a signed access token.
func (s *AuthService) Login(ctx context.Context, req model.LoginRequest) (model.AuthResponse, error) {
	user, err := s.Verify(ctx, req.Email, req.Password)
	if err != nil {
		return model.AuthResponse{}, err
	}

	token, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return model.AuthResponse{}, fmt.Errorf("issue token: %w", err)
	}

	s.logger.InfoContext(ctx, "user logged in", "user_id", user.ID, "role", user.Role.String())
	return model.AuthResponse{Token: token, User: user}, nil
}

// GetUser retrieves a user by ID and returns safe user data.
func (s *AuthService) GetUser(ctx context.Context, userID string) (model.UserResponse, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return model.UserResponse{}, ErrUserNotFound
		}
		return model.UserResponse{}, fmt.Errorf("get user: %w", err)
	}

	return user.ToResponse(), nil
}

// ListUsers returns every account's public profile.
func (s *AuthService) ListUsers(ctx context.Context) ([]model.UserResponse, error) {
	users, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	resp := make([]model.UserResponse, 0, len(users))
	for i := range users {
		resp = append(resp, users[i].ToResponse())
	}
	return resp, nil
}
