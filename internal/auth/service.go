package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailpilot/internal/model"
	"mailpilot/internal/repository"
	"mailpilot/pkg/rbac"
)

var (
	ErrEmailExists        = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidInput       = errors.New("email and password are required")
)

type Service struct {
	users     *repository.UserRepository
	jwtSecret string
	ttl       time.Duration
	logger    *zap.Logger
}

func NewService(users *repository.UserRepository, jwtSecret string, ttl time.Duration, logger *zap.Logger) *Service {
	return &Service{users: users, jwtSecret: jwtSecret, ttl: ttl, logger: logger}
}

// Register creates a new user with the default role.
func (s *Service) Register(ctx context.Context, email, password, fullName string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidInput
	}

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailExists
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &model.User{
		Email:        email,
		FullName:     strings.TrimSpace(fullName),
		PasswordHash: hash,
		Role:         rbac.RoleUser,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("User registered", zap.Int64("user_id", u.ID))
	return u, nil
}

// Login checks user credentials, stamps last_login and returns a JWT.
func (s *Service) Login(ctx context.Context, email, password string) (string, *model.User, error) {
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if !CheckPassword(password, u.PasswordHash) {
		return "", nil, ErrInvalidCredentials
	}

	role := rbac.NormalizeRole(u.Role)
	token, err := GenerateJWT(u.ID, role, s.jwtSecret, s.ttl)
	if err != nil {
		return "", nil, err
	}

	now := time.Now().UTC()
	if err := s.users.UpdateLastLogin(ctx, u.ID, now); err != nil {
		s.logger.Warn("Failed to stamp last login", zap.Int64("user_id", u.ID), zap.Error(err))
	} else {
		u.LastLogin = &now
	}
	return token, u, nil
}

// Verify 解析 token，供中间件使用
func (s *Service) Verify(token string) (*Claims, error) {
	c, err := ParseJWT(token, s.jwtSecret)
	if err != nil {
		return nil, err
	}
	c.Role = rbac.NormalizeRole(c.Role)
	return c, nil
}
