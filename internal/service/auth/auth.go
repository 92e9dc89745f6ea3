package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/vmelnikov/tokenvault/internal/apperrors"
	"github.com/vmelnikov/tokenvault/internal/logger"
	"github.com/vmelnikov/tokenvault/internal/models"
	"github.com/vmelnikov/tokenvault/internal/ratelimit"
	"github.com/vmelnikov/tokenvault/internal/repository"
	"github.com/vmelnikov/tokenvault/internal/service/auth/tokenmanager"
)

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

type Config struct {
	// Hasher to use during user registration or login
	// BcryptHasher is used if not set
	Hasher PasswordHasher

	// Per-IP limiters for the credential and refresh endpoints.
	// Both optional: a nil limiter means no limit.
	LoginLimiter   *ratelimit.Limiter
	RefreshLimiter *ratelimit.Limiter
}

type RegisterParams struct {
	Username    string `validate:"required,min=3,max=64"`
	Password    string `validate:"required,min=8,max=128"`
	FirstName   string `validate:"max=64"`
	LastName    string `validate:"max=64"`
	PhoneNumber string `validate:"omitempty,e164"`
}

// AuthService composes the token manager, user storage and password
// hashing into the login, refresh, logout and registration flows
type AuthService struct {
	token          *tokenmanager.TokenManager
	hasher         PasswordHasher
	storage        repository.Storage
	validate       *validator.Validate
	logger         logger.Logger
	loginLimiter   *ratelimit.Limiter
	refreshLimiter *ratelimit.Limiter
}

func NewService(cfg Config, token *tokenmanager.TokenManager, storage repository.Storage, l logger.Logger) (*AuthService, error) {
	if token == nil || storage == nil {
		return nil, errors.New("token manager and storage must not be nil")
	}

	hasher := cfg.Hasher
	if hasher == nil {
		hasher = BcryptHasher{}
	}

	if l == nil {
		l = logger.NewNoOp()
	}

	return &AuthService{
		token:          token,
		hasher:         hasher,
		storage:        storage,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		logger:         l,
		loginLimiter:   cfg.LoginLimiter,
		refreshLimiter: cfg.RefreshLimiter,
	}, nil
}

// Register creates a user with the given role, models.RoleUser if empty.
// Registration does not log the user in: no tokens are issued.
func (s *AuthService) Register(ctx context.Context, arg RegisterParams, role string) (models.User, error) {
	if err := s.validate.Struct(arg); err != nil {
		return models.User{}, fmt.Errorf("invalid registration params: %w", err)
	}

	if role == "" {
		role = models.RoleUser
	}

	hash, err := s.hasher.Hash(arg.Password)
	if err != nil {
		return models.User{}, fmt.Errorf("can't use this as password, error=%w", err)
	}

	user, err := s.storage.User().CreateUser(ctx, repository.CreateUserParams{
		Username:       arg.Username,
		FirstName:      arg.FirstName,
		LastName:       arg.LastName,
		PhoneNumber:    arg.PhoneNumber,
		HashedPassword: hash,
		Role:           role,
	})
	if err != nil {
		return models.User{}, err
	}

	s.logger.Info("user registered", "user_id", user.ID, "username", user.Username)
	return user, nil
}

// Login verifies credentials and issues a fresh token pair.
// Unknown username and wrong password are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, username string, password string, ip string) (models.TokenPair, error) {
	if s.loginLimiter != nil && !s.loginLimiter.Allow(ip) {
		s.logger.Warn("login rate limit hit", "ip", ip)
		return models.TokenPair{}, apperrors.ErrRateLimited
	}

	user, err := s.storage.User().GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperrors.ErrUserNotFound) {
			return models.TokenPair{}, apperrors.ErrInvalidCredentials
		}
		return models.TokenPair{}, err
	}

	if err := s.hasher.Compare(user.HashedPassword, password); err != nil {
		return models.TokenPair{}, apperrors.ErrInvalidCredentials
	}

	pair, err := s.token.GeneratePair(ctx, user, ip)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("token could not be generated, sorry. %w", err)
	}

	s.logger.Info("user logged in", "user_id", user.ID, "ip", ip)
	return pair, nil
}

// Refresh rotates the refresh token and returns the new pair
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, ip string) (models.TokenPair, error) {
	if s.refreshLimiter != nil && !s.refreshLimiter.Allow(ip) {
		s.logger.Warn("refresh rate limit hit", "ip", ip)
		return models.TokenPair{}, apperrors.ErrRateLimited
	}

	return s.token.Rotate(ctx, refreshToken, ip)
}

// Logout revokes the presented refresh token.
// Revoking an already revoked token is a successful logout, not an error.
func (s *AuthService) Logout(ctx context.Context, refreshToken string, ip string) error {
	err := s.token.RevokeOne(ctx, refreshToken, ip)
	if err != nil {
		if errors.Is(err, apperrors.ErrTokenAlreadyRevoked) {
			s.logger.Debug("logout of already revoked token", "ip", ip)
			return nil
		}
		return err
	}

	return nil
}

// LogoutAll revokes every active session of the user and returns the count.
// The caller is responsible for verifying the user's identity first.
func (s *AuthService) LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	revoked, err := s.token.RevokeAll(ctx, userID)
	if err != nil {
		return 0, err
	}

	s.logger.Info("user logged out everywhere", "user_id", userID, "tokens_revoked", revoked)
	return revoked, nil
}

// Sessions lists the user's refresh token records, newest first
func (s *AuthService) Sessions(ctx context.Context, userID uuid.UUID) ([]models.RefreshToken, error) {
	return s.storage.RefreshToken().ListForUser(ctx, userID)
}

// ParseAccess validates the access token and returns its claims
func (s *AuthService) ParseAccess(ctx context.Context, access string) (tokenmanager.AccessTokenClaims, error) {
	return s.token.ParseAccess(ctx, access)
}
