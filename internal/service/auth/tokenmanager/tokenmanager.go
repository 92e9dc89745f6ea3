package tokenmanager

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/vmelnikov/tokenvault/internal/apperrors"
	"github.com/vmelnikov/tokenvault/internal/logger"
	"github.com/vmelnikov/tokenvault/internal/models"
	"github.com/vmelnikov/tokenvault/internal/repository"
)

const (
	defaultSigningMethod   = "HS256"
	defaultAccessTokenTTL  = 30 * time.Minute
	defaultRefreshTokenTTL = 7 * 24 * time.Hour

	// Refresh token entropy before base64 encoding
	refreshTokenBytesLen = 64
)

type AccessTokenClaims struct {
	jwt.RegisteredClaims
	Username string    `json:"name"`
	Role     string    `json:"role"`
	UserID   uuid.UUID `json:"uid"`
}

// Token manager config with sensible defaults
type Config struct {
	// Secret key to sign access token
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Issuer and audience claims of signed access tokens, optional
	Issuer   string
	Audience string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// TokenManager issues token pairs and owns the refresh token lifecycle:
// rotation, revocation and the reuse detection cascade
type TokenManager struct {
	key      string
	alg      jwt.SigningMethod
	issuer   string
	audience string

	accessTTL  time.Duration
	refreshTTL time.Duration

	storage repository.Storage
	logger  logger.Logger
}

func New(cfg Config, storage repository.Storage, l logger.Logger) (*TokenManager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if storage == nil {
		return nil, errors.New("storage must not be nil")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}

	alg := jwt.GetSigningMethod(cfg.Alg)
	if alg == nil {
		return nil, fmt.Errorf("unknown signing method: %q", cfg.Alg)
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	if l == nil {
		l = logger.NewNoOp()
	}

	return &TokenManager{
		key:        cfg.SecretKey,
		alg:        alg,
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		storage:    storage,
		logger:     l,
	}, nil
}

// GeneratePair issues a fresh access and refresh token pair for the user.
// Login path: no prior refresh token is involved.
func (m *TokenManager) GeneratePair(ctx context.Context, user models.User, ip string) (models.TokenPair, error) {
	var pair models.TokenPair
	now := time.Now().Truncate(time.Second)

	access, accessExpiresAt, err := m.signAccess(user, now)
	if err != nil {
		return pair, err
	}

	refresh, err := generateTokenString()
	if err != nil {
		return pair, err
	}
	refreshExpiresAt := now.Add(m.refreshTTL)

	_, err = m.storage.RefreshToken().Save(ctx, models.RefreshToken{
		ID:          uuid.New(),
		UserID:      user.ID,
		Token:       refresh,
		CreatedAt:   now,
		ExpiresAt:   refreshExpiresAt,
		CreatedByIP: ip,
	})
	if err != nil {
		return pair, fmt.Errorf("error while saving refresh token. Err: %w", err)
	}

	return models.TokenPair{
		Access:  models.IssuedToken{Value: access, ExpiresAt: accessExpiresAt},
		Refresh: models.IssuedToken{Value: refresh, ExpiresAt: refreshExpiresAt},
	}, nil
}

// Rotate exchanges a valid refresh token for a new pair and revokes the old
// token in the same transaction, recording the successor value on it.
//
// A token that is already revoked is a reuse signal: every active token of
// its owner is revoked, that cascade is committed, and only then the call
// fails with apperrors.ErrTokenReuseDetected.
//
// At most one rotation may succeed for any token value. A racing attempt
// fails with apperrors.ErrConcurrentModification (safe to retry) or
// apperrors.ErrTokenNotFound.
func (m *TokenManager) Rotate(ctx context.Context, oldToken string, ip string) (models.TokenPair, error) {
	var pair models.TokenPair
	now := time.Now().Truncate(time.Second)

	newToken, err := generateTokenString()
	if err != nil {
		return pair, err
	}

	var userID uuid.UUID
	var reuse bool

	err = m.storage.InTx(ctx, func(s repository.Storage) error {
		tokens := s.RefreshToken()

		old, err := tokens.GetForUpdate(ctx, oldToken)
		if err != nil {
			return err
		}

		// Already rotated once: the whole session tree of the owner is
		// considered compromised. The cascade must commit even though
		// the rotation itself fails.
		if old.RevokedAt != nil {
			revoked, err := tokens.RevokeAllForUser(ctx, old.UserID, now)
			if err != nil {
				return err
			}

			m.logger.Warn("refresh token reuse detected, all user sessions revoked",
				"user_id", old.UserID, "tokens_revoked", revoked)
			reuse = true
			return nil
		}

		if old.IsExpired(now) {
			// Naturally invalid, leave the row untouched
			return apperrors.ErrTokenExpired
		}

		updated, err := tokens.Revoke(ctx, oldToken, repository.RevokeParams{
			At:         now,
			ByIP:       ip,
			ReplacedBy: &newToken,
		})
		if err != nil {
			return err
		}
		if updated == 0 {
			// A racing rotation claimed the row between read and write.
			// Do not insert the successor.
			return apperrors.ErrConcurrentModification
		}

		_, err = tokens.Save(ctx, models.RefreshToken{
			ID:          uuid.New(),
			UserID:      old.UserID,
			Token:       newToken,
			CreatedAt:   now,
			ExpiresAt:   now.Add(m.refreshTTL),
			CreatedByIP: ip,
		})
		if err != nil {
			return err
		}

		userID = old.UserID
		return nil
	})

	switch {
	case err != nil:
		return pair, fmt.Errorf("error while rotating refresh token. Err: %w", err)
	case reuse:
		return pair, fmt.Errorf("error while rotating refresh token. Err: %w", apperrors.ErrTokenReuseDetected)
	}

	// The owner could have been deleted after the token was issued
	user, err := m.storage.User().GetUserByID(ctx, userID)
	if err != nil {
		return pair, fmt.Errorf("error while rotating refresh token. Err: %w", err)
	}

	access, accessExpiresAt, err := m.signAccess(user, now)
	if err != nil {
		return pair, err
	}

	return models.TokenPair{
		Access:  models.IssuedToken{Value: access, ExpiresAt: accessExpiresAt},
		Refresh: models.IssuedToken{Value: newToken, ExpiresAt: now.Add(m.refreshTTL)},
	}, nil
}

// RevokeOne revokes a single active token without creating a successor
func (m *TokenManager) RevokeOne(ctx context.Context, tokenString string, ip string) error {
	now := time.Now().Truncate(time.Second)

	err := m.storage.InTx(ctx, func(s repository.Storage) error {
		tokens := s.RefreshToken()

		token, err := tokens.GetForUpdate(ctx, tokenString)
		if err != nil {
			return err
		}

		if token.RevokedAt != nil {
			return apperrors.ErrTokenAlreadyRevoked
		}

		updated, err := tokens.Revoke(ctx, tokenString, repository.RevokeParams{At: now, ByIP: ip})
		if err != nil {
			return err
		}
		if updated == 0 {
			return apperrors.ErrConcurrentModification
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("error while revoking refresh token. Err: %w", err)
	}

	return nil
}

// RevokeAll revokes every active token of the user and returns the count
func (m *TokenManager) RevokeAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	now := time.Now().Truncate(time.Second)

	revoked, err := m.storage.RefreshToken().RevokeAllForUser(ctx, userID, now)
	if err != nil {
		return 0, fmt.Errorf("error while revoking user tokens. Err: %w", err)
	}

	return revoked, nil
}

// Parse and validate access token
func (m *TokenManager) ParseAccess(ctx context.Context, access string) (AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{m.alg.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	_, err := jwt.ParseWithClaims(
		access,
		claims,
		func(t *jwt.Token) (any, error) { return []byte(m.key), nil },
		opts...,
	)
	if err != nil {
		return AccessTokenClaims{}, fmt.Errorf("error while parsing or validating token. Err: %w", err)
	}

	return *claims, nil
}

func (m *TokenManager) signAccess(user models.User, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(m.accessTTL)

	var audience jwt.ClaimStrings
	if m.audience != "" {
		audience = jwt.ClaimStrings{m.audience}
	}

	accessToken := jwt.NewWithClaims(
		m.alg,
		AccessTokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				Issuer:    m.issuer,
				Audience:  audience,
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(expiresAt),
			},
			Username: user.Username,
			Role:     user.Role,
			UserID:   user.ID,
		},
	)

	access, err := accessToken.SignedString([]byte(m.key))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	return access, expiresAt, nil
}

// Opaque refresh token value: 64 random bytes base64 encoded
func generateTokenString() (string, error) {
	b := make([]byte, refreshTokenBytesLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("error while generating refresh token. Err: %w", err)
	}

	return base64.StdEncoding.EncodeToString(b), nil
}
