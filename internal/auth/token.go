package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/sessioncore/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrTokenType is returned when a token of one type is presented as the other.
var ErrTokenType = errors.New("unexpected token type")

// TokenManager signs and verifies access and refresh tokens. The two token
// types use separate secrets.
type TokenManager struct {
	accessSecret       []byte
	refreshSecret      []byte
	issuer             string
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	now                func() time.Time
}

func NewTokenManager(accessSecret, refreshSecret, issuer string, accessExpiry, refreshExpiry time.Duration) *TokenManager {
	return &TokenManager{
		accessSecret:       []byte(accessSecret),
		refreshSecret:      []byte(refreshSecret),
		issuer:             issuer,
		accessTokenExpiry:  accessExpiry,
		refreshTokenExpiry: refreshExpiry,
		now:                time.Now,
	}
}

func (tm *TokenManager) AccessTokenExpiry() time.Duration {
	return tm.accessTokenExpiry
}

func (tm *TokenManager) GenerateAccessToken(account *models.Account) (string, error) {
	return tm.sign(models.TokenTypeAccess, account, tm.accessTokenExpiry, tm.accessSecret)
}

func (tm *TokenManager) GenerateRefreshToken(account *models.Account) (string, error) {
	return tm.sign(models.TokenTypeRefresh, account, tm.refreshTokenExpiry, tm.refreshSecret)
}

func (tm *TokenManager) sign(tokenType string, account *models.Account, expiry time.Duration, secret []byte) (string, error) {
	now := tm.now()
	claims := &models.TokenClaims{
		Type:           tokenType,
		UserID:         account.ID,
		Role:           account.Role,
		SessionVersion: account.SessionVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    tm.issuer,
			Subject:   account.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

// DecodeUnverified reads the claims without checking the signature or expiry.
// The result only identifies which user a request claims to be.
func (tm *TokenManager) DecodeUnverified(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("failed to decode token: missing userId")
	}
	return claims, nil
}

// ValidateAccess verifies an access token. An expired but otherwise valid
// token yields an error matching jwt.ErrTokenExpired.
func (tm *TokenManager) ValidateAccess(tokenString string) (*models.TokenClaims, error) {
	return tm.validate(tokenString, models.TokenTypeAccess, tm.accessSecret)
}

func (tm *TokenManager) ValidateRefresh(tokenString string) (*models.TokenClaims, error) {
	return tm.validate(tokenString, models.TokenTypeRefresh, tm.refreshSecret)
}

func (tm *TokenManager) validate(tokenString, tokenType string, secret []byte) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tm.issuer),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Type != tokenType {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrTokenType, claims.Type, tokenType)
	}

	return claims, nil
}
