package models

import (
	"github.com/golang-jwt/jwt/v5"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// TokenClaims is the payload of both access and refresh tokens.
// SessionVersion is the account epoch at mint time.
type TokenClaims struct {
	Type           string `json:"type"`
	UserID         string `json:"userId"`
	Role           string `json:"role,omitempty"`
	SessionVersion int64  `json:"sv"`
	jwt.RegisteredClaims
}
