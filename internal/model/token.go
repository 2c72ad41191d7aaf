package model

import (
	"fmt"
	"time"
)

// TokenType distinguishes access tokens from refresh tokens
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// ParseTokenType converts a claim value into a TokenType
func ParseTokenType(s string) (TokenType, error) {
	switch TokenType(s) {
	case TokenTypeAccess, TokenTypeRefresh:
		return TokenType(s), nil
	}
	return "", fmt.Errorf("unknown token type %q", s)
}

// TokenPair is issued after a successful login or refresh
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"` // always "Bearer"
	ExpiresIn    int    `json:"expiresIn"` // access token lifetime in seconds
}

// BlacklistInfo describes a revoked token
type BlacklistInfo struct {
	UserID        string        `json:"userId"`
	BlacklistedAt time.Time     `json:"blacklistedAt"`
	TTL           time.Duration `json:"ttl"`
}
