package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// TokenType distinguishes session tokens from anything else signed with the
// same secret.
type TokenType string

const (
	TokenTypeSession TokenType = "session"
)

// Claims binds a websocket to one live session.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"token_type"`
	SessionID string    `json:"session_id"`
	LastName  string    `json:"last_name"`
	FirstName string    `json:"first_name"`
	ExamCode  string    `json:"exam_code"`
}

// Identity returns the examinee the token was issued to.
func (c *Claims) Identity() model.Identity {
	return model.Identity{LastName: c.LastName, FirstName: c.FirstName, Code: c.ExamCode}
}

// TokenService issues and validates session tokens.
type TokenService struct {
	secret []byte
	expiry time.Duration
}

// NewTokenService creates a new TokenService.
func NewTokenService(secret string, expiry time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), expiry: expiry}
}

// Issue signs a token for sessionID.
func (s *TokenService) Issue(sessionID string, id model.Identity) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   id.Key(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
		TokenType: TokenTypeSession,
		SessionID: sessionID,
		LastName:  id.LastName,
		FirstName: id.FirstName,
		ExamCode:  id.Code,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *TokenService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.TokenType != TokenTypeSession || claims.SessionID == "" {
		return nil, errors.New("not a session token")
	}
	return claims, nil
}
