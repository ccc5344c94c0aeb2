// Package auth issues and verifies the HS256 tokens shared by the web
// client, the HTTP API and the Telegram bot.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"mlm-platform/internal/config"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// PurposeTelegramLink marks a short-lived token that links a Telegram account.
const PurposeTelegramLink = "telegram_link"

// Claims carried by platform tokens. The subject is the member's user id.
type Claims struct {
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Admin         bool   `json:"admin,omitempty"`
	Purpose       string `json:"purpose,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and parses tokens with one shared secret.
type Manager struct {
	secret  []byte
	issuer  string
	ttl     time.Duration
	linkTTL time.Duration
	now     func() time.Time
}

// NewManager creates a Manager from the auth configuration.
func NewManager(cfg config.AuthConfig) *Manager {
	return &Manager{
		secret:  []byte(cfg.JWTSecret),
		issuer:  cfg.Issuer,
		ttl:     cfg.TokenTTL,
		linkTTL: cfg.LinkTTL,
		now:     time.Now,
	}
}

// IssueAccess returns a bearer token for API calls. A non-empty email is
// marked verified.
func (m *Manager) IssueAccess(userID, email string, admin bool) (string, error) {
	return m.sign(Claims{Email: email, EmailVerified: email != "", Admin: admin}, userID, m.ttl)
}

// IssueLink returns a token the member pastes into /start to link Telegram.
func (m *Manager) IssueLink(userID string) (string, error) {
	return m.sign(Claims{Purpose: PurposeTelegramLink}, userID, m.linkTTL)
}

func (m *Manager) sign(claims Claims, userID string, ttl time.Duration) (string, error) {
	now := m.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    m.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// ParseAccess verifies a bearer token. Link tokens are not accepted.
func (m *Manager) ParseAccess(token string) (*Claims, error) {
	claims, err := m.parse(token)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ParseLink verifies a Telegram link token and returns the user id.
func (m *Manager) ParseLink(token string) (string, error) {
	claims, err := m.parse(token)
	if err != nil {
		return "", err
	}
	if claims.Purpose != PurposeTelegramLink {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func (m *Manager) parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
