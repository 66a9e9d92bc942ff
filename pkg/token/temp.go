package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTempTokenTTL bounds how long a suspended login attempt stays
// resumable.
const DefaultTempTokenTTL = 5 * time.Minute

const tempTokenType = "temp"

// ErrInvalidTempToken is returned for expired, malformed or mistyped
// temp tokens.
var ErrInvalidTempToken = errors.New("invalid temp token")

// Service issues and validates the short-lived temp tokens that carry a
// suspended authentication attempt between the primary-credential step
// and the second-factor step.
type Service struct {
	secret []byte
	ttl    time.Duration
}

// NewService creates a temp token service with the given signing secret.
func NewService(secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTempTokenTTL
	}
	return &Service{secret: []byte(secret), ttl: ttl}
}

// GenerateTempToken issues a temp token for an account whose primary
// credential has been verified but whose second factor is outstanding.
func (s *Service) GenerateTempToken(accountID, username string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub":        accountID,
		"username":   username,
		"token_type": tempTokenType,
		"iat":        now.Unix(),
		"exp":        now.Add(s.ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign temp token: %w", err)
	}
	return signed, nil
}

// ParseTempToken validates a temp token and returns the account ID and
// username it was issued for.
func (s *Service) ParseTempToken(tokenString string) (string, string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", "", ErrInvalidTempToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", ErrInvalidTempToken
	}
	if tokenType, _ := claims["token_type"].(string); tokenType != tempTokenType {
		return "", "", ErrInvalidTempToken
	}

	accountID, _ := claims["sub"].(string)
	username, _ := claims["username"].(string)
	if accountID == "" {
		return "", "", ErrInvalidTempToken
	}
	return accountID, username, nil
}
