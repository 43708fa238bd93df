package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"aether-trading-bot/config"
)

// Claims carried in control-surface tokens
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Service issues and validates bearer tokens for the control API. A
// single bcrypt-hashed admin credential guards login.
type Service struct {
	secret        []byte
	adminUser     string
	adminPassHash string
	tokenExpiry   time.Duration
}

// NewService creates the auth service from configuration
func NewService(cfg config.AuthConfig) *Service {
	expiry := time.Duration(cfg.TokenExpiryMins) * time.Minute
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &Service{
		secret:        []byte(cfg.JWTSecret),
		adminUser:     cfg.AdminUser,
		adminPassHash: cfg.AdminPassHash,
		tokenExpiry:   expiry,
	}
}

// Login verifies the admin credential and returns a signed token
func (s *Service) Login(username, password string) (string, error) {
	if username != s.adminUser {
		return "", fmt.Errorf("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.adminPassHash), []byte(password)); err != nil {
		return "", fmt.Errorf("invalid credentials")
	}
	return s.generateToken(username)
}

func (s *Service) generateToken(username string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenExpiry)),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "aether-trading-bot",
		},
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a bearer token
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// HashPassword produces a bcrypt hash for seeding the admin credential
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
