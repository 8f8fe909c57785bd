package services

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/pettinen/gifdome/models"
	"github.com/pettinen/gifdome/utils"
)

// tokenTTL is how long an admin session token stays valid.
const tokenTTL = 24 * time.Hour

// AuthService authenticates the admin API. There are no accounts: a single
// username and password hash come from the environment and a successful
// login yields a signed bearer token.
type AuthService interface {
	Login(ctx context.Context, creds models.AdminCredentials) (string, error)
}

type authService struct {
	username     string
	passwordHash string
	secret       []byte
	now          func() time.Time
}

func NewAuthService(username, passwordHash, secret string) AuthService {
	return &authService{
		username:     username,
		passwordHash: passwordHash,
		secret:       []byte(secret),
		now:          time.Now,
	}
}

func (s *authService) Login(ctx context.Context, creds models.AdminCredentials) (string, error) {
	if creds.Username != s.username || !utils.CheckPasswordHash(creds.Password, s.passwordHash) {
		return "", ErrInvalidCredentials
	}
	now := s.now()
	claims := jwt.MapClaims{
		"sub":  creds.Username,
		"role": "admin",
		"iat":  now.Unix(),
		"exp":  now.Add(tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
