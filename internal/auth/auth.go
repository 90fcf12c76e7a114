package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/franckalain/chocobrew/internal/database"
	"github.com/franckalain/chocobrew/internal/models"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const issuer = "chocobrew"

var (
	// ErrUnauthorized covers bad credentials and invalid or expired tokens.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials is returned by Register for unusable input.
	ErrInvalidCredentials = errors.New("username must be 3-40 characters and password at least 8")
)

// Claims is the session token payload. The subject holds the account id.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Service registers producers and issues session tokens.
type Service struct {
	accounts database.AccountStore
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

// NewService creates an auth service signing tokens with secret.
func NewService(accounts database.AccountStore, secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		accounts: accounts,
		secret:   []byte(secret),
		ttl:      ttl,
		now:      time.Now,
	}
}

// TTL is how long issued tokens stay valid.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Register creates an account with a bcrypt password hash.
func (s *Service) Register(ctx context.Context, username, password string) (*models.Account, error) {
	username = strings.TrimSpace(username)
	if len(username) < 3 || len(username) > 40 || len(password) < 8 {
		return nil, ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account := &models.Account{Username: username, PasswordHash: string(hash)}
	if _, err := s.accounts.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// Login checks the password and returns a signed session token.
func (s *Service) Login(ctx context.Context, username, password string) (*models.Account, string, error) {
	account, err := s.accounts.GetAccountByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, database.ErrNotFound) {
		return nil, "", ErrUnauthorized
	}
	if err != nil {
		return nil, "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrUnauthorized
	}

	token, err := s.issue(account)
	if err != nil {
		return nil, "", err
	}
	return account, token, nil
}

func (s *Service) issue(account *models.Account) (string, error) {
	now := s.now()
	claims := &Claims{
		Username: account.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   strconv.FormatInt(account.ID, 10),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Authenticate validates a session token and returns the account id.
func (s *Service) Authenticate(token string) (int64, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid || claims.Issuer != issuer {
		return 0, ErrUnauthorized
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrUnauthorized
	}
	return id, nil
}
