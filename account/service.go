package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials signals wrong email or password.
	ErrInvalidCredentials = errors.New("account: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errors.New("account: password must be at least 8 characters")
)

// Service handles account business logic and backs the trade-eligibility
// gate consumed by the listing registry. How eligibility is decided stays
// outside the core; this service only stores and reports the flag.
type Service struct {
	repo      Repository
	jwtSecret []byte
}

// LoginResult bundles the token and domain account returned after a
// successful login.
type LoginResult struct {
	Token   string
	Account Account
}

// NewService creates a new account service.
func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
	}
}

// Register creates a new account. Accounts start trade-ineligible until the
// external verification flow toggles the flag.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Account, error) {
	if len(req.Password) < 8 {
		return nil, ErrWeakPassword
	}
	if req.Email == "" || req.FullName == "" {
		return nil, fmt.Errorf("account: email and full_name are required")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("account: hash password: %w", err)
	}

	a, err := s.repo.Create(ctx, CreateParams{
		Email:        req.Email,
		FullName:     req.FullName,
		PasswordHash: string(passwordHash),
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Login authenticates an account and returns a JWT token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	a, err := s.repo.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.generateToken(a.ID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("account: generate token: %w", err)
	}

	return LoginResult{Token: token, Account: a}, nil
}

// Get retrieves account information by ID.
func (s *Service) Get(ctx context.Context, id string) (*Account, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// IsTradeEligible implements the eligibility gate queried before listing and
// committing.
func (s *Service) IsTradeEligible(ctx context.Context, accountID string) (bool, error) {
	a, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return a.TradeEligible, nil
}

// SetTradeEligible records the externally decided eligibility verdict.
func (s *Service) SetTradeEligible(ctx context.Context, accountID string, eligible bool) error {
	return s.repo.SetTradeEligible(ctx, accountID, eligible)
}

// VerifyToken validates a JWT token and returns the account ID.
func (s *Service) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", fmt.Errorf("account: parse token: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		accountID, ok := claims["account_id"].(string)
		if !ok {
			return "", fmt.Errorf("account: invalid account_id in token")
		}
		return accountID, nil
	}

	return "", fmt.Errorf("account: invalid token")
}

// generateToken creates a JWT token for the account.
func (s *Service) generateToken(accountID string) (string, error) {
	claims := jwt.MapClaims{
		"account_id": accountID,
		"exp":        time.Now().Add(24 * time.Hour).Unix(),
		"iat":        time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
