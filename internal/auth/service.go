// Package auth registers accounts and issues the bearer tokens that carry a
// caller's verified identity into the core services.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/installmatch/backend/internal/database"
	"github.com/installmatch/backend/internal/models"
)

var (
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidToken       = errors.New("invalid token")
)

const DefaultTokenTTL = 24 * time.Hour

// Store persists accounts. GetByEmail returns nil, nil when no account matches.
type Store interface {
	Create(ctx context.Context, a *models.Account) error
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
}

type Service interface {
	Register(ctx context.Context, email, password, displayName, role string) (*models.Account, error)
	Login(ctx context.Context, email, password string) (string, *models.Account, error)
	ValidateToken(ctx context.Context, token string) (models.Identity, error)
	EnsureAdmin(ctx context.Context, email, password string) error
}

type service struct {
	store  Store
	secret []byte
	ttl    time.Duration
	cost   int
	log    *slog.Logger
	now    func() time.Time
}

type Option func(*service)

func WithTokenTTL(ttl time.Duration) Option {
	return func(s *service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithBcryptCost lowers the hashing cost; tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *service) { s.cost = cost }
}

func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *service) { s.log = log }
}

func NewService(store Store, secret string, opts ...Option) Service {
	s := &service{
		store:  store,
		secret: []byte(secret),
		ttl:    DefaultTokenTTL,
		cost:   bcrypt.DefaultCost,
		log:    slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Register creates a seller or contractor. Admin accounts only come from
// EnsureAdmin.
func (s *service) Register(ctx context.Context, email, password, displayName, role string) (*models.Account, error) {
	if role != models.RoleSeller && role != models.RoleContractor {
		return nil, ErrInvalidRole
	}
	return s.create(ctx, email, password, displayName, role)
}

func (s *service) create(ctx context.Context, email, password, displayName, role string) (*models.Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	acc := &models.Account{
		ID:           uuid.New(),
		Email:        email,
		DisplayName:  displayName,
		Role:         role,
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	}
	if err := s.store.Create(ctx, acc); err != nil {
		if database.IsUniqueViolation(err) || errors.Is(err, ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return acc, nil
}

func (s *service) Login(ctx context.Context, email, password string) (string, *models.Account, error) {
	acc, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return "", nil, err
	}
	if acc == nil {
		return "", nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}
	token, err := s.issueToken(acc.ID, acc.Role)
	if err != nil {
		return "", nil, err
	}
	return token, acc, nil
}

// EnsureAdmin creates the bootstrap admin account when it does not exist.
func (s *service) EnsureAdmin(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return nil
	}
	existing, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.Role != models.RoleAdmin {
			return fmt.Errorf("bootstrap admin %q exists with role %q", email, existing.Role)
		}
		return nil
	}
	if _, err := s.create(ctx, email, password, "Administrator", models.RoleAdmin); err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	s.log.Info("bootstrap admin created", "email", email)
	return nil
}

func (s *service) issueToken(accountID uuid.UUID, role string) (string, error) {
	now := s.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role: role,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(_ context.Context, token string) (models.Identity, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return models.Identity{}, ErrInvalidToken
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	switch c.Role {
	case models.RoleSeller, models.RoleContractor, models.RoleAdmin:
	default:
		return models.Identity{}, fmt.Errorf("%w: unknown role", ErrInvalidToken)
	}
	return models.Identity{AccountID: id, Role: c.Role}, nil
}
