// Package customer manages customer accounts and authentication.
package customer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velouria-skin/api/internal/auth"
)

var (
	// ErrNotFound is returned when a customer does not exist.
	ErrNotFound = errors.New("customer not found")
	// ErrEmailTaken is returned when registering with an existing email.
	ErrEmailTaken = errors.New("email already registered")
)

// Customer is a registered account. PasswordHash never leaves this package.
type Customer struct {
	ID        uuid.UUID
	Email     string
	FullName  string
	IsAdmin   bool
	CreatedAt time.Time
}

// Service provides business logic for customer accounts.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates a new customer service.
func NewService(pool *pgxpool.Pool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: logger,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a new customer account with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, email, password, fullName string) (Customer, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return Customer{}, err
	}

	var c Customer
	err = s.pool.QueryRow(ctx, `
		INSERT INTO customers (id, email, password_hash, full_name)
		VALUES ($1, $2, $3, $4)
		RETURNING id, email, full_name, is_admin, created_at`,
		uuid.New(), normalizeEmail(email), hash, fullName,
	).Scan(&c.ID, &c.Email, &c.FullName, &c.IsAdmin, &c.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Customer{}, ErrEmailTaken
		}
		return Customer{}, fmt.Errorf("registering customer: %w", err)
	}

	s.logger.Info("customer registered", slog.String("customer_id", c.ID.String()))
	return c, nil
}

// Authenticate verifies email and password, returning the customer on
// success. An unknown email and a wrong password both return
// auth.ErrInvalidCredentials so callers cannot probe for accounts.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Customer, error) {
	var (
		c    Customer
		hash string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, full_name, is_admin, created_at
		FROM customers WHERE email = $1`,
		normalizeEmail(email),
	).Scan(&c.ID, &c.Email, &hash, &c.FullName, &c.IsAdmin, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Customer{}, auth.ErrInvalidCredentials
		}
		return Customer{}, fmt.Errorf("looking up customer: %w", err)
	}

	if err := auth.VerifyPassword(hash, password); err != nil {
		return Customer{}, auth.ErrInvalidCredentials
	}
	return c, nil
}

// SetAdmin grants or revokes staff access for the account with the given
// email.
func (s *Service) SetAdmin(ctx context.Context, email string, isAdmin bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE customers SET is_admin = $2, updated_at = now() WHERE email = $1`,
		normalizeEmail(email), isAdmin)
	if err != nil {
		return fmt.Errorf("setting admin flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get retrieves a customer by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Customer, error) {
	var c Customer
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, full_name, is_admin, created_at
		FROM customers WHERE id = $1`, id,
	).Scan(&c.ID, &c.Email, &c.FullName, &c.IsAdmin, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Customer{}, ErrNotFound
		}
		return Customer{}, fmt.Errorf("getting customer: %w", err)
	}
	return c, nil
}
