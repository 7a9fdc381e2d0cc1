// Package users manages registration and authentication.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/storyloft/studio_layer/internal/app/domain/user"
	"github.com/storyloft/studio_layer/internal/app/storage"
	"github.com/storyloft/studio_layer/pkg/logger"
)

// ErrInvalidCredentials is returned when login fails. The reason (unknown
// email vs wrong password) is deliberately not distinguished.
var ErrInvalidCredentials = errors.New("invalid email or password")

// SignupGrant seeds a newly registered user's wallet. Implemented by the
// wallet service.
type SignupGrant interface {
	GrantSignup(ctx context.Context, userID string) error
}

// Service manages user records.
type Service struct {
	store storage.UserStore
	log   *logger.Logger
	grant SignupGrant
}

// New constructs a user service.
func New(store storage.UserStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("users")
	}
	return &Service{store: store, log: log}
}

// AttachSignupGrant wires the wallet grant applied on registration.
func (s *Service) AttachSignupGrant(grant SignupGrant) {
	s.grant = grant
}

// Register creates a user with a bcrypt password hash and applies the signup
// grant when one is configured.
func (s *Service) Register(ctx context.Context, email, displayName, password string) (user.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	displayName = strings.TrimSpace(displayName)
	if email == "" || !strings.Contains(email, "@") {
		return user.User{}, fmt.Errorf("a valid email is required")
	}
	if displayName == "" {
		displayName = email
	}
	if len(password) < 8 {
		return user.User{}, fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return user.User{}, fmt.Errorf("hash password: %w", err)
	}

	created, err := s.store.CreateUser(ctx, user.User{
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
	})
	if err != nil {
		return user.User{}, err
	}

	if s.grant != nil {
		if err := s.grant.GrantSignup(ctx, created.ID); err != nil {
			s.log.WithError(err).WithField("user_id", created.ID).Warn("signup grant failed")
		}
	}

	s.log.WithField("user_id", created.ID).Info("user registered")
	return created, nil
}

// Authenticate verifies email/password and returns the user.
func (s *Service) Authenticate(ctx context.Context, email, password string) (user.User, error) {
	u, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return user.User{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return user.User{}, ErrInvalidCredentials
	}
	return u, nil
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, id string) (user.User, error) {
	return s.store.GetUser(ctx, id)
}
