// Package service contains the business logic layer of the application.
//
//	Handler (HTTP)  → parses requests, writes responses
//	Service         → validates, enforces account rules, orchestrates
//	Repository      → reads/writes users
//
// AccountService is the account session manager: registration, login,
// session authorization, logout and profile updates. It never sees HTTP
// types; handlers translate its apperror kinds to status codes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/account-service/internal/apperror"
	"github.com/sakif/account-service/internal/auth"
	"github.com/sakif/account-service/internal/avatar"
	"github.com/sakif/account-service/internal/model"
	"github.com/sakif/account-service/internal/repository"
)

// Client-facing 401 messages. Login uses one message for both unknown email
// and wrong password so responses cannot be used to enumerate accounts.
const (
	msgBadCredentials = "Email or password is wrong"
	msgNotAuthorized  = "Not authorized"
)

// AvatarGenerator produces a default avatar image and returns the stored
// file name. *avatar.Store implements it.
type AvatarGenerator interface {
	Generate(seed string) (string, error)
}

// AccountConfig carries the settings AccountService needs. It is passed in
// at construction; the service never reads the environment.
type AccountConfig struct {
	// PublicURL is the externally reachable base URL of this service,
	// e.g. "http://localhost:3000". Avatar URLs are built on it.
	PublicURL string
}

// AccountService implements the account and session rules.
type AccountService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	avatars   AvatarGenerator
	cfg       AccountConfig
	logger    *slog.Logger
}

// NewAccountService wires an AccountService from its dependencies.
func NewAccountService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	avatars AvatarGenerator,
	cfg AccountConfig,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		avatars:   avatars,
		cfg:       cfg,
		logger:    logger,
	}
}

// AuthResult bundles the user record and the issued session token.
type AuthResult struct {
	User  *model.User
	Token string
}

// Register creates an account on the free plan with a generated avatar.
//
// Returns apperror.ErrConflict if the email is taken. The lookup below
// catches the common case; two concurrent registrations that both pass it
// are resolved by the store's unique index, which also reports ErrConflict.
func (s *AccountService) Register(ctx context.Context, email, password string) (*model.User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, apperror.ValidationFailed("email", "email is required")
	}
	if password == "" {
		return nil, apperror.ValidationFailed("password", "password is required")
	}

	_, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, apperror.Conflict("user", "email", email)
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("service/account: checking email: %w", err)
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return nil, apperror.ValidationFailed("password",
				fmt.Sprintf("password must be %d bytes or fewer", auth.MaxPasswordBytes))
		}
		return nil, fmt.Errorf("service/account: %w", err)
	}

	avatarURL, err := s.defaultAvatar()
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Email:        email,
		PasswordHash: hash,
		Subscription: model.SubscriptionFree,
		AvatarURL:    avatarURL,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("service/account: creating user: %w", err)
	}

	s.logger.Info("user registered",
		slog.String("userID", user.ID),
		slog.String("email", user.Email),
	)
	return user, nil
}

// Login checks the credentials and starts a new session. Any session the
// user had before is replaced, so tokens issued earlier stop authorizing.
func (s *AccountService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = normalizeEmail(email)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized(msgBadCredentials)
		}
		return nil, fmt.Errorf("service/account: looking up user: %w", err)
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Info("login rejected: wrong password", slog.String("userID", user.ID))
			return nil, apperror.Unauthorized(msgBadCredentials)
		}
		return nil, fmt.Errorf("service/account: verifying password for user %s: %w", user.ID, err)
	}

	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/account: generating token for user %s: %w", user.ID, err)
	}

	updated, err := s.users.UpdateByID(ctx, user.ID, repository.UserUpdate{
		SetSessionToken: true,
		SessionToken:    &token,
	})
	if err != nil {
		return nil, fmt.Errorf("service/account: storing session for user %s: %w", user.ID, err)
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID))
	return &AuthResult{User: updated, Token: token}, nil
}

// Authorize resolves a bearer token to its user.
//
// The token must verify (signature, expiry) AND equal the session token
// currently stored for the user; a token from an earlier login or from
// before a logout is rejected. A token that fails verification
// short-circuits: no lookup is made for an unverified subject.
func (s *AccountService) Authorize(ctx context.Context, token string) (*model.User, error) {
	userID, err := s.tokens.Validate(token)
	if err != nil {
		return nil, fmt.Errorf("service/account: %w: %w", apperror.Unauthorized(msgNotAuthorized), err)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized(msgNotAuthorized)
		}
		return nil, fmt.Errorf("service/account: loading user %s: %w", userID, err)
	}

	if !user.HasSession(token) {
		return nil, apperror.Unauthorized(msgNotAuthorized)
	}

	return user, nil
}

// Logout ends the user's session by clearing the stored token.
func (s *AccountService) Logout(ctx context.Context, user *model.User) error {
	if _, err := s.users.UpdateByID(ctx, user.ID, repository.UserUpdate{SetSessionToken: true}); err != nil {
		return fmt.Errorf("service/account: clearing session for user %s: %w", user.ID, err)
	}

	s.logger.Info("user logged out", slog.String("userID", user.ID))
	return nil
}

// UpdateSubscription moves the user to another plan. Values outside
// model.Subscriptions are rejected without touching the store.
func (s *AccountService) UpdateSubscription(ctx context.Context, user *model.User, value string) (*model.User, error) {
	sub := model.Subscription(value)
	if !sub.Valid() {
		return nil, apperror.ValidationFailed("subscription",
			"Please choose from the list of available subscriptions: free, pro, premium")
	}

	updated, err := s.users.UpdateByID(ctx, user.ID, repository.UserUpdate{Subscription: &sub})
	if err != nil {
		return nil, fmt.Errorf("service/account: updating subscription for user %s: %w", user.ID, err)
	}

	s.logger.Info("subscription updated",
		slog.String("userID", user.ID),
		slog.String("subscription", string(sub)),
	)
	return updated, nil
}

// UpdateAvatar points the user's avatar at an already-stored image file.
// The URL is built on the same PublicURL as the default avatar.
func (s *AccountService) UpdateAvatar(ctx context.Context, user *model.User, storedName string) (*model.User, error) {
	if storedName == "" {
		return nil, apperror.ValidationFailed("avatar", "avatar file is required")
	}

	avatarURL, err := avatar.PublicURL(s.cfg.PublicURL, storedName)
	if err != nil {
		return nil, fmt.Errorf("service/account: %w", err)
	}

	updated, err := s.users.UpdateByID(ctx, user.ID, repository.UserUpdate{AvatarURL: &avatarURL})
	if err != nil {
		return nil, fmt.Errorf("service/account: updating avatar for user %s: %w", user.ID, err)
	}
	return updated, nil
}

// Ping reports whether the user store is reachable.
func (s *AccountService) Ping(ctx context.Context) error {
	return s.users.Ping(ctx)
}

func (s *AccountService) defaultAvatar() (string, error) {
	name, err := s.avatars.Generate(xid.New().String())
	if err != nil {
		return "", fmt.Errorf("service/account: generating avatar: %w", err)
	}
	u, err := avatar.PublicURL(s.cfg.PublicURL, name)
	if err != nil {
		return "", fmt.Errorf("service/account: %w", err)
	}
	return u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
