package access

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/mail"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/GarthBrooksFan/experiment-tracker/internal/domain"
	"github.com/GarthBrooksFan/experiment-tracker/internal/repository"
	"github.com/GarthBrooksFan/experiment-tracker/pkg/config"
	"github.com/GarthBrooksFan/experiment-tracker/pkg/crypto"
	jwtpkg "github.com/GarthBrooksFan/experiment-tracker/pkg/jwt"
)

var (
	// ErrAccessDenied is returned when an identity may not sign in.
	ErrAccessDenied = errors.New("access denied")
	// ErrNotAuthorized is returned when a session's user has been revoked or lacks a role.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrUnauthenticated is returned for missing or invalid tokens.
	ErrUnauthenticated = errors.New("authentication required")
)

// ProviderGitHub is the only identity provider admitted by the gate.
const ProviderGitHub = "github"

// Session is the token pair issued at sign-in.
type Session struct {
	User         domain.User
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// GrantInput creates or updates an allow-list entry.
type GrantInput struct {
	GithubUsername string
	Email          string
	Name           string
	Authorize      *bool
	Admin          *bool
}

// invalidator is implemented by caching allow-lists.
type invalidator interface {
	Invalidate()
}

// Service gates access to the API.
type Service struct {
	users  repository.UserRepository
	allow  AllowList
	logger *slog.Logger
	cfg    config.APIConfig
}

// New constructs a Service.
func New(users repository.UserRepository, allow AllowList, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{users: users, allow: allow, logger: logger, cfg: cfg}
}

// VerifyGatewayToken reports whether token matches the configured gateway secret.
func (s Service) VerifyGatewayToken(token string) bool {
	expected := strings.TrimSpace(s.cfg.AuthGatewayToken)
	provided := strings.TrimSpace(token)
	if expected == "" || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// VerifyAdminKey reports whether key matches the configured admin key hash.
func (s Service) VerifyAdminKey(key string) bool {
	if strings.TrimSpace(s.cfg.AdminKeyHash) == "" || strings.TrimSpace(key) == "" {
		return false
	}
	return crypto.CompareSecret(s.cfg.AdminKeyHash, key) == nil
}

// SignIn admits an externally authenticated identity present on the allow-list.
// Denied identities leave no trace in the store.
func (s Service) SignIn(ctx context.Context, identity domain.Identity) (Session, error) {
	provider := strings.ToLower(strings.TrimSpace(identity.Provider))
	username := strings.TrimSpace(identity.Username)
	if provider != ProviderGitHub || username == "" {
		s.logger.Warn("sign-in denied", "provider", provider, "reason", "unsupported identity")
		return Session{}, ErrAccessDenied
	}
	user, err := s.allow.LookupUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("sign-in denied", "username", username, "reason", "not on allow-list")
			return Session{}, ErrAccessDenied
		}
		return Session{}, err
	}
	if !user.IsAuthorized {
		s.logger.Warn("sign-in denied", "username", username, "reason", "not authorized")
		return Session{}, ErrAccessDenied
	}

	now := time.Now().UTC()
	if err := s.users.RecordSignIn(ctx, repository.SignIn{
		UserID: user.ID,
		Name:   strings.TrimSpace(identity.Name),
		Email:  strings.TrimSpace(identity.Email),
		At:     now,
	}); err != nil {
		return Session{}, err
	}
	user.LastSignInAt = &now

	session, err := s.issue(*user)
	if err != nil {
		return Session{}, err
	}
	s.logger.Info("user signed in", "user_id", user.ID, "username", user.GithubUsername)
	return session, nil
}

// Authorize validates an access token and re-checks the allow-list.
func (s Service) Authorize(ctx context.Context, token string) (*domain.User, *jwtpkg.Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, nil, ErrUnauthenticated
	}
	claims, err := jwtpkg.ParseKind(trimmed, s.cfg.JWTSecret, jwtpkg.KindAccess)
	if err != nil {
		return nil, nil, ErrUnauthenticated
	}
	user, err := s.current(ctx, claims.UserID)
	if err != nil {
		return nil, nil, err
	}
	return user, claims, nil
}

// Refresh exchanges a refresh token for a new session.
func (s Service) Refresh(ctx context.Context, token string) (Session, error) {
	claims, err := jwtpkg.ParseKind(strings.TrimSpace(token), s.cfg.JWTSecret, jwtpkg.KindRefresh)
	if err != nil {
		return Session{}, ErrUnauthenticated
	}
	user, err := s.current(ctx, claims.UserID)
	if err != nil {
		return Session{}, err
	}
	return s.issue(*user)
}

// ListUsers returns the allow-list.
func (s Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	return s.users.ListUsers(ctx)
}

// SetAuthorization upserts an allow-list entry keyed by GitHub username or email.
// Authorize defaults to true.
func (s Service) SetAuthorization(ctx context.Context, input GrantInput) (*domain.User, error) {
	username := strings.TrimSpace(input.GithubUsername)
	email := strings.TrimSpace(input.Email)
	verr := &domain.ValidationError{}
	if username == "" && email == "" {
		verr.Add("githubUsername", "githubUsername or email is required")
	}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			verr.Add("email", "must be a valid email address")
		}
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}
	authorize := true
	if input.Authorize != nil {
		authorize = *input.Authorize
	}
	user, err := s.users.UpsertUserAuthorization(ctx, repository.AuthorizationGrant{
		NewID:          uuid.NewString(),
		GithubUsername: username,
		Email:          email,
		Name:           strings.TrimSpace(input.Name),
		Authorize:      authorize,
		Admin:          input.Admin,
		At:             time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	if inv, ok := s.allow.(invalidator); ok {
		inv.Invalidate()
	}
	s.logger.Info("allow-list updated", "user_id", user.ID, "authorized", user.IsAuthorized, "admin", user.IsAdmin)
	return user, nil
}

func (s Service) current(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.allow.LookupID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotAuthorized
		}
		return nil, err
	}
	if !user.IsAuthorized {
		return nil, ErrNotAuthorized
	}
	return user, nil
}

func (s Service) issue(user domain.User) (Session, error) {
	access, err := jwtpkg.GenerateToken(user.ID, user.GithubUsername, jwtpkg.KindAccess, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return Session{}, err
	}
	refresh, err := jwtpkg.GenerateToken(user.ID, user.GithubUsername, jwtpkg.KindRefresh, s.cfg.JWTSecret, s.cfg.RefreshTokenTTL)
	if err != nil {
		return Session{}, err
	}
	return Session{User: user, AccessToken: access, RefreshToken: refresh, ExpiresIn: s.cfg.AccessTokenTTL}, nil
}
