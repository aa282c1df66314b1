package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/GarthBrooksFan/experiment-tracker/internal/service/access"
)

type authContextKey string

type authInfo struct {
	UserID   string
	Username string
	IsAdmin  bool
	AdminKey bool
}

const contextKeyAuth authContextKey = "lab-auth-info"

const (
	headerAdminKey     = "X-Admin-Key"
	headerGatewayToken = "X-Auth-Gateway-Token"
)

type contextSetter interface {
	SetContext(context.Context)
}

// requireAuth ensures the request has a valid bearer token before invoking the handler.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, _, ok := r.ensureAuth(w, req)
		if !ok {
			return
		}
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// requireAdmin admits either an admin session or a valid admin key.
func (r *Router) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if key := strings.TrimSpace(req.Header.Get(headerAdminKey)); key != "" {
			if !r.access.VerifyAdminKey(key) {
				r.logger.Warn("admin key rejected", "path", req.URL.Path)
				writeError(w, http.StatusForbidden, "admin access required")
				return
			}
			ctx := context.WithValue(req.Context(), contextKeyAuth, authInfo{AdminKey: true, IsAdmin: true})
			if setter, ok := w.(contextSetter); ok {
				setter.SetContext(ctx)
			}
			next(w, req.WithContext(ctx))
			return
		}
		ctx, info, ok := r.ensureAuth(w, req)
		if !ok {
			return
		}
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		if !info.IsAdmin {
			r.logger.Warn("admin route denied", "user_id", info.UserID, "path", req.URL.Path)
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next(w, req.WithContext(ctx))
	}
}

// ensureAuth validates the Authorization header and enriches the context.
// Revoked users get 403; missing or bad tokens get 401.
func (r *Router) ensureAuth(w http.ResponseWriter, req *http.Request) (context.Context, authInfo, bool) {
	token, err := bearerToken(req.Header.Get("Authorization"))
	if err != nil {
		r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "authentication required")
		return req.Context(), authInfo{}, false
	}
	user, _, err := r.access.Authorize(req.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, access.ErrUnauthenticated):
			r.logger.Warn("token validation failed", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication failed")
		case errors.Is(err, access.ErrNotAuthorized):
			r.logger.Warn("revoked session rejected", "path", req.URL.Path)
			writeError(w, http.StatusForbidden, "access revoked")
		default:
			r.logger.Error("authorization lookup failed", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return req.Context(), authInfo{}, false
	}
	info := authInfo{UserID: user.ID, Username: user.GithubUsername, IsAdmin: user.IsAdmin}
	ctx := context.WithValue(req.Context(), contextKeyAuth, info)
	return ctx, info, true
}

// authInfoFromContext extracts auth metadata from context.
func authInfoFromContext(ctx context.Context) (authInfo, bool) {
	value := ctx.Value(contextKeyAuth)
	if value == nil {
		return authInfo{}, false
	}
	info, ok := value.(authInfo)
	return info, ok
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}
