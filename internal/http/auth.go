package httpx

import (
	"net/http"
	"strings"

	"github.com/GarthBrooksFan/experiment-tracker/internal/domain"
	"github.com/GarthBrooksFan/experiment-tracker/internal/service/access"
)

type sessionResponse struct {
	User         userResponse `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	TokenType    string       `json:"tokenType"`
	ExpiresIn    int64        `json:"expiresIn"`
}

func newSessionResponse(s access.Session) sessionResponse {
	return sessionResponse{
		User:         newUserResponse(s.User),
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.ExpiresIn.Seconds()),
	}
}

// handleSignIn is called by the OAuth gateway once it has authenticated an
// identity. Only allow-listed, authorized users receive a session.
func (r *Router) handleSignIn(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if !r.access.VerifyGatewayToken(req.Header.Get(headerGatewayToken)) {
		r.logger.Warn("gateway token mismatch", "path", req.URL.Path, "ip", clientIP(req))
		writeError(w, http.StatusUnauthorized, "invalid gateway token")
		return
	}
	var payload struct {
		Provider string `json:"provider"`
		Username string `json:"username"`
		Email    string `json:"email"`
		Name     string `json:"name"`
	}
	if !decodeJSON(w, req, &payload) {
		return
	}
	session, err := r.access.SignIn(req.Context(), domain.Identity{
		Provider: payload.Provider,
		Username: payload.Username,
		Email:    payload.Email,
		Name:     payload.Name,
	})
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(session))
}

func (r *Router) handleRefresh(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decodeJSON(w, req, &payload) {
		return
	}
	if strings.TrimSpace(payload.RefreshToken) == "" {
		writeValidation(w, &domain.ValidationError{Fields: []domain.FieldError{{Field: "refreshToken", Message: "is required"}}})
		return
	}
	session, err := r.access.Refresh(req.Context(), payload.RefreshToken)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(session))
}

func (r *Router) handleMe(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for session lookup", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":             info.UserID,
		"githubUsername": info.Username,
		"isAdmin":        info.IsAdmin,
	})
}

func (r *Router) handleAdminUsers(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		users, err := r.access.ListUsers(req.Context())
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		out := make([]userResponse, 0, len(users))
		for _, u := range users {
			out = append(out, newUserResponse(u))
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": out})
	case http.MethodPost:
		var payload struct {
			GithubUsername string `json:"githubUsername"`
			Email          string `json:"email"`
			Name           string `json:"name"`
			Authorize      *bool  `json:"authorize"`
			Admin          *bool  `json:"isAdmin"`
		}
		if !decodeJSON(w, req, &payload) {
			return
		}
		user, err := r.access.SetAuthorization(req.Context(), access.GrantInput{
			GithubUsername: payload.GithubUsername,
			Email:          payload.Email,
			Name:           payload.Name,
			Authorize:      payload.Authorize,
			Admin:          payload.Admin,
		})
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		verb := "unauthorized"
		if user.IsAuthorized {
			verb = "authorized"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "User " + verb + " successfully",
			"user":    newUserResponse(*user),
		})
	default:
		r.methodNotAllowed(w)
	}
}
