package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func TestNewDefaultsScheme(t *testing.T) {
	c, err := New("localhost:4000")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4000", c.http.BaseURL)

	c, err = New("")
	require.NoError(t, err)
	assert.Equal(t, defaultBaseURL, c.http.BaseURL)
}

func TestSignInSendsGatewayToken(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/signin", r.URL.Path)
		assert.Equal(t, "gate", r.Header.Get(headerGatewayToken))

		var identity Identity
		require.NoError(t, json.NewDecoder(r.Body).Decode(&identity))
		assert.Equal(t, "github", identity.Provider)
		assert.Equal(t, "ada", identity.Username)

		writeJSON(w, http.StatusOK, map[string]any{
			"user":         map[string]any{"id": "u1", "githubUsername": "ada", "isAuthorized": true},
			"accessToken":  "access",
			"refreshToken": "refresh",
			"tokenType":    "Bearer",
			"expiresIn":    3600,
		})
	})

	c, err := New(srv.URL, WithGatewayToken("gate"))
	require.NoError(t, err)

	session, err := c.SignIn(context.Background(), Identity{Provider: "github", Username: "ada"})
	require.NoError(t, err)
	assert.Equal(t, "access", session.AccessToken)
	assert.Equal(t, int64(3600), session.ExpiresIn)
	assert.Equal(t, "ada", session.User.GithubUsername)
}

func TestListExperimentsEncodesQuery(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		q := r.URL.Query()
		assert.Equal(t, "planned", q.Get("status"))
		assert.Equal(t, "robotics,vision", q.Get("tags"))
		assert.Equal(t, "2", q.Get("page"))
		assert.Empty(t, q.Get("search"))

		writeJSON(w, http.StatusOK, map[string]any{
			"experiments": []map[string]any{{"id": "e1", "name": "Grasping", "learningRate": 0.0003}},
			"pagination":  map[string]any{"page": 2, "limit": 50, "total": 51, "pages": 2},
		})
	})

	c, err := New(srv.URL, WithToken("tok"))
	require.NoError(t, err)

	page, err := c.ListExperiments(context.Background(), ExperimentQuery{
		Status: "planned",
		Tags:   []string{"robotics", "vision"},
		Page:   2,
	})
	require.NoError(t, err)
	require.Len(t, page.Experiments, 1)
	assert.Equal(t, "Grasping", page.Experiments[0].Name)
	require.NotNil(t, page.Experiments[0].LearningRate)
	assert.Equal(t, "0.0003", page.Experiments[0].LearningRate.String())
	assert.Equal(t, 51, page.Pagination.Total)
}

func TestValidationErrorCarriesFields(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "validation failed",
			"details": []map[string]string{
				{"field": "name", "message": "must be between 3 and 100 characters"},
			},
		})
	})

	c, err := New(srv.URL)
	require.NoError(t, err)

	name := "ab"
	_, err = c.CreateExperiment(context.Background(), ExperimentInput{Name: &name})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAPI))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "validation failed", apiErr.Message)
	fields := apiErr.FieldErrors()
	require.Len(t, fields, 1)
	assert.Equal(t, "name", fields[0].Field)
}

func TestForbiddenAdminKey(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "admin access required"})
	})

	c, err := New(srv.URL, WithAdminKey("wrong"))
	require.NoError(t, err)

	_, err = c.ListUsers(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "admin access required", apiErr.Message)
	assert.Nil(t, apiErr.FieldErrors())
}

func TestCheckConflicts(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/experiments/schedule/conflicts", r.URL.Path)
		var check ConflictCheck
		require.NoError(t, json.NewDecoder(r.Body).Decode(&check))
		assert.Equal(t, 50, check.ResourceUtilization)

		writeJSON(w, http.StatusOK, map[string]any{
			"hasConflicts":           true,
			"utilizationOverLimit":   true,
			"totalUtilization":       110,
			"conflictingExperiments": []map[string]any{{"id": "e1", "resourceUtilization": 60}},
			"recommendations": map[string]any{
				"canProceed": false,
				"warning":    "Resource is already allocated to other experiments during this time",
				"suggestion": "Consider reducing resource utilization or choosing a different time slot",
			},
		})
	})

	c, err := New(srv.URL)
	require.NoError(t, err)

	report, err := c.CheckConflicts(context.Background(), ConflictCheck{
		StartDate:           "2024-06-01",
		EndDate:             "2024-06-01",
		AssignedResource:    "gpu-cluster-a",
		ResourceUtilization: 50,
	})
	require.NoError(t, err)
	assert.Equal(t, 110, report.TotalUtilization)
	assert.False(t, report.Recommendations.CanProceed)
	require.NotNil(t, report.Recommendations.Warning)
	require.Len(t, report.ConflictingExperiments, 1)
}

func TestPlainTextErrorBody(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	})

	c, err := New(srv.URL)
	require.NoError(t, err)

	_, err = c.ListResources(context.Background(), true)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "upstream unavailable", apiErr.Message)
}
