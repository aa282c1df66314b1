package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultBaseURL = "http://localhost:4000"
	defaultTimeout = 15 * time.Second

	headerAdminKey     = "X-Admin-Key"
	headerGatewayToken = "X-Auth-Gateway-Token"
)

// ErrAPI wraps every non-2xx response.
var ErrAPI = errors.New("lab api")

// Client provides typed access to the experiment tracker API for interactive tools.
type Client struct {
	http *resty.Client
}

// Option customises client instantiation.
type Option func(*resty.Client)

// WithToken authenticates requests with a session access token.
func WithToken(token string) Option {
	return func(r *resty.Client) {
		if t := strings.TrimSpace(token); t != "" {
			r.SetAuthToken(t)
		}
	}
}

// WithAdminKey authenticates admin requests with the out-of-band admin key.
func WithAdminKey(key string) Option {
	return func(r *resty.Client) {
		if k := strings.TrimSpace(key); k != "" {
			r.SetHeader(headerAdminKey, k)
		}
	}
}

// WithGatewayToken sets the shared secret required by sign-in.
func WithGatewayToken(token string) Option {
	return func(r *resty.Client) {
		if t := strings.TrimSpace(token); t != "" {
			r.SetHeader(headerGatewayToken, t)
		}
	}
}

// WithTimeout overrides the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *resty.Client) {
		if d > 0 {
			r.SetTimeout(d)
		}
	}
}

// WithTransport overrides the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(r *resty.Client) {
		if rt != nil {
			r.SetTransport(rt)
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = defaultBaseURL
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	r := resty.New().
		SetBaseURL(strings.TrimRight(trimmed, "/")).
		SetTimeout(defaultTimeout).
		SetHeader("Accept", "application/json")
	for _, opt := range opts {
		opt(r)
	}
	return &Client{http: r}, nil
}

// FieldError is one entry of a validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
	Details json.RawMessage
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// Unwrap lets callers match ErrAPI.
func (e *APIError) Unwrap() error {
	return ErrAPI
}

// FieldErrors decodes validation details, if the error carries any.
func (e *APIError) FieldErrors() []FieldError {
	var fields []FieldError
	if len(e.Details) == 0 || json.Unmarshal(e.Details, &fields) != nil {
		return nil
	}
	return fields
}

type errorBody struct {
	Error   string          `json:"error"`
	Details json.RawMessage `json:"details"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c == nil {
		return errors.New("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req := c.http.R().SetContext(ctx).SetError(&errorBody{})
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	if len(query) > 0 {
		req.SetQueryParamsFromValues(query)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	if resp.IsError() {
		return toAPIError(resp)
	}
	return nil
}

func toAPIError(resp *resty.Response) error {
	apiErr := &APIError{Status: resp.StatusCode()}
	if body, ok := resp.Error().(*errorBody); ok && body.Error != "" {
		apiErr.Message = strings.TrimSpace(body.Error)
		apiErr.Details = body.Details
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(resp.Body()))
	return apiErr
}

// User reflects allow-list entries.
type User struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	GithubUsername string     `json:"githubUsername"`
	IsAuthorized   bool       `json:"isAuthorized"`
	IsAdmin        bool       `json:"isAdmin"`
	LastSignInAt   *time.Time `json:"lastSignInAt"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Session is the token pair returned by sign-in and refresh.
type Session struct {
	User         User   `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// Identity is an externally authenticated user presented at sign-in.
type Identity struct {
	Provider string `json:"provider"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
}

// SignIn exchanges a gateway-verified identity for a session. The client must be
// built with WithGatewayToken.
func (c *Client) SignIn(ctx context.Context, identity Identity) (Session, error) {
	var session Session
	if err := c.do(ctx, http.MethodPost, "/auth/signin", nil, identity, &session); err != nil {
		return Session{}, err
	}
	return session, nil
}

// Refresh exchanges a refresh token for a new session.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	var session Session
	body := map[string]string{"refreshToken": refreshToken}
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", nil, body, &session); err != nil {
		return Session{}, err
	}
	return session, nil
}

// Me returns the user behind the current token. Only the identifier, username
// and admin flag are populated.
func (c *Client) Me(ctx context.Context) (User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, nil, &user); err != nil {
		return User{}, err
	}
	return user, nil
}

// ListUsers returns the allow-list. Requires an admin session or admin key.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var payload struct {
		Users []User `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/admin/users", nil, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Users, nil
}

// Grant creates or updates an allow-list entry.
type Grant struct {
	GithubUsername string `json:"githubUsername,omitempty"`
	Email          string `json:"email,omitempty"`
	Name           string `json:"name,omitempty"`
	Authorize      *bool  `json:"authorize,omitempty"`
	IsAdmin        *bool  `json:"isAdmin,omitempty"`
}

// SetAuthorization upserts an allow-list entry.
func (c *Client) SetAuthorization(ctx context.Context, grant Grant) (User, error) {
	var payload struct {
		User User `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/admin/users", nil, grant, &payload); err != nil {
		return User{}, err
	}
	return payload.User, nil
}

// Pagination describes a listing window.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// LogEntry is one experiment log line.
type LogEntry struct {
	ID           int64          `json:"id"`
	ExperimentID string         `json:"experimentId"`
	Level        string         `json:"level"`
	Message      string         `json:"message"`
	Metadata     map[string]any `json:"metadata"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Experiment mirrors the API experiment payload.
type Experiment struct {
	ID                  string       `json:"id"`
	Name                string       `json:"name"`
	Description         string       `json:"description"`
	Researcher          string       `json:"researcher"`
	Status              string       `json:"status"`
	Priority            string       `json:"priority"`
	StartDate           *string      `json:"startDate"`
	EndDate             *string      `json:"endDate"`
	AssignedResource    *string      `json:"assignedResource"`
	ResourceUtilization int          `json:"resourceUtilization"`
	TrainingBatchSize   *int         `json:"trainingBatchSize"`
	LearningRate        *json.Number `json:"learningRate"`
	StepsTrainedFor     *int64       `json:"stepsTrainedFor"`
	Tags                []string     `json:"tags"`
	Logs                []LogEntry   `json:"logs"`
	CreatedAt           time.Time    `json:"createdAt"`
	UpdatedAt           time.Time    `json:"updatedAt"`
}

// ExperimentInput creates or partially updates an experiment. Unset fields are
// omitted from the request.
type ExperimentInput struct {
	Name                *string   `json:"name,omitempty"`
	Description         *string   `json:"description,omitempty"`
	Researcher          *string   `json:"researcher,omitempty"`
	Status              *string   `json:"status,omitempty"`
	Priority            *string   `json:"priority,omitempty"`
	StartDate           *string   `json:"startDate,omitempty"`
	EndDate             *string   `json:"endDate,omitempty"`
	AssignedResource    *string   `json:"assignedResource,omitempty"`
	ResourceUtilization *int      `json:"resourceUtilization,omitempty"`
	Tags                *[]string `json:"tags,omitempty"`
}

// ExperimentQuery narrows ListExperiments.
type ExperimentQuery struct {
	Search     string
	Status     string
	Resource   string
	Researcher string
	Tags       []string
	SortBy     string
	SortOrder  string
	Page       int
	Limit      int
}

func (q ExperimentQuery) values() url.Values {
	v := url.Values{}
	set := func(key, value string) {
		if strings.TrimSpace(value) != "" {
			v.Set(key, value)
		}
	}
	set("search", q.Search)
	set("status", q.Status)
	set("resource", q.Resource)
	set("researcher", q.Researcher)
	set("tags", strings.Join(q.Tags, ","))
	set("sortBy", q.SortBy)
	set("sortOrder", q.SortOrder)
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

// ExperimentPage is one page of experiments.
type ExperimentPage struct {
	Experiments []Experiment `json:"experiments"`
	Pagination  Pagination   `json:"pagination"`
}

// ListExperiments returns a page of experiments.
func (c *Client) ListExperiments(ctx context.Context, query ExperimentQuery) (ExperimentPage, error) {
	var page ExperimentPage
	if err := c.do(ctx, http.MethodGet, "/experiments", query.values(), nil, &page); err != nil {
		return ExperimentPage{}, err
	}
	return page, nil
}

// GetExperiment fetches one experiment with its latest logs.
func (c *Client) GetExperiment(ctx context.Context, id string) (Experiment, error) {
	var experiment Experiment
	if err := c.do(ctx, http.MethodGet, "/experiments/"+url.PathEscape(id), nil, nil, &experiment); err != nil {
		return Experiment{}, err
	}
	return experiment, nil
}

// CreateExperiment stores a new experiment.
func (c *Client) CreateExperiment(ctx context.Context, input ExperimentInput) (Experiment, error) {
	var experiment Experiment
	if err := c.do(ctx, http.MethodPost, "/experiments", nil, input, &experiment); err != nil {
		return Experiment{}, err
	}
	return experiment, nil
}

// UpdateExperiment applies a partial update.
func (c *Client) UpdateExperiment(ctx context.Context, id string, input ExperimentInput) (Experiment, error) {
	var experiment Experiment
	if err := c.do(ctx, http.MethodPut, "/experiments/"+url.PathEscape(id), nil, input, &experiment); err != nil {
		return Experiment{}, err
	}
	return experiment, nil
}

// DeleteExperiment removes an experiment and its logs.
func (c *Client) DeleteExperiment(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/experiments/"+url.PathEscape(id), nil, nil, nil)
}

// ConflictCheck describes a candidate booking.
type ConflictCheck struct {
	StartDate           string `json:"startDate"`
	EndDate             string `json:"endDate"`
	AssignedResource    string `json:"assignedResource"`
	ResourceUtilization int    `json:"resourceUtilization"`
	ExcludeExperimentID string `json:"excludeExperimentId,omitempty"`
}

// ConflictReport is the advisory outcome of a conflict check.
type ConflictReport struct {
	HasConflicts           bool         `json:"hasConflicts"`
	UtilizationOverLimit   bool         `json:"utilizationOverLimit"`
	TotalUtilization       int          `json:"totalUtilization"`
	ConflictingExperiments []Experiment `json:"conflictingExperiments"`
	Recommendations        struct {
		CanProceed bool    `json:"canProceed"`
		Warning    *string `json:"warning"`
		Suggestion string  `json:"suggestion"`
	} `json:"recommendations"`
}

// CheckConflicts asks whether a booking would overload a resource.
func (c *Client) CheckConflicts(ctx context.Context, check ConflictCheck) (ConflictReport, error) {
	var report ConflictReport
	if err := c.do(ctx, http.MethodPost, "/experiments/schedule/conflicts", nil, check, &report); err != nil {
		return ConflictReport{}, err
	}
	return report, nil
}

// AppendLog adds a log entry to an experiment.
func (c *Client) AppendLog(ctx context.Context, experimentID, level, message string, metadata map[string]any) (LogEntry, error) {
	body := map[string]any{"message": message}
	if level != "" {
		body["level"] = level
	}
	if metadata != nil {
		body["metadata"] = metadata
	}
	var entry LogEntry
	path := "/experiments/" + url.PathEscape(experimentID) + "/logs"
	if err := c.do(ctx, http.MethodPost, path, nil, body, &entry); err != nil {
		return LogEntry{}, err
	}
	return entry, nil
}

// Resource mirrors the API resource payload, including derived availability
// when requested.
type Resource struct {
	ID                string `json:"id"`
	ResourceID        string `json:"resourceId"`
	Name              string `json:"name"`
	Type              string `json:"type"`
	Location          string `json:"location"`
	TotalUnits        string `json:"totalUnits"`
	Status            string `json:"status"`
	CurrentUsage      int    `json:"currentUsage"`
	CalculatedUsage   int    `json:"calculatedUsage"`
	AvailableCapacity int    `json:"availableCapacity"`
	ActiveExperiments int    `json:"activeExperiments"`
	DerivedStatus     string `json:"derivedStatus"`
	OverAllocated     bool   `json:"overAllocated"`
}

// AvailabilitySummary counts resources by derived state.
type AvailabilitySummary struct {
	Total         int `json:"total"`
	Active        int `json:"active"`
	Idle          int `json:"idle"`
	OverAllocated int `json:"overAllocated"`
}

// ResourceList is one page of resources.
type ResourceList struct {
	Resources  []Resource           `json:"resources"`
	Pagination Pagination           `json:"pagination"`
	Summary    *AvailabilitySummary `json:"summary"`
}

// ListResources returns resources, optionally annotated with availability.
func (c *Client) ListResources(ctx context.Context, withAvailability bool) (ResourceList, error) {
	query := url.Values{}
	if withAvailability {
		query.Set("includeAvailability", "true")
	}
	var list ResourceList
	if err := c.do(ctx, http.MethodGet, "/resources", query, nil, &list); err != nil {
		return ResourceList{}, err
	}
	return list, nil
}
