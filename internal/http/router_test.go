package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GarthBrooksFan/experiment-tracker/internal/domain"
	"github.com/GarthBrooksFan/experiment-tracker/internal/repository"
	"github.com/GarthBrooksFan/experiment-tracker/internal/service/access"
	"github.com/GarthBrooksFan/experiment-tracker/internal/service/experiment"
	logsvc "github.com/GarthBrooksFan/experiment-tracker/internal/service/logs"
	"github.com/GarthBrooksFan/experiment-tracker/internal/service/researcher"
	"github.com/GarthBrooksFan/experiment-tracker/internal/service/resource"
	"github.com/GarthBrooksFan/experiment-tracker/internal/service/schedule"
	"github.com/GarthBrooksFan/experiment-tracker/internal/service/tag"
	"github.com/GarthBrooksFan/experiment-tracker/internal/ws"
	"github.com/GarthBrooksFan/experiment-tracker/pkg/config"
	"github.com/GarthBrooksFan/experiment-tracker/pkg/crypto"
	jwtpkg "github.com/GarthBrooksFan/experiment-tracker/pkg/jwt"
)

const (
	testSecret       = "test-secret"
	testGatewayToken = "gateway-secret"
	testAdminKey     = "admin-key"
	experimentOneID  = "0f8fad5b-d9cb-469f-a165-70867728950e"
	resourceRowID    = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
)

func TestSignInRequiresGatewayToken(t *testing.T) {
	fx := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/signin", strings.NewReader(`{"provider":"github","username":"ada"}`))
	req.Header.Set(headerGatewayToken, "wrong")
	rr := httptest.NewRecorder()
	fx.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
	if len(fx.users.signIns) != 0 {
		t.Fatalf("sign-in must not be recorded without gateway token")
	}
}

func TestSignInDeniesIdentityOffAllowList(t *testing.T) {
	fx := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/signin", strings.NewReader(`{"provider":"github","username":"mallory"}`))
	req.Header.Set(headerGatewayToken, testGatewayToken)
	rr := httptest.NewRecorder()
	fx.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "accessToken") {
		t.Fatalf("no session may be issued on denial: %s", rr.Body.String())
	}
	if len(fx.users.signIns) != 0 {
		t.Fatalf("denial must not write to the store")
	}
}

func TestSignInIssuesSession(t *testing.T) {
	fx := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/signin", strings.NewReader(`{"provider":"GitHub","username":"Ada","email":"ada@example.com"}`))
	req.Header.Set(headerGatewayToken, testGatewayToken)
	rr := httptest.NewRecorder()
	fx.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var payload struct {
		AccessToken string `json:"accessToken"`
		User        struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if payload.AccessToken == "" || payload.User.ID != "user-ada" {
		t.Fatalf("unexpected session payload: %s", rr.Body.String())
	}

	me := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	me.Header.Set("Authorization", "Bearer "+payload.AccessToken)
	rr = httptest.NewRecorder()
	fx.router.ServeHTTP(rr, me)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected issued token to authenticate, got %d", rr.Code)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	fx := setupRouter(t)

	rr := httptest.NewRecorder()
	fx.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/experiments", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without token, got %d", rr.Code)
	}

	revoked := fx.token(t, "user-revoked")
	req := httptest.NewRequest(http.MethodGet, "/experiments", nil)
	req.Header.Set("Authorization", "Bearer "+revoked)
	rr = httptest.NewRecorder()
	fx.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for revoked user, got %d", rr.Code)
	}
}

func TestCreateExperimentReportsFieldErrors(t *testing.T) {
	fx := setupRouter(t)

	body := `{"name":"ab","researcher":" ","status":"queued","trainingBatchSize":"lots","startDate":"2024-05-10","endDate":"2024-05-01"}`
	rr := fx.do(t, http.MethodPost, "/experiments", body)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	fields := detailFields(t, rr.Body.Bytes())
	for _, want := range []string{"name", "researcher", "status", "trainingBatchSize", "endDate"} {
		if !fields[want] {
			t.Fatalf("expected field error for %s, got %v", want, fields)
		}
	}
	if len(fx.experiments.items) != 0 {
		t.Fatalf("invalid experiment must not be stored")
	}
}

func TestCreateExperimentAcceptsNumbersOrStrings(t *testing.T) {
	fx := setupRouter(t)

	body := `{"name":"Grasping policy","researcher":"Ada","trainingBatchSize":"64","learningRate":0.0003,"stepsTrainedFor":1200,"tags":["robotics","vision","robotics"]}`
	rr := fx.do(t, http.MethodPost, "/experiments", body)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var created map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode experiment: %v", err)
	}
	if created["trainingBatchSize"] != float64(64) {
		t.Fatalf("unexpected batch size %v", created["trainingBatchSize"])
	}
	if created["learningRate"] != 0.0003 {
		t.Fatalf("unexpected learning rate %v", created["learningRate"])
	}
	if created["status"] != "planned" || created["enableMonitoring"] != true {
		t.Fatalf("defaults not applied: %v", created)
	}
	tags, _ := created["tags"].([]any)
	if len(tags) != 3 || tags[2] != "robotics" {
		t.Fatalf("tags not returned as submitted: %v", created["tags"])
	}

	rr = fx.do(t, http.MethodPost, "/experiments", `{"name":"Grasping","researcher":"Ada","trainingBatchSize":true}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for boolean number, got %d", rr.Code)
	}
}

func TestListExperimentsValidatesSort(t *testing.T) {
	fx := setupRouter(t)

	rr := fx.do(t, http.MethodGet, "/experiments?sortBy=password", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if !detailFields(t, rr.Body.Bytes())["sortBy"] {
		t.Fatalf("expected sortBy detail: %s", rr.Body.String())
	}

	rr = fx.do(t, http.MethodGet, "/experiments?sortBy=name&sortOrder=asc&limit=9000&page=2", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	filter := fx.experiments.lastFilter
	if filter.Sort.Key != "name" || filter.Sort.Desc {
		t.Fatalf("unexpected sort %+v", filter.Sort)
	}
	if filter.Page.Limit != defaultMaxPageSize || filter.Page.Number != 2 {
		t.Fatalf("unexpected page %+v", filter.Page)
	}
}

func TestListExperimentsRejectsUnreachablePage(t *testing.T) {
	fx := setupRouter(t)

	rr := fx.do(t, http.MethodGet, "/experiments?page=9223372036854775807", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
	}
	if !detailFields(t, rr.Body.Bytes())["page"] {
		t.Fatalf("expected page detail: %s", rr.Body.String())
	}
}

func TestGetExperimentMissingIsNotFound(t *testing.T) {
	fx := setupRouter(t)

	rr := fx.do(t, http.MethodGet, "/experiments/not-a-uuid", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	rr = fx.do(t, http.MethodDelete, "/experiments/"+experimentOneID, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for unknown id, got %d", rr.Code)
	}
}

func TestConflictCheckSameDayOverbooking(t *testing.T) {
	fx := setupRouter(t)
	day, _ := domain.ParseDate("2024-06-01")
	key := "gpu-cluster-a"
	fx.experiments.overlapping = []domain.Experiment{{
		ID:          experimentOneID,
		Name:        "E1",
		Researcher:  "Ada",
		Status:      domain.ExperimentStatusPlanned,
		Schedule:    domain.DateRange{Start: &day, End: &day},
		ResourceID:  &key,
		Utilization: 60,
	}}

	for _, path := range []string{"/experiments/schedule/conflicts", "/experiments/schedule"} {
		body := `{"startDate":"2024-06-01","endDate":"2024-06-01","assignedResource":"gpu-cluster-a","resourceUtilization":"50"}`
		rr := fx.do(t, http.MethodPost, path, body)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d: %s", path, rr.Code, rr.Body.String())
		}
		var report struct {
			HasConflicts           bool `json:"hasConflicts"`
			TotalUtilization       int  `json:"totalUtilization"`
			UtilizationOverLimit   bool `json:"utilizationOverLimit"`
			ConflictingExperiments []struct {
				ID                  string `json:"id"`
				StartDate           string `json:"startDate"`
				ResourceUtilization int    `json:"resourceUtilization"`
			} `json:"conflictingExperiments"`
			Recommendations struct {
				CanProceed bool    `json:"canProceed"`
				Warning    *string `json:"warning"`
				Suggestion string  `json:"suggestion"`
			} `json:"recommendations"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
			t.Fatalf("decode report: %v", err)
		}
		if !report.HasConflicts || report.TotalUtilization != 110 || !report.UtilizationOverLimit {
			t.Fatalf("unexpected report %+v", report)
		}
		if report.Recommendations.CanProceed || report.Recommendations.Warning == nil || report.Recommendations.Suggestion != schedule.SuggestionReduce {
			t.Fatalf("unexpected recommendations %+v", report.Recommendations)
		}
		if len(report.ConflictingExperiments) != 1 || report.ConflictingExperiments[0].StartDate != "2024-06-01" {
			t.Fatalf("unexpected conflicts %+v", report.ConflictingExperiments)
		}
	}
	if fx.experiments.lastOverlap.ResourceID != key {
		t.Fatalf("overlap query used resource %q", fx.experiments.lastOverlap.ResourceID)
	}
}

func TestConflictCheckRequiresFields(t *testing.T) {
	fx := setupRouter(t)

	rr := fx.do(t, http.MethodPost, "/experiments/schedule/conflicts", `{"startDate":"2024-06-01"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	fields := detailFields(t, rr.Body.Bytes())
	if !fields["endDate"] || !fields["assignedResource"] {
		t.Fatalf("expected missing field details, got %v", fields)
	}

	rr = fx.do(t, http.MethodGet, "/experiments/schedule/conflicts", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rr.Code)
	}
}

func TestDeleteResourceWithActiveExperiments(t *testing.T) {
	fx := setupRouter(t)
	fx.resources.deleteErr = &repository.InUseError{Count: 2}

	rr := fx.do(t, http.MethodDelete, "/resources/"+resourceRowID, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	var payload struct {
		Error   string `json:"error"`
		Details struct {
			ActiveExperimentCount int `json:"activeExperimentCount"`
		} `json:"details"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if payload.Details.ActiveExperimentCount != 2 || payload.Error != resource.ErrResourceInUse.Error() {
		t.Fatalf("unexpected payload %s", rr.Body.String())
	}
}

func TestCreateResourceRejectedByStoreIsBadRequest(t *testing.T) {
	body := `{"resourceId":"gpu-cluster-b","name":"GPU B","type":"compute","totalUnits":"8"}`
	for _, storeErr := range []error{repository.ErrInvalidArgument, repository.ErrInvalidReference} {
		fx := setupRouter(t)
		fx.resources.createErr = fmt.Errorf("create resource: %w", storeErr)

		rr := fx.do(t, http.MethodPost, "/resources", body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%v: expected status 400, got %d: %s", storeErr, rr.Code, rr.Body.String())
		}
	}

	fx := setupRouter(t)
	rr := fx.do(t, http.MethodPost, "/resources", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestListResourcesWithAvailability(t *testing.T) {
	fx := setupRouter(t)
	fx.resources.items = []domain.Resource{
		{ID: resourceRowID, ResourceID: "gpu-cluster-a", Name: "GPU A", Status: domain.ResourceStatusMaintenance},
		{ID: "r2", ResourceID: "robot-arm", Name: "Arm", Status: domain.ResourceStatusActive},
	}
	fx.experiments.active = map[string][]domain.Experiment{
		"gpu-cluster-a": {{ID: "e1", Utilization: 80}, {ID: "e2", Utilization: 40}},
	}

	rr := fx.do(t, http.MethodGet, "/resources?includeAvailability=true", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var payload struct {
		Resources []struct {
			ResourceID      string `json:"resourceId"`
			CalculatedUsage int    `json:"calculatedUsage"`
			DerivedStatus   string `json:"derivedStatus"`
			OverAllocated   bool   `json:"overAllocated"`
		} `json:"resources"`
		Summary availabilitySummaryResponse `json:"summary"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Resources) != 2 {
		t.Fatalf("expected two resources, got %d", len(payload.Resources))
	}
	gpu := payload.Resources[0]
	if gpu.CalculatedUsage != 100 || gpu.DerivedStatus != "active" || !gpu.OverAllocated {
		t.Fatalf("unexpected availability %+v", gpu)
	}
	if payload.Resources[1].DerivedStatus != "idle" {
		t.Fatalf("idle resource should derive idle, got %q", payload.Resources[1].DerivedStatus)
	}
	if payload.Summary != (availabilitySummaryResponse{Total: 2, Active: 1, Idle: 1, OverAllocated: 1}) {
		t.Fatalf("unexpected summary %+v", payload.Summary)
	}
}

func TestAdminUsersRequiresAdmin(t *testing.T) {
	fx := setupRouter(t)

	rr := fx.do(t, http.MethodGet, "/admin/users", "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for non-admin, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	req.Header.Set(headerAdminKey, "guess")
	rr = httptest.NewRecorder()
	fx.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for bad admin key, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/users", strings.NewReader(`{"githubUsername":"grace"}`))
	req.Header.Set(headerAdminKey, testAdminKey)
	rr = httptest.NewRecorder()
	fx.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 with admin key, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(fx.users.grants) != 1 || !fx.users.grants[0].Authorize {
		t.Fatalf("expected authorize to default to true, got %+v", fx.users.grants)
	}

	admin := fx.token(t, "user-admin")
	req = httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	rr = httptest.NewRecorder()
	fx.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 for admin session, got %d", rr.Code)
	}
}

func TestRateLimitedRequest(t *testing.T) {
	fx := setupRouter(t)
	reset := time.Unix(1_950_000_000, 0)
	fx.limiter.allowFn = func(key string, limit int, window time.Duration) rateDecision {
		return rateDecision{allowed: false, count: limit, windowEnd: reset}
	}

	rr := fx.do(t, http.MethodGet, "/experiments", "")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("unexpected remaining header %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Reset"); got != "1950000000" {
		t.Fatalf("unexpected reset header %q", got)
	}
	if got, err := strconv.Atoi(rr.Header().Get("Retry-After")); err != nil || got <= 0 {
		t.Fatalf("unexpected Retry-After header %q", rr.Header().Get("Retry-After"))
	}

	fx.limiter.mu.Lock()
	call := fx.limiter.calls[len(fx.limiter.calls)-1]
	fx.limiter.mu.Unlock()
	if call.key != "read:user:user-ada" || call.limit != policyUserRead.limit {
		t.Fatalf("unexpected limiter call %+v", call)
	}

	fx.limiter.allowFn = nil
	fx.do(t, http.MethodPost, "/experiments", `{}`)
	fx.limiter.mu.Lock()
	call = fx.limiter.calls[len(fx.limiter.calls)-1]
	fx.limiter.mu.Unlock()
	if call.key != "write:user:user-ada" || call.limit != policyUserWrite.limit {
		t.Fatalf("writes should use the write budget, got %+v", call)
	}
}

func TestHealthzReportsDegradedDatabase(t *testing.T) {
	fx := setupRouter(t)
	fx.router.dbHealth = func(context.Context) error { return errors.New("connection refused") }

	rr := httptest.NewRecorder()
	fx.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestAppendLogRejectsNonObjectMetadata(t *testing.T) {
	fx := setupRouter(t)
	fx.experiments.items[experimentOneID] = domain.Experiment{ID: experimentOneID, Name: "E1"}

	rr := fx.do(t, http.MethodPost, "/experiments/"+experimentOneID+"/logs", `{"message":"step","metadata":[1,2]}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if !detailFields(t, rr.Body.Bytes())["metadata"] {
		t.Fatalf("expected metadata detail: %s", rr.Body.String())
	}

	rr = fx.do(t, http.MethodPost, "/experiments/"+experimentOneID+"/logs", `{"message":"step 10","level":"success","metadata":{"loss":0.2}}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestExperimentLogStreamDeliversAppendedEntries(t *testing.T) {
	fx := setupRouter(t)
	fx.experiments.items[experimentOneID] = domain.Experiment{ID: experimentOneID, Name: "E1"}

	req := httptest.NewRequest(http.MethodGet, "/experiments/"+experimentOneID+"/logs/stream", nil)
	req.Header.Set("Authorization", "Bearer "+fx.userToken)
	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	req = req.WithContext(ctx)

	recorder := newStreamRecorder()
	done := make(chan struct{})
	go func() {
		fx.router.ServeHTTP(recorder, req)
		close(done)
	}()

	waitFor(t, 2*time.Second, func() bool {
		return fx.hub.Subscribers(experimentOneID) == 1
	})
	if _, err := fx.logs.Append(context.Background(), experimentOneID, logsvc.AppendInput{Message: "epoch 1 done"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return strings.Contains(recorder.body(), "event: log")
	})

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream handler did not exit after context cancel")
	}

	if ct := recorder.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(recorder.body(), "retry: 3000\n") {
		t.Fatalf("expected reconnect hint: %q", recorder.body())
	}
	if !strings.Contains(recorder.body(), "id: 1\nevent: log\n") {
		t.Fatalf("expected sequenced log event: %q", recorder.body())
	}
	payloads, err := extractSSEPayloads(recorder.body())
	if err != nil {
		t.Fatalf("extract sse payloads: %v", err)
	}
	if len(payloads) != 1 || payloads[0]["message"] != "epoch 1 done" || payloads[0]["level"] != "info" {
		t.Fatalf("unexpected payloads %v", payloads)
	}
	if fx.hub.Subscribers(experimentOneID) != 0 {
		t.Fatalf("stream should detach on exit")
	}
}

func TestExperimentLogStreamUnknownExperiment(t *testing.T) {
	fx := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/experiments/"+experimentOneID+"/logs/stream", nil)
	req.Header.Set("Authorization", "Bearer "+fx.userToken)
	recorder := newStreamRecorder()
	fx.router.ServeHTTP(recorder, req)

	if recorder.statusCode() != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", recorder.statusCode())
	}
	if msg := parseError(t, recorder.body()); msg != "not found" {
		t.Fatalf("unexpected error message %q", msg)
	}
}

type fixture struct {
	router      *Router
	limiter     *rateLimiterStub
	users       *userStore
	experiments *experimentStore
	resources   *resourceStore
	hub         *ws.Hub
	logs        logsvc.Service
	userToken   string
}

func setupRouter(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	hash, err := crypto.HashSecret(testAdminKey)
	if err != nil {
		t.Fatalf("hash admin key: %v", err)
	}
	cfg := config.APIConfig{
		JWTSecret:        testSecret,
		AccessTokenTTL:   time.Hour,
		RefreshTokenTTL:  24 * time.Hour,
		AuthGatewayToken: testGatewayToken,
		AdminKeyHash:     hash,
	}

	users := newUserStore(
		domain.User{ID: "user-ada", GithubUsername: "ada", IsAuthorized: true},
		domain.User{ID: "user-admin", GithubUsername: "root", IsAuthorized: true, IsAdmin: true},
		domain.User{ID: "user-revoked", GithubUsername: "eve", IsAuthorized: false},
	)
	experiments := &experimentStore{items: make(map[string]domain.Experiment)}
	resources := &resourceStore{}
	logRepo := &logStore{}
	hub := ws.NewHub()
	logService := logsvc.New(logRepo, experiments, hub, logger)

	limiter := newRateLimiterStub()
	router := NewRouter(logger, Services{
		Access:      access.New(users, access.NewStoreAllowList(users), logger, cfg),
		Experiments: experiment.New(experiments, resources, logRepo, logger),
		Schedule:    schedule.New(experiments, logger),
		Resources:   resource.New(resources, experiments, logger),
		Researchers: researcher.New(nil, experiments, logger),
		Logs:        logService,
		Tags:        tag.New(nil, logger),
	}, cfg, limiter, nil)
	t.Cleanup(router.Close)

	fx := &fixture{
		router:      router,
		limiter:     limiter,
		users:       users,
		experiments: experiments,
		resources:   resources,
		hub:         hub,
		logs:        logService,
	}
	fx.userToken = fx.token(t, "user-ada")
	return fx
}

func (fx *fixture) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwtpkg.GenerateToken(userID, userID, jwtpkg.KindAccess, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func (fx *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+fx.userToken)
	rr := httptest.NewRecorder()
	fx.router.ServeHTTP(rr, req)
	return rr
}

func detailFields(t *testing.T, body []byte) map[string]bool {
	t.Helper()
	var payload struct {
		Error   string               `json:"error"`
		Details []fieldErrorResponse `json:"details"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode validation payload: %v", err)
	}
	if payload.Error != "validation failed" {
		t.Fatalf("unexpected error %q", payload.Error)
	}
	fields := make(map[string]bool, len(payload.Details))
	for _, d := range payload.Details {
		fields[d.Field] = true
	}
	return fields
}

type rateLimiterStub struct {
	mu      sync.Mutex
	calls   []rateLimitCall
	allowFn func(key string, limit int, window time.Duration) rateDecision
}

type rateLimitCall struct {
	key    string
	limit  int
	window time.Duration
}

func newRateLimiterStub() *rateLimiterStub {
	return &rateLimiterStub{}
}

func (rl *rateLimiterStub) Allow(key string, limit int, window time.Duration) rateDecision {
	rl.mu.Lock()
	rl.calls = append(rl.calls, rateLimitCall{key: key, limit: limit, window: window})
	fn := rl.allowFn
	rl.mu.Unlock()
	if fn != nil {
		return fn(key, limit, window)
	}
	return rateDecision{allowed: true, count: 1, windowEnd: time.Now().Add(window)}
}

func (rl *rateLimiterStub) Close() {}

type userStore struct {
	mu      sync.Mutex
	byID    map[string]domain.User
	signIns []repository.SignIn
	grants  []repository.AuthorizationGrant
}

func newUserStore(users ...domain.User) *userStore {
	s := &userStore{byID: make(map[string]domain.User)}
	for _, u := range users {
		s.byID[u.ID] = u
	}
	return s
}

func (s *userStore) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.byID[id]; ok {
		return &u, nil
	}
	return nil, repository.ErrNotFound
}

func (s *userStore) GetUserByGithubUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.byID {
		if strings.EqualFold(u.GithubUsername, username) {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *userStore) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.User, 0, len(s.byID))
	for _, u := range s.byID {
		out = append(out, u)
	}
	return out, nil
}

func (s *userStore) UpsertUserAuthorization(_ context.Context, grant repository.AuthorizationGrant) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants = append(s.grants, grant)
	u := domain.User{ID: grant.NewID, GithubUsername: grant.GithubUsername, Email: grant.Email, IsAuthorized: grant.Authorize}
	s.byID[u.ID] = u
	return &u, nil
}

func (s *userStore) RecordSignIn(_ context.Context, signIn repository.SignIn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signIns = append(s.signIns, signIn)
	return nil
}

type experimentStore struct {
	repository.ExperimentRepository
	mu          sync.Mutex
	items       map[string]domain.Experiment
	overlapping []domain.Experiment
	active      map[string][]domain.Experiment
	lastFilter  repository.ExperimentFilter
	lastOverlap repository.OverlapQuery
}

func (s *experimentStore) CreateExperiment(_ context.Context, e *domain.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[e.ID] = *e
	return nil
}

func (s *experimentStore) GetExperiment(_ context.Context, id string) (*domain.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.items[id]; ok {
		return &e, nil
	}
	return nil, repository.ErrNotFound
}

func (s *experimentStore) DeleteExperiment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *experimentStore) ListExperiments(_ context.Context, filter repository.ExperimentFilter) ([]domain.Experiment, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFilter = filter
	out := make([]domain.Experiment, 0, len(s.items))
	for _, e := range s.items {
		out = append(out, e)
	}
	return out, len(out), nil
}

func (s *experimentStore) FindOverlappingExperiments(_ context.Context, q repository.OverlapQuery) ([]domain.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastOverlap = q
	return s.overlapping, nil
}

func (s *experimentStore) ListActiveExperimentsByResource(_ context.Context) (map[string][]domain.Experiment, error) {
	return s.active, nil
}

type resourceStore struct {
	repository.ResourceRepository
	items     []domain.Resource
	deleteErr error
	createErr error
}

func (s *resourceStore) CreateResource(_ context.Context, r *domain.Resource) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.items = append(s.items, *r)
	return nil
}

func (s *resourceStore) GetResourceByKey(_ context.Context, key string) (*domain.Resource, error) {
	for _, r := range s.items {
		if r.ResourceID == key {
			return &r, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *resourceStore) ListResources(_ context.Context, _ repository.ResourceFilter) ([]domain.Resource, int, error) {
	return s.items, len(s.items), nil
}

func (s *resourceStore) DeleteResource(_ context.Context, id string) (domain.ResourceDeletion, error) {
	if s.deleteErr != nil {
		return domain.ResourceDeletion{}, s.deleteErr
	}
	return domain.ResourceDeletion{Resource: domain.Resource{ID: id}}, nil
}

type logStore struct {
	repository.LogRepository
	mu      sync.Mutex
	entries []domain.ExperimentLog
}

func (s *logStore) AppendExperimentLog(_ context.Context, entry *domain.ExperimentLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = int64(len(s.entries) + 1)
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *logStore) ListRecentLogs(_ context.Context, _ []string, _ int) (map[string][]domain.ExperimentLog, error) {
	return map[string][]domain.ExperimentLog{}, nil
}

type streamRecorder struct {
	mu     sync.Mutex
	header http.Header
	status int
	buf    bytes.Buffer
	flush  int
}

func newStreamRecorder() *streamRecorder {
	return &streamRecorder{header: make(http.Header)}
}

func (s *streamRecorder) Header() http.Header {
	return s.header
}

func (s *streamRecorder) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.buf.Write(b)
}

func (s *streamRecorder) WriteHeader(status int) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *streamRecorder) Flush() {
	s.mu.Lock()
	s.flush++
	s.mu.Unlock()
}

func (s *streamRecorder) body() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func (s *streamRecorder) statusCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func extractSSEPayloads(body string) ([]map[string]any, error) {
	lines := strings.Split(body, "\n")
	var payloads []map[string]any
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "data: ") {
			raw := strings.TrimPrefix(line, "data: ")
			var payload map[string]any
			if err := json.Unmarshal([]byte(raw), &payload); err != nil {
				return nil, err
			}
			payloads = append(payloads, payload)
		}
	}
	return payloads, nil
}

func parseError(t *testing.T, body string) string {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	v, _ := payload["error"].(string)
	return v
}
