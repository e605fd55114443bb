package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/golang-jwt/jwt/v5"

	"github.com/skiffhq/skiff/internal/domain"
	"github.com/skiffhq/skiff/internal/executor"
	"github.com/skiffhq/skiff/internal/publisher"
	"github.com/skiffhq/skiff/internal/repository"
	"github.com/skiffhq/skiff/internal/service/deploy"
	"github.com/skiffhq/skiff/internal/service/logs"
	"github.com/skiffhq/skiff/internal/store"
	"github.com/skiffhq/skiff/internal/workspace"
	"github.com/skiffhq/skiff/internal/ws"
	"github.com/skiffhq/skiff/pkg/config"
)

const testJWTSecret = "test-secret"

type stubRepo struct {
	mu      sync.Mutex
	records map[string]*domain.Deployment
}

func newStubRepo() *stubRepo {
	return &stubRepo{records: make(map[string]*domain.Deployment)}
}

func (r *stubRepo) CreateDeployment(ctx context.Context, d *domain.Deployment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *d
	r.records[d.ID] = &clone
	return nil
}

func (r *stubRepo) TransitionDeployment(ctx context.Context, id, newStatus, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.records[id]
	if !ok {
		return repository.ErrNotFound
	}
	if d.Status == newStatus {
		return nil
	}
	if !domain.CanTransition(d.Status, newStatus) {
		return repository.ErrInvalidTransition
	}
	d.Status = newStatus
	if detail != "" {
		d.Log += detail
	}
	return nil
}

func (r *stubRepo) SetDeploymentURL(ctx context.Context, id, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.records[id]; ok {
		d.URL = url
	}
	return nil
}

func (r *stubRepo) SetExecutorRef(ctx context.Context, id, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.records[id]; ok {
		d.ExecutorRef = ref
	}
	return nil
}

func (r *stubRepo) AppendDeploymentLog(ctx context.Context, id, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.records[id]; ok {
		d.Log += text
	}
	return nil
}

func (r *stubRepo) GetDeploymentByID(ctx context.Context, id string) (*domain.Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *d
	return &clone, nil
}

func (r *stubRepo) ListDeploymentsByUser(ctx context.Context, userID string, limit int) ([]domain.Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Deployment
	for _, d := range r.records {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	return out, nil
}

type stubExecutor struct{}

func (stubExecutor) Launch(ctx context.Context, spec executor.JobSpec) (executor.Handle, error) {
	return executor.Handle{Ref: "job"}, nil
}

func (stubExecutor) AttachOutput(ctx context.Context, h executor.Handle) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (stubExecutor) Wait(ctx context.Context, h executor.Handle) (int64, error) { return 1, nil }

func (stubExecutor) Dispose(ctx context.Context, h executor.Handle) error { return nil }

func newTestRouter(t *testing.T, dbHealth func(context.Context) error) (*Router, *stubRepo) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := newStubRepo()
	hub := ws.NewHub()
	t.Cleanup(hub.Shutdown)

	workspaces, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace manager: %v", err)
	}

	cfg := config.APIConfig{
		ServingDomain:  "skiff.app",
		InstallCommand: "npm install",
		BuildCommand:   "npm run build",
		OutputDir:      "dist",
		GitTimeout:     2 * time.Second,
		BuildTimeout:   10 * time.Second,
		LogTailBytes:   4096,
	}
	logSvc := logs.New(repo, hub, logger)
	deploySvc := deploy.New(repo, stubExecutor{}, workspaces, publisher.New(store.NewMemoryStore(), logger), logSvc, logger, cfg)

	router := NewRouter(logger, deploySvc, logSvc, NewMemoryRateLimiter(), testJWTSecret, time.Second, dbHealth)
	t.Cleanup(router.Close)
	return router, repo
}

func signedToken(t *testing.T, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func authedRequest(t *testing.T, method, target, body string) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, testJWTSecret, "user-1"))
	return req
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t, func(context.Context) error { return nil })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHealthzReportsDatabaseOutage(t *testing.T) {
	router, _ := newTestRouter(t, func(context.Context) error { return errors.New("connection refused") })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestAuthRejected(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"malformed header", "Token abc"},
		{"garbage token", "Bearer not-a-jwt"},
		{"wrong secret", "Bearer " + signedToken(t, "other-secret", "user-1")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/deployments", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestDeployTriggerAndPoll(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	body := `{"project_name":"my-app","repo_url":"https://127.0.0.1:1/repo.git","branch":"main"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(t, http.MethodPost, "/deploy", body))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var created struct {
		DeploymentID string `json:"deployment_id"`
		Namespace    string `json:"namespace"`
		Status       string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode trigger response: %v", err)
	}
	if created.DeploymentID == "" || created.Namespace == "" {
		t.Fatalf("incomplete trigger response: %+v", created)
	}
	if created.Status != domain.StatusPending {
		t.Fatalf("new deployment must report pending, got %s", created.Status)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/deploy/"+created.DeploymentID, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("poll: expected 200, got %d", rec.Code)
	}
	var polled map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &polled); err != nil {
		t.Fatalf("decode poll response: %v", err)
	}
	if polled["id"] != created.DeploymentID {
		t.Fatalf("poll returned wrong record: %v", polled["id"])
	}
	if _, ok := polled["log"]; !ok {
		t.Fatal("poll response must include the log text")
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/deployments", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	var listed struct {
		Deployments []map[string]any `json:"deployments"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(listed.Deployments) != 1 {
		t.Fatalf("expected 1 deployment, got %d", len(listed.Deployments))
	}
}

func TestDeployBadRequests(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(t, http.MethodPost, "/deploy", `{"repo_url":"https://github.com/acme/app"}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing project name: expected 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(t, http.MethodPost, "/deploy", `not json`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: expected 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/deploy", ""))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("wrong method: expected 405, got %d", rec.Code)
	}
}

func TestDeploymentLookupScopes(t *testing.T) {
	router, repo := newTestRouter(t, nil)

	foreign := &domain.Deployment{
		ID:        "dep-foreign",
		UserID:    "someone-else",
		Namespace: "other-aaaa11",
		Status:    domain.StatusDeployed,
	}
	if err := repo.CreateDeployment(context.Background(), foreign); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/deploy/dep-foreign", ""))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign record: expected 404, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(t, http.MethodGet, "/deploy/absent-id", ""))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("absent record: expected 404, got %d", rec.Code)
	}
}

func TestTriggerRateLimit(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	// Exhaust the trigger budget with rejected payloads so no builds start.
	var last *httptest.ResponseRecorder
	for i := 0; i < rateLimitTrigger+1; i++ {
		last = httptest.NewRecorder()
		router.ServeHTTP(last, authedRequest(t, http.MethodPost, "/deploy", `not json`))
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after exhausting the window, got %d", last.Code)
	}
	if last.Header().Get("X-RateLimit-Limit") == "" {
		t.Fatal("429 response must carry rate limit headers")
	}
}
