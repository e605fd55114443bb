package deploy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/skiffhq/skiff/internal/domain"
	"github.com/skiffhq/skiff/internal/executor"
	"github.com/skiffhq/skiff/internal/git"
	"github.com/skiffhq/skiff/internal/namespace"
	"github.com/skiffhq/skiff/internal/publisher"
	"github.com/skiffhq/skiff/internal/repository"
	"github.com/skiffhq/skiff/internal/service/logs"
	"github.com/skiffhq/skiff/internal/workspace"
	"github.com/skiffhq/skiff/pkg/config"
)

const maxScanTokenSize = 256 * 1024

// ValidationError reports malformed deploy input. It is surfaced to the
// caller immediately and never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// TriggerRequest carries the parameters of a deploy request.
type TriggerRequest struct {
	ProjectName    string `json:"project_name"`
	RepoURL        string `json:"repo_url"`
	Branch         string `json:"branch"`
	InstallCommand string `json:"install_command"`
	BuildCommand   string `json:"build_command"`
}

// Service orchestrates the deployment pipeline: record lifecycle, build
// execution, log fan-out and artifact publication.
type Service struct {
	deployments repository.DeploymentRepository
	exec        executor.Executor
	workspaces  *workspace.Manager
	publisher   *publisher.Publisher
	logs        logs.Service
	logger      *slog.Logger
	cfg         config.APIConfig

	// clone fetches the repository into the workspace. Swappable in tests.
	clone func(ctx context.Context, repoURL, branch, dest string) error

	wg sync.WaitGroup
}

// New returns a deployment service.
func New(deployments repository.DeploymentRepository, exec executor.Executor, workspaces *workspace.Manager, pub *publisher.Publisher, logSvc logs.Service, logger *slog.Logger, cfg config.APIConfig) *Service {
	return &Service{
		deployments: deployments,
		exec:        exec,
		workspaces:  workspaces,
		publisher:   pub,
		logs:        logSvc,
		logger:      logger,
		cfg:         cfg,
		clone:       git.Clone,
	}
}

// Trigger validates the request, creates the deployment record in pending
// state and starts the build asynchronously. The deployment ID is returned
// immediately; progress is observable via the status query and the live log
// channel.
func (s *Service) Trigger(ctx context.Context, userID string, req TriggerRequest) (*domain.Deployment, error) {
	if strings.TrimSpace(req.ProjectName) == "" {
		return nil, &ValidationError{Msg: "project_name is required"}
	}
	repoURL := strings.TrimSpace(req.RepoURL)
	if repoURL == "" {
		return nil, &ValidationError{Msg: "repo_url is required"}
	}
	if parsed, err := url.Parse(repoURL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, &ValidationError{Msg: "repo_url must be an absolute URL"}
	}

	// The routing key is assigned exactly once, before the record can enter
	// building, and is never reused even after failure.
	ns, err := namespace.Generate(req.ProjectName)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	deployment := &domain.Deployment{
		ID:          uuid.NewString(),
		UserID:      userID,
		ProjectName: strings.TrimSpace(req.ProjectName),
		RepoURL:     repoURL,
		Branch:      strings.TrimSpace(req.Branch),
		Namespace:   ns,
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.deployments.CreateDeployment(ctx, deployment); err != nil {
		return nil, err
	}
	s.logger.Info("deployment created", "deployment_id", deployment.ID, "namespace", ns, "repo", repoURL)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(*deployment, req)
	}()
	return deployment, nil
}

// Get returns a deployment scoped to its owner.
func (s *Service) Get(ctx context.Context, userID, id string) (*domain.Deployment, error) {
	d, err := s.deployments.GetDeploymentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return d, nil
}

// List returns recent deployments of a user.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]domain.Deployment, error) {
	return s.deployments.ListDeploymentsByUser(ctx, userID, limit)
}

// Wait blocks until every in-flight build has finished. Used on shutdown.
func (s *Service) Wait() {
	s.wg.Wait()
}

// run drives one build from clone to terminal status. Every error path ends
// in a terminal transition with a diagnostic appended to the record's log,
// so a record can never be left stuck in pending or building.
func (s *Service) run(d domain.Deployment, req TriggerRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.BuildTimeout)
	defer cancel()

	// The fan-out group lives only as long as the build.
	defer s.logs.Close(d.ID)

	started := time.Now()

	dir, err := s.workspaces.Prepare(d.ID)
	if err != nil {
		s.fail(d.ID, fmt.Sprintf("infrastructure error: prepare workspace: %v", err))
		return
	}
	defer func() {
		if err := s.workspaces.Cleanup(dir); err != nil {
			s.logger.Warn("workspace cleanup failed", "deployment_id", d.ID, "error", err)
		}
	}()

	s.appendLog(d.ID, "=== clone")
	cloneCtx, cloneCancel := context.WithTimeout(ctx, s.cfg.GitTimeout)
	err = s.clone(cloneCtx, d.RepoURL, d.Branch, dir)
	cloneCancel()
	if err != nil {
		s.fail(d.ID, fmt.Sprintf("clone failed: %v", err))
		return
	}

	installCmd := req.InstallCommand
	if installCmd == "" {
		installCmd = s.cfg.InstallCommand
	}
	buildCmd := req.BuildCommand
	if buildCmd == "" {
		buildCmd = s.cfg.BuildCommand
	}

	spec := executor.JobSpec{
		DeploymentID:   d.ID,
		Namespace:      d.Namespace,
		WorkDir:        dir,
		InstallCommand: installCmd,
		BuildCommand:   buildCmd,
		Env: map[string]string{
			"CI": "true",
		},
	}

	s.appendLog(d.ID, "=== build")
	handle, err := s.exec.Launch(ctx, spec)
	if err != nil {
		// A job that never started indicates infrastructure trouble, not a
		// problem in the user's project; the diagnostic says so.
		switch {
		case errors.Is(err, executor.ErrUnavailable):
			s.fail(d.ID, fmt.Sprintf("infrastructure error: build backend unavailable: %v", err))
		default:
			s.fail(d.ID, fmt.Sprintf("infrastructure error: build job launch failed: %v", err))
		}
		recordBuildResult("launch_failed", time.Since(started))
		return
	}

	// The executor accepted the job: the record may now enter building.
	if err := s.deployments.SetExecutorRef(ctx, d.ID, handle.Ref); err != nil {
		s.logger.Warn("store executor ref failed", "deployment_id", d.ID, "error", err)
	}
	if err := s.transition(ctx, d.ID, domain.StatusBuilding, ""); err != nil {
		s.logger.Error("transition to building failed", "deployment_id", d.ID, "error", err)
	}

	// Dispose must run exactly once per job, on every exit path. A failed
	// dispose leaks the execution context and is a reportable condition.
	var disposeOnce sync.Once
	dispose := func() {
		disposeOnce.Do(func() {
			disposeCtx, disposeCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer disposeCancel()
			if err := s.exec.Dispose(disposeCtx, executor.Handle{Ref: handle.Ref}); err != nil {
				recordJobLeak()
				s.logger.Error("build job not disposed, execution context leaked", "deployment_id", d.ID, "ref", handle.Ref, "error", err)
			}
		})
	}
	defer dispose()

	tail := s.streamOutput(ctx, d.ID, handle)

	code, err := s.exec.Wait(ctx, handle)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			dispose()
			s.fail(d.ID, fmt.Sprintf("build timed out after %s", s.cfg.BuildTimeout))
			recordBuildResult("timeout", time.Since(started))
			return
		}
		s.fail(d.ID, fmt.Sprintf("infrastructure error: wait for build: %v", err))
		recordBuildResult("wait_failed", time.Since(started))
		return
	}
	if code != 0 {
		detail := fmt.Sprintf("build exited with code %d", code)
		if t := tail.String(s.cfg.LogTailBytes); t != "" {
			detail += "\n" + t
		}
		s.fail(d.ID, detail)
		recordBuildResult("build_failed", time.Since(started))
		return
	}

	s.appendLog(d.ID, "=== publish")
	outputRoot := filepath.Join(dir, s.cfg.OutputDir)
	report, err := s.publisher.Publish(ctx, outputRoot, d.Namespace)
	if err != nil {
		// The build succeeded but the artifacts are not reachable, so the
		// deployment cannot be marked deployed.
		s.fail(d.ID, fmt.Sprintf("publication failed: %v", err))
		recordBuildResult("publish_failed", time.Since(started))
		return
	}

	publicURL := fmt.Sprintf("https://%s.%s", d.Namespace, s.cfg.ServingDomain)
	if err := s.deployments.SetDeploymentURL(context.WithoutCancel(ctx), d.ID, publicURL); err != nil {
		s.logger.Warn("store public url failed", "deployment_id", d.ID, "error", err)
	}
	detail := fmt.Sprintf("published %d files (%d bytes) to %s\n", report.Files, report.Bytes, publicURL)
	if err := s.transition(context.WithoutCancel(ctx), d.ID, domain.StatusDeployed, detail); err != nil {
		s.logger.Error("transition to deployed failed", "deployment_id", d.ID, "error", err)
		return
	}
	recordBuildResult("deployed", time.Since(started))
	s.logger.Info("deployment complete", "deployment_id", d.ID, "url", publicURL, "files", report.Files)
}

// streamOutput consumes the job's combined output line by line, feeding the
// log service and keeping a bounded tail for diagnostics. It returns once
// the stream terminates.
func (s *Service) streamOutput(ctx context.Context, deploymentID string, handle executor.Handle) *tailBuffer {
	tail := newTailBuffer(s.cfg.LogTailBytes)

	out, err := s.exec.AttachOutput(ctx, handle)
	if err != nil {
		s.logger.Warn("attach build output failed", "deployment_id", deploymentID, "error", err)
		s.appendLog(deploymentID, fmt.Sprintf("warning: build output unavailable: %v", err))
		return tail
	}
	defer out.Close()

	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, 64*1024), maxScanTokenSize)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		tail.Add(line)
		s.appendLog(deploymentID, line)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("build output stream ended with error", "deployment_id", deploymentID, "error", err)
	}
	return tail
}

// fail moves a record to the failed terminal state with a human-readable
// diagnostic. It works from both pending and building.
func (s *Service) fail(deploymentID, detail string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.appendLog(deploymentID, detail)
	if err := s.transition(ctx, deploymentID, domain.StatusFailed, ""); err != nil {
		s.logger.Error("transition to failed errored", "deployment_id", deploymentID, "error", err)
	}
	s.logger.Info("deployment failed", "deployment_id", deploymentID, "detail", firstLine(detail))
}

func (s *Service) transition(ctx context.Context, id, status, detail string) error {
	return s.deployments.TransitionDeployment(ctx, id, status, detail)
}

// appendLog persists a line and fans it out; errors are logged, not fatal to
// the build.
func (s *Service) appendLog(deploymentID, line string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.logs.Append(ctx, deploymentID, line); err != nil {
		s.logger.Warn("append build log failed", "deployment_id", deploymentID, "error", err)
	}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
