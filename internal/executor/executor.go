// Package executor runs builds inside isolated, disposable execution
// contexts. The backend is pluggable; the Docker implementation lives in
// docker.go.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrUnavailable indicates the execution backend cannot be reached at all,
// as opposed to a job-specific launch failure.
var ErrUnavailable = errors.New("executor: backend unavailable")

// LaunchError wraps the backend diagnostic when a job could not be started.
// It indicates infrastructure trouble, not a problem in the user's project.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("executor: launch failed: %v", e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// JobSpec is the strongly typed description of one build. Translation into
// the backend's parameter-passing mechanism (container env, command line)
// happens only at the executor boundary.
type JobSpec struct {
	DeploymentID   string
	Namespace      string
	WorkDir        string
	InstallCommand string
	BuildCommand   string
	Env            map[string]string
}

// Handle references a launched job for inspection, cancellation and
// disposal. The Ref string is persisted on the deployment record.
type Handle struct {
	Ref string
}

// Executor launches isolated build jobs and manages their lifecycle.
// Dispose must be called exactly once per launched job, on every exit path;
// a leaked job is a resource leak and a reportable condition.
type Executor interface {
	Launch(ctx context.Context, spec JobSpec) (Handle, error)
	// AttachOutput returns the job's combined stdout/stderr stream. The
	// reader observes EOF when the job finishes or is disposed.
	AttachOutput(ctx context.Context, h Handle) (io.ReadCloser, error)
	// Wait blocks until the job reaches a terminal state and returns its
	// exit code. Callers must not hold shared locks across this wait.
	Wait(ctx context.Context, h Handle) (int64, error)
	// Dispose terminates a still-running job and reclaims its execution
	// context. Disposing an already-removed job is not an error.
	Dispose(ctx context.Context, h Handle) error
}
