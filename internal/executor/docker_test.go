package executor

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

type fakeDockerAPI struct {
	pingErr   error
	createErr error
	startErr  error
	removeErr error
	waitState container.WaitResponse
	waitErr   error

	createdCfg  *container.Config
	createdHost *container.HostConfig
	createdName string
	removed     int
}

func (f *fakeDockerAPI) Ping(ctx context.Context) (types.Ping, error) {
	return types.Ping{}, f.pingErr
}

func (f *fakeDockerAPI) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	f.createdCfg = config
	f.createdHost = hostConfig
	f.createdName = containerName
	return container.CreateResponse{ID: "cid-1"}, nil
}

func (f *fakeDockerAPI) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	return f.startErr
}

func (f *fakeDockerAPI) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (f *fakeDockerAPI) ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)
	if f.waitErr != nil {
		errCh <- f.waitErr
	} else {
		statusCh <- f.waitState
	}
	return statusCh, errCh
}

func (f *fakeDockerAPI) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.removed++
	return f.removeErr
}

func (f *fakeDockerAPI) Close() error { return nil }

func newFakeExecutor(api *fakeDockerAPI) *DockerExecutor {
	return &DockerExecutor{inner: api, opts: DockerOptions{Image: "node:20-alpine", MemoryLimitMB: 1024, CPUQuotaPercent: 100}}
}

func validSpec() JobSpec {
	return JobSpec{
		DeploymentID:   "dep-1",
		Namespace:      "app-ab12cd",
		WorkDir:        "/tmp/work/dep-1",
		InstallCommand: "npm install",
		BuildCommand:   "npm run build",
		Env:            map[string]string{"CI": "true", "A": "1"},
	}
}

func TestLaunchContainerShape(t *testing.T) {
	api := &fakeDockerAPI{}
	exec := newFakeExecutor(api)

	handle, err := exec.Launch(context.Background(), validSpec())
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if handle.Ref != "cid-1" {
		t.Fatalf("unexpected ref %q", handle.Ref)
	}
	if api.createdName != "skiff-build-dep-1" {
		t.Fatalf("unexpected container name %q", api.createdName)
	}

	cfg := api.createdCfg
	if !cfg.Tty {
		t.Fatal("build container must run with a TTY for a combined raw stream")
	}
	wantCmd := []string{"sh", "-c", "npm install && npm run build"}
	if len(cfg.Cmd) != 3 || cfg.Cmd[0] != wantCmd[0] || cfg.Cmd[1] != wantCmd[1] || cfg.Cmd[2] != wantCmd[2] {
		t.Fatalf("unexpected cmd %v", cfg.Cmd)
	}
	if cfg.WorkingDir != containerWorkdir {
		t.Fatalf("unexpected workdir %q", cfg.WorkingDir)
	}

	// Extra env is appended in sorted key order after the job identifiers.
	wantEnv := []string{"DEPLOYMENT_ID=dep-1", "NAMESPACE=app-ab12cd", "A=1", "CI=true"}
	if len(cfg.Env) != len(wantEnv) {
		t.Fatalf("unexpected env %v", cfg.Env)
	}
	for i := range wantEnv {
		if cfg.Env[i] != wantEnv[i] {
			t.Fatalf("env[%d] = %q, want %q", i, cfg.Env[i], wantEnv[i])
		}
	}

	host := api.createdHost
	if len(host.Binds) != 1 || host.Binds[0] != "/tmp/work/dep-1:"+containerWorkdir {
		t.Fatalf("unexpected binds %v", host.Binds)
	}
	if host.Resources.Memory != 1024*1024*1024 {
		t.Fatalf("unexpected memory limit %d", host.Resources.Memory)
	}
}

func TestLaunchValidation(t *testing.T) {
	exec := newFakeExecutor(&fakeDockerAPI{})

	spec := validSpec()
	spec.WorkDir = ""
	var launchErr *LaunchError
	if _, err := exec.Launch(context.Background(), spec); !errors.As(err, &launchErr) {
		t.Fatalf("empty workdir: expected LaunchError, got %v", err)
	}

	spec = validSpec()
	spec.BuildCommand = ""
	if _, err := exec.Launch(context.Background(), spec); !errors.As(err, &launchErr) {
		t.Fatalf("empty build command: expected LaunchError, got %v", err)
	}
}

func TestLaunchUnavailableBackend(t *testing.T) {
	api := &fakeDockerAPI{pingErr: errors.New("daemon down")}
	exec := newFakeExecutor(api)

	_, err := exec.Launch(context.Background(), validSpec())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestLaunchRemovesContainerWhenStartFails(t *testing.T) {
	api := &fakeDockerAPI{startErr: errors.New("start refused")}
	exec := newFakeExecutor(api)

	var launchErr *LaunchError
	if _, err := exec.Launch(context.Background(), validSpec()); !errors.As(err, &launchErr) {
		t.Fatalf("expected LaunchError, got %v", err)
	}
	if api.removed != 1 {
		t.Fatalf("created container must be removed after failed start, removed %d times", api.removed)
	}
}

func TestWaitReturnsExitCode(t *testing.T) {
	api := &fakeDockerAPI{waitState: container.WaitResponse{StatusCode: 2}}
	exec := newFakeExecutor(api)

	code, err := exec.Wait(context.Background(), Handle{Ref: "cid-1"})
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
}

func TestWaitTreatsMissingContainerAsError(t *testing.T) {
	// A container removed out-of-band must never read as a clean exit.
	api := &fakeDockerAPI{waitErr: errdefs.NotFound(errors.New("no such container"))}
	exec := newFakeExecutor(api)

	code, err := exec.Wait(context.Background(), Handle{Ref: "cid-1"})
	if err == nil {
		t.Fatalf("expected error, got exit code %d", code)
	}
}

func TestDisposeToleratesMissingContainer(t *testing.T) {
	api := &fakeDockerAPI{removeErr: errdefs.NotFound(errors.New("no such container"))}
	exec := newFakeExecutor(api)

	if err := exec.Dispose(context.Background(), Handle{Ref: "cid-1"}); err != nil {
		t.Fatalf("disposing an already-removed container must be a no-op, got %v", err)
	}
}
