package executor

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const containerWorkdir = "/workspace"

// dockerAPI is the slice of the Docker client this executor uses.
type dockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// DockerOptions tune the Docker-backed executor.
type DockerOptions struct {
	// Host overrides the daemon address; empty uses environment defaults.
	Host string
	// Image is the toolchain image builds run in.
	Image string
	// MemoryLimitMB caps a build container's memory. Zero means unlimited.
	MemoryLimitMB int64
	// CPUQuotaPercent caps CPU as a percentage of one core. Zero means
	// unlimited.
	CPUQuotaPercent int64
}

// DockerExecutor runs build jobs as disposable containers.
type DockerExecutor struct {
	inner dockerAPI
	opts  DockerOptions
}

var _ Executor = (*DockerExecutor)(nil)

// NewDockerExecutor creates a Docker client using environment defaults and
// verifies daemon connectivity.
func NewDockerExecutor(ctx context.Context, opts DockerOptions) (*DockerExecutor, error) {
	clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if opts.Host != "" {
		clientOpts = append(clientOpts, client.WithHost(opts.Host))
	}
	inner, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if _, err := inner.Ping(ctx); err != nil {
		inner.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &DockerExecutor{inner: inner, opts: opts}, nil
}

// Launch creates and starts a build container running the job's install and
// build commands inside the bind-mounted workspace.
func (d *DockerExecutor) Launch(ctx context.Context, spec JobSpec) (Handle, error) {
	if spec.WorkDir == "" {
		return Handle{}, &LaunchError{Err: fmt.Errorf("job workdir cannot be empty")}
	}
	if spec.BuildCommand == "" {
		return Handle{}, &LaunchError{Err: fmt.Errorf("job build command cannot be empty")}
	}

	if _, err := d.inner.Ping(ctx); err != nil {
		return Handle{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	script := spec.BuildCommand
	if spec.InstallCommand != "" {
		script = spec.InstallCommand + " && " + spec.BuildCommand
	}

	cfg := &container.Config{
		Image:      d.opts.Image,
		Cmd:        []string{"sh", "-c", script},
		Env:        envList(spec),
		WorkingDir: containerWorkdir,
		Tty:        true,
	}
	hostCfg := &container.HostConfig{
		Binds:      []string{spec.WorkDir + ":" + containerWorkdir},
		AutoRemove: false,
	}
	if d.opts.MemoryLimitMB > 0 {
		hostCfg.Resources.Memory = d.opts.MemoryLimitMB * 1024 * 1024
	}
	if d.opts.CPUQuotaPercent > 0 {
		hostCfg.Resources.CPUPeriod = 100000
		hostCfg.Resources.CPUQuota = d.opts.CPUQuotaPercent * 1000
	}

	name := "skiff-build-" + spec.DeploymentID
	created, err := d.inner.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return Handle{}, &LaunchError{Err: fmt.Errorf("container create: %w", err)}
	}
	if err := d.inner.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		// The created container would otherwise leak.
		_ = d.inner.ContainerRemove(context.WithoutCancel(ctx), created.ID, container.RemoveOptions{Force: true})
		return Handle{}, &LaunchError{Err: fmt.Errorf("container start: %w", err)}
	}
	return Handle{Ref: created.ID}, nil
}

// AttachOutput follows the container's combined stdout/stderr stream. The
// container runs with a TTY so the stream carries raw text without the
// multiplexed frame headers.
func (d *DockerExecutor) AttachOutput(ctx context.Context, h Handle) (io.ReadCloser, error) {
	reader, err := d.inner.ContainerLogs(ctx, h.Ref, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("attach output: %w", err)
	}
	return reader, nil
}

// Wait blocks until the container stops and returns its exit code.
func (d *DockerExecutor) Wait(ctx context.Context, h Handle) (int64, error) {
	statusCh, errCh := d.inner.ContainerWait(ctx, h.Ref, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		// A container that vanished mid-wait (removed out-of-band) is an
		// infrastructure failure, never a successful build.
		return 0, fmt.Errorf("wait for container: %w", err)
	case status := <-statusCh:
		if status.Error != nil && strings.TrimSpace(status.Error.Message) != "" {
			return status.StatusCode, fmt.Errorf("wait for container: %s", status.Error.Message)
		}
		return status.StatusCode, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Dispose force-removes the container, terminating it if still running. Any
// attached output reader observes EOF. Removing an already-gone container is
// a no-op.
func (d *DockerExecutor) Dispose(ctx context.Context, h Handle) error {
	err := d.inner.ContainerRemove(ctx, h.Ref, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (d *DockerExecutor) Close() error {
	return d.inner.Close()
}

func envList(spec JobSpec) []string {
	env := []string{
		"DEPLOYMENT_ID=" + spec.DeploymentID,
		"NAMESPACE=" + spec.Namespace,
	}
	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+spec.Env[k])
	}
	return env
}
