package capability

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog/log"
)

const (
	sandboxDir       = "/tmp"
	sandboxLabel     = "relay-agents.sandbox"
	removeTimeout    = 10 * time.Second
	maxSandboxOutput = 1 << 20
)

type SandboxConfig struct {
	PythonImage string        `split_words:"true" default:"python:3.12-slim"`
	LintImage   string        `split_words:"true" default:"cytopia/pylint:latest"`
	Timeout     time.Duration `split_words:"true" default:"60s"`
	MemoryMB    int64         `envconfig:"MEMORY_MB" default:"256"`
	Network     bool          `split_words:"true" default:"false"`
}

type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *dockercontainer.Config, hostConfig *dockercontainer.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (dockercontainer.CreateResponse, error)
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options dockercontainer.CopyToContainerOptions) error
	ContainerStart(ctx context.Context, containerID string, options dockercontainer.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition dockercontainer.WaitCondition) (<-chan dockercontainer.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options dockercontainer.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options dockercontainer.RemoveOptions) error
}

// RunSpec describes one throwaway container run. Files land in /tmp before start.
type RunSpec struct {
	Image      string
	Entrypoint []string
	Cmd        []string
	Files      map[string]string
}

type RunOutput struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

func (o RunOutput) String() string {
	return fmt.Sprintf("exit_code: %d\nstdout:\n%s\nstderr:\n%s", o.ExitCode, o.Stdout, o.Stderr)
}

// Sandbox runs untrusted code in short-lived docker containers, one at a time.
type Sandbox struct {
	docker    dockerAPI
	cfg       SandboxConfig
	maxOutput int64
	mu        sync.Mutex
}

func NewSandbox(cfg SandboxConfig) (*Sandbox, error) {
	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return newSandbox(docker, cfg), nil
}

func newSandbox(docker dockerAPI, cfg SandboxConfig) *Sandbox {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if strings.TrimSpace(cfg.PythonImage) == "" {
		cfg.PythonImage = "python:3.12-slim"
	}
	if strings.TrimSpace(cfg.LintImage) == "" {
		cfg.LintImage = "cytopia/pylint:latest"
	}
	return &Sandbox{docker: docker, cfg: cfg, maxOutput: maxSandboxOutput}
}

func (s *Sandbox) Config() SandboxConfig {
	return s.cfg
}

func (s *Sandbox) Run(ctx context.Context, spec RunSpec) (RunOutput, error) {
	if strings.TrimSpace(spec.Image) == "" {
		return RunOutput{}, errors.New("sandbox image is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	containerCfg := &dockercontainer.Config{
		Image:           spec.Image,
		Entrypoint:      spec.Entrypoint,
		Cmd:             spec.Cmd,
		WorkingDir:      sandboxDir,
		NetworkDisabled: !s.cfg.Network,
		Labels:          map[string]string{sandboxLabel: "true"},
	}
	hostCfg := &dockercontainer.HostConfig{}
	if !s.cfg.Network {
		hostCfg.NetworkMode = "none"
	}
	if s.cfg.MemoryMB > 0 {
		hostCfg.Resources.Memory = s.cfg.MemoryMB << 20
	}

	resp, err := s.docker.ContainerCreate(runCtx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		return RunOutput{}, fmt.Errorf("create container image=%s: %w", spec.Image, err)
	}
	defer s.remove(ctx, resp.ID)

	if len(spec.Files) > 0 {
		archive, err := tarFiles(spec.Files)
		if err != nil {
			return RunOutput{}, err
		}
		if err := s.docker.CopyToContainer(runCtx, resp.ID, sandboxDir, archive, dockercontainer.CopyToContainerOptions{}); err != nil {
			return RunOutput{}, fmt.Errorf("copy files to container: %w", err)
		}
	}

	if err := s.docker.ContainerStart(runCtx, resp.ID, dockercontainer.StartOptions{}); err != nil {
		return RunOutput{}, fmt.Errorf("start container: %w", err)
	}

	var out RunOutput
	waitCh, errCh := s.docker.ContainerWait(runCtx, resp.ID, dockercontainer.WaitConditionNotRunning)
	select {
	case res := <-waitCh:
		if res.Error != nil && res.Error.Message != "" {
			return RunOutput{}, fmt.Errorf("wait container: %s", res.Error.Message)
		}
		out.ExitCode = int(res.StatusCode)
	case err := <-errCh:
		if ctx.Err() != nil {
			return RunOutput{}, ctx.Err()
		}
		if !errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return RunOutput{}, fmt.Errorf("wait container: %w", err)
		}
		out.TimedOut = true
		out.ExitCode = -1
	}

	logCtx, logCancel := context.WithTimeout(context.WithoutCancel(ctx), removeTimeout)
	defer logCancel()
	stdout, stderr, err := s.logs(logCtx, resp.ID)
	if err != nil {
		return RunOutput{}, err
	}
	out.Stdout = stdout
	out.Stderr = stderr
	if out.TimedOut {
		if out.Stderr != "" && !strings.HasSuffix(out.Stderr, "\n") {
			out.Stderr += "\n"
		}
		out.Stderr += fmt.Sprintf("timed out after %s", s.cfg.Timeout)
	}
	return out, nil
}

func (s *Sandbox) logs(ctx context.Context, containerID string) (string, string, error) {
	reader, err := s.docker.ContainerLogs(ctx, containerID, dockercontainer.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", fmt.Errorf("read container logs: %w", err)
	}
	defer reader.Close()

	var stdout, stderr bytes.Buffer
	capped := &cappedReader{r: reader, left: s.maxOutput}
	if _, err := stdcopy.StdCopy(&stdout, &stderr, capped); err != nil {
		return "", "", fmt.Errorf("demux container logs: %w", err)
	}
	if capped.truncated {
		if stderr.Len() > 0 && !bytes.HasSuffix(stderr.Bytes(), []byte("\n")) {
			stderr.WriteByte('\n')
		}
		fmt.Fprintf(&stderr, "output truncated after %d bytes", s.maxOutput)
	}
	return stdout.String(), stderr.String(), nil
}

// cappedReader stops after left bytes and notes whether anything was cut off.
type cappedReader struct {
	r         io.Reader
	left      int64
	truncated bool
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.left <= 0 {
		var next [1]byte
		if n, _ := c.r.Read(next[:]); n > 0 {
			c.truncated = true
		}
		return 0, io.EOF
	}
	if int64(len(p)) > c.left {
		p = p[:c.left]
	}
	n, err := c.r.Read(p)
	c.left -= int64(n)
	return n, err
}

func (s *Sandbox) remove(ctx context.Context, containerID string) {
	rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), removeTimeout)
	defer cancel()
	if err := s.docker.ContainerRemove(rmCtx, containerID, dockercontainer.RemoveOptions{Force: true}); err != nil {
		log.Warn().Err(err).Str("container", containerID).Msg("remove sandbox container failed")
	}
}

func tarFiles(files map[string]string) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range files {
		if err := tw.WriteHeader(&tar.Header{
			Name: path.Base(name),
			Mode: 0o644,
			Size: int64(len(content)),
		}); err != nil {
			return nil, fmt.Errorf("write tar header: %w", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			return nil, fmt.Errorf("write tar body: %w", err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	return &buf, nil
}

// sourceFromInput strips a surrounding markdown code fence if the caller left one in.
func sourceFromInput(input string) string {
	trimmed := strings.TrimSpace(input)
	if !strings.HasPrefix(trimmed, "```") {
		return input
	}
	body := strings.TrimPrefix(trimmed, "```")
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		return input
	}
	body = strings.TrimSuffix(strings.TrimRight(body, " \n\t"), "```")
	return strings.TrimRight(body, " \t\n") + "\n"
}
