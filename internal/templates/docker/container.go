// Package docker provides the container-backed AgentExecutor template:
// one agent container per session, speaking ACP (Agent Client Protocol)
// JSON-RPC over its stdin/stdout, with stream chunks assembled from
// session/update notifications.
//
// container.go is trimmed from the Docker SDK wrapper this module's
// container lifecycle is grounded on: only the operations a single
// interactive, JSON-RPC-speaking agent process needs (create, attach,
// start, stop, remove) survive here.
package docker

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/agentforge/runtime/internal/common/config"
	"github.com/agentforge/runtime/internal/common/logger"
)

// ContainerSpec describes the container to launch for one agent session.
type ContainerSpec struct {
	Name        string
	Image       string
	Cmd         []string
	Env         []string
	WorkingDir  string
	Mounts      []MountSpec
	NetworkMode string
	Memory      int64
	CPUQuota    int64
	Labels      map[string]string
}

// MountSpec is a host bind mount for a container.
type MountSpec struct {
	Source   string
	Target   string
	ReadOnly bool
}

// containerClient wraps the Docker SDK for the single container per
// session this template needs.
type containerClient struct {
	cli    *client.Client
	logger *logger.Logger
	config config.DockerConfig
}

func newContainerClient(cfg config.DockerConfig, log *logger.Logger) (*containerClient, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	if cfg.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.APIVersion))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker template: create client: %w", err)
	}

	return &containerClient{cli: cli, logger: log, config: cfg}, nil
}

func (c *containerClient) Close() error {
	return c.cli.Close()
}

// createInteractive creates a container with stdin/stdout/stderr
// attached and no TTY, so the agent's JSON-RPC framing is never
// mangled by terminal line discipline.
func (c *containerClient) createInteractive(ctx context.Context, spec ContainerSpec) (string, error) {
	mounts := make([]mount.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	networkMode := spec.NetworkMode
	if networkMode == "" {
		networkMode = c.config.DefaultNetwork
	}

	containerCfg := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Cmd,
		Env:          spec.Env,
		WorkingDir:   spec.WorkingDir,
		Labels:       spec.Labels,
		OpenStdin:    true,
		StdinOnce:    false,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
	}
	hostCfg := &container.HostConfig{
		Mounts:      mounts,
		NetworkMode: container.NetworkMode(networkMode),
		AutoRemove:  false,
		Resources: container.Resources{
			Memory:   spec.Memory,
			CPUQuota: spec.CPUQuota,
		},
	}

	resp, err := c.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("docker template: create container %s: %w", spec.Name, err)
	}
	c.logger.Debug("container created", zap.String("container_id", resp.ID), zap.String("name", spec.Name))
	return resp.ID, nil
}

type attachment struct {
	Stdin  io.WriteCloser
	Stdout io.Reader
}

func (c *containerClient) attach(ctx context.Context, containerID string) (*attachment, error) {
	resp, err := c.cli.ContainerAttach(ctx, containerID, container.AttachOptions{
		Stream: true, Stdin: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("docker template: attach %s: %w", containerID, err)
	}

	stdinReader, stdinWriter := io.Pipe()
	go func() {
		io.Copy(resp.Conn, stdinReader)
	}()

	return &attachment{Stdin: stdinWriter, Stdout: resp.Reader}, nil
}

func (c *containerClient) start(ctx context.Context, containerID string) error {
	if err := c.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("docker template: start %s: %w", containerID, err)
	}
	return nil
}

func (c *containerClient) stop(ctx context.Context, containerID string) error {
	timeout := 5
	if err := c.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("docker template: stop %s: %w", containerID, err)
	}
	return nil
}

func (c *containerClient) remove(ctx context.Context, containerID string) error {
	if err := c.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		return fmt.Errorf("docker template: remove %s: %w", containerID, err)
	}
	return nil
}
