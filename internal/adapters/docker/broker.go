// Package docker runs each task in its own worker container.
package docker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
	"github.com/manthysbr/pharmaflow/internal/core/ports"
)

const (
	// MessageEnv carries the base64 encoded task message into the container.
	MessageEnv = "PHARMAFLOW_TASK_MESSAGE"

	labelManaged = "pharmaflow.managed"
	labelJobID   = "pharmaflow.job_id"
	labelTaskID  = "pharmaflow.task_id"
	labelWorker  = "pharmaflow.worker"
)

// containerAPI is the part of the Docker client the broker uses.
type containerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
}

type Config struct {
	// Image is the worker image; its entrypoint is the pharmaflow binary.
	Image string
	// Command defaults to ["worker", "exec"].
	Command []string
	// Network is the container network mode. Workers need egress for the
	// callback and external data sources.
	Network string
	// Env is passed to every worker container (API keys, object store settings).
	Env map[string]string
	// MemoryBytes and NanoCPUs cap each container; zero means unlimited.
	MemoryBytes int64
	NanoCPUs    int64
}

// Broker implements ports.Broker on the Docker Engine API. The queue name
// selects nothing but a label; every worker type shares one image.
type Broker struct {
	logger *slog.Logger
	cli    containerAPI
	cfg    Config
}

var _ ports.Broker = (*Broker)(nil)

// NewBroker connects to the engine from the environment (DOCKER_HOST etc).
func NewBroker(logger *slog.Logger, cfg Config) (*Broker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newBroker(logger, cli, cfg), nil
}

func newBroker(logger *slog.Logger, cli containerAPI, cfg Config) *Broker {
	if len(cfg.Command) == 0 {
		cfg.Command = []string{"worker", "exec"}
	}
	if cfg.Network == "" {
		cfg.Network = "bridge"
	}
	return &Broker{logger: logger, cli: cli, cfg: cfg}
}

func containerName(taskID domain.TaskID) string {
	return "pharmaflow-task-" + string(taskID)
}

// Submit creates and starts the task container. The returned handle is the
// container id.
func (b *Broker) Submit(ctx context.Context, queue string, msg domain.TaskMessage) (ports.Handle, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode task message: %w", err)
	}

	env := []string{
		fmt.Sprintf("%s=%s", MessageEnv, base64.StdEncoding.EncodeToString(payload)),
		"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
	}
	for k, v := range b.cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	cfg := &container.Config{
		Image: b.cfg.Image,
		Cmd:   b.cfg.Command,
		Env:   env,
		Labels: map[string]string{
			labelManaged: "true",
			labelJobID:   string(msg.JobID),
			labelTaskID:  string(msg.TaskID),
			labelWorker:  queue,
		},
	}
	hostCfg := &container.HostConfig{
		NetworkMode: container.NetworkMode(b.cfg.Network),
		Resources: container.Resources{
			Memory:   b.cfg.MemoryBytes,
			NanoCPUs: b.cfg.NanoCPUs,
		},
		ReadonlyRootfs: true,
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,nosuid,size=64m",
		},
	}
	name := containerName(msg.TaskID)

	resp, err := b.create(ctx, cfg, hostCfg, name)
	if err != nil {
		return "", err
	}

	if err := b.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = b.cli.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	b.logger.Info("worker container started", "task_id", msg.TaskID, "worker", queue, "container", resp.ID)
	return ports.Handle(resp.ID), nil
}

// create makes the task container, pulling a missing image once. A retried
// task reuses its container name, so an exited container left from the
// previous attempt is removed first.
func (b *Broker) create(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, name string) (container.CreateResponse, error) {
	resp, err := b.cli.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, name)
	if client.IsErrNotFound(err) {
		b.logger.Info("pulling worker image", "image", b.cfg.Image)
		reader, pullErr := b.cli.ImagePull(ctx, b.cfg.Image, image.PullOptions{})
		if pullErr != nil {
			return resp, fmt.Errorf("failed to pull image %s: %w", b.cfg.Image, pullErr)
		}
		_, _ = io.Copy(io.Discard, reader)
		reader.Close()
		resp, err = b.cli.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, name)
	}
	if errdefs.IsConflict(err) {
		b.logger.Info("removing container left by a previous attempt", "container", name)
		if rmErr := b.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); rmErr != nil && !client.IsErrNotFound(rmErr) {
			return resp, fmt.Errorf("failed to remove stale container %s: %w", name, rmErr)
		}
		resp, err = b.cli.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, name)
	}
	if err != nil {
		return resp, fmt.Errorf("failed to create container: %w", err)
	}
	return resp, nil
}

// Reap removes exited worker containers and returns how many were removed.
func (b *Broker) Reap(ctx context.Context) (int, error) {
	args := filters.NewArgs()
	args.Add("label", labelManaged+"=true")
	args.Add("status", "exited")
	args.Add("status", "dead")

	containers, err := b.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return 0, fmt.Errorf("list worker containers: %w", err)
	}

	removed := 0
	for _, c := range containers {
		if err := b.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
			b.logger.Warn("failed to remove worker container", "container", c.ID, "task_id", c.Labels[labelTaskID], "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// DecodeMessage reverses the MessageEnv encoding.
func DecodeMessage(value string) (domain.TaskMessage, error) {
	var msg domain.TaskMessage
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return msg, fmt.Errorf("decode %s: %w", MessageEnv, err)
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, fmt.Errorf("decode %s: %w", MessageEnv, err)
	}
	return msg, nil
}
