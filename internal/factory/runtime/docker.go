package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// DockerRuntime implements ContainerRuntime against a real Docker
// Engine API daemon, following the client-construction and
// ensure-network shape of the pack's Docker helper package.
type DockerRuntime struct {
	api *client.Client
}

// NewDockerRuntime negotiates API version against the environment's
// Docker host (DOCKER_HOST, or the default socket).
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("ping docker daemon: %w", err)
	}

	return &DockerRuntime{api: cli}, nil
}

func (d *DockerRuntime) Close() error {
	if d == nil || d.api == nil {
		return nil
	}
	return d.api.Close()
}

func (d *DockerRuntime) BuildImage(ctx context.Context, buildContext []byte, tag string) (string, error) {
	resp, err := d.api.ImageBuild(ctx, bytes.NewReader(buildContext), types.ImageBuildOptions{
		Tags:           []string{tag},
		Remove:         true,
		ForceRemove:    true,
		SuppressOutput: false,
	})
	if err != nil {
		return "", fmt.Errorf("image build: %w", err)
	}
	defer resp.Body.Close()

	// The daemon streams newline-delimited JSON build progress; drain
	// it so the build actually runs to completion, but the Factory
	// doesn't need to surface it.
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return "", fmt.Errorf("image build: %w", err)
	}

	inspect, _, err := d.api.ImageInspectWithRaw(ctx, tag)
	if err != nil {
		return "", fmt.Errorf("inspect built image: %w", err)
	}
	return inspect.ID, nil
}

func (d *DockerRuntime) RunContainer(ctx context.Context, spec RunSpec) (string, error) {
	containerPort := nat.Port(fmt.Sprintf("%d/tcp", spec.ContainerPort))

	var env []string
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	restartPolicy := container.RestartPolicy{Name: container.RestartPolicyMode(spec.RestartPolicy)}

	resp, err := d.api.ContainerCreate(ctx,
		&container.Config{
			Image:        spec.Image,
			Env:          env,
			Labels:       spec.Labels,
			ExposedPorts: nat.PortSet{containerPort: struct{}{}},
		},
		&container.HostConfig{
			PortBindings: nat.PortMap{
				containerPort: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(spec.HostPort)}},
			},
			RestartPolicy:   restartPolicy,
			NetworkMode:     container.NetworkMode(spec.Network),
			PublishAllPorts: false,
			Resources: container.Resources{
				Memory:   spec.MemoryLimit,
				NanoCPUs: int64(spec.CPULimit * 1e9),
			},
		},
		&network.NetworkingConfig{},
		nil,
		spec.Name,
	)
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}

	if err := d.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return resp.ID, fmt.Errorf("container start: %w", err)
	}

	return resp.ID, nil
}

func (d *DockerRuntime) Inspect(ctx context.Context, containerID string) (Status, error) {
	info, err := d.api.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return StatusNotFound, nil
		}
		return "", fmt.Errorf("container inspect: %w", err)
	}
	if info.State == nil {
		return StatusNotFound, nil
	}
	return Status(info.State.Status), nil
}

func (d *DockerRuntime) Stats(ctx context.Context, containerID string) (Stats, error) {
	resp, err := d.api.ContainerStats(ctx, containerID, false)
	if err != nil {
		return Stats{}, fmt.Errorf("container stats: %w", err)
	}
	defer resp.Body.Close()

	var raw types.StatsJSON
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Stats{}, fmt.Errorf("decode stats: %w", err)
	}

	var cpuPercent float64
	cpuDelta := float64(raw.CPUStats.CPUUsage.TotalUsage) - float64(raw.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(raw.CPUStats.SystemUsage) - float64(raw.PreCPUStats.SystemUsage)
	if systemDelta > 0 && cpuDelta > 0 {
		cpuPercent = (cpuDelta / systemDelta) * float64(len(raw.CPUStats.CPUUsage.PercpuUsage)) * 100.0
	}

	memUsage := float64(raw.MemoryStats.Usage)
	memLimit := float64(raw.MemoryStats.Limit)

	var rx, tx float64
	for _, iface := range raw.Networks {
		rx += float64(iface.RxBytes)
		tx += float64(iface.TxBytes)
	}

	const mib = 1024 * 1024
	return Stats{
		CPUPercent:  round2(cpuPercent),
		MemoryMB:    round2(memUsage / mib),
		MemoryLimit: round2(memLimit / mib),
		NetworkRxMB: round2(rx / mib),
		NetworkTxMB: round2(tx / mib),
	}, nil
}

func round2(f float64) float64 {
	return float64(int(f*100)) / 100
}

func (d *DockerRuntime) Logs(ctx context.Context, containerID string, tail int) ([]string, error) {
	tailStr := ""
	if tail > 0 {
		tailStr = strconv.Itoa(tail)
	}
	reader, err := d.api.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tailStr,
		Timestamps: true,
	})
	if err != nil {
		return nil, fmt.Errorf("container logs: %w", err)
	}
	defer reader.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, reader); err != nil {
		if _, copyErr := io.Copy(&buf, reader); copyErr != nil {
			return nil, fmt.Errorf("container logs: %w", err)
		}
	}

	text := strings.TrimSpace(buf.String())
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}

func (d *DockerRuntime) StopContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	seconds := int(timeout.Seconds())
	return d.api.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &seconds})
}

func (d *DockerRuntime) RemoveContainer(ctx context.Context, containerID string) error {
	err := d.api.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil && client.IsErrNotFound(err) {
		return nil
	}
	return err
}

func (d *DockerRuntime) RemoveImage(ctx context.Context, tag string) error {
	_, err := d.api.ImageRemove(ctx, tag, types.ImageRemoveOptions{Force: true})
	if err != nil && client.IsErrNotFound(err) {
		return nil
	}
	return err
}

func (d *DockerRuntime) ListByLabel(ctx context.Context, labels map[string]string) ([]ContainerSummary, error) {
	args := filters.NewArgs()
	for k, v := range labels {
		args.Add("label", k+"="+v)
	}
	list, err := d.api.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, fmt.Errorf("container list: %w", err)
	}

	summaries := make([]ContainerSummary, 0, len(list))
	for _, c := range list {
		hostPorts := map[string]int{}
		for _, p := range c.Ports {
			if p.PublicPort != 0 {
				hostPorts[fmt.Sprintf("%d/%s", p.PrivatePort, p.Type)] = int(p.PublicPort)
			}
		}
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		summaries = append(summaries, ContainerSummary{
			ID:        c.ID,
			Name:      name,
			Status:    Status(c.State),
			Labels:    c.Labels,
			HostPorts: hostPorts,
		})
	}
	return summaries, nil
}

func (d *DockerRuntime) EnsureNetwork(ctx context.Context, name string, labels map[string]string) (string, error) {
	args := filters.NewArgs()
	args.Add("name", name)
	list, err := d.api.NetworkList(ctx, types.NetworkListOptions{Filters: args})
	if err != nil {
		return "", fmt.Errorf("network list: %w", err)
	}
	for _, item := range list {
		if item.Name == name {
			return item.ID, nil
		}
	}
	resp, err := d.api.NetworkCreate(ctx, name, types.NetworkCreate{
		Driver: "bridge",
		Labels: labels,
	})
	if err != nil {
		return "", fmt.Errorf("network create: %w", err)
	}
	return resp.ID, nil
}
