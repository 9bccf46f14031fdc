// Package runtime defines the ContainerRuntime contract the
// Supervisor and Image Builder depend on, keeping the Docker SDK
// object graph behind a narrow interface so the core logic is
// testable against a fake.
package runtime

import (
	"context"
	"time"
)

// Status is the runtime-observed container lifecycle state.
type Status string

const (
	StatusRunning    Status = "running"
	StatusExited     Status = "exited"
	StatusCreated    Status = "created"
	StatusRestarting Status = "restarting"
	StatusPaused     Status = "paused"
	StatusDead       Status = "dead"
	StatusNotFound   Status = "not_found"
)

// RunSpec describes everything needed to launch a game-instance
// container.
type RunSpec struct {
	Name          string
	Image         string
	ContainerPort int
	HostPort      int
	Env           map[string]string
	Labels        map[string]string
	Network       string
	RestartPolicy string
	MemoryLimit   int64   // bytes; 0 means unlimited
	CPULimit      float64 // whole CPUs; 0 means unlimited
}

// Stats is a resource snapshot as observed for one container.
type Stats struct {
	CPUPercent  float64
	MemoryMB    float64
	MemoryLimit float64
	NetworkRxMB float64
	NetworkTxMB float64
}

// ContainerSummary is a subset of a listed container's attributes.
type ContainerSummary struct {
	ID     string
	Name   string
	Status Status
	Labels map[string]string
	// HostPorts maps container port (e.g. "8080/tcp") to bound host port.
	HostPorts map[string]int
}

// ContainerRuntime is the full contract the Factory needs from the
// underlying engine: build, run, inspect, stats, logs, stop, remove,
// remove image, list by label, ensure network.
type ContainerRuntime interface {
	// BuildImage builds an image from an in-memory tar build context
	// and returns the resulting image ID.
	BuildImage(ctx context.Context, buildContext []byte, tag string) (imageID string, err error)

	// RunContainer creates and starts a container, returning its ID.
	RunContainer(ctx context.Context, spec RunSpec) (containerID string, err error)

	// Inspect returns the current status of a container. A container
	// that no longer exists yields StatusNotFound, not an error.
	Inspect(ctx context.Context, containerID string) (Status, error)

	// Stats returns a resource snapshot for a running container.
	Stats(ctx context.Context, containerID string) (Stats, error)

	// Logs returns up to `tail` trailing lines.
	Logs(ctx context.Context, containerID string, tail int) ([]string, error)

	// StopContainer stops a container, waiting up to timeout before
	// the engine force-kills it.
	StopContainer(ctx context.Context, containerID string, timeout time.Duration) error

	// RemoveContainer forcibly removes a container and its anonymous
	// volumes.
	RemoveContainer(ctx context.Context, containerID string) error

	// RemoveImage forcibly removes an image by tag.
	RemoveImage(ctx context.Context, tag string) error

	// ListByLabel lists containers (including stopped ones) matching
	// every given label.
	ListByLabel(ctx context.Context, labels map[string]string) ([]ContainerSummary, error)

	// EnsureNetwork creates a labeled bridge network if one with this
	// name does not already exist, and returns its ID.
	EnsureNetwork(ctx context.Context, name string, labels map[string]string) (string, error)
}
