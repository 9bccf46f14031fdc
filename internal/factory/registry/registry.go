// Package registry holds the game-instance map and projects its
// current view to HTTP, refreshing status from the runtime on every
// list/get.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/carboon/gameplatform/internal/factory/runtime"
)

// Status is the GameInstance's externally visible lifecycle state.
type Status string

const (
	StatusCreating Status = "creating"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

const logBufferCap = 200

// ErrNotFound is returned when an operation names an unknown instance.
var ErrNotFound = errors.New("instance not found")

// Instance is one GameInstance row.
type Instance struct {
	InstanceID  string
	DisplayName string
	Description string
	MaxPlayers  int
	Status      Status
	ContainerID string
	ImageTag    string
	HostPort    int
	CreatedAt   time.Time
	UpdatedAt   time.Time

	CPUPercent float64
	MemoryMB   float64

	LogBuffer []string
}

// Registry owns the instance map behind a single mutex.
type Registry struct {
	runtime runtime.ContainerRuntime
	logger  *zap.Logger

	mu        sync.Mutex
	instances map[string]*Instance
}

// New constructs an empty Registry.
func New(rt runtime.ContainerRuntime, logger *zap.Logger) *Registry {
	return &Registry{
		runtime:   rt,
		logger:    logger,
		instances: map[string]*Instance{},
	}
}

// Create inserts a new instance row, typically before its container
// is launched (status = creating until the launch result is recorded).
func (r *Registry) Create(inst *Instance) {
	now := time.Now()
	inst.CreatedAt = now
	inst.UpdatedAt = now
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[inst.InstanceID] = inst
}

// List returns every instance, each refreshed from the runtime.
func (r *Registry) List(ctx context.Context) []Instance {
	r.mu.Lock()
	ids := make([]string, 0, len(r.instances))
	for id := range r.instances {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	out := make([]Instance, 0, len(ids))
	for _, id := range ids {
		if inst, ok := r.Get(ctx, id); ok {
			out = append(out, inst)
		}
	}
	return out
}

// Get returns one refreshed instance.
func (r *Registry) Get(ctx context.Context, instanceID string) (Instance, bool) {
	r.mu.Lock()
	inst, ok := r.instances[instanceID]
	r.mu.Unlock()
	if !ok {
		return Instance{}, false
	}

	r.refresh(ctx, inst)

	r.mu.Lock()
	defer r.mu.Unlock()
	return *inst, true
}

// refresh queries the runtime for status/stats/logs and mutates inst
// in place; inst is only ever accessed by its owning instance_id so a
// coarser per-registry lock around the mutation is sufficient.
func (r *Registry) refresh(ctx context.Context, inst *Instance) {
	if inst.ContainerID == "" {
		return
	}

	status, err := r.runtime.Inspect(ctx, inst.ContainerID)
	if err != nil {
		r.logger.Warn("status refresh failed", zap.String("instance_id", inst.InstanceID), zap.Error(err))
		r.mu.Lock()
		inst.Status = StatusError
		inst.UpdatedAt = time.Now()
		r.mu.Unlock()
		return
	}

	var newStatus Status
	switch status {
	case runtime.StatusRunning:
		newStatus = StatusRunning
	case runtime.StatusExited:
		newStatus = StatusStopped
	case runtime.StatusNotFound:
		newStatus = StatusError
	default:
		newStatus = Status(status)
	}

	var cpu, mem float64
	if status == runtime.StatusRunning {
		if stats, err := r.runtime.Stats(ctx, inst.ContainerID); err == nil {
			cpu, mem = stats.CPUPercent, stats.MemoryMB
		}
	}

	tail, _ := r.runtime.Logs(ctx, inst.ContainerID, logBufferCap)

	r.mu.Lock()
	inst.Status = newStatus
	inst.CPUPercent = cpu
	inst.MemoryMB = mem
	if len(tail) > 0 {
		inst.LogBuffer = mergeLogs(inst.LogBuffer, tail)
	}
	inst.UpdatedAt = time.Now()
	r.mu.Unlock()
}

// mergeLogs appends the runtime's latest tail to the existing entries
// and keeps only the newest logBufferCap lines. Internally-recorded
// entries get no special treatment: once the buffer overflows, the
// oldest lines are dropped whatever their source.
func mergeLogs(existing, tail []string) []string {
	merged := append(append([]string(nil), existing...), tail...)
	if len(merged) > logBufferCap {
		merged = merged[len(merged)-logBufferCap:]
	}
	return merged
}

// Stop stops the container and marks the instance stopped.
func (r *Registry) Stop(ctx context.Context, instanceID string, timeout time.Duration) error {
	r.mu.Lock()
	inst, ok := r.instances[instanceID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, instanceID)
	}

	if err := r.runtime.StopContainer(ctx, inst.ContainerID, timeout); err != nil {
		return fmt.Errorf("stop container: %w", err)
	}

	r.mu.Lock()
	inst.Status = StatusStopped
	inst.UpdatedAt = time.Now()
	r.mu.Unlock()
	return nil
}

// Delete removes the instance from the map after the caller has
// already run the supervisor's force-cleanup.
func (r *Registry) Delete(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, instanceID)
}

// LogsTail returns up to n trailing log lines for one instance.
func (r *Registry) LogsTail(ctx context.Context, instanceID string, n int) ([]string, error) {
	inst, ok := r.Get(ctx, instanceID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, instanceID)
	}
	if n <= 0 || n >= len(inst.LogBuffer) {
		return inst.LogBuffer, nil
	}
	return inst.LogBuffer[len(inst.LogBuffer)-n:], nil
}

// MarkStatus lets the supervisor's callbacks push a status transition
// (idle → stopped, error → error) without a runtime round trip.
func (r *Registry) MarkStatus(instanceID string, status Status, note string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[instanceID]
	if !ok {
		return
	}
	inst.Status = status
	inst.UpdatedAt = time.Now()
	if note != "" {
		inst.LogBuffer = mergeLogs(inst.LogBuffer, []string{note})
	}
}

// SetLaunchResult stamps the runtime-assigned identifiers onto an
// already-created instance once the builder succeeds, without
// disturbing CreatedAt.
func (r *Registry) SetLaunchResult(instanceID, containerID, imageTag string, hostPort int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[instanceID]
	if !ok {
		return
	}
	inst.ContainerID = containerID
	inst.ImageTag = imageTag
	inst.HostPort = hostPort
	inst.UpdatedAt = time.Now()
}
