package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake is an in-memory ContainerRuntime used by Supervisor and
// Builder tests.
type Fake struct {
	mu sync.Mutex

	containers map[string]*fakeContainer
	images     map[string]bool
	networks   map[string]string
	nextID     int

	// Hooks let tests inject failures at specific points.
	BuildErr func(tag string) error
	RunErr   func(spec RunSpec) error
	StatsErr func(containerID string) error
}

type fakeContainer struct {
	id       string
	spec     RunSpec
	status   Status
	labels   map[string]string
	stats    Stats
	logs     []string
	hostPort int
}

// NewFake constructs an empty fake runtime.
func NewFake() *Fake {
	return &Fake{
		containers: map[string]*fakeContainer{},
		images:     map[string]bool{},
		networks:   map[string]string{},
	}
}

func (f *Fake) BuildImage(ctx context.Context, buildContext []byte, tag string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BuildErr != nil {
		if err := f.BuildErr(tag); err != nil {
			return "", err
		}
	}
	f.images[tag] = true
	return "image-" + tag, nil
}

func (f *Fake) RunContainer(ctx context.Context, spec RunSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RunErr != nil {
		if err := f.RunErr(spec); err != nil {
			return "", err
		}
	}
	f.nextID++
	id := fmt.Sprintf("container-%d", f.nextID)
	f.containers[id] = &fakeContainer{
		id:       id,
		spec:     spec,
		status:   StatusRunning,
		labels:   spec.Labels,
		hostPort: spec.HostPort,
	}
	return id, nil
}

func (f *Fake) Inspect(ctx context.Context, containerID string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[containerID]
	if !ok {
		return StatusNotFound, nil
	}
	return c.status, nil
}

func (f *Fake) Stats(ctx context.Context, containerID string) (Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StatsErr != nil {
		if err := f.StatsErr(containerID); err != nil {
			return Stats{}, err
		}
	}
	c, ok := f.containers[containerID]
	if !ok {
		return Stats{}, fmt.Errorf("container %s not found", containerID)
	}
	return c.stats, nil
}

func (f *Fake) Logs(ctx context.Context, containerID string, tail int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[containerID]
	if !ok {
		return nil, fmt.Errorf("container %s not found", containerID)
	}
	if tail <= 0 || tail >= len(c.logs) {
		return append([]string(nil), c.logs...), nil
	}
	return append([]string(nil), c.logs[len(c.logs)-tail:]...), nil
}

func (f *Fake) StopContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[containerID]
	if !ok {
		return fmt.Errorf("container %s not found", containerID)
	}
	c.status = StatusExited
	return nil
}

func (f *Fake) RemoveContainer(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, containerID)
	return nil
}

func (f *Fake) RemoveImage(ctx context.Context, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.images, tag)
	return nil
}

func (f *Fake) ListByLabel(ctx context.Context, labels map[string]string) ([]ContainerSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ContainerSummary
	for _, c := range f.containers {
		if matchesLabels(c.labels, labels) {
			out = append(out, ContainerSummary{
				ID:     c.id,
				Status: c.status,
				Labels: c.labels,
				HostPorts: map[string]int{
					fmt.Sprintf("%d/tcp", c.spec.ContainerPort): c.hostPort,
				},
			})
		}
	}
	return out, nil
}

func (f *Fake) EnsureNetwork(ctx context.Context, name string, labels map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.networks[name]; ok {
		return id, nil
	}
	id := "network-" + name
	f.networks[name] = id
	return id, nil
}

func matchesLabels(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

// SetStatus lets a test directly move a tracked container into a
// state (e.g. StatusExited) without going through StopContainer.
func (f *Fake) SetStatus(containerID string, status Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[containerID]; ok {
		c.status = status
	}
}

// SetStats lets a test pre-seed the resource snapshot a Stats call
// will return.
func (f *Fake) SetStats(containerID string, stats Stats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[containerID]; ok {
		c.stats = stats
	}
}

// ContainerCount reports how many containers the fake currently
// tracks, for assertions.
func (f *Fake) ContainerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

// Forget removes a container without going through RemoveContainer,
// simulating it having vanished out-of-band (e.g. OOM-killed).
func (f *Fake) Forget(containerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, containerID)
}
