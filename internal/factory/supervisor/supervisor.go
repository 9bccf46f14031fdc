// Package supervisor implements the activity table, idle/error
// detection, and the background reaper tick.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/carboon/gameplatform/internal/factory/runtime"
)

// Activity is the supervisor's view of one tracked instance.
type Activity struct {
	InstanceID      string
	ContainerID     string
	LastActivity    time.Time
	ConnectionCount int
	CPUPercent      float64
	MemoryMB        float64
	IsIdle          bool
	ErrorCount      int
	LastError       string
	exited          bool // runtime reported missing/exited/dead (or inspect failed) on the last refresh
	notified        bool // error callback already fired for the current streak
}

// Snapshot is a defensive copy of an Activity returned from queries.
type Snapshot = Activity

// Config bounds the supervisor's behavior.
type Config struct {
	MaxContainers                int
	IdleTimeoutSeconds           int
	MaxErrorCount                int
	CleanupIntervalSeconds       int
	ResourceCheckIntervalSeconds int
	StopTimeout                  time.Duration
}

// Callbacks is the supervisor's sole outward channel, consumed by the
// Instance Registry to translate into GameInstance.status transitions.
type Callbacks struct {
	OnStopped func(instanceID, reason string)
	OnError   func(instanceID, containerID, reason string)
}

// Supervisor owns the ContainerActivity table behind a single mutex.
type Supervisor struct {
	cfg       Config
	runtime   runtime.ContainerRuntime
	callbacks Callbacks
	logger    *zap.Logger

	mu    sync.Mutex
	table map[string]*Activity

	stats *statsCache
}

// New constructs a Supervisor. Callbacks may be set after
// construction via SetCallbacks if the registry is wired later.
func New(cfg Config, rt runtime.ContainerRuntime, logger *zap.Logger) *Supervisor {
	interval := cfg.ResourceCheckIntervalSeconds
	if interval <= 0 {
		interval = 30
	}
	return &Supervisor{
		cfg:     cfg,
		runtime: rt,
		logger:  logger,
		table:   map[string]*Activity{},
		stats:   newStatsCache(time.Duration(interval) * time.Second),
	}
}

// SetCallbacks wires the registry's lifecycle handlers.
func (s *Supervisor) SetCallbacks(cb Callbacks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = cb
}

// CanCreate reports whether admission of a new container is allowed.
func (s *Supervisor) CanCreate() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.table) >= s.cfg.MaxContainers {
		return false, fmt.Sprintf("maximum container limit reached (%d)", s.cfg.MaxContainers)
	}
	return true, ""
}

// Register adds a new tracked instance, called after a container
// launches successfully.
func (s *Supervisor) Register(instanceID, containerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table[instanceID] = &Activity{
		InstanceID:   instanceID,
		ContainerID:  containerID,
		LastActivity: time.Now(),
	}
}

// Unregister removes a tracked instance without touching the runtime;
// callers that also need runtime teardown should use ForceCleanup.
func (s *Supervisor) Unregister(instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.table, instanceID)
	s.stats.delete(instanceID)
}

// UpdateActivity records a heartbeat from the instance side.
func (s *Supervisor) UpdateActivity(instanceID string, connectionCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.table[instanceID]
	if !ok {
		return fmt.Errorf("instance %s is not tracked", instanceID)
	}
	a.LastActivity = time.Now()
	a.ConnectionCount = connectionCount
	a.IsIdle = false
	return nil
}

// RecordError increments the error count and stores the message. It
// does not fire callbacks; those only fire from a tick.
func (s *Supervisor) RecordError(instanceID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.table[instanceID]
	if !ok {
		return fmt.Errorf("instance %s is not tracked", instanceID)
	}
	a.ErrorCount++
	a.LastError = message
	a.notified = false
	return nil
}

// Get returns a defensive copy of one activity row.
func (s *Supervisor) Get(instanceID string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.table[instanceID]
	if !ok {
		return Snapshot{}, false
	}
	return *a, true
}

// IdleSet returns every activity with no connections whose last
// activity is strictly older than the idle timeout; exactly-at-timeout
// is not yet idle.
func (s *Supervisor) IdleSet() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	idleTimeout := time.Duration(s.cfg.IdleTimeoutSeconds) * time.Second
	now := time.Now()
	var out []Snapshot
	for _, a := range s.table {
		if now.Sub(a.LastActivity) > idleTimeout && a.ConnectionCount == 0 {
			out = append(out, *a)
		}
	}
	return out
}

// ErrorSet returns every activity whose error count has reached the
// configured ceiling.
func (s *Supervisor) ErrorSet() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Snapshot
	for _, a := range s.table {
		if a.ErrorCount >= s.cfg.MaxErrorCount {
			out = append(out, *a)
		}
	}
	return out
}

// Count reports the number of tracked instances.
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.table)
}

// Start runs the background tick loop until ctx is canceled.
func (s *Supervisor) Start(ctx context.Context) {
	interval := time.Duration(s.cfg.CleanupIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer s.stats.stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick executes one full supervision pass: stats-refresh, then
// error-detect, then idle-stop, then error-cleanup. Locked regions
// never perform runtime I/O; the lock is released around every RPC
// and reacquired only to mutate the table.
func (s *Supervisor) Tick(ctx context.Context) {
	for _, instanceID := range s.trackedIDs() {
		s.refreshOne(ctx, instanceID)
	}

	for _, a := range s.exitedSet() {
		s.fireError(a.InstanceID, a.ContainerID, "container exited or missing")
	}

	for _, a := range s.IdleSet() {
		s.stopForIdle(ctx, a)
	}

	for _, a := range s.ErrorSet() {
		if a.notified {
			continue
		}
		s.stopForError(ctx, a)
	}
}

func (s *Supervisor) trackedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.table))
	for id := range s.table {
		ids = append(ids, id)
	}
	return ids
}

// refreshOne queries the runtime for one container's status and
// stats, outside the lock, then applies the result under the lock.
func (s *Supervisor) refreshOne(ctx context.Context, instanceID string) {
	s.mu.Lock()
	a, ok := s.table[instanceID]
	var containerID string
	if ok {
		containerID = a.ContainerID
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	status, err := s.runtime.Inspect(ctx, containerID)
	if err != nil {
		s.applyError(instanceID, fmt.Sprintf("status probe failed: %v", err), true)
		return
	}
	if status == runtime.StatusNotFound || status == runtime.StatusExited || status == runtime.StatusDead {
		s.applyError(instanceID, fmt.Sprintf("container status is %s", status), true)
		return
	}

	if cached, ok := s.stats.get(instanceID); ok {
		s.mu.Lock()
		if a, ok := s.table[instanceID]; ok {
			a.CPUPercent = cached.CPUPercent
			a.MemoryMB = cached.MemoryMB
			a.exited = false
		}
		s.mu.Unlock()
		return
	}

	stats, err := s.runtime.Stats(ctx, containerID)
	if err != nil {
		s.applyError(instanceID, fmt.Sprintf("stats probe failed: %v", err), false)
		return
	}

	s.stats.put(instanceID, stats.CPUPercent, stats.MemoryMB)

	s.mu.Lock()
	if a, ok := s.table[instanceID]; ok {
		a.CPUPercent = stats.CPUPercent
		a.MemoryMB = stats.MemoryMB
		a.exited = false
	}
	s.mu.Unlock()
}

func (s *Supervisor) applyError(instanceID, message string, exited bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.table[instanceID]; ok {
		a.ErrorCount++
		a.LastError = message
		if exited {
			a.exited = true
		}
	}
}

// exitedSet returns tracked instances the last refresh found missing,
// exited or dead, with the error callback fired once per exit, not on
// every subsequent tick.
func (s *Supervisor) exitedSet() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Snapshot
	for _, a := range s.table {
		if a.exited && !a.notified {
			out = append(out, *a)
		}
	}
	return out
}

func (s *Supervisor) fireError(instanceID, containerID, reason string) {
	s.mu.Lock()
	if a, ok := s.table[instanceID]; ok {
		a.notified = true
	}
	cb := s.callbacks.OnError
	s.mu.Unlock()

	if cb != nil {
		cb(instanceID, containerID, reason)
	}
}

func (s *Supervisor) stopForIdle(ctx context.Context, a Snapshot) {
	if err := s.runtime.StopContainer(ctx, a.ContainerID, s.cfg.StopTimeout); err != nil {
		s.logger.Warn("idle stop failed", zap.String("instance_id", a.InstanceID), zap.Error(err))
		return
	}

	s.mu.Lock()
	if row, ok := s.table[a.InstanceID]; ok {
		row.IsIdle = true
		// The stopped container will read as exited on the next
		// refresh; suppress the error callback for this teardown.
		row.notified = true
	}
	cb := s.callbacks.OnStopped
	s.mu.Unlock()

	if cb != nil {
		cb(a.InstanceID, "idle_timeout")
	}
}

func (s *Supervisor) stopForError(ctx context.Context, a Snapshot) {
	if err := s.runtime.StopContainer(ctx, a.ContainerID, s.cfg.StopTimeout); err != nil {
		s.logger.Warn("error stop failed", zap.String("instance_id", a.InstanceID), zap.Error(err))
	}
	s.fireError(a.InstanceID, a.ContainerID, a.LastError)
}

// ForceCleanup stops the container, removes all runtime resources,
// and unregisters the activity row. It returns false (without error)
// if the instance was already gone, so a repeated call is a no-op.
func (s *Supervisor) ForceCleanup(ctx context.Context, instanceID, imageTag string) (bool, error) {
	s.mu.Lock()
	a, ok := s.table[instanceID]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}

	ok1 := true
	if err := s.runtime.StopContainer(ctx, a.ContainerID, s.cfg.StopTimeout); err != nil {
		ok1 = false
	}
	if err := s.runtime.RemoveContainer(ctx, a.ContainerID); err != nil {
		ok1 = false
	}
	if imageTag != "" {
		if err := s.runtime.RemoveImage(ctx, imageTag); err != nil {
			ok1 = false
		}
	}

	s.mu.Lock()
	delete(s.table, instanceID)
	s.mu.Unlock()
	s.stats.delete(instanceID)

	return ok1, nil
}
