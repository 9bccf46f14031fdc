package build

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carboon/gameplatform/internal/factory/runtime"
)

const (
	imagePrefix    = "gameplatform-factory"
	createdByLabel = "game_server_factory"
	portProbeLimit = 1000
)

// Options configures one Builder.
type Options struct {
	BasePort      int
	Network       string
	MatchmakerURL string
	MemoryLimit   int64   // bytes; 0 leaves the container unbounded
	CPULimit      float64 // whole CPUs; 0 leaves the container unbounded
}

// Admitter is the subset of the Supervisor the builder depends on.
type Admitter interface {
	CanCreate() (bool, string)
	Register(instanceID, containerID string)
}

// Launch is the outcome of a successful build+run.
type Launch struct {
	ContainerID string
	HostPort    int
	ImageID     string
	ImageTag    string
}

// Builder assembles build contexts, builds images, and launches
// containers.
type Builder struct {
	rt        runtime.ContainerRuntime
	sup       Admitter
	opts      Options
	logger    *zap.Logger
	networkID string

	portMu sync.Mutex // serializes the probe+bind port-allocation critical section
}

// New constructs a Builder. EnsureNetwork is called lazily on first
// launch so construction itself never touches the runtime.
func New(rt runtime.ContainerRuntime, sup Admitter, opts Options, logger *zap.Logger) *Builder {
	return &Builder{rt: rt, sup: sup, opts: opts, logger: logger}
}

var tagUnsafe = regexp.MustCompile(`[^a-z0-9_.-]+`)

// SanitizeTag restricts a name to the allowed tag charset: lowercase
// alphanumerics, '_', '.', '-'; no leading '.' or '-'; capped at 128
// characters. Used both for the Docker image tag and, by the caller,
// for deriving instance_id from a user-supplied display name.
func SanitizeTag(instanceID string) string {
	s := strings.ToLower(instanceID)
	s = tagUnsafe.ReplaceAllString(s, "-")
	s = strings.TrimLeft(s, ".-")
	if s == "" {
		s = "instance"
	}
	if len(s) > 128 {
		s = s[:128]
	}
	return s
}

// Request bundles everything one launch needs.
type Request struct {
	InstanceID  string
	DisplayName string
	Payload     Payload
	GameType    string // "js" or "html"
	MaxPlayers  int
}

// Launch runs the full build-and-run pipeline: admission, port
// allocation, build context, image build, container run, and
// registration.
func (b *Builder) Launch(ctx context.Context, req Request) (Launch, error) {
	if ok, reason := b.sup.CanCreate(); !ok {
		return Launch{}, fmt.Errorf("admission refused: %s", reason)
	}

	if err := b.ensureNetwork(ctx); err != nil {
		return Launch{}, fmt.Errorf("ensure network: %w", err)
	}

	hostPort, err := b.allocatePort(ctx)
	if err != nil {
		return Launch{}, fmt.Errorf("allocate port: %w", err)
	}

	buildCtx, err := Materialize(req.Payload, req.DisplayName, b.opts.MatchmakerURL)
	if err != nil {
		return Launch{}, fmt.Errorf("materialize build context: %w", err)
	}

	tag := fmt.Sprintf("%s:%s", imagePrefix, SanitizeTag(req.InstanceID))

	imageID, err := b.rt.BuildImage(ctx, buildCtx.Tar, tag)
	if err != nil {
		_ = b.rt.RemoveImage(ctx, tag)
		return Launch{}, fmt.Errorf("build image: %w", err)
	}

	maxPlayers := req.MaxPlayers
	if maxPlayers <= 0 {
		maxPlayers = 20
	}

	spec := runtime.RunSpec{
		Name:          fmt.Sprintf("%s-%s", imagePrefix, uuid.NewString()),
		Image:         tag,
		ContainerPort: containerPort,
		HostPort:      hostPort,
		Env: map[string]string{
			"PORT":           fmt.Sprintf("%d", containerPort),
			"EXTERNAL_PORT":  fmt.Sprintf("%d", hostPort),
			"ROOM_NAME":      req.DisplayName,
			"MATCHMAKER_URL": b.opts.MatchmakerURL,
			"MAX_PLAYERS":    fmt.Sprintf("%d", maxPlayers),
			"NODE_ENV":       "production",
		},
		Labels: map[string]string{
			"created_by":  createdByLabel,
			"instance_id": req.InstanceID,
			"game_type":   req.GameType,
		},
		Network:       b.opts.Network,
		RestartPolicy: "unless-stopped",
		MemoryLimit:   b.opts.MemoryLimit,
		CPULimit:      b.opts.CPULimit,
	}

	containerID, err := b.rt.RunContainer(ctx, spec)
	if err != nil {
		_ = b.rt.RemoveImage(ctx, tag)
		return Launch{}, fmt.Errorf("run container: %w", err)
	}

	status, err := b.rt.Inspect(ctx, containerID)
	if err != nil || status != runtime.StatusRunning {
		b.unwind(ctx, containerID, tag)
		if err != nil {
			return Launch{}, fmt.Errorf("container did not start: %w", err)
		}
		return Launch{}, fmt.Errorf("container did not reach running state, got %s", status)
	}

	b.sup.Register(req.InstanceID, containerID)

	return Launch{ContainerID: containerID, HostPort: hostPort, ImageID: imageID, ImageTag: tag}, nil
}

func (b *Builder) unwind(ctx context.Context, containerID, tag string) {
	_ = b.rt.StopContainer(ctx, containerID, 0)
	_ = b.rt.RemoveContainer(ctx, containerID)
	_ = b.rt.RemoveImage(ctx, tag)
}

func (b *Builder) ensureNetwork(ctx context.Context) error {
	if b.networkID != "" {
		return nil
	}
	id, err := b.rt.EnsureNetwork(ctx, b.opts.Network, map[string]string{"created_by": createdByLabel})
	if err != nil {
		return err
	}
	b.networkID = id
	return nil
}

// allocatePort serializes the probe+bind critical section so two
// concurrent launches never pick the same port: it consults the
// runtime's own view of in-use host ports (authoritative) and falls
// back to an advisory local bind probe before handing the port out.
func (b *Builder) allocatePort(ctx context.Context) (int, error) {
	b.portMu.Lock()
	defer b.portMu.Unlock()

	used, err := b.usedPorts(ctx)
	if err != nil {
		return 0, err
	}

	for i := 0; i < portProbeLimit; i++ {
		candidate := b.opts.BasePort + i
		if used[candidate] {
			continue
		}
		if !advisoryBindable(candidate) {
			continue
		}
		return candidate, nil
	}
	return 0, fmt.Errorf("no free port found in range [%d, %d)", b.opts.BasePort, b.opts.BasePort+portProbeLimit)
}

func (b *Builder) usedPorts(ctx context.Context) (map[int]bool, error) {
	containers, err := b.rt.ListByLabel(ctx, map[string]string{"created_by": createdByLabel})
	if err != nil {
		return nil, err
	}
	used := map[int]bool{}
	for _, c := range containers {
		for _, hostPort := range c.HostPorts {
			used[hostPort] = true
		}
	}
	return used, nil
}

// advisoryBindable attempts a local TCP bind as a best-effort guard
// against host-level conflicts the runtime wouldn't know about; the
// runtime's own refusal on RunContainer remains authoritative.
func advisoryBindable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
