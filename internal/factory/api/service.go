// Package api wires the upload-to-launch pipeline (upload validation,
// static analysis, image build, container launch) and the Supervisor
// and Instance Registry into gin HTTP routes: a thin router layer
// over a service object holding the real dependencies.
package api

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/carboon/gameplatform/internal/factory/analyzer"
	"github.com/carboon/gameplatform/internal/factory/build"
	"github.com/carboon/gameplatform/internal/factory/cfg"
	"github.com/carboon/gameplatform/internal/factory/registry"
	"github.com/carboon/gameplatform/internal/factory/runtime"
	"github.com/carboon/gameplatform/internal/factory/supervisor"
	"github.com/carboon/gameplatform/internal/factory/upload"
)

// Service holds every dependency the HTTP handlers need.
type Service struct {
	cfg          *cfg.Config
	sup          *supervisor.Supervisor
	reg          *registry.Registry
	builder      *build.Builder
	logger       *zap.Logger
	healthClient *matchmakerHealthClient

	uid int64
	seq atomic.Int64
}

// NewService wires the pipeline components and registers the
// supervisor's callbacks to project lifecycle transitions into the
// registry.
func NewService(c *cfg.Config, rt runtime.ContainerRuntime, sup *supervisor.Supervisor, reg *registry.Registry, logger *zap.Logger) *Service {
	builder := build.New(rt, sup, build.Options{
		BasePort:      c.BasePort,
		Network:       c.DockerNetwork,
		MatchmakerURL: c.MatchmakerURL,
		MemoryLimit:   c.ContainerMemoryLimit,
		CPULimit:      c.ContainerCPULimit,
	}, logger)

	healthClient := newMatchmakerHealthClient(c.MatchmakerURL, time.Duration(c.MatchmakerTimeout)*time.Second)

	s := &Service{cfg: c, sup: sup, reg: reg, builder: builder, logger: logger, healthClient: healthClient, uid: time.Now().Unix()}

	sup.SetCallbacks(supervisor.Callbacks{
		OnStopped: func(instanceID, reason string) {
			reg.MarkStatus(instanceID, registry.StatusStopped, fmt.Sprintf("stopped: %s", reason))
		},
		OnError: func(instanceID, containerID, reason string) {
			reg.MarkStatus(instanceID, registry.StatusError, fmt.Sprintf("error: %s", reason))
		},
	})

	return s
}

// nextInstanceID derives a sanitized, unique instance id from the
// owning user's numeric id, the user-supplied display name, and a
// zero-padded monotonic counter, per the GameInstance data-model
// invariant. There is a single implicit user today, identified by the
// process start time.
func (s *Service) nextInstanceID(displayName string) string {
	n := s.seq.Add(1)
	base := build.SanitizeTag(displayName)
	return fmt.Sprintf("user_%d_%s_%03d", s.uid, base, n)
}

// uploadOptions projects the size ceilings and extension allow-list
// out of Config for the validator.
func (s *Service) uploadOptions() upload.Options {
	return upload.Options{
		MaxFileSize:       s.cfg.MaxFileSize,
		MaxExtractSize:    s.cfg.MaxExtractSize,
		AllowedExtensions: s.cfg.AllowedExtensions,
	}
}

// runPipeline executes the full pipeline for one upload: validate,
// analyze (JS only), materialize, build, run. On pipeline failure the
// instance is recorded with status=error rather than dropped.
func (s *Service) runPipeline(ctx context.Context, filename string, content []byte, displayName, description string, maxPlayers int) (registry.Instance, *analyzer.Result, error) {
	if ok, reason := s.sup.CanCreate(); !ok {
		return registry.Instance{}, nil, &admissionError{reason: reason}
	}

	result := upload.Validate(filename, content, s.uploadOptions())
	if !result.Accepted {
		return registry.Instance{}, nil, &validationError{msg: result.Message}
	}

	instanceID := s.nextInstanceID(displayName)

	var analysis *analyzer.Result
	var payload build.Payload
	gameType := "html"

	switch result.Metadata.Kind {
	case upload.KindJS:
		gameType = "js"
		a := analyzer.Analyze(string(content))
		analysis = &a
		if !a.IsValid {
			return registry.Instance{}, analysis, &securityError{issues: a.SecurityIssues}
		}
		payload = build.Payload{Kind: upload.KindJS, JSCode: string(content)}
	case upload.KindHTML:
		payload = build.Payload{Kind: upload.KindHTML, IndexHTML: string(content)}
	case upload.KindZip:
		extracted, err := upload.ExtractZip(content, result.Metadata.IndexHTMLPath)
		if err != nil {
			return registry.Instance{}, nil, &validationError{msg: err.Error()}
		}
		payload = build.Payload{Kind: upload.KindZip, IndexHTML: extracted.IndexHTML, OtherFiles: extracted.Others}
	}

	inst := &registry.Instance{
		InstanceID:  instanceID,
		DisplayName: displayName,
		Description: description,
		MaxPlayers:  maxPlayers,
		Status:      registry.StatusCreating,
	}
	s.reg.Create(inst)

	launch, err := s.builder.Launch(ctx, build.Request{
		InstanceID:  instanceID,
		DisplayName: displayName,
		GameType:    gameType,
		MaxPlayers:  maxPlayers,
		Payload:     payload,
	})
	if err != nil {
		s.reg.MarkStatus(instanceID, registry.StatusError, err.Error())
		failed, _ := s.reg.Get(ctx, instanceID)
		return failed, analysis, &runtimeError{msg: "failed to launch game server", cause: err}
	}

	s.reg.SetLaunchResult(instanceID, launch.ContainerID, launch.ImageTag, launch.HostPort)
	s.reg.MarkStatus(instanceID, registry.StatusRunning, "")
	final, _ := s.reg.Get(ctx, instanceID)

	return final, analysis, nil
}

type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }

type admissionError struct{ reason string }

func (e *admissionError) Error() string { return e.reason }

type securityError struct{ issues []analyzer.SecurityIssue }

func (e *securityError) Error() string { return "upload rejected by static analysis" }

type runtimeError struct {
	msg   string
	cause error
}

func (e *runtimeError) Error() string { return e.msg }
func (e *runtimeError) Unwrap() error { return e.cause }
