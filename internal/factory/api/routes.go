package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/carboon/gameplatform/internal/common/envelope"
	"github.com/carboon/gameplatform/internal/factory/registry"
)

// Register mounts every Factory route on engine.
func (s *Service) Register(r *gin.Engine) {
	r.GET("/health", s.handleHealth)
	r.GET("/servers", s.handleList)
	r.GET("/servers/:id", s.handleGet)
	r.POST("/upload", s.handleUpload)
	r.POST("/servers/:id/stop", s.handleStop)
	r.DELETE("/servers/:id", s.handleDelete)
	r.GET("/servers/:id/logs", s.handleLogs)
	r.POST("/servers/:id/activity", s.handleActivity)
	r.GET("/system/stats", s.handleSystemStats)
	r.GET("/system/idle-containers", s.handleIdleContainers)
	r.POST("/system/cleanup/:id", s.handleForceCleanup)
}

func (s *Service) respondErr(c *gin.Context, kind envelope.Kind, msg string, err error, details map[string]any) {
	apiErr := &envelope.APIError{Err: err, ClientMsg: msg, Kind: kind, Details: details}
	apiErr.Respond(c, s.cfg.Debug)
}

func instanceView(inst registry.Instance) gin.H {
	return gin.H{
		"instance_id":  inst.InstanceID,
		"display_name": inst.DisplayName,
		"description":  inst.Description,
		"max_players":  inst.MaxPlayers,
		"status":       inst.Status,
		"container_id": inst.ContainerID,
		"port":         inst.HostPort,
		"created_at":   inst.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":   inst.UpdatedAt.UTC().Format(time.RFC3339Nano),
		"cpu_percent":  inst.CPUPercent,
		"memory_mb":    inst.MemoryMB,
	}
}

func (s *Service) handleHealth(c *gin.Context) {
	count := s.sup.Count()
	status := "healthy"
	switch {
	case count >= s.cfg.MaxContainers:
		status = "limited"
	case count >= s.cfg.MaxContainers*9/10:
		status = "degraded"
	}

	if err := s.matchmakerProbe(c.Request.Context()); err != nil {
		if status == "healthy" {
			status = "degraded"
		} else {
			status = "unhealthy"
		}
		s.logger.Warn("matchmaker health probe failed", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         status,
		"tracked_count":  count,
		"max_containers": s.cfg.MaxContainers,
		"environment":    s.cfg.Environment,
		"matchmaker_url": s.cfg.MatchmakerURL,
	})
}

func (s *Service) handleList(c *gin.Context) {
	instances := s.reg.List(c.Request.Context())
	out := make([]gin.H, 0, len(instances))
	for _, inst := range instances {
		out = append(out, instanceView(inst))
	}
	c.JSON(http.StatusOK, gin.H{"servers": out, "count": len(out)})
}

func (s *Service) handleGet(c *gin.Context) {
	id := c.Param("id")
	inst, ok := s.reg.Get(c.Request.Context(), id)
	if !ok {
		s.respondErr(c, envelope.KindNotFound, "instance not found", nil, nil)
		return
	}
	c.JSON(http.StatusOK, instanceView(inst))
}

func (s *Service) handleUpload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		s.respondErr(c, envelope.KindValidation, "file field is required", err, nil)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		s.respondErr(c, envelope.KindValidation, "could not read uploaded file", err, nil)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		s.respondErr(c, envelope.KindValidation, "could not read uploaded file", err, nil)
		return
	}

	name := c.PostForm("name")
	if name == "" {
		s.respondErr(c, envelope.KindValidation, "name is required", nil, nil)
		return
	}
	description := c.PostForm("description")

	maxPlayers := 10
	if raw := c.PostForm("max_players"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n <= 0 {
			s.respondErr(c, envelope.KindValidation, "max_players must be a positive integer", convErr, nil)
			return
		}
		maxPlayers = n
	}

	ctx := c.Request.Context()
	if s.cfg.UploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.UploadTimeout)*time.Second)
		defer cancel()
	}

	inst, _, pipelineErr := s.runPipeline(ctx, fileHeader.Filename, content, name, description, maxPlayers)
	if pipelineErr != nil {
		s.respondPipelineError(c, pipelineErr)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"server_id": inst.InstanceID,
		"server":    instanceView(inst),
	})
}

func (s *Service) respondPipelineError(c *gin.Context, err error) {
	switch e := err.(type) {
	case *validationError:
		s.respondErr(c, envelope.KindValidation, e.msg, nil, nil)
	case *admissionError:
		s.respondErr(c, envelope.KindAdmissionRefused, e.reason, nil, nil)
	case *securityError:
		issues := make([]gin.H, 0, len(e.issues))
		for _, issue := range e.issues {
			issues = append(issues, gin.H{
				"severity":     issue.Severity,
				"message":      issue.Message,
				"line":         issue.Line,
				"code_snippet": issue.CodeSnippet,
			})
		}
		s.respondErr(c, envelope.KindSecurityRejection, "upload rejected by static analysis", nil,
			map[string]any{"security_issues": issues})
	case *runtimeError:
		s.respondErr(c, envelope.KindRuntimeFailure, e.msg, e, nil)
	default:
		s.respondErr(c, envelope.KindInternal, "internal server error", err, nil)
	}
}

func (s *Service) handleStop(c *gin.Context) {
	id := c.Param("id")
	if err := s.reg.Stop(c.Request.Context(), id, s.stopTimeout()); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			s.respondErr(c, envelope.KindNotFound, "instance not found", err, nil)
			return
		}
		s.respondErr(c, envelope.KindRuntimeFailure, "failed to stop instance", err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instance_id": id, "status": "stopped"})
}

func (s *Service) handleDelete(c *gin.Context) {
	id := c.Param("id")

	inst, ok := s.reg.Get(c.Request.Context(), id)
	if !ok {
		s.respondErr(c, envelope.KindNotFound, "instance not found", nil, nil)
		return
	}

	if _, err := s.sup.ForceCleanup(c.Request.Context(), id, inst.ImageTag); err != nil {
		s.logger.Warn("force cleanup reported an error", zap.Error(err))
	}
	s.reg.Delete(id)

	c.JSON(http.StatusOK, gin.H{"instance_id": id, "deleted": true})
}

func (s *Service) handleLogs(c *gin.Context) {
	id := c.Param("id")
	tail := 100
	if raw := c.Query("tail"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			tail = n
		}
	}

	lines, err := s.reg.LogsTail(c.Request.Context(), id, tail)
	if err != nil {
		s.respondErr(c, envelope.KindNotFound, "instance not found", err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instance_id": id, "logs": lines})
}

func (s *Service) handleActivity(c *gin.Context) {
	id := c.Param("id")
	connectionCount := 0
	if raw := c.Query("connection_count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.respondErr(c, envelope.KindValidation, "connection_count must be a non-negative integer", err, nil)
			return
		}
		connectionCount = n
	}

	if err := s.sup.UpdateActivity(id, connectionCount); err != nil {
		s.respondErr(c, envelope.KindNotFound, "instance not found", err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instance_id": id, "status": "ok"})
}

func (s *Service) handleSystemStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"tracked_instances": s.sup.Count(),
		"max_containers":    s.cfg.MaxContainers,
		"idle_count":        len(s.sup.IdleSet()),
		"error_count":       len(s.sup.ErrorSet()),
	})
}

func (s *Service) handleIdleContainers(c *gin.Context) {
	idle := s.sup.IdleSet()
	ids := make([]string, 0, len(idle))
	for _, a := range idle {
		ids = append(ids, a.InstanceID)
	}
	c.JSON(http.StatusOK, gin.H{"idle_instances": ids, "count": len(ids)})
}

func (s *Service) handleForceCleanup(c *gin.Context) {
	id := c.Param("id")
	inst, _ := s.reg.Get(c.Request.Context(), id)

	ok, err := s.sup.ForceCleanup(c.Request.Context(), id, inst.ImageTag)
	if err != nil {
		s.respondErr(c, envelope.KindRuntimeFailure, "force cleanup failed", err, nil)
		return
	}
	s.reg.Delete(id)
	c.JSON(http.StatusOK, gin.H{"instance_id": id, "cleaned_up": ok})
}

func (s *Service) stopTimeout() time.Duration {
	return 10 * time.Second
}

func (s *Service) matchmakerProbe(ctx context.Context) error {
	if s.healthClient == nil {
		return nil
	}
	return s.healthClient.Probe(ctx)
}
