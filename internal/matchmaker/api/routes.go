// Package api wires the Matchmaker's HTTP edge: register, heartbeat,
// active-list, get, remove, and health, following the same thin
// router-over-service pattern as internal/factory/api.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/carboon/gameplatform/internal/common/envelope"
	"github.com/carboon/gameplatform/internal/matchmaker/store"
)

// Service holds the dependencies the Matchmaker's handlers need.
type Service struct {
	store  *store.Store
	logger *zap.Logger
	debug  bool
}

// NewService constructs a Service bound to one Store.
func NewService(s *store.Store, logger *zap.Logger, debug bool) *Service {
	return &Service{store: s, logger: logger, debug: debug}
}

// Register mounts every Matchmaker route on engine.
func (s *Service) Register(r *gin.Engine) {
	r.POST("/register", s.handleRegister)
	r.POST("/heartbeat/:server_id", s.handleHeartbeat)
	r.GET("/servers", s.handleList)
	r.GET("/servers/:server_id", s.handleGet)
	r.DELETE("/servers/:server_id", s.handleRemove)
	r.GET("/health", s.handleHealth)
}

type registerRequest struct {
	IP             string         `json:"ip" binding:"required"`
	Port           int            `json:"port" binding:"required"`
	Name           string         `json:"name" binding:"required"`
	MaxPlayers     int            `json:"max_players"`
	CurrentPlayers int            `json:"current_players"`
	Metadata       map[string]any `json:"metadata"`
}

func (s *Service) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondErr(c, envelope.KindValidation, "invalid registration payload", err, nil)
		return
	}
	if req.Port < 1024 || req.Port > 65535 {
		s.respondErr(c, envelope.KindValidation, "port must be between 1024 and 65535", nil, nil)
		return
	}

	serverID := s.store.RegisterOrUpdate(store.Registration{
		IP:             req.IP,
		Port:           req.Port,
		Name:           req.Name,
		MaxPlayers:     req.MaxPlayers,
		CurrentPlayers: req.CurrentPlayers,
		Metadata:       req.Metadata,
	})

	c.JSON(http.StatusOK, gin.H{"server_id": serverID})
}

func (s *Service) handleHeartbeat(c *gin.Context) {
	serverID := c.Param("server_id")
	currentPlayers := -1
	if raw := c.Query("current_players"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.respondErr(c, envelope.KindValidation, "current_players must be an integer", err, nil)
			return
		}
		currentPlayers = n
	}

	if err := s.store.Heartbeat(serverID, currentPlayers); err != nil {
		s.respondErr(c, envelope.KindNotFound, "server not found", err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"server_id": serverID, "status": "ok"})
}

func (s *Service) handleList(c *gin.Context) {
	active := s.store.ActiveList()
	c.JSON(http.StatusOK, gin.H{"servers": toViews(active), "count": len(active)})
}

func (s *Service) handleGet(c *gin.Context) {
	serverID := c.Param("server_id")
	entry, result := s.store.Get(serverID)
	switch result {
	case store.GetFound:
		c.JSON(http.StatusOK, toView(entry))
	case store.GetStale:
		s.respondErr(c, envelope.KindGone, "server heartbeat has lapsed", nil, nil)
	default:
		s.respondErr(c, envelope.KindNotFound, "server not found", nil, nil)
	}
}

func (s *Service) handleRemove(c *gin.Context) {
	serverID := c.Param("server_id")
	if !s.store.Remove(serverID) {
		s.respondErr(c, envelope.KindNotFound, "server not found", nil, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"server_id": serverID, "removed": true})
}

func (s *Service) handleHealth(c *gin.Context) {
	count := len(s.store.ActiveList())
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"active_servers": count,
		"total_tracked":  s.store.Count(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// view is the JSON projection of a store.Active entry.
type view struct {
	ServerID       string         `json:"server_id"`
	IP             string         `json:"ip"`
	Port           int            `json:"port"`
	Name           string         `json:"name"`
	MaxPlayers     int            `json:"max_players"`
	CurrentPlayers int            `json:"current_players"`
	Metadata       map[string]any `json:"metadata"`
	UptimeSeconds  int64          `json:"uptime_seconds"`
	LastHeartbeat  string         `json:"last_heartbeat"`
}

func toView(a store.Active) view {
	return view{
		ServerID:       a.ServerID,
		IP:             a.IP,
		Port:           a.Port,
		Name:           a.Name,
		MaxPlayers:     a.MaxPlayers,
		CurrentPlayers: a.CurrentPlayers,
		Metadata:       a.Metadata,
		UptimeSeconds:  a.UptimeSeconds,
		LastHeartbeat:  a.LastHeartbeat,
	}
}

func toViews(as []store.Active) []view {
	out := make([]view, 0, len(as))
	for _, a := range as {
		out = append(out, toView(a))
	}
	return out
}

func (s *Service) respondErr(c *gin.Context, kind envelope.Kind, msg string, err error, details map[string]any) {
	apiErr := &envelope.APIError{Err: err, ClientMsg: msg, Kind: kind, Details: details}
	apiErr.Respond(c, s.debug)
}
