// Package store implements the registered-server table:
// upsert-on-register, heartbeat-driven liveness, and the active-set
// query.
package store

import (
	"fmt"
	"sync"
	"time"
)

// Server is one RegisteredServer row.
type Server struct {
	ServerID       string
	IP             string
	Port           int
	Name           string
	MaxPlayers     int
	CurrentPlayers int
	Metadata       map[string]any
	RegisteredAt   time.Time
	LastHeartbeat  time.Time
}

// Active is a Server annotated with the derived fields the active
// list exposes: integer-second uptime and an ISO-8601 last_heartbeat.
type Active struct {
	Server
	UptimeSeconds int64
	LastHeartbeat string
}

// Registration is the caller-supplied subset of Server fields
// accepted by RegisterOrUpdate.
type Registration struct {
	IP             string
	Port           int
	Name           string
	MaxPlayers     int
	CurrentPlayers int
	Metadata       map[string]any
}

func key(ip string, port int) string {
	return fmt.Sprintf("%s:%d", ip, port)
}

// Store owns the server map behind a single mutex, mirroring the
// Supervisor's table ownership model.
type Store struct {
	heartbeatTimeout time.Duration

	mu      sync.Mutex
	servers map[string]*Server
}

// New constructs an empty Store. heartbeatTimeout governs both the
// active-set query and what counts as stale for Get/cleanup.
func New(heartbeatTimeout time.Duration) *Store {
	return &Store{
		heartbeatTimeout: heartbeatTimeout,
		servers:          map[string]*Server{},
	}
}

// RegisterOrUpdate inserts a new entry or updates an existing one,
// keyed by "ip:port". RegisteredAt is set only on first insertion and
// never reset by a later re-registration, even of a stale entry, so
// uptime keeps counting from first registration. LastHeartbeat always
// advances to now, on insert and on update.
func (s *Store) RegisterOrUpdate(reg Registration) string {
	id := key(reg.IP, reg.Port)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	srv, ok := s.servers[id]
	if !ok {
		srv = &Server{
			ServerID:     id,
			IP:           reg.IP,
			Port:         reg.Port,
			RegisteredAt: now,
		}
		s.servers[id] = srv
	}

	srv.Name = reg.Name
	srv.MaxPlayers = reg.MaxPlayers
	srv.CurrentPlayers = reg.CurrentPlayers
	srv.Metadata = reg.Metadata
	srv.LastHeartbeat = now

	return id
}

// ErrNotFound is returned by Heartbeat when the server_id is unknown.
var ErrNotFound = fmt.Errorf("server not found")

// Heartbeat refreshes liveness for a known server_id and optionally
// updates its current player count. currentPlayers < 0 means "not
// supplied, leave unchanged".
func (s *Store) Heartbeat(serverID string, currentPlayers int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	srv, ok := s.servers[serverID]
	if !ok {
		return ErrNotFound
	}
	srv.LastHeartbeat = time.Now()
	if currentPlayers >= 0 {
		srv.CurrentPlayers = currentPlayers
	}
	return nil
}

func (s *Store) isStale(srv *Server, now time.Time) bool {
	return now.Sub(srv.LastHeartbeat) > s.heartbeatTimeout
}

func annotate(srv Server, now time.Time) Active {
	return Active{
		Server:        srv,
		UptimeSeconds: int64(now.Sub(srv.RegisteredAt).Seconds()),
		LastHeartbeat: srv.LastHeartbeat.UTC().Format(time.RFC3339Nano),
	}
}

// ActiveList returns every server whose heartbeat is within the
// timeout window.
func (s *Store) ActiveList() []Active {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	out := make([]Active, 0, len(s.servers))
	for _, srv := range s.servers {
		if !s.isStale(srv, now) {
			out = append(out, annotate(*srv, now))
		}
	}
	return out
}

// GetResult distinguishes the three outcomes Get can report.
type GetResult int

const (
	GetFound GetResult = iota
	GetStale
	GetNotFound
)

// Get returns one entry's current, annotated view. A present-but-stale
// entry reports GetStale (maps to 410 Gone at the HTTP edge) rather
// than being treated as absent.
func (s *Store) Get(serverID string) (Active, GetResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	srv, ok := s.servers[serverID]
	if !ok {
		return Active{}, GetNotFound
	}

	now := time.Now()
	if s.isStale(srv, now) {
		return Active{}, GetStale
	}
	return annotate(*srv, now), GetFound
}

// Remove deletes a server, reporting whether it existed.
func (s *Store) Remove(serverID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.servers[serverID]; !ok {
		return false
	}
	delete(s.servers, serverID)
	return true
}

// CleanupStale deletes every entry whose heartbeat has lapsed and
// returns the count removed.
func (s *Store) CleanupStale() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, srv := range s.servers {
		if s.isStale(srv, now) {
			delete(s.servers, id)
			removed++
		}
	}
	return removed
}

// Count reports the total number of tracked entries, stale or not.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.servers)
}
