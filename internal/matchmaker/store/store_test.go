package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reg(ip string, port int) Registration {
	return Registration{IP: ip, Port: port, Name: "room", MaxPlayers: 10, CurrentPlayers: 0}
}

func TestRegisterOrUpdateIsIdempotentOnServerID(t *testing.T) {
	s := New(30 * time.Second)
	id1 := s.RegisterOrUpdate(reg("192.168.1.10", 8081))
	id2 := s.RegisterOrUpdate(reg("192.168.1.10", 8081))
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, s.Count())
}

func TestRegisterOrUpdatePreservesRegisteredAt(t *testing.T) {
	s := New(30 * time.Second)
	id := s.RegisterOrUpdate(reg("10.0.0.1", 9000))

	entry, result := s.Get(id)
	require.Equal(t, GetFound, result)
	firstRegisteredAt := entry.RegisteredAt

	time.Sleep(5 * time.Millisecond)
	s.RegisterOrUpdate(reg("10.0.0.1", 9000))

	entry, result = s.Get(id)
	require.Equal(t, GetFound, result)
	assert.Equal(t, firstRegisteredAt, entry.RegisteredAt)
}

func TestHeartbeatUnknownServerFails(t *testing.T) {
	s := New(30 * time.Second)
	err := s.Heartbeat("ghost:1234", -1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHeartbeatUpdatesCurrentPlayers(t *testing.T) {
	s := New(30 * time.Second)
	id := s.RegisterOrUpdate(reg("10.0.0.1", 9001))
	require.NoError(t, s.Heartbeat(id, 7))

	entry, result := s.Get(id)
	require.Equal(t, GetFound, result)
	assert.Equal(t, 7, entry.CurrentPlayers)
}

func TestActiveListExcludesStaleEntries(t *testing.T) {
	s := New(100 * time.Millisecond)
	id := s.RegisterOrUpdate(reg("10.0.0.2", 9002))
	assert.Len(t, s.ActiveList(), 1)

	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, s.ActiveList())

	_, result := s.Get(id)
	assert.Equal(t, GetStale, result)
}

func TestGetReportsNotFoundForUnknownID(t *testing.T) {
	s := New(30 * time.Second)
	_, result := s.Get("nope:1")
	assert.Equal(t, GetNotFound, result)
}

func TestRemoveReportsExistence(t *testing.T) {
	s := New(30 * time.Second)
	id := s.RegisterOrUpdate(reg("10.0.0.3", 9003))
	assert.True(t, s.Remove(id))
	assert.False(t, s.Remove(id))
}

func TestCleanupStaleRemovesAndCounts(t *testing.T) {
	s := New(50 * time.Millisecond)
	s.RegisterOrUpdate(reg("10.0.0.4", 9004))
	s.RegisterOrUpdate(reg("10.0.0.5", 9005))

	time.Sleep(80 * time.Millisecond)
	removed := s.CleanupStale()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, s.Count())
}

func TestRoundTripRegisterHeartbeatGet(t *testing.T) {
	s := New(30 * time.Second)
	id := s.RegisterOrUpdate(reg("10.0.0.6", 9006))
	require.NoError(t, s.Heartbeat(id, 3))

	entry, result := s.Get(id)
	require.Equal(t, GetFound, result)
	assert.Equal(t, "10.0.0.6", entry.IP)
	assert.Equal(t, 9006, entry.Port)
	assert.Equal(t, 3, entry.CurrentPlayers)
	assert.GreaterOrEqual(t, entry.UptimeSeconds, int64(0))
}
