package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/carboon/gameplatform/internal/factory/cfg"
	"github.com/carboon/gameplatform/internal/factory/registry"
	"github.com/carboon/gameplatform/internal/factory/runtime"
	"github.com/carboon/gameplatform/internal/factory/supervisor"
)

func newTestService(t *testing.T) (*gin.Engine, *runtime.Fake) {
	return newTestServiceWithCapacity(t, 10)
}

func newTestServiceWithCapacity(t *testing.T, maxContainers int) (*gin.Engine, *runtime.Fake) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fake := runtime.NewFake()
	c := &cfg.Config{
		BasePort:          23000,
		DockerNetwork:     "game-net",
		MatchmakerURL:     "http://matchmaker.invalid",
		MatchmakerTimeout: 1,
		MaxContainers:     maxContainers,
		MaxErrorCount:     3,
		IdleTimeoutSeconds: 900,
		CleanupIntervalSeconds: 60,
		Debug:             true,
		Environment:       "development",
	}
	sup := supervisor.New(supervisor.Config{
		MaxContainers:          c.MaxContainers,
		IdleTimeoutSeconds:     c.IdleTimeoutSeconds,
		MaxErrorCount:          c.MaxErrorCount,
		CleanupIntervalSeconds: c.CleanupIntervalSeconds,
		ResourceCheckIntervalSeconds: c.ResourceCheckInterval,
		StopTimeout:            time.Second,
	}, fake, zap.NewNop())
	reg := registry.New(fake, zap.NewNop())
	svc := NewService(c, fake, sup, reg, zap.NewNop())

	r := gin.New()
	svc.Register(r)
	return r, fake
}

func multipartUpload(t *testing.T, filename, content, name, description string, maxPlayers string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)

	require.NoError(t, w.WriteField("name", name))
	require.NoError(t, w.WriteField("description", description))
	if maxPlayers != "" {
		require.NoError(t, w.WriteField("max_players", maxPlayers))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestHappyJSUpload(t *testing.T) {
	r, _ := newTestService(t)

	code := "module.exports = { handleConnection: function(s) { s.emit('hi'); } };"
	req := multipartUpload(t, "game.js", code, "Game", "d", "10")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"running"`)

	var resp struct {
		ServerID string `json:"server_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Regexp(t, `^user_[0-9]+_game_001$`, resp.ServerID)

	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/servers", nil))
	assert.Equal(t, http.StatusOK, rec2.Code)
	assert.Contains(t, rec2.Body.String(), `"count":1`)
}

func TestSecurityRejectionOnEval(t *testing.T) {
	r, _ := newTestService(t)

	code := "module.exports = {}; eval(\"x\");"
	req := multipartUpload(t, "game.js", code, "Evil", "d", "")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"severity":"high"`)
	assert.Contains(t, rec.Body.String(), "eval(")
}

func TestUploadMissingNameRejected(t *testing.T) {
	r, _ := newTestService(t)

	req := multipartUpload(t, "game.js", "module.exports = {};", "", "", "")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetUnknownInstanceReturns404(t *testing.T) {
	r, _ := newTestService(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/servers/ghost", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStopUnknownInstanceReturns404(t *testing.T) {
	r, _ := newTestService(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/servers/ghost/stop", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestActivityHeartbeatUpdatesSupervisor(t *testing.T) {
	r, _ := newTestService(t)

	req := multipartUpload(t, "game.js", "module.exports = {};", "Room", "d", "")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ServerID string `json:"server_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, httptest.NewRequest(http.MethodPost, "/servers/"+resp.ServerID+"/activity?connection_count=4", nil))
	assert.Equal(t, http.StatusOK, rec2.Code)

	rec3 := httptest.NewRecorder()
	r.ServeHTTP(rec3, httptest.NewRequest(http.MethodPost, "/servers/ghost/activity", nil))
	assert.Equal(t, http.StatusNotFound, rec3.Code)
}

func TestAdmissionCeilingReturns503(t *testing.T) {
	r, _ := newTestServiceWithCapacity(t, 1)

	req := multipartUpload(t, "game.js", "module.exports = {};", "Room", "d", "")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = multipartUpload(t, "game.js", "module.exports = {};", "Another", "d", "")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "maximum container limit")
}

func TestSystemStatsReflectsTrackedCount(t *testing.T) {
	r, _ := newTestService(t)

	req := multipartUpload(t, "game.js", "module.exports = {};", "Room", "d", "")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/system/stats", nil))
	assert.Contains(t, rec2.Body.String(), `"tracked_instances":1`)
}
