package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/carboon/gameplatform/internal/matchmaker/store"
)

func newTestRouter(heartbeatTimeout time.Duration) (*gin.Engine, *store.Store) {
	gin.SetMode(gin.TestMode)
	s := store.New(heartbeatTimeout)
	svc := NewService(s, zap.NewNop(), true)
	r := gin.New()
	svc.Register(r)
	return r, s
}

func doRequest(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reqBody *bytes.Reader
	if body != "" {
		reqBody = bytes.NewReader([]byte(body))
	} else {
		reqBody = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRegisterThenHeartbeatCycle(t *testing.T) {
	r, _ := newTestRouter(50 * time.Millisecond)

	rec := doRequest(r, http.MethodPost, "/register", `{"ip":"192.168.1.10","port":8081,"name":"R","max_players":20,"current_players":0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"192.168.1.10:8081"`)

	time.Sleep(80 * time.Millisecond)

	rec = doRequest(r, http.MethodGet, "/servers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"servers":[]`)

	rec = doRequest(r, http.MethodGet, "/servers/192.168.1.10:8081", "")
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestHeartbeatUnknownServerReturns404(t *testing.T) {
	r, _ := newTestRouter(30 * time.Second)
	rec := doRequest(r, http.MethodPost, "/heartbeat/ghost:1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterRejectsInvalidPort(t *testing.T) {
	r, _ := newTestRouter(30 * time.Second)
	rec := doRequest(r, http.MethodPost, "/register", `{"ip":"10.0.0.1","port":80,"name":"R"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRemoveServer(t *testing.T) {
	r, _ := newTestRouter(30 * time.Second)
	doRequest(r, http.MethodPost, "/register", `{"ip":"10.0.0.2","port":9000,"name":"R"}`)

	rec := doRequest(r, http.MethodDelete, "/servers/10.0.0.2:9000", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(r, http.MethodDelete, "/servers/10.0.0.2:9000", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestErrorEnvelopeShape(t *testing.T) {
	r, _ := newTestRouter(30 * time.Second)
	rec := doRequest(r, http.MethodGet, "/servers/ghost:1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body struct {
		Error struct {
			Code      int    `json:"code"`
			Message   string `json:"message"`
			Timestamp string `json:"timestamp"`
			Path      string `json:"path"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusNotFound, body.Error.Code)
	assert.NotEmpty(t, body.Error.Message)
	assert.Equal(t, "/servers/ghost:1", body.Error.Path)
	_, err := time.Parse(time.RFC3339Nano, body.Error.Timestamp)
	assert.NoError(t, err)
}

func TestHealthEndpoint(t *testing.T) {
	r, _ := newTestRouter(30 * time.Second)
	rec := doRequest(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}
