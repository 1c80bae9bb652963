package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProbe struct {
	last time.Time
}

func (p *fakeProbe) LastTick() time.Time { return p.last }

func serve(h *Handler, path string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health/live", h.Liveness)
	router.GET("/health/ready", h.Readiness)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestLivenessAlwaysOK(t *testing.T) {
	h := NewHandler(nil)
	w := serve(h, "/health/live")

	assert.Equal(t, http.StatusOK, w.Code)

	var resp LivenessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "alive", resp.Status)
}

func TestReadinessWithFreshHeartbeat(t *testing.T) {
	h := NewHandler(&fakeProbe{last: time.Now()})
	w := serve(h, "/health/ready")

	assert.Equal(t, http.StatusOK, w.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, "healthy", resp.Checks["dispatcher"])
}

func TestReadinessWithStaleHeartbeat(t *testing.T) {
	h := NewHandler(&fakeProbe{last: time.Now().Add(-time.Minute)})
	w := serve(h, "/health/ready")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "unavailable", resp.Status)
	assert.Equal(t, "unhealthy", resp.Checks["dispatcher"])
}

func TestReadinessWithoutProbe(t *testing.T) {
	h := NewHandler(nil)
	w := serve(h, "/health/ready")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
