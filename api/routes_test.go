package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailfs/internal/models"
)

type fixedSource struct {
	snap models.Snapshot
}

func (f fixedSource) Snapshot() models.Snapshot {
	return f.snap
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, fixedSource{snap: models.Snapshot{
		Selected:    "INBOX",
		LastList:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Directories: 4,
		Messages:    10,
		Bodies:      2,
	}}, "/mnt/mail")
	return r
}

func TestHealth(t *testing.T) {
	r := newRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestStatus(t *testing.T) {
	r := newRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Mountpoint string          `json:"mountpoint"`
		Cache      models.Snapshot `json:"cache"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "/mnt/mail", body.Mountpoint)
	assert.Equal(t, "INBOX", body.Cache.Selected)
	assert.Equal(t, 4, body.Cache.Directories)
	assert.Equal(t, 10, body.Cache.Messages)
	assert.Equal(t, 2, body.Cache.Bodies)
	assert.True(t, body.Cache.LastList.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))
}

func TestRegisterRoutes_NilSource(t *testing.T) {
	gin.SetMode(gin.TestMode)
	assert.Panics(t, func() {
		RegisterRoutes(gin.New(), nil, "")
	})
}
