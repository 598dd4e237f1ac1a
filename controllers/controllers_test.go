package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arc/internal/config"
	"arc/internal/models"
	"arc/services"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func writeConfig(t *testing.T, dir string, port int, sites string) string {
	t.Helper()
	path := filepath.Join(dir, "arc.yaml")
	body := fmt.Sprintf("name: ctl\nproxyPort: %d\nhealth:\n  intervalSec: 0\nsites:\n%s", port, sites)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

const docsSite = `  - name: docs
    domain: docs.localhost
    outputPath: ./public
`

const blogSite = `  - name: blog
    domain: blog.localhost
    outputPath: ./public
`

type fixture struct {
	dir    string
	port   int
	path   string
	cfg    *config.Config
	router *gin.Engine
}

func setup(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "public"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "public", "index.html"), []byte("hi"), 0644))

	port := freePort(t)
	path := writeConfig(t, dir, port, docsSite)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	server := services.NewServer(cfg)
	require.NoError(t, server.StartAll(context.Background()))
	t.Cleanup(func() { server.StopAll(context.Background()) })

	return &fixture{dir: dir, port: port, path: path, cfg: cfg, router: NewRouter(server, gin.TestMode)}
}

func (f *fixture) do(t *testing.T, method, url string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, nil)
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthzAndStatus(t *testing.T) {
	f := setup(t)

	w := f.do(t, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, w.Code)
	hz := decode[models.HealthResponse](t, w)
	assert.Equal(t, "UP", hz.Status)
	assert.Equal(t, 0, hz.Metrics.ActiveServices)

	w = f.do(t, http.MethodGet, APIPrefix+"/status")
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[models.Snapshot](t, w)
	assert.Equal(t, "ctl", snap.Name)
	assert.Equal(t, f.port, snap.ProxyPort)
	require.Len(t, snap.Sites, 1)
	assert.Equal(t, "docs", snap.Sites[0].Name)
}

func TestSiteRoutes(t *testing.T) {
	f := setup(t)

	w := f.do(t, http.MethodGet, APIPrefix+"/sites")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.SiteState](t, w), 1)

	w = f.do(t, http.MethodGet, APIPrefix+"/sites/docs")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, config.SiteTypeStatic, decode[models.SiteState](t, w).Kind)

	w = f.do(t, http.MethodGet, APIPrefix+"/sites/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "site.notexist", decode[models.ErrorResponse](t, w).Code)

	w = f.do(t, http.MethodPost, APIPrefix+"/sites/docs/restart")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "site.noprocess", decode[models.ErrorResponse](t, w).Code)

	w = f.do(t, http.MethodPost, APIPrefix+"/sites/nope/restart")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, APIPrefix+"/sites/docs/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[models.HealthCheckResult](t, w).Healthy)

	w = f.do(t, http.MethodGet, APIPrefix+"/sites/nope/health")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSiteLogs(t *testing.T) {
	f := setup(t)
	require.NoError(t, os.MkdirAll(f.cfg.LogDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(f.cfg.LogDir, "docs.log"), []byte("a\nb\nc\n"), 0644))

	w := f.do(t, http.MethodGet, APIPrefix+"/sites/docs/logs?lines=2")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Name  string   `json:"name"`
		Lines []string `json:"lines"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []string{"b", "c"}, body.Lines)

	w = f.do(t, http.MethodGet, APIPrefix+"/sites/docs/logs?lines=x")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, APIPrefix+"/sites/blog/logs")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "log.notexist", decode[models.ErrorResponse](t, w).Code)
}

func TestCheckAndTunnel(t *testing.T) {
	f := setup(t)

	w := f.do(t, http.MethodPost, APIPrefix+"/check")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[models.CheckResponse](t, w)
	assert.Equal(t, 1, resp.TotalChecks)
	assert.Equal(t, 1, resp.PassedChecks)

	w = f.do(t, http.MethodGet, APIPrefix+"/tunnel")
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[models.TunnelStatus](t, w)
	assert.False(t, st.Enabled)
	assert.Equal(t, models.StatusStopped, st.Status)

	w = f.do(t, http.MethodPost, APIPrefix+"/tunnel/restart")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "tunnel.config", decode[models.ErrorResponse](t, w).Code)
}

func TestReloadRoute(t *testing.T) {
	f := setup(t)

	writeConfig(t, f.dir, f.port, docsSite+blogSite)
	w := f.do(t, http.MethodPost, APIPrefix+"/reload")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, APIPrefix+"/sites")
	assert.Len(t, decode[[]models.SiteState](t, w), 2)

	// duplicate domain is rejected, the running config stays
	writeConfig(t, f.dir, f.port, docsSite+blogSite+`  - name: other
    domain: docs.localhost
    outputPath: ./public
`)
	w = f.do(t, http.MethodPost, APIPrefix+"/reload")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "config.reload_failed", decode[models.ErrorResponse](t, w).Code)

	w = f.do(t, http.MethodGet, APIPrefix+"/sites")
	assert.Len(t, decode[[]models.SiteState](t, w), 2)
}

func TestMetricsRoute(t *testing.T) {
	f := setup(t)
	f.do(t, http.MethodGet, "/healthz")

	w := f.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `arc_admin_requests_total{code="200",route="/healthz"}`)
}
