//go:build !windows

package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arc/internal/config"
	"arc/internal/descriptor"
	"arc/internal/errs"
	"arc/internal/models"
	"arc/internal/proc"
	"arc/internal/utils"
)

const backendEnv = "ARC_TEST_BACKEND"

// TestMain doubles as a site backend when backendEnv is set
func TestMain(m *testing.M) {
	switch os.Getenv(backendEnv) {
	case "":
		os.Exit(m.Run())
	case "sleep":
		time.Sleep(time.Hour)
	default:
		runBackend()
	}
}

func runBackend() {
	name := os.Getenv("BACKEND_NAME")
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s on %s", name, os.Getenv("PORT"))
	})
	fmt.Printf("backend %s listening on %s\n", name, os.Getenv("PORT"))
	if err := http.ListenAndServe("127.0.0.1:"+os.Getenv("PORT"), mux); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(5)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func backendSite(name string, port int) *config.ServiceSite {
	return &config.ServiceSite{
		Name:       name,
		Domain:     name + ".localhost",
		Port:       port,
		HealthPath: "/health",
		Process: config.ProcessSpec{
			Executable: os.Args[0],
			Args:       []string{"-test.run=^$"},
			Env:        map[string]string{backendEnv: "1", "BACKEND_NAME": name},
		},
	}
}

func staticSite(t *testing.T, name, body string) *config.StaticSite {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte(body), 0644))
	return &config.StaticSite{Name: name, Domain: name + ".localhost", OutputPath: dir}
}

func newConfig(t *testing.T, base string, sites ...config.Site) *config.Config {
	t.Helper()
	cfg, err := config.New(config.Config{
		Name:      "test",
		BaseDir:   base,
		ProxyPort: freePort(t),
		Sites:     sites,
		Health:    config.HealthConfig{TimeoutSec: 1},
	})
	require.NoError(t, err)
	return cfg
}

func startServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s := NewServer(cfg)
	require.NoError(t, s.StartAll(context.Background()))
	t.Cleanup(func() { s.StopAll(context.Background()) })
	return s
}

func get(t *testing.T, port int, host, path string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d%s", port, path), nil)
	require.NoError(t, err)
	req.Host = host
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestTwoStaticSites(t *testing.T) {
	cfg := newConfig(t, t.TempDir(),
		staticSite(t, "docs", "<h1>docs</h1>"),
		staticSite(t, "blog", "<h1>blog</h1>"),
	)
	s := startServer(t, cfg)
	port := s.ProxyPort()

	code, body := get(t, port, "docs.localhost", "/")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "<h1>docs</h1>", body)

	code, body = get(t, port, "blog.localhost:"+strconv.Itoa(port), "/")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "<h1>blog</h1>", body)

	code, _ = get(t, port, "nope.localhost", "/")
	assert.Equal(t, http.StatusNotFound, code)

	resp := s.CheckAll(context.Background())
	assert.Equal(t, 2, resp.TotalChecks)
	assert.Equal(t, 2, resp.PassedChecks)
	assert.Equal(t, models.Healthy, resp.OverallStatus)
	assert.Equal(t, "blog", resp.Results[0].Name)

	snap := s.Snapshot()
	assert.Empty(t, snap.Processes)
	require.Len(t, snap.Sites, 2)
	assert.Equal(t, config.SiteTypeStatic, snap.Sites[0].Kind)
}

func TestServiceHealthAfterKill(t *testing.T) {
	cfg := newConfig(t, t.TempDir(), backendSite("api", freePort(t)))
	s := startServer(t, cfg)
	ctx := context.Background()

	res, err := s.CheckSite(ctx, "api")
	require.NoError(t, err)
	assert.True(t, res.Healthy, res.Message)

	code, body := get(t, s.ProxyPort(), "api.localhost", "/hello")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "api on")

	snap := s.Snapshot()
	require.Len(t, snap.Processes, 1)
	pid := snap.Processes[0].Pid
	require.NoError(t, syscall.Kill(pid, syscall.SIGKILL))
	require.Eventually(t, func() bool { return !utils.IsProcessRunning(pid) }, 3*time.Second, 20*time.Millisecond)

	for i := 0; i < 2; i++ {
		res, err = s.CheckSite(ctx, "api")
		require.NoError(t, err)
		assert.False(t, res.Healthy)
	}
	assert.Equal(t, models.Degraded, s.Snapshot().HealthSummary.Overall)
	assert.Empty(t, s.Snapshot().Processes)

	code, _ = get(t, s.ProxyPort(), "api.localhost", "/")
	assert.Equal(t, http.StatusBadGateway, code)

	_, err = s.CheckSite(ctx, "missing")
	assert.ErrorIs(t, err, ErrSiteNotFound)
}

func TestReloadChangesServicePort(t *testing.T) {
	base := t.TempDir()
	oldPort, newPort := freePort(t), freePort(t)
	cfg := newConfig(t, base, backendSite("api", oldPort))
	s := startServer(t, cfg)
	proxyPort := s.ProxyPort()

	_, body := get(t, proxyPort, "api.localhost", "/")
	assert.Equal(t, fmt.Sprintf("api on %d", oldPort), body)

	next, err := config.New(config.Config{
		Name:      "test",
		BaseDir:   base,
		ProxyPort: proxyPort,
		Sites:     []config.Site{backendSite("api", newPort)},
	})
	require.NoError(t, err)
	require.NoError(t, s.Reload(context.Background(), next))

	code, body := get(t, proxyPort, "api.localhost", "/")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, fmt.Sprintf("api on %d", newPort), body)
	assert.False(t, utils.CheckPortConnectable(oldPort))

	snap := s.Snapshot()
	require.Len(t, snap.Processes, 1)
	require.Len(t, snap.Sites, 1)
	assert.Equal(t, newPort, snap.Sites[0].Port)
	assert.Same(t, next, s.Config())
}

func TestReloadRejectedKeepsRunningConfig(t *testing.T) {
	base := t.TempDir()
	cfg := newConfig(t, base, staticSite(t, "docs", "docs"))
	s := startServer(t, cfg)

	bad, err := config.New(config.Config{
		Name:      "test",
		BaseDir:   base,
		ProxyPort: s.ProxyPort(),
		Sites: []config.Site{&config.StaticSite{
			Name: "docs", Domain: "docs.localhost", OutputPath: t.TempDir(),
			AuthFile: filepath.Join(base, "missing.htpasswd"),
		}},
	})
	require.NoError(t, err)

	err = s.Reload(context.Background(), bad)
	var cfgErr *errs.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Same(t, cfg, s.Config())

	code, body := get(t, s.ProxyPort(), "docs.localhost", "/")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "docs", body)
}

func TestDuplicatePortRejectedBeforeStart(t *testing.T) {
	port := freePort(t)
	_, err := config.New(config.Config{
		BaseDir:   t.TempDir(),
		ProxyPort: freePort(t),
		Sites:     []config.Site{backendSite("a", port), backendSite("b", port)},
	})
	var cfgErr *errs.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, err.Error(), fmt.Sprintf("port %d is used by more than one service", port))
}

func TestRestartSite(t *testing.T) {
	cfg := newConfig(t, t.TempDir(), backendSite("api", freePort(t)), staticSite(t, "docs", "x"))
	s := startServer(t, cfg)
	ctx := context.Background()

	before := s.Snapshot().Processes
	require.Len(t, before, 1)

	began := time.Now()
	pid, err := s.RestartSite(ctx, "api")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(began), proc.DefaultSettleDelay)
	assert.NotEqual(t, before[0].Pid, pid)
	assert.False(t, utils.IsProcessRunning(before[0].Pid))

	after := s.Snapshot().Processes
	require.Len(t, after, 1)
	assert.Equal(t, pid, after[0].Pid)

	_, err = s.RestartSite(ctx, "docs")
	assert.ErrorIs(t, err, ErrNoProcess)
	_, err = s.RestartSite(ctx, "ghost")
	assert.ErrorIs(t, err, ErrSiteNotFound)
}

func TestStartAllFailsWhenProxyPortTaken(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := newConfig(t, t.TempDir(), backendSite("api", freePort(t)))
	cfg.ProxyPort = ln.Addr().(*net.TCPAddr).Port
	s := NewServer(cfg)

	err = s.StartAll(context.Background())
	var cfgErr *errs.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Empty(t, s.Snapshot().Processes)
	assert.Equal(t, "DOWN", s.GetHealthz().Status)
}

func TestTunnelPreconditionsAbortStart(t *testing.T) {
	base := t.TempDir()
	creds := filepath.Join(base, "creds.json")
	require.NoError(t, os.WriteFile(creds, []byte("{}"), 0600))

	tests := []struct {
		name   string
		tunnel config.TunnelConfig
		reason string
	}{
		{"no identifier", config.TunnelConfig{Enabled: true, ExecutablePath: os.Args[0], CredentialsPath: creds}, "identifier is empty"},
		{"no credentials", config.TunnelConfig{Enabled: true, ExecutablePath: os.Args[0], Identifier: "dev",
			CredentialsPath: filepath.Join(base, "missing.json")}, "credentials file"},
		{"no executable", config.TunnelConfig{Enabled: true, ExecutablePath: filepath.Join(base, "nope"), Identifier: "dev",
			CredentialsPath: creds}, "not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newConfig(t, base, backendSite("api", freePort(t)))
			tun := tt.tunnel
			cfg.Tunnel = &tun
			s := NewServer(cfg)

			err := s.StartAll(context.Background())
			var tunErr *errs.TunnelConfigurationError
			require.True(t, errors.As(err, &tunErr))
			assert.Contains(t, tunErr.Reason, tt.reason)
			assert.Empty(t, s.Snapshot().Processes)
		})
	}
}

func TestTunnelHelperLifecycle(t *testing.T) {
	t.Setenv(backendEnv, "sleep")
	base := t.TempDir()
	creds := filepath.Join(base, "creds.json")
	require.NoError(t, os.WriteFile(creds, []byte("{}"), 0600))

	cfg := newConfig(t, base, staticSite(t, "docs", "x"))
	cfg.Tunnel = &config.TunnelConfig{
		Enabled:         true,
		ExecutablePath:  os.Args[0],
		Identifier:      "dev",
		CredentialsPath: creds,
		Args:            []string{"-test.run=^$", "--", "{{.Identifier}}", "{{.ProxyPort}}"},
	}
	s := startServer(t, cfg)

	st := s.TunnelStatus()
	assert.True(t, st.Enabled)
	assert.Equal(t, models.StatusRunning, st.Status)
	assert.Equal(t, "dev", st.Identifier)
	require.NotZero(t, st.Pid)

	procs := s.Snapshot().Processes
	require.Len(t, procs, 1)
	assert.Equal(t, models.ProcessTunnelHelper, procs[0].Type)
	assert.True(t, s.GetHealthz().Metrics.TunnelRunning)

	require.NoError(t, s.StopAll(context.Background()))
	assert.False(t, utils.IsProcessRunning(st.Pid))
	assert.Equal(t, models.StatusStopped, s.TunnelStatus().Status)
}

func TestTunnelDefaultArgs(t *testing.T) {
	cfg := &config.Config{
		ProxyPort: 8080,
		Tunnel: &config.TunnelConfig{
			Enabled:         true,
			ExecutablePath:  "cloudflared",
			Identifier:      "dev",
			CredentialsPath: "/home/me/.cloudflared/dev.json",
		},
	}
	tm := NewTunnelManager(cfg, nil)
	opts, err := tm.createProcessInstance()
	require.NoError(t, err)
	assert.Equal(t, "cloudflared", opts.Command)
	assert.Equal(t, []string{
		"tunnel", "--no-autoupdate",
		"--credentials-file", "/home/me/.cloudflared/dev.json",
		"run", "--url", "http://127.0.0.1:8080", "dev",
	}, opts.Args)
	assert.Equal(t, TunnelProcessName, opts.Name)

	cfg.Tunnel.Port = 20241
	opts, err = tm.createProcessInstance()
	require.NoError(t, err)
	assert.Equal(t, []string{"tunnel", "--metrics", "127.0.0.1:20241"}, opts.Args[:3])
	assert.Contains(t, opts.Args, "--no-autoupdate")
}

func TestPublishDescriptor(t *testing.T) {
	base := t.TempDir()
	cfg := newConfig(t, base, staticSite(t, "docs", "x"))
	s := startServer(t, cfg)

	require.NoError(t, s.Publish("127.0.0.1:7070"))
	d := descriptor.Read(base, "test")
	require.NotNil(t, d)
	assert.Equal(t, os.Getpid(), d.Pid)
	assert.Equal(t, s.ProxyPort(), d.ProxyPort)
	assert.Equal(t, "127.0.0.1:7070", d.AdminAddress)

	require.NoError(t, s.StopAll(context.Background()))
	assert.Nil(t, descriptor.Read(base, "test"))
	assert.NoFileExists(t, descriptor.Path(base, "test"))
}

func TestWatchRestartsService(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "src")
	require.NoError(t, os.MkdirAll(src, 0755))

	site := backendSite("api", freePort(t))
	site.Watch = []string{src}
	cfg, err := config.New(config.Config{
		Name:      "test",
		BaseDir:   base,
		ProxyPort: freePort(t),
		Sites:     []config.Site{site},
		Watch:     config.WatchConfig{Enabled: true, DebounceMs: 50, CooldownMs: 1},
	})
	require.NoError(t, err)
	s := startServer(t, cfg)

	first := s.Snapshot().Processes
	require.Len(t, first, 1)

	require.NoError(t, os.WriteFile(filepath.Join(src, "main.go"), []byte("package main"), 0644))
	require.Eventually(t, func() bool {
		procs := s.Snapshot().Processes
		return len(procs) == 1 && procs[0].Pid != first[0].Pid
	}, 10*time.Second, 50*time.Millisecond)
}

func TestHealthzCounts(t *testing.T) {
	cfg := newConfig(t, t.TempDir(), backendSite("api", freePort(t)), staticSite(t, "docs", "x"))
	s := startServer(t, cfg)

	h := s.GetHealthz()
	assert.Equal(t, "UP", h.Status)
	assert.Equal(t, 1, h.Metrics.ActiveServices)
	assert.False(t, h.Metrics.TunnelRunning)
	assert.Equal(t, models.Healthy, h.Health)
}
