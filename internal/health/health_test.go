package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arc/internal/config"
	"arc/internal/models"
)

func result(name string, ok bool, ms int64) models.HealthCheckResult {
	return models.HealthCheckResult{Name: name, Healthy: ok, ResponseTimeMs: &ms, Timestamp: time.Now()}
}

func TestStreakThresholds(t *testing.T) {
	m := NewMonitor(Options{})
	assert.Equal(t, models.Healthy, m.StatusFor("api"))

	m.Record(result("api", false, 1))
	assert.Equal(t, models.Healthy, m.StatusFor("api"))
	m.Record(result("api", false, 1))
	assert.Equal(t, models.Degraded, m.StatusFor("api"))
	assert.Equal(t, models.Degraded, m.OverallStatus())

	for i := 0; i < 3; i++ {
		m.Record(result("api", false, 1))
	}
	assert.Equal(t, models.Unhealthy, m.StatusFor("api"))
	assert.Equal(t, 5, m.ConsecutiveFailures("api"))

	m.Record(result("api", true, 1))
	assert.Equal(t, models.Healthy, m.StatusFor("api"))
	assert.Equal(t, models.Healthy, m.OverallStatus())
}

func TestOverallIsWorstSite(t *testing.T) {
	m := NewMonitor(Options{DegradedThreshold: 1, UnhealthyThreshold: 3})
	m.Record(result("a", true, 1))
	m.Record(result("b", false, 1))
	assert.Equal(t, models.Degraded, m.OverallStatus())
	m.Record(result("b", false, 1))
	m.Record(result("b", false, 1))
	assert.Equal(t, models.Unhealthy, m.OverallStatus())
}

func TestHistoryIsBounded(t *testing.T) {
	m := NewMonitor(Options{HistorySize: 3})
	for i := int64(1); i <= 5; i++ {
		m.Record(result("web", i%2 == 0, i))
	}
	history := m.History("web")
	require.Len(t, history, 3)
	assert.Equal(t, int64(3), *history[0].ResponseTimeMs)
	assert.Equal(t, int64(5), *history[2].ResponseTimeMs)

	// 3 false, 4 true, 5 false
	assert.InDelta(t, 33.33, *m.UptimePercentage("web"), 0.01)
	assert.InDelta(t, 4.0, *m.AverageResponseTime("web"), 0.001)
}

func TestDerivedViewsWithoutHistory(t *testing.T) {
	m := NewMonitor(Options{})
	assert.Nil(t, m.UptimePercentage("none"))
	assert.Nil(t, m.AverageResponseTime("none"))
	assert.Nil(t, m.History("none"))
}

func TestConcurrentRecord(t *testing.T) {
	m := NewMonitor(Options{HistorySize: 1000})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				m.Record(result("api", false, 1))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 500, m.ConsecutiveFailures("api"))
	assert.Len(t, m.History("api"), 500)
}

func TestSummaryAndRetain(t *testing.T) {
	m := NewMonitor(Options{})
	m.Record(result("b", false, 10))
	m.Record(result("a", true, 20))

	summary := m.Summary()
	require.Len(t, summary.Sites, 2)
	assert.Equal(t, "a", summary.Sites[0].Name)
	assert.Equal(t, 1, summary.Sites[1].ConsecutiveFailures)
	require.NotNil(t, summary.Sites[1].LastResult)

	m.Retain([]string{"a"})
	summary = m.Summary()
	require.Len(t, summary.Sites, 1)
	assert.Equal(t, "a", summary.Sites[0].Name)
}

func serviceSite(t *testing.T, url string) *config.ServiceSite {
	t.Helper()
	_, portStr, err := net.SplitHostPort(url[len("http://"):])
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return &config.ServiceSite{Name: "api", Domain: "api.localhost", Port: port, HealthPath: "/health"}
}

func TestCheckServiceHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	res := NewChecker(time.Second).Check(context.Background(), serviceSite(t, srv.URL))
	assert.True(t, res.Healthy)
	require.NotNil(t, res.StatusCode)
	assert.Equal(t, 200, *res.StatusCode)
	assert.NotNil(t, res.ResponseTimeMs)
}

func TestCheckServiceRedirectIsHealthy(t *testing.T) {
	srv := httptest.NewServer(http.RedirectHandler("/elsewhere", http.StatusFound))
	defer srv.Close()

	res := NewChecker(time.Second).Check(context.Background(), serviceSite(t, srv.URL))
	assert.True(t, res.Healthy)
	assert.Equal(t, http.StatusFound, *res.StatusCode)
}

func TestCheckServiceErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	res := NewChecker(time.Second).Check(context.Background(), serviceSite(t, srv.URL))
	assert.False(t, res.Healthy)
	assert.Contains(t, res.Message, "503")
}

func TestCheckServiceUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	site := serviceSite(t, srv.URL)
	srv.Close()

	res := NewChecker(time.Second).Check(context.Background(), site)
	assert.False(t, res.Healthy)
	assert.Nil(t, res.StatusCode)
	assert.Contains(t, res.Message, "connect")
}

func TestCheckServiceTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	res := NewChecker(200*time.Millisecond).Check(context.Background(), serviceSite(t, srv.URL))
	assert.False(t, res.Healthy)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCheckStatic(t *testing.T) {
	dir := t.TempDir()
	c := NewChecker(0)

	res := c.Check(context.Background(), &config.StaticSite{Name: "docs", OutputPath: dir})
	assert.True(t, res.Healthy)

	res = c.Check(context.Background(), &config.StaticSite{Name: "docs", OutputPath: filepath.Join(dir, "missing")})
	assert.False(t, res.Healthy)
	assert.Contains(t, res.Message, "output path")
}
