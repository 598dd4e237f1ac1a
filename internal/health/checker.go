package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"arc/internal/config"
	"arc/internal/models"
)

const DefaultTimeout = 5 * time.Second

// Checker probes sites. A service is healthy when its health endpoint
// answers 2xx or 3xx; a static site is healthy when its output path exists.
type Checker struct {
	client *http.Client
}

func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Checker{
		client: &http.Client{
			Timeout: timeout,
			// a redirect is an answer, do not chase it
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Transport: &http.Transport{DisableKeepAlives: true},
		},
	}
}

/**
 * Probe one site
 * @param {context.Context} ctx - cancellation
 * @param {config.Site} site - static or service site
 * @returns {models.HealthCheckResult} failures are reported in Message, never as an error
 */
func (c *Checker) Check(ctx context.Context, site config.Site) models.HealthCheckResult {
	switch s := site.(type) {
	case *config.ServiceSite:
		return c.checkService(ctx, s)
	case *config.StaticSite:
		return checkStatic(s)
	default:
		return models.HealthCheckResult{
			Name:      site.SiteName(),
			Message:   fmt.Sprintf("unknown site type %s", site.SiteType()),
			Timestamp: time.Now(),
		}
	}
}

func (c *Checker) checkService(ctx context.Context, s *config.ServiceSite) models.HealthCheckResult {
	res := models.HealthCheckResult{Name: s.Name, Timestamp: time.Now()}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.HealthURL(), nil)
	if err != nil {
		res.Message = err.Error()
		return res
	}
	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start).Milliseconds()
	res.ResponseTimeMs = &elapsed
	if err != nil {
		res.Message = err.Error()
		return res
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	code := resp.StatusCode
	res.StatusCode = &code
	if code >= 200 && code < 400 {
		res.Healthy = true
		res.Message = "OK"
	} else {
		res.Message = fmt.Sprintf("health endpoint returned %d", code)
	}
	return res
}

func checkStatic(s *config.StaticSite) models.HealthCheckResult {
	res := models.HealthCheckResult{Name: s.Name, Timestamp: time.Now()}
	if _, err := os.Stat(s.OutputPath); err != nil {
		res.Message = fmt.Sprintf("output path unavailable: %v", err)
		return res
	}
	res.Healthy = true
	res.Message = "OK"
	return res
}
