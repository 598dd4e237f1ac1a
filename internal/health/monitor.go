package health

import (
	"sort"
	"sync"

	"arc/internal/metrics"
	"arc/internal/models"
)

const (
	DefaultHistorySize        = 100
	DefaultDegradedThreshold  = 2
	DefaultUnhealthyThreshold = 5
)

type Options struct {
	HistorySize        int
	DegradedThreshold  int
	UnhealthyThreshold int
}

// siteRecord keeps a fixed-size ring of results plus the current failure streak
type siteRecord struct {
	ring   []models.HealthCheckResult
	next   int
	count  int
	streak int
}

func (r *siteRecord) push(res models.HealthCheckResult) {
	r.ring[r.next] = res
	r.next = (r.next + 1) % len(r.ring)
	if r.count < len(r.ring) {
		r.count++
	}
}

// ordered returns the history oldest first
func (r *siteRecord) ordered() []models.HealthCheckResult {
	out := make([]models.HealthCheckResult, 0, r.count)
	start := (r.next - r.count + len(r.ring)) % len(r.ring)
	for i := 0; i < r.count; i++ {
		out = append(out, r.ring[(start+i)%len(r.ring)])
	}
	return out
}

/**
 * Monitor records health results and classifies sites by failure streak
 * @description
 * - Record is safe for concurrent use by many probe goroutines
 * - Status compares the current streak against the thresholds, a single
 *   success clears it
 */
type Monitor struct {
	opts  Options
	mu    sync.RWMutex
	sites map[string]*siteRecord
}

func NewMonitor(opts Options) *Monitor {
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.DegradedThreshold <= 0 {
		opts.DegradedThreshold = DefaultDegradedThreshold
	}
	if opts.UnhealthyThreshold <= 0 {
		opts.UnhealthyThreshold = DefaultUnhealthyThreshold
	}
	return &Monitor{
		opts:  opts,
		sites: make(map[string]*siteRecord),
	}
}

// Record appends a result to the site's history and updates its streak
func (m *Monitor) Record(res models.HealthCheckResult) {
	m.mu.Lock()
	r, ok := m.sites[res.Name]
	if !ok {
		r = &siteRecord{ring: make([]models.HealthCheckResult, m.opts.HistorySize)}
		m.sites[res.Name] = r
	}
	r.push(res)
	if res.Healthy {
		r.streak = 0
	} else {
		r.streak++
	}
	streak := r.streak
	m.mu.Unlock()

	metrics.SetFailureStreak(res.Name, streak)
}

// Retain drops every site not listed in names
func (m *Monitor) Retain(names []string) {
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for name := range m.sites {
		if !keep[name] {
			delete(m.sites, name)
			metrics.ForgetSite(name)
		}
	}
}

func (m *Monitor) classify(streak int) models.HealthStatus {
	switch {
	case streak >= m.opts.UnhealthyThreshold:
		return models.Unhealthy
	case streak >= m.opts.DegradedThreshold:
		return models.Degraded
	default:
		return models.Healthy
	}
}

// ConsecutiveFailures returns the current streak, 0 for unknown sites
func (m *Monitor) ConsecutiveFailures(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.sites[name]; ok {
		return r.streak
	}
	return 0
}

// StatusFor classifies one site. Unknown sites are healthy.
func (m *Monitor) StatusFor(name string) models.HealthStatus {
	return m.classify(m.ConsecutiveFailures(name))
}

// OverallStatus is the worst status across all sites
func (m *Monitor) OverallStatus() models.HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	worst := 0
	for _, r := range m.sites {
		if r.streak > worst {
			worst = r.streak
		}
	}
	return m.classify(worst)
}

// History returns a copy of the site's results, oldest first
func (m *Monitor) History(name string) []models.HealthCheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.sites[name]
	if !ok {
		return nil
	}
	return r.ordered()
}

// UptimePercentage is the share of healthy results in history, nil without history
func (m *Monitor) UptimePercentage(name string) *float64 {
	history := m.History(name)
	if len(history) == 0 {
		return nil
	}
	ok := 0
	for _, h := range history {
		if h.Healthy {
			ok++
		}
	}
	pct := float64(ok) * 100 / float64(len(history))
	return &pct
}

// AverageResponseTime averages the results that carry a response time
func (m *Monitor) AverageResponseTime(name string) *float64 {
	var sum int64
	n := 0
	for _, h := range m.History(name) {
		if h.ResponseTimeMs != nil {
			sum += *h.ResponseTimeMs
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := float64(sum) / float64(n)
	return &avg
}

func (m *Monitor) Summary() models.HealthSummary {
	m.mu.RLock()
	names := make([]string, 0, len(m.sites))
	for name := range m.sites {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)

	summary := models.HealthSummary{Overall: m.OverallStatus(), Sites: []models.SiteHealth{}}
	for _, name := range names {
		streak := m.ConsecutiveFailures(name)
		sh := models.SiteHealth{
			Name:                name,
			ConsecutiveFailures: streak,
			Status:              m.classify(streak),
			UptimePercentage:    m.UptimePercentage(name),
			AverageResponseMs:   m.AverageResponseTime(name),
		}
		if history := m.History(name); len(history) > 0 {
			last := history[len(history)-1]
			sh.LastResult = &last
		}
		summary.Sites = append(summary.Sites, sh)
	}
	return summary
}
