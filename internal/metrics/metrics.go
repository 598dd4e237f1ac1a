package metrics

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	proxyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arc_proxy_requests_total",
			Help: "Requests handled by the router, by site and status code",
		},
		[]string{"site", "code"},
	)

	proxyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arc_proxy_request_duration_seconds",
			Help:    "Time spent serving a routed request",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"site"},
	)

	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arc_process_starts_total",
			Help: "Process start attempts, by process name and result",
		},
		[]string{"name", "result"},
	)

	orphanKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arc_orphan_kills_total",
			Help: "Processes force-killed by the orphan sweep",
		},
		[]string{"reason"},
	)

	failureStreak = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arc_site_failure_streak",
			Help: "Consecutive failed health checks per site",
		},
		[]string{"site"},
	)

	watchEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arc_watch_fires_total",
			Help: "Debounced watch callbacks fired, by kind",
		},
		[]string{"kind"},
	)

	reloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arc_reloads_total",
			Help: "Configuration reloads, by result",
		},
		[]string{"result"},
	)

	apiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arc_admin_requests_total",
			Help: "Admin API requests, by route and status code",
		},
		[]string{"route", "code"},
	)

	apiDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arc_admin_request_duration_seconds",
			Help:    "Duration of admin API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// prometheus 不方便读回计数，本地再维护一份总数供 /healthz 使用
	totalProxyRequests atomic.Int64
	totalProxyErrors   atomic.Int64
)

func init() {
	prometheus.MustRegister(proxyRequests, proxyDuration, processStarts, orphanKills,
		failureStreak, watchEvents, reloads, apiRequests, apiDuration)
}

// ObserveProxyRequest records one routed request
func ObserveProxyRequest(site string, code int, elapsed time.Duration) {
	if site == "" {
		site = "unmatched"
	}
	proxyRequests.WithLabelValues(site, strconv.Itoa(code)).Inc()
	proxyDuration.WithLabelValues(site).Observe(elapsed.Seconds())
	totalProxyRequests.Add(1)
	if code >= 500 {
		totalProxyErrors.Add(1)
	}
}

func ProcessStarted(name string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	processStarts.WithLabelValues(name, result).Inc()
}

func OrphanKilled(reason string) {
	orphanKills.WithLabelValues(reason).Inc()
}

func SetFailureStreak(site string, streak int) {
	failureStreak.WithLabelValues(site).Set(float64(streak))
}

// ForgetSite drops per-site series after a reload removed the site
func ForgetSite(site string) {
	failureStreak.DeleteLabelValues(site)
}

func WatchFired(kind string) {
	watchEvents.WithLabelValues(kind).Inc()
}

func Reloaded(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	reloads.WithLabelValues(result).Inc()
}

func ObserveAPIRequest(route string, code int, elapsed time.Duration) {
	apiRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	apiDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func TotalProxyRequests() int64 {
	return totalProxyRequests.Load()
}

func TotalProxyErrors() int64 {
	return totalProxyErrors.Load()
}
