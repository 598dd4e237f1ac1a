package models

import "time"

type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// HealthCheckResult is the outcome of one probe against a site
type HealthCheckResult struct {
	Name           string    `json:"name" yaml:"name"`
	Healthy        bool      `json:"healthy" yaml:"healthy"`
	Message        string    `json:"message,omitempty" yaml:"message,omitempty"`
	ResponseTimeMs *int64    `json:"responseTimeMs,omitempty" yaml:"responseTimeMs,omitempty"`
	StatusCode     *int      `json:"statusCode,omitempty" yaml:"statusCode,omitempty"`
	Timestamp      time.Time `json:"timestamp" yaml:"timestamp"`
}

type SiteHealth struct {
	Name                string             `json:"name" yaml:"name"`
	ConsecutiveFailures int                `json:"consecutiveFailures" yaml:"consecutiveFailures"`
	Status              HealthStatus       `json:"status" yaml:"status"`
	UptimePercentage    *float64           `json:"uptimePercentage,omitempty" yaml:"uptimePercentage,omitempty"`
	AverageResponseMs   *float64           `json:"averageResponseMs,omitempty" yaml:"averageResponseMs,omitempty"`
	LastResult          *HealthCheckResult `json:"lastResult,omitempty" yaml:"lastResult,omitempty"`
}

// HealthSummary aggregates per-site failure streaks
type HealthSummary struct {
	Overall HealthStatus `json:"overall" yaml:"overall"`
	Sites   []SiteHealth `json:"sites" yaml:"sites"`
}

// HealthResponse is served by the admin /healthz endpoint
type HealthResponse struct {
	Version   string       `json:"version" yaml:"version"`
	StartTime string       `json:"startTime" yaml:"startTime"`
	Status    string       `json:"status" yaml:"status"`
	Uptime    string       `json:"uptime" yaml:"uptime"`
	Health    HealthStatus `json:"health" yaml:"health"`
	Metrics   Metrics      `json:"metrics" yaml:"metrics"`
}

type Metrics struct {
	ProxyRequests  int64 `json:"proxyRequests" yaml:"proxyRequests"`
	ProxyErrors    int64 `json:"proxyErrors" yaml:"proxyErrors"`
	ActiveServices int   `json:"activeServices" yaml:"activeServices"`
	TunnelRunning  bool  `json:"tunnelRunning" yaml:"tunnelRunning"`
}
