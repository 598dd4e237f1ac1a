package models

import (
	"time"
)

// CheckResponse 检查API响应结构
type CheckResponse struct {
	Timestamp     time.Time           `json:"timestamp"`
	Results       []HealthCheckResult `json:"results"`
	OverallStatus HealthStatus        `json:"overallStatus"`
	TotalChecks   int                 `json:"totalChecks"`
	PassedChecks  int                 `json:"passedChecks"`
	FailedChecks  int                 `json:"failedChecks"`
}
