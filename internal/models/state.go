package models

import "time"

// SiteState is a row of the snapshot: one configured site
type SiteState struct {
	Name    string         `json:"name" yaml:"name"`
	Domain  string         `json:"domain" yaml:"domain"`
	Kind    string         `json:"kind" yaml:"kind"`
	Port    int            `json:"port,omitempty" yaml:"port,omitempty"`
	Process *ProcessDetail `json:"process,omitempty" yaml:"process,omitempty"`
	Health  HealthStatus   `json:"health" yaml:"health"`
}

// Snapshot is the read-only view of a running instance
type Snapshot struct {
	Name          string          `json:"name" yaml:"name"`
	ProxyPort     int             `json:"proxyPort" yaml:"proxyPort"`
	ConfigPath    string          `json:"configPath" yaml:"configPath"`
	StartTime     time.Time       `json:"startTime" yaml:"startTime"`
	Sites         []SiteState     `json:"sites" yaml:"sites"`
	Processes     []ProcessRecord `json:"processes" yaml:"processes"`
	HealthSummary HealthSummary   `json:"healthSummary" yaml:"healthSummary"`
}
