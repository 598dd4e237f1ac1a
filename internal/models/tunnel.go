package models

import "time"

// TunnelStatus reports the tunnel helper process
type TunnelStatus struct {
	Enabled    bool      `json:"enabled" yaml:"enabled"`
	Identifier string    `json:"identifier,omitempty" yaml:"identifier,omitempty"`
	Port       int       `json:"port,omitempty" yaml:"port,omitempty"`
	Status     RunStatus `json:"status" yaml:"status"`
	Pid        int       `json:"pid,omitempty" yaml:"pid,omitempty"`
	StartTime  time.Time `json:"startTime,omitempty" yaml:"startTime,omitempty"`
}
