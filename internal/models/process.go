package models

import "time"

type RunStatus string

const (
	// spawned, waiting for the liveness re-check
	StatusStarting RunStatus = "starting"
	StatusRunning  RunStatus = "running"
	// SIGTERM sent, waiting for the group to exit
	StatusStopping RunStatus = "stopping"
	// exited on its own after startup
	StatusCrashed RunStatus = "crashed"
	StatusStopped RunStatus = "stopped"
	StatusError   RunStatus = "error"
)

type ProcessType string

const (
	ProcessService      ProcessType = "service"
	ProcessTunnelHelper ProcessType = "tunnelHelper"
)

// ProcessRecord describes one live process owned by the supervisor
type ProcessRecord struct {
	Pid              int         `json:"pid" yaml:"pid"`
	Name             string      `json:"name" yaml:"name"`
	Type             ProcessType `json:"type" yaml:"type"`
	StartedAt        time.Time   `json:"startedAt" yaml:"startedAt"`
	UsesProcessGroup bool        `json:"usesProcessGroup" yaml:"usesProcessGroup"`
}

type ProcessDetail struct {
	ProcessRecord `yaml:",inline"`
	Command       string    `json:"command" yaml:"command"` //进程启动命令
	Args          []string  `json:"args" yaml:"args"`       //进程参数
	WorkDir       string    `json:"workDir" yaml:"workDir"` //工作目录
	Port          int       `json:"port,omitempty" yaml:"port,omitempty"`
	LogFile       string    `json:"logFile" yaml:"logFile"`
	Status        RunStatus `json:"status" yaml:"status"`
}
