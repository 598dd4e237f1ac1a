package proc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"arc/internal/logger"
	"arc/internal/metrics"
	"arc/internal/utils"
)

const (
	orphanKillTimeout = 3 * time.Second
	portReleaseWait   = 3 * time.Second
)

// Launchers shared by unrelated programs. Matching them by executable
// name would hit processes that have nothing to do with us.
var genericRunners = map[string]bool{
	"node": true, "npm": true, "npx": true, "yarn": true, "pnpm": true, "bun": true, "deno": true,
	"python": true, "python3": true, "ruby": true, "bundle": true, "php": true, "java": true,
	"go": true, "cargo": true, "dotnet": true, "sh": true, "bash": true, "zsh": true, "env": true,
}

// IsGenericRunner reports whether program is a language launcher or shell
func IsGenericRunner(program string) bool {
	return genericRunners[strings.ToLower(utils.Path2ProcessName(program))]
}

// Excluder reports pids that must never be killed by a sweep
type Excluder func(pid int) bool

func (e Excluder) skip(pid int) bool {
	return e != nil && e(pid)
}

/**
 * Make sure nothing is left listening on port before a service is started
 * @param {context.Context} ctx - cancellation
 * @param {int} port - service port
 * @param {string} program - program of the service about to start
 * @param {Excluder} exclude - pids owned by live supervised processes
 * @returns {error} when the port stays bound after the sweep
 * @description
 * - Kills every listener on port that is not excluded
 * - Kills stray processes whose executable is program, unless it is a generic runner
 * - Best effort, every forced kill is logged and counted
 */
func EnsurePortFree(ctx context.Context, port int, program string, exclude Excluder) error {
	killed := killPortOwners(ctx, port, exclude)
	if program != "" && !IsGenericRunner(program) {
		killed += killByProgram(ctx, program, exclude)
	}
	if !utils.CheckPortConnectable(port) {
		return nil
	}
	if killed > 0 && utils.WaitForPortFree(ctx, port, portReleaseWait) {
		return nil
	}
	return fmt.Errorf("port %d is still in use by another process", port)
}

/**
 * Kill processes that survived a stopAll
 * @param {context.Context} ctx - cancellation
 * @param {[]int} ports - ports of the service sites
 * @param {[]string} programs - programs of the service sites
 * @param {Excluder} exclude - pids that must survive
 * @returns {int} number of processes killed
 */
func SweepOrphans(ctx context.Context, ports []int, programs []string, exclude Excluder) int {
	killed := 0
	for _, port := range ports {
		killed += killPortOwners(ctx, port, exclude)
	}
	for _, program := range programs {
		if program == "" || IsGenericRunner(program) {
			continue
		}
		killed += killByProgram(ctx, program, exclude)
	}
	if killed > 0 {
		logger.Warnf("Orphan sweep killed %d process(es)", killed)
	}
	return killed
}

func killPortOwners(ctx context.Context, port int, exclude Excluder) int {
	if !utils.CheckPortConnectable(port) {
		return 0
	}
	owners, err := utils.FindPortOwners(ctx, port)
	if err != nil {
		logger.Warnf("Failed to look up owners of port %d: %v", port, err)
		return 0
	}
	killed := 0
	for _, p := range owners {
		if exclude.skip(p.Pid) {
			continue
		}
		if forceKill(p, fmt.Sprintf("listening on port %d", port)) {
			metrics.OrphanKilled("port")
			killed++
		}
	}
	return killed
}

func killByProgram(ctx context.Context, program string, exclude Excluder) int {
	matches, err := utils.FindProcessesByProgram(ctx, program)
	if err != nil {
		logger.Warnf("Failed to scan processes for '%s': %v", program, err)
		return 0
	}
	killed := 0
	for _, p := range matches {
		if exclude.skip(p.Pid) {
			continue
		}
		if forceKill(p, fmt.Sprintf("matches '%s'", program)) {
			metrics.OrphanKilled("program")
			killed++
		}
	}
	return killed
}

func forceKill(p utils.ProcessInfo, reason string) bool {
	logger.Warnf("Killing orphan process %d (%s): %s [%s]", p.Pid, p.Name, reason, p.Cmdline)
	if _, err := utils.TerminateProcess(p.Pid, false, orphanKillTimeout); err != nil {
		logger.Errorf("Failed to kill orphan process %d: %v", p.Pid, err)
		return false
	}
	return true
}
