package utils

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessInfo identifies a process found on the host
type ProcessInfo struct {
	Pid     int
	Name    string
	Cmdline string
}

/**
 * Find the processes listening on a TCP port
 * @param {context.Context} ctx - cancellation
 * @param {int} port - local port
 * @returns {[]ProcessInfo} listeners, our own pid excluded
 * @returns {error} enumeration errors
 */
func FindPortOwners(ctx context.Context, port int) ([]ProcessInfo, error) {
	conns, err := psnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return nil, err
	}
	self := int32(os.Getpid())
	seen := make(map[int32]bool)
	var result []ProcessInfo
	for _, c := range conns {
		if c.Status != "LISTEN" || int(c.Laddr.Port) != port || c.Pid <= 0 || c.Pid == self {
			continue
		}
		if seen[c.Pid] {
			continue
		}
		seen[c.Pid] = true
		result = append(result, describe(ctx, c.Pid))
	}
	return result, nil
}

/**
 * Convert a program path to its process name
 * @param {string} path - absolute, relative or bare program, any separator
 * @returns {string} base name without a .exe suffix
 */
func Path2ProcessName(path string) string {
	path = strings.ReplaceAll(strings.TrimSpace(path), "\\", "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	if strings.HasSuffix(strings.ToLower(path), ".exe") {
		path = path[:len(path)-4]
	}
	return path
}

// canonicalPath resolves symlinks so /tmp and /private/tmp style aliases compare equal
func canonicalPath(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return filepath.Clean(path)
}

/**
 * Find processes running program
 * @param {context.Context} ctx - cancellation
 * @param {string} program - absolute path, or a bare name looked up by process name
 * @returns {[]ProcessInfo} matches, our own pid excluded
 * @returns {error} enumeration errors
 * @description
 * - A path matches the process executable or its argv[0], never other arguments
 * - A bare name matches the executable name case-insensitively, like the
 *   name shown by ps
 * - Processes that vanish or deny access during the scan are skipped
 */
func FindProcessesByProgram(ctx context.Context, program string) ([]ProcessInfo, error) {
	program = strings.TrimSpace(program)
	if program == "" {
		return nil, nil
	}
	byPath := strings.ContainsAny(program, `/\`)
	want := Path2ProcessName(program)
	if byPath {
		program = canonicalPath(program)
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	self := int32(os.Getpid())
	var result []ProcessInfo
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		argv, err := p.CmdlineSliceWithContext(ctx)
		if err != nil || len(argv) == 0 {
			continue
		}
		exe, _ := p.ExeWithContext(ctx)

		matched := false
		if byPath {
			matched = (exe != "" && canonicalPath(exe) == program) ||
				(filepath.IsAbs(argv[0]) && canonicalPath(argv[0]) == program)
		} else {
			matched = strings.EqualFold(Path2ProcessName(argv[0]), want) ||
				(exe != "" && strings.EqualFold(Path2ProcessName(exe), want))
		}
		if !matched {
			continue
		}
		name, _ := p.NameWithContext(ctx)
		result = append(result, ProcessInfo{Pid: int(p.Pid), Name: name, Cmdline: strings.Join(argv, " ")})
	}
	return result, nil
}

func describe(ctx context.Context, pid int32) ProcessInfo {
	info := ProcessInfo{Pid: int(pid)}
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return info
	}
	info.Name, _ = p.NameWithContext(ctx)
	info.Cmdline, _ = p.CmdlineWithContext(ctx)
	return info
}
