//go:build !windows

package utils

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

const probeInterval = 100 * time.Millisecond

// SetNewPG puts the child into its own process group so the whole tree can
// be signalled at once.
func SetNewPG(cmd *exec.Cmd) bool {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	return true
}

/**
 * Send a signal to a process group, or to the pid alone
 * @param {int} pid - leader pid
 * @param {bool} group - signal -pid instead of pid
 * @param {syscall.Signal} sig - signal to send
 * @returns {error} nil when delivered or when the target is already gone
 */
func SignalProcess(pid int, group bool, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	target := pid
	if group {
		target = -pid
	}
	err := syscall.Kill(target, sig)
	if err != nil && group && errors.Is(err, syscall.ESRCH) {
		// 进程组已不存在，退回到单个进程
		err = syscall.Kill(pid, sig)
	}
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// IsProcessRunning reports whether pid exists. EPERM means it exists but
// belongs to someone else.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

/**
 * Terminate a process gracefully with SIGTERM first, then SIGKILL if needed
 * @param {int} pid - Process ID to kill
 * @param {bool} group - signal the process group led by pid
 * @param {time.Duration} timeout - grace period before SIGKILL
 * @returns {bool} true when SIGKILL had to be used
 * @returns {error} signal delivery errors
 * @description
 * - Polls liveness every 100ms during the grace period
 * - A process that is already gone is not an error
 */
func TerminateProcess(pid int, group bool, timeout time.Duration) (bool, error) {
	if err := SignalProcess(pid, group, syscall.SIGTERM); err != nil {
		return false, err
	}
	if WaitForExit(pid, timeout) {
		return false, nil
	}
	if err := SignalProcess(pid, group, syscall.SIGKILL); err != nil {
		return true, fmt.Errorf("failed to kill process (PID: %d): %w", pid, err)
	}
	WaitForExit(pid, time.Second)
	return true, nil
}

// WaitForExit polls until pid disappears or timeout elapses
func WaitForExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if !IsProcessRunning(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(probeInterval)
	}
}
