//go:build windows

package utils

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
	"unsafe"
)

const (
	PROCESS_QUERY_INFORMATION = 0x0400
	STILL_ACTIVE              = 259 // 进程仍在运行的标志
	probeInterval             = 100 * time.Millisecond
)

var (
	kernel32               = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess        = kernel32.NewProc("OpenProcess")
	procCloseHandle        = kernel32.NewProc("CloseHandle")
	procGetExitCodeProcess = kernel32.NewProc("GetExitCodeProcess")
)

// SetNewPG creates a new process group. Windows has no group signals, so the
// caller still signals the pid alone.
func SetNewPG(cmd *exec.Cmd) bool {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
	return false
}

// SignalProcess on Windows can only kill
func SignalProcess(pid int, group bool, sig syscall.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return p.Kill()
}

// IsProcessRunning 使用 GetExitCodeProcess 检查进程是否正在运行
func IsProcessRunning(pid int) bool {
	handle, _, _ := procOpenProcess.Call(uintptr(PROCESS_QUERY_INFORMATION), 0, uintptr(pid))
	if handle == 0 {
		return false
	}
	defer procCloseHandle.Call(handle)

	var exitCode uint32
	ret, _, _ := procGetExitCodeProcess.Call(handle, uintptr(unsafe.Pointer(&exitCode)))
	if ret == 0 {
		return false
	}
	return exitCode == STILL_ACTIVE
}

func TerminateProcess(pid int, group bool, timeout time.Duration) (bool, error) {
	if err := SignalProcess(pid, group, syscall.SIGKILL); err != nil {
		return true, fmt.Errorf("failed to kill process (PID: %d): %w", pid, err)
	}
	WaitForExit(pid, timeout)
	return true, nil
}

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
