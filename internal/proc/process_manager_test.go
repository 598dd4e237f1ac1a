//go:build !windows

package proc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arc/internal/errs"
	"arc/internal/models"
	"arc/internal/utils"
)

const helperEnv = "ARC_PROC_HELPER"

// TestMain doubles as the child process: when helperEnv is set the test
// binary behaves like a small backend instead of running tests.
func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		runHelper(mode)
		return
	}
	os.Exit(m.Run())
}

func runHelper(mode string) {
	switch mode {
	case "crash":
		fmt.Println("loading settings")
		fmt.Fprintln(os.Stderr, "fatal: DATABASE_URL is not set")
		os.Exit(3)
	case "ignore-term":
		signal.Ignore(syscall.SIGTERM)
		fmt.Println("ready")
		time.Sleep(time.Hour)
	case "env":
		fmt.Printf("PORT=%s GREETING=%s\n", os.Getenv("PORT"), os.Getenv("GREETING"))
		time.Sleep(time.Hour)
	case "listen":
		ln, err := net.Listen("tcp", "127.0.0.1:"+os.Getenv("PORT"))
		if err != nil {
			os.Exit(4)
		}
		defer ln.Close()
		fmt.Println("listening")
		time.Sleep(time.Hour)
	default:
		fmt.Println("ready")
		time.Sleep(time.Hour)
	}
}

func helper(t *testing.T, name, mode string) StartOptions {
	t.Helper()
	return StartOptions{
		Name:    name,
		Type:    models.ProcessService,
		Command: os.Args[0],
		Args:    []string{"-test.run=^$"},
		WorkDir: t.TempDir(),
		Env:     map[string]string{helperEnv: mode},
	}
}

func newSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	s := NewSupervisor(t.TempDir())
	s.LivenessDelay = 200 * time.Millisecond
	s.SettleDelay = 50 * time.Millisecond
	s.StopTimeout = time.Second
	t.Cleanup(s.StopAll)
	return s
}

func TestStartAndStop(t *testing.T) {
	s := newSupervisor(t)

	pid, err := s.Start(context.Background(), helper(t, "web", "sleep"))
	require.NoError(t, err)
	assert.True(t, utils.IsProcessRunning(pid))
	assert.True(t, s.IsTracked(pid))

	records := s.GetAllProcesses()
	require.Len(t, records, 1)
	assert.Equal(t, "web", records[0].Name)
	assert.Equal(t, pid, records[0].Pid)
	assert.Equal(t, models.ProcessService, records[0].Type)
	assert.True(t, records[0].UsesProcessGroup)

	detail, ok := s.Get("web")
	require.True(t, ok)
	assert.Equal(t, models.StatusRunning, detail.Status)
	assert.Equal(t, s.LogPath("web"), detail.LogFile)

	require.NoError(t, s.Stop("web"))
	assert.False(t, utils.IsProcessRunning(pid))
	assert.Empty(t, s.GetAllProcesses())

	// stopping an unknown name is a no-op
	assert.NoError(t, s.Stop("web"))
	assert.NoError(t, s.Stop("nobody"))
}

func TestImmediateCrashIsReported(t *testing.T) {
	s := newSupervisor(t)

	_, err := s.Start(context.Background(), helper(t, "broken", "crash"))
	require.Error(t, err)

	var startErr *errs.ProcessStartupError
	require.True(t, errors.As(err, &startErr))
	assert.Equal(t, "broken", startErr.Name)
	assert.Contains(t, strings.Join(startErr.LogTail, "\n"), "DATABASE_URL is not set")

	assert.Empty(t, s.GetAllProcesses())
	_, ok := s.Get("broken")
	assert.False(t, ok)
}

func TestMissingExecutable(t *testing.T) {
	s := newSupervisor(t)
	opts := helper(t, "ghost", "sleep")
	opts.Command = filepath.Join(t.TempDir(), "does-not-exist")

	_, err := s.Start(context.Background(), opts)
	var startErr *errs.ProcessStartupError
	require.True(t, errors.As(err, &startErr))
	assert.Empty(t, s.GetAllProcesses())
}

func TestUnwritableLogDirIsFatal(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	s := newSupervisor(t)
	ro := filepath.Join(t.TempDir(), "ro")
	require.NoError(t, os.Mkdir(ro, 0o555))
	s.logDir = filepath.Join(ro, "logs")

	_, err := s.Start(context.Background(), helper(t, "web", "sleep"))
	var startErr *errs.ProcessStartupError
	require.True(t, errors.As(err, &startErr))
}

func TestDuplicateNameRejected(t *testing.T) {
	s := newSupervisor(t)

	_, err := s.Start(context.Background(), helper(t, "web", "sleep"))
	require.NoError(t, err)

	_, err = s.Start(context.Background(), helper(t, "web", "sleep"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Len(t, s.GetAllProcesses(), 1)
}

func TestRestartReplacesProcess(t *testing.T) {
	s := newSupervisor(t)
	opts := helper(t, "api", "sleep")

	oldPid, err := s.Start(context.Background(), opts)
	require.NoError(t, err)

	newPid, err := s.Restart(context.Background(), opts)
	require.NoError(t, err)
	assert.NotEqual(t, oldPid, newPid)
	assert.False(t, utils.IsProcessRunning(oldPid))

	records := s.GetAllProcesses()
	require.Len(t, records, 1)
	assert.Equal(t, newPid, records[0].Pid)
}

func TestRestartSettlesBeforeStart(t *testing.T) {
	s := newSupervisor(t)
	s.SettleDelay = 200 * time.Millisecond
	opts := helper(t, "api", "sleep")

	oldPid, err := s.Start(context.Background(), opts)
	require.NoError(t, err)

	var stoppedFor time.Duration
	stopped := time.Now()
	opts.BeforeStart = func(ctx context.Context) error {
		assert.False(t, utils.IsProcessRunning(oldPid))
		stoppedFor = time.Since(stopped)
		return nil
	}
	_, err = s.Restart(context.Background(), opts)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stoppedFor, s.SettleDelay)

	opts.BeforeStart = func(ctx context.Context) error { return errors.New("port busy") }
	_, err = s.Restart(context.Background(), opts)
	var startErr *errs.ProcessStartupError
	require.True(t, errors.As(err, &startErr))
	assert.Contains(t, err.Error(), "port busy")
	assert.Empty(t, s.GetAllProcesses())
}

func TestStopEscalatesToKill(t *testing.T) {
	s := newSupervisor(t)
	s.StopTimeout = 300 * time.Millisecond

	pid, err := s.Start(context.Background(), helper(t, "stubborn", "ignore-term"))
	require.NoError(t, err)

	require.NoError(t, s.Stop("stubborn"))
	assert.False(t, utils.IsProcessRunning(pid))
}

func TestCrashAfterStartIsPruned(t *testing.T) {
	s := newSupervisor(t)

	pid, err := s.Start(context.Background(), helper(t, "web", "sleep"))
	require.NoError(t, err)
	require.NoError(t, syscall.Kill(pid, syscall.SIGKILL))

	require.Eventually(t, func() bool { return len(s.GetAllProcesses()) == 0 }, 2*time.Second, 20*time.Millisecond)
	assert.False(t, s.IsTracked(pid))

	// the name is free again
	_, err = s.Start(context.Background(), helper(t, "web", "sleep"))
	assert.NoError(t, err)
}

func TestPortInjectedIntoEnvironment(t *testing.T) {
	s := newSupervisor(t)
	opts := helper(t, "env", "env")
	opts.Env["PORT"] = "1"
	opts.Env["GREETING"] = "hello"
	opts.Port = 9123

	_, err := s.Start(context.Background(), opts)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		data, _ := os.ReadFile(s.LogPath("env"))
		return strings.Contains(string(data), "PORT=9123 GREETING=hello")
	}, 2*time.Second, 20*time.Millisecond)
}

func TestStopAll(t *testing.T) {
	s := newSupervisor(t)
	var pids []int
	for _, name := range []string{"a", "b", "c"} {
		pid, err := s.Start(context.Background(), helper(t, name, "sleep"))
		require.NoError(t, err)
		pids = append(pids, pid)
	}

	s.StopAll()
	assert.Empty(t, s.GetAllProcesses())
	for _, pid := range pids {
		assert.False(t, utils.IsProcessRunning(pid))
	}
}

func TestBuildEnv(t *testing.T) {
	env := BuildEnv([]string{"PATH=/bin", "PORT=80", "HOME=/root"},
		map[string]string{"HOME": "/tmp", "MODE": "dev"}, 3000)

	assert.Contains(t, env, "PATH=/bin")
	assert.Contains(t, env, "HOME=/tmp")
	assert.Contains(t, env, "MODE=dev")
	assert.Contains(t, env, "PORT=3000")
	assert.NotContains(t, env, "PORT=80")
	assert.NotContains(t, env, "HOME=/root")

	assert.Equal(t, []string{"A=1"}, BuildEnv([]string{"A=1"}, nil, 0))
}
