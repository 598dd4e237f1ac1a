package proc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"arc/internal/errs"
	"arc/internal/logger"
	"arc/internal/metrics"
	"arc/internal/models"
	"arc/internal/utils"
)

const (
	DefaultLivenessDelay = 500 * time.Millisecond
	DefaultSettleDelay   = 500 * time.Millisecond
	DefaultStopTimeout   = 5 * time.Second
	logTailLines         = 20
)

// ErrAlreadyRunning is returned by Start when the name is taken by a live process
var ErrAlreadyRunning = errors.New("process already running")

/**
 * StartOptions describes one process launch
 * @property {string} Name - unique name, also the log file name
 * @property {models.ProcessType} Type - service or tunnelHelper
 * @property {string} Command - program to execute
 * @property {[]string} Args - program arguments
 * @property {string} WorkDir - working directory
 * @property {map[string]string} Env - added to the inherited environment
 * @property {int} Port - when set, PORT=<port> overrides any Env value
 * @property {func} BeforeStart - run by Restart between the settle and the spawn
 */
type StartOptions struct {
	Name        string
	Type        models.ProcessType
	Command     string
	Args        []string
	WorkDir     string
	Env         map[string]string
	Port        int
	BeforeStart func(ctx context.Context) error
}

/**
 * ProcessInstance 进程实例信息
 * @property {StartOptions} opts - launch parameters
 * @property {models.RunStatus} status - starting/running/stopping/crashed
 * @property {time.Time} startTime - spawn time
 * @property {bool} usesPG - the child leads its own process group
 * @property {chan} done - closed by the Wait goroutine when the child exits
 */
type ProcessInstance struct {
	opts      StartOptions
	logPath   string
	status    models.RunStatus
	startTime time.Time
	usesPG    bool
	process   *os.Process
	done      chan struct{}
	exitErr   error
	mutex     sync.Mutex
}

func (pi *ProcessInstance) Pid() int {
	if pi.process == nil {
		return 0
	}
	return pi.process.Pid
}

func (pi *ProcessInstance) alive() bool {
	select {
	case <-pi.done:
		return false
	default:
		return true
	}
}

func (pi *ProcessInstance) record() models.ProcessRecord {
	return models.ProcessRecord{
		Pid:              pi.Pid(),
		Name:             pi.opts.Name,
		Type:             pi.opts.Type,
		StartedAt:        pi.startTime,
		UsesProcessGroup: pi.usesPG,
	}
}

func (pi *ProcessInstance) GetDetail() models.ProcessDetail {
	pi.mutex.Lock()
	defer pi.mutex.Unlock()
	return models.ProcessDetail{
		ProcessRecord: pi.record(),
		Command:       pi.opts.Command,
		Args:          pi.opts.Args,
		WorkDir:       pi.opts.WorkDir,
		Port:          pi.opts.Port,
		LogFile:       pi.logPath,
		Status:        pi.status,
	}
}

// watchProcess reaps the child so a dead process is never mistaken for a
// live one, then records why it went away.
func (pi *ProcessInstance) watchProcess(cmd *exec.Cmd, logFile *os.File) {
	err := cmd.Wait()
	logFile.Close()

	pi.mutex.Lock()
	pi.exitErr = err
	prev := pi.status
	if prev == models.StatusRunning {
		pi.status = models.StatusCrashed
	}
	pi.mutex.Unlock()
	close(pi.done)

	if prev == models.StatusRunning {
		if err != nil {
			logger.Errorf("Process '%s' (PID: %d) exited unexpectedly: %v", pi.opts.Name, cmd.Process.Pid, err)
		} else {
			logger.Warnf("Process '%s' (PID: %d) exited unexpectedly", pi.opts.Name, cmd.Process.Pid)
		}
	}
}

/**
 * Supervisor owns the lifecycle of every spawned process
 * @description
 * - At most one live process per name
 * - Children get their own process group when the platform allows it
 * - stdout/stderr go to <logDir>/<name>.log
 * - Dead entries are pruned lazily by readers
 */
type Supervisor struct {
	logDir        string
	LivenessDelay time.Duration
	SettleDelay   time.Duration
	StopTimeout   time.Duration

	mu    sync.Mutex
	procs map[string]*ProcessInstance
}

func NewSupervisor(logDir string) *Supervisor {
	return &Supervisor{
		logDir:        logDir,
		LivenessDelay: DefaultLivenessDelay,
		SettleDelay:   DefaultSettleDelay,
		StopTimeout:   DefaultStopTimeout,
		procs:         make(map[string]*ProcessInstance),
	}
}

// LogPath returns the log file used for name
func (s *Supervisor) LogPath(name string) string {
	return filepath.Join(s.logDir, name+".log")
}

/**
 * Start a process and verify it survives the liveness delay
 * @param {context.Context} ctx - cancels the liveness wait, the child is killed then
 * @param {StartOptions} opts - launch parameters
 * @returns {int} pid of the running process
 * @returns {error} *errs.ProcessStartupError when the spawn fails or the child exits early
 * @description
 * - Refuses a name whose process is still alive
 * - Opening the log file is part of the start, failure aborts it
 * - Nothing is registered when the start fails
 */
func (s *Supervisor) Start(ctx context.Context, opts StartOptions) (int, error) {
	s.mu.Lock()
	if old, ok := s.procs[opts.Name]; ok {
		if old.alive() {
			s.mu.Unlock()
			return 0, &errs.ProcessStartupError{Name: opts.Name, Err: ErrAlreadyRunning}
		}
		delete(s.procs, opts.Name)
	}
	inst := &ProcessInstance{
		opts:    opts,
		logPath: s.LogPath(opts.Name),
		status:  models.StatusStarting,
		done:    make(chan struct{}),
	}
	// 占位，防止同名进程并发启动
	s.procs[opts.Name] = inst
	s.mu.Unlock()

	pid, err := s.spawn(ctx, inst)
	if err != nil {
		s.mu.Lock()
		if s.procs[opts.Name] == inst {
			delete(s.procs, opts.Name)
		}
		s.mu.Unlock()
		metrics.ProcessStarted(opts.Name, false)
		return 0, err
	}
	metrics.ProcessStarted(opts.Name, true)
	return pid, nil
}

func (s *Supervisor) spawn(ctx context.Context, inst *ProcessInstance) (int, error) {
	opts := inst.opts
	fail := func(err error) error {
		tail, _ := utils.TailLines(inst.logPath, logTailLines)
		return &errs.ProcessStartupError{Name: opts.Name, Err: err, LogTail: tail}
	}

	if err := os.MkdirAll(s.logDir, 0755); err != nil {
		return 0, &errs.ProcessStartupError{Name: opts.Name, Err: fmt.Errorf("create log directory: %w", err)}
	}
	logFile, err := os.OpenFile(inst.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return 0, &errs.ProcessStartupError{Name: opts.Name, Err: fmt.Errorf("open log file: %w", err)}
	}
	fmt.Fprintf(logFile, "\n=== %s starting %s %s ===\n",
		time.Now().Format(time.RFC3339), opts.Command, strings.Join(opts.Args, " "))

	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Dir = opts.WorkDir
	cmd.Env = BuildEnv(os.Environ(), opts.Env, opts.Port)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	usesPG := utils.SetNewPG(cmd)

	logger.Infof("Executing command: %s %s", opts.Command, strings.Join(opts.Args, " "))
	if err := cmd.Start(); err != nil {
		logFile.Close()
		logger.Errorf("Failed to start process '%s', error: %v", opts.Name, err)
		return 0, fail(err)
	}

	inst.mutex.Lock()
	inst.process = cmd.Process
	inst.usesPG = usesPG
	inst.startTime = time.Now()
	inst.mutex.Unlock()
	go inst.watchProcess(cmd, logFile)

	timer := time.NewTimer(s.LivenessDelay)
	defer timer.Stop()
	select {
	case <-inst.done:
		inst.mutex.Lock()
		exitErr := inst.exitErr
		inst.mutex.Unlock()
		if exitErr == nil {
			exitErr = errors.New("exited immediately with status 0")
		}
		logger.Errorf("Process '%s' (PID: %d) died during startup: %v", opts.Name, cmd.Process.Pid, exitErr)
		return 0, fail(exitErr)
	case <-ctx.Done():
		s.terminate(inst)
		return 0, fail(ctx.Err())
	case <-timer.C:
	}

	inst.mutex.Lock()
	inst.status = models.StatusRunning
	inst.mutex.Unlock()
	// the child may have exited between the timer firing and the status change
	if !inst.alive() {
		return 0, fail(errors.New("exited during startup"))
	}

	logger.Infof("Process '%s' started (PID: %d)", opts.Name, cmd.Process.Pid)
	return cmd.Process.Pid, nil
}

/**
 * Stop a process by name
 * @param {string} name - process name
 * @returns {error} always nil for unknown or already dead names
 * @description
 * - SIGTERM to the process group (or the pid), SIGKILL after StopTimeout
 * - Returns once the child has been reaped
 */
func (s *Supervisor) Stop(name string) error {
	s.mu.Lock()
	inst, ok := s.procs[name]
	if ok {
		delete(s.procs, name)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.terminate(inst)
}

func (s *Supervisor) terminate(inst *ProcessInstance) error {
	inst.mutex.Lock()
	pid := inst.Pid()
	group := inst.usesPG
	wasAlive := inst.alive()
	if wasAlive {
		inst.status = models.StatusStopping
	}
	inst.mutex.Unlock()

	if pid == 0 || !wasAlive {
		return nil
	}

	if err := utils.SignalProcess(pid, group, syscall.SIGTERM); err != nil {
		logger.Warnf("Failed to send SIGTERM to process '%s' (PID: %d): %v", inst.opts.Name, pid, err)
	}
	timer := time.NewTimer(s.StopTimeout)
	defer timer.Stop()
	select {
	case <-inst.done:
	case <-timer.C:
		logger.Warnf("Process '%s' (PID: %d) ignored SIGTERM for %v, killing", inst.opts.Name, pid, s.StopTimeout)
		if err := utils.SignalProcess(pid, group, syscall.SIGKILL); err != nil {
			return fmt.Errorf("failed to kill process '%s' (PID: %d): %w", inst.opts.Name, pid, err)
		}
		select {
		case <-inst.done:
		case <-time.After(s.StopTimeout):
			return fmt.Errorf("process '%s' (PID: %d) did not exit after SIGKILL", inst.opts.Name, pid)
		}
	}
	if group {
		// 清理组内残留的子进程
		utils.SignalProcess(pid, true, syscall.SIGKILL)
	}

	inst.mutex.Lock()
	inst.status = models.StatusStopped
	inst.mutex.Unlock()
	logger.Infof("Process '%s' (PID: %d) stopped", inst.opts.Name, pid)
	return nil
}

/**
 * Restart a process: stop, settle, start
 * @param {context.Context} ctx - cancels the settle and liveness waits
 * @param {StartOptions} opts - launch parameters for the new process
 * @returns {int} pid of the new process
 * @description
 * - opts.BeforeStart runs after the settle; its error aborts the start
 */
func (s *Supervisor) Restart(ctx context.Context, opts StartOptions) (int, error) {
	if err := s.Stop(opts.Name); err != nil {
		return 0, err
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(s.SettleDelay):
	}
	if opts.BeforeStart != nil {
		if err := opts.BeforeStart(ctx); err != nil {
			return 0, &errs.ProcessStartupError{Name: opts.Name, Err: err}
		}
	}
	return s.Start(ctx, opts)
}

// StopAll stops every process concurrently and waits for all of them
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	names := make([]string, 0, len(s.procs))
	for name := range s.procs {
		names = append(names, name)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(n string) {
			defer wg.Done()
			if err := s.Stop(n); err != nil {
				logger.Errorf("Stop '%s' failed: %v", n, err)
			}
		}(name)
	}
	wg.Wait()
}

// GetAllProcesses returns the live processes sorted by name, pruning dead ones
func (s *Supervisor) GetAllProcesses() []models.ProcessRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []models.ProcessRecord
	for name, inst := range s.procs {
		if !inst.alive() {
			delete(s.procs, name)
			continue
		}
		inst.mutex.Lock()
		running := inst.status == models.StatusRunning
		rec := inst.record()
		inst.mutex.Unlock()
		if running {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records
}

// Get returns the detail of a live process
func (s *Supervisor) Get(name string) (models.ProcessDetail, bool) {
	s.mu.Lock()
	inst, ok := s.procs[name]
	if ok && !inst.alive() {
		delete(s.procs, name)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return models.ProcessDetail{}, false
	}
	return inst.GetDetail(), true
}

// IsTracked reports whether pid belongs to a live supervised process
func (s *Supervisor) IsTracked(pid int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inst := range s.procs {
		if inst.Pid() == pid && inst.alive() {
			return true
		}
	}
	return false
}

// BuildEnv merges base with extra, then forces PORT when port > 0. Later
// values replace earlier ones with the same key.
func BuildEnv(base []string, extra map[string]string, port int) []string {
	override := make(map[string]string, len(extra)+1)
	for k, v := range extra {
		override[k] = v
	}
	if port > 0 {
		override["PORT"] = fmt.Sprintf("%d", port)
	}

	env := make([]string, 0, len(base)+len(override))
	for _, kv := range base {
		key := kv
		if i := strings.IndexByte(kv, '='); i >= 0 {
			key = kv[:i]
		}
		if _, ok := override[key]; ok {
			continue
		}
		env = append(env, kv)
	}
	keys := make([]string, 0, len(override))
	for k := range override {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+override[k])
	}
	return env
}
