package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"arc/internal/config"
	"arc/internal/errs"
	"arc/internal/logger"
	"arc/internal/models"
	"arc/internal/proc"
	"arc/internal/utils"
)

// TunnelProcessName is the supervisor name (and log file name) of the helper
const TunnelProcessName = config.ReservedSiteName

// default helper arguments when the configuration gives none
var defaultTunnelArgs = []string{
	"tunnel", "--no-autoupdate",
	"--credentials-file", "{{.CredentialsPath}}",
	"run", "--url", "http://127.0.0.1:{{.ProxyPort}}",
	"{{.Identifier}}",
}

// tunnelData is what {{...}} placeholders in tunnel args can use
type tunnelData struct {
	Identifier      string
	Port            int
	ProxyPort       int
	CredentialsPath string
}

/**
 * TunnelManager runs the optional tunnel helper process
 * @description
 * - The helper publishes the local proxy port to the outside world
 * - It is supervised like a backend but never health checked
 */
type TunnelManager struct {
	cfg *config.Config
	sup *proc.Supervisor
}

func NewTunnelManager(cfg *config.Config, sup *proc.Supervisor) *TunnelManager {
	return &TunnelManager{cfg: cfg, sup: sup}
}

func (tm *TunnelManager) getTitle() string {
	if tm.cfg.Tunnel == nil {
		return "disabled"
	}
	return fmt.Sprintf("%s -> :%d", tm.cfg.Tunnel.Identifier, tm.cfg.ProxyPort)
}

/**
 * Check that the helper can be started at all
 * @returns {error} *errs.TunnelConfigurationError naming the failed precondition
 * @description
 * - The tunnel must be enabled and have an identifier
 * - The credentials file must exist
 * - The helper executable must be resolvable
 */
func (tm *TunnelManager) Preflight() error {
	t := tm.cfg.Tunnel
	if t == nil || !t.Enabled {
		return &errs.TunnelConfigurationError{Reason: "tunnel is not enabled"}
	}
	if t.Identifier == "" {
		return &errs.TunnelConfigurationError{Reason: "tunnel identifier is empty"}
	}
	if _, err := os.Stat(t.CredentialsPath); err != nil {
		return &errs.TunnelConfigurationError{
			Reason: fmt.Sprintf("credentials file '%s' is not readable", t.CredentialsPath),
			Err:    err,
		}
	}
	if _, err := exec.LookPath(t.ExecutablePath); err != nil {
		return &errs.TunnelConfigurationError{
			Reason: fmt.Sprintf("executable '%s' not found", t.ExecutablePath),
			Err:    err,
		}
	}
	return nil
}

func (tm *TunnelManager) createProcessInstance() (proc.StartOptions, error) {
	t := tm.cfg.Tunnel
	args := t.Args
	if len(args) == 0 {
		args = defaultTunnelArgs
		if t.Port > 0 {
			args = append([]string{"tunnel", "--metrics", "127.0.0.1:{{.Port}}"}, args[1:]...)
		}
	}
	data := tunnelData{
		Identifier:      t.Identifier,
		Port:            t.Port,
		ProxyPort:       tm.cfg.ProxyPort,
		CredentialsPath: t.CredentialsPath,
	}
	command, procArgs, err := utils.GetCommandLine(t.ExecutablePath, args, data)
	if err != nil {
		logger.Errorf("Tunnel startup settings are incorrect, setting: %+v", *t)
		return proc.StartOptions{}, &errs.TunnelConfigurationError{Reason: "invalid args", Err: err}
	}
	return proc.StartOptions{
		Name:    TunnelProcessName,
		Type:    models.ProcessTunnelHelper,
		Command: command,
		Args:    procArgs,
		WorkDir: tm.cfg.BaseDir,
	}, nil
}

/**
 * Start the tunnel helper
 * @param {context.Context} ctx - cancels the liveness wait
 * @returns {error} *errs.TunnelConfigurationError before spawning, or the startup error
 * @description
 * - No-op when the tunnel is disabled
 * - Already running is not an error
 */
func (tm *TunnelManager) Start(ctx context.Context) error {
	if !tm.cfg.TunnelEnabled() {
		return nil
	}
	if err := tm.Preflight(); err != nil {
		return err
	}
	opts, err := tm.createProcessInstance()
	if err != nil {
		return err
	}
	pid, err := tm.sup.Start(ctx, opts)
	if errors.Is(err, proc.ErrAlreadyRunning) {
		return nil
	}
	if err != nil {
		logger.Errorf("Failed to start tunnel (%s): %v", tm.getTitle(), err)
		return err
	}
	logger.Infof("Successfully created tunnel (%s), process: %s (PID: %d)", tm.getTitle(), opts.Command, pid)
	return nil
}

// Stop terminates the helper if it runs
func (tm *TunnelManager) Stop() error {
	detail, ok := tm.sup.Get(TunnelProcessName)
	if !ok {
		return nil
	}
	if err := tm.sup.Stop(TunnelProcessName); err != nil {
		logger.Errorf("Failed to close the tunnel (%s) (PID: %d): %v", tm.getTitle(), detail.Pid, err)
		return err
	}
	logger.Infof("Successfully closed the tunnel (%s) (PID: %d)", tm.getTitle(), detail.Pid)
	return nil
}

func (tm *TunnelManager) Status() models.TunnelStatus {
	st := models.TunnelStatus{
		Enabled: tm.cfg.TunnelEnabled(),
		Status:  models.StatusStopped,
	}
	if tm.cfg.Tunnel != nil {
		st.Identifier = tm.cfg.Tunnel.Identifier
		st.Port = tm.cfg.Tunnel.Port
	}
	if detail, ok := tm.sup.Get(TunnelProcessName); ok {
		st.Status = detail.Status
		st.Pid = detail.Pid
		st.StartTime = detail.StartedAt
	}
	return st
}

