package service

import (
	"fmt"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"arc/cmd/root"
	"arc/internal/descriptor"
	"arc/internal/utils"
)

var stopTimeout time.Duration

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running instance",
	Long:  "Send SIGTERM to the instance found through its descriptor and wait for it to exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopInstance(stopTimeout)
	},
}

/**
 * Stop the instance named by the configuration
 * @param {time.Duration} timeout - how long to wait for the instance to exit
 * @returns {error} set when the instance is absent or does not exit in time
 * @description
 * - The instance tears down its proxy, services and tunnel, then removes
 *   its descriptor
 */
func stopInstance(timeout time.Duration) error {
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	d := descriptor.Read(cfg.BaseDir, cfg.Name)
	if d == nil {
		return fmt.Errorf("instance '%s' is not running", cfg.Name)
	}
	if err := utils.SignalProcess(d.Pid, false, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal instance '%s' (PID: %d): %w", cfg.Name, d.Pid, err)
	}
	if !utils.WaitForExit(d.Pid, timeout) {
		return fmt.Errorf("instance '%s' (PID: %d) did not exit within %s", cfg.Name, d.Pid, timeout)
	}
	fmt.Printf("Instance %s stopped (PID: %d)\n", cfg.Name, d.Pid)
	return nil
}

func init() {
	root.RootCmd.AddCommand(stopCmd)
	stopCmd.Flags().DurationVarP(&stopTimeout, "timeout", "t", 30*time.Second, "time to wait for the instance to exit")
}
