package misc

import (
	"errors"
	"fmt"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"arc/cmd/root"
	"arc/controllers"
	"arc/internal/descriptor"
	"arc/internal/rpc"
	"arc/internal/utils"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the configuration of the running instance",
	Long: `Make the running instance re-read its configuration file. A rejected
configuration leaves the running one untouched.

The admin API is used when the instance exposes one, so a rejection is
reported here. Otherwise SIGHUP is sent and the outcome is in the instance log.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return reloadInstance()
	},
}

/**
 * Ask the instance named by the configuration to reload
 * @returns {error} no instance, rejected configuration or signal errors
 */
func reloadInstance() error {
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	httpCfg, d, err := rpc.ConfigForInstance(cfg.BaseDir, cfg.Name)
	switch {
	case err == nil:
		return reloadViaAPI(httpCfg)
	case errors.Is(err, rpc.ErrNoAdminAPI):
		return reloadViaSignal(d)
	default:
		return err
	}
}

func reloadViaAPI(httpCfg *rpc.HTTPConfig) error {
	client := rpc.NewHTTPClient(httpCfg)
	defer client.Close()

	resp, err := client.Post(controllers.APIPrefix+"/reload", nil)
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w", err)
	}
	if !resp.OK() {
		return fmt.Errorf("reload rejected(%d): %s", resp.StatusCode, resp.Error)
	}
	fmt.Println("Successfully reloaded configuration")
	return nil
}

func reloadViaSignal(d *descriptor.Descriptor) error {
	if runtime.GOOS == "windows" {
		return fmt.Errorf("instance '%s' has no admin API and signals are not supported on windows", d.Name)
	}
	if err := utils.SignalProcess(d.Pid, false, syscall.SIGHUP); err != nil {
		return fmt.Errorf("failed to signal instance '%s' (PID: %d): %w", d.Name, d.Pid, err)
	}
	fmt.Printf("Reload requested for instance %s (PID: %d)\n", d.Name, d.Pid)
	return nil
}

func init() {
	root.RootCmd.AddCommand(reloadCmd)
}
