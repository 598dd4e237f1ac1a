package service

import (
	"fmt"

	"github.com/spf13/cobra"

	"arc/cmd/root"
	"arc/controllers"
)

var restartCmd = &cobra.Command{
	Use:   "restart <site>",
	Short: "Restart the process of a service site",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return restartSite(args[0])
	},
}

type restartResult struct {
	Name string `json:"name"`
	Pid  int    `json:"pid"`
}

/**
 * Restart a site through the admin API
 * @param {string} name - service site name
 * @returns {error} connection errors or the server-side error message
 */
func restartSite(name string) error {
	client, _, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	var res restartResult
	if err := call(client, "POST", controllers.APIPrefix+"/sites/"+name+"/restart", nil, &res); err != nil {
		return fmt.Errorf("restart %s: %w", name, err)
	}
	fmt.Printf("Site %s restarted (PID: %d)\n", res.Name, res.Pid)
	return nil
}

func init() {
	root.RootCmd.AddCommand(restartCmd)
	restartCmd.Example = `  arc restart api`
}
