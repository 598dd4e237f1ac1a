package service

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"arc/cmd/root"
	"arc/internal/descriptor"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the running instances of the project",
	Long:  "List every live instance descriptor under <baseDir>/.pid; stale descriptors are removed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listInstances()
	},
}

func listInstances() error {
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	list, err := descriptor.List(cfg.BaseDir)
	if err != nil {
		return fmt.Errorf("read %s: %w", descriptor.Dir(cfg.BaseDir), err)
	}
	if len(list) == 0 {
		fmt.Println("No running instance")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPID\tPORT\tUPTIME\tADMIN")
	for _, d := range list {
		admin := d.AdminAddress
		if admin == "" {
			admin = "-"
		}
		uptime := time.Since(d.StartedAt).Round(time.Second)
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", d.Name, d.Pid, d.ProxyPort, uptime, admin)
	}
	return w.Flush()
}

func init() {
	root.RootCmd.AddCommand(listCmd)
}
