package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"arc/cmd/root"
	"arc/controllers"
	"arc/internal/descriptor"
	"arc/internal/models"
	"arc/internal/rpc"
)

var outputFormat string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sites, processes and health of the running instance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(os.Stdout, outputFormat)
	},
}

/**
 * Print the snapshot of the running instance
 * @param {io.Writer} w - output
 * @param {string} format - table, json or yaml
 * @returns {error} no instance, admin API or encoding errors
 * @description
 * - Without an admin API only the descriptor is printed
 */
func showStatus(w io.Writer, format string) error {
	client, cfg, err := connect()
	if errors.Is(err, rpc.ErrNoAdminAPI) {
		d := descriptor.Read(cfg.BaseDir, cfg.Name)
		if d == nil {
			return fmt.Errorf("instance '%s' is not running", cfg.Name)
		}
		return render(w, format, d, func() { printDescriptor(w, d) })
	}
	if err != nil {
		return err
	}
	defer client.Close()

	var snap models.Snapshot
	if err := call(client, "GET", controllers.APIPrefix+"/status", nil, &snap); err != nil {
		return err
	}
	return render(w, format, &snap, func() { printSnapshot(w, &snap) })
}

func render(w io.Writer, format string, v interface{}, table func()) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	case "", "table":
		table()
		return nil
	default:
		return fmt.Errorf("unknown output format '%s' (table, json, yaml)", format)
	}
}

func printDescriptor(w io.Writer, d *descriptor.Descriptor) {
	fmt.Fprintf(w, "Instance:   %s (PID: %d)\n", d.Name, d.Pid)
	fmt.Fprintf(w, "Proxy port: %d\n", d.ProxyPort)
	fmt.Fprintf(w, "Config:     %s\n", d.ConfigPath)
	fmt.Fprintf(w, "Started:    %s\n", d.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintln(w, "Admin API:  not available, site details unknown")
}

func printSnapshot(w io.Writer, snap *models.Snapshot) {
	fmt.Fprintf(w, "Instance:   %s\n", snap.Name)
	fmt.Fprintf(w, "Proxy port: %d\n", snap.ProxyPort)
	fmt.Fprintf(w, "Config:     %s\n", snap.ConfigPath)
	fmt.Fprintf(w, "Started:    %s\n", snap.StartTime.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "Health:     %s\n\n", snap.HealthSummary.Overall)

	if len(snap.Sites) == 0 {
		fmt.Fprintln(w, "No sites configured")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tDOMAIN\tPORT\tPID\tSTATUS\tHEALTH")
	for _, st := range snap.Sites {
		port, pid, status := "-", "-", "-"
		if st.Port > 0 {
			port = strconv.Itoa(st.Port)
		}
		if st.Process != nil {
			pid = strconv.Itoa(st.Process.Pid)
			status = string(st.Process.Status)
		} else if st.Kind == "service" {
			status = string(models.StatusStopped)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", st.Name, st.Kind, st.Domain, port, pid, status, st.Health)
	}
	tw.Flush()
}

func init() {
	root.RootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json, yaml")
}
