package service

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"arc/cmd/root"
	"arc/controllers"
	"arc/internal/models"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe every site now and print the results",
	Long:  "Ask the running instance to health-check all sites; exits with status 1 when any check fails",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		failed, err := checkSites(os.Stdout)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if failed > 0 {
			os.Exit(1)
		}
	},
}

const checkExample = `  # Check every site of the instance in ./arc.yaml
  arc check`

/**
 * Run an on-demand check through the admin API
 * @param {io.Writer} w - output
 * @returns {int} number of failed checks
 * @returns {error} connection or API errors
 */
func checkSites(w io.Writer) (int, error) {
	client, _, err := connect()
	if err != nil {
		return 0, err
	}
	defer client.Close()

	var resp models.CheckResponse
	if err := call(client, "POST", controllers.APIPrefix+"/check", nil, &resp); err != nil {
		return 0, err
	}
	displayCheckResults(w, resp)
	return resp.FailedChecks, nil
}

func displayCheckResults(w io.Writer, resp models.CheckResponse) {
	fmt.Fprintf(w, "=== 站点检查结果 (%d 项) ===\n", resp.TotalChecks)
	for _, r := range resp.Results {
		statusIcon := "✅"
		if !r.Healthy {
			statusIcon = "❌"
		}
		fmt.Fprintf(w, "%s %s", statusIcon, r.Name)
		if r.StatusCode != nil {
			fmt.Fprintf(w, " [%d]", *r.StatusCode)
		}
		if r.ResponseTimeMs != nil {
			fmt.Fprintf(w, " %dms", *r.ResponseTimeMs)
		}
		if r.Message != "" {
			fmt.Fprintf(w, " - %s", r.Message)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "\nOverall: %s (%d passed, %d failed)\n", resp.OverallStatus, resp.PassedChecks, resp.FailedChecks)
}

func init() {
	root.RootCmd.AddCommand(checkCmd)
	checkCmd.Example = checkExample
}
