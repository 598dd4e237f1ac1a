package logs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"arc/cmd/root"
	"arc/services"
)

var (
	lines  int
	follow bool
)

func init() {
	root.RootCmd.AddCommand(Cmd)
	Cmd.Flags().SortFlags = false
	Cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of lines to show, 0 for the whole file")
	Cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new output")
}

var Cmd = &cobra.Command{
	Use:   "logs <site|tunnel>",
	Short: "Show the output log of a service site or the tunnel helper",
	Long:  "Print the last lines of <logDir>/<name>.log; the instance does not need to be running",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := root.LoadConfig()
		if err != nil {
			return err
		}
		logService := services.NewLogService(cfg.LogDir)

		tail, err := logService.Tail(args[0], lines)
		if errors.Is(err, services.ErrLogNotFound) && follow {
			tail = nil
		} else if err != nil {
			return err
		}
		if len(tail) > 0 {
			fmt.Println(strings.Join(tail, "\n"))
		}
		if !follow {
			return nil
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return logService.Follow(ctx, args[0], os.Stdout)
	},
}
