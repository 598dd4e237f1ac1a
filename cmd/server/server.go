package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"arc/cmd/root"
	"arc/controllers"
	"arc/internal/config"
	"arc/internal/descriptor"
	"arc/internal/env"
	"arc/internal/logger"
	"arc/services"
)

const shutdownTimeout = 15 * time.Second

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the orchestrator in the foreground",
	Long: `Start the proxy, every service site and the tunnel helper, then keep
running until interrupted. SIGHUP reloads the configuration file.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := startServer(context.Background()); err != nil {
			logger.Errorf("%v", err)
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

// adminServer serves the gin engine on every admin listener
type adminServer struct {
	srv       *http.Server
	listeners []net.Listener
	wg        sync.WaitGroup
}

/**
 * Start the admin API on the unix socket and admin.address
 * @param {*services.Server} server - running coordinator
 * @param {*config.Config} cfg - instance configuration
 * @returns {*adminServer} nil when no listener could be created
 * @returns {string} address to publish: socket path first, else the TCP address
 */
func startAdmin(server *services.Server, cfg *config.Config) (*adminServer, string) {
	listeners, err := CreateListeners(AdminAddrs(cfg))
	if err != nil {
		logger.Warnf("Admin API partially unavailable: %v", err)
	}
	if len(listeners) == 0 {
		return nil, ""
	}
	a := &adminServer{
		srv: &http.Server{
			Handler:           controllers.NewRouter(server, cfg.Admin.Mode),
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          logger.StdLogger(),
		},
		listeners: listeners,
	}
	for _, ln := range listeners {
		a.wg.Add(1)
		go func(ln net.Listener) {
			defer a.wg.Done()
			logger.Infof("Admin API listening on %s://%s", ln.Addr().Network(), ln.Addr().String())
			if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("Admin API on %s stopped: %v", ln.Addr().String(), err)
			}
		}(ln)
	}
	address := listeners[0].Addr().String()
	if listeners[0].Addr().Network() == "unix" {
		// 发布绝对路径，客户端据此选择 unix 连接
		address = SocketPath(cfg.BaseDir, cfg.Name)
	}
	return a, address
}

func (a *adminServer) shutdown(ctx context.Context) {
	if a == nil {
		return
	}
	if err := a.srv.Shutdown(ctx); err != nil {
		logger.Warnf("Admin API shutdown: %v", err)
	}
	a.wg.Wait()
}

/**
 * Run one orchestrator instance until a termination signal
 * @param {context.Context} ctx - parent context
 * @returns {error} configuration, precondition or bind errors; nil after a clean stop
 * @description
 * - Refuses to start when a live instance with the same name exists
 * - SIGINT/SIGTERM stop everything, SIGHUP reloads from the config file
 */
func startServer(ctx context.Context) error {
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	env.Daemon = true
	logger.Init(cfg.Log, cfg.LogDir, true)
	defer logger.Close()

	if d := descriptor.Read(cfg.BaseDir, cfg.Name); d != nil {
		return fmt.Errorf("instance '%s' is already running (PID: %d)", cfg.Name, d.Pid)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := services.NewServer(cfg)
	if err := server.StartAll(ctx); err != nil {
		return err
	}

	admin, adminAddress := startAdmin(server, cfg)
	if err := server.Publish(adminAddress); err != nil {
		logger.Warnf("Failed to write instance descriptor: %v", err)
	}
	go server.StartMonitoring(ctx)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	logger.Infof("Instance '%s' is ready on port %d (version %s)", cfg.Name, server.ProxyPort(), env.Version)
	for running := true; running; {
		select {
		case <-ctx.Done():
			running = false
		case <-hup:
			logger.Info("SIGHUP received, reloading configuration")
			if err := server.ReloadFromDisk(ctx); err != nil {
				logger.Errorf("Reload rejected, keeping the running configuration: %v", err)
			}
		}
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	admin.shutdown(shutdownCtx)
	return server.StopAll(shutdownCtx)
}

func init() {
	root.RootCmd.AddCommand(startCmd)
	startCmd.Example = `  arc start
  arc start -c ./dev/arc.yaml --log-level debug`
}
