package root

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"arc/internal/config"
	"arc/internal/env"
	"arc/internal/logger"
)

var RootCmd = &cobra.Command{
	Use:   "arc",
	Short: "Local development orchestrator",
	Long: `arc routes Host-based requests on one port to static directories and
supervised service processes, restarts services when their files change,
and optionally runs a tunnel helper exposing the proxy publicly.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// 客户端命令只输出到控制台，arc start 会按配置重新初始化
		logger.InitWriter(os.Stderr, LogLevel())
	},
}

func init() {
	RootCmd.PersistentFlags().StringP("config", "c", "", "configuration file (default ./arc.yaml, or $ARC_CONFIG)")
	RootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	viper.BindPFlag("config", RootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log.level", RootCmd.PersistentFlags().Lookup("log-level"))
}

// ConfigPath returns the absolute configuration path chosen by flag, env or default
func ConfigPath() string {
	return env.ResolveConfigPath(viper.GetString("config"))
}

// LogLevel returns the --log-level override, "warn" for client commands when unset
func LogLevel() string {
	if lvl := viper.GetString("log.level"); lvl != "" {
		return lvl
	}
	return "warn"
}

/**
 * Load and validate the configuration named on the command line
 * @returns {*config.Config} validated configuration, --log-level applied
 * @returns {error} *errs.ConfigurationError
 */
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(ConfigPath())
	if err != nil {
		return nil, err
	}
	if lvl := viper.GetString("log.level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	return cfg, nil
}
