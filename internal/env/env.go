package env

import (
	"os"
	"path/filepath"
)

// Version is stamped at build time with -ldflags "-X arc/internal/env.Version=..."
var Version = "dev"
var BuildTime = ""
var BuildCommitId = ""

// Daemon is true while this process runs the orchestrator in the foreground
var Daemon bool = false

// DefaultConfigName is looked up in the working directory when --config is omitted
const DefaultConfigName = "arc.yaml"

/**
 * Resolve the configuration file path
 * @param {string} flag - value of --config, may be empty
 * @returns {string} absolute path of the config file to use
 * @description
 * - An explicit flag wins
 * - Otherwise ARC_CONFIG, then ./arc.yaml, ./arc.yml, ./arc.json
 */
func ResolveConfigPath(flag string) string {
	candidates := []string{flag, os.Getenv("ARC_CONFIG")}
	for _, c := range candidates {
		if c != "" {
			abs, err := filepath.Abs(c)
			if err != nil {
				return c
			}
			return abs
		}
	}
	wd, _ := os.Getwd()
	for _, name := range []string{DefaultConfigName, "arc.yml", "arc.json"} {
		p := filepath.Join(wd, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(wd, DefaultConfigName)
}
