package server

import (
	"net"
	"os"
	"path/filepath"
	"runtime"

	"arc/internal/config"
	"arc/internal/descriptor"
	"arc/internal/logger"
)

type ListenAddr struct {
	Network string
	Address string
}

/**
 * Test if the system supports Unix socket network type
 * @returns {bool} Returns true if Unix socket is supported, false otherwise
 * @description
 * - Always true outside Windows
 * - On Windows a temporary socket is created and removed again
 */
func IsUnixSocketSupported() bool {
	if runtime.GOOS != "windows" {
		return true
	}
	testSocketPath := filepath.Join(os.TempDir(), "arc_unix_socket_test.sock")
	os.Remove(testSocketPath)

	listener, err := net.Listen("unix", testSocketPath)
	if err != nil {
		return false
	}
	listener.Close()
	os.Remove(testSocketPath)
	return true
}

// SocketPath returns the admin socket of an instance, next to its descriptor
func SocketPath(baseDir, name string) string {
	return filepath.Join(descriptor.Dir(baseDir), "arc-"+name+".sock")
}

/**
 * Collect the admin API addresses of an instance
 * @param {*config.Config} cfg - instance configuration
 * @returns {[]ListenAddr} unix socket first when supported, then admin.address
 */
func AdminAddrs(cfg *config.Config) []ListenAddr {
	var addrs []ListenAddr
	if IsUnixSocketSupported() {
		addrs = append(addrs, ListenAddr{Network: "unix", Address: SocketPath(cfg.BaseDir, cfg.Name)})
	}
	if cfg.Admin.Address != "" {
		addrs = append(addrs, ListenAddr{Network: "tcp", Address: cfg.Admin.Address})
	}
	return addrs
}

/**
 * Create TCP and Unix socket listeners
 * @param {[]ListenAddr} addrs - Listener Address
 * @returns {[]net.Listener} listeners that could be created
 * @returns {error} the last creation error, if any
 * @description
 * - A stale socket file left by a crashed instance is removed first
 * - Socket files are restricted to the owner
 * - A failing address is logged and skipped, the others are still created
 */
func CreateListeners(addrs []ListenAddr) ([]net.Listener, error) {
	var listeners []net.Listener

	var lastErr error
	for _, addr := range addrs {
		if addr.Network == "unix" {
			if err := os.MkdirAll(filepath.Dir(addr.Address), 0755); err != nil {
				logger.Errorf("Failed to create socket directory: %v", err)
				lastErr = err
				continue
			}
			if err := os.Remove(addr.Address); err != nil && !os.IsNotExist(err) {
				logger.Errorf("Failed to remove existing socket file: %v", err)
				lastErr = err
				continue
			}
		}
		listener, err := net.Listen(addr.Network, addr.Address)
		if err != nil {
			logger.Errorf("Failed to create listener on %s://%s: %v", addr.Network, addr.Address, err)
			lastErr = err
			continue
		}
		if addr.Network == "unix" {
			os.Chmod(addr.Address, 0600)
		}
		listeners = append(listeners, listener)
	}
	return listeners, lastErr
}
