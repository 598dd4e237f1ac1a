package errs

import (
	"fmt"
	"strings"
)

// ConfigurationError represents an invalid or unusable configuration. It is
// always raised before any process is started.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ErrorsBucket collects every violation found during one validation pass
type ErrorsBucket struct {
	Msg    string
	Errors []error
}

func (e *ErrorsBucket) Error() string {
	s := e.Msg
	for _, err := range e.Errors {
		s += "\n\t" + err.Error()
	}
	return s
}

func (e *ErrorsBucket) Add(format string, args ...interface{}) {
	e.Errors = append(e.Errors, fmt.Errorf(format, args...))
}

func (e *ErrorsBucket) Empty() bool {
	return len(e.Errors) == 0
}

// ProcessStartupError is returned when a spawned process cannot be launched or
// exits before the liveness re-check. LogTail carries the last lines the
// process wrote to its log file.
type ProcessStartupError struct {
	Name    string
	Err     error
	LogTail []string
}

func (e *ProcessStartupError) Error() string {
	msg := fmt.Sprintf("process '%s' failed to start: %v", e.Name, e.Err)
	if len(e.LogTail) > 0 {
		msg += "\n--- last output ---\n" + strings.Join(e.LogTail, "\n")
	}
	return msg
}

func (e *ProcessStartupError) Unwrap() error {
	return e.Err
}

// ProxyUpstreamError maps to a 502 response
type ProxyUpstreamError struct {
	Site   string
	Target string
	Err    error
}

func (e *ProxyUpstreamError) Error() string {
	return fmt.Sprintf("upstream %s for site '%s' unavailable: %v", e.Target, e.Site, e.Err)
}

func (e *ProxyUpstreamError) Unwrap() error {
	return e.Err
}

// StaticFileError carries the HTTP status to answer with: 404 for missing
// entries, 500 for unreadable ones.
type StaticFileError struct {
	Path   string
	Status int
	Err    error
}

func (e *StaticFileError) Error() string {
	return fmt.Sprintf("static file '%s' (%d): %v", e.Path, e.Status, e.Err)
}

func (e *StaticFileError) Unwrap() error {
	return e.Err
}

type TunnelConfigurationError struct {
	Reason string
	Err    error
}

func (e *TunnelConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tunnel: %s: %v", e.Reason, e.Err)
	}
	return "tunnel: " + e.Reason
}

func (e *TunnelConfigurationError) Unwrap() error {
	return e.Err
}

// WatcherSetupError is logged and the offending target skipped
type WatcherSetupError struct {
	Path string
	Err  error
}

func (e *WatcherSetupError) Error() string {
	return fmt.Sprintf("cannot watch '%s': %v", e.Path, e.Err)
}

func (e *WatcherSetupError) Unwrap() error {
	return e.Err
}
