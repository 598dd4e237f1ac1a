package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/natefinch/lumberjack"

	"arc/internal/config"
)

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// Logger 日志结构体
type Logger struct {
	debugLogger *log.Logger
	infoLogger  *log.Logger
	warnLogger  *log.Logger
	errorLogger *log.Logger
	closer      io.Closer
}

// LogLevel 日志级别类型
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// GetLogLevelFromString 将字符串转换为日志级别
func GetLogLevelFromString(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

/**
 * Initialize the package logger
 * @param {config.LogConfig} cfg - level, file path and rotation settings
 * @param {string} logDir - directory used when cfg.Path is empty
 * @param {bool} console - also write to stdout (foreground mode)
 * @description
 * - cfg.Path == "console" writes to stdout only
 * - Otherwise writes to a lumberjack-rotated file, <logDir>/arc.log by default
 * - Replaces any logger installed earlier and closes its file
 */
func Init(cfg config.LogConfig, logDir string, console bool) {
	var output io.Writer
	var closer io.Closer

	switch {
	case cfg.Path == "console":
		output = os.Stdout
		console = false
	case cfg.Path == "" && logDir == "":
		output = os.Stdout
		console = false
	default:
		path := cfg.Path
		if path == "" {
			path = filepath.Join(logDir, "arc.log")
		}
		output, closer = setupLogFileOutput(path, cfg)
	}

	// 前台运行时同时输出到控制台
	if console {
		output = io.MultiWriter(os.Stdout, output)
	}
	install(newLogger(output, GetLogLevelFromString(cfg.Level), closer))
}

// InitWriter routes every level at or above level to w, used by tests and
// CLI commands that only need console output.
func InitWriter(w io.Writer, level string) {
	install(newLogger(w, GetLogLevelFromString(level), nil))
}

func install(l *Logger) {
	mu.Lock()
	old := defaultLogger
	defaultLogger = l
	mu.Unlock()
	if old != nil && old.closer != nil {
		old.closer.Close()
	}
}

func newLogger(output io.Writer, level LogLevel, closer io.Closer) *Logger {
	flags := log.LstdFlags | log.Lshortfile

	l := &Logger{
		debugLogger: log.New(io.Discard, "DEBUG: ", flags),
		infoLogger:  log.New(io.Discard, "INFO: ", flags),
		warnLogger:  log.New(io.Discard, "WARN: ", flags),
		errorLogger: log.New(io.Discard, "ERROR: ", flags),
		closer:      closer,
	}

	// 根据级别设置输出
	if level <= DEBUG {
		l.debugLogger.SetOutput(output)
	}
	if level <= INFO {
		l.infoLogger.SetOutput(output)
	}
	if level <= WARN {
		l.warnLogger.SetOutput(output)
	}
	l.errorLogger.SetOutput(output)
	return l
}

func setupLogFileOutput(logPath string, cfg config.LogConfig) (io.Writer, io.Closer) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "create log directory failed: %v\n", err)
		return os.Stdout, nil
	}
	lj := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
	}
	return lj, lj
}

func current() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// output depth 3: caller -> Debugf -> emit -> Output
func emit(pick func(*Logger) *log.Logger, msg string) {
	if l := current(); l != nil {
		pick(l).Output(3, msg)
	}
}

func Debug(v ...interface{}) {
	emit(func(l *Logger) *log.Logger { return l.debugLogger }, fmt.Sprintln(v...))
}

func Debugf(format string, v ...interface{}) {
	emit(func(l *Logger) *log.Logger { return l.debugLogger }, fmt.Sprintf(format, v...))
}

func Info(v ...interface{}) {
	emit(func(l *Logger) *log.Logger { return l.infoLogger }, fmt.Sprintln(v...))
}

func Infof(format string, v ...interface{}) {
	emit(func(l *Logger) *log.Logger { return l.infoLogger }, fmt.Sprintf(format, v...))
}

func Warn(v ...interface{}) {
	emit(func(l *Logger) *log.Logger { return l.warnLogger }, fmt.Sprintln(v...))
}

func Warnf(format string, v ...interface{}) {
	emit(func(l *Logger) *log.Logger { return l.warnLogger }, fmt.Sprintf(format, v...))
}

func Error(v ...interface{}) {
	emit(func(l *Logger) *log.Logger { return l.errorLogger }, fmt.Sprintln(v...))
}

func Errorf(format string, v ...interface{}) {
	emit(func(l *Logger) *log.Logger { return l.errorLogger }, fmt.Sprintf(format, v...))
}

// Fatal 输出致命错误日志并退出程序
func Fatal(v ...interface{}) {
	if l := current(); l != nil {
		l.errorLogger.Output(2, fmt.Sprintln(v...))
	} else {
		fmt.Fprintln(os.Stderr, append([]interface{}{"FATAL:"}, v...)...)
	}
	os.Exit(1)
}

// Fatalf 输出格式化致命错误日志并退出程序
func Fatalf(format string, v ...interface{}) {
	if l := current(); l != nil {
		l.errorLogger.Output(2, fmt.Sprintf(format, v...))
	} else {
		fmt.Fprintf(os.Stderr, "FATAL: "+format+"\n", v...)
	}
	os.Exit(1)
}

// Close flushes and closes the log file, if any
func Close() {
	install(nil)
}

type warnWriter struct{}

func (warnWriter) Write(p []byte) (int, error) {
	emit(func(l *Logger) *log.Logger { return l.warnLogger }, strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// StdLogger adapts the package logger for libraries that take a *log.Logger
func StdLogger() *log.Logger {
	return log.New(warnWriter{}, "", 0)
}
