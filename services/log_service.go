package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"arc/internal/utils"
)

// ErrLogNotFound means nothing has been written for that name yet
var ErrLogNotFound = errors.New("log file not found")

/**
 * LogService reads the per-process log files of the supervisor
 * @description
 * - One file per process: <logDir>/<name>.log, appended across restarts
 */
type LogService struct {
	logDir string
}

func NewLogService(logDir string) *LogService {
	return &LogService{logDir: logDir}
}

// Path returns the log file of a site or of the tunnel helper
func (ls *LogService) Path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid log name '%s'", name)
	}
	return filepath.Join(ls.logDir, name+".log"), nil
}

/**
 * Read the last lines of a process log
 * @param {string} name - site name, or "tunnel"
 * @param {int} n - number of lines, <= 0 means all
 * @returns {[]string} lines, oldest first
 * @returns {error} ErrLogNotFound when the file does not exist
 */
func (ls *LogService) Tail(name string, n int) ([]string, error) {
	path, err := ls.Path(name)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrLogNotFound, path)
	}
	if n <= 0 {
		n = int(^uint(0) >> 1)
	}
	return utils.TailLines(path, n)
}

/**
 * Copy everything appended to a process log into w until ctx ends
 * @param {context.Context} ctx - stops following
 * @param {string} name - site name, or "tunnel"
 * @param {io.Writer} w - destination
 * @description
 * - Starts at the current end of the file
 * - A truncated or recreated file is read again from the start
 */
func (ls *LogService) Follow(ctx context.Context, name string, w io.Writer) error {
	path, err := ls.Path(name)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	var offset int64
	if info, err := os.Stat(path); err == nil {
		offset = info.Size()
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				offset = 0
				continue
			}
			if offset, err = copyFrom(path, offset, w); err != nil {
				return err
			}
		}
	}
}

// copyFrom writes path[offset:] to w and returns the new offset
func copyFrom(path string, offset int64, w io.Writer) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return offset, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return offset, err
	}
	if info.Size() < offset {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, err
	}
	n, err := io.Copy(w, f)
	return offset + n, err
}
