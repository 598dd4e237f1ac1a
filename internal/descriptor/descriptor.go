package descriptor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"arc/internal/logger"
	"arc/internal/utils"
)

const (
	dirName    = ".pid"
	filePrefix = "arc-"
	dirPerm    = 0o755
	filePerm   = 0o644
)

// Descriptor identifies a running orchestrator instance to out-of-process tools
type Descriptor struct {
	Name         string    `json:"name"`
	Pid          int       `json:"pid"`
	ProxyPort    int       `json:"proxyPort"`
	ConfigPath   string    `json:"configPath"`
	StartedAt    time.Time `json:"startedAt"`
	AdminAddress string    `json:"adminAddress,omitempty"`
}

// Alive reports whether the instance process still exists
func (d *Descriptor) Alive() bool {
	return utils.IsProcessRunning(d.Pid)
}

// Dir returns <baseDir>/.pid
func Dir(baseDir string) string {
	return filepath.Join(baseDir, dirName)
}

// Path returns the JSON descriptor path of an instance
func Path(baseDir, name string) string {
	return filepath.Join(Dir(baseDir), filePrefix+name+".json")
}

// PidPath returns the companion plain-text pid file path
func PidPath(baseDir, name string) string {
	return filepath.Join(Dir(baseDir), filePrefix+name+".pid")
}

/**
 * Persist the descriptor of the current instance
 * @param {string} baseDir - project base directory
 * @param {Descriptor} d - descriptor to write
 * @returns {error} write errors
 * @description
 * - Both files are written through a temp file and a rename, so concurrent
 *   readers see the old content or the new content, never a partial file
 */
func Write(baseDir string, d Descriptor) error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("descriptor name is required")
	}
	if d.Pid <= 0 {
		return fmt.Errorf("invalid descriptor pid %d", d.Pid)
	}
	if d.StartedAt.IsZero() {
		d.StartedAt = time.Now()
	}
	d.StartedAt = d.StartedAt.UTC()

	raw, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}
	if err := writeAtomic(Path(baseDir, d.Name), raw); err != nil {
		return err
	}
	return writeAtomic(PidPath(baseDir, d.Name), []byte(strconv.Itoa(d.Pid)+"\n"))
}

/**
 * Read the descriptor of a named instance
 * @param {string} baseDir - project base directory
 * @param {string} name - instance name
 * @returns {*Descriptor} nil when absent, undecodable or stale
 * @description
 * - A descriptor whose pid is gone is removed on the way out
 */
func Read(baseDir, name string) *Descriptor {
	d, err := load(Path(baseDir, name))
	if err != nil {
		return nil
	}
	if !d.Alive() {
		logger.Debugf("Removing stale descriptor for '%s' (PID: %d)", name, d.Pid)
		Remove(baseDir, name)
		return nil
	}
	return d
}

// Remove deletes both descriptor files, missing files are not an error
func Remove(baseDir, name string) error {
	var errList []error
	for _, p := range []string{Path(baseDir, name), PidPath(baseDir, name)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// List returns the live instances under baseDir, oldest first. Stale
// descriptors are cleaned up, undecodable ones skipped.
func List(baseDir string) ([]Descriptor, error) {
	entries, err := os.ReadDir(Dir(baseDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var list []Descriptor
	for _, entry := range entries {
		fname := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(fname, filePrefix) || filepath.Ext(fname) != ".json" {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(fname, filePrefix), ".json")
		if d := Read(baseDir, name); d != nil {
			list = append(list, *d)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].StartedAt.Before(list[j].StartedAt) })
	return list, nil
}

func load(path string) (*Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var d Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	if d.Pid <= 0 {
		return nil, fmt.Errorf("invalid descriptor pid in %s", path)
	}
	return &d, nil
}

func writeAtomic(path string, payload []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create descriptor directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".arc-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp descriptor: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	if _, err := tmp.Write(payload); err != nil {
		cleanup()
		return fmt.Errorf("write temp descriptor: %w", err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp descriptor: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp descriptor: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace descriptor: %w", err)
	}
	return nil
}
