package config

import (
	"fmt"
	"strings"
)

const (
	SiteTypeStatic  = "static"
	SiteTypeService = "service"

	DefaultHealthPath = "/health"
)

// Site is implemented by *StaticSite and *ServiceSite
type Site interface {
	SiteName() string
	SiteDomain() string
	SiteType() string
	WatchPaths() []string
	AuthFilePath() string
}

/**
 * StaticSite serves a directory tree
 * @property {string} Name - unique site name
 * @property {string} Domain - exact host name routed to this site
 * @property {string} OutputPath - directory served, resolved against baseDir
 * @property {[]string} Watch - paths whose change is reported for this site
 * @property {string} AuthFile - optional htpasswd file protecting the site
 */
type StaticSite struct {
	Name       string   `json:"name" yaml:"name"`
	Domain     string   `json:"domain" yaml:"domain"`
	OutputPath string   `json:"outputPath" yaml:"outputPath"`
	Watch      []string `json:"watch,omitempty" yaml:"watch,omitempty"`
	AuthFile   string   `json:"authFile,omitempty" yaml:"authFile,omitempty"`
}

func (s *StaticSite) SiteName() string     { return s.Name }
func (s *StaticSite) SiteDomain() string   { return s.Domain }
func (s *StaticSite) SiteType() string     { return SiteTypeStatic }
func (s *StaticSite) WatchPaths() []string { return s.Watch }
func (s *StaticSite) AuthFilePath() string { return s.AuthFile }

/**
 * ProcessSpec describes how to launch a backend
 * @property {string} WorkingDir - process working directory
 * @property {string} Executable - program run without a shell, exclusive with Command
 * @property {string} Command - program run with Args, exclusive with Executable
 * @property {[]string} Args - arguments, may use {{.Port}} {{.Name}} {{.BaseDir}}
 * @property {map[string]string} Env - extra environment, PORT is always overridden
 */
type ProcessSpec struct {
	WorkingDir string            `mapstructure:"workingDir" json:"workingDir,omitempty" yaml:"workingDir,omitempty"`
	Executable string            `mapstructure:"executable" json:"executable,omitempty" yaml:"executable,omitempty"`
	Command    string            `mapstructure:"command" json:"command,omitempty" yaml:"command,omitempty"`
	Args       []string          `mapstructure:"args" json:"args,omitempty" yaml:"args,omitempty"`
	Env        map[string]string `mapstructure:"env" json:"env,omitempty" yaml:"env,omitempty"`
}

// Program returns the executable path, whichever of the two fields is set
func (p ProcessSpec) Program() string {
	if p.Executable != "" {
		return p.Executable
	}
	return p.Command
}

// ServiceSite routes to a local backend process listening on Port
type ServiceSite struct {
	Name       string      `json:"name" yaml:"name"`
	Domain     string      `json:"domain" yaml:"domain"`
	Port       int         `json:"port" yaml:"port"`
	HealthPath string      `json:"healthPath" yaml:"healthPath"`
	Process    ProcessSpec `json:"process" yaml:"process"`
	Watch      []string    `json:"watch,omitempty" yaml:"watch,omitempty"`
	AuthFile   string      `json:"authFile,omitempty" yaml:"authFile,omitempty"`
}

func (s *ServiceSite) SiteName() string     { return s.Name }
func (s *ServiceSite) SiteDomain() string   { return s.Domain }
func (s *ServiceSite) SiteType() string     { return SiteTypeService }
func (s *ServiceSite) WatchPaths() []string { return s.Watch }
func (s *ServiceSite) AuthFilePath() string { return s.AuthFile }

// HealthURL is the loopback URL probed by the health checker
func (s *ServiceSite) HealthURL() string {
	path := s.HealthPath
	if path == "" {
		path = DefaultHealthPath
	}
	return fmt.Sprintf("http://127.0.0.1:%d%s", s.Port, path)
}

// SiteEntry is the on-disk shape of one site before it is resolved into
// the Site union.
type SiteEntry struct {
	Type       string      `mapstructure:"type"`
	Name       string      `mapstructure:"name"`
	Domain     string      `mapstructure:"domain"`
	OutputPath string      `mapstructure:"outputPath"`
	Port       int         `mapstructure:"port"`
	HealthPath string      `mapstructure:"healthPath"`
	Process    ProcessSpec `mapstructure:"process"`
	Watch      []string    `mapstructure:"watch"`
	AuthFile   string      `mapstructure:"authFile"`
}

/**
 * Convert raw site entries into the Site union
 * @param {[]SiteEntry} entries - entries decoded from the config file
 * @returns {[]Site} resolved sites in file order
 * @returns {error} error naming the first entry whose type cannot be determined
 * @description
 * - An explicit type wins
 * - Otherwise an entry with outputPath is static and one with port is a service
 * - Domains are lowercased, healthPath defaults to /health
 */
func ParseSites(entries []SiteEntry) ([]Site, error) {
	sites := make([]Site, 0, len(entries))
	for i, e := range entries {
		kind := strings.ToLower(strings.TrimSpace(e.Type))
		if kind == "" {
			switch {
			case e.OutputPath != "":
				kind = SiteTypeStatic
			case e.Port != 0 || e.Process.Program() != "":
				kind = SiteTypeService
			}
		}
		domain := strings.ToLower(strings.TrimSpace(e.Domain))
		switch kind {
		case SiteTypeStatic:
			sites = append(sites, &StaticSite{
				Name:       e.Name,
				Domain:     domain,
				OutputPath: e.OutputPath,
				Watch:      e.Watch,
				AuthFile:   e.AuthFile,
			})
		case SiteTypeService:
			hp := e.HealthPath
			if hp == "" {
				hp = DefaultHealthPath
			}
			sites = append(sites, &ServiceSite{
				Name:       e.Name,
				Domain:     domain,
				Port:       e.Port,
				HealthPath: hp,
				Process:    e.Process,
				Watch:      e.Watch,
				AuthFile:   e.AuthFile,
			})
		default:
			return nil, fmt.Errorf("sites[%d] (%q): unknown site type %q", i, e.Name, e.Type)
		}
	}
	return sites, nil
}
