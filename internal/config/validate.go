package config

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/samber/lo"

	"arc/internal/errs"
)

const (
	MinServicePort = 1025
	MaxServicePort = 65535
	// process and log name of the tunnel helper
	ReservedSiteName = "tunnel"
)

/**
 * Validate the whole configuration in one pass
 * @returns {error} *errs.ConfigurationError wrapping an *errs.ErrorsBucket, nil when valid
 * @description
 * - Site names: non-empty, no whitespace or slashes, unique, not "tunnel"
 * - Domains: non-empty, unique across all sites
 * - Service ports: 1025-65535, unique, never the proxy port
 * - healthPath starts with '/'
 * - Exactly one of executable/command per process
 * - Static sites need an outputPath
 */
func (c *Config) Validate() error {
	bucket := &errs.ErrorsBucket{}

	if c.ProxyPort < 1 || c.ProxyPort > 65535 {
		bucket.Add("proxyPort %d out of range 1-65535", c.ProxyPort)
	}
	if c.LogDir == "" {
		bucket.Add("logDir is empty")
	}

	names := lo.Map(c.Sites, func(s Site, _ int) string { return s.SiteName() })
	for _, dup := range lo.FindDuplicates(names) {
		bucket.Add("site name '%s' is used more than once", dup)
	}
	domains := lo.Map(c.Sites, func(s Site, _ int) string { return s.SiteDomain() })
	for _, dup := range lo.FindDuplicates(lo.Compact(domains)) {
		bucket.Add("domain '%s' is used by more than one site", dup)
	}
	ports := lo.Map(c.ServiceSites(), func(s *ServiceSite, _ int) int { return s.Port })
	for _, dup := range lo.FindDuplicates(ports) {
		bucket.Add("port %d is used by more than one service", dup)
	}

	for i, s := range c.Sites {
		validateSite(bucket, i, s, c.ProxyPort)
	}

	if c.Health.DegradedThreshold > c.Health.UnhealthyThreshold {
		bucket.Add("health.degradedThreshold (%d) exceeds health.unhealthyThreshold (%d)",
			c.Health.DegradedThreshold, c.Health.UnhealthyThreshold)
	}
	if c.Watch.DebounceMs < 0 || c.Watch.CooldownMs < 0 {
		bucket.Add("watch.debounceMs and watch.cooldownMs must not be negative")
	}

	if bucket.Empty() {
		return nil
	}
	bucket.Msg = fmt.Sprintf("%d problem(s) found", len(bucket.Errors))
	return &errs.ConfigurationError{Err: bucket}
}

func validateSite(bucket *errs.ErrorsBucket, idx int, s Site, proxyPort int) {
	name := s.SiteName()
	label := fmt.Sprintf("sites[%d] '%s'", idx, name)

	if name == "" {
		bucket.Add("sites[%d]: name is empty", idx)
	} else if strings.IndexFunc(name, unicode.IsSpace) >= 0 || strings.ContainsAny(name, `/\`) {
		bucket.Add("%s: name contains whitespace or a path separator", label)
	} else if name == ReservedSiteName {
		bucket.Add("%s: name is reserved for the tunnel helper", label)
	}
	if s.SiteDomain() == "" {
		bucket.Add("%s: domain is empty", label)
	}

	switch site := s.(type) {
	case *StaticSite:
		if site.OutputPath == "" {
			bucket.Add("%s: outputPath is empty", label)
		}
	case *ServiceSite:
		if site.Port < MinServicePort || site.Port > MaxServicePort {
			bucket.Add("%s: port %d out of range %d-%d", label, site.Port, MinServicePort, MaxServicePort)
		}
		if site.Port == proxyPort {
			bucket.Add("%s: port %d collides with proxyPort", label, site.Port)
		}
		if !strings.HasPrefix(site.HealthPath, "/") {
			bucket.Add("%s: healthPath '%s' must start with '/'", label, site.HealthPath)
		}
		hasExec := site.Process.Executable != ""
		hasCmd := site.Process.Command != ""
		if hasExec == hasCmd {
			bucket.Add("%s: exactly one of process.executable and process.command must be set", label)
		}
	}
}
