package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/samber/lo"

	"arc/internal/config"
	"arc/internal/errs"
	"arc/internal/logger"
	"arc/internal/models"
	"arc/internal/proc"
	"arc/internal/utils"
)

// commandData is what {{...}} placeholders in a service command can use
type commandData struct {
	Name    string
	Port    int
	Domain  string
	BaseDir string
}

/**
 * SiteManager starts and stops the backends of service sites
 * @description
 * - Static sites have no process and are ignored here
 * - One SiteManager belongs to one configuration generation
 */
type SiteManager struct {
	cfg *config.Config
	sup *proc.Supervisor
}

func NewSiteManager(cfg *config.Config, sup *proc.Supervisor) *SiteManager {
	return &SiteManager{cfg: cfg, sup: sup}
}

/**
 * Build the supervisor options of a service site
 * @param {*config.ServiceSite} site - service site
 * @returns {proc.StartOptions} expanded command, args, env
 * @description
 * - Command and args may use {{.Name}}, {{.Port}}, {{.Domain}}, {{.BaseDir}}
 */
func (sm *SiteManager) startOptions(site *config.ServiceSite) (proc.StartOptions, error) {
	data := commandData{
		Name:    site.Name,
		Port:    site.Port,
		Domain:  site.Domain,
		BaseDir: sm.cfg.BaseDir,
	}
	command, args, err := utils.GetCommandLine(site.Process.Program(), site.Process.Args, data)
	if err != nil {
		return proc.StartOptions{}, fmt.Errorf("site '%s': %w", site.Name, err)
	}
	return proc.StartOptions{
		Name:    site.Name,
		Type:    models.ProcessService,
		Command: command,
		Args:    args,
		WorkDir: site.Process.WorkingDir,
		Env:     site.Process.Env,
		Port:    site.Port,
	}, nil
}

/**
 * Start every service site
 * @param {context.Context} ctx - cancels pending startups
 * @returns {error} joined per-site failures, nil when all started
 * @description
 * - Ports are cleaned one site at a time, so a sweep never races a sibling
 *   that is still being spawned
 * - Processes then start concurrently; one failing site never prevents the others
 */
func (sm *SiteManager) StartAll(ctx context.Context) error {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []error
	)
	fail := func(name string, err error) {
		logger.Errorf("Failed to start site '%s': %v", name, err)
		mu.Lock()
		failed = append(failed, err)
		mu.Unlock()
	}

	var ready []proc.StartOptions
	for _, site := range sm.cfg.ServiceSites() {
		opts, err := sm.startOptions(site)
		if err != nil {
			fail(site.Name, &errs.ProcessStartupError{Name: site.Name, Err: err})
			continue
		}
		if err := proc.EnsurePortFree(ctx, site.Port, programPath(opts), sm.sup.IsTracked); err != nil {
			fail(site.Name, &errs.ProcessStartupError{Name: site.Name, Err: err})
			continue
		}
		ready = append(ready, opts)
	}

	for _, opts := range ready {
		wg.Add(1)
		go func(opts proc.StartOptions) {
			defer wg.Done()
			pid, err := sm.sup.Start(ctx, opts)
			if err != nil {
				fail(opts.Name, err)
				return
			}
			logger.Infof("Site [%s] backend started on port %d (PID: %d)", opts.Name, opts.Port, pid)
		}(opts)
	}
	wg.Wait()
	return errors.Join(failed...)
}

/**
 * Stop every backend and sweep what they left behind
 * @param {context.Context} ctx - bounds the orphan sweep
 * @description
 * - Processes that still hold a service port or run a service program are
 *   killed; generic runners are matched by port only
 */
func (sm *SiteManager) StopAll(ctx context.Context) {
	sites := sm.cfg.ServiceSites()
	for _, site := range sites {
		if err := sm.sup.Stop(site.Name); err != nil {
			logger.Errorf("Failed to stop site '%s': %v", site.Name, err)
		}
	}
	ports := lo.Map(sites, func(s *config.ServiceSite, _ int) int { return s.Port })
	programs := lo.Uniq(lo.FilterMap(sites, func(s *config.ServiceSite, _ int) (string, bool) {
		opts, err := sm.startOptions(s)
		return programPath(opts), err == nil
	}))
	if n := proc.SweepOrphans(ctx, ports, programs, sm.sup.IsTracked); n > 0 {
		logger.Warnf("Killed %d orphaned process(es) after shutdown", n)
	}
}

// programPath anchors a relative program at the working directory it runs in
func programPath(opts proc.StartOptions) string {
	if strings.ContainsAny(opts.Command, `/\`) && !filepath.IsAbs(opts.Command) && opts.WorkDir != "" {
		return filepath.Join(opts.WorkDir, opts.Command)
	}
	return opts.Command
}

// serviceSite looks up a site and fails unless it runs a process
func (sm *SiteManager) serviceSite(name string) (*config.ServiceSite, error) {
	site := sm.cfg.Site(name)
	if site == nil {
		return nil, fmt.Errorf("%w: '%s'", ErrSiteNotFound, name)
	}
	svc, ok := site.(*config.ServiceSite)
	if !ok {
		return nil, fmt.Errorf("%w: '%s' is a static site", ErrNoProcess, name)
	}
	return svc, nil
}

/**
 * Restart the backend of one site
 * @param {context.Context} ctx - cancels the settle and the startup
 * @param {string} name - site name
 * @returns {int} new PID
 * @description
 * - Stops the tracked process if any, waits for the settle delay, frees
 *   the port, starts again
 */
func (sm *SiteManager) RestartSite(ctx context.Context, name string) (int, error) {
	site, err := sm.serviceSite(name)
	if err != nil {
		return 0, err
	}
	opts, err := sm.startOptions(site)
	if err != nil {
		return 0, &errs.ProcessStartupError{Name: site.Name, Err: err}
	}
	opts.BeforeStart = func(ctx context.Context) error {
		return proc.EnsurePortFree(ctx, site.Port, programPath(opts), sm.sup.IsTracked)
	}
	pid, err := sm.sup.Restart(ctx, opts)
	if err != nil {
		logger.Errorf("Restart [%s] failed: %v", name, err)
		return 0, err
	}
	logger.Infof("Site [%s] backend restarted on port %d (PID: %d)", site.Name, site.Port, pid)
	return pid, nil
}
