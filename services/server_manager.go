package services

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"arc/internal/config"
	"arc/internal/descriptor"
	"arc/internal/env"
	"arc/internal/health"
	"arc/internal/logger"
	"arc/internal/metrics"
	"arc/internal/models"
	"arc/internal/proc"
	"arc/internal/proxy"
	"arc/internal/watcher"
)

var (
	ErrSiteNotFound = errors.New("site not found")
	ErrNoProcess    = errors.New("site has no process")
)

/**
 * Server is the coordination layer of one orchestrator instance
 * @description
 * - Owns the proxy, the supervisor, the watcher, the health monitor and the tunnel
 * - Every mutation (start, stop, reload, restart) runs under one mutex
 * - The supervisor is replaced on reload, the proxy listener is kept
 */
type Server struct {
	mu      sync.Mutex
	cfg     *config.Config
	sup     *proc.Supervisor
	sites   *SiteManager
	tunnel  *TunnelManager
	logs    *LogService
	proxy   *proxy.Server
	monitor *health.Monitor
	checker *health.Checker

	watcher  *watcher.Watcher
	watchGen uint64

	running      bool
	startTime    time.Time
	adminAddress string
	published    bool

	runMu     sync.Mutex
	runCtx    context.Context
	runCancel context.CancelFunc
}

/**
 * Create the coordinator for a validated configuration
 * @param {*config.Config} cfg - configuration, never mutated afterwards
 * @returns {*Server} stopped coordinator; call StartAll
 */
func NewServer(cfg *config.Config) *Server {
	sup := proc.NewSupervisor(cfg.LogDir)
	return &Server{
		cfg:    cfg,
		sup:    sup,
		sites:  NewSiteManager(cfg, sup),
		tunnel: NewTunnelManager(cfg, sup),
		logs:   NewLogService(cfg.LogDir),
		proxy:  proxy.NewServer(cfg.ProxyPort),
		monitor: health.NewMonitor(health.Options{
			HistorySize:        cfg.Health.HistorySize,
			DegradedThreshold:  cfg.Health.DegradedThreshold,
			UnhealthyThreshold: cfg.Health.UnhealthyThreshold,
		}),
		checker:   health.NewChecker(cfg.Health.Timeout()),
		startTime: time.Now(),
		runCtx:    context.Background(),
	}
}

func (s *Server) Config() *config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Server) Logs() *LogService {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logs
}

// ProxyPort returns the port the proxy is actually bound to
func (s *Server) ProxyPort() int {
	return s.proxy.Port()
}

// runContext is cancelled when StopAll begins; background work derives from it
func (s *Server) runContext() context.Context {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.runCtx
}

/**
 * Start the instance: proxy, service processes, tunnel helper, watcher
 * @param {context.Context} ctx - bounds startup waits
 * @returns {error} *errs.ConfigurationError or *errs.TunnelConfigurationError; nothing is left running
 * @description
 * - Routing table, tunnel preconditions and the proxy bind are checked
 *   before any process is spawned
 * - A site that fails to start is logged and skipped
 */
func (s *Server) StartAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	table, err := proxy.BuildTable(s.cfg)
	if err != nil {
		return err
	}
	if s.cfg.TunnelEnabled() {
		if err := s.tunnel.Preflight(); err != nil {
			return err
		}
	}
	s.proxy.Reload(table)
	if err := s.proxy.Start(); err != nil {
		return err
	}

	s.runMu.Lock()
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	s.runMu.Unlock()
	s.running = true
	s.startTime = time.Now()

	if err := s.sites.StartAll(ctx); err != nil {
		logger.Warnf("Some sites failed to start, the others keep running")
	}
	if err := s.tunnel.Start(ctx); err != nil {
		logger.Errorf("Tunnel not started: %v", err)
	}
	s.startWatcher()
	logger.Infof("Instance '%s' started: %d site(s) behind port %d", s.cfg.Name, len(s.cfg.Sites), s.proxy.Port())
	return nil
}

/**
 * Stop the whole instance
 * @param {context.Context} ctx - bounds in-flight proxy requests and the orphan sweep
 * @returns {error} joined teardown errors
 * @description
 * - Order: watcher, proxy listener, tunnel helper, services, descriptor
 */
func (s *Server) StopAll(ctx context.Context) error {
	s.runMu.Lock()
	if s.runCancel != nil {
		s.runCancel()
	}
	s.runMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false

	var errList []error
	s.stopWatcher()
	if err := s.proxy.Stop(ctx); err != nil {
		errList = append(errList, err)
	}
	if err := s.tunnel.Stop(); err != nil {
		errList = append(errList, err)
	}
	s.sites.StopAll(ctx)
	s.sup.StopAll()
	if s.published {
		if err := descriptor.Remove(s.cfg.BaseDir, s.cfg.Name); err != nil {
			errList = append(errList, err)
		}
		s.published = false
	}
	logger.Infof("Instance '%s' stopped", s.cfg.Name)
	return errors.Join(errList...)
}

/**
 * Write the descriptor so other commands can find this instance
 * @param {string} adminAddress - management API address, may be empty
 */
func (s *Server) Publish(adminAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adminAddress = adminAddress
	if err := s.writeDescriptor(); err != nil {
		return err
	}
	s.published = true
	return nil
}

func (s *Server) writeDescriptor() error {
	return descriptor.Write(s.cfg.BaseDir, descriptor.Descriptor{
		Name:         s.cfg.Name,
		Pid:          os.Getpid(),
		ProxyPort:    s.proxy.Port(),
		ConfigPath:   s.cfg.ConfigPath,
		StartedAt:    s.startTime,
		AdminAddress: s.adminAddress,
	})
}

/**
 * Apply a new configuration to the running instance
 * @param {context.Context} ctx - bounds startup waits
 * @param {*config.Config} newCfg - validated configuration
 * @returns {error} set only when the new configuration is rejected; the old one keeps running
 * @description
 * - Rejected up front: bad routing table, tunnel preconditions, new proxy port not bindable
 * - Then: stop tunnel and services, replace the supervisor, swap the routing
 *   table, start services and tunnel again
 * - Start failures after the swap are logged, not returned
 */
func (s *Server) Reload(ctx context.Context, newCfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		s.install(newCfg)
		return nil
	}

	table, err := proxy.BuildTable(newCfg)
	if err != nil {
		metrics.Reloaded(false)
		return err
	}
	if newCfg.TunnelEnabled() {
		if err := NewTunnelManager(newCfg, s.sup).Preflight(); err != nil {
			metrics.Reloaded(false)
			return err
		}
	}
	var oldProxy *proxy.Server
	if newCfg.ProxyPort != s.cfg.ProxyPort {
		px := proxy.NewServer(newCfg.ProxyPort)
		px.Reload(table)
		if err := px.Start(); err != nil {
			metrics.Reloaded(false)
			return err
		}
		oldProxy, s.proxy = s.proxy, px
	}

	logger.Infof("Reloading instance '%s'", s.cfg.Name)
	s.stopWatcher()
	if err := s.tunnel.Stop(); err != nil {
		logger.Errorf("Reload: %v", err)
	}
	s.sites.StopAll(ctx)
	s.sup.StopAll()

	if oldProxy != nil {
		if err := oldProxy.Stop(ctx); err != nil {
			logger.Warnf("Reload: old proxy listener: %v", err)
		}
	}
	if s.published && (newCfg.BaseDir != s.cfg.BaseDir || newCfg.Name != s.cfg.Name) {
		descriptor.Remove(s.cfg.BaseDir, s.cfg.Name)
	}

	s.install(newCfg)
	s.proxy.Reload(table)
	if err := s.sites.StartAll(ctx); err != nil {
		logger.Errorf("Reload: some sites failed to start")
	}
	if err := s.tunnel.Start(ctx); err != nil {
		logger.Errorf("Reload: tunnel not started: %v", err)
	}
	s.startWatcher()
	if s.published {
		if err := s.writeDescriptor(); err != nil {
			logger.Errorf("Reload: cannot update descriptor: %v", err)
		}
	}
	metrics.Reloaded(true)
	logger.Infof("Instance '%s' reloaded: %s", newCfg.Name, s.proxy.Table())
	return nil
}

// install swaps the configuration and everything derived from it
func (s *Server) install(cfg *config.Config) {
	s.cfg = cfg
	s.sup = proc.NewSupervisor(cfg.LogDir)
	s.sites = NewSiteManager(cfg, s.sup)
	s.tunnel = NewTunnelManager(cfg, s.sup)
	s.logs = NewLogService(cfg.LogDir)
	s.checker = health.NewChecker(cfg.Health.Timeout())
	s.monitor.Retain(lo.Map(cfg.Sites, func(site config.Site, _ int) string { return site.SiteName() }))
	if !s.running {
		s.proxy = proxy.NewServer(cfg.ProxyPort)
	}
}

/**
 * Restart the backend of a single site
 * @param {context.Context} ctx - bounds the startup wait
 * @param {string} name - site name
 * @returns {int} PID of the new process
 * @returns {error} ErrSiteNotFound, ErrNoProcess for static sites, or the startup error
 */
func (s *Server) RestartSite(ctx context.Context, name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sites.RestartSite(ctx, name)
}

/**
 * Probe one site now and record the result
 * @param {context.Context} ctx - bounds the probe
 * @param {string} name - site name
 * @returns {models.HealthCheckResult} the recorded result
 */
func (s *Server) CheckSite(ctx context.Context, name string) (models.HealthCheckResult, error) {
	s.mu.Lock()
	site := s.cfg.Site(name)
	checker, monitor := s.checker, s.monitor
	s.mu.Unlock()
	if site == nil {
		return models.HealthCheckResult{}, ErrSiteNotFound
	}
	res := checker.Check(ctx, site)
	monitor.Record(res)
	return res, nil
}

/**
 * Probe every site concurrently and record the results
 * @param {context.Context} ctx - bounds the probes
 * @returns {models.CheckResponse} results sorted by site name with pass/fail counts
 */
func (s *Server) CheckAll(ctx context.Context) models.CheckResponse {
	s.mu.Lock()
	sites := append([]config.Site(nil), s.cfg.Sites...)
	checker, monitor := s.checker, s.monitor
	s.mu.Unlock()

	results := make([]models.HealthCheckResult, len(sites))
	var wg sync.WaitGroup
	for i, site := range sites {
		wg.Add(1)
		go func(i int, site config.Site) {
			defer wg.Done()
			results[i] = checker.Check(ctx, site)
			monitor.Record(results[i])
		}(i, site)
	}
	wg.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	response := models.CheckResponse{
		Timestamp:     time.Now(),
		Results:       results,
		OverallStatus: monitor.OverallStatus(),
		TotalChecks:   len(results),
	}
	for _, r := range results {
		if r.Healthy {
			response.PassedChecks++
		} else {
			response.FailedChecks++
		}
	}
	return response
}

/**
 * Run periodic health checks until ctx is cancelled
 * @param {context.Context} ctx - stops the loop
 * @description
 * - Interval comes from health.intervalSec; <= 0 disables monitoring
 */
func (s *Server) StartMonitoring(ctx context.Context) {
	interval := s.Config().Health.Interval()
	if interval <= 0 {
		logger.Info("Health monitoring is disabled (interval <= 0)")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resp := s.CheckAll(ctx)
			if resp.FailedChecks > 0 {
				logger.Warnf("Health check: %d/%d site(s) failing, overall %s",
					resp.FailedChecks, resp.TotalChecks, resp.OverallStatus)
			}
		}
	}
}

// Snapshot returns the read-only view of the instance
func (s *Server) Snapshot() models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := models.Snapshot{
		Name:          s.cfg.Name,
		ProxyPort:     s.proxy.Port(),
		ConfigPath:    s.cfg.ConfigPath,
		StartTime:     s.startTime,
		Processes:     s.sup.GetAllProcesses(),
		HealthSummary: s.monitor.Summary(),
	}
	for _, site := range s.cfg.Sites {
		st := models.SiteState{
			Name:   site.SiteName(),
			Domain: site.SiteDomain(),
			Kind:   site.SiteType(),
			Health: s.monitor.StatusFor(site.SiteName()),
		}
		if svc, ok := site.(*config.ServiceSite); ok {
			st.Port = svc.Port
			if detail, ok := s.sup.Get(svc.Name); ok {
				st.Process = &detail
			}
		}
		snap.Sites = append(snap.Sites, st)
	}
	return snap
}

func (s *Server) TunnelStatus() models.TunnelStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tunnel.Status()
}

/**
 * Stop and start the tunnel helper
 * @param {context.Context} ctx - cancels the liveness wait
 * @returns {error} *errs.TunnelConfigurationError when the tunnel is disabled or misconfigured
 */
func (s *Server) RestartTunnel(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.tunnel.Preflight(); err != nil {
		return err
	}
	if err := s.tunnel.Stop(); err != nil {
		return err
	}
	return s.tunnel.Start(ctx)
}

/**
 * Build the /healthz response
 * @returns {models.HealthResponse} version, uptime, overall health and counters
 */
func (s *Server) GetHealthz() models.HealthResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	activeServices := 0
	for _, rec := range s.sup.GetAllProcesses() {
		if rec.Type == models.ProcessService {
			activeServices++
		}
	}
	status := "UP"
	if !s.running {
		status = "DOWN"
	}
	return models.HealthResponse{
		Version:   env.Version,
		StartTime: s.startTime.Format(time.RFC3339),
		Status:    status,
		Uptime:    time.Since(s.startTime).Truncate(time.Second).String(),
		Health:    s.monitor.OverallStatus(),
		Metrics: models.Metrics{
			ProxyRequests:  metrics.TotalProxyRequests(),
			ProxyErrors:    metrics.TotalProxyErrors(),
			ActiveServices: activeServices,
			TunnelRunning:  s.tunnel.Status().Status == models.StatusRunning,
		},
	}
}

/**
 * Arm the file watcher for the current configuration
 * @description
 * - Site paths restart their service; the config file reloads everything
 * - Callbacks of an older watcher generation are ignored
 */
func (s *Server) startWatcher() {
	cfg := s.cfg
	if !cfg.Watch.Enabled && !cfg.Watch.WatchConfig {
		return
	}
	w, err := watcher.New(watcher.Options{
		Debounce:       cfg.Watch.Debounce(),
		Cooldown:       cfg.Watch.Cooldown(),
		FollowSymlinks: cfg.Watch.FollowSymlinks,
	})
	if err != nil {
		logger.Errorf("File watcher disabled: %v", err)
		return
	}
	s.watchGen++
	gen := s.watchGen

	if cfg.Watch.Enabled {
		for _, site := range cfg.Sites {
			name := site.SiteName()
			for _, path := range site.WatchPaths() {
				err := w.Add(watcher.Target{
					Name:     name,
					Path:     path,
					OnChange: func(changed string) { s.onSiteChange(gen, name, changed) },
				})
				if err != nil {
					logger.Warnf("Site [%s]: %v", name, err)
				}
			}
		}
	}
	if cfg.Watch.WatchConfig && cfg.ConfigPath != "" {
		err := w.Add(watcher.Target{
			Name:     "config",
			Path:     cfg.ConfigPath,
			OnChange: func(string) { s.onConfigChange(gen) },
		})
		if err != nil {
			logger.Warnf("Config watch: %v", err)
		}
	}
	if w.Len() == 0 {
		w.Close()
		return
	}
	w.Start(s.runContext())
	s.watcher = w
	logger.Infof("Watching %d path(s) for changes", w.Len())
}

func (s *Server) stopWatcher() {
	s.watchGen++
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
}

func (s *Server) onSiteChange(gen uint64, name, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || gen != s.watchGen {
		return
	}
	switch s.cfg.Site(name).(type) {
	case *config.ServiceSite:
		metrics.WatchFired("site")
		logger.Infof("Restarting site [%s] after change in %s", name, path)
		if _, err := s.sites.RestartSite(s.runContext(), name); err != nil {
			logger.Errorf("Site [%s] restart after change failed: %v", name, err)
		}
	case *config.StaticSite:
		// 静态站点直接从磁盘读取，无需重启
		metrics.WatchFired("static")
		logger.Debugf("Static site [%s] content changed: %s", name, path)
	}
}

func (s *Server) onConfigChange(gen uint64) {
	s.mu.Lock()
	current := gen == s.watchGen && s.running
	path := s.cfg.ConfigPath
	s.mu.Unlock()
	if !current {
		return
	}
	metrics.WatchFired("config")

	cfg, err := config.Load(path)
	if err != nil {
		metrics.Reloaded(false)
		logger.Errorf("Configuration change ignored, keeping the running config: %v", err)
		return
	}
	if err := s.Reload(s.runContext(), cfg); err != nil {
		logger.Errorf("Configuration change rejected: %v", err)
	}
}

// ReloadFromDisk re-reads the configuration file the instance was started with
func (s *Server) ReloadFromDisk(ctx context.Context) error {
	path := s.Config().ConfigPath
	cfg, err := config.Load(path)
	if err != nil {
		metrics.Reloaded(false)
		return err
	}
	return s.Reload(ctx, cfg)
}
