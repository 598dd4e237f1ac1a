package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"arc/internal/config"
	"arc/internal/errs"
	"arc/internal/logger"
	"arc/internal/metrics"
)

const (
	DefaultUpstreamTimeout = 30 * time.Second
	headerReadTimeout      = 10 * time.Second
	bodyReadTimeout        = 60 * time.Second
	maxHeaderBytes         = 64 << 10
)

/**
 * Server is the single HTTP entry point
 * @description
 * - Routes by Host header to a static tree or a local backend
 * - The routing table is swapped atomically, the socket stays bound
 * - One request per connection, every response carries Connection: close
 */
type Server struct {
	port            int
	Address         string
	UpstreamTimeout time.Duration

	table     atomic.Pointer[Table]
	transport *http.Transport

	mu   sync.Mutex
	srv  *http.Server
	ln   net.Listener
	done chan struct{}
}

func NewServer(port int) *Server {
	return &Server{
		port:            port,
		UpstreamTimeout: DefaultUpstreamTimeout,
		transport:       newTransport(DefaultUpstreamTimeout),
	}
}

/**
 * Bind the listening port and start serving
 * @returns {error} *errs.ConfigurationError when the port is invalid or taken
 * @description
 * - A second call while bound is a no-op
 */
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	// port 0 binds an ephemeral port
	if s.port < 0 || s.port > 65535 {
		return &errs.ConfigurationError{Err: fmt.Errorf("invalid proxy port %d", s.port)}
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(s.Address, fmt.Sprintf("%d", s.port)))
	if err != nil {
		return &errs.ConfigurationError{Err: fmt.Errorf("cannot bind proxy port %d: %w", s.port, err)}
	}
	s.transport = newTransport(s.UpstreamTimeout)
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: headerReadTimeout,
		ReadTimeout:       bodyReadTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
		ErrorLog:          logger.StdLogger(),
	}
	srv.SetKeepAlivesEnabled(false)

	s.srv = srv
	s.ln = ln
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Proxy server error: %v", err)
		}
	}(s.done)

	logger.Infof("Proxy listening on %s", ln.Addr())
	return nil
}

// Port returns the bound port, useful when started on port 0 in tests
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return s.port
	}
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Stop closes the listener; requests still in flight get until ctx expires
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.srv, s.ln, s.done = nil, nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	if err != nil {
		srv.Close()
	}
	<-done
	logger.Infof("Proxy on port %d stopped", s.port)
	return err
}

// Reload installs a new routing table without rebinding
func (s *Server) Reload(t *Table) {
	s.table.Store(t)
	logger.Infof("Routing table updated: %s", t)
}

// Table returns the active routing table
func (s *Server) Table() *Table {
	return s.table.Load()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w}
	rec.Header().Set("Connection", "close")

	site := s.route(rec, r)

	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	metrics.ObserveProxyRequest(site, rec.status, time.Since(start))
	logger.Debugf("%s %s%s -> %d (%v)", r.Method, r.Host, r.URL.RequestURI(), rec.status, time.Since(start))
}

// route answers the request and returns the matched site name, "" when unmatched
func (s *Server) route(w http.ResponseWriter, r *http.Request) string {
	if r.Host == "" {
		writeText(w, http.StatusBadRequest, "Bad Request: missing Host header")
		return ""
	}
	rt, ok := s.table.Load().Lookup(r.Host)
	if !ok {
		writeText(w, http.StatusNotFound, fmt.Sprintf("No site configured for host '%s'", StripPort(r.Host)))
		return ""
	}
	name := rt.Site.SiteName()

	if !rt.Authorized(r) {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm="%s"`, name))
		writeText(w, http.StatusUnauthorized, "Unauthorized")
		return name
	}

	switch site := rt.Site.(type) {
	case *config.StaticSite:
		if err := ServeStatic(w, r, site.OutputPath); err != nil {
			var sfe *errs.StaticFileError
			if errors.As(err, &sfe) && sfe.Status >= http.StatusInternalServerError {
				logger.Errorf("Site '%s': %v", name, err)
			}
		}
	case *config.ServiceSite:
		s.forward(w, r, site)
	default:
		writeText(w, http.StatusInternalServerError, "Unsupported site type")
	}
	return name
}
