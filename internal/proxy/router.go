package proxy

import (
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"

	"github.com/tg123/go-htpasswd"

	"arc/internal/config"
	"arc/internal/errs"
	"arc/internal/logger"
)

// Route is one routable site plus its optional basic auth
type Route struct {
	Site config.Site
	auth *htpasswd.File
}

// Authorized reports whether r may access the route
func (rt *Route) Authorized(r *http.Request) bool {
	if rt.auth == nil {
		return true
	}
	user, password, ok := r.BasicAuth()
	if !ok {
		return false
	}
	return rt.auth.Match(user, password)
}

// Table maps a lowercase domain to its route. A Table is never modified
// after BuildTable returns; reloads swap in a new one.
type Table struct {
	routes map[string]*Route
}

/**
 * Build the routing table for a configuration
 * @param {*config.Config} cfg - validated configuration
 * @returns {*Table} domain -> route
 * @returns {error} *errs.ConfigurationError on duplicate domains or unreadable auth files
 */
func BuildTable(cfg *config.Config) (*Table, error) {
	t := &Table{routes: make(map[string]*Route, len(cfg.Sites))}
	bucket := &errs.ErrorsBucket{Msg: "routing table"}

	for _, site := range cfg.Sites {
		domain := strings.ToLower(site.SiteDomain())
		if _, dup := t.routes[domain]; dup {
			bucket.Add("domain '%s' is routed twice", domain)
			continue
		}
		rt := &Route{Site: site}
		if file := site.AuthFilePath(); file != "" {
			auth, err := htpasswd.New(file, htpasswd.DefaultSystems, func(err error) {
				logger.Warnf("Ignoring bad line in '%s': %v", file, err)
			})
			if err != nil {
				bucket.Add("site '%s': cannot load auth file: %v", site.SiteName(), err)
				continue
			}
			rt.auth = auth
		}
		t.routes[domain] = rt
	}
	if !bucket.Empty() {
		return nil, &errs.ConfigurationError{Err: bucket}
	}
	return t, nil
}

// Lookup finds the route for a Host header value
func (t *Table) Lookup(host string) (*Route, bool) {
	if t == nil {
		return nil, false
	}
	rt, ok := t.routes[StripPort(host)]
	return rt, ok
}

// Domains lists the routed domains, sorted
func (t *Table) Domains() []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.routes))
	for d := range t.routes {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.routes)
}

// StripPort removes a :port suffix (IPv6 literals included) and lowercases
func StripPort(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	} else {
		host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	}
	return strings.ToLower(strings.TrimSuffix(host, "."))
}

func (t *Table) String() string {
	return fmt.Sprintf("%d route(s): %s", t.Len(), strings.Join(t.Domains(), ", "))
}
