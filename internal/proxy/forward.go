package proxy

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"arc/internal/config"
	"arc/internal/errs"
	"arc/internal/logger"
)

const (
	requestIDHeader = "X-Request-Id"
	// upstream bodies without a length are buffered up to this size
	maxBufferedBody = 64 << 20
)

// newTransport builds the upstream transport: no pooling, bounded dial and
// response-header waits.
func newTransport(timeout time.Duration) *http.Transport {
	dialer := &net.Dialer{Timeout: timeout}
	return &http.Transport{
		DialContext:            dialer.DialContext,
		DisableKeepAlives:      true,
		ResponseHeaderTimeout:  timeout,
		MaxResponseHeaderBytes: 1 << 20,
	}
}

/**
 * Forward a request to the backend of a service site
 * @param {http.ResponseWriter} w - client response
 * @param {*http.Request} r - client request
 * @param {*config.ServiceSite} site - routed service
 * @description
 * - Target is http://127.0.0.1:<port><path>?<query>
 * - Host is replaced by the target, the original goes to X-Forwarded-Host
 * - Connect, timeout and protocol failures answer 502
 * - Upstream status, headers and body are relayed as received
 */
func (s *Server) forward(w http.ResponseWriter, r *http.Request, site *config.ServiceSite) {
	target := &url.URL{Scheme: "http", Host: fmt.Sprintf("127.0.0.1:%d", site.Port)}

	reqID := r.Header.Get(requestIDHeader)
	if reqID == "" {
		reqID = uuid.NewString()
	}

	rp := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.Header.Set("X-Forwarded-Host", r.Host)
			if req.Header.Get("X-Forwarded-Proto") == "" {
				req.Header.Set("X-Forwarded-Proto", "http")
			}
			req.Header.Set(requestIDHeader, reqID)
			req.Host = target.Host
		},
		Transport:      s.transport,
		ModifyResponse: fixLength,
		ErrorHandler: func(rw http.ResponseWriter, req *http.Request, err error) {
			upErr := &errs.ProxyUpstreamError{Site: site.Name, Target: target.Host, Err: err}
			logger.Warnf("[%s] %s %s: %v", reqID, req.Method, req.URL.Path, upErr)
			writeText(rw, http.StatusBadGateway, "Bad Gateway")
		},
		ErrorLog: logger.StdLogger(),
	}
	w.Header().Set(requestIDHeader, reqID)
	rp.ServeHTTP(w, r)
}

// fixLength gives every relayed response a Content-Length, buffering the
// body when the upstream did not announce one.
func fixLength(resp *http.Response) error {
	if resp.ContentLength >= 0 || resp.Request.Method == http.MethodHead ||
		resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotModified {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBufferedBody+1))
	resp.Body.Close()
	if err != nil {
		return err
	}
	if len(body) > maxBufferedBody {
		return fmt.Errorf("upstream body exceeds %d bytes without Content-Length", maxBufferedBody)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.TransferEncoding = nil
	resp.Header.Del("Transfer-Encoding")
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	return nil
}
