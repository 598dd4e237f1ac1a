package proxy

import (
	"errors"
	"fmt"
	"html"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"arc/internal/errs"
)

const (
	indexFile   = "index.html"
	defaultMime = "application/octet-stream"
)

// SanitizePath turns a request path into a clean relative path. Empty, "."
// and ".." segments are dropped; the result is "." for the root.
func SanitizePath(p string) string {
	var parts []string
	for _, seg := range strings.Split(strings.ReplaceAll(p, "\\", "/"), "/") {
		switch seg {
		case "", ".", "..":
			continue
		}
		parts = append(parts, seg)
	}
	if len(parts) == 0 {
		return "."
	}
	return path.Join(parts...)
}

// MimeType derives a content type from the file extension
func MimeType(name string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return t
	}
	return defaultMime
}

/**
 * Serve a request from a static directory tree
 * @param {http.ResponseWriter} w - response
 * @param {*http.Request} r - request, only the path is used
 * @param {string} root - absolute output directory of the site
 * @returns {error} *errs.StaticFileError when nothing was served
 * @description
 * - Directory: index.html if present, else a sorted listing
 * - Regular file: streamed with a MIME type from its extension
 * - Anything else: 404; unreadable entries: 500
 */
func ServeStatic(w http.ResponseWriter, r *http.Request, root string) error {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeText(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return nil
	}

	rel := SanitizePath(r.URL.Path)
	full := filepath.Join(root, filepath.FromSlash(rel))

	info, err := os.Stat(full)
	if err != nil {
		return staticError(w, full, err)
	}
	if info.IsDir() {
		index := filepath.Join(full, indexFile)
		if ii, err := os.Stat(index); err == nil && ii.Mode().IsRegular() {
			return serveFile(w, r, index)
		}
		return serveListing(w, r, full, rel)
	}
	if !info.Mode().IsRegular() {
		return staticError(w, full, fs.ErrNotExist)
	}
	return serveFile(w, r, full)
}

func serveFile(w http.ResponseWriter, r *http.Request, name string) error {
	f, err := os.Open(name)
	if err != nil {
		return staticError(w, name, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return staticError(w, name, err)
	}
	w.Header().Set("Content-Type", MimeType(name))
	http.ServeContent(w, r, "", info.ModTime(), f)
	return nil
}

func serveListing(w http.ResponseWriter, r *http.Request, dir, rel string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return staticError(w, dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	base := "/"
	if rel != "." {
		base = "/" + rel + "/"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<!DOCTYPE html>\n<html><head><title>Index of %s</title></head><body>\n", html.EscapeString(base))
	fmt.Fprintf(&b, "<h1>Index of %s</h1>\n<ul>\n", html.EscapeString(base))
	if rel != "." {
		fmt.Fprintf(&b, "<li><a href=\"%s\">../</a></li>\n", html.EscapeString(path.Dir(strings.TrimSuffix(base, "/"))+"/"))
	}
	for _, name := range names {
		href := (&url.URL{Path: base + name}).EscapedPath()
		fmt.Fprintf(&b, "<li><a href=\"%s\">%s</a></li>\n", html.EscapeString(href), html.EscapeString(name))
	}
	b.WriteString("</ul>\n</body></html>\n")

	body := b.String()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write([]byte(body))
	}
	return nil
}

func staticError(w http.ResponseWriter, name string, err error) error {
	status := http.StatusInternalServerError
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
		status = http.StatusNotFound
	}
	writeText(w, status, http.StatusText(status))
	return &errs.StaticFileError{Path: name, Status: status, Err: err}
}

func writeText(w http.ResponseWriter, status int, msg string) {
	body := msg + "\n"
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	w.Write([]byte(body))
}
