// Package resolver serves published sites: it maps an inbound request's
// subdomain and path to an object in the content store.
package resolver

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/skiffhq/skiff/internal/contenttype"
	"github.com/skiffhq/skiff/internal/namespace"
	"github.com/skiffhq/skiff/internal/store"
)

// Handler is a stateless content resolver. It holds no mutable state and is
// safe under unbounded concurrency.
type Handler struct {
	store       store.ContentStore
	logger      *slog.Logger
	cacheMaxAge time.Duration
}

// New builds a resolver handler.
func New(contentStore store.ContentStore, logger *slog.Logger, cacheMaxAge time.Duration) *Handler {
	if cacheMaxAge <= 0 {
		cacheMaxAge = time.Hour
	}
	return &Handler{store: contentStore, logger: logger, cacheMaxAge: cacheMaxAge}
}

// ServeHTTP resolves (host, path) to a stored object. Any unexpected error
// becomes a generic 500 without internal detail.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := h.serve(w, r)
	recordResolution(r.Method, status, time.Since(start))
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) int {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return http.StatusMethodNotAllowed
	}

	host := r.Host
	if splitHost, _, err := net.SplitHostPort(r.Host); err == nil {
		host = splitHost
	}
	labels := strings.Split(host, ".")
	if len(labels) < 3 {
		// Bare serving domain, no namespace label.
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "Root domain - no site attached")
		return http.StatusOK
	}

	ns := labels[0]
	if !namespace.Valid(ns) {
		http.Error(w, "Invalid subdomain", http.StatusBadRequest)
		return http.StatusBadRequest
	}
	ns = strings.ToLower(ns)

	path := r.URL.Path
	if path == "/" {
		path = "/index.html"
	}

	obj, err := h.store.Get(r.Context(), ns, path)
	if errors.Is(err, store.ErrNotFound) && !contenttype.HasExtension(path) {
		// Single-page-application fallback: extension-less routes resolve
		// to the site's index document.
		path = "/index.html"
		obj, err = h.store.Get(r.Context(), ns, path)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Not Found", http.StatusNotFound)
			return http.StatusNotFound
		}
		h.logger.Error("content store lookup failed", "namespace", ns, "path", path, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return http.StatusInternalServerError
	}
	defer obj.Body.Close()

	if notModified(r, obj) {
		w.WriteHeader(http.StatusNotModified)
		return http.StatusNotModified
	}

	headers := w.Header()
	headers.Set("Content-Type", resolveContentType(path, obj))
	if obj.ETag != "" {
		headers.Set("ETag", `"`+obj.ETag+`"`)
	}
	if !obj.LastModified.IsZero() {
		headers.Set("Last-Modified", obj.LastModified.UTC().Format(http.TimeFormat))
	}
	headers.Set("Content-Disposition", "inline")
	headers.Set("Cache-Control", "public, max-age="+strconv.Itoa(int(h.cacheMaxAge.Seconds())))
	headers.Set("X-Content-Type-Options", "nosniff")
	headers.Set("X-Frame-Options", "DENY")
	headers.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	if obj.Size > 0 {
		headers.Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return http.StatusOK
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj.Body); err != nil {
		h.logger.Warn("response write interrupted", "namespace", ns, "path", path, "error", err)
	}
	return http.StatusOK
}

// notModified evaluates conditional request headers against the object's
// fingerprint and upload time.
func notModified(r *http.Request, obj *store.Object) bool {
	if match := r.Header.Get("If-None-Match"); match != "" && obj.ETag != "" {
		if strings.Trim(match, `"`) == obj.ETag {
			return true
		}
	}
	if since := r.Header.Get("If-Modified-Since"); since != "" && !obj.LastModified.IsZero() {
		if t, err := http.ParseTime(since); err == nil {
			if !obj.LastModified.Truncate(time.Second).After(t) {
				return true
			}
		}
	}
	return false
}

// resolveContentType prefers the extension-derived type, then the type the
// store recorded on upload, then the opaque binary fallback.
func resolveContentType(path string, obj *store.Object) string {
	if ct := contenttype.FromPath(path); ct != contenttype.Binary {
		return ct
	}
	if obj.ContentType != "" {
		return obj.ContentType
	}
	return contenttype.Binary
}
