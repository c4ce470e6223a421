package router

import (
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

type HandlerFunc func(http.ResponseWriter, *http.Request)

// Router is a small METHOD:PATH mux with `*` wildcards. A `*` segment
// matches exactly one path segment; a trailing `*` matches the whole
// subtree. When several wildcard routes match, the most specific one
// (most literal segments) wins, so registration order never matters.
type Router struct {
	mux    *http.ServeMux
	routes map[string]HandlerFunc // key = METHOD:PATH
	paths  map[string]bool        // track registered paths
}

func New() *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		routes: make(map[string]HandlerFunc),
		paths:  make(map[string]bool),
	}

	r.mux.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		r.dispatch(lrw, req)

		logrus.WithFields(logrus.Fields{
			"method":   req.Method,
			"path":     req.URL.Path,
			"status":   lrw.statusCode,
			"duration": time.Since(start).String(),
		}).Info("http request")
	})

	return r
}

func (r *Router) dispatch(w http.ResponseWriter, req *http.Request) {
	key := req.Method + ":" + req.URL.Path
	if h, ok := r.routes[key]; ok {
		h(w, req)
		return
	}

	if h := r.bestWildcard(req.Method, req.URL.Path); h != nil {
		h(w, req)
		return
	}

	if r.pathKnown(req.URL.Path) {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	http.Error(w, "Not Found", http.StatusNotFound)
}

// bestWildcard returns the handler of the most specific wildcard route
// matching the request, or nil.
func (r *Router) bestWildcard(method, requestPath string) HandlerFunc {
	bestScore := -1
	var best HandlerFunc

	for routePath := range r.paths {
		if !strings.Contains(routePath, "*") {
			continue
		}
		if !matchWildcardRoute(requestPath, routePath) {
			continue
		}
		h, ok := r.routes[method+":"+routePath]
		if !ok {
			continue
		}
		score := routeSpecificity(routePath)
		if score > bestScore {
			bestScore = score
			best = h
		}
	}
	return best
}

// routeSpecificity counts literal segments; subtree patterns rank below
// same-shape single-segment patterns.
func routeSpecificity(routePattern string) int {
	segments := strings.Split(strings.Trim(routePattern, "/"), "/")
	score := 0
	for _, s := range segments {
		if s != "*" {
			score += 2
		}
	}
	if segments[len(segments)-1] != "*" {
		score++
	}
	return score
}

// pathKnown reports whether any registered route matches the path under
// some method.
func (r *Router) pathKnown(requestPath string) bool {
	if r.paths[requestPath] {
		return true
	}
	for routePath := range r.paths {
		if strings.Contains(routePath, "*") && matchWildcardRoute(requestPath, routePath) {
			return true
		}
	}
	return false
}

// matchWildcardRoute checks if a request path matches a wildcard route pattern.
func matchWildcardRoute(requestPath, routePattern string) bool {
	requestSegments := strings.Split(strings.Trim(requestPath, "/"), "/")
	routeSegments := strings.Split(strings.Trim(routePattern, "/"), "/")

	// A trailing wildcard matches any number of remaining segments.
	if routeSegments[len(routeSegments)-1] == "*" {
		if len(requestSegments) < len(routeSegments)-1 {
			return false
		}
		for i := 0; i < len(routeSegments)-1; i++ {
			if routeSegments[i] != "*" && requestSegments[i] != routeSegments[i] {
				return false
			}
		}
		return true
	}

	if len(requestSegments) != len(routeSegments) {
		return false
	}
	for i, routeSegment := range routeSegments {
		if routeSegment == "*" {
			continue
		}
		if requestSegments[i] != routeSegment {
			return false
		}
	}
	return true
}

// --- Register paths ---
func (r *Router) register(method, path string, handler HandlerFunc) {
	key := method + ":" + path
	r.routes[key] = handler
	r.paths[path] = true
}

func (r *Router) GET(path string, handler HandlerFunc)   { r.register(http.MethodGet, path, handler) }
func (r *Router) POST(path string, handler HandlerFunc)  { r.register(http.MethodPost, path, handler) }
func (r *Router) PUT(path string, handler HandlerFunc)   { r.register(http.MethodPut, path, handler) }
func (r *Router) PATCH(path string, handler HandlerFunc) { r.register(http.MethodPatch, path, handler) }
func (r *Router) DELETE(path string, handler HandlerFunc) {
	r.register(http.MethodDelete, path, handler)
}

// Getter methods for testing
func (r *Router) Routes() map[string]HandlerFunc {
	return r.routes
}

func (r *Router) Paths() map[string]bool {
	return r.paths
}

// Handler exposes the underlying mux so callers can run it inside their
// own http.Server.
func (r *Router) Handler() http.Handler {
	return r.mux
}

// --- Logging response writer to capture status codes ---
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}
