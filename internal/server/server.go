// Package server implements the development server.
//
// It serves the published bundle under the configured public URL, injects
// the live-reload client into HTML responses, exposes the live-reload
// endpoint, a build status page and Prometheus metrics, and optionally
// forwards path prefixes to backends.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/conneroisu/tramline/internal/build"
	"github.com/conneroisu/tramline/internal/config"
	"github.com/conneroisu/tramline/internal/errors"
	"github.com/conneroisu/tramline/internal/logging"
	"github.com/conneroisu/tramline/internal/metrics"
)

const (
	// RoutePrefix is reserved for the server's own endpoints.
	RoutePrefix = "/_tramline/"

	reloadPath  = RoutePrefix + "ws"
	statusPath  = RoutePrefix + "status"
	metricsPath = "/metrics"

	readHeaderTimeout = 10 * time.Second
)

// StatusProvider reports the state of the build generations.
type StatusProvider interface {
	Status() build.Status
}

// LiveReload is the endpoint browsers connect to for reload notices.
type LiveReload interface {
	http.Handler
	Shutdown(ctx context.Context) error
}

// Options configure a Server.
type Options struct {
	Config config.ServeConfig
	// Dist is the published directory.
	Dist      string
	PublicURL string
	Status    StatusProvider
	Reload    LiveReload
	Gatherer  prom.Gatherer
	Logger    logging.Logger
}

// Server is the development server.
type Server struct {
	config   config.ServeConfig
	dist     string
	basePath string
	status   StatusProvider
	reload   LiveReload
	gatherer prom.Gatherer
	logger   logging.Logger
	handler  http.Handler
	// openURL is called with the server's address when config.Open is set.
	openURL func(url string) error

	serverMutex  sync.RWMutex
	httpServer   *http.Server
	shutdownOnce sync.Once
}

// New builds the server and its routes. It does not listen.
func New(opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if opts.Dist == "" {
		return nil, errors.NewServerError("dist directory is required", nil)
	}

	s := &Server{
		config:   opts.Config,
		dist:     opts.Dist,
		basePath: basePath(opts.PublicURL),
		status:   opts.Status,
		reload:   opts.Reload,
		gatherer: opts.Gatherer,
		logger:   logger.WithComponent("server"),
		openURL:  openBrowser,
	}

	mux := http.NewServeMux()
	if s.reload != nil && !s.config.NoReload {
		mux.Handle(reloadPath, s.reload)
	}
	if s.status != nil {
		mux.HandleFunc(statusPath, s.handleStatus)
		mux.HandleFunc(RoutePrefix, s.handleStatusPage)
	}
	mux.Handle(metricsPath, metrics.HTTPHandler(s.gatherer))

	mounted := make(map[string]string)
	for _, pc := range s.config.ProxyMounts() {
		proxy, err := newProxy(pc.Backend, pc.Rewrite, s.logger)
		if err != nil {
			return nil, err
		}
		if other, ok := mounted[proxy.mount]; ok {
			return nil, errors.NewServerError(fmt.Sprintf("proxies for %s and %s are both mounted at %s", other, pc.Backend, proxy.mount), nil)
		}
		mounted[proxy.mount] = pc.Backend
		mux.Handle(proxy.mount, proxy)
		s.logger.Info(context.Background(), "Proxying requests", "prefix", proxy.mount, "backend", pc.Backend)
	}

	mux.Handle("/", s.staticHandler())

	s.handler = s.addMiddleware(mux)
	return s, nil
}

// basePath returns the path part of a public URL with a trailing slash.
func basePath(publicURL string) string {
	p := publicURL
	if strings.Contains(publicURL, "://") {
		if u, err := url.Parse(publicURL); err == nil {
			p = u.Path
		}
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// Handler returns the server's root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return errors.NewServerError("failed to listen on "+s.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	s.logger.Info(ctx, "Dev server listening", "address", "http://"+ln.Addr().String()+s.basePath)

	if s.config.Open {
		target := browserURL(ln.Addr(), s.basePath)
		go func() {
			if err := s.openURL(target); err != nil {
				s.logger.Warn(ctx, err, "Failed to open browser", "url", target)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return errors.NewServerError("server error", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown closes live-reload connections, then stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down server")

		// Hijacked websocket connections are not tracked by http.Server.
		if s.reload != nil {
			if err := s.reload.Shutdown(ctx); err != nil {
				s.logger.Warn(ctx, err, "Live-reload shutdown incomplete")
			}
		}

		s.serverMutex.RLock()
		server := s.httpServer
		s.serverMutex.RUnlock()

		if server != nil {
			shutdownErr = server.Shutdown(ctx)
		}
	})

	return shutdownErr
}

// handleStatus returns the build status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(s.status.Status()); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to encode status response")
	}
}

// handleStatusPage renders the HTML status page.
func (s *Server) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != RoutePrefix {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusPage(s.status.Status()).Render(r.Context(), w); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to render status page")
	}
}
