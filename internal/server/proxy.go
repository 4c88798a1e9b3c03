package server

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/conneroisu/tramline/internal/errors"
	"github.com/conneroisu/tramline/internal/logging"
)

// proxy forwards every request under mount to the backend. The mount
// prefix is replaced by the backend's own path; everything else about the
// request is passed through.
type proxy struct {
	mount   string
	backend *url.URL
	handler *httputil.ReverseProxy
	logger  logging.Logger
}

// newProxy mounts backend at rewrite, or at the backend's path when rewrite
// is empty.
func newProxy(backend, rewrite string, logger logging.Logger) (*proxy, error) {
	target, err := url.Parse(backend)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, errors.NewServerError("invalid proxy backend "+backend, err)
	}

	mount := rewrite
	if mount == "" {
		mount = target.Path
	}
	if !strings.HasPrefix(mount, "/") {
		mount = "/" + mount
	}
	if !strings.HasSuffix(mount, "/") {
		mount += "/"
	}
	if mount == "/" || strings.HasPrefix(mount, RoutePrefix) {
		return nil, errors.NewServerError("proxy path "+mount+" would shadow the dev server", nil)
	}

	p := &proxy{mount: mount, backend: target, logger: logger}
	p.handler = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			rest := strings.TrimPrefix(pr.In.URL.Path, mount)
			pr.SetURL(target)
			pr.Out.URL.Path = joinPath(target.Path, rest)
			pr.Out.URL.RawPath = ""
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			p.logger.Warn(r.Context(), err, "Proxy request failed", "path", r.URL.Path, "backend", backend)
			http.Error(w, "Bad Gateway", http.StatusBadGateway)
		},
	}
	return p, nil
}

func (p *proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.handler.ServeHTTP(w, r)
}

func joinPath(base, rest string) string {
	if rest == "" {
		if base == "" {
			return "/"
		}
		return base
	}
	return strings.TrimSuffix(base, "/") + "/" + rest
}
