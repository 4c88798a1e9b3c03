package server

import (
	"bytes"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/conneroisu/tramline/internal/assembler"
)

// staticHandler serves the published directory under the public URL.
func (s *Server) staticHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if !strings.HasPrefix(r.URL.Path, s.basePath) {
			if r.URL.Path == "/" || r.URL.Path+"/" == s.basePath {
				http.Redirect(w, r, s.basePath, http.StatusFound)
				return
			}
			http.NotFound(w, r)
			return
		}

		name := path.Clean("/" + strings.TrimPrefix(r.URL.Path, s.basePath))
		file, info, err := s.open(name)
		if err != nil {
			if !s.config.SPAFallback || !acceptsHTML(r) {
				http.NotFound(w, r)
				return
			}
			file, info, err = s.open("/" + assembler.DocumentName)
			if err != nil {
				http.NotFound(w, r)
				return
			}
		}

		s.serveFile(w, r, file, info)
	})
}

// open resolves name inside the published directory. Directories resolve
// to their index document.
func (s *Server) open(name string) (string, fs.FileInfo, error) {
	file := filepath.Join(s.dist, filepath.FromSlash(name))
	info, err := os.Stat(file)
	if err != nil {
		return "", nil, err
	}
	if info.IsDir() {
		file = filepath.Join(file, assembler.DocumentName)
		info, err = os.Stat(file)
		if err != nil {
			return "", nil, err
		}
		if info.IsDir() {
			return "", nil, fs.ErrNotExist
		}
	}
	return file, info, nil
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, file string, info fs.FileInfo) {
	// Bundles change on every publish; never let the browser reuse one.
	w.Header().Set("Cache-Control", "no-cache")

	contentType := mime.TypeByExtension(filepath.Ext(file))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)

	data, err := os.ReadFile(file)
	if err != nil {
		// Lost a race with a publish swap.
		s.logger.Debug(r.Context(), "Published file vanished", "path", file, "error", err.Error())
		http.NotFound(w, r)
		return
	}

	if strings.HasPrefix(contentType, "text/html") && s.injectReload() {
		data = InjectReloadScript(data)
	}

	http.ServeContent(w, r, info.Name(), info.ModTime().Truncate(time.Second), bytes.NewReader(data))
}

func (s *Server) injectReload() bool {
	return s.reload != nil && !s.config.NoReload
}

// acceptsHTML reports whether r looks like a browser navigation.
func acceptsHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return accept == "" || strings.Contains(accept, "text/html") || strings.Contains(accept, "*/*")
}
