// Package devserver puts an HTTP server in front of esbuild's serve mode. It
// proxies assets to esbuild, renders an index of the built entry points and
// tells connected browsers to reload after every build.
package devserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/a-h/templ"
	esbuild "github.com/evanw/esbuild/pkg/api"
	"github.com/gorilla/websocket"

	"github.com/greuben92/bundlekit/pkg/esflags"
	"github.com/greuben92/bundlekit/pkg/manifest"
)

const (
	ReloadPath = "/__bundlekit/reload"
	ClientPath = "/__bundlekit/client.js"

	ShutdownTimeout = 5 * time.Second
	write_timeout   = 2 * time.Second
)

type Options struct {
	Host string
	Port int
	// Root is esbuild's servedir. An index.html there replaces the
	// generated index page.
	Root       string
	Title      string
	AssetsPath string
	// Page replaces the generated index page, e.g. with a test harness.
	Page func(manifest.Manifest) templ.Component
	// ManifestDir holds the manifest.json of an earlier build, shown until
	// the first build ends.
	ManifestDir string
}

type Server struct {
	opts     Options
	mux      *http.ServeMux
	upgrader websocket.Upgrader

	upstream_mutex sync.RWMutex
	proxy          *httputil.ReverseProxy

	manifest_mutex sync.RWMutex
	manifest       manifest.Manifest

	clients_mutex sync.Mutex
	clients       map[*websocket.Conn]struct{}
}

func New(o Options) *Server {
	if o.Title == "" {
		o.Title = "bundlekit"
	}
	s := &Server{
		opts: o,
		mux:  http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
	if o.ManifestDir != "" {
		m, err := manifest.Read(o.ManifestDir)
		switch {
		case err == nil:
			s.manifest = m
		case !errors.Is(err, os.ErrNotExist):
			slog.Error("failed to read manifest file", "error", err)
		}
	}
	s.mux.HandleFunc("GET "+ReloadPath, s.reload)
	s.mux.HandleFunc("GET "+ClientPath, s.client)
	s.mux.HandleFunc("GET /{$}", s.home)
	s.mux.HandleFunc("/", s.forward)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// SetUpstream points the proxy at esbuild's serve address.
func (s *Server) SetUpstream(u *url.URL) {
	proxy := httputil.NewSingleHostReverseProxy(u)
	director := proxy.Director
	proxy.Director = func(r *http.Request) {
		director(r)
		r.Header.Del("Accept-Encoding")
	}
	proxy.ModifyResponse = inject_client
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		slog.Error("proxy error", "path", r.URL.Path, "error", err)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
	}

	s.upstream_mutex.Lock()
	s.proxy = proxy
	s.upstream_mutex.Unlock()
}

func (s *Server) Manifest() manifest.Manifest {
	s.manifest_mutex.RLock()
	defer s.manifest_mutex.RUnlock()
	return s.manifest
}

func (s *Server) SetManifest(m manifest.Manifest) {
	s.manifest_mutex.Lock()
	s.manifest = m
	s.manifest_mutex.Unlock()
}

// Plugin keeps the index page current and notifies browsers at the end of
// every build.
func (s *Server) Plugin() esbuild.Plugin {
	return esbuild.Plugin{
		Name: "devserver",
		Setup: func(pb esbuild.PluginBuild) {
			pb.InitialOptions.Metafile = true
			workdir := pb.InitialOptions.AbsWorkingDir
			outdir := pb.InitialOptions.Outdir

			pb.OnEnd(func(result *esbuild.BuildResult) (esbuild.OnEndResult, error) {
				if err := esflags.Messages(result.Errors); err != nil {
					s.Broadcast("error:" + err.Error())
					return esbuild.OnEndResult{}, nil
				}
				m, err := manifest.Build(result.Metafile, workdir, outdir)
				if err != nil {
					slog.Error("esbuild metafile", "error", err)
				} else {
					s.SetManifest(m)
				}
				s.Broadcast("reload")
				return esbuild.OnEndResult{}, nil
			})
		},
	}
}

// Broadcast sends msg to every connected browser. Clients that cannot be
// written to are dropped.
func (s *Server) Broadcast(msg string) {
	s.clients_mutex.Lock()
	defer s.clients_mutex.Unlock()
	for conn := range s.clients {
		conn.SetWriteDeadline(time.Now().Add(write_timeout))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			slog.Debug("dropping reload client", "error", err)
			conn.Close()
			delete(s.clients, conn)
		}
	}
}

func (s *Server) Clients() int {
	s.clients_mutex.Lock()
	defer s.clients_mutex.Unlock()
	return len(s.clients)
}

func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		return
	}
	s.clients_mutex.Lock()
	s.clients[conn] = struct{}{}
	s.clients_mutex.Unlock()

	defer func() {
		s.clients_mutex.Lock()
		delete(s.clients, conn)
		s.clients_mutex.Unlock()
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) client(w http.ResponseWriter, r *http.Request) {
	header := w.Header()
	header.Set("Content-Type", "application/javascript; charset=utf-8")
	header.Set("Cache-Control", "no-cache")
	io.WriteString(w, client_script)
}

func (s *Server) home(w http.ResponseWriter, r *http.Request) {
	if s.opts.Root != "" {
		if _, err := os.Stat(filepath.Join(s.opts.Root, "index.html")); err == nil {
			s.forward(w, r)
			return
		}
	}

	var page templ.Component
	if s.opts.Page != nil {
		page = s.opts.Page(s.Manifest())
	} else {
		page = Index(IndexData{
			Title:      s.opts.Title,
			Manifest:   s.Manifest(),
			AssetsPath: s.opts.AssetsPath,
		})
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := page.Render(r.Context(), w); err != nil {
		slog.Error("failed to render template", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal Server Error"))
	}
}

func (s *Server) forward(w http.ResponseWriter, r *http.Request) {
	s.upstream_mutex.RLock()
	proxy := s.proxy
	s.upstream_mutex.RUnlock()
	if proxy == nil {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	proxy.ServeHTTP(w, r)
}

// inject_client adds the reload client to proxied HTML pages.
func inject_client(res *http.Response) error {
	if !strings.HasPrefix(res.Header.Get("Content-Type"), "text/html") {
		return nil
	}
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		return err
	}
	tag := []byte(`<script type="module" src="` + ClientPath + `"></script>`)
	if i := bytes.LastIndex(body, []byte("</body>")); i >= 0 {
		body = append(body[:i:i], append(tag, body[i:]...)...)
	} else {
		body = append(body, tag...)
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	res.ContentLength = int64(len(body))
	res.Header.Set("Content-Length", strconv.Itoa(len(body)))
	return nil
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
// ready, when set, receives the bound address.
func (s *Server) ListenAndServe(ctx context.Context, ready func(addr string)) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port)))
	if err != nil {
		return fmt.Errorf("devserver: %w", err)
	}
	server := http.Server{Handler: s}
	if ready != nil {
		ready(ln.Addr().String())
	}

	errs := make(chan error, 1)
	go func() {
		errs <- server.Serve(ln)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdown_ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	s.clients_mutex.Lock()
	for conn := range s.clients {
		conn.Close()
	}
	s.clients_mutex.Unlock()
	slog.Info("shutting down server")
	if err := server.Shutdown(shutdown_ctx); err != nil {
		return err
	}
	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
