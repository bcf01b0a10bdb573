// Package testserver provides an importable HTTP server hosting
// instrumented test pages, so end-to-end tests can run full page-load
// measurements without depending on the public internet.
package testserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Config holds server configuration options.
type Config struct {
	// Addr is the listen address, ":0" for a random port.
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns a configuration suitable for tests: a random port
// and generous timeouts.
func DefaultConfig() Config {
	return Config{
		Addr:         ":0",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server hosts the test pages. It is not started until Start is called.
type Server struct {
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	addr     string
	running  bool
}

// NewServer creates a server with the given configuration.
func NewServer(cfg Config) *Server {
	mux := http.NewServeMux()

	// A small page that loads quickly and paints immediately.
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(basicPage))
	})

	// Delays the response body by ?ms= before serving the basic page,
	// for timeout and TTFB scenarios.
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		delay := queryMs(r, "ms", 2000)
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(basicPage))
	})

	// A page whose script blocks the main thread for ?ms= after load,
	// for long-task and interactivity scenarios.
	mux.HandleFunc("/busy", func(w http.ResponseWriter, r *http.Request) {
		ms := int(queryMs(r, "ms", 300) / time.Millisecond)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, busyPage, ms)
	})

	// A page referencing a third-party asset, for block-list scenarios.
	mux.HandleFunc("/with-asset", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(assetPage))
	})
	mux.HandleFunc("/assets/tracker.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Write([]byte(`window.__tracker = true;`))
	})

	// Reflects selected request headers into the document, for
	// header-override scenarios.
	mux.HandleFunc("/echo-headers", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, echoPage, r.Header.Get("X-Test"), r.Header.Get("X-Extra"))
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      mux,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// queryMs parses a millisecond query parameter with a default.
func queryMs(r *http.Request, key string, def int) time.Duration {
	if v := r.URL.Query().Get(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return time.Duration(def) * time.Millisecond
}

// Start begins listening and returns the actual listen address. It is
// non-blocking and idempotent.
func (s *Server) Start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return s.addr, nil
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = ln
	s.addr = ln.Addr().String()
	s.running = true

	go func() {
		// ErrServerClosed is the normal shutdown path.
		_ = s.httpServer.Serve(ln)
	}()

	return s.addr, nil
}

// URL returns the absolute URL for a path on the running server.
func (s *Server) URL(path string) string {
	return "http://" + s.Addr() + path
}

// Addr returns the listen address, or empty when not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	return s.httpServer.Shutdown(ctx)
}
