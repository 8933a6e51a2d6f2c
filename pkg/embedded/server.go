// Package embedded lets a host run the identifier migration gate in-process
// and optionally serve its status over HTTP once the gate has passed.
package embedded

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	httpapi "github.com/mistakeknot/guidpatch/internal/http"
	"github.com/mistakeknot/guidpatch/internal/schema"
	"github.com/mistakeknot/guidpatch/internal/storage/sqlite"
)

// Config configures the embedded server
type Config struct {
	Gate    GateConfig
	Mapping *Mapping

	// Port is the HTTP port to listen on.
	// If 0, defaults to 7338; if negative, the OS picks a free port.
	Port int

	// Host is the host to bind to.
	// If empty, defaults to localhost (127.0.0.1).
	Host string
}

// Server runs the startup gate and then serves /healthz, /api/patch and
// /metrics.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	tracker *httpapi.Tracker
	store   *sqlite.Store
	http    *http.Server
	ln      net.Listener
	result  GateResult
	started bool
	mu      sync.Mutex
}

// New creates a new embedded server. Nothing touches the database until Start.
func New(cfg Config) (*Server, error) {
	if cfg.Gate.DBPath == "" {
		return nil, fmt.Errorf("db path required")
	}
	if cfg.Mapping == nil {
		return nil, fmt.Errorf("%w: mapping required", schema.ErrInvalidMapping)
	}
	if cfg.Port == 0 {
		cfg.Port = 7338
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Gate.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	logger := cfg.Gate.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: logger}, nil
}

// Start runs the startup gate and, only if it succeeds, begins serving in
// a goroutine. A gate failure is returned and no listener is opened.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	res, err := RunStartupGate(ctx, s.cfg.Gate, s.cfg.Mapping)
	s.result = res
	if err != nil {
		return fmt.Errorf("startup gate: %w", err)
	}

	store, err := sqlite.New(s.cfg.Gate.DBPath)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	s.tracker = httpapi.NewTracker(res.Marker)
	s.tracker.Set(res.Report, nil)
	svc := httpapi.NewService(s.tracker, store.DB())

	port := s.cfg.Port
	if port < 0 {
		port = 0
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, port))
	if err != nil {
		store.Close()
		return fmt.Errorf("listen: %w", err)
	}
	s.store = store
	s.ln = ln
	s.http = &http.Server{Handler: httpapi.NewRouter(svc, nil), ReadHeaderTimeout: 10 * time.Second}
	s.started = true

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("embedded server stopped", "error", err)
		}
	}()
	return nil
}

// Stop stops the embedded server gracefully
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.http.Shutdown(ctx)
	if cerr := s.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// Result returns what the startup gate did.
func (s *Server) Result() GateResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Addr returns the server's listen address
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	}
	return s.ln.Addr().String()
}

// URL returns the base URL for the server
func (s *Server) URL() string {
	return fmt.Sprintf("http://%s", s.Addr())
}
