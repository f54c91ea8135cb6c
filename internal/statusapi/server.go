// ABOUTME: Local HTTP status server exposing health and agent state
// ABOUTME: Serves loopback by default, optionally joins a tailnet via tsnet

package statusapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/familiar/internal/config"
	"github.com/2389/familiar/internal/engine"
	"github.com/2389/familiar/internal/queue"
)

// EngineSource provides engine state for display.
type EngineSource interface {
	State() engine.State
	Snapshot() engine.Snapshot
	Subscribe(ctx context.Context) (<-chan engine.Event, string)
}

// WorkspaceSource provides workspace snapshots for display.
type WorkspaceSource interface {
	Snapshot() []queue.Workspace
}

// DeviceSource reports registration and heartbeat state.
type DeviceSource interface {
	Device() *queue.Device
	AvailableSlots() int
	LastHeartbeat() time.Time
}

// EventSource reads the local journal.
type EventSource interface {
	RecentEvents(ctx context.Context, limit int) ([]*queue.Event, error)
	ListEvents(ctx context.Context, workspaceID string, limit int) ([]*queue.Event, error)
}

// Config holds the status server settings.
type Config struct {
	Addr      string
	AgentName string
	Version   string
	Tailscale config.TailscaleConfig
}

// Server is the local status HTTP server. All state it reports comes
// from snapshots; it never mutates the engine or workspace manager.
type Server struct {
	cfg        Config
	eng        EngineSource
	workspaces WorkspaceSource
	device     DeviceSource
	events     EventSource
	logger     *slog.Logger
	startedAt  time.Time

	httpServer  *http.Server
	tsnetServer *tsnet.Server
}

// New wires the status server. workspaces and device may be nil; the
// corresponding sections are then omitted from responses.
func New(cfg Config, eng EngineSource, workspaces WorkspaceSource, device DeviceSource, events EventSource, logger *slog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		eng:        eng,
		workspaces: workspaces,
		device:     device,
		events:     events,
		logger:     logger.With("component", "statusapi"),
		startedAt:  time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/ready", s.handleReady)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/events/stream", s.handleEventStream)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the route mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("status server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, shutting down status server")
	case serverErr = <-errCh:
		s.logger.Error("status server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown shuts down with a fresh context and timeout.
// Uses context.Background() since the run context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops the HTTP server and the tailscale node if one is up.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if s.tsnetServer != nil {
		if err := s.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// setupListener creates a listener based on configuration (Tailscale or TCP).
func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.cfg.Tailscale.Enabled {
		if s.cfg.Addr != "" {
			s.logger.Warn("status.addr is ignored when tailscale is enabled", "addr", s.cfg.Addr)
		}
		return s.setupTailscaleListener(ctx)
	}
	return net.Listen("tcp", s.cfg.Addr)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set status.tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "familiar", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", fmt.Errorf("tailscale auth key required: set status.tailscale.auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener starts a tsnet node and listens on it.
func (s *Server) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := s.cfg.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	s.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	s.logTailscaleStatus(tsCfg.Hostname, status)

	ln, err := s.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (s *Server) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		s.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	s.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}
