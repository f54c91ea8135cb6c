// ABOUTME: Entry point for the familiar task agent
// ABOUTME: Polls the remote queue, runs tasks, and manages workspaces

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/familiar/internal/artifact"
	"github.com/2389/familiar/internal/config"
	"github.com/2389/familiar/internal/creds"
	"github.com/2389/familiar/internal/device"
	"github.com/2389/familiar/internal/engine"
	"github.com/2389/familiar/internal/provider"
	"github.com/2389/familiar/internal/queue"
	"github.com/2389/familiar/internal/statusapi"
	"github.com/2389/familiar/internal/store"
	"github.com/2389/familiar/internal/workspace"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
   __                 _ _ _
  / _| __ _ _ __ ___ (_) (_) __ _ _ __
 | |_ / _' | '_ ' _ \| | | |/ _' | '__|
 |  _| (_| | | | | | | | | | (_| | |
 |_|  \__,_|_| |_| |_|_|_|_|\__,_|_|
`

// getConfigPath returns the path to the agent config file.
// Priority: FAMILIAR_CONFIG env var > XDG_CONFIG_HOME/familiar/agent.yaml > ~/.config/familiar/agent.yaml
func getConfigPath() string {
	if envPath := os.Getenv("FAMILIAR_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "agent.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "familiar", "agent.yaml")
}

// getDataPath returns the path to the familiar data directory.
// Priority: XDG_DATA_HOME/familiar > ~/.local/share/familiar
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "familiar")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: familiar-agent <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  run      Start the agent")
		fmt.Println("  init     Create a new config file interactively")
		fmt.Println("  health   Check agent health")
		fmt.Println("  status   Show agent status")
		fmt.Println("  version  Print version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "run":
		err = runAgent(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "status":
		err = runStatus(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runAgent(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Queue:      %s\n", cfg.Queue.BaseURL)
	green.Print("    ▶ ")
	fmt.Printf("Workspaces: %s (max %d)\n", cfg.Device.RootPath, cfg.Device.MaxConcurrentWorkspaces)

	green.Print("    ▶ ")
	if cfg.Status.Tailscale.Enabled {
		fmt.Printf("Status:     ")
		cyan.Print(cfg.Status.Tailscale.Hostname)
		if cfg.Status.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		fmt.Printf("Status:     http://%s\n", cfg.Status.Addr)
	}

	fmt.Println()

	logger.Info("starting familiar-agent",
		"config", configPath,
		"agent", cfg.Agent.Name,
		"queue", cfg.Queue.BaseURL,
	)

	// Remote queue client with file-backed credentials
	tokens := creds.NewFileSource(cfg.Queue.TokenPath)
	queueClient := queue.NewClient(cfg.Queue.BaseURL, tokens)

	// Local state store
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	// Device identity and registration
	keyPath := cfg.Device.KeyPath
	if keyPath == "" {
		keyPath = filepath.Join(getDataPath(), "device_key")
	}
	identity, err := device.LoadOrCreateIdentity(keyPath)
	if err != nil {
		return fmt.Errorf("loading device identity: %w", err)
	}

	registry := device.NewRegistry(queueClient, identity, device.Config{
		Name:                    cfg.Device.Name,
		MaxConcurrentWorkspaces: cfg.Device.MaxConcurrentWorkspaces,
		MaxDiskUsageBytes:       cfg.Device.MaxDiskUsageBytes,
		HeartbeatInterval:       cfg.Device.HeartbeatInterval,
	}, logger)

	dev, err := registry.EnsureRegistered(ctx)
	if err != nil {
		return fmt.Errorf("registering device: %w", err)
	}
	logger.Info("device ready", "device_id", dev.ID, "fingerprint", dev.Fingerprint)

	// Optional archive mirror
	var mirror *artifact.Mirror
	if cfg.Workspace.Mirror.Enabled {
		mirror, err = artifact.NewMirror(artifact.MirrorOptions{
			Endpoint:  cfg.Workspace.Mirror.Endpoint,
			AccessKey: cfg.Workspace.Mirror.AccessKey,
			SecretKey: cfg.Workspace.Mirror.SecretKey,
			Bucket:    cfg.Workspace.Mirror.Bucket,
			UseSSL:    cfg.Workspace.Mirror.UseSSL,
		}, logger)
		if err != nil {
			return fmt.Errorf("configuring archive mirror: %w", err)
		}
	}

	// Workspace lifecycle manager
	manager := workspace.NewManager(queueClient, registry, st, workspace.Config{
		RootPath:     cfg.Device.RootPath,
		ArchiveDir:   cfg.Workspace.ArchiveDir,
		CloneTimeout: cfg.Workspace.CloneTimeout,
		Mirror:       mirror,
	}, logger)

	if err := manager.Restore(ctx); err != nil {
		return fmt.Errorf("restoring workspaces: %w", err)
	}

	// Task execution engine
	prov := provider.NewClient(provider.Options{
		BaseURL:           cfg.Provider.BaseURL,
		APIKey:            cfg.Provider.APIKey,
		Model:             cfg.Provider.Model,
		Timeout:           cfg.Provider.RequestTimeout,
		InputCostPerMTok:  cfg.Provider.InputCostPerMTok,
		OutputCostPerMTok: cfg.Provider.OutputCostPerMTok,
	})

	eng := engine.NewEngine(queueClient, prov, manager, st, engine.Config{
		AgentName:          cfg.Agent.Name,
		PollInterval:       cfg.Agent.PollInterval,
		MaxConcurrentTasks: cfg.Agent.MaxConcurrentTasks,
		TaskTimeout:        cfg.Agent.TaskTimeout,
	}, logger)
	defer eng.Close()

	statusSrv := statusapi.New(statusapi.Config{
		Addr:      cfg.Status.Addr,
		AgentName: cfg.Agent.Name,
		Version:   version,
		Tailscale: cfg.Status.Tailscale,
	}, eng, manager, registry, st, logger)

	return runComponents(ctx, logger, cfg, eng, registry, statusSrv)
}

// runComponents starts the engine, heartbeat, and status server, then
// blocks until the context is cancelled or one of them fails.
func runComponents(ctx context.Context, logger *slog.Logger, cfg *config.Config, eng *engine.Engine, registry *device.Registry, statusSrv *statusapi.Server) error {
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	errCh := make(chan error, 3)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := eng.Run(runCtx); err != nil {
			errCh <- fmt.Errorf("engine: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := registry.RunHeartbeat(runCtx); err != nil {
			errCh <- fmt.Errorf("heartbeat: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := statusSrv.Run(runCtx); err != nil {
			errCh <- fmt.Errorf("status server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errCh:
		logger.Error("component failed, shutting down", "error", runErr)
	}

	cancelRun()
	wg.Wait()

	// Log any error from the components that stopped second and third.
	for drained := false; !drained; {
		select {
		case additionalErr := <-errCh:
			logger.Error("additional component error", "error", additionalErr)
		default:
			drained = true
		}
	}

	if errors.Is(runErr, engine.ErrSignedOut) {
		yellow := color.New(color.FgYellow)
		yellow.Fprintln(os.Stderr, "The queue rejected this agent's credential.")
		fmt.Fprintf(os.Stderr, "Refresh the token at %s and start the agent again.\n", cfg.Queue.TokenPath)
	}
	return runErr
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Status.Addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runStatus(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/api/status", cfg.Status.Addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("status check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status request failed: %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var status statusapi.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decoding status: %w", err)
	}

	printStatus(&status)
	return nil
}

func printStatus(status *statusapi.StatusResponse) {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	cyan.Printf("  %s", status.Agent)
	gray.Printf(" (version %s, up %s)\n", status.Version, (time.Duration(status.UptimeSeconds) * time.Second).String())
	fmt.Printf("  State: %s\n", status.Engine.State)

	if status.Device != nil {
		name := status.Device.Name
		if name == "" {
			name = status.Device.Hostname
		}
		fmt.Printf("  Device: %s (%s), %d/%d workspace slots free\n",
			name, status.Device.ID,
			status.Device.AvailableSlots, status.Device.MaxConcurrentWorkspaces)
	}

	fmt.Printf("  Active tasks: %d\n", len(status.Engine.ActiveTaskIDs))
	for _, task := range status.Engine.Tasks {
		fmt.Printf("    %s  %s", task.Task.ID, task.Status)
		if task.Error != "" {
			gray.Printf("  %s", task.Error)
		}
		fmt.Println()
	}

	fmt.Printf("  Workspaces: %d\n", len(status.Workspaces))
	for _, ws := range status.Workspaces {
		fmt.Printf("    %s  %s", ws.ID, ws.Status)
		gray.Printf("  %s", ws.Path)
		fmt.Println()
	}

	usage := status.Engine.Usage
	fmt.Printf("  Usage: %d completed, %d failed, %d in / %d out tokens",
		usage.TasksCompleted, usage.TasksFailed, usage.InputTokens, usage.OutputTokens)
	if usage.CostUSD > 0 {
		fmt.Printf(", $%.4f", usage.CostUSD)
	}
	fmt.Println()
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)
	fmt.Println("familiar-agent configuration setup")
	fmt.Println("==================================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "familiar.db")
	defaultRootPath := filepath.Join(defaultDataPath, "workspaces")
	defaultTokenPath := filepath.Join(defaultDataPath, "token")

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "familiar"
	}

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Agent
	fmt.Println("\n--- Agent Configuration ---")
	agentName := prompt(reader, "Agent name", hostname+"-agent")
	maxTasks := prompt(reader, "Max concurrent tasks", "2")
	pollInterval := prompt(reader, "Poll interval", "60s")

	// Queue
	fmt.Println("\n--- Queue Configuration ---")
	queueURL := prompt(reader, "Queue base URL", "http://127.0.0.1:8717")
	tokenPath := prompt(reader, "Token file path", defaultTokenPath)

	// Provider
	fmt.Println("\n--- Provider Configuration ---")
	providerURL := prompt(reader, "Provider base URL", "https://api.openai.com/v1")
	providerKey := prompt(reader, "Provider API key (supports ${VAR} expansion)", "${OPENAI_API_KEY}")
	model := prompt(reader, "Model", "gpt-4o-mini")

	// Device
	fmt.Println("\n--- Device Configuration ---")
	deviceName := prompt(reader, "Device name", hostname)
	rootPath := prompt(reader, "Workspace root path", defaultRootPath)
	maxWorkspaces := prompt(reader, "Max concurrent workspaces", "3")

	// Database
	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	// Status server
	fmt.Println("\n--- Status Server Configuration ---")
	statusAddr := prompt(reader, "Status server address", "127.0.0.1:7313")
	enableTailscale := prompt(reader, "Enable Tailscale?", "no")
	tailscaleEnabled := strings.ToLower(enableTailscale) == "yes" || strings.ToLower(enableTailscale) == "y"

	var tsHostname, tsAuthKey string
	var tsEphemeral bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", agentName)
		tsAuthKey = prompt(reader, "Tailscale auth key (leave empty for TS_AUTHKEY)", "")
		ephemeralStr := prompt(reader, "Ephemeral node?", "no")
		tsEphemeral = strings.ToLower(ephemeralStr) == "yes" || strings.ToLower(ephemeralStr) == "y"
	}

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# familiar-agent configuration\n")
	cfg.WriteString("# Generated by familiar-agent init\n\n")

	cfg.WriteString("agent:\n")
	cfg.WriteString(fmt.Sprintf("  name: \"%s\"\n", agentName))
	cfg.WriteString(fmt.Sprintf("  max_concurrent_tasks: %s\n", maxTasks))
	cfg.WriteString(fmt.Sprintf("  poll_interval: \"%s\"\n", pollInterval))
	cfg.WriteString("\n")

	cfg.WriteString("queue:\n")
	cfg.WriteString(fmt.Sprintf("  base_url: \"%s\"\n", queueURL))
	cfg.WriteString(fmt.Sprintf("  token_path: \"%s\"\n", tokenPath))
	cfg.WriteString("\n")

	cfg.WriteString("provider:\n")
	cfg.WriteString(fmt.Sprintf("  base_url: \"%s\"\n", providerURL))
	cfg.WriteString(fmt.Sprintf("  api_key: \"%s\"\n", providerKey))
	cfg.WriteString(fmt.Sprintf("  model: \"%s\"\n", model))
	cfg.WriteString("\n")

	cfg.WriteString("device:\n")
	cfg.WriteString(fmt.Sprintf("  name: \"%s\"\n", deviceName))
	cfg.WriteString(fmt.Sprintf("  root_path: \"%s\"\n", rootPath))
	cfg.WriteString(fmt.Sprintf("  max_concurrent_workspaces: %s\n", maxWorkspaces))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("status:\n")
	cfg.WriteString(fmt.Sprintf("  addr: \"%s\"\n", statusAddr))
	cfg.WriteString("  tailscale:\n")
	cfg.WriteString(fmt.Sprintf("    enabled: %t\n", tailscaleEnabled))
	if tailscaleEnabled {
		cfg.WriteString(fmt.Sprintf("    hostname: \"%s\"\n", tsHostname))
		if tsAuthKey != "" {
			cfg.WriteString(fmt.Sprintf("    auth_key: \"%s\"\n", tsAuthKey))
		}
		cfg.WriteString(fmt.Sprintf("    ephemeral: %t\n", tsEphemeral))
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// The API key may be stored inline, so keep the file private.
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data directories exist
	for _, dir := range []string{filepath.Dir(dbPath), rootPath, filepath.Dir(tokenPath)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Save your queue credential to %s\n", tokenPath)
	fmt.Printf("  2. familiar-agent run\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
