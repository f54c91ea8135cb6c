// ABOUTME: Device registration, capacity slot accounting, and heartbeat loop
// ABOUTME: Idempotent registration keyed by the identity fingerprint

package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/2389/familiar/internal/queue"
)

// ErrCapacityExceeded is returned when all workspace slots are in use.
var ErrCapacityExceeded = errors.New("workspace capacity exceeded")

// ErrNotRegistered is returned when an operation needs a device record
// before EnsureRegistered has succeeded.
var ErrNotRegistered = errors.New("device not registered")

// API is the slice of the queue client the registry needs.
type API interface {
	FindDeviceByFingerprint(ctx context.Context, fingerprint string) (*queue.Device, error)
	RegisterDevice(ctx context.Context, device queue.Device) (*queue.Device, error)
	UpdateDevice(ctx context.Context, deviceID string, fields map[string]any) error
	Heartbeat(ctx context.Context, deviceID string) error
}

// Config holds the registry's identity and capacity settings.
type Config struct {
	Name                    string
	MaxConcurrentWorkspaces int
	MaxDiskUsageBytes       int64
	HeartbeatInterval       time.Duration
}

// Registry owns this machine's device record: one registration per
// fingerprint, slot accounting for workspace capacity, and the
// heartbeat loop.
type Registry struct {
	api      API
	identity *Identity
	cfg      Config
	logger   *slog.Logger

	sf singleflight.Group

	mu            sync.RWMutex
	device        *queue.Device
	usedSlots     int
	diskUsage     int64
	lastHeartbeat time.Time
}

// NewRegistry creates a device registry.
func NewRegistry(api API, identity *Identity, cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		api:      api,
		identity: identity,
		cfg:      cfg,
		logger:   logger.With("component", "device"),
	}
}

// EnsureRegistered looks up this machine's device record by fingerprint
// and adopts it, registering a new one only when none exists. Safe to
// call repeatedly and from concurrent goroutines; exactly one
// registration happens per process.
func (r *Registry) EnsureRegistered(ctx context.Context) (*queue.Device, error) {
	r.mu.RLock()
	if r.device != nil {
		device := *r.device
		r.mu.RUnlock()
		return &device, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do("register", func() (any, error) {
		return r.register(ctx)
	})
	if err != nil {
		return nil, err
	}
	device := *(result.(*queue.Device))
	return &device, nil
}

func (r *Registry) register(ctx context.Context) (*queue.Device, error) {
	// Another caller may have finished while we waited on the flight.
	r.mu.RLock()
	if r.device != nil {
		device := r.device
		r.mu.RUnlock()
		return device, nil
	}
	r.mu.RUnlock()

	fingerprint := r.identity.Fingerprint()

	device, err := r.api.FindDeviceByFingerprint(ctx, fingerprint)
	switch {
	case err == nil:
		r.logger.Info("adopted existing device record",
			"device_id", device.ID,
			"fingerprint", fingerprint,
		)
		r.pushCapacityIfChanged(ctx, device)
	case errors.Is(err, queue.ErrNotFound):
		device, err = r.api.RegisterDevice(ctx, queue.Device{
			Fingerprint:             fingerprint,
			Name:                    r.deviceName(),
			Hostname:                hostname(),
			OS:                      runtime.GOOS,
			Arch:                    runtime.GOARCH,
			Status:                  queue.DeviceActive,
			MaxConcurrentWorkspaces: r.cfg.MaxConcurrentWorkspaces,
			MaxDiskUsageBytes:       r.cfg.MaxDiskUsageBytes,
		})
		if err != nil {
			return nil, fmt.Errorf("registering device: %w", err)
		}
		r.logger.Info("registered new device",
			"device_id", device.ID,
			"fingerprint", fingerprint,
		)
	default:
		return nil, fmt.Errorf("looking up device: %w", err)
	}

	r.mu.Lock()
	r.device = device
	r.mu.Unlock()
	return device, nil
}

// pushCapacityIfChanged syncs locally configured capacity limits onto an
// adopted record. Best-effort: the adopted record stays usable either way.
func (r *Registry) pushCapacityIfChanged(ctx context.Context, device *queue.Device) {
	fields := map[string]any{}
	if device.MaxConcurrentWorkspaces != r.cfg.MaxConcurrentWorkspaces {
		fields["max_concurrent_workspaces"] = r.cfg.MaxConcurrentWorkspaces
		device.MaxConcurrentWorkspaces = r.cfg.MaxConcurrentWorkspaces
	}
	if device.MaxDiskUsageBytes != r.cfg.MaxDiskUsageBytes {
		fields["max_disk_usage_bytes"] = r.cfg.MaxDiskUsageBytes
		device.MaxDiskUsageBytes = r.cfg.MaxDiskUsageBytes
	}
	if len(fields) == 0 {
		return
	}
	if err := r.api.UpdateDevice(ctx, device.ID, fields); err != nil {
		r.logger.Warn("syncing device capacity failed", "error", err)
	}
}

// Device returns a snapshot of the registered device, or nil before
// EnsureRegistered succeeds.
func (r *Registry) Device() *queue.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.device == nil {
		return nil
	}
	device := *r.device
	device.CurrentWorkspacesCount = r.usedSlots
	device.CurrentDiskUsageBytes = r.diskUsage
	return &device
}

// AvailableSlots reports how many workspace slots remain.
func (r *Registry) AvailableSlots() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.MaxConcurrentWorkspaces - r.usedSlots
}

// AcquireSlot takes one workspace capacity slot. A slot is held from
// workspace creation until the workspace is archived.
func (r *Registry) AcquireSlot(ctx context.Context) error {
	r.mu.Lock()
	if r.usedSlots >= r.cfg.MaxConcurrentWorkspaces {
		used, max := r.usedSlots, r.cfg.MaxConcurrentWorkspaces
		r.mu.Unlock()
		return fmt.Errorf("%w: %d of %d slots in use", ErrCapacityExceeded, used, max)
	}
	r.usedSlots++
	used := r.usedSlots
	device := r.device
	r.mu.Unlock()

	r.reportWorkspaceCount(ctx, device, used)
	return nil
}

// ReleaseSlot returns a workspace capacity slot.
func (r *Registry) ReleaseSlot(ctx context.Context) {
	r.mu.Lock()
	if r.usedSlots > 0 {
		r.usedSlots--
	}
	used := r.usedSlots
	device := r.device
	r.mu.Unlock()

	r.reportWorkspaceCount(ctx, device, used)
}

// SetUsedSlots seeds the slot counter from restored state at startup.
func (r *Registry) SetUsedSlots(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usedSlots = n
}

// SetDiskUsage records the advisory disk usage counter and pushes it to
// the backend best-effort.
func (r *Registry) SetDiskUsage(ctx context.Context, bytes int64) {
	r.mu.Lock()
	r.diskUsage = bytes
	device := r.device
	r.mu.Unlock()

	if device == nil {
		return
	}
	if err := r.api.UpdateDevice(ctx, device.ID, map[string]any{"current_disk_usage_bytes": bytes}); err != nil {
		r.logger.Warn("reporting disk usage failed", "error", err)
	}
}

// reportWorkspaceCount pushes the slot counter to the backend. Counter
// updates are advisory; failure never blocks the slot change.
func (r *Registry) reportWorkspaceCount(ctx context.Context, device *queue.Device, used int) {
	if device == nil {
		return
	}
	if err := r.api.UpdateDevice(ctx, device.ID, map[string]any{"current_workspaces_count": used}); err != nil {
		r.logger.Warn("reporting workspace count failed", "error", err)
	}
}

// LastHeartbeat returns when the last successful heartbeat was sent.
func (r *Registry) LastHeartbeat() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastHeartbeat
}

// RunHeartbeat sends periodic liveness signals until ctx is cancelled.
// Heartbeat failures are logged and retried on the next tick; they are
// never fatal to task execution.
func (r *Registry) RunHeartbeat(ctx context.Context) error {
	device, err := r.EnsureRegistered(ctx)
	if err != nil {
		return fmt.Errorf("heartbeat needs a registered device: %w", err)
	}

	interval := r.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	r.logger.Info("heartbeat started", "device_id", device.ID, "interval", interval)

	r.beat(ctx, device.ID)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("heartbeat stopped")
			return nil
		case <-ticker.C:
			r.beat(ctx, device.ID)
		}
	}
}

func (r *Registry) beat(ctx context.Context, deviceID string) {
	if err := r.api.Heartbeat(ctx, deviceID); err != nil {
		r.logger.Warn("heartbeat failed", "error", err)
		return
	}
	r.mu.Lock()
	r.lastHeartbeat = time.Now()
	r.mu.Unlock()
	r.logger.Debug("heartbeat sent", "device_id", deviceID)
}

func (r *Registry) deviceName() string {
	if r.cfg.Name != "" {
		return r.cfg.Name
	}
	return hostname()
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}
