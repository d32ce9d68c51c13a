package coordinator

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"zigbee-descriptors/internal/descriptor"
	"zigbee-descriptors/internal/ncp"
	"zigbee-descriptors/internal/store"
	"zigbee-descriptors/internal/zcl"
)

// CoordinatorEndpoint is the coordinator endpoint devices bind to.
const CoordinatorEndpoint uint8 = 1

// Config holds the pairing policy of the runtime.
type Config struct {
	// ConfigureAttempts is how many times a failing configure hook is run.
	ConfigureAttempts int
	// ConfigureBackoff is the delay before the second attempt; it grows linearly.
	ConfigureBackoff time.Duration
	// InterviewRetryDelay is the base delay between interview attempts.
	InterviewRetryDelay time.Duration
	// PairTimeout bounds one interview plus configure.
	PairTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConfigureAttempts <= 0 {
		c.ConfigureAttempts = 3
	}
	if c.ConfigureBackoff <= 0 {
		c.ConfigureBackoff = 2 * time.Second
	}
	if c.InterviewRetryDelay <= 0 {
		c.InterviewRetryDelay = 5 * time.Second
	}
	if c.PairTimeout <= 0 {
		c.PairTimeout = 3 * time.Minute
	}
	return c
}

// ParseIEEE parses "DD:DD:DD:DD:DD:DD:DD:DD" or "DDDDDDDDDDDDDDDD" into [8]byte.
func ParseIEEE(s string) ([8]byte, error) {
	var result [8]byte
	s = strings.ReplaceAll(s, ":", "")
	b, err := hex.DecodeString(s)
	if err != nil {
		return result, fmt.Errorf("parse ieee address: %w", err)
	}
	if len(b) != 8 {
		return result, fmt.Errorf("ieee address must be 8 bytes, got %d", len(b))
	}
	copy(result[:], b)
	return result, nil
}

// FormatIEEE renders an IEEE address the way the store keys devices.
func FormatIEEE(ieee [8]byte) string {
	return fmt.Sprintf("%016X", ieee)
}

// Coordinator pairs devices through an NCP backend and configures them with
// the matching descriptor. It is also the bind target handed to configure hooks.
type Coordinator struct {
	ncp         ncp.NCP
	store       store.Store
	registry    *zcl.Registry
	descriptors *descriptor.Registry
	events      *EventBus
	devices     *DeviceManager
	logger      *slog.Logger
	config      Config
	localIEEE   [8]byte // coordinator's own IEEE address, cached at Start
	ctx         context.Context
	cancel      context.CancelFunc
}

// New creates a new Coordinator.
func New(backend ncp.NCP, st store.Store, registry *zcl.Registry, descriptors *descriptor.Registry, events *EventBus, cfg Config, logger *slog.Logger) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		ncp:         backend,
		store:       st,
		registry:    registry,
		descriptors: descriptors,
		events:      events,
		logger:      logger,
		config:      cfg.withDefaults(),
		ctx:         ctx,
		cancel:      cancel,
	}
	c.devices = NewDeviceManager(c)
	c.devices.RebuildAddrIndex()
	c.registerIndicationHandlers()
	return c
}

// Context returns the coordinator's context, which is cancelled on Stop().
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// Start reads the coordinator's IEEE address from the NCP. Bindings cannot be
// created without it, so failure is fatal.
func (c *Coordinator) Start(ctx context.Context) error {
	ieee, err := c.ncp.GetLocalIEEE(ctx)
	if err != nil {
		return fmt.Errorf("get coordinator ieee: %w", err)
	}
	c.localIEEE = ieee
	c.logger.Info("coordinator started", "ieee", FormatIEEE(ieee), "descriptors", c.descriptors.Len())
	return nil
}

// Stop cancels the coordinator context and waits for in-progress pairings.
func (c *Coordinator) Stop() {
	c.cancel()
	c.devices.CancelAllInterviews()
}

// LocalIEEE returns the coordinator's own IEEE address.
func (c *Coordinator) LocalIEEE() [8]byte {
	return c.localIEEE
}

// IEEEAddress implements descriptor.BindTarget.
func (c *Coordinator) IEEEAddress() string {
	return FormatIEEE(c.localIEEE)
}

// EndpointID implements descriptor.BindTarget.
func (c *Coordinator) EndpointID() uint8 {
	return CoordinatorEndpoint
}

// Topology snapshots the paired devices for configure hooks.
func (c *Coordinator) Topology() descriptor.Topology {
	devs, err := c.store.ListDevices()
	if err != nil {
		c.logger.Warn("topology: list devices", "err", err)
		return descriptor.Topology{}
	}
	t := descriptor.Topology{Devices: make([]string, 0, len(devs))}
	for _, d := range devs {
		t.Devices = append(t.Devices, d.IEEEAddress)
	}
	return t
}

// NCP returns the underlying NCP backend.
func (c *Coordinator) NCP() ncp.NCP {
	return c.ncp
}

// Store returns the store.
func (c *Coordinator) Store() store.Store {
	return c.store
}

// Registry returns the ZCL registry.
func (c *Coordinator) Registry() *zcl.Registry {
	return c.registry
}

// Descriptors returns the descriptor registry.
func (c *Coordinator) Descriptors() *descriptor.Registry {
	return c.descriptors
}

// Events returns the event bus.
func (c *Coordinator) Events() *EventBus {
	return c.events
}

// Devices returns the device manager.
func (c *Coordinator) Devices() *DeviceManager {
	return c.devices
}

func (c *Coordinator) registerIndicationHandlers() {
	c.ncp.OnDeviceLeft(func(evt ncp.DeviceLeftEvent) {
		c.devices.HandleLeave(evt)
	})
	c.ncp.OnDeviceAnnounce(func(evt ncp.DeviceAnnounceEvent) {
		c.devices.HandleAnnounce(evt)
	})
}
