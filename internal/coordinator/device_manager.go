package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"zigbee-descriptors/internal/descriptor"
	"zigbee-descriptors/internal/ncp"
	"zigbee-descriptors/internal/store"
	"zigbee-descriptors/internal/zcl/clusters"
)

var (
	// ErrNotInterviewed is returned when an operation needs the device's
	// endpoints and identity but the interview has not completed.
	ErrNotInterviewed = errors.New("device not interviewed")
	// ErrNoDescriptor is returned when no registered descriptor matches the
	// device identity.
	ErrNoDescriptor = errors.New("no matching descriptor")
	// ErrPairingInProgress is returned by Reconfigure while the device is
	// being interviewed or configured.
	ErrPairingInProgress = errors.New("pairing in progress")
)

type interviewEntry struct {
	cancel context.CancelFunc
	gen    uint64
}

// DeviceManager handles the device lifecycle: announce, interview, configure, leave.
type DeviceManager struct {
	coord  *Coordinator
	logger *slog.Logger

	// Interview cancellation: tracks active pairing cancel funcs by IEEE.
	interviewMu      sync.Mutex
	interviewCancels map[string]interviewEntry
	interviewGen     atomic.Uint64
	interviewWg      sync.WaitGroup

	// Debounce duplicate announce events.
	lastJoinMu       sync.Mutex
	lastJoin         map[string]time.Time
	announceDebounce time.Duration

	// In-memory short address -> IEEE index for fast lookup.
	addrMu    sync.RWMutex
	addrIndex map[uint16]string
}

// NewDeviceManager creates a new device manager.
func NewDeviceManager(coord *Coordinator) *DeviceManager {
	return &DeviceManager{
		coord:            coord,
		logger:           coord.logger.With("component", "device_manager"),
		interviewCancels: make(map[string]interviewEntry),
		lastJoin:         make(map[string]time.Time),
		announceDebounce: 3 * time.Second,
		addrIndex:        make(map[uint16]string),
	}
}

// CancelAllInterviews cancels all running pairing goroutines and waits for them.
func (dm *DeviceManager) CancelAllInterviews() {
	dm.interviewMu.Lock()
	for ieee, entry := range dm.interviewCancels {
		entry.cancel()
		delete(dm.interviewCancels, ieee)
	}
	dm.interviewMu.Unlock()
	dm.interviewWg.Wait()
}

// Wait blocks until every pairing started by HandleAnnounce has finished.
func (dm *DeviceManager) Wait() {
	dm.interviewWg.Wait()
}

func (dm *DeviceManager) cancelInterview(ieee string) {
	dm.interviewMu.Lock()
	if entry, ok := dm.interviewCancels[ieee]; ok {
		entry.cancel()
		delete(dm.interviewCancels, ieee)
	}
	dm.interviewMu.Unlock()
}

// updateAddrIndex updates the short address -> IEEE mapping.
func (dm *DeviceManager) updateAddrIndex(ieee string, shortAddr uint16) {
	dm.addrMu.Lock()
	dm.addrIndex[shortAddr] = ieee
	dm.addrMu.Unlock()
}

func (dm *DeviceManager) removeFromAddrIndex(ieee string) {
	dm.addrMu.Lock()
	for addr, storedIEEE := range dm.addrIndex {
		if storedIEEE == ieee {
			delete(dm.addrIndex, addr)
			break
		}
	}
	dm.addrMu.Unlock()
}

// lookupIEEE finds IEEE address by short address from in-memory index.
func (dm *DeviceManager) lookupIEEE(shortAddr uint16) string {
	dm.addrMu.RLock()
	defer dm.addrMu.RUnlock()
	return dm.addrIndex[shortAddr]
}

// deviceName returns "Manufacturer Model" if known, or an empty string.
func deviceName(dev *store.Device) string {
	if dev == nil {
		return ""
	}
	if dev.Manufacturer != "" || dev.Model != "" {
		name := dev.Manufacturer
		if dev.Model != "" {
			if name != "" {
				name += " "
			}
			name += dev.Model
		}
		return name
	}
	return ""
}

// RebuildAddrIndex loads all devices from store and populates the index.
func (dm *DeviceManager) RebuildAddrIndex() {
	devices, err := dm.coord.Store().ListDevices()
	if err != nil {
		dm.logger.Error("rebuild addr index", "err", err)
		return
	}
	dm.addrMu.Lock()
	clear(dm.addrIndex)
	for _, d := range devices {
		dm.addrIndex[d.ShortAddress] = d.IEEEAddress
	}
	dm.addrMu.Unlock()
}

// lookupOrRebuild looks up an IEEE address by short address from the in-memory
// index. If not found, rebuilds the index from the store under a write lock
// with a double-check to avoid redundant rebuilds.
func (dm *DeviceManager) lookupOrRebuild(shortAddr uint16) string {
	ieee := dm.lookupIEEE(shortAddr)
	if ieee != "" {
		return ieee
	}

	dm.addrMu.Lock()
	defer dm.addrMu.Unlock()

	if ieee = dm.addrIndex[shortAddr]; ieee != "" {
		return ieee
	}

	devices, err := dm.coord.Store().ListDevices()
	if err != nil {
		dm.logger.Error("rebuild addr index for lookup", "err", err)
		return ""
	}
	clear(dm.addrIndex)
	for _, d := range devices {
		dm.addrIndex[d.ShortAddress] = d.IEEEAddress
		if d.ShortAddress == shortAddr {
			ieee = d.IEEEAddress
		}
	}
	return ieee
}

// HandleLeave processes a device leave event: cancels pairing, removes from
// address index, deletes from store, and emits EventDeviceLeft.
func (dm *DeviceManager) HandleLeave(evt ncp.DeviceLeftEvent) {
	ieee := FormatIEEE(evt.IEEEAddr)
	if evt.IEEEAddr == ([8]byte{}) {
		// Some leave indications only carry the short address.
		ieee = dm.lookupOrRebuild(evt.ShortAddr)
		if ieee == "" {
			dm.logger.Warn("leave from unknown device", "short", fmt.Sprintf("0x%04X", evt.ShortAddr))
			return
		}
	}
	dev, _ := dm.coord.Store().GetDevice(ieee)
	name := deviceName(dev)
	dm.logger.Info("device left", "ieee", ieee, "name", name)

	dm.cancelInterview(ieee)

	dm.lastJoinMu.Lock()
	delete(dm.lastJoin, ieee)
	dm.lastJoinMu.Unlock()

	dm.removeFromAddrIndex(ieee)

	if err := dm.coord.Store().DeleteDevice(ieee); err != nil {
		dm.logger.Error("delete device on leave", "err", err, "ieee", ieee)
	} else {
		dm.logger.Info("device removed from store", "ieee", ieee, "name", name)
	}

	dm.coord.Events().Emit(Event{
		Type: EventDeviceLeft,
		Data: map[string]interface{}{"ieee": ieee},
	})
}

// HandleAnnounce records the device and starts pairing it in the background.
func (dm *DeviceManager) HandleAnnounce(evt ncp.DeviceAnnounceEvent) {
	ieee := FormatIEEE(evt.IEEEAddr)
	dm.updateAddrIndex(ieee, evt.ShortAddr)

	dev, err := dm.coord.Store().GetDevice(ieee)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			dm.logger.Error("get device on announce", "err", err, "ieee", ieee)
			return
		}
		dev = &store.Device{
			IEEEAddress: ieee,
			JoinedAt:    time.Now(),
		}
	}
	dm.logger.Info("device announce", "ieee", ieee, "short", fmt.Sprintf("0x%04X", evt.ShortAddr), "name", deviceName(dev))
	dev.ShortAddress = evt.ShortAddr
	dev.LastSeen = time.Now()

	if err := dm.coord.Store().SaveDevice(dev); err != nil {
		dm.logger.Error("save device on announce", "err", err)
		return
	}

	dm.coord.Events().Emit(Event{
		Type: EventDeviceAnnounce,
		Data: map[string]interface{}{
			"ieee":       ieee,
			"short_addr": evt.ShortAddr,
		},
	})

	dm.interviewMu.Lock()
	_, interviewing := dm.interviewCancels[ieee]
	dm.interviewMu.Unlock()

	if interviewing {
		dm.logger.Info("announce during pairing, address updated", "ieee", ieee,
			"short", fmt.Sprintf("0x%04X", evt.ShortAddr))
		return
	}

	dm.lastJoinMu.Lock()
	if last, ok := dm.lastJoin[ieee]; ok && time.Since(last) < dm.announceDebounce {
		dm.lastJoinMu.Unlock()
		dm.logger.Debug("duplicate announce, pairing already started", "ieee", ieee)
		return
	}
	dm.lastJoin[ieee] = time.Now()
	if len(dm.lastJoin) > 50 {
		for k, t := range dm.lastJoin {
			if time.Since(t) > time.Minute {
				delete(dm.lastJoin, k)
			}
		}
	}
	dm.lastJoinMu.Unlock()

	dm.interviewWg.Add(1)
	go dm.Interview(ieee)
}

// Interview pairs one device: it queries endpoints and identity, then runs the
// matching descriptor's configure hook. Runs until done or cancelled by a
// newer interview, a leave, or Stop.
func (dm *DeviceManager) Interview(ieee string) {
	gen := dm.interviewGen.Add(1)

	defer func() {
		dm.release(ieee, gen)
		dm.interviewWg.Done()
	}()

	ctx, cancel := context.WithTimeout(dm.coord.Context(), dm.coord.config.PairTimeout)
	defer cancel()

	dm.interviewMu.Lock()
	if prev, ok := dm.interviewCancels[ieee]; ok {
		prev.cancel()
	}
	dm.interviewCancels[ieee] = interviewEntry{cancel: cancel, gen: gen}
	dm.interviewMu.Unlock()

	if err := dm.Pair(ctx, ieee, false); err != nil {
		dm.logger.Warn("pairing failed", "ieee", ieee, "err", err)
	}
}

// Pair interviews a device and configures it with its descriptor. A device
// already configured by the same descriptor is not configured again unless
// force is set.
func (dm *DeviceManager) Pair(ctx context.Context, ieee string, force bool) error {
	dev, err := dm.interview(ctx, ieee)
	if err != nil {
		return err
	}
	name := deviceName(dev)

	d, ok := dm.coord.Descriptors().Match(dev.Manufacturer, dev.Model)

	descModel := ""
	if ok {
		descModel = d.Model
	}
	dm.coord.Events().Emit(Event{
		Type: EventDeviceInterviewed,
		Data: map[string]interface{}{
			"ieee":         ieee,
			"manufacturer": dev.Manufacturer,
			"model":        dev.Model,
			"descriptor":   descModel,
			"endpoints":    len(dev.Endpoints),
		},
	})

	if !ok {
		dm.logger.Info("no descriptor found, skipping configure",
			"ieee", ieee, "manufacturer", dev.Manufacturer, "model", dev.Model)
		return nil
	}

	if !force && dev.Configured && dev.Descriptor == d.Model {
		dm.logger.Info("already configured", "ieee", ieee, "name", name, "descriptor", d.Model)
		return nil
	}

	return dm.configure(ctx, dev, d)
}

// interview reads endpoints and Basic identity and persists them. Retries with
// jitter, re-reading the device from store each time to pick up any short
// address change from a re-announce.
func (dm *DeviceManager) interview(ctx context.Context, ieee string) (*store.Device, error) {
	const maxRetries = 3
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		dev, err := dm.coord.Store().GetDevice(ieee)
		if err != nil {
			return nil, fmt.Errorf("interview: %w", err)
		}

		dm.logger.Info("starting interview", "ieee", ieee,
			"short", fmt.Sprintf("0x%04X", dev.ShortAddress), "attempt", attempt)

		endpoints, err := dm.coord.NCP().ActiveEndpoints(ctx, dev.ShortAddress)
		if err != nil {
			lastErr = err
			dm.logger.Warn("interview: active EP failed", "err", err, "ieee", ieee, "attempt", attempt)
			if ctx.Err() != nil {
				return nil, fmt.Errorf("interview %s: %w", ieee, ctx.Err())
			}
			if attempt < maxRetries {
				base := dm.coord.config.InterviewRetryDelay
				delay := base + time.Duration(rand.Int64N(int64(base)/2+1))
				dm.logger.Info("interview: will retry", "ieee", ieee, "delay", delay)
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil, fmt.Errorf("interview %s: %w", ieee, ctx.Err())
				}
			}
			continue
		}

		if len(endpoints) > 0 {
			dm.readBasicAttributes(ctx, dev, endpoints[0])
		}
		name := deviceName(dev)

		dev.Endpoints = make([]store.Endpoint, 0, len(endpoints))
		for _, ep := range endpoints {
			sd, err := dm.coord.NCP().SimpleDescriptor(ctx, dev.ShortAddress, ep)
			if err != nil {
				dm.logger.Warn("interview: simple desc", "err", err, "ieee", ieee, "name", name, "ep", ep)
				continue
			}
			dev.Endpoints = append(dev.Endpoints, store.Endpoint{
				ID:          ep,
				ProfileID:   sd.ProfileID,
				DeviceID:    sd.DeviceID,
				InClusters:  sd.InClusters,
				OutClusters: sd.OutClusters,
			})
			dm.logger.Info("endpoint discovered",
				"ieee", ieee, "name", name, "ep", ep,
				"profile", fmt.Sprintf("0x%04X", sd.ProfileID),
				"device", fmt.Sprintf("0x%04X", sd.DeviceID),
				"in_clusters", len(sd.InClusters),
				"out_clusters", len(sd.OutClusters),
			)
		}

		dev.Interviewed = true
		dev.LastSeen = time.Now()
		if err := dm.coord.Store().SaveDevice(dev); err != nil {
			return nil, fmt.Errorf("interview: save %s: %w", ieee, err)
		}
		dm.logger.Info("interview complete", "ieee", ieee, "name", name, "endpoints", len(dev.Endpoints))
		return dev, nil
	}

	dm.logger.Error("interview failed after retries", "ieee", ieee, "attempts", maxRetries)
	return nil, fmt.Errorf("interview %s failed after %d attempts: %w", ieee, maxRetries, lastErr)
}

func (dm *DeviceManager) readBasicAttributes(ctx context.Context, dev *store.Device, ep uint8) {
	results, err := dm.coord.ReadAttributes(ctx, dev.ShortAddress, ep, clusters.Basic.ID,
		[]uint16{clusters.BasicManufacturerName, clusters.BasicModelIdentifier})
	if err != nil {
		dm.logger.Warn("read basic attributes", "err", err, "ieee", dev.IEEEAddress)
		return
	}

	for _, r := range results {
		if !r.OK() {
			dm.logger.Debug("basic attribute unavailable", "ieee", dev.IEEEAddress, "attr", r.AttrName, "err", r.Error)
			continue
		}
		s, ok := r.Value.(string)
		if !ok {
			continue
		}
		switch r.AttrID {
		case clusters.BasicManufacturerName:
			dev.Manufacturer = s
		case clusters.BasicModelIdentifier:
			dev.Model = s
		}
	}
}

// configure runs d's hook, retrying per the coordinator config. Every attempt
// is recorded in the store; the outcome is saved on the device and emitted.
func (dm *DeviceManager) configure(ctx context.Context, dev *store.Device, d *descriptor.Descriptor) error {
	ieee := dev.IEEEAddress
	attempts := dm.coord.config.ConfigureAttempts
	logger := dm.logger.With("ieee", ieee, "descriptor", d.Model)

	var err error
	attempt := 1
retry:
	for ; attempt <= attempts; attempt++ {
		logger.Info("configuring", "attempt", attempt, "endpoint", d.Endpoint)
		err = d.Configure(ctx, newSession(dm.coord, dev, logger), dm.coord, dm.coord.Topology())

		rec := store.Attempt{Descriptor: d.Model, Attempt: attempt, At: time.Now()}
		if err != nil {
			rec.Error = err.Error()
		}
		if aerr := dm.coord.Store().AppendAttempt(ieee, rec); aerr != nil {
			logger.Error("record configure attempt", "err", aerr)
		}

		if err == nil {
			break
		}
		logger.Warn("configure failed", "attempt", attempt, "err", err)
		if ctx.Err() != nil || attempt == attempts {
			break
		}
		delay := time.Duration(attempt) * dm.coord.config.ConfigureBackoff
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			break retry
		}
	}
	if attempt > attempts {
		attempt = attempts
	}

	bindings := dev.Bindings
	uerr := dm.coord.Store().UpdateDevice(ieee, func(stored *store.Device) error {
		stored.Descriptor = d.Model
		stored.Bindings = bindings
		if err != nil {
			stored.Configured = false
			stored.ConfigureError = err.Error()
			return nil
		}
		stored.Configured = true
		stored.ConfiguredAt = time.Now()
		stored.ConfigureError = ""
		return nil
	})
	if uerr != nil {
		logger.Error("save configure result", "err", uerr)
	}

	if err != nil {
		dm.coord.Events().Emit(Event{
			Type: EventDeviceConfigureFailed,
			Data: map[string]interface{}{
				"ieee":       ieee,
				"descriptor": d.Model,
				"attempts":   attempt,
				"error":      err.Error(),
			},
		})
		return fmt.Errorf("configure %s with %s: %w", ieee, d.Model, err)
	}

	logger.Info("device configured", "attempt", attempt)
	dm.coord.Events().Emit(Event{
		Type: EventDeviceConfigured,
		Data: map[string]interface{}{
			"ieee":       ieee,
			"descriptor": d.Model,
			"attempts":   attempt,
		},
	})
	return nil
}

// release drops the pairing entry for ieee if it still belongs to gen.
func (dm *DeviceManager) release(ieee string, gen uint64) {
	dm.interviewMu.Lock()
	if entry, ok := dm.interviewCancels[ieee]; ok && entry.gen == gen {
		delete(dm.interviewCancels, ieee)
	}
	dm.interviewMu.Unlock()
}

// Reconfigure runs the matching descriptor's configure hook again for an
// interviewed device, without a new interview. It fails with
// ErrPairingInProgress while an interview or another reconfigure of the
// device is running; a new announce cancels it like any pairing.
func (dm *DeviceManager) Reconfigure(ctx context.Context, ieee string) error {
	dev, err := dm.coord.Store().GetDevice(ieee)
	if err != nil {
		return fmt.Errorf("reconfigure: %w", err)
	}
	if !dev.Interviewed {
		return fmt.Errorf("reconfigure %s: %w", ieee, ErrNotInterviewed)
	}
	d, ok := dm.coord.Descriptors().Match(dev.Manufacturer, dev.Model)
	if !ok {
		return fmt.Errorf("reconfigure %s: %w for %s/%s", ieee, ErrNoDescriptor, dev.Manufacturer, dev.Model)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	gen := dm.interviewGen.Add(1)
	dm.interviewMu.Lock()
	if _, busy := dm.interviewCancels[ieee]; busy {
		dm.interviewMu.Unlock()
		return fmt.Errorf("reconfigure %s: %w", ieee, ErrPairingInProgress)
	}
	dm.interviewCancels[ieee] = interviewEntry{cancel: cancel, gen: gen}
	dm.interviewMu.Unlock()
	defer dm.release(ieee, gen)

	return dm.configure(ctx, dev, d)
}

// RemoveDevice cancels any in-progress pairing, removes the bindings the
// device accepted during configure, and deletes it from the store. Unbind
// failures are logged; the device is removed regardless.
func (dm *DeviceManager) RemoveDevice(ctx context.Context, ieee string) error {
	dm.cancelInterview(ieee)

	dev, err := dm.coord.Store().GetDevice(ieee)
	if err != nil {
		return err
	}
	for _, b := range dev.Bindings {
		if uerr := dm.coord.Unbind(ctx, dev, b); uerr != nil {
			dm.logger.Warn("unbind on remove", "ieee", ieee, "ep", b.Endpoint,
				"cluster", fmt.Sprintf("0x%04X", b.ClusterID), "err", uerr)
		}
	}

	dm.removeFromAddrIndex(ieee)
	return dm.coord.Store().DeleteDevice(ieee)
}

// ListDevices returns all known devices.
func (dm *DeviceManager) ListDevices() ([]*store.Device, error) {
	return dm.coord.Store().ListDevices()
}

// GetDevice returns a device by IEEE address.
func (dm *DeviceManager) GetDevice(ieee string) (*store.Device, error) {
	return dm.coord.Store().GetDevice(ieee)
}
