package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"

	"zigbee-descriptors/internal/converters"
	"zigbee-descriptors/internal/coordinator"
	"zigbee-descriptors/internal/descriptor"
	"zigbee-descriptors/internal/devices"
	"zigbee-descriptors/internal/ncp"
	"zigbee-descriptors/internal/store"
	"zigbee-descriptors/internal/zcl"
	"zigbee-descriptors/internal/zcl/clusters"
)

var errPairingFailed = errors.New("pairing failed")

// loadRegistries builds the ZCL registry and the descriptor registry from the
// built-in descriptors plus the descriptors directory.
func loadRegistries(cfg *Config, logger *slog.Logger) (*zcl.Registry, *descriptor.Registry, error) {
	zreg := zcl.NewRegistry(logger)
	clusters.RegisterStandard(zreg)

	reg := descriptor.NewRegistry()
	if err := devices.RegisterBuiltin(reg); err != nil {
		return nil, nil, fmt.Errorf("register built-in descriptors: %w", err)
	}
	if _, err := converters.LoadDir(cfg.DescriptorsDir, reg, zreg, logger); err != nil {
		return nil, nil, fmt.Errorf("load descriptors: %w", err)
	}
	return zreg, reg, nil
}

func runList(w io.Writer, reg *descriptor.Registry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MANUFACTURER\tZIGBEE MODEL\tMODEL\tVENDOR\tPROFILE\tENDPOINT\tSOURCE")
	for _, d := range reg.All() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			d.Identity.Manufacturer, d.Identity.Model, d.Model, d.Vendor, d.Profile, d.Endpoint, d.Source)
	}
	return tw.Flush()
}

// runCheck loads each file into a scratch registry seeded with the built-in
// descriptors, so identity clashes with them are reported too.
func runCheck(w io.Writer, files []string, logger *slog.Logger) error {
	if len(files) == 0 {
		return fmt.Errorf("check: no files given")
	}
	zreg := zcl.NewRegistry(logger)
	clusters.RegisterStandard(zreg)
	reg := descriptor.NewRegistry()
	if err := devices.RegisterBuiltin(reg); err != nil {
		return fmt.Errorf("register built-in descriptors: %w", err)
	}

	failed := 0
	for _, path := range files {
		descs, err := converters.LoadFile(path, zreg)
		if err == nil {
			for _, d := range descs {
				if err = reg.Register(d); err != nil {
					err = fmt.Errorf("%s: %w", path, err)
					break
				}
			}
		}
		if err != nil {
			failed++
			fmt.Fprintf(w, "FAIL %s: %v\n", path, err)
			continue
		}
		names := make([]string, 0, len(descs))
		for _, d := range descs {
			names = append(names, d.Identity.String())
		}
		fmt.Fprintf(w, "ok   %s (%s)\n", path, strings.Join(names, ", "))
	}
	if failed > 0 {
		return fmt.Errorf("check: %d of %d files invalid", failed, len(files))
	}
	return nil
}

func coordinatorConfig(cfg *Config) coordinator.Config {
	return coordinator.Config{
		ConfigureAttempts: cfg.Configure.Attempts,
		ConfigureBackoff:  cfg.Configure.Backoff,
	}
}

// runtime is the pairing runtime on top of the simulated backend.
type runtime struct {
	coord *coordinator.Coordinator
	sim   *ncp.Sim
	db    *store.BoltStore
	mqtt  *mqttStopper
}

func newRuntime(ctx context.Context, cfg *Config, logger *slog.Logger) (*runtime, error) {
	zreg, reg, err := loadRegistries(cfg, logger)
	if err != nil {
		return nil, err
	}

	localIEEE, err := coordinator.ParseIEEE(cfg.Simulate.CoordinatorIEEE)
	if err != nil {
		return nil, fmt.Errorf("simulate.coordinator_ieee: %w", err)
	}
	sim := ncp.NewSim(localIEEE, logger)
	for _, d := range cfg.Simulate.Devices {
		dev, err := d.simDevice()
		if err != nil {
			return nil, err
		}
		sim.AddDevice(dev)
		for _, kind := range d.Fail {
			sim.FailNext(kind, d.ShortAddr, ncp.ErrTimeout)
		}
	}

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	events := coordinator.NewEventBus(logger)
	coord := coordinator.New(sim, db, zreg, reg, events, coordinatorConfig(cfg), logger)
	if err := coord.Start(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("start coordinator: %w", err)
	}

	return &runtime{
		coord: coord,
		sim:   sim,
		db:    db,
		mqtt:  initMQTT(coord, cfg, logger),
	}, nil
}

func (rt *runtime) Close() {
	rt.mqtt.Stop()
	rt.coord.Stop()
	rt.sim.Close()
	rt.db.Close()
}

// runSimulate joins the configured virtual devices one by one and reports
// how each one paired. It returns errPairingFailed if any device was not
// interviewed or its configure hook failed.
func runSimulate(ctx context.Context, w io.Writer, cfg *Config, logger *slog.Logger) error {
	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	seen := 0
	for _, d := range cfg.Simulate.Devices {
		if err := rt.sim.Announce(d.ShortAddr); err != nil {
			return fmt.Errorf("announce 0x%04X: %w", d.ShortAddr, err)
		}
		rt.coord.Devices().Wait()

		reqs := rt.sim.Requests()
		for _, r := range reqs[seen:] {
			logRequest(logger, r)
		}
		seen = len(reqs)
	}

	return writeSummary(w, cfg.Simulate.Devices, rt.coord)
}

func logRequest(logger *slog.Logger, r ncp.Request) {
	attrs := []any{
		"kind", r.Kind,
		"short", fmt.Sprintf("0x%04X", r.ShortAddr),
		"endpoint", r.Endpoint,
	}
	if r.ClusterID != 0 || r.Kind == ncp.KindReadAttributes {
		attrs = append(attrs, "cluster", fmt.Sprintf("0x%04X", r.ClusterID))
	}
	if r.Bind != nil {
		attrs = append(attrs, "dst", coordinator.FormatIEEE(r.Bind.DstIEEE), "dst_ep", r.Bind.DstEP)
	}
	if r.Reporting != nil {
		for _, rec := range r.Reporting.Records {
			attrs = append(attrs, "attr", fmt.Sprintf("0x%04X", rec.AttrID),
				"min", rec.MinInterval, "max", rec.MaxInterval)
		}
	}
	logger.Info("ncp request", attrs...)
}

func writeSummary(w io.Writer, devs []SimulatedDevice, coord *coordinator.Coordinator) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "IEEE\tSHORT\tMANUFACTURER\tMODEL\tDESCRIPTOR\tRESULT")

	failed := 0
	for _, d := range devs {
		ieee, _ := coordinator.ParseIEEE(d.IEEE)
		key := coordinator.FormatIEEE(ieee)

		result := "unsupported"
		descName := "-"
		dev, err := coord.Devices().GetDevice(key)
		switch {
		case err != nil:
			result = "error: " + err.Error()
			failed++
		case !dev.Interviewed:
			result = "interview failed"
			failed++
		case dev.Descriptor == "":
		case dev.Configured:
			descName = dev.Descriptor
			result = "configured"
		default:
			descName = dev.Descriptor
			result = "configure failed: " + dev.ConfigureError
			failed++
		}
		fmt.Fprintf(tw, "%s\t0x%04X\t%s\t%s\t%s\t%s\n", key, d.ShortAddr, d.Manufacturer, d.Model, descName, result)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d devices", errPairingFailed, failed, len(devs))
	}
	return nil
}
