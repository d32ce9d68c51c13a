// Package devices holds the descriptors compiled into the binary.
package devices

import (
	"context"
	"fmt"

	"zigbee-descriptors/internal/descriptor"
	"zigbee-descriptors/internal/reporting"
)

// Reporter is the subset of the reporting library the built-in hooks use.
type Reporter interface {
	Bind(ctx context.Context, ep descriptor.Endpoint, target descriptor.BindTarget, clusters []string) error
	OnOff(ctx context.Context, ep descriptor.Endpoint) error
}

// StandardReporter forwards to package reporting.
type StandardReporter struct{}

func (StandardReporter) Bind(ctx context.Context, ep descriptor.Endpoint, target descriptor.BindTarget, clusters []string) error {
	return reporting.Bind(ctx, ep, target, clusters)
}

func (StandardReporter) OnOff(ctx context.Context, ep descriptor.Endpoint) error {
	return reporting.OnOff(ctx, ep)
}

// Builtin returns every compiled-in descriptor.
func Builtin() []descriptor.Descriptor {
	return []descriptor.Descriptor{
		M5NanoC6Light(StandardReporter{}),
	}
}

// RegisterBuiltin adds the compiled-in descriptors to r.
func RegisterBuiltin(r *descriptor.Registry) error {
	for _, d := range Builtin() {
		if err := r.Register(d); err != nil {
			return fmt.Errorf("register builtin %s: %w", d.Model, err)
		}
	}
	return nil
}

// onOffConfigure binds genOnOff on endpoint to the coordinator, then
// configures on/off reporting. Nothing is issued after a failure.
func onOffConfigure(endpoint uint8, rep Reporter) descriptor.ConfigureFunc {
	return func(ctx context.Context, dev descriptor.DeviceSession, coordinator descriptor.BindTarget, _ descriptor.Topology) error {
		ep, err := dev.Endpoint(endpoint)
		if err != nil {
			return err
		}
		if err := rep.Bind(ctx, ep, coordinator, []string{"genOnOff"}); err != nil {
			return err
		}
		return rep.OnOff(ctx, ep)
	}
}
