// Package reporting provides the bind and attribute-reporting helpers that
// configure hooks call. Errors from the endpoint are returned unchanged.
package reporting

import (
	"context"

	"zigbee-descriptors/internal/descriptor"
)

// Reporting intervals in seconds.
const (
	Max       uint16 = 62000
	Hour      uint16 = 3600
	Minutes30 uint16 = 1800
	Minutes15 uint16 = 900
	Minutes10 uint16 = 600
	Minutes5  uint16 = 300
	Minute    uint16 = 60
	Seconds10 uint16 = 10
)

// Option overrides one field of a default reporting configuration.
type Option func(*descriptor.ReportingItem)

// WithMin sets the minimum reporting interval.
func WithMin(seconds uint16) Option {
	return func(it *descriptor.ReportingItem) { it.MinInterval = seconds }
}

// WithMax sets the maximum reporting interval.
func WithMax(seconds uint16) Option {
	return func(it *descriptor.ReportingItem) { it.MaxInterval = seconds }
}

// WithChange sets the reportable change.
func WithChange(change int) Option {
	return func(it *descriptor.ReportingItem) { it.ReportableChange = change }
}

// Item builds a reporting item from defaults and options.
func Item(attribute string, min, max uint16, change int, opts ...Option) descriptor.ReportingItem {
	it := descriptor.ReportingItem{
		Attribute:        attribute,
		MinInterval:      min,
		MaxInterval:      max,
		ReportableChange: change,
	}
	for _, o := range opts {
		o(&it)
	}
	return it
}

// Bind binds each cluster on ep to target, in order, stopping at the first failure.
func Bind(ctx context.Context, ep descriptor.Endpoint, target descriptor.BindTarget, clusters []string) error {
	for _, cluster := range clusters {
		if err := ep.Bind(ctx, cluster, target); err != nil {
			return err
		}
	}
	return nil
}

// OnOff configures reporting of genOnOff/onOff: on every change, at least hourly.
func OnOff(ctx context.Context, ep descriptor.Endpoint, opts ...Option) error {
	return ep.ConfigureReporting(ctx, "genOnOff", []descriptor.ReportingItem{
		Item("onOff", 0, Hour, 0, opts...),
	})
}

// Brightness configures reporting of genLevelCtrl/currentLevel.
func Brightness(ctx context.Context, ep descriptor.Endpoint, opts ...Option) error {
	return ep.ConfigureReporting(ctx, "genLevelCtrl", []descriptor.ReportingItem{
		Item("currentLevel", Seconds10, Hour, 1, opts...),
	})
}
