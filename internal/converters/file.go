// Package converters loads device descriptors from files: declarative YAML or
// JSON definitions and Lua scripts with their own configure hook.
package converters

import (
	"context"
	"fmt"

	"zigbee-descriptors/internal/descriptor"
	"zigbee-descriptors/internal/reporting"
	"zigbee-descriptors/internal/zcl"
)

// File is the structure of a declarative descriptor file.
type File struct {
	Clusters      []zcl.ClusterDef    `json:"clusters,omitempty" yaml:"clusters,omitempty"`
	Devices       []Definition        `json:"devices,omitempty" yaml:"devices,omitempty"`
	Manufacturers []ManufacturerGroup `json:"manufacturers,omitempty" yaml:"manufacturers,omitempty"`
}

// ManufacturerGroup groups device models under one manufacturer name.
type ManufacturerGroup struct {
	Name   string       `json:"name" yaml:"name"`
	Models []Definition `json:"models" yaml:"models"`
}

// Definition describes one device model declaratively. When neither Bind nor
// Reporting is given, the profile's default configuration is used.
type Definition struct {
	descriptor.IdentityKeys `yaml:",inline"`

	Model       string           `json:"model" yaml:"model"`
	Vendor      string           `json:"vendor" yaml:"vendor"`
	Description string           `json:"description" yaml:"description"`
	Extend      string           `json:"extend" yaml:"extend"`
	Endpoint    uint8            `json:"endpoint" yaml:"endpoint"`
	Bind        []string         `json:"bind,omitempty" yaml:"bind,omitempty"`
	Reporting   []ReportingEntry `json:"reporting,omitempty" yaml:"reporting,omitempty"`
}

// ReportingEntry is a reporting configuration for one attribute of a cluster.
type ReportingEntry struct {
	Cluster                  string `json:"cluster" yaml:"cluster"`
	descriptor.ReportingItem `yaml:",inline"`
}

// defaultReporting is what an exposed attribute reports when a definition
// does not say, keyed by cluster and attribute.
var defaultReporting = map[[2]string]descriptor.ReportingItem{
	{"genOnOff", "onOff"}:            reporting.Item("onOff", 0, reporting.Hour, 0),
	{"genLevelCtrl", "currentLevel"}: reporting.Item("currentLevel", reporting.Seconds10, reporting.Hour, 1),
}

// profileDefaults binds every cluster the profile uses and reports its
// exposed attributes.
func profileDefaults(p descriptor.Profile) ([]string, []ReportingEntry) {
	var entries []ReportingEntry
	for _, e := range p.Exposes() {
		if item, ok := defaultReporting[[2]string{e.Cluster, e.Attribute}]; ok {
			entries = append(entries, ReportingEntry{Cluster: e.Cluster, ReportingItem: item})
		}
	}
	return p.Clusters(), entries
}

// Descriptor checks d against the ZCL registry and builds the descriptor.
func (d Definition) Descriptor(zreg *zcl.Registry, source string) (descriptor.Descriptor, error) {
	profile, err := descriptor.ParseProfile(d.Extend)
	if err != nil {
		return descriptor.Descriptor{}, fmt.Errorf("%s: %w", d.IdentityKeys, err)
	}

	bind, entries := d.Bind, d.Reporting
	if len(bind) == 0 && len(entries) == 0 {
		bind, entries = profileDefaults(profile)
	}

	for _, key := range bind {
		if zreg.Lookup(key) == nil {
			return descriptor.Descriptor{}, fmt.Errorf("%s: bind %q: %w", d.IdentityKeys, key, descriptor.ErrUnknownCluster)
		}
	}
	for _, e := range entries {
		c := zreg.Lookup(e.Cluster)
		if c == nil {
			return descriptor.Descriptor{}, fmt.Errorf("%s: reporting %q: %w", d.IdentityKeys, e.Cluster, descriptor.ErrUnknownCluster)
		}
		attr := c.FindAttributeKey(e.Attribute)
		if attr == nil {
			return descriptor.Descriptor{}, fmt.Errorf("%s: reporting %s.%s: %w", d.IdentityKeys, e.Cluster, e.Attribute, descriptor.ErrUnknownAttribute)
		}
		if !attr.IsReportable() {
			return descriptor.Descriptor{}, fmt.Errorf("%w: %s: %s.%s is not reportable", descriptor.ErrInvalid, d.IdentityKeys, e.Cluster, e.Attribute)
		}
	}

	desc := descriptor.Descriptor{
		Identity:    d.IdentityKeys,
		Model:       d.Model,
		Vendor:      d.Vendor,
		Description: d.Description,
		Profile:     profile,
		Endpoint:    d.Endpoint,
		Configure:   declarativeConfigure(d.Endpoint, bind, entries),
		Source:      source,
	}
	if err := desc.Validate(); err != nil {
		return descriptor.Descriptor{}, err
	}
	return desc, nil
}

type clusterItems struct {
	cluster string
	items   []descriptor.ReportingItem
}

// groupReporting merges consecutive entries of the same cluster into one
// request, keeping file order.
func groupReporting(entries []ReportingEntry) []clusterItems {
	var out []clusterItems
	for _, e := range entries {
		if n := len(out); n > 0 && out[n-1].cluster == e.Cluster {
			out[n-1].items = append(out[n-1].items, e.ReportingItem)
			continue
		}
		out = append(out, clusterItems{cluster: e.Cluster, items: []descriptor.ReportingItem{e.ReportingItem}})
	}
	return out
}

func declarativeConfigure(endpoint uint8, bind []string, entries []ReportingEntry) descriptor.ConfigureFunc {
	groups := groupReporting(entries)
	return func(ctx context.Context, dev descriptor.DeviceSession, coordinator descriptor.BindTarget, _ descriptor.Topology) error {
		ep, err := dev.Endpoint(endpoint)
		if err != nil {
			return err
		}
		if err := reporting.Bind(ctx, ep, coordinator, bind); err != nil {
			return err
		}
		for _, g := range groups {
			if err := ep.ConfigureReporting(ctx, g.cluster, g.items); err != nil {
				return err
			}
		}
		return nil
	}
}
