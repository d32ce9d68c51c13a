// Package descriptor defines device descriptors: the static data a host runtime
// uses to recognise a Zigbee device and the hook it runs to configure the
// device at pairing time.
package descriptor

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrEndpointNotFound is returned by a DeviceSession when the device does
	// not expose the requested endpoint.
	ErrEndpointNotFound = errors.New("endpoint not found")
	// ErrUnknownCluster is returned when a cluster key is not known to the runtime.
	ErrUnknownCluster = errors.New("unknown cluster")
	// ErrUnknownAttribute is returned when an attribute key is not part of the cluster.
	ErrUnknownAttribute = errors.New("unknown attribute")
	// ErrDuplicateIdentity is returned when two descriptors claim the same identity.
	ErrDuplicateIdentity = errors.New("duplicate descriptor identity")
	// ErrInvalid is returned by Validate.
	ErrInvalid = errors.New("invalid descriptor")
)

// IdentityKeys are the identifiers a device reports in its Basic cluster.
// They are compared byte for byte; no case folding or trimming is applied.
type IdentityKeys struct {
	Model        string `json:"zigbee_model" yaml:"zigbee_model"`
	Manufacturer string `json:"manufacturer_name" yaml:"manufacturer_name"`
}

// Matches reports whether the device-reported identifiers equal k exactly.
func (k IdentityKeys) Matches(manufacturer, model string) bool {
	return k.Manufacturer == manufacturer && k.Model == model
}

func (k IdentityKeys) String() string {
	return k.Manufacturer + "/" + k.Model
}

// ReportingItem is one attribute reporting configuration.
type ReportingItem struct {
	Attribute        string `json:"attribute" yaml:"attribute"`
	MinInterval      uint16 `json:"min" yaml:"min"`
	MaxInterval      uint16 `json:"max" yaml:"max"`
	ReportableChange int    `json:"change" yaml:"change"`
}

// BindTarget is the node an endpoint binds its clusters to.
type BindTarget interface {
	IEEEAddress() string
	EndpointID() uint8
}

// Endpoint addresses one endpoint of a paired device.
type Endpoint interface {
	ID() uint8
	// Bind asks the device to send the cluster's attribute changes to target.
	Bind(ctx context.Context, cluster string, target BindTarget) error
	// ConfigureReporting asks the device to report the given attributes.
	ConfigureReporting(ctx context.Context, cluster string, items []ReportingItem) error
}

// DeviceSession is the runtime's handle on one paired device.
type DeviceSession interface {
	IEEEAddress() string
	// Endpoint resolves an endpoint by number. It returns an error wrapping
	// ErrEndpointNotFound when the device does not expose it.
	Endpoint(id uint8) (Endpoint, error)
}

// Topology is a snapshot of the network passed to configure hooks.
type Topology struct {
	// Devices holds the IEEE addresses of all paired devices.
	Devices []string
}

// ConfigureFunc establishes bindings and reporting on a freshly paired device.
// It must return the first failing request's error and issue nothing after it.
type ConfigureFunc func(ctx context.Context, dev DeviceSession, coordinator BindTarget, topology Topology) error

// Descriptor describes one device model. Descriptors are constructed once and
// never modified after registration.
type Descriptor struct {
	Identity    IdentityKeys
	Model       string
	Vendor      string
	Description string
	Profile     Profile
	Endpoint    uint8
	Configure   ConfigureFunc
	// Source names where the descriptor came from ("builtin" or a file path).
	Source string
}

// Validate checks the fields a runtime relies on.
func (d *Descriptor) Validate() error {
	switch {
	case d.Identity.Model == "":
		return fmt.Errorf("%w: zigbee model is empty", ErrInvalid)
	case d.Identity.Manufacturer == "":
		return fmt.Errorf("%w: manufacturer name is empty", ErrInvalid)
	case d.Model == "":
		return fmt.Errorf("%w: %s: model is empty", ErrInvalid, d.Identity)
	case !d.Profile.Valid():
		return fmt.Errorf("%w: %s: unknown capability profile %d", ErrInvalid, d.Identity, d.Profile)
	case d.Endpoint == 0 || d.Endpoint > 240:
		return fmt.Errorf("%w: %s: endpoint %d out of range 1-240", ErrInvalid, d.Identity, d.Endpoint)
	case d.Configure == nil:
		return fmt.Errorf("%w: %s: configure hook is nil", ErrInvalid, d.Identity)
	}
	return nil
}

// Info is the serializable summary of a descriptor, without its hook.
type Info struct {
	ZigbeeModel  string   `json:"zigbee_model"`
	Manufacturer string   `json:"manufacturer_name"`
	Model        string   `json:"model"`
	Vendor       string   `json:"vendor,omitempty"`
	Description  string   `json:"description,omitempty"`
	Profile      string   `json:"profile"`
	Endpoint     uint8    `json:"endpoint"`
	Exposes      []Expose `json:"exposes"`
	Source       string   `json:"source,omitempty"`
}

func (d *Descriptor) Info() Info {
	return Info{
		ZigbeeModel:  d.Identity.Model,
		Manufacturer: d.Identity.Manufacturer,
		Model:        d.Model,
		Vendor:       d.Vendor,
		Description:  d.Description,
		Profile:      d.Profile.String(),
		Endpoint:     d.Endpoint,
		Exposes:      d.Profile.Exposes(),
		Source:       d.Source,
	}
}
