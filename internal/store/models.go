package store

import "time"

// Device is the pairing record of a Zigbee device.
type Device struct {
	IEEEAddress  string     `json:"ieee_address"`
	ShortAddress uint16     `json:"short_address"`
	Manufacturer string     `json:"manufacturer,omitempty"`
	Model        string     `json:"model,omitempty"`
	Endpoints    []Endpoint `json:"endpoints,omitempty"`
	Interviewed  bool       `json:"interviewed"`
	JoinedAt     time.Time  `json:"joined_at"`
	LastSeen     time.Time  `json:"last_seen"`

	// Descriptor is the model name of the matched descriptor, empty if none matched.
	Descriptor     string    `json:"descriptor,omitempty"`
	Configured     bool      `json:"configured"`
	ConfiguredAt   time.Time `json:"configured_at,omitempty"`
	ConfigureError string    `json:"configure_error,omitempty"`
	Bindings       []Binding `json:"bindings,omitempty"`
}

// Binding is a bind the device accepted during configure.
type Binding struct {
	Endpoint  uint8  `json:"endpoint"`
	ClusterID uint16 `json:"cluster_id"`
	DstIEEE   string `json:"dst_ieee"`
	DstEP     uint8  `json:"dst_ep"`
}

// Endpoint represents a device endpoint.
type Endpoint struct {
	ID          uint8    `json:"id"`
	ProfileID   uint16   `json:"profile_id"`
	DeviceID    uint16   `json:"device_id"`
	InClusters  []uint16 `json:"in_clusters"`
	OutClusters []uint16 `json:"out_clusters"`
}

// HasEndpoint reports whether the device exposes endpoint id.
func (d *Device) HasEndpoint(id uint8) bool {
	for _, ep := range d.Endpoints {
		if ep.ID == id {
			return true
		}
	}
	return false
}

// AddBinding records b unless an identical binding is already present.
func (d *Device) AddBinding(b Binding) {
	for _, existing := range d.Bindings {
		if existing == b {
			return
		}
	}
	d.Bindings = append(d.Bindings, b)
}

// Attempt is one run of a descriptor's configure hook against a device.
type Attempt struct {
	Descriptor string    `json:"descriptor"`
	Attempt    int       `json:"attempt"`
	At         time.Time `json:"at"`
	Error      string    `json:"error,omitempty"`
}

// OK reports whether the attempt succeeded.
func (a Attempt) OK() bool { return a.Error == "" }
