package ncp

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"zigbee-descriptors/internal/zcl"
)

// Request kinds recorded by Sim.
const (
	KindActiveEndpoints    = "active_endpoints"
	KindSimpleDescriptor   = "simple_descriptor"
	KindReadAttributes     = "read_attributes"
	KindBind               = "bind"
	KindUnbind             = "unbind"
	KindConfigureReporting = "configure_reporting"
)

// SimEndpoint is an endpoint of a virtual device.
type SimEndpoint struct {
	ID          uint8    `yaml:"id"`
	ProfileID   uint16   `yaml:"profile_id"`
	DeviceID    uint16   `yaml:"device_id"`
	InClusters  []uint16 `yaml:"in_clusters"`
	OutClusters []uint16 `yaml:"out_clusters"`
}

// SimDevice is a virtual device served by Sim.
type SimDevice struct {
	IEEE         [8]byte
	ShortAddr    uint16
	Manufacturer string
	Model        string
	Endpoints    []SimEndpoint
	// Unreachable devices time out on every request.
	Unreachable bool
}

// Request is one request Sim received, in arrival order.
type Request struct {
	Kind      string
	ShortAddr uint16
	Endpoint  uint8
	ClusterID uint16
	Bind      *BindRequest
	Reporting *ConfigureReportingRequest
}

type failKey struct {
	kind      string
	shortAddr uint16
}

// Sim is an in-memory NCP backed by virtual devices. It records every request
// and keeps the bindings and reporting configuration each device would hold.
type Sim struct {
	mu        sync.Mutex
	localIEEE [8]byte
	devices   map[uint16]*SimDevice
	requests  []Request
	failures  map[failKey][]error
	bindings  map[uint16][]BindRequest
	reporting map[uint16][]ConfigureReportingRequest

	announceHandlers []func(DeviceAnnounceEvent)
	leftHandlers     []func(DeviceLeftEvent)

	logger *slog.Logger
}

// NewSim creates a simulator whose coordinator has the given IEEE address.
func NewSim(localIEEE [8]byte, logger *slog.Logger) *Sim {
	return &Sim{
		localIEEE: localIEEE,
		devices:   make(map[uint16]*SimDevice),
		failures:  make(map[failKey][]error),
		bindings:  make(map[uint16][]BindRequest),
		reporting: make(map[uint16][]ConfigureReportingRequest),
		logger:    logger.With("component", "ncp_sim"),
	}
}

// AddDevice adds or replaces a virtual device.
func (s *Sim) AddDevice(dev SimDevice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := dev
	cp.Endpoints = slices.Clone(dev.Endpoints)
	s.devices[dev.ShortAddr] = &cp
}

// SetReachable marks a device reachable or not.
func (s *Sim) SetReachable(shortAddr uint16, reachable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.devices[shortAddr]; ok {
		d.Unreachable = !reachable
	}
}

// FailNext makes the next request of kind to shortAddr fail with err.
// Multiple calls queue up in order.
func (s *Sim) FailNext(kind string, shortAddr uint16, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := failKey{kind, shortAddr}
	s.failures[k] = append(s.failures[k], err)
}

// Announce delivers a device announce for a virtual device to registered handlers.
func (s *Sim) Announce(shortAddr uint16) error {
	s.mu.Lock()
	dev, ok := s.devices[shortAddr]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("sim: no device at 0x%04X", shortAddr)
	}
	evt := DeviceAnnounceEvent{ShortAddr: dev.ShortAddr, IEEEAddr: dev.IEEE}
	handlers := slices.Clone(s.announceHandlers)
	s.mu.Unlock()

	for _, h := range handlers {
		h(evt)
	}
	return nil
}

// Leave removes a virtual device and notifies handlers.
func (s *Sim) Leave(shortAddr uint16) error {
	s.mu.Lock()
	dev, ok := s.devices[shortAddr]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("sim: no device at 0x%04X", shortAddr)
	}
	delete(s.devices, shortAddr)
	delete(s.bindings, shortAddr)
	delete(s.reporting, shortAddr)
	evt := DeviceLeftEvent{ShortAddr: dev.ShortAddr, IEEEAddr: dev.IEEE}
	handlers := slices.Clone(s.leftHandlers)
	s.mu.Unlock()

	for _, h := range handlers {
		h(evt)
	}
	return nil
}

// Requests returns a copy of all requests received so far.
func (s *Sim) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.requests)
}

// RequestsOf returns the recorded requests of one kind.
func (s *Sim) RequestsOf(kind string) []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Request
	for _, r := range s.requests {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// Bindings returns the bindings currently held by a device.
func (s *Sim) Bindings(shortAddr uint16) []BindRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.bindings[shortAddr])
}

// ReportingConfig returns the reporting configuration currently held by a device.
func (s *Sim) ReportingConfig(shortAddr uint16) []ConfigureReportingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.reporting[shortAddr])
}

// begin records a request and returns the target device or the error it should fail with.
// Caller must hold s.mu.
func (s *Sim) begin(ctx context.Context, req Request) (*SimDevice, error) {
	s.requests = append(s.requests, req)
	s.logger.Debug("request", "kind", req.Kind, "short", fmt.Sprintf("0x%04X", req.ShortAddr),
		"ep", req.Endpoint, "cluster", fmt.Sprintf("0x%04X", req.ClusterID))

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k := failKey{req.Kind, req.ShortAddr}
	if q := s.failures[k]; len(q) > 0 {
		s.failures[k] = q[1:]
		return nil, q[0]
	}
	dev, ok := s.devices[req.ShortAddr]
	if !ok || dev.Unreachable {
		return nil, fmt.Errorf("%s to 0x%04X: %w", req.Kind, req.ShortAddr, ErrTimeout)
	}
	return dev, nil
}

func (d *SimDevice) endpoint(id uint8) *SimEndpoint {
	for i := range d.Endpoints {
		if d.Endpoints[i].ID == id {
			return &d.Endpoints[i]
		}
	}
	return nil
}

func (s *Sim) GetLocalIEEE(ctx context.Context) ([8]byte, error) {
	if err := ctx.Err(); err != nil {
		return [8]byte{}, err
	}
	return s.localIEEE, nil
}

func (s *Sim) ActiveEndpoints(ctx context.Context, shortAddr uint16) ([]uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, err := s.begin(ctx, Request{Kind: KindActiveEndpoints, ShortAddr: shortAddr})
	if err != nil {
		return nil, err
	}
	eps := make([]uint8, 0, len(dev.Endpoints))
	for _, ep := range dev.Endpoints {
		eps = append(eps, ep.ID)
	}
	return eps, nil
}

func (s *Sim) SimpleDescriptor(ctx context.Context, shortAddr uint16, endpoint uint8) (*SimpleDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, err := s.begin(ctx, Request{Kind: KindSimpleDescriptor, ShortAddr: shortAddr, Endpoint: endpoint})
	if err != nil {
		return nil, err
	}
	ep := dev.endpoint(endpoint)
	if ep == nil {
		return nil, fmt.Errorf("simple descriptor 0x%04X ep %d: not active", shortAddr, endpoint)
	}
	return &SimpleDescriptor{
		Endpoint:    ep.ID,
		ProfileID:   ep.ProfileID,
		DeviceID:    ep.DeviceID,
		InClusters:  slices.Clone(ep.InClusters),
		OutClusters: slices.Clone(ep.OutClusters),
	}, nil
}

func (s *Sim) Bind(ctx context.Context, req BindRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := req
	if _, err := s.begin(ctx, Request{Kind: KindBind, ShortAddr: req.TargetShortAddr, Endpoint: req.SrcEP, ClusterID: req.ClusterID, Bind: &r}); err != nil {
		return err
	}
	dev := s.devices[req.TargetShortAddr]
	if dev.endpoint(req.SrcEP) == nil {
		return fmt.Errorf("bind 0x%04X ep %d: invalid endpoint", req.TargetShortAddr, req.SrcEP)
	}
	if !slices.Contains(s.bindings[req.TargetShortAddr], req) {
		s.bindings[req.TargetShortAddr] = append(s.bindings[req.TargetShortAddr], req)
	}
	return nil
}

func (s *Sim) Unbind(ctx context.Context, req BindRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := req
	if _, err := s.begin(ctx, Request{Kind: KindUnbind, ShortAddr: req.TargetShortAddr, Endpoint: req.SrcEP, ClusterID: req.ClusterID, Bind: &r}); err != nil {
		return err
	}
	s.bindings[req.TargetShortAddr] = slices.DeleteFunc(s.bindings[req.TargetShortAddr], func(b BindRequest) bool {
		return b == req
	})
	return nil
}

func (s *Sim) ReadAttributes(ctx context.Context, req ReadAttributesRequest) ([]AttributeResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, err := s.begin(ctx, Request{Kind: KindReadAttributes, ShortAddr: req.DstAddr, Endpoint: req.DstEP, ClusterID: req.ClusterID})
	if err != nil {
		return nil, err
	}
	out := make([]AttributeResponse, 0, len(req.AttrIDs))
	for _, id := range req.AttrIDs {
		var value string
		switch {
		case req.ClusterID == 0x0000 && id == 0x0004:
			value = dev.Manufacturer
		case req.ClusterID == 0x0000 && id == 0x0005:
			value = dev.Model
		default:
			out = append(out, AttributeResponse{AttrID: id, Status: zcl.StatusUnsupportedAttr})
			continue
		}
		enc, err := zcl.EncodeValue(zcl.TypeCharStr, value)
		if err != nil {
			return nil, err
		}
		out = append(out, AttributeResponse{AttrID: id, DataType: zcl.TypeCharStr, Value: enc})
	}
	return out, nil
}

func (s *Sim) ConfigureReporting(ctx context.Context, req ConfigureReportingRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := req
	r.Records = slices.Clone(req.Records)
	dev, err := s.begin(ctx, Request{Kind: KindConfigureReporting, ShortAddr: req.DstAddr, Endpoint: req.DstEP, ClusterID: req.ClusterID, Reporting: &r})
	if err != nil {
		return err
	}
	ep := dev.endpoint(req.DstEP)
	if ep == nil || !slices.Contains(ep.InClusters, req.ClusterID) {
		attr := uint16(0)
		if len(req.Records) > 0 {
			attr = req.Records[0].AttrID
		}
		return &zcl.StatusError{ClusterID: req.ClusterID, AttrID: attr, Status: zcl.StatusUnsupportedAttr}
	}
	s.reporting[req.DstAddr] = append(s.reporting[req.DstAddr], r)
	return nil
}

func (s *Sim) OnDeviceAnnounce(handler func(DeviceAnnounceEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.announceHandlers = append(s.announceHandlers, handler)
}

func (s *Sim) OnDeviceLeft(handler func(DeviceLeftEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leftHandlers = append(s.leftHandlers, handler)
}

func (s *Sim) Close() error { return nil }
