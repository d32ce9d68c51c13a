package coordinator

import (
	"context"
	"fmt"
	"log/slog"

	"zigbee-descriptors/internal/descriptor"
	"zigbee-descriptors/internal/ncp"
	"zigbee-descriptors/internal/store"
	"zigbee-descriptors/internal/zcl"
)

// session exposes an interviewed device to a configure hook. Endpoints are
// resolved against the interview result and cluster keys against the ZCL
// registry; requests go straight to the NCP.
type session struct {
	coord  *Coordinator
	dev    *store.Device
	logger *slog.Logger
}

func newSession(coord *Coordinator, dev *store.Device, logger *slog.Logger) *session {
	return &session{coord: coord, dev: dev, logger: logger}
}

func (s *session) IEEEAddress() string {
	return s.dev.IEEEAddress
}

func (s *session) Endpoint(id uint8) (descriptor.Endpoint, error) {
	if !s.dev.HasEndpoint(id) {
		return nil, fmt.Errorf("device %s endpoint %d: %w", s.dev.IEEEAddress, id, descriptor.ErrEndpointNotFound)
	}
	return &sessionEndpoint{s: s, id: id}, nil
}

type sessionEndpoint struct {
	s  *session
	id uint8
}

func (e *sessionEndpoint) ID() uint8 { return e.id }

func (e *sessionEndpoint) cluster(key string) (*zcl.ClusterDef, error) {
	def := e.s.coord.Registry().Lookup(key)
	if def == nil {
		return nil, fmt.Errorf("cluster %q: %w", key, descriptor.ErrUnknownCluster)
	}
	return def, nil
}

func (e *sessionEndpoint) Bind(ctx context.Context, cluster string, target descriptor.BindTarget) error {
	def, err := e.cluster(cluster)
	if err != nil {
		return err
	}
	dev := e.s.dev
	b := store.Binding{
		Endpoint:  e.id,
		ClusterID: def.ID,
		DstIEEE:   target.IEEEAddress(),
		DstEP:     target.EndpointID(),
	}
	if err := e.s.coord.Bind(ctx, dev, b); err != nil {
		return err
	}
	dev.AddBinding(b)
	e.s.logger.Info("bound cluster", "ieee", dev.IEEEAddress, "ep", e.id, "cluster", def.Key,
		"dst", target.IEEEAddress(), "dst_ep", target.EndpointID())
	return nil
}

func (e *sessionEndpoint) ConfigureReporting(ctx context.Context, cluster string, items []descriptor.ReportingItem) error {
	def, err := e.cluster(cluster)
	if err != nil {
		return err
	}

	records := make([]ncp.ReportingRecord, 0, len(items))
	for _, it := range items {
		attr := def.FindAttributeKey(it.Attribute)
		if attr == nil {
			return fmt.Errorf("%s attribute %q: %w", def.Key, it.Attribute, descriptor.ErrUnknownAttribute)
		}
		if !attr.IsReportable() {
			return &zcl.StatusError{ClusterID: def.ID, AttrID: attr.ID, Status: zcl.StatusUnreportable}
		}
		change, err := zcl.EncodeReportableChange(attr.Type, it.ReportableChange)
		if err != nil {
			return fmt.Errorf("%s.%s reportable change: %w", def.Key, attr.Key, err)
		}
		records = append(records, ncp.ReportingRecord{
			AttrID:       attr.ID,
			DataType:     attr.Type,
			MinInterval:  it.MinInterval,
			MaxInterval:  it.MaxInterval,
			ReportChange: change,
		})
	}

	if err := e.s.coord.ConfigureReporting(ctx, e.s.dev.ShortAddress, e.id, def.ID, records); err != nil {
		return err
	}
	e.s.logger.Info("configured reporting", "ieee", e.s.dev.IEEEAddress, "ep", e.id, "cluster", def.Key, "attributes", len(records))
	return nil
}
