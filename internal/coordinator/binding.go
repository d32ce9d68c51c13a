package coordinator

import (
	"context"
	"fmt"

	"zigbee-descriptors/internal/ncp"
	"zigbee-descriptors/internal/store"
)

func bindRequest(dev *store.Device, b store.Binding) (ncp.BindRequest, error) {
	src, err := ParseIEEE(dev.IEEEAddress)
	if err != nil {
		return ncp.BindRequest{}, fmt.Errorf("source %q: %w", dev.IEEEAddress, err)
	}
	dst, err := ParseIEEE(b.DstIEEE)
	if err != nil {
		return ncp.BindRequest{}, fmt.Errorf("destination %q: %w", b.DstIEEE, err)
	}
	return ncp.BindRequest{
		TargetShortAddr: dev.ShortAddress,
		SrcIEEE:         src,
		SrcEP:           b.Endpoint,
		ClusterID:       b.ClusterID,
		DstIEEE:         dst,
		DstEP:           b.DstEP,
	}, nil
}

// Bind asks dev to send b's cluster from its endpoint to the destination.
// The NCP error is returned as is.
func (c *Coordinator) Bind(ctx context.Context, dev *store.Device, b store.Binding) error {
	req, err := bindRequest(dev, b)
	if err != nil {
		return err
	}
	return c.ncp.Bind(ctx, req)
}

// Unbind removes a binding previously accepted by dev.
func (c *Coordinator) Unbind(ctx context.Context, dev *store.Device, b store.Binding) error {
	req, err := bindRequest(dev, b)
	if err != nil {
		return err
	}
	return c.ncp.Unbind(ctx, req)
}
