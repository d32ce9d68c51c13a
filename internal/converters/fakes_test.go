package converters

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"zigbee-descriptors/internal/descriptor"
	"zigbee-descriptors/internal/zcl"
	"zigbee-descriptors/internal/zcl/clusters"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestZCL() *zcl.Registry {
	r := zcl.NewRegistry(newTestLogger())
	clusters.RegisterStandard(r)
	return r
}

// recorder is a fake device that logs every request its endpoints receive.
type recorder struct {
	ieee      string
	endpoints map[uint8]bool
	calls     []string
	items     [][]descriptor.ReportingItem
	// failOn makes the first call with this prefix fail with err.
	failOn string
	err    error
}

func newRecorder(endpoints ...uint8) *recorder {
	r := &recorder{ieee: "404CCAFFFE010203", endpoints: make(map[uint8]bool)}
	for _, ep := range endpoints {
		r.endpoints[ep] = true
	}
	return r
}

func (r *recorder) IEEEAddress() string { return r.ieee }

func (r *recorder) Endpoint(id uint8) (descriptor.Endpoint, error) {
	if !r.endpoints[id] {
		return nil, fmt.Errorf("endpoint %d: %w", id, descriptor.ErrEndpointNotFound)
	}
	return &recEndpoint{r: r, id: id}, nil
}

func (r *recorder) record(call string) error {
	r.calls = append(r.calls, call)
	if r.failOn != "" && strings.HasPrefix(call, r.failOn) {
		r.failOn = ""
		return r.err
	}
	return nil
}

type recEndpoint struct {
	r  *recorder
	id uint8
}

func (e *recEndpoint) ID() uint8 { return e.id }

func (e *recEndpoint) Bind(_ context.Context, cluster string, target descriptor.BindTarget) error {
	return e.r.record(fmt.Sprintf("bind ep%d %s -> %s/%d", e.id, cluster, target.IEEEAddress(), target.EndpointID()))
}

func (e *recEndpoint) ConfigureReporting(_ context.Context, cluster string, items []descriptor.ReportingItem) error {
	e.r.items = append(e.r.items, items)
	return e.r.record(fmt.Sprintf("report ep%d %s", e.id, cluster))
}

type coordTarget struct{}

func (coordTarget) IEEEAddress() string { return "00124B0001ABCDEF" }
func (coordTarget) EndpointID() uint8   { return 1 }
