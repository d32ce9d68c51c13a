package devices

import (
	"context"

	"github.com/stretchr/testify/mock"

	"zigbee-descriptors/internal/descriptor"
)

type mockSession struct {
	mock.Mock
}

func (m *mockSession) IEEEAddress() string {
	return m.Called().String(0)
}

func (m *mockSession) Endpoint(id uint8) (descriptor.Endpoint, error) {
	args := m.Called(id)
	if ep, ok := args.Get(0).(descriptor.Endpoint); ok {
		return ep, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockEndpoint struct {
	mock.Mock
	id uint8
}

func (m *mockEndpoint) ID() uint8 { return m.id }

func (m *mockEndpoint) Bind(ctx context.Context, cluster string, target descriptor.BindTarget) error {
	return m.Called(ctx, cluster, target).Error(0)
}

func (m *mockEndpoint) ConfigureReporting(ctx context.Context, cluster string, items []descriptor.ReportingItem) error {
	return m.Called(ctx, cluster, items).Error(0)
}

type mockReporter struct {
	mock.Mock
}

func (m *mockReporter) Bind(ctx context.Context, ep descriptor.Endpoint, target descriptor.BindTarget, clusters []string) error {
	return m.Called(ctx, ep, target, clusters).Error(0)
}

func (m *mockReporter) OnOff(ctx context.Context, ep descriptor.Endpoint) error {
	return m.Called(ctx, ep).Error(0)
}

type coordinatorTarget struct{}

func (coordinatorTarget) IEEEAddress() string { return "00124B0001ABCDEF" }
func (coordinatorTarget) EndpointID() uint8   { return 1 }
