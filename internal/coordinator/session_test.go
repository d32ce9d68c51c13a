package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zigbee-descriptors/internal/descriptor"
	"zigbee-descriptors/internal/ncp"
	"zigbee-descriptors/internal/reporting"
	"zigbee-descriptors/internal/store"
	"zigbee-descriptors/internal/zcl"
)

func newTestSession(t *testing.T) (*session, *testRig) {
	t.Helper()
	r := newTestRig(t, Config{}, nanoC6("ESP32C6.Light", 10, 0x0000, 0x0006, 0x0008))
	dev := &store.Device{
		IEEEAddress:  FormatIEEE(lightIEEE),
		ShortAddress: lightShort,
		Endpoints:    []store.Endpoint{{ID: 10, InClusters: []uint16{0x0000, 0x0006, 0x0008}}},
	}
	return newSession(r.coord, dev, newTestLogger()), r
}

func TestSessionEndpoint(t *testing.T) {
	s, _ := newTestSession(t)

	ep, err := s.Endpoint(10)
	require.NoError(t, err)
	assert.Equal(t, uint8(10), ep.ID())
	assert.Equal(t, FormatIEEE(lightIEEE), s.IEEEAddress())

	_, err = s.Endpoint(1)
	assert.ErrorIs(t, err, descriptor.ErrEndpointNotFound)
}

func TestSessionUnknownKeys(t *testing.T) {
	s, r := newTestSession(t)
	ctx := context.Background()
	ep, err := s.Endpoint(10)
	require.NoError(t, err)

	err = ep.Bind(ctx, "genonoff", r.coord)
	assert.ErrorIs(t, err, descriptor.ErrUnknownCluster)

	err = ep.ConfigureReporting(ctx, "genOnOff", []descriptor.ReportingItem{{Attribute: "on_off"}})
	assert.ErrorIs(t, err, descriptor.ErrUnknownAttribute)

	err = ep.ConfigureReporting(ctx, "genBasic", []descriptor.ReportingItem{{Attribute: "modelId"}})
	var se *zcl.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, zcl.StatusUnreportable, se.Status)

	assert.Empty(t, r.sim.RequestsOf(ncp.KindBind))
	assert.Empty(t, r.sim.RequestsOf(ncp.KindConfigureReporting))
}

func TestSessionBrightnessEncoding(t *testing.T) {
	s, r := newTestSession(t)
	ep, err := s.Endpoint(10)
	require.NoError(t, err)

	require.NoError(t, reporting.Brightness(context.Background(), ep, reporting.WithChange(5)))

	reps := r.sim.RequestsOf(ncp.KindConfigureReporting)
	require.Len(t, reps, 1)
	rec := reps[0].Reporting.Records[0]
	assert.Equal(t, uint16(0x0008), reps[0].ClusterID)
	assert.Equal(t, zcl.TypeUint8, rec.DataType)
	assert.Equal(t, reporting.Seconds10, rec.MinInterval)
	assert.Equal(t, reporting.Hour, rec.MaxInterval)
	assert.Equal(t, []byte{5}, rec.ReportChange)
}

func TestSessionBindRecordsBinding(t *testing.T) {
	s, r := newTestSession(t)
	ep, err := s.Endpoint(10)
	require.NoError(t, err)

	require.NoError(t, reporting.Bind(context.Background(), ep, r.coord, []string{"genOnOff", "genLevelCtrl"}))
	require.Len(t, s.dev.Bindings, 2)
	assert.Equal(t, uint16(0x0008), s.dev.Bindings[1].ClusterID)

	r.sim.FailNext(ncp.KindBind, lightShort, ncp.ErrTimeout)
	err = ep.Bind(context.Background(), "lightingColorCtrl", r.coord)
	assert.ErrorIs(t, err, ncp.ErrTimeout)
	assert.Len(t, s.dev.Bindings, 2)
}

func TestReadAttributes(t *testing.T) {
	r := newTestRig(t, Config{}, nanoC6("ESP32C6.Light", 10))

	res, err := r.coord.ReadAttributes(context.Background(), lightShort, 10, 0x0000, []uint16{0x0005, 0x0007})
	require.NoError(t, err)
	require.Len(t, res, 2)

	assert.True(t, res[0].OK())
	assert.Equal(t, "ModelIdentifier", res[0].AttrName)
	assert.Equal(t, "modelId", res[0].AttrKey)
	assert.Equal(t, "ESP32C6.Light", res[0].Value)
	assert.Equal(t, "string", res[0].TypeName)

	assert.False(t, res[1].OK())
	assert.Equal(t, "status 0x86", res[1].Error)

	r.sim.SetReachable(lightShort, false)
	_, err = r.coord.ReadAttributes(context.Background(), lightShort, 10, 0x0000, []uint16{0x0005})
	assert.ErrorIs(t, err, ncp.ErrTimeout)
}

func TestDecodeAttributeUnknownCluster(t *testing.T) {
	res := decodeAttribute(nil, ncp.AttributeResponse{AttrID: 0x4000, DataType: zcl.TypeUint8, Value: []byte{0x2A}})
	assert.True(t, res.OK())
	assert.Equal(t, "0x4000", res.AttrName)
	assert.Empty(t, res.AttrKey)
	assert.Equal(t, uint8(0x2A), res.Value)

	res = decodeAttribute(nil, ncp.AttributeResponse{AttrID: 0x4000, DataType: zcl.TypeUint16, Value: []byte{0x01}})
	assert.False(t, res.OK())
	assert.NotEmpty(t, res.Error)
}
