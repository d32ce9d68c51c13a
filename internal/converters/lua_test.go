package converters

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zigbee-descriptors/internal/descriptor"
)

const nanoC6Lua = `
local ENDPOINT = 10

return {
  zigbee_model = "ESP32C6.Light",
  manufacturer_name = "Espressif",
  model = "M5NanoC6-Light",
  vendor = "M5Stack / Espressif",
  description = "M5NanoC6 Zigbee On/Off Light",
  extend = "switch",
  endpoint = ENDPOINT,
  configure = function(device, coordinator, topology)
    local ep = device:endpoint(ENDPOINT)
    reporting.bind(ep, coordinator, {"genOnOff"})
    reporting.on_off(ep)
  end,
}
`

func TestParseLua(t *testing.T) {
	d, err := ParseLua(nanoC6Lua, "nanoc6.lua")
	require.NoError(t, err)

	assert.Equal(t, descriptor.IdentityKeys{Model: "ESP32C6.Light", Manufacturer: "Espressif"}, d.Identity)
	assert.Equal(t, "M5NanoC6-Light", d.Model)
	assert.Equal(t, "M5Stack / Espressif", d.Vendor)
	assert.Equal(t, descriptor.ProfileSwitch, d.Profile)
	assert.Equal(t, uint8(10), d.Endpoint)
	assert.Equal(t, "nanoc6.lua", d.Source)
}

func TestParseLuaInvalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"syntax error", "return {"},
		{"not a table", "return 42"},
		{"runtime error", `error("boom")`},
		{"no configure", `return {zigbee_model="M", manufacturer_name="V", model="M", extend="switch", endpoint=1}`},
		{"bad endpoint", `return {zigbee_model="M", manufacturer_name="V", model="M", extend="switch", endpoint=1.5, configure=function() end}`},
		{"endpoint out of range", `return {zigbee_model="M", manufacturer_name="V", model="M", extend="switch", endpoint=241, configure=function() end}`},
		{"unknown profile", `return {zigbee_model="M", manufacturer_name="V", model="M", extend="fan", endpoint=1, configure=function() end}`},
		{"empty identity", `return {zigbee_model="", manufacturer_name="V", model="M", extend="switch", endpoint=1, configure=function() end}`},
		{"sandboxed os", `os.exit(1)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLua(tt.src, "x.lua")
			require.Error(t, err)
			assert.ErrorContains(t, err, "x.lua")
		})
	}
}

func TestLuaConfigure(t *testing.T) {
	d, err := ParseLua(nanoC6Lua, "nanoc6.lua")
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("bind then on/off reporting", func(t *testing.T) {
		dev := newRecorder(10)
		require.NoError(t, d.Configure(ctx, dev, coordTarget{}, descriptor.Topology{}))
		assert.Equal(t, []string{
			"bind ep10 genOnOff -> 00124B0001ABCDEF/1",
			"report ep10 genOnOff",
		}, dev.calls)
		require.Len(t, dev.items, 1)
		assert.Equal(t, descriptor.ReportingItem{Attribute: "onOff", MinInterval: 0, MaxInterval: 3600}, dev.items[0][0])
	})

	t.Run("missing endpoint returns the session error", func(t *testing.T) {
		dev := newRecorder(1)
		err := d.Configure(ctx, dev, coordTarget{}, descriptor.Topology{})
		assert.ErrorIs(t, err, descriptor.ErrEndpointNotFound)
		assert.Empty(t, dev.calls)
	})

	t.Run("bind error returned unchanged", func(t *testing.T) {
		dev := newRecorder(10)
		dev.failOn, dev.err = "bind", errors.New("no route")
		err := d.Configure(ctx, dev, coordTarget{}, descriptor.Topology{})
		assert.Same(t, dev.err, err)
		assert.Len(t, dev.calls, 1)
	})

	t.Run("reporting error returned unchanged", func(t *testing.T) {
		dev := newRecorder(10)
		dev.failOn, dev.err = "report", errors.New("unsupported attribute")
		err := d.Configure(ctx, dev, coordTarget{}, descriptor.Topology{})
		assert.Same(t, dev.err, err)
		assert.Len(t, dev.calls, 2)
	})
}

func TestLuaConfigureOverridesAndErrors(t *testing.T) {
	src := `
return {
  zigbee_model = "L", manufacturer_name = "V", model = "L", extend = "light", endpoint = 3,
  configure = function(device, coordinator, topology)
    if #topology.devices ~= 2 then error("want 2 devices") end
    local ep = device:endpoint(3)
    if ep:id() ~= 3 then error("bad id") end
    reporting.bind(ep, coordinator, {"genOnOff", "genLevelCtrl"})
    reporting.on_off(ep, {max = reporting.MINUTES_10})
    reporting.brightness(ep, {min = 1, change = 5})
  end,
}
`
	d, err := ParseLua(src, "light.lua")
	require.NoError(t, err)

	dev := newRecorder(3)
	err = d.Configure(context.Background(), dev, coordTarget{}, descriptor.Topology{Devices: []string{"A", "B"}})
	require.NoError(t, err)
	assert.Len(t, dev.calls, 4)
	require.Len(t, dev.items, 2)
	assert.Equal(t, uint16(600), dev.items[0][0].MaxInterval)
	assert.Equal(t, descriptor.ReportingItem{Attribute: "currentLevel", MinInterval: 1, MaxInterval: 3600, ReportableChange: 5}, dev.items[1][0])

	// a script error that does not come from a runtime call is wrapped
	err = d.Configure(context.Background(), newRecorder(3), coordTarget{}, descriptor.Topology{})
	require.Error(t, err)
	assert.ErrorContains(t, err, "want 2 devices")
	assert.ErrorContains(t, err, "light.lua")
}

func TestLuaConfigureRecoversWithPcall(t *testing.T) {
	src := `
return {
  zigbee_model = "ESP32C6.Light", manufacturer_name = "Espressif", model = "M5NanoC6-Light",
  extend = "switch", endpoint = 10,
  configure = function(device, coordinator, topology)
    local ep = device:endpoint(10)
    local ok, err = pcall(reporting.on_off, ep, {max = reporting.MINUTES_5})
    if ok then error("expected the first report to fail") end
    if tostring(err) ~= "report rejected" then error("unexpected error " .. tostring(err)) end
    reporting.bind(ep, coordinator, {"genOnOff"})
    reporting.on_off(ep)
  end,
}
`
	d, err := ParseLua(src, "retry.lua")
	require.NoError(t, err)

	dev := newRecorder(10)
	dev.failOn, dev.err = "report", errors.New("report rejected")
	require.NoError(t, d.Configure(context.Background(), dev, coordTarget{}, descriptor.Topology{}))
	assert.Equal(t, []string{
		"report ep10 genOnOff",
		"bind ep10 genOnOff -> 00124B0001ABCDEF/1",
		"report ep10 genOnOff",
	}, dev.calls)
}

func TestLuaConfigureRethrownError(t *testing.T) {
	src := `
return {
  zigbee_model = "M", manufacturer_name = "V", model = "M", extend = "switch", endpoint = 10,
  configure = function(device, coordinator, topology)
    local ep = device:endpoint(10)
    local ok, err = pcall(reporting.bind, ep, coordinator, {"genOnOff"})
    if not ok then error(err) end
    reporting.on_off(ep)
  end,
}
`
	d, err := ParseLua(src, "rethrow.lua")
	require.NoError(t, err)

	dev := newRecorder(10)
	dev.failOn, dev.err = "bind", errors.New("no route")
	err = d.Configure(context.Background(), dev, coordTarget{}, descriptor.Topology{})
	assert.Same(t, dev.err, err)
	assert.Len(t, dev.calls, 1)
}

func TestLuaOverridesRange(t *testing.T) {
	tests := []struct {
		name      string
		overrides string
		wantErr   string
	}{
		{name: "max above uint16", overrides: "{max = 70000}", wantErr: "max must be an integer in 0..65535"},
		{name: "negative min", overrides: "{min = -1}", wantErr: "min must be an integer in 0..65535"},
		{name: "fractional max", overrides: "{max = 1.5}", wantErr: "max must be an integer"},
		{name: "fractional change", overrides: "{change = 0.5}", wantErr: "change must be an integer"},
		{name: "string min", overrides: `{min = "ten"}`, wantErr: "min must be a number"},
		{name: "change too large", overrides: "{change = 2^40}", wantErr: "change must be an integer"},
		{name: "bounds accepted", overrides: "{min = 0, max = 65535, change = -1}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := `
return {
  zigbee_model = "M", manufacturer_name = "V", model = "M", extend = "light", endpoint = 10,
  configure = function(device, coordinator, topology)
    reporting.brightness(device:endpoint(10), ` + tt.overrides + `)
  end,
}
`
			d, err := ParseLua(src, "overrides.lua")
			require.NoError(t, err)

			dev := newRecorder(10)
			err = d.Configure(context.Background(), dev, coordTarget{}, descriptor.Topology{})
			if tt.wantErr == "" {
				require.NoError(t, err)
				require.Len(t, dev.items, 1)
				assert.Equal(t, descriptor.ReportingItem{Attribute: "currentLevel", MinInterval: 0, MaxInterval: 65535, ReportableChange: -1}, dev.items[0][0])
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
			assert.ErrorContains(t, err, "overrides.lua")
			assert.Empty(t, dev.calls)
		})
	}
}
