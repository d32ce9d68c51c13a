package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zigbee-descriptors/internal/ncp"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const nanoC6Clone = `
devices:
  - zigbee_model: ESP32C6.Light
    manufacturer_name: Espressif
    model: Clone
    extend: switch
    endpoint: 10
`

const dimmerYAML = `
devices:
  - zigbee_model: ESP32C6.Dimmer
    manufacturer_name: Espressif
    model: C6-Dimmer
    extend: light
    endpoint: 10
`

func newTestConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := loadConfig(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	cfg.Store.Path = filepath.Join(dir, "test.db")
	cfg.DescriptorsDir = filepath.Join(dir, "descriptors")
	cfg.Configure.Attempts = 1
	cfg.Configure.Backoff = time.Millisecond
	return cfg
}

func simulated(ieee string, short uint16, model string, fail ...string) SimulatedDevice {
	return SimulatedDevice{
		IEEE:         ieee,
		ShortAddr:    short,
		Manufacturer: "Espressif",
		Model:        model,
		Fail:         fail,
		Endpoints: []ncp.SimEndpoint{
			{ID: 10, ProfileID: 0x0104, DeviceID: 0x0100, InClusters: []uint16{0x0000, 0x0003, 0x0006}},
		},
	}
}

func TestRunList(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.DescriptorsDir = filepath.Dir(writeFile(t, t.TempDir(), "dimmer.yaml", dimmerYAML))

	_, reg, err := loadRegistries(cfg, newTestLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())

	var out bytes.Buffer
	require.NoError(t, runList(&out, reg))
	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Contains(t, string(lines[0]), "ZIGBEE MODEL")
	assert.Contains(t, string(lines[1]), "ESP32C6.Dimmer")
	assert.Contains(t, string(lines[1]), "light")
	assert.Contains(t, string(lines[2]), "ESP32C6.Light")
	assert.Contains(t, string(lines[2]), "M5NanoC6-Light")
	assert.Contains(t, string(lines[2]), "switch")
}

func TestLoadRegistriesDuplicateBuiltin(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.DescriptorsDir = filepath.Dir(writeFile(t, t.TempDir(), "clone.yaml", nanoC6Clone))

	_, _, err := loadRegistries(cfg, newTestLogger())
	assert.ErrorContains(t, err, "duplicate descriptor identity")
}

func TestRunCheck(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "dimmer.yaml", dimmerYAML)
	clone := writeFile(t, dir, "clone.yaml", nanoC6Clone)
	bad := writeFile(t, dir, "bad.lua", `return { zigbee_model = "X" }`)

	var out bytes.Buffer
	require.NoError(t, runCheck(&out, []string{good}, newTestLogger()))
	assert.Contains(t, out.String(), "ok   "+good+" (Espressif/ESP32C6.Dimmer)")

	out.Reset()
	err := runCheck(&out, []string{good, clone, bad}, newTestLogger())
	assert.ErrorContains(t, err, "2 of 3 files invalid")
	assert.Contains(t, out.String(), "FAIL "+clone)
	assert.Contains(t, out.String(), "duplicate descriptor identity")
	assert.Contains(t, out.String(), "FAIL "+bad)

	assert.Error(t, runCheck(&out, nil, newTestLogger()))
}

func TestRunSimulate(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Simulate.Devices = []SimulatedDevice{
		simulated("404CCAFFFE412210", 0x3A7C, "ESP32C6.Light"),
		simulated("404CCAFFFE412211", 0x3A7D, "ESP32C6.Switch"),
	}
	require.NoError(t, cfg.validate())

	var out bytes.Buffer
	require.NoError(t, runSimulate(context.Background(), &out, cfg, newTestLogger()))
	assert.Contains(t, out.String(), "404CCAFFFE412210  0x3A7C")
	assert.Regexp(t, `404CCAFFFE412210 .*M5NanoC6-Light\s+configured`, out.String())
	assert.Regexp(t, `404CCAFFFE412211 .*-\s+unsupported`, out.String())
}

func TestRunSimulateConfigureFailure(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Simulate.Devices = []SimulatedDevice{
		simulated("404CCAFFFE412210", 0x3A7C, "ESP32C6.Light", ncp.KindBind),
	}
	require.NoError(t, cfg.validate())

	var out bytes.Buffer
	err := runSimulate(context.Background(), &out, cfg, newTestLogger())
	assert.ErrorIs(t, err, errPairingFailed)
	assert.Contains(t, out.String(), "configure failed: ")
	assert.Contains(t, out.String(), ncp.ErrTimeout.Error())
}

func TestRunSimulateRetriesInjectedFailure(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Configure.Attempts = 2
	cfg.Simulate.Devices = []SimulatedDevice{
		simulated("404CCAFFFE412210", 0x3A7C, "ESP32C6.Light", ncp.KindConfigureReporting),
	}

	var out bytes.Buffer
	require.NoError(t, runSimulate(context.Background(), &out, cfg, newTestLogger()))
	assert.Contains(t, out.String(), "configured")
}

func TestRun(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "config.yaml", "descriptors_dir: "+t.TempDir()+"\n")

	assert.Equal(t, 2, run(nil))
	assert.Equal(t, 2, run([]string{"-config", cfgPath, "frobnicate"}))
	assert.Equal(t, 0, run([]string{"-config", cfgPath, "list"}))
	assert.Equal(t, 1, run([]string{"-config", cfgPath, "check"}))
}
