//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"sort"
	"time"

	"zigbee-descriptors/internal/coordinator"
	"zigbee-descriptors/internal/descriptor"
	"zigbee-descriptors/internal/store"
)

// devicePayload is one entry of the retained bridge/devices list.
type devicePayload struct {
	IEEEAddress    string `json:"ieee_address"`
	NetworkAddress uint16 `json:"network_address"`
	FriendlyName   string `json:"friendly_name"`
	Manufacturer   string `json:"manufacturer,omitempty"`
	ModelID        string `json:"model_id,omitempty"`
	Interviewed    bool   `json:"interview_completed"`
	Supported      bool   `json:"supported"`
	Definition     string `json:"definition,omitempty"`
	Configured     bool   `json:"configured"`
	ConfiguredAt   string `json:"configured_at,omitempty"`
	ConfigureError string `json:"configure_error,omitempty"`
}

// eventPayload is published on bridge/event.
type eventPayload struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func buildDefinitions(descs []*descriptor.Descriptor) []byte {
	out := make([]descriptor.Info, 0, len(descs))
	for _, d := range descs {
		out = append(out, d.Info())
	}
	return mustJSON(out)
}

func buildDevices(devs []*store.Device) []byte {
	sorted := append([]*store.Device(nil), devs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].IEEEAddress < sorted[j].IEEEAddress })

	out := make([]devicePayload, 0, len(sorted))
	for _, dev := range sorted {
		p := devicePayload{
			IEEEAddress:    dev.IEEEAddress,
			NetworkAddress: dev.ShortAddress,
			FriendlyName:   deviceDisplayName(dev),
			Manufacturer:   dev.Manufacturer,
			ModelID:        dev.Model,
			Interviewed:    dev.Interviewed,
			Supported:      dev.Descriptor != "",
			Definition:     dev.Descriptor,
			Configured:     dev.Configured,
			ConfigureError: dev.ConfigureError,
		}
		if !dev.ConfiguredAt.IsZero() {
			p.ConfiguredAt = dev.ConfiguredAt.Format(time.RFC3339)
		}
		out = append(out, p)
	}
	return mustJSON(out)
}

// buildEvent maps a coordinator event onto a bridge/event payload. Events
// that are not published return ok=false.
func buildEvent(event coordinator.Event) ([]byte, bool) {
	data, ok := event.Data.(map[string]interface{})
	if !ok {
		return nil, false
	}
	ieee, _ := data["ieee"].(string)
	if ieee == "" {
		return nil, false
	}

	out := eventPayload{Data: map[string]any{"ieee_address": ieee}}
	switch event.Type {
	case coordinator.EventDeviceInterviewed:
		out.Type = "device_interview"
		out.Data["status"] = "successful"
		desc, _ := data["descriptor"].(string)
		out.Data["supported"] = desc != ""
		if desc != "" {
			out.Data["definition"] = desc
		}
		copyKeys(out.Data, data, "manufacturer", "model")
	case coordinator.EventDeviceConfigured:
		out.Type = "device_configure"
		out.Data["status"] = "successful"
		copyKeys(out.Data, data, "descriptor", "attempts")
	case coordinator.EventDeviceConfigureFailed:
		out.Type = "device_configure"
		out.Data["status"] = "failed"
		copyKeys(out.Data, data, "descriptor", "attempts", "error")
	case coordinator.EventDeviceLeft:
		out.Type = "device_leave"
	default:
		return nil, false
	}
	return mustJSON(out), true
}

func copyKeys(dst, src map[string]any, keys ...string) {
	for _, k := range keys {
		if v, ok := src[k]; ok {
			dst[k] = v
		}
	}
}

// deviceDisplayName returns a display name for the device.
func deviceDisplayName(dev *store.Device) string {
	if dev.Manufacturer != "" && dev.Model != "" {
		return dev.Manufacturer + " " + dev.Model
	}
	if dev.Model != "" {
		return dev.Model
	}
	return dev.IEEEAddress
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
