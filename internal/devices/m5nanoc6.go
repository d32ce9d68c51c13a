package devices

import "zigbee-descriptors/internal/descriptor"

// nanoC6LightEndpoint is HA_ESP_LIGHT_ENDPOINT in the firmware.
const nanoC6LightEndpoint uint8 = 10

// M5NanoC6Light describes an M5Stack NanoC6 running the Espressif Zigbee
// on/off light firmware. Model and manufacturer are the firmware's modelid and
// manufname without their length prefix.
func M5NanoC6Light(rep Reporter) descriptor.Descriptor {
	return descriptor.Descriptor{
		Identity: descriptor.IdentityKeys{
			Model:        "ESP32C6.Light",
			Manufacturer: "Espressif",
		},
		Model:       "M5NanoC6-Light",
		Vendor:      "M5Stack / Espressif",
		Description: "M5NanoC6 Zigbee On/Off Light",
		Profile:     descriptor.ProfileSwitch,
		Endpoint:    nanoC6LightEndpoint,
		Configure:   onOffConfigure(nanoC6LightEndpoint, rep),
		Source:      "builtin",
	}
}
