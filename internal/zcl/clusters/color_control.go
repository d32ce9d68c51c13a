package clusters

import "zigbee-descriptors/internal/zcl"

var ColorControl = zcl.ClusterDef{
	ID:   0x0300,
	Key:  "lightingColorCtrl",
	Name: "Color Control",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Key: "currentHue", Name: "CurrentHue", Type: zcl.TypeUint8, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: 0x0001, Key: "currentSaturation", Name: "CurrentSaturation", Type: zcl.TypeUint8, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: 0x0003, Key: "currentX", Name: "CurrentX", Type: zcl.TypeUint16, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: 0x0004, Key: "currentY", Name: "CurrentY", Type: zcl.TypeUint16, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: 0x0007, Key: "colorTemperature", Name: "ColorTemperatureMireds", Type: zcl.TypeUint16, Access: zcl.AccessRead | zcl.AccessReport},
		{ID: 0x0008, Key: "colorMode", Name: "ColorMode", Type: zcl.TypeEnum8, Access: zcl.AccessRead},
	},
	Commands: []zcl.CommandDef{
		{ID: 0x06, Name: "MoveToHueAndSaturation", Direction: zcl.DirectionToServer},
		{ID: 0x07, Name: "MoveToColor", Direction: zcl.DirectionToServer},
		{ID: 0x0A, Name: "MoveToColorTemperature", Direction: zcl.DirectionToServer},
	},
}
