package clusters

import "zigbee-descriptors/internal/zcl"

var Identify = zcl.ClusterDef{
	ID:   0x0003,
	Key:  "genIdentify",
	Name: "Identify",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Key: "identifyTime", Name: "IdentifyTime", Type: zcl.TypeUint16, Access: zcl.AccessRead | zcl.AccessWrite},
	},
	Commands: []zcl.CommandDef{
		{ID: 0x00, Name: "Identify", Direction: zcl.DirectionToServer},
		{ID: 0x01, Name: "IdentifyQuery", Direction: zcl.DirectionToServer},
		{ID: 0x40, Name: "TriggerEffect", Direction: zcl.DirectionToServer},
	},
}
