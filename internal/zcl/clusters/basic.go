package clusters

import "zigbee-descriptors/internal/zcl"

// Basic attribute IDs read during interview to identify a device.
const (
	BasicManufacturerName uint16 = 0x0004
	BasicModelIdentifier  uint16 = 0x0005
)

var Basic = zcl.ClusterDef{
	ID:   0x0000,
	Key:  "genBasic",
	Name: "Basic",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Key: "zclVersion", Name: "ZCLVersion", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: 0x0001, Key: "appVersion", Name: "ApplicationVersion", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: 0x0002, Key: "stackVersion", Name: "StackVersion", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: 0x0003, Key: "hwVersion", Name: "HWVersion", Type: zcl.TypeUint8, Access: zcl.AccessRead},
		{ID: BasicManufacturerName, Key: "manufacturerName", Name: "ManufacturerName", Type: zcl.TypeCharStr, Access: zcl.AccessRead},
		{ID: BasicModelIdentifier, Key: "modelId", Name: "ModelIdentifier", Type: zcl.TypeCharStr, Access: zcl.AccessRead},
		{ID: 0x0006, Key: "dateCode", Name: "DateCode", Type: zcl.TypeCharStr, Access: zcl.AccessRead},
		{ID: 0x0007, Key: "powerSource", Name: "PowerSource", Type: zcl.TypeEnum8, Access: zcl.AccessRead},
		{ID: 0x4000, Key: "swBuildId", Name: "SWBuildID", Type: zcl.TypeCharStr, Access: zcl.AccessRead},
	},
	Commands: []zcl.CommandDef{
		{ID: 0x00, Name: "ResetToFactoryDefaults", Direction: zcl.DirectionToServer},
	},
}
