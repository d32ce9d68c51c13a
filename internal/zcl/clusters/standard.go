package clusters

import "zigbee-descriptors/internal/zcl"

// RegisterStandard registers the clusters descriptors may refer to by key.
func RegisterStandard(r *zcl.Registry) {
	r.Register(Basic)        // 0x0000
	r.Register(Identify)     // 0x0003
	r.Register(OnOff)        // 0x0006
	r.Register(LevelControl) // 0x0008
	r.Register(ColorControl) // 0x0300
}
