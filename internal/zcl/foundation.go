package zcl

import "fmt"

// ZCL status codes
const (
	StatusSuccess         uint8 = 0x00
	StatusFailure         uint8 = 0x01
	StatusUnsupportedAttr uint8 = 0x86
	StatusInvalidValue    uint8 = 0x87
	StatusInvalidDataType uint8 = 0x8D
	StatusUnreportable    uint8 = 0x8C
)

// StatusError is a non-success ZCL status returned by a device.
type StatusError struct {
	ClusterID uint16
	AttrID    uint16
	Status    uint8
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("zcl: cluster 0x%04X attr 0x%04X: status 0x%02X", e.ClusterID, e.AttrID, e.Status)
}
