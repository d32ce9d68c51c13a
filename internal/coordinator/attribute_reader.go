package coordinator

import (
	"context"
	"fmt"

	"zigbee-descriptors/internal/ncp"
	"zigbee-descriptors/internal/zcl"
)

// AttributeResult is one attribute of a Read Attributes response, decoded
// against the ZCL registry where the cluster is known.
type AttributeResult struct {
	AttrID   uint16 `json:"attr_id"`
	AttrKey  string `json:"attr_key,omitempty"`
	AttrName string `json:"attr_name"`
	TypeID   uint8  `json:"type_id"`
	TypeName string `json:"type_name"`
	Value    any    `json:"value"`
	Status   uint8  `json:"status"`
	Error    string `json:"error,omitempty"`
}

// OK reports whether the attribute was read and decoded.
func (r AttributeResult) OK() bool {
	return r.Status == zcl.StatusSuccess && r.Error == ""
}

func decodeAttribute(cluster *zcl.ClusterDef, resp ncp.AttributeResponse) AttributeResult {
	res := AttributeResult{
		AttrID:   resp.AttrID,
		AttrName: fmt.Sprintf("0x%04X", resp.AttrID),
		Status:   resp.Status,
		TypeID:   resp.DataType,
		TypeName: zcl.TypeName(resp.DataType),
	}
	if cluster != nil {
		if def := cluster.FindAttribute(resp.AttrID); def != nil {
			res.AttrKey, res.AttrName = def.Key, def.Name
		}
	}

	switch {
	case resp.Status != zcl.StatusSuccess:
		res.Error = fmt.Sprintf("status 0x%02X", resp.Status)
	case len(resp.Value) == 0:
	default:
		v, _, err := zcl.DecodeValue(resp.DataType, resp.Value)
		if err != nil {
			res.Error = err.Error()
			break
		}
		res.Value = v
	}
	return res
}

// ReadAttributes reads attrIDs of one cluster on a device endpoint. Only a
// failed request is an error; per-attribute failures are reported in the
// results.
func (c *Coordinator) ReadAttributes(ctx context.Context, shortAddr uint16, endpoint uint8, clusterID uint16, attrIDs []uint16) ([]AttributeResult, error) {
	responses, err := c.ncp.ReadAttributes(ctx, ncp.ReadAttributesRequest{
		DstAddr:   shortAddr,
		DstEP:     endpoint,
		ClusterID: clusterID,
		AttrIDs:   attrIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("read attributes 0x%04X/%d cluster 0x%04X: %w", shortAddr, endpoint, clusterID, err)
	}

	cluster := c.registry.Get(clusterID)
	results := make([]AttributeResult, 0, len(responses))
	for _, resp := range responses {
		results = append(results, decodeAttribute(cluster, resp))
	}
	return results, nil
}

// ConfigureReporting sends one Configure Reporting request for a cluster.
func (c *Coordinator) ConfigureReporting(ctx context.Context, shortAddr uint16, endpoint uint8, clusterID uint16, records []ncp.ReportingRecord) error {
	return c.ncp.ConfigureReporting(ctx, ncp.ConfigureReportingRequest{
		DstAddr:   shortAddr,
		DstEP:     endpoint,
		ClusterID: clusterID,
		Records:   records,
	})
}
