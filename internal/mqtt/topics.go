package mqtt

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "zigbee2mqtt"

const (
	topicBridgeState       = "bridge/state"
	topicBridgeDefinitions = "bridge/definitions"
	topicBridgeDevices     = "bridge/devices"
	topicBridgeEvent       = "bridge/event"
)
