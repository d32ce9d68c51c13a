//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"zigbee-descriptors/internal/coordinator"
)

// Config holds MQTT publisher configuration.
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// client is the part of pahomqtt.Client the publisher uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Publisher mirrors descriptor registry and pairing outcomes onto MQTT
// bridge topics.
type Publisher struct {
	client client
	coord  *coordinator.Coordinator
	prefix string
	logger *slog.Logger
	unsub  func()
}

// NewPublisher creates and connects an MQTT publisher.
func NewPublisher(coord *coordinator.Coordinator, cfg Config, logger *slog.Logger) (*Publisher, error) {
	p := newPublisher(nil, coord, cfg.TopicPrefix, logger)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "zigbee-descriptors"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(p.topic(topicBridgeState), "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			p.logger.Info("MQTT connected")
			p.onConnect()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			p.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	c := pahomqtt.NewClient(opts)
	// The on-connect handler may fire before Connect returns.
	p.client = c
	token := c.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return p, nil
}

func newPublisher(c client, coord *coordinator.Coordinator, prefix string, logger *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &Publisher{
		client: c,
		coord:  coord,
		prefix: prefix,
		logger: logger.With("component", "mqtt"),
	}
}

// Start subscribes to coordinator events.
func (p *Publisher) Start() {
	p.unsub = p.coord.Events().OnAll(p.handleEvent)
	p.logger.Info("MQTT publisher started", "prefix", p.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (p *Publisher) Stop() {
	if p.unsub != nil {
		p.unsub()
	}
	p.publishBridgeState("offline")
	p.client.Disconnect(1000)
	p.logger.Info("MQTT publisher stopped")
}

func (p *Publisher) onConnect() {
	p.publishBridgeState("online")
	p.publishDefinitions()
	p.publishDevices()
}

func (p *Publisher) handleEvent(event coordinator.Event) {
	payload, ok := buildEvent(event)
	if !ok {
		return
	}
	p.publish(p.topic(topicBridgeEvent), payload, false)

	switch event.Type {
	case coordinator.EventDeviceConfigured, coordinator.EventDeviceConfigureFailed, coordinator.EventDeviceLeft:
		p.publishDevices()
	}
}

func (p *Publisher) publishBridgeState(state string) {
	p.publish(p.topic(topicBridgeState), []byte(state), true)
}

func (p *Publisher) publishDefinitions() {
	p.publish(p.topic(topicBridgeDefinitions), buildDefinitions(p.coord.Descriptors().All()), true)
}

func (p *Publisher) publishDevices() {
	devices, err := p.coord.Devices().ListDevices()
	if err != nil {
		p.logger.Error("list devices for bridge/devices", "err", err)
		return
	}
	p.publish(p.topic(topicBridgeDevices), buildDevices(devices), true)
}

func (p *Publisher) publish(topic string, payload []byte, retained bool) {
	token := p.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			p.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			p.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func (p *Publisher) topic(suffix string) string {
	return p.prefix + "/" + suffix
}
