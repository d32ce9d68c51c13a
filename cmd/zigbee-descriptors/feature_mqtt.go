//go:build !no_mqtt

package main

import (
	"log/slog"

	mqttpub "zigbee-descriptors/internal/mqtt"

	"zigbee-descriptors/internal/coordinator"
)

type mqttStopper struct {
	publisher *mqttpub.Publisher
}

func (m *mqttStopper) Stop() {
	if m.publisher != nil {
		m.publisher.Stop()
	}
}

func initMQTT(coord *coordinator.Coordinator, cfg *Config, logger *slog.Logger) *mqttStopper {
	if !cfg.MQTT.Enabled {
		return &mqttStopper{}
	}
	publisher, err := mqttpub.NewPublisher(coord, mqttpub.Config{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
	}, logger)
	if err != nil {
		logger.Error("mqtt publisher", "err", err)
		return &mqttStopper{}
	}
	publisher.Start()
	return &mqttStopper{publisher: publisher}
}
