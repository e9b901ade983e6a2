//go:build no_mqtt

package main

import (
	"log/slog"

	"wificonf/internal/repository"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *repository.EventBus, _ *repository.Loop, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
