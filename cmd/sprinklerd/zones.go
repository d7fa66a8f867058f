package main

import (
	"context"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	sprinkler "github.com/pi2go/sprinklerd"
	"github.com/pi2go/sprinklerd/config"
)

// buildZones constructs one controller per configured zone. Zones with an
// MQTT topic share a single broker connection; everything else drives local
// GPIO. The broker is only dialed if at least one zone asks for it.
func buildZones(ctx context.Context, cfg Config, settings []config.ZoneSettings) ([]*sprinkler.Zone, error) {
	var client mqtt.Client
	zones := make([]*sprinkler.Zone, 0, len(settings))

	for _, zs := range settings {
		var relay sprinkler.Relay
		if zs.MQTTTopic != "" {
			if client == nil {
				if cfg.MQTTBroker == "" {
					return nil, fmt.Errorf("zone %q uses an mqtt valve but MQTT_BROKER is not set", zs.Name)
				}
				c, err := sprinkler.DialMQTT(ctx, sprinkler.MQTTConfig{
					Broker:   cfg.MQTTBroker,
					User:     cfg.MQTTUser,
					Password: cfg.MQTTPassword,
					ClientID: cfg.MQTTClientID,
				})
				if err != nil {
					return nil, err
				}
				client = c
			}
			relay = sprinkler.NewMQTTRelay(client, zs.MQTTTopic)
		} else {
			relay = sprinkler.NewGPIORelay(zs.Pin)
		}

		var rain sprinkler.RainSensor
		if zs.RainSensorPin > 0 {
			rain = sprinkler.NewGPIORainSensor(zs.RainSensorPin)
		}

		zones = append(zones, sprinkler.NewZone(relay, rain, sprinkler.ZoneOptions{
			Name:                  zs.Name,
			Enabled:               zs.Enabled,
			RatePerHour:           zs.RatePerHour,
			RainBlocksBookkeeping: zs.RainBlocksBookkeeping,
		}))
	}
	return zones, nil
}
