package main

import "time"

type Config struct {
	Settings      string        `env:"SETTINGS"       envDefault:"settings.json"`
	Database      string        `env:"DATABASE"       envDefault:"sprinklerd.db"`
	Listen        string        `env:"LISTEN"         envDefault:":8080"`
	MetricsListen string        `env:"METRICS_LISTEN" envDefault:":9102"`
	MQTTBroker    string        `env:"MQTT_BROKER"`
	MQTTUser      string        `env:"MQTT_USER"`
	MQTTPassword  string        `env:"MQTT_PASSWORD"`
	MQTTClientID  string        `env:"MQTT_CLIENT_ID" envDefault:"sprinklerd"`
	Retention     time.Duration `env:"RETENTION"      envDefault:"2160h"`
	PruneAt       string        `env:"PRUNE_AT"       envDefault:"03:30"`
}
