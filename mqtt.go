package sprinkler

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig describes the broker connection shared by all MQTT relays.
type MQTTConfig struct {
	Broker   string // tcp://host:port
	User     string
	Password string
	ClientID string
}

// DialMQTT connects to the broker, retrying with exponential backoff, and
// disconnects when ctx is cancelled.
func DialMQTT(ctx context.Context, cfg MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetUsername(cfg.User).
		SetPassword(cfg.Password).
		SetClientID(cfg.ClientID).
		SetCleanSession(true)

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 30 * time.Second

	var client mqtt.Client
	err := backoff.RetryNotify(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			return token.Error()
		}
		return nil
	}, bo, func(err error, _ time.Duration) {
		log.Error("could not connect to mqtt broker", "broker", cfg.Broker, "err", err)
	})
	if err != nil {
		return nil, fmt.Errorf("could not connect to %s: %w", cfg.Broker, err)
	}

	go func() {
		<-ctx.Done()
		client.Disconnect(250)
	}()
	return client, nil
}

// MQTTRelay drives a valve through a broker topic instead of local GPIO.
// Commands are published retained at QoS 1 so a valve controller that
// reconnects picks up the last commanded state.
type MQTTRelay struct {
	client mqtt.Client
	topic  string
}

func NewMQTTRelay(client mqtt.Client, topic string) *MQTTRelay {
	return &MQTTRelay{client: client, topic: topic}
}

func (r *MQTTRelay) On() error  { return r.publish("on") }
func (r *MQTTRelay) Off() error { return r.publish("off") }

func (r *MQTTRelay) publish(state string) error {
	token := r.client.Publish(r.topic, 1, true, state)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("could not publish %q to %s: %w", state, r.topic, err)
	}
	log.Debug("published valve command", "topic", r.topic, "state", state)
	return nil
}
