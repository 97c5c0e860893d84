package mqttbus

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Apsharan/Compteur/internal/ports"
)

// Config holds the broker connection settings.
type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	PublishTimeout time.Duration
}

// Bus implements ports.MessageBus over MQTT. Every publish waits for the
// broker with a bounded timeout so a hung broker fails the single operation
// instead of stalling the caller indefinitely.
type Bus struct {
	client         mqtt.Client
	qos            byte
	publishTimeout time.Duration
}

// Connect dials the broker and blocks until the connection is established
// or fails.
func Connect(cfg Config) (*Bus, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, token.Error())
	}

	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Bus{client: client, qos: cfg.QoS, publishTimeout: timeout}, nil
}

func (b *Bus) Subscribe(topic string, h ports.MessageHandler) error {
	token := b.client.Subscribe(topic, b.qos, func(_ mqtt.Client, msg mqtt.Message) {
		h(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, token.Error())
	}
	return nil
}

func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	wait := b.publishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
	}

	token := b.client.Publish(topic, b.qos, false, payload)
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("mqtt publish %s: timed out after %s", topic, wait)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

func (b *Bus) Close() {
	b.client.Disconnect(250)
}

var _ ports.MessageBus = (*Bus)(nil)
