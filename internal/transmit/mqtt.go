package transmit

import (
	"context"
	"fmt"

	"github.com/lodomo/EscapeWright/internal/mqtt"
)

// Publisher is the part of mqtt.Client the MQTT sender needs.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// MQTTSender publishes messages under a room topic prefix (see mqtt.TriggerTopic).
type MQTTSender struct {
	client Publisher
	prefix string
}

func NewMQTTSender(client Publisher, prefix string) *MQTTSender {
	return &MQTTSender{client: client, prefix: prefix}
}

func (s *MQTTSender) Send(ctx context.Context, msg Message) error {
	var topic string
	switch msg.Kind {
	case KindTrigger:
		topic = mqtt.TriggerTopic(s.prefix, msg.Source)
	case KindStatus:
		topic = mqtt.StatusTopic(s.prefix, msg.Source)
	case KindRelay:
		topic = mqtt.RelayTopic(s.prefix, msg.Target)
	default:
		return Permanent(fmt.Errorf("unknown message kind %q", msg.Kind))
	}

	done := make(chan error, 1)
	go func() { done <- s.client.Publish(topic, []byte(msg.Body)) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fallback tries each sender in order and returns the first success. A
// permanent error ends the chain: the receiver saw the message and refused
// it, so another transport must not deliver it again.
type Fallback []Sender

func (f Fallback) Send(ctx context.Context, msg Message) error {
	var lastErr error
	for _, s := range f {
		if lastErr = s.Send(ctx, msg); lastErr == nil || isPermanent(lastErr) {
			return lastErr
		}
	}
	if lastErr == nil {
		return Permanent(fmt.Errorf("no senders configured"))
	}
	return lastErr
}
