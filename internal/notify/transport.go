package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/medtwin-core/internal/infrastructure/mqtt"
)

// Publisher is the part of the MQTT client the transport needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// OperatorMessage is the JSON published to an operator topic.
type OperatorMessage struct {
	OperatorID string    `json:"operatorId"`
	Text       string    `json:"text"`
	SentAt     time.Time `json:"sentAt"`
}

// MQTTTransport publishes notifications on medtwin/operator/{id}/message.
type MQTTTransport struct {
	pub    Publisher
	qos    byte
	topics mqtt.Topics
	now    func() time.Time
}

// NewMQTTTransport creates an MQTT transport.
func NewMQTTTransport(pub Publisher, qos byte) *MQTTTransport {
	return &MQTTTransport{pub: pub, qos: qos, now: time.Now}
}

// SendMessage implements Transport.
func (t *MQTTTransport) SendMessage(ctx context.Context, operatorID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(OperatorMessage{OperatorID: operatorID, Text: text, SentAt: t.now().UTC()})
	if err != nil {
		return fmt.Errorf("encoding operator message: %w", err)
	}
	return t.pub.Publish(t.topics.OperatorMessage(operatorID), payload, t.qos, false)
}

// Fanout sends through every child and succeeds if any child does.
type Fanout []Transport

// SendMessage implements Transport.
func (f Fanout) SendMessage(ctx context.Context, operatorID, text string) error {
	var errs []error
	delivered := false
	for _, t := range f {
		if err := t.SendMessage(ctx, operatorID, text); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered = true
	}
	if delivered {
		return nil
	}
	if len(errs) == 0 {
		return fmt.Errorf("%w: no transports configured", ErrDelivery)
	}
	return errors.Join(errs...)
}
