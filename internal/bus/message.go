// Package bus is the completion bus between the webhook bridge and the
// completion processor: a Redis Stream read through a consumer group, plus
// the push envelope accepted on the internal HTTP endpoint.
package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Attribute keys carried next to the payload for filtering.
const (
	AttrRequestID = "request_id"
	AttrStatus    = "status"
)

const (
	fieldPayload     = "payload"
	fieldPublishedAt = "published_at"
	fieldOriginalID  = "original_id"
	fieldDeliveries  = "deliveries"
	fieldReason      = "dead_reason"
)

var (
	// ErrNotReady leaves a message pending so it is redelivered later.
	ErrNotReady = errors.New("bus: message not ready")
	// ErrPoison sends a message straight to the dead-letter stream.
	ErrPoison = errors.New("bus: poison message")
)

// Message is one delivery of a provider status payload.
type Message struct {
	ID          string
	Payload     []byte
	Attributes  map[string]string
	PublishedAt time.Time
	// Deliveries counts previous delivery attempts; zero on first read.
	Deliveries int64
}

// RequestID returns the request_id attribute.
func (m Message) RequestID() string { return m.Attributes[AttrRequestID] }

func streamValues(payload []byte, attrs map[string]string, at time.Time) map[string]any {
	values := map[string]any{
		fieldPayload:     string(payload),
		fieldPublishedAt: at.UTC().Format(time.RFC3339Nano),
	}
	for k, v := range attrs {
		if k == fieldPayload || k == fieldPublishedAt {
			continue
		}
		values[k] = v
	}
	return values
}

// fromValues rebuilds a message from stream entry fields.
func fromValues(id string, values map[string]any) (Message, error) {
	msg := Message{ID: id, Attributes: map[string]string{}}
	raw, ok := values[fieldPayload]
	if !ok {
		return msg, fmt.Errorf("bus: entry %s has no payload", id)
	}
	msg.Payload = []byte(fmt.Sprint(raw))
	for k, v := range values {
		s := fmt.Sprint(v)
		switch k {
		case fieldPayload:
		case fieldPublishedAt:
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				msg.PublishedAt = t
			}
		case fieldDeliveries:
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				msg.Deliveries = n
			}
		default:
			msg.Attributes[k] = s
		}
	}
	return msg, nil
}

// PushEnvelope is the body a push subscription posts to the consumer endpoint.
type PushEnvelope struct {
	Message struct {
		// Data is base64 in JSON and decoded by encoding/json.
		Data        []byte            `json:"data"`
		Attributes  map[string]string `json:"attributes"`
		MessageID   string            `json:"messageId"`
		PublishTime time.Time         `json:"publishTime"`
	} `json:"message"`
	Subscription    string `json:"subscription"`
	DeliveryAttempt int64  `json:"deliveryAttempt"`
}

// DecodePush parses a push envelope into a Message.
func DecodePush(body []byte) (Message, error) {
	var env PushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Message{}, fmt.Errorf("bus: decode envelope: %w", err)
	}
	if len(env.Message.Data) == 0 {
		return Message{}, errors.New("bus: envelope has no data")
	}
	attrs := env.Message.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	deliveries := env.DeliveryAttempt - 1
	if deliveries < 0 {
		deliveries = 0
	}
	return Message{
		ID:          env.Message.MessageID,
		Payload:     env.Message.Data,
		Attributes:  attrs,
		PublishedAt: env.Message.PublishTime,
		Deliveries:  deliveries,
	}, nil
}
