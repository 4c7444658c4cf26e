// Package webhook accepts provider status callbacks and forwards them to the
// completion bus without touching job state.
package webhook

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"vidgen/internal/bus"
	"vidgen/internal/domain"
	"vidgen/internal/infra"
	"vidgen/internal/providers/render"
)

var (
	// ErrBadPayload covers bodies that cannot be normalized or carry no request id.
	ErrBadPayload = errors.New("webhook: bad payload")
	// ErrPublish means the bus rejected the message; the provider should retry.
	ErrPublish = errors.New("webhook: publish failed")
)

// Publisher puts a payload on the completion bus.
type Publisher interface {
	Publish(ctx context.Context, payload []byte, attrs map[string]string) (string, error)
}

// Receipt describes an accepted callback.
type Receipt struct {
	RequestID string
	Status    string
	MessageID string
}

// Bridge verifies callbacks and publishes them verbatim.
type Bridge struct {
	secret [sha256.Size]byte
	pub    Publisher
	logger infra.Logger
}

func NewBridge(secret string, pub Publisher, logger infra.Logger) (*Bridge, error) {
	if secret == "" {
		return nil, errors.New("webhook: secret is required")
	}
	return &Bridge{secret: sha256.Sum256([]byte(secret)), pub: pub, logger: infra.Component(logger, "webhook")}, nil
}

// Authorize compares token with the shared secret in constant time.
func (b *Bridge) Authorize(token string) error {
	got := sha256.Sum256([]byte(token))
	if token == "" || subtle.ConstantTimeCompare(got[:], b.secret[:]) != 1 {
		return domain.ErrUnauthorized
	}
	return nil
}

// Accept authorizes, parses and publishes one callback body.
func (b *Bridge) Accept(ctx context.Context, token string, body []byte) (Receipt, error) {
	if err := b.Authorize(token); err != nil {
		b.logger.Warn().Msg("webhook: rejected callback with invalid token")
		return Receipt{}, err
	}
	st, err := render.Normalize(body)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if st.RequestID == "" {
		return Receipt{}, fmt.Errorf("%w: missing request id", ErrBadPayload)
	}
	id, err := b.pub.Publish(ctx, body, map[string]string{
		bus.AttrRequestID: st.RequestID,
		bus.AttrStatus:    st.Status,
	})
	if err != nil {
		b.logger.Error().Err(err).Str("request_id", st.RequestID).Msg("webhook: publish failed")
		return Receipt{}, fmt.Errorf("%w: %v", ErrPublish, err)
	}
	b.logger.Info().Str("request_id", st.RequestID).Str("status", st.Status).Str("message_id", id).Msg("webhook: forwarded")
	return Receipt{RequestID: st.RequestID, Status: st.Status, MessageID: id}, nil
}
