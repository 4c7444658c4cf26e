package completion

import (
	"context"
	"errors"
	"fmt"

	"vidgen/internal/bus"
	"vidgen/internal/providers/render"
)

// HandlePayload normalizes a raw provider payload and processes it.
func (p *Processor) HandlePayload(ctx context.Context, payload []byte) (Result, error) {
	st, err := render.Normalize(payload)
	if err != nil {
		return Result{}, err
	}
	return p.Process(ctx, st)
}

// HandleMessage is the bus.Handler for the completion stream. Unknown request
// ids stay pending so a later delivery can find the job.
func (p *Processor) HandleMessage(ctx context.Context, msg bus.Message) error {
	res, err := p.HandlePayload(ctx, msg.Payload)
	switch {
	case errors.Is(err, render.ErrMalformedPayload):
		return fmt.Errorf("%w: %v", bus.ErrPoison, err)
	case err != nil:
		return err
	case res.Outcome == OutcomeNotFound:
		return bus.ErrNotReady
	}
	p.logger.Debug().Str("entry_id", msg.ID).Str("outcome", string(res.Outcome)).Msg("completion: message handled")
	return nil
}
