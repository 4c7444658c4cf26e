package webhook

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"vidgen/internal/bus"
	"vidgen/internal/domain"
)

type recordingPublisher struct {
	payloads [][]byte
	attrs    []map[string]string
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, payload []byte, attrs map[string]string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.payloads = append(p.payloads, payload)
	p.attrs = append(p.attrs, attrs)
	return "1-0", nil
}

func newBridge(t *testing.T, pub *recordingPublisher) *Bridge {
	t.Helper()
	b, err := NewBridge("s3cret", pub, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewBridge error: %v", err)
	}
	return b
}

func TestAcceptPublishesVerbatim(t *testing.T) {
	pub := &recordingPublisher{}
	b := newBridge(t, pub)
	body := []byte(`{"data":{"requestId":"req-1","state":"COMPLETED","output":[{"url":"https://cdn/x.mp4"}]}}`)

	rec, err := b.Accept(context.Background(), "s3cret", body)
	if err != nil {
		t.Fatalf("Accept error: %v", err)
	}
	if rec.RequestID != "req-1" || rec.Status != "completed" || rec.MessageID != "1-0" {
		t.Fatalf("receipt = %+v", rec)
	}
	if len(pub.payloads) != 1 || string(pub.payloads[0]) != string(body) {
		t.Fatalf("payload not forwarded verbatim: %q", pub.payloads)
	}
	if pub.attrs[0][bus.AttrRequestID] != "req-1" || pub.attrs[0][bus.AttrStatus] != "completed" {
		t.Fatalf("attrs = %v", pub.attrs[0])
	}
}

func TestAcceptRejectsBadToken(t *testing.T) {
	pub := &recordingPublisher{}
	b := newBridge(t, pub)
	for _, token := range []string{"", "s3cre", "s3cret ", "S3CRET"} {
		_, err := b.Accept(context.Background(), token, []byte(`{"request_id":"r"}`))
		if !errors.Is(err, domain.ErrUnauthorized) {
			t.Errorf("token %q: expected ErrUnauthorized, got %v", token, err)
		}
	}
	if len(pub.payloads) != 0 {
		t.Fatalf("unauthorized callbacks must not be published")
	}
}

func TestAcceptBadPayload(t *testing.T) {
	b := newBridge(t, &recordingPublisher{})
	for _, body := range []string{`not json`, `[]`, `{"status":"completed"}`} {
		if _, err := b.Accept(context.Background(), "s3cret", []byte(body)); !errors.Is(err, ErrBadPayload) {
			t.Errorf("body %s: expected ErrBadPayload, got %v", body, err)
		}
	}
}

func TestAcceptPublishFailure(t *testing.T) {
	b := newBridge(t, &recordingPublisher{err: errors.New("redis down")})
	_, err := b.Accept(context.Background(), "s3cret", []byte(`{"request_id":"r","status":"failed"}`))
	if !errors.Is(err, ErrPublish) {
		t.Fatalf("expected ErrPublish, got %v", err)
	}
}

func TestNewBridgeRequiresSecret(t *testing.T) {
	if _, err := NewBridge("", &recordingPublisher{}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
