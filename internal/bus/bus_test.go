package bus

import (
	"encoding/base64"
	"testing"
	"time"
)

func TestStreamValuesRoundTrip(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	payload := []byte(`{"request_id":"req-1","status":"completed"}`)
	values := streamValues(payload, map[string]string{
		AttrRequestID: "req-1",
		AttrStatus:    "completed",
		fieldPayload:  "must not override",
	}, at)

	if values[fieldPayload] != string(payload) {
		t.Fatalf("payload overridden by attribute: %v", values[fieldPayload])
	}

	msg, err := fromValues("1-0", values)
	if err != nil {
		t.Fatalf("fromValues error: %v", err)
	}
	if string(msg.Payload) != string(payload) {
		t.Fatalf("payload = %s", msg.Payload)
	}
	if msg.RequestID() != "req-1" || msg.Attributes[AttrStatus] != "completed" {
		t.Fatalf("attributes = %v", msg.Attributes)
	}
	if !msg.PublishedAt.Equal(at) {
		t.Fatalf("published_at = %v", msg.PublishedAt)
	}
}

func TestFromValuesRequiresPayload(t *testing.T) {
	if _, err := fromValues("1-0", map[string]any{AttrStatus: "failed"}); err == nil {
		t.Fatal("expected error for entry without payload")
	}
}

func TestDecodePush(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte(`{"requestId":"req-9"}`))
	body := []byte(`{"message":{"data":"` + data + `","attributes":{"request_id":"req-9","status":"failed"},"messageId":"m-1","publishTime":"2026-01-02T03:04:05Z"},"subscription":"sub","deliveryAttempt":3}`)

	msg, err := DecodePush(body)
	if err != nil {
		t.Fatalf("DecodePush error: %v", err)
	}
	if string(msg.Payload) != `{"requestId":"req-9"}` {
		t.Fatalf("payload = %s", msg.Payload)
	}
	if msg.ID != "m-1" || msg.RequestID() != "req-9" || msg.Deliveries != 2 {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestDecodePushRejects(t *testing.T) {
	for _, body := range []string{
		`not json`,
		`{"message":{}}`,
		`{"message":{"data":"!!!"}}`,
	} {
		if _, err := DecodePush([]byte(body)); err == nil {
			t.Errorf("DecodePush(%s) expected error", body)
		}
	}
}

func TestExceeded(t *testing.T) {
	cases := []struct {
		deliveries, max int64
		want            bool
	}{
		{0, 5, false},
		{4, 5, false},
		{5, 5, true},
		{100, 0, false},
	}
	for _, tc := range cases {
		if got := exceeded(tc.deliveries, tc.max); got != tc.want {
			t.Errorf("exceeded(%d, %d) = %v", tc.deliveries, tc.max, got)
		}
	}
}

func TestDeadLetterStream(t *testing.T) {
	if got := DeadLetterStream("render:completions"); got != "render:completions:dead" {
		t.Fatalf("DeadLetterStream = %q", got)
	}
}
