package render

import (
	"errors"
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		requestID string
		status    string
		outputs   []string
		errText   string
	}{
		{
			name:      "top level fields",
			body:      `{"request_id":"r1","status":"COMPLETED","outputs":["https://cdn/x.mp4"]}`,
			requestID: "r1",
			status:    "completed",
			outputs:   []string{"https://cdn/x.mp4"},
		},
		{
			name:      "nested under data",
			body:      `{"event":"render.done","data":{"request_id":"r2","status":"success","outputs":[{"url":"https://cdn/y.mp4"}]}}`,
			requestID: "r2",
			status:    "success",
			outputs:   []string{"https://cdn/y.mp4"},
		},
		{
			name:      "top level wins over data",
			body:      `{"request_id":"outer","status":"failed","data":{"request_id":"inner","status":"completed","error":{"message":"gpu lost"}}}`,
			requestID: "outer",
			status:    "failed",
			errText:   "gpu lost",
		},
		{
			name:      "mixed levels",
			body:      `{"requestId":"r3","data":{"status":"failed","error":"content policy"}}`,
			requestID: "r3",
			status:    "failed",
			errText:   "content policy",
		},
		{
			name:      "null top level falls through to data",
			body:      `{"request_id":"r4","outputs":null,"status":"completed","data":{"outputs":["https://cdn/z.mp4"]}}`,
			requestID: "r4",
			status:    "completed",
			outputs:   []string{"https://cdn/z.mp4"},
		},
		{
			name:      "empty outputs",
			body:      `{"request_id":"r5","status":"completed","outputs":[]}`,
			requestID: "r5",
			status:    "completed",
		},
		{
			name:      "single output string",
			body:      `{"request_id":"r6","status":"completed","output":"https://cdn/single.mp4"}`,
			requestID: "r6",
			status:    "completed",
			outputs:   []string{"https://cdn/single.mp4"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st, err := Normalize([]byte(tc.body))
			if err != nil {
				t.Fatalf("Normalize error: %v", err)
			}
			if st.RequestID != tc.requestID || st.Status != tc.status || st.Error != tc.errText {
				t.Fatalf("got %+v", st)
			}
			if !reflect.DeepEqual(st.Outputs, tc.outputs) {
				t.Fatalf("outputs = %#v, want %#v", st.Outputs, tc.outputs)
			}
		})
	}
}

func TestNormalizeRejectsMalformed(t *testing.T) {
	for _, body := range []string{"", "not json", "[1,2]", "null"} {
		if _, err := Normalize([]byte(body)); !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("Normalize(%q) error = %v, want ErrMalformedPayload", body, err)
		}
	}
}
