package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestID(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{name: "reuses request id", headers: map[string]string{"X-Request-ID": "abc-123"}, want: "abc-123"},
		{name: "falls back to correlation id", headers: map[string]string{"X-Correlation-ID": "corr:9"}, want: "corr:9"},
		{name: "skips unsafe request id", headers: map[string]string{"X-Request-ID": "bad id\n", "X-Correlation-ID": "corr.1"}, want: "corr.1"},
		{name: "mints when oversized", headers: map[string]string{"X-Request-ID": strings.Repeat("a", maxRequestIDLen+1)}},
		{name: "mints when absent"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if seen == "" || rec.Header().Get("X-Request-ID") != seen {
				t.Fatalf("context id %q, header %q", seen, rec.Header().Get("X-Request-ID"))
			}
			if tc.want != "" && seen != tc.want {
				t.Fatalf("request id = %q, want %q", seen, tc.want)
			}
			if tc.want == "" && len(seen) != 36 {
				t.Fatalf("expected minted uuid, got %q", seen)
			}
		})
	}
}
