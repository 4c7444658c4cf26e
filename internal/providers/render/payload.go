package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"vidgen/internal/domain"
)

// ErrMalformedPayload is returned when a provider payload is not a JSON object.
var ErrMalformedPayload = errors.New("render: malformed payload")

var (
	requestIDKeys = []string{"request_id", "requestId"}
	statusKeys    = []string{"status", "state"}
	outputKeys    = []string{"outputs", "output"}
	errorKeys     = []string{"error", "error_message"}
)

// Normalize turns a provider status payload into a RenderStatus. Each field is
// looked up at the top level first and under "data" second.
func Normalize(raw []byte) (domain.RenderStatus, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil || top == nil {
		return domain.RenderStatus{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	var data map[string]json.RawMessage
	if nested, ok := top["data"]; ok && isObject(nested) {
		if err := json.Unmarshal(nested, &data); err != nil {
			return domain.RenderStatus{}, fmt.Errorf("%w: data: %v", ErrMalformedPayload, err)
		}
	}
	layers := []map[string]json.RawMessage{top, data}

	st := domain.RenderStatus{
		RequestID: lookupString(layers, requestIDKeys),
		Status:    strings.ToLower(lookupString(layers, statusKeys)),
		Outputs:   lookupOutputs(layers),
		Error:     lookupError(layers),
	}
	return st, nil
}

func lookup(layers []map[string]json.RawMessage, keys []string) (json.RawMessage, bool) {
	for _, layer := range layers {
		for _, key := range keys {
			if v, ok := layer[key]; ok && !isNull(v) {
				return v, true
			}
		}
	}
	return nil, false
}

func lookupString(layers []map[string]json.RawMessage, keys []string) string {
	for _, layer := range layers {
		for _, key := range keys {
			v, ok := layer[key]
			if !ok {
				continue
			}
			if s := asString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func lookupOutputs(layers []map[string]json.RawMessage) []string {
	raw, ok := lookup(layers, outputKeys)
	if !ok {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		// a single output may be sent as a bare value
		items = []json.RawMessage{raw}
	}
	var out []string
	for _, item := range items {
		if u := outputURL(item); u != "" {
			out = append(out, u)
		}
	}
	return out
}

func outputURL(item json.RawMessage) string {
	if s := asString(item); s != "" {
		return s
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(item, &obj); err != nil {
		return ""
	}
	for _, key := range []string{"url", "uri", "video_url"} {
		if s := asString(obj[key]); s != "" {
			return s
		}
	}
	return ""
}

func lookupError(layers []map[string]json.RawMessage) string {
	raw, ok := lookup(layers, errorKeys)
	if !ok {
		return ""
	}
	if s := asString(raw); s != "" {
		return s
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	for _, key := range []string{"message", "detail", "code"} {
		if s := asString(obj[key]); s != "" {
			return s
		}
	}
	return ""
}

func asString(v json.RawMessage) string {
	if len(v) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func isObject(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) > 0 && v[0] == '{'
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
