package storage

import "time"

// CreatedAtLayout is the textual format of RequestMessage.CreatedAt.
const CreatedAtLayout = "2006-01-02-15:04:05"

// RequestMessage is a recorded description of an HTTP request.
// Optional fields are sparse: a nil map is left out of the JSON entirely,
// while an empty but non-nil map is rendered as {}.
type RequestMessage struct {
	ID             string         `json:"id"`
	Method         string         `json:"method"`
	URIPath        string         `json:"uri_path"`
	RequestBody    map[string]any `json:"request_body,omitzero"`
	RequestHeaders map[string]any `json:"request_headers,omitzero"`
	CreatedAt      string         `json:"created_at"`
}

// FormatCreatedAt renders t the way CreatedAt is stored (second precision).
func FormatCreatedAt(t time.Time) string {
	return t.Format(CreatedAtLayout)
}

// Clone returns a deep copy so stored state can't be changed through the result.
func (m *RequestMessage) Clone() *RequestMessage {
	if m == nil {
		return nil
	}
	cpy := *m
	cpy.RequestBody = cloneMapping(m.RequestBody)
	cpy.RequestHeaders = cloneMapping(m.RequestHeaders)
	return &cpy
}

func cloneMapping(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMapping(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
