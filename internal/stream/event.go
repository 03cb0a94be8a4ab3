package stream

import (
	"bytes"
	"encoding/json"

	"fxstream/internal/provider"
)

// Event labels.
const (
	EventStatus = "status"
	EventRates  = "rates"
)

// Status stages.
const (
	StageConnected = "connected"
	StageAlive     = "alive"
	StageError     = "error"
)

// StatusEvent is the payload of a status event. Unused fields are omitted.
type StatusEvent struct {
	Stage                string `json:"stage"`
	Stale                *bool  `json:"stale,omitempty"`
	Key                  string `json:"key,omitempty"`
	ProviderFetchEveryMs int64  `json:"providerFetchEveryMs,omitempty"`
	ProviderLastFetchAt  int64  `json:"providerLastFetchAt,omitempty"`
	TS                   int64  `json:"ts,omitempty"`
	Message              string `json:"message,omitempty"`
}

// RatesEvent is the payload of a rates event: the snapshot plus the
// staleness flag and the cache key it belongs to.
type RatesEvent struct {
	provider.Snapshot
	Stale bool   `json:"stale"`
	Key   string `json:"key"`
}

// FormatSSE frames one event: "event: <label>\ndata: <payload>\n\n".
// payload must be a single line, which json.Marshal output always is.
func FormatSSE(event string, payload []byte) []byte {
	var b bytes.Buffer
	b.Grow(len(event) + len(payload) + 16)
	b.WriteString("event: ")
	b.WriteString(event)
	b.WriteString("\ndata: ")
	b.Write(payload)
	b.WriteString("\n\n")
	return b.Bytes()
}

func encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
