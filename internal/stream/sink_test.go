package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"fxstream/internal/provider"
)

func TestFormatSSE(t *testing.T) {
	t.Parallel()

	got := FormatSSE("status", []byte(`{"stage":"alive"}`))
	require.Equal(t, "event: status\ndata: {\"stage\":\"alive\"}\n\n", string(got))
}

func TestRatesEvent_JSONShape(t *testing.T) {
	t.Parallel()

	raw, err := encode(RatesEvent{
		Snapshot: provider.Snapshot{Base: "PLN", Rates: map[string]float64{"EUR": 0.23}, Date: "2026-02-23", TS: 1000, Source: "frankfurter"},
		Stale:    true,
		Key:      "PLN__EUR",
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"base":"PLN","rates":{"EUR":0.23},"date":"2026-02-23","ts":1000,"source":"frankfurter","stale":true,"key":"PLN__EUR"}`, string(raw))
	require.NotContains(t, string(raw), "\n")
}

func TestStatusEvent_OmitsUnsetFields(t *testing.T) {
	t.Parallel()

	raw, err := encode(StatusEvent{Stage: StageError, Message: "Frankfurter HTTP 503", Key: "PLN__EUR"})
	require.NoError(t, err)
	require.JSONEq(t, `{"stage":"error","message":"Frankfurter HTTP 503","key":"PLN__EUR"}`, string(raw))

	stale := false
	raw, err = encode(StatusEvent{Stage: StageConnected, Stale: &stale})
	require.NoError(t, err)
	require.JSONEq(t, `{"stage":"connected","stale":false}`, string(raw))
}

func TestSSESink(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	sink, err := NewSSESink(rec, time.Second)
	require.NoError(t, err)

	require.NoError(t, sink.WriteEvent(EventStatus, []byte(`{"stage":"connected"}`)))
	require.NoError(t, sink.WriteEvent(EventRates, []byte(`{"ts":1}`)))

	require.True(t, rec.Flushed)
	require.Equal(t, "event: status\ndata: {\"stage\":\"connected\"}\n\nevent: rates\ndata: {\"ts\":1}\n\n", rec.Body.String())
}

func TestWebSocketSink(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		sink := NewWebSocketSink(conn, time.Second)
		_ = sink.WriteEvent(EventRates, []byte(`{"key":"PLN__EUR","ts":5}`))
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg, &got))
	require.Equal(t, EventRates, got.Event)
	require.JSONEq(t, `{"key":"PLN__EUR","ts":5}`, string(got.Data))
}
