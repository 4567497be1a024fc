package hass

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"sectograph/internal/config"
	"sectograph/internal/dial"
)

type fakeHA struct {
	token string
	fail  bool
	calls chan map[string]any
}

func newFakeHA(token string, fail bool) *fakeHA {
	return &fakeHA{token: token, fail: fail, calls: make(chan map[string]any, 1)}
}

func (f *fakeHA) handler(t *testing.T) http.Handler {
	upgrader := websocket.Upgrader{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/websocket" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		_ = conn.WriteJSON(map[string]any{"type": "auth_required", "ha_version": "2026.10.0"})

		var auth map[string]any
		if err := conn.ReadJSON(&auth); err != nil {
			return
		}
		if auth["access_token"] != f.token {
			_ = conn.WriteJSON(map[string]any{"type": "auth_invalid", "message": "Invalid access token"})
			return
		}
		_ = conn.WriteJSON(map[string]any{"type": "auth_ok"})

		var call map[string]any
		if err := conn.ReadJSON(&call); err != nil {
			return
		}
		f.calls <- call

		// Unrelated event first; the client must skip it.
		_ = conn.WriteJSON(map[string]any{"id": 99, "type": "event"})

		if f.fail {
			_ = conn.WriteJSON(map[string]any{
				"id": call["id"], "type": "result", "success": false,
				"error": map[string]any{"code": "not_found", "message": "Entity not found"},
			})
			return
		}

		result := json.RawMessage(`{"context":{},"response":{"calendar.family":{"events":[
			{"start":"2026-10-17T09:00:00+00:00","end":"2026-10-17T17:00:00+00:00","summary":"Work"},
			{"start":"2026-10-17","end":"2026-10-18","summary":"Holiday"},
			{"start":"2026-10-17T20:00:00","end":"","summary":"Open ended"},
			{"start":"garbage","end":"garbage","summary":"Broken"}
		]}}}`)
		_ = conn.WriteJSON(map[string]any{"id": call["id"], "type": "result", "success": true, "result": result})
	})
}

var (
	winStart = time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	winEnd   = winStart.AddDate(0, 0, 1)
)

func TestFetchEvents(t *testing.T) {
	t.Parallel()

	ha := newFakeHA("secret", false)
	srv := httptest.NewServer(ha.handler(t))
	defer srv.Close()

	g, err := NewGateway(srv.URL, "secret", time.UTC, dial.EncodingWallClock)
	require.NoError(t, err)

	events, err := g.FetchEvents(context.Background(), config.Entity{ID: "calendar.family"}, winStart, winEnd)
	require.NoError(t, err)
	require.Len(t, events, 3)

	require.Equal(t, "Work", events[0].Summary)
	requireSameInstant(t, time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC), events[0].Start)
	require.Equal(t, "calendar.family", events[0].SourceID)

	require.True(t, events[1].AllDay)
	requireSameInstant(t, time.Date(2026, 10, 18, 23, 59, 0, 0, time.UTC), events[1].End)
	require.True(t, dial.WallClockStrategy{}.DetectFullDay(events[1]))

	require.True(t, events[2].End.IsZero())

	req := <-ha.calls
	require.Equal(t, "call_service", req["type"])
	require.Equal(t, "get_events", req["service"])
	require.Equal(t, true, req["return_response"])
	require.Equal(t, map[string]any{"entity_id": "calendar.family"}, req["target"])
	require.Equal(t, map[string]any{
		"start_date_time": "2026-10-17",
		"end_date_time":   "2026-10-18",
	}, req["service_data"])
}

func TestFetchEventsAuthInvalid(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(newFakeHA("secret", false).handler(t))
	defer srv.Close()

	g, err := NewGateway(srv.URL, "wrong", time.UTC, dial.EncodingTimestamp)
	require.NoError(t, err)

	_, err = g.FetchEvents(context.Background(), config.Entity{ID: "calendar.family"}, winStart, winEnd)
	require.True(t, errors.Is(err, ErrAuthInvalid))
}

func TestFetchEventsServiceError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(newFakeHA("secret", true).handler(t))
	defer srv.Close()

	g, err := NewGateway(srv.URL, "secret", time.UTC, dial.EncodingTimestamp)
	require.NoError(t, err)

	_, err = g.FetchEvents(context.Background(), config.Entity{ID: "calendar.missing"}, winStart, winEnd)
	require.ErrorContains(t, err, "not_found")
}

func TestWebsocketURL(t *testing.T) {
	t.Parallel()

	got, err := websocketURL("https://ha.example.com/")
	require.NoError(t, err)
	require.Equal(t, "wss://ha.example.com/api/websocket", got)

	got, err = websocketURL("http://10.0.0.2:8123")
	require.NoError(t, err)
	require.Equal(t, "ws://10.0.0.2:8123/api/websocket", got)

	_, err = websocketURL("ftp://ha")
	require.Error(t, err)
}

func TestParseEventTime(t *testing.T) {
	t.Parallel()

	kst := time.FixedZone("KST", 9*3600)

	ts, dateOnly, err := parseEventTime("2026-10-17T09:00:00+00:00", kst)
	require.NoError(t, err)
	require.False(t, dateOnly)
	require.Equal(t, 18, ts.Hour())

	ts, dateOnly, err = parseEventTime("2026-10-17", kst)
	require.NoError(t, err)
	require.True(t, dateOnly)
	require.Equal(t, kst, ts.Location())

	_, _, err = parseEventTime("", kst)
	require.Error(t, err)
}

func requireSameInstant(t *testing.T, want, got time.Time) {
	t.Helper()
	require.True(t, want.Equal(got), "want %s, got %s", want, got)
}
