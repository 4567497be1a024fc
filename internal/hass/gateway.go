// Package hass reads calendar entities through the Home Assistant websocket
// API using the calendar.get_events service.
package hass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"sectograph/internal/config"
	"sectograph/internal/dial"
	appLog "sectograph/internal/log"
	"sectograph/internal/model"
)

// ErrAuthInvalid is returned when Home Assistant rejects the access token.
var ErrAuthInvalid = errors.New("hass: authentication rejected")

const defaultTimeout = 15 * time.Second

// Gateway serves calendar entities that are not ICS URLs.
type Gateway struct {
	endpoint string
	token    string
	dialer   *websocket.Dialer
	location *time.Location
	encoding dial.Encoding
	timeout  time.Duration
}

// NewGateway builds a Gateway for the Home Assistant instance at baseURL
// (http, https, ws or wss).
func NewGateway(baseURL, token string, loc *time.Location, enc dial.Encoding) (*Gateway, error) {
	endpoint, err := websocketURL(baseURL)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	return &Gateway{
		endpoint: endpoint,
		token:    token,
		dialer:   websocket.DefaultDialer,
		location: loc,
		encoding: enc,
		timeout:  defaultTimeout,
	}, nil
}

func websocketURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("hass: bad url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("hass: unsupported url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/websocket"
	return u.String(), nil
}

type message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Message string          `json:"message,omitempty"`
	Success bool            `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type authRequest struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
}

type serviceCall struct {
	ID             int               `json:"id"`
	Type           string            `json:"type"`
	Domain         string            `json:"domain"`
	Service        string            `json:"service"`
	Target         map[string]string `json:"target"`
	ServiceData    map[string]string `json:"service_data"`
	ReturnResponse bool              `json:"return_response"`
}

type serviceResult struct {
	Response map[string]struct {
		Events []rawEvent `json:"events"`
	} `json:"response"`
}

type rawEvent struct {
	Summary  string `json:"summary"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Location string `json:"location"`
	UID      string `json:"uid"`
}

// FetchEvents opens a websocket session, authenticates and calls
// calendar.get_events for one entity. Window bounds are sent as dates.
func (g *Gateway) FetchEvents(ctx context.Context, entity config.Entity, windowStart, windowEnd time.Time) ([]model.CalendarEvent, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	conn, _, err := g.dialer.DialContext(ctx, g.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("hass: dial: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	if err := g.authenticate(conn); err != nil {
		return nil, err
	}

	call := serviceCall{
		ID:      1,
		Type:    "call_service",
		Domain:  "calendar",
		Service: "get_events",
		Target:  map[string]string{"entity_id": entity.ID},
		ServiceData: map[string]string{
			"start_date_time": model.DateString(windowStart),
			"end_date_time":   model.DateString(windowEnd),
		},
		ReturnResponse: true,
	}
	if err := conn.WriteJSON(call); err != nil {
		return nil, fmt.Errorf("hass: send call: %w", err)
	}

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return nil, fmt.Errorf("hass: read result: %w", err)
		}
		if msg.Type != "result" || msg.ID != call.ID {
			continue
		}
		if !msg.Success {
			reason := "unknown error"
			if msg.Error != nil {
				reason = msg.Error.Code + ": " + msg.Error.Message
			}
			return nil, fmt.Errorf("hass: get_events %s: %s", entity.ID, reason)
		}
		return g.decodeResult(entity, msg.Result)
	}
}

func (g *Gateway) authenticate(conn *websocket.Conn) error {
	var hello message
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("hass: read hello: %w", err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("hass: unexpected hello %q", hello.Type)
	}
	if err := conn.WriteJSON(authRequest{Type: "auth", AccessToken: g.token}); err != nil {
		return fmt.Errorf("hass: send auth: %w", err)
	}

	var reply message
	if err := conn.ReadJSON(&reply); err != nil {
		return fmt.Errorf("hass: read auth reply: %w", err)
	}
	switch reply.Type {
	case "auth_ok":
		return nil
	case "auth_invalid":
		return fmt.Errorf("%w: %s", ErrAuthInvalid, reply.Message)
	default:
		return fmt.Errorf("hass: unexpected auth reply %q", reply.Type)
	}
}

func (g *Gateway) decodeResult(entity config.Entity, raw json.RawMessage) ([]model.CalendarEvent, error) {
	var res serviceResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("hass: decode result: %w", err)
	}

	out := make([]model.CalendarEvent, 0)
	// The response is keyed by entity; a single target yields one key.
	for _, v := range res.Response {
		for _, re := range v.Events {
			ev, ok := g.convert(entity, re)
			if !ok {
				appLog.Error("hass event skipped", errors.New("unparsable start and end"),
					"entity", entity.ID, "summary", re.Summary)
				continue
			}
			out = append(out, ev)
		}
	}
	return out, nil
}

// convert maps one service event onto a CalendarEvent. Date-only values mark
// an all-day event; a value that cannot be parsed is left zero and filled in
// later by normalization.
func (g *Gateway) convert(entity config.Entity, re rawEvent) (model.CalendarEvent, bool) {
	ev := model.CalendarEvent{
		SourceID: entity.Key(),
		UID:      re.UID,
		Summary:  re.Summary,
		Location: re.Location,
	}

	start, startDate, startErr := parseEventTime(re.Start, g.location)
	end, endDate, endErr := parseEventTime(re.End, g.location)
	if startErr != nil && endErr != nil {
		return ev, false
	}

	if startDate && (endDate || endErr != nil) {
		if endErr != nil {
			end = start
		}
		ev.AllDay = true
		ev.Start, ev.End = dial.AllDayBounds(start, end, g.encoding)
		return ev, true
	}

	if startErr == nil {
		ev.Start = start
	}
	if endErr == nil {
		ev.End = end
		if endDate {
			// Date-only end on a timed event: the day is exclusive.
			ev.End = end.Add(-time.Minute)
		}
	}
	return ev, true
}

// parseEventTime accepts RFC 3339, a local date-time without offset, or a
// bare date. The bool result reports a bare date.
func parseEventTime(s string, loc *time.Location) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, errors.New("empty time")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), false, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, loc); err == nil {
		return t, false, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, loc)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}
