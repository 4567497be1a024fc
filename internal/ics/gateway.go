package ics

import (
	"context"
	"fmt"
	"time"

	"sectograph/internal/config"
	"sectograph/internal/dial"
	"sectograph/internal/model"
)

// Gateway serves calendar entities backed by an ICS URL.
type Gateway struct {
	fetcher  *Fetcher
	location *time.Location
	encoding dial.Encoding
}

// NewGateway builds a Gateway that reports events in loc, shaping all-day
// events for enc.
func NewGateway(fetcher *Fetcher, loc *time.Location, enc dial.Encoding) *Gateway {
	if loc == nil {
		loc = time.Local
	}
	return &Gateway{fetcher: fetcher, location: loc, encoding: enc}
}

// FetchEvents downloads, parses and expands the entity's feed into events
// overlapping [windowStart, windowEnd).
func (g *Gateway) FetchEvents(ctx context.Context, entity config.Entity, windowStart, windowEnd time.Time) ([]model.CalendarEvent, error) {
	src := Source{ID: entity.Key(), URL: entity.URL}

	res, err := g.fetcher.Fetch(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	parsed, err := Parse(src, res.Body)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	events, err := Expand(parsed, ExpandConfig{
		Location:   g.location,
		RangeStart: windowStart,
		RangeEnd:   windowEnd,
		Encoding:   g.encoding,
	})
	if err != nil {
		return nil, fmt.Errorf("expand: %w", err)
	}
	return events, nil
}
