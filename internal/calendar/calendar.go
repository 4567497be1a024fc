// Package calendar fans event fetches out across the configured entities and
// merges the results for one day window.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"sectograph/internal/config"
	appLog "sectograph/internal/log"
	"sectograph/internal/model"
)

// Gateway fetches the events of one entity that overlap the window.
type Gateway interface {
	FetchEvents(ctx context.Context, entity config.Entity, windowStart, windowEnd time.Time) ([]model.CalendarEvent, error)
}

// ErrNoGateway is returned by Router when an entity has no backing source.
var ErrNoGateway = errors.New("no gateway for entity")

// SourceFetchError wraps a failed fetch for one entity.
type SourceFetchError struct {
	Entity string
	Err    error
}

func (e *SourceFetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Entity, e.Err)
}

func (e *SourceFetchError) Unwrap() error { return e.Err }

// Router sends ICS entities to ICS and everything else to HomeAssistant.
// Either may be nil when no entity needs it.
type Router struct {
	ICS           Gateway
	HomeAssistant Gateway
}

// FetchEvents implements Gateway.
func (r *Router) FetchEvents(ctx context.Context, entity config.Entity, windowStart, windowEnd time.Time) ([]model.CalendarEvent, error) {
	gw := r.HomeAssistant
	if entity.IsICS() {
		gw = r.ICS
	}
	if gw == nil {
		return nil, ErrNoGateway
	}
	return gw.FetchEvents(ctx, entity, windowStart, windowEnd)
}

// Collect fetches every entity concurrently and concatenates the events in
// entity order. A failing entity is logged and contributes nothing, so the
// result is never an error; an empty slice means no source answered.
func Collect(ctx context.Context, gw Gateway, entities []config.Entity, win model.DayWindow) []model.CalendarEvent {
	slots := make([][]model.CalendarEvent, len(entities))

	g, gctx := errgroup.WithContext(ctx)
	for i, entity := range entities {
		g.Go(func() error {
			events, err := gw.FetchEvents(gctx, entity, win.Today, win.Tomorrow)
			if err != nil {
				fe := &SourceFetchError{Entity: entity.Key(), Err: err}
				appLog.Error("calendar source failed", fe, "entity", entity.Key())
				return nil
			}
			appLog.Debug("calendar source fetched", "entity", entity.Key(), "events", len(events))
			slots[i] = events
			return nil
		})
	}
	// Workers never return errors; Wait only joins them.
	_ = g.Wait()

	out := make([]model.CalendarEvent, 0)
	for _, s := range slots {
		out = append(out, s...)
	}
	return out
}
