package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	"sectograph/internal/dial"
	appLog "sectograph/internal/log"
	"sectograph/internal/model"
)

const defaultMaxOccurrences = 500

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// Location is the display timezone; nil means time.Local.
	Location *time.Location

	// Occurrences overlapping [RangeStart, RangeEnd) are returned.
	RangeStart time.Time
	RangeEnd   time.Time

	// Encoding shapes all-day occurrences for the dial's full-day strategy.
	Encoding dial.Encoding

	// MaxOccurrences caps a single recurring event. Zero means the default.
	MaxOccurrences int
}

// Expand turns parsed VEVENTs into concrete events overlapping the range,
// applying RRULE, EXDATE and RECURRENCE-ID overrides. The output keeps the
// order of base events as they appeared in the feed.
func Expand(events []ParsedEvent, cfg ExpandConfig) ([]model.CalendarEvent, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("ics: range end is before range start")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = defaultMaxOccurrences
	}

	overrides := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride() {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
		}
	}

	out := make([]model.CalendarEvent, 0)
	for _, ev := range events {
		if ev.IsOverride() {
			continue
		}
		if ev.RawRRule == "" {
			out = appendIfOverlaps(out, applyOverride(ev, ev.Start, overrides[ev.UID]), cfg)
			continue
		}
		out = expandRecurring(out, ev, overrides[ev.UID], cfg)
	}
	return out, nil
}

func expandRecurring(out []model.CalendarEvent, ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.CalendarEvent {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("ics rrule parse failed", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return out
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Occurrences that started before the range may still run into it.
	dur := duration(ev)
	from := cfg.RangeStart.Add(-dur).In(ev.Start.Location())
	to := cfg.RangeEnd.In(ev.Start.Location())

	starts := set.Between(from, to, true)
	if len(starts) > cfg.MaxOccurrences {
		appLog.Error("ics occurrences truncated", errors.New("max occurrences reached"),
			"uid", ev.UID, "cap", cfg.MaxOccurrences)
		starts = starts[:cfg.MaxOccurrences]
	}

	for _, s := range starts {
		occ := ev
		occ.Start = s
		occ.End = s.Add(dur)
		out = appendIfOverlaps(out, applyOverride(occ, s, overrides), cfg)
	}
	return out
}

// applyOverride swaps in the override whose RECURRENCE-ID equals start.
func applyOverride(ev ParsedEvent, start time.Time, overrides []ParsedEvent) ParsedEvent {
	for _, ov := range overrides {
		if ov.Recurrence.Equal(start) {
			return ov
		}
	}
	return ev
}

func duration(ev ParsedEvent) time.Duration {
	if ev.End.IsZero() || !ev.End.After(ev.Start) {
		if ev.AllDay {
			return 24 * time.Hour
		}
		return 0
	}
	return ev.End.Sub(ev.Start)
}

func appendIfOverlaps(out []model.CalendarEvent, ev ParsedEvent, cfg ExpandConfig) []model.CalendarEvent {
	// Overlap is decided on the actual bounds, not the encoded all-day end.
	actual := toCalendarEvent(ev, cfg.Location, dial.EncodingTimestamp)
	if !overlaps(actual.Start, actual.End, cfg.RangeStart, cfg.RangeEnd) {
		return out
	}
	if ev.AllDay && cfg.Encoding != dial.EncodingTimestamp {
		return append(out, toCalendarEvent(ev, cfg.Location, cfg.Encoding))
	}
	return append(out, actual)
}

// overlaps treats [start, end) as half-open; an instant event overlaps when
// it lies inside the range.
func overlaps(start, end, rangeStart, rangeEnd time.Time) bool {
	if !end.After(start) {
		return !start.Before(rangeStart) && start.Before(rangeEnd)
	}
	return start.Before(rangeEnd) && end.After(rangeStart)
}

func toCalendarEvent(ev ParsedEvent, loc *time.Location, enc dial.Encoding) model.CalendarEvent {
	ce := model.CalendarEvent{
		SourceID: ev.Source.ID,
		UID:      ev.UID,
		Summary:  ev.Summary,
		Location: ev.Location,
		AllDay:   ev.AllDay,
	}
	if ev.AllDay {
		// All-day values are floating dates; pin them to the display zone.
		sd := inDate(ev.Start, loc)
		ed := sd
		if !ev.End.IsZero() {
			ed = inDate(ev.End, loc)
		}
		ce.Start, ce.End = dial.AllDayBounds(sd, ed, enc)
		return ce
	}
	ce.Start = ev.Start.In(loc)
	if !ev.End.IsZero() {
		ce.End = ev.End.In(loc)
	}
	return ce
}

func inDate(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
