package dial

import (
	"time"

	"sectograph/internal/model"
)

// LabelSide is the side of the arc's radius the summary is written on.
type LabelSide string

const (
	LabelLeft  LabelSide = "left"
	LabelRight LabelSide = "right"
)

// DescriptorKind separates arcs from full-day badges.
type DescriptorKind string

const (
	DescriptorArc     DescriptorKind = "arc"
	DescriptorFullDay DescriptorKind = "full_day"
)

// ContinuationMarker flags an arc cut off at the end of the dial window.
type ContinuationMarker struct {
	// Rotation is relative to the arc's own anchor: 360 - StartAngle.
	Rotation DialAngle `json:"rotation"`
	Active   bool      `json:"active"`
	Past     bool      `json:"past"`
}

// ArcDescriptor is everything a renderer needs to draw one event. Full-day
// badges only carry Index, Summary, Kind, State and Style.
type ArcDescriptor struct {
	Index   int            `json:"index"`
	Summary string         `json:"summary"`
	Kind    DescriptorKind `json:"kind"`
	State   EventState     `json:"state"`

	StartAngle   DialAngle           `json:"start_angle"`
	EndAngle     DialAngle           `json:"end_angle"`
	Anchor       DialAngle           `json:"anchor"`
	SpanPercent  float64             `json:"span_percent"`
	Continuation *ContinuationMarker `json:"continuation,omitempty"`
	LabelSide    LabelSide           `json:"label_side,omitempty"`
	BaseColor    string              `json:"base_color,omitempty"`
	Style        Style               `json:"style"`
}

// IsArc reports whether d should be drawn on the dial.
func (d ArcDescriptor) IsArc() bool { return d.Kind == DescriptorArc }

// Options parameterize Layout.
type Options struct {
	HideFullDayEvents bool
	// Strategy selects the all-day encoding; nil means timestamps.
	Strategy Strategy
	// Palette overrides DefaultPalette when non-nil.
	Palette *Palette
}

// Layout converts events, in source order, into descriptors. The result is
// never nil and depends only on its arguments.
func Layout(events []model.CalendarEvent, now time.Time, win model.DayWindow, opts Options) []ArcDescriptor {
	strategy := opts.Strategy
	if strategy == nil {
		strategy = TimestampStrategy{}
	}
	palette := DefaultPalette
	if opts.Palette != nil {
		palette = *opts.Palette
	}
	loc := now.Location()

	out := make([]ArcDescriptor, 0, len(events))
	for i, raw := range events {
		ev := raw.Normalized()
		ev.Start = ev.Start.In(loc)
		ev.End = ev.End.In(loc)

		st := Classify(ev, now, win, strategy)
		if st.FullDay {
			if opts.HideFullDayEvents {
				continue
			}
			out = append(out, ArcDescriptor{
				Index:   i,
				Summary: ev.Summary,
				Kind:    DescriptorFullDay,
				State:   st,
				Style:   palette.StyleFor(i, st),
			})
			continue
		}
		out = append(out, layoutArc(i, ev, st, palette))
	}
	return out
}

func layoutArc(i int, ev model.CalendarEvent, st EventState, palette Palette) ArcDescriptor {
	start := RotationOf(ev.Start)
	end := RotationOf(ev.End)
	continues := st.ContinuesToFutureDay

	d := ArcDescriptor{
		Index:       i,
		Summary:     ev.Summary,
		Kind:        DescriptorArc,
		State:       st,
		StartAngle:  start,
		EndAngle:    end,
		Anchor:      StartRotation(start, end, continues),
		SpanPercent: DurationPercent(start, end, continues),
		LabelSide:   LabelLeft,
		BaseColor:   palette.BaseColor(i),
		Style:       palette.StyleFor(i, st),
	}
	if start < 180 {
		d.LabelSide = LabelRight
	}
	if continues {
		d.Continuation = &ContinuationMarker{
			Rotation: 360 - start,
			Active:   st.InProgress,
			Past:     st.Past,
		}
	}
	return d
}
