package model

import "time"

// CalendarEvent is a single concrete event as supplied by a calendar source,
// already expanded (no recurrence) and converted to the display timezone.
type CalendarEvent struct {
	SourceID string // entity the event was fetched from
	UID      string // source UID, may be empty for sources without one

	Summary  string
	Location string

	// AllDay is the source's own all-day flag. The dial does not trust it;
	// full-day detection is done by the configured classifier strategy.
	AllDay bool

	Start time.Time
	End   time.Time
}

// Normalized returns a copy with missing time fields filled in so that one
// malformed event never breaks the whole dial:
//   - missing end   -> 23:59:00 on the start date
//   - missing start -> 00:00:00 on the end date
//
// An event with neither keeps zero times; callers treat it as midnight.
func (e CalendarEvent) Normalized() CalendarEvent {
	switch {
	case e.Start.IsZero() && e.End.IsZero():
	case e.End.IsZero():
		s := e.Start
		e.End = time.Date(s.Year(), s.Month(), s.Day(), 23, 59, 0, 0, s.Location())
	case e.Start.IsZero():
		en := e.End
		e.Start = time.Date(en.Year(), en.Month(), en.Day(), 0, 0, 0, 0, en.Location())
	}
	return e
}

// DayWindow is the 24-hour [Today, Tomorrow) frame a dial represents.
type DayWindow struct {
	Today    time.Time `json:"today"`
	Tomorrow time.Time `json:"tomorrow"`
}

// NewDayWindow builds the window containing now, aligned to midnight in
// now's location.
func NewDayWindow(now time.Time) DayWindow {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return DayWindow{
		Today:    today,
		Tomorrow: today.AddDate(0, 0, 1),
	}
}

// Contains reports whether t falls inside [Today, Tomorrow).
func (w DayWindow) Contains(t time.Time) bool {
	return !t.Before(w.Today) && t.Before(w.Tomorrow)
}

// DateString formats t as YYYY-MM-DD, the form calendar services expect for
// window bounds.
func DateString(t time.Time) string {
	return t.Format(time.DateOnly)
}
