package dial

import (
	"fmt"
	"strings"
	"time"

	"sectograph/internal/model"
)

// Encoding names how a calendar source represents all-day events.
type Encoding string

const (
	// EncodingTimestamp: all-day events are literal timestamps spanning
	// at least 24 hours.
	EncodingTimestamp Encoding = "timestamp"
	// EncodingWallClock: all-day events run from 00:00:00 on one date to
	// 23:59:00 on a later date.
	EncodingWallClock Encoding = "wallclock"
)

// ParseEncoding accepts the config spelling of an Encoding. Empty means
// EncodingTimestamp.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(strings.ToLower(strings.TrimSpace(s))) {
	case "", EncodingTimestamp:
		return EncodingTimestamp, nil
	case EncodingWallClock:
		return EncodingWallClock, nil
	default:
		return "", fmt.Errorf("unknown full-day encoding %q", s)
	}
}

// Strategy is the capability that differs between all-day encodings.
type Strategy interface {
	Encoding() Encoding
	DetectFullDay(ev model.CalendarEvent) bool
	IsPast(ev model.CalendarEvent, now time.Time, win model.DayWindow) bool
}

// StrategyFor returns the Strategy for enc; unknown values fall back to the
// timestamp strategy.
func StrategyFor(enc Encoding) Strategy {
	if enc == EncodingWallClock {
		return WallClockStrategy{}
	}
	return TimestampStrategy{}
}

// EndsOnFutureDate reports whether ev ends on or after the window's tomorrow.
func EndsOnFutureDate(ev model.CalendarEvent, win model.DayWindow) bool {
	return !ev.End.Before(win.Tomorrow)
}

// TimestampStrategy compares absolute instants.
type TimestampStrategy struct{}

func (TimestampStrategy) Encoding() Encoding { return EncodingTimestamp }

func (TimestampStrategy) DetectFullDay(ev model.CalendarEvent) bool {
	return ev.End.Sub(ev.Start) >= 24*time.Hour
}

func (TimestampStrategy) IsPast(ev model.CalendarEvent, now time.Time, _ model.DayWindow) bool {
	return ev.End.Before(now)
}

// WallClockStrategy compares calendar dates and times of day separately.
// Times of day are compared as seconds since midnight.
type WallClockStrategy struct{}

func (WallClockStrategy) Encoding() Encoding { return EncodingWallClock }

func (WallClockStrategy) DetectFullDay(ev model.CalendarEvent) bool {
	return dateBefore(ev.Start, ev.End) &&
		secondsOfDay(ev.Start) == 0 &&
		secondsOfDay(ev.End) == 23*3600+59*60
}

func (WallClockStrategy) IsPast(ev model.CalendarEvent, now time.Time, win model.DayWindow) bool {
	return sameDate(win.Today, ev.End) && secondsOfDay(now) > secondsOfDay(ev.End)
}

// IsInProgress is the same for both encodings: start < now < end, with the
// end bound lifted for events running into a later day.
func IsInProgress(ev model.CalendarEvent, now time.Time, win model.DayWindow) bool {
	return ev.Start.Before(now) && (now.Before(ev.End) || EndsOnFutureDate(ev, win))
}

func secondsOfDay(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func dateBefore(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	if ay != by {
		return ay < by
	}
	if am != bm {
		return am < bm
	}
	return ad < bd
}

// Kind is the single visual classification of an event.
type Kind string

const (
	KindFullDay    Kind = "full_day"
	KindInProgress Kind = "in_progress"
	KindPast       Kind = "past"
	KindUpcoming   Kind = "upcoming"
)

// EventState is derived per render from (event, now, window) and never
// cached.
type EventState struct {
	FullDay              bool `json:"full_day"`
	InProgress           bool `json:"in_progress"`
	Past                 bool `json:"past"`
	ContinuesToFutureDay bool `json:"continues_to_future_day"`
}

// Kind collapses the flags using the rendering precedence: full-day first,
// then past over in-progress.
func (s EventState) Kind() Kind {
	switch {
	case s.FullDay:
		return KindFullDay
	case s.Past:
		return KindPast
	case s.InProgress:
		return KindInProgress
	default:
		return KindUpcoming
	}
}

// Classify computes the state of ev at now. Missing times are normalized
// first.
func Classify(ev model.CalendarEvent, now time.Time, win model.DayWindow, s Strategy) EventState {
	if s == nil {
		s = TimestampStrategy{}
	}
	ev = ev.Normalized()

	var st EventState
	st.FullDay = s.DetectFullDay(ev)
	st.ContinuesToFutureDay = EndsOnFutureDate(ev, win)
	st.Past = s.IsPast(ev, now, win)
	st.InProgress = !st.FullDay && IsInProgress(ev, now, win)
	return st
}

// Style is the fill of an arc.
type Style struct {
	Color   string  `json:"color"`
	Opacity float64 `json:"opacity"`
}

// Palette holds the colors used for arcs.
type Palette struct {
	Even, Odd  string
	InProgress string
	Past       string

	BaseOpacity       float64
	InProgressOpacity float64
	PastOpacity       float64
}

// DefaultPalette matches the dial's stylesheet.
var DefaultPalette = Palette{
	Even:              "#0b4f70",
	Odd:               "#16597a",
	InProgress:        "#58afe4",
	Past:              "#888",
	BaseOpacity:       0.8,
	InProgressOpacity: 0.95,
	PastOpacity:       0.5,
}

// BaseColor alternates by index parity so adjacent arcs stay distinguishable.
func (p Palette) BaseColor(index int) string {
	if index%2 == 0 {
		return p.Even
	}
	return p.Odd
}

// StyleFor applies base color, then in-progress, then past.
func (p Palette) StyleFor(index int, st EventState) Style {
	s := Style{Color: p.BaseColor(index), Opacity: p.BaseOpacity}
	if st.InProgress {
		s = Style{Color: p.InProgress, Opacity: p.InProgressOpacity}
	}
	if st.Past {
		s = Style{Color: p.Past, Opacity: p.PastOpacity}
	}
	return s
}

// AllDayBounds converts the date-only bounds of an all-day event (end date
// exclusive, as calendar services send them) into the instants the strategy
// for enc recognizes as full-day.
func AllDayBounds(startDate, endDate time.Time, enc Encoding) (time.Time, time.Time) {
	start := time.Date(startDate.Year(), startDate.Month(), startDate.Day(), 0, 0, 0, 0, startDate.Location())
	end := time.Date(endDate.Year(), endDate.Month(), endDate.Day(), 0, 0, 0, 0, endDate.Location())
	if !end.After(start) {
		end = start.AddDate(0, 0, 1)
	}
	if enc == EncodingWallClock {
		end = time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 0, 0, end.Location())
	}
	return start, end
}
