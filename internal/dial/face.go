package dial

import (
	"fmt"
	"strings"
	"time"
)

// LabelStyle selects the weekday spelling in the centre readout.
type LabelStyle string

const (
	LabelShort  LabelStyle = "short"  // Sun Mon Tue ...
	LabelLetter LabelStyle = "letter" // U M T W R F S
)

var weekdayLabels = map[LabelStyle][7]string{
	LabelShort:  {"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"},
	LabelLetter: {"U", "M", "T", "W", "R", "F", "S"},
}

// ParseLabelStyle accepts the config spelling. Empty means LabelShort.
func ParseLabelStyle(s string) (LabelStyle, error) {
	switch LabelStyle(strings.ToLower(strings.TrimSpace(s))) {
	case "", LabelShort:
		return LabelShort, nil
	case LabelLetter:
		return LabelLetter, nil
	default:
		return "", fmt.Errorf("unknown clock label style %q", s)
	}
}

// Minor tick offsets from each hour tick.
var minorOffsets = [...]DialAngle{3.75, 7.5, 11.25}

// Tick is an hour marking.
type Tick struct {
	Angle DialAngle `json:"angle"`
	Label int       `json:"label"`
	// LabelRotation counter-rotates the label so it stays upright.
	LabelRotation float64 `json:"label_rotation"`
}

// Face is the event-independent part of the dial.
type Face struct {
	Major []Tick      `json:"major_ticks"`
	Minor []DialAngle `json:"minor_ticks"`
	Hand  DialAngle   `json:"hand_angle"`
	Time  string      `json:"time"`
	Day   string      `json:"day"`
}

// ClockFace generates the hour markings, the hand for now and the centre
// readout.
func ClockFace(now time.Time, style LabelStyle) Face {
	f := Face{
		Major: make([]Tick, 0, 24),
		Minor: make([]DialAngle, 0, 24*len(minorOffsets)),
		Hand:  RotationOf(now),
		Time:  fmt.Sprintf("%d:%02d", now.Hour(), now.Minute()),
	}
	for h := 0; h < 24; h++ {
		a := DialAngle(h) * DegreesPerHour
		f.Major = append(f.Major, Tick{Angle: a, Label: h, LabelRotation: -float64(a)})
		for _, off := range minorOffsets {
			f.Minor = append(f.Minor, a+off)
		}
	}

	labels, ok := weekdayLabels[style]
	if !ok {
		labels = weekdayLabels[LabelShort]
	}
	f.Day = fmt.Sprintf("%s %d", labels[now.Weekday()], now.Day())
	return f
}
