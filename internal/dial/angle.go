// Package dial turns calendar events into geometry for a 24-hour radial
// clock: arc rotations and spans, event state, and the clock face itself.
// Everything in this package is pure; callers supply "now".
package dial

import "time"

// DegreesPerHour is the dial's angular resolution: 360 / 24.
const DegreesPerHour = 360.0 / 24

// DialAngle is a position on the dial in degrees, 0 = 00:00.
type DialAngle float64

// RotationForTime maps a time of day onto the dial.
func RotationForTime(hours, minutes int) DialAngle {
	return DialAngle(DegreesPerHour*float64(hours) + DegreesPerHour*(float64(minutes)/60))
}

// RotationOf maps the wall-clock hour and minute of t onto the dial.
func RotationOf(t time.Time) DialAngle {
	return RotationForTime(t.Hour(), t.Minute())
}

// DurationPercent returns the share of the full circle, 0..100, that an arc
// from start to end covers when drawn as a conic gradient beginning at
// StartRotation.
func DurationPercent(start, end DialAngle, continuesToFutureDay bool) float64 {
	// Ending at midnight closes the circle.
	if end == 0 {
		end = 360
	}
	if continuesToFutureDay {
		if start > end {
			end += 360
		}
		if end > 360 {
			end = 360
		}
	} else {
		if start > end {
			start -= 360
		}
		if start < 0 {
			start = 0
		}
	}
	return float64(end-start) / 360 * 100
}

// StartRotation is where the arc's gradient is anchored. A same-day arc whose
// start lies after its end already began before the window, so it is
// anchored at the top of the dial.
func StartRotation(start, end DialAngle, continuesToFutureDay bool) DialAngle {
	if continuesToFutureDay {
		return start
	}
	if start > end {
		return 0
	}
	return start
}
