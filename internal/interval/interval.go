package interval

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidRange = errors.New("range end must be after start")

// Range is a half-open time interval [Start, End).
type Range struct {
	Start time.Time
	End   time.Time
}

func NewRange(start, end time.Time) (Range, error) {
	if !end.After(start) {
		return Range{}, ErrInvalidRange
	}
	return Range{Start: start, End: end}, nil
}

// Overlaps reports whether the two half-open ranges share any instant.
// Touching boundaries (a.End == b.Start) do not overlap.
func (r Range) Overlaps(o Range) bool {
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}

func (r Range) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Contains reports whether o lies fully within r.
func (r Range) Contains(o Range) bool {
	return !o.Start.Before(r.Start) && !o.End.After(r.End)
}

// Shift returns the range moved by d, keeping its duration.
func (r Range) Shift(d time.Duration) Range {
	return Range{Start: r.Start.Add(d), End: r.End.Add(d)}
}

// Pad widens the range by the given buffers on each side.
func (r Range) Pad(before, after time.Duration) Range {
	return Range{Start: r.Start.Add(-before), End: r.End.Add(after)}
}

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
}
