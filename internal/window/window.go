// Package window splits a long date span into provider-sized windows.
package window

import (
	"errors"
	"fmt"
	"iter"
	"time"

	"SeriesHarvester/internal/model"
)

// DefaultMaxSpanYears keeps each request under the SGS per-query record ceiling.
const DefaultMaxSpanYears = 9

// ErrInvalidRange is returned when the span or the window length is unusable.
var ErrInvalidRange = errors.New("window: invalid range")

// Chunks returns the ordered windows covering [start, end] exactly once.
// Each window spans at most maxSpanYears calendar years; windows are produced
// lazily, so a consumer may stop early.
func Chunks(start, end time.Time, maxSpanYears int) (iter.Seq[model.Window], error) {
	start, end = model.Truncate(start), model.Truncate(end)
	if start.After(end) {
		return nil, fmt.Errorf("%w: start %s after end %s", ErrInvalidRange,
			start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	if maxSpanYears <= 0 {
		return nil, fmt.Errorf("%w: max span years must be positive, got %d", ErrInvalidRange, maxSpanYears)
	}

	return func(yield func(model.Window) bool) {
		for cur := start; !cur.After(end); {
			next := addYears(cur, maxSpanYears, end)
			if next.After(end) {
				next = end
			}
			if !yield(model.Window{Start: cur, End: next}) {
				return
			}
			cur = next.AddDate(0, 0, 1)
		}
	}, nil
}

// Collect drains seq into a slice.
func Collect(seq iter.Seq[model.Window]) []model.Window {
	var out []model.Window
	for w := range seq {
		out = append(out, w)
	}
	return out
}

// addYears moves t forward by n calendar years. When the same month and day do
// not exist in the target year (Feb 29), the result is fallback.
func addYears(t time.Time, n int, fallback time.Time) time.Time {
	next := t.AddDate(n, 0, 0)
	if next.Month() != t.Month() || next.Day() != t.Day() {
		return fallback
	}
	return next
}
