package model

import (
	"fmt"
	"time"
)

// Span is an inclusive range of calendar dates.
type Span struct {
	Start time.Time
	End   time.Time
}

// Window is a sub-range of a larger Span, as produced by the window chunker.
type Window = Span

// NewSpan truncates both ends to calendar dates and checks start <= end.
func NewSpan(start, end time.Time) (Span, error) {
	s := Span{Start: Truncate(start), End: Truncate(end)}
	if s.Start.After(s.End) {
		return Span{}, fmt.Errorf("span start %s is after end %s", s.Start.Format(time.DateOnly), s.End.Format(time.DateOnly))
	}
	return s, nil
}

// Days returns the number of calendar days covered by the span.
func (s Span) Days() int {
	return int(s.End.Sub(s.Start).Hours()/24) + 1
}

func (s Span) String() string {
	return s.Start.Format(time.DateOnly) + " → " + s.End.Format(time.DateOnly)
}

// Date builds a calendar date at UTC midnight.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Truncate drops the clock part of t, keeping its calendar date in t's location.
func Truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	return Date(y, m, d)
}
