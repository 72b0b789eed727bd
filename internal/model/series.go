package model

import "time"

// RawRecord is one entry as returned by the provider, before any parsing.
type RawRecord struct {
	Date  string
	Value string
}

// Observation is a normalized dated value. A nil Value means the provider
// reported the date without a usable number.
type Observation struct {
	Date  time.Time
	Value *float64
}

// Absent reports whether the observation carries no numeric value.
func (o Observation) Absent() bool { return o.Value == nil }

// AssemblyStats describes how a Dataset was put together.
type AssemblyStats struct {
	Windows        int
	FailedWindows  int
	RawRecords     int
	DroppedRecords int
	AbsentValues   int
}

// Dataset holds the ordered observations of one series.
type Dataset struct {
	Code         string
	Observations []Observation
	Stats        AssemblyStats
}

// Len returns the number of observations.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Observations)
}

// Empty reports whether there is nothing worth persisting.
func (d *Dataset) Empty() bool { return d.Len() == 0 }

// Float returns a pointer to v, for building observations.
func Float(v float64) *float64 { return &v }
