package calculator

import (
	"errors"
	"math"
	"time"

	"SeriesHarvester/internal/model"
)

// Stats summarizes a dataset for run reports.
type Stats struct {
	Count     int
	Absent    int
	First     time.Time
	Last      time.Time
	Min       float64
	Max       float64
	LastValue float64
}

// Summarize scans sorted observations. Absent values are counted but do not
// contribute to Min, Max or LastValue.
func Summarize(obs []model.Observation) (Stats, error) {
	if len(obs) == 0 {
		return Stats{}, errors.New("no observations provided")
	}
	s := Stats{
		Count: len(obs),
		First: obs[0].Date,
		Last:  obs[len(obs)-1].Date,
		Min:   math.Inf(1),
		Max:   math.Inf(-1),
	}
	valued := false
	for _, o := range obs {
		if o.Absent() {
			s.Absent++
			continue
		}
		v := *o.Value
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
		s.LastValue = v
		valued = true
	}
	if !valued {
		s.Min, s.Max = math.NaN(), math.NaN()
		s.LastValue = math.NaN()
	}
	return s, nil
}
