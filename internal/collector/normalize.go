package collector

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"SeriesHarvester/internal/model"
)

// ParseDate reads a day-first provider date (DD/MM/YYYY, leading zeros
// optional). Impossible calendar dates are rejected.
func ParseDate(s string) (time.Time, bool) {
	t, err := time.Parse("2/1/2006", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ParseValue reads a locale number such as "5,5" or "1.234,56". When a
// decimal comma is present, dots are thousands separators. Empty or
// non-numeric input yields nil.
func ParseValue(s string) *float64 {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return model.Float(d.InexactFloat64())
}

// Normalize parses records into observations sorted by date. Records with an
// unparseable date are dropped and counted; unparseable values are kept as
// absent. Equal dates keep their input order and are not deduplicated.
func Normalize(records []model.RawRecord) (obs []model.Observation, dropped int) {
	obs = make([]model.Observation, 0, len(records))
	for _, r := range records {
		date, ok := ParseDate(r.Date)
		if !ok {
			dropped++
			continue
		}
		obs = append(obs, model.Observation{Date: date, Value: ParseValue(r.Value)})
	}
	sort.SliceStable(obs, func(i, j int) bool { return obs[i].Date.Before(obs[j].Date) })
	return obs, dropped
}
