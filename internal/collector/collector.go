package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SeriesHarvester/internal/logger"
	"SeriesHarvester/internal/model"
	"SeriesHarvester/internal/transport"
	"SeriesHarvester/internal/window"
)

// Collector assembles a full series from window-sized provider requests.
type Collector struct {
	Fetcher      Fetcher
	Provider     Provider
	MaxSpanYears int
	log          *logger.Entry
}

// NewCollector creates a new Collector.
func NewCollector(fetcher Fetcher, provider Provider, maxSpanYears int) *Collector {
	if maxSpanYears <= 0 {
		maxSpanYears = window.DefaultMaxSpanYears
	}
	return &Collector{
		Fetcher:      fetcher,
		Provider:     provider,
		MaxSpanYears: maxSpanYears,
		log:          logger.GetLogger().WithComponent("collector"),
	}
}

// WithLogger returns c logging to l.
func (c *Collector) WithLogger(l *logger.Entry) *Collector {
	c.log = l
	return c
}

// Assemble fetches code over span window by window and returns the merged,
// normalized dataset. A window whose request exhausts its retries is skipped;
// any other fetch error aborts the series. Nothing fetched yields an empty
// dataset, not an error.
func (c *Collector) Assemble(ctx context.Context, code string, span model.Span) (*model.Dataset, error) {
	windows, err := window.Chunks(span.Start, span.End, c.MaxSpanYears)
	if err != nil {
		return nil, err
	}

	endpoint := c.Provider.Endpoint(code)
	ds := &model.Dataset{Code: code}
	var raw []model.RawRecord

	c.log.WithFields(logger.Fields{"code": code, "span": span.String()}).Info("fetching series")

	for w := range windows {
		ds.Stats.Windows++
		log := c.log.WithFields(logger.Fields{
			"code":   code,
			"window": w.String(),
		})

		started := time.Now()
		objs, err := c.Fetcher.Get(ctx, endpoint, c.Provider.Params(w))
		if err != nil {
			if errors.Is(err, transport.ErrExhausted) {
				ds.Stats.FailedWindows++
				log.WithError(err).Warn("window skipped")
				continue
			}
			return nil, fmt.Errorf("fetch window %s: %w", w, err)
		}

		for _, obj := range objs {
			raw = append(raw, c.Provider.Record(obj))
		}
		log.WithFields(logger.Fields{
			"records":  len(objs),
			"duration": time.Since(started).Round(time.Millisecond).String(),
		}).Info("window fetched")
	}

	ds.Stats.RawRecords = len(raw)
	ds.Observations, ds.Stats.DroppedRecords = Normalize(raw)
	for _, o := range ds.Observations {
		if o.Absent() {
			ds.Stats.AbsentValues++
		}
	}

	c.log.WithFields(logger.Fields{
		"code":           code,
		"observations":   ds.Len(),
		"dropped":        ds.Stats.DroppedRecords,
		"absent":         ds.Stats.AbsentValues,
		"failed_windows": ds.Stats.FailedWindows,
	}).Info("series assembled")
	return ds, nil
}
