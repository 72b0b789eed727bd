// Package pipeline runs one harvest: every catalog series is assembled and
// stored in turn, and a failure in one series never stops the others.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"SeriesHarvester/internal/calculator"
	"SeriesHarvester/internal/logger"
	"SeriesHarvester/internal/model"
	"SeriesHarvester/internal/recorder"
)

// Stages at which a series can fail.
const (
	StageAssemble = "assemble"
	StageStore    = "store"
)

// Assembler builds the dataset of one series code over a span.
type Assembler interface {
	Assemble(ctx context.Context, code string, span model.Span) (*model.Dataset, error)
}

// Notifier is told about every finished run.
type Notifier interface {
	NotifyRun(ctx context.Context, summary *RunSummary) error
}

// Series is one catalog entry: a logical name and the provider's code.
type Series struct {
	Name string
	Code string
}

// Catalog is the ordered list of series harvested by a run.
type Catalog []Series

// SeriesError is a failure contained to a single series.
type SeriesError struct {
	Name  string
	Code  string
	Stage string
	Err   error
}

func (e *SeriesError) Error() string {
	return fmt.Sprintf("series %s (%s): %s: %v", e.Name, e.Code, e.Stage, e.Err)
}

func (e *SeriesError) Unwrap() error { return e.Err }

// SeriesResult is the outcome of one series within a run.
type SeriesResult struct {
	Name   string
	Code   string
	Status string // recorder.StatusStored, StatusEmpty or StatusFailed
	Stats  model.AssemblyStats
	// Summary is only set for stored series.
	Summary calculator.Stats
	Err     *SeriesError
}

// RunSummary describes a completed run.
type RunSummary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Span       model.Span
	Results    []SeriesResult
}

func (s *RunSummary) count(status string) int {
	n := 0
	for _, r := range s.Results {
		if r.Status == status {
			n++
		}
	}
	return n
}

// Succeeded counts stored and empty series.
func (s *RunSummary) Succeeded() int { return len(s.Results) - s.Failed() }

// Failed counts series that were abandoned.
func (s *RunSummary) Failed() int { return s.count(recorder.StatusFailed) }

// Observations is the number of observations stored across all series.
func (s *RunSummary) Observations() int {
	n := 0
	for _, r := range s.Results {
		if r.Status == recorder.StatusStored {
			n += r.Summary.Count
		}
	}
	return n
}

// Duration is the wall time of the run.
func (s *RunSummary) Duration() time.Duration { return s.FinishedAt.Sub(s.StartedAt) }

// Record converts the summary into the form kept by recorders.
func (s *RunSummary) Record() *recorder.RunRecord {
	rec := &recorder.RunRecord{
		RunID:      s.RunID,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		SpanStart:  s.Span.Start,
		SpanEnd:    s.Span.End,
	}
	for _, r := range s.Results {
		out := recorder.SeriesOutcome{
			Name:          r.Name,
			Code:          r.Code,
			Status:        r.Status,
			Observations:  r.Summary.Count,
			FailedWindows: r.Stats.FailedWindows,
		}
		if r.Err != nil {
			out.Error = r.Err.Error()
		}
		rec.Series = append(rec.Series, out)
	}
	return rec
}

// Runner harvests a catalog into a recorder, strictly one series at a time.
type Runner struct {
	Assembler Assembler
	Recorder  recorder.Recorder
	Catalog   Catalog
	Notifier  Notifier // optional
	Now       func() time.Time
	NewID     func() string
	log       *logger.Entry
}

// NewRunner creates a Runner with the wall clock and random run ids.
func NewRunner(asm Assembler, rec recorder.Recorder, catalog Catalog) *Runner {
	return &Runner{
		Assembler: asm,
		Recorder:  rec,
		Catalog:   catalog,
		Now:       time.Now,
		NewID:     uuid.NewString,
		log:       logger.GetLogger().WithComponent("pipeline"),
	}
}

// WithLogger returns r logging to l.
func (r *Runner) WithLogger(l *logger.Entry) *Runner {
	r.log = l
	return r
}

// Run harvests every catalog series over span and always returns a summary.
// Failures are contained per series; the run record and the notification are
// best effort.
func (r *Runner) Run(ctx context.Context, span model.Span) *RunSummary {
	summary := &RunSummary{
		RunID:     r.NewID(),
		StartedAt: r.Now(),
		Span:      span,
	}
	log := r.log.WithField("run_id", summary.RunID)
	log.WithFields(logger.Fields{"span": span.String(), "series": len(r.Catalog)}).Info("run started")

	for _, s := range r.Catalog {
		res := r.runSeries(ctx, log, s, span)
		summary.Results = append(summary.Results, res)
	}
	summary.FinishedAt = r.Now()

	log.WithFields(logger.Fields{
		"succeeded":    summary.Succeeded(),
		"failed":       summary.Failed(),
		"observations": summary.Observations(),
		"duration":     summary.Duration().Round(time.Millisecond).String(),
	}).Info("run finished")

	// Report even if ctx was canceled midway.
	reportCtx := context.WithoutCancel(ctx)
	if err := r.Recorder.RecordRun(reportCtx, summary.Record()); err != nil {
		log.WithError(err).Error("record run")
	}
	if r.Notifier != nil {
		if err := r.Notifier.NotifyRun(reportCtx, summary); err != nil {
			log.WithError(err).Error("notify run")
		}
	}
	return summary
}

// runSeries assembles and stores one series. A panic in either stage is
// recovered into a SeriesError for that series.
func (r *Runner) runSeries(ctx context.Context, runLog *logger.Entry, s Series, span model.Span) (res SeriesResult) {
	res = SeriesResult{Name: s.Name, Code: s.Code}
	log := runLog.WithFields(logger.Fields{"series": s.Name, "code": s.Code})

	fail := func(stage string, err error) SeriesResult {
		res.Status = recorder.StatusFailed
		res.Err = &SeriesError{Name: s.Name, Code: s.Code, Stage: stage, Err: err}
		log.WithError(err).WithField("stage", stage).Error("series failed")
		return res
	}

	stage := StageAssemble
	defer func() {
		if p := recover(); p != nil {
			res = fail(stage, fmt.Errorf("panic: %v", p))
		}
	}()

	ds, err := r.Assembler.Assemble(ctx, s.Code, span)
	if err != nil {
		return fail(StageAssemble, err)
	}
	if ds == nil {
		ds = &model.Dataset{Code: s.Code}
	}
	res.Stats = ds.Stats

	stage = StageStore
	if err := r.Recorder.Store(ctx, s.Name, ds); err != nil {
		return fail(StageStore, err)
	}

	if ds.Empty() {
		res.Status = recorder.StatusEmpty
		log.WithField("failed_windows", ds.Stats.FailedWindows).Warn("series returned no observations")
		return res
	}

	res.Status = recorder.StatusStored
	res.Summary, _ = calculator.Summarize(ds.Observations)
	log.WithFields(logger.Fields{
		"observations":   ds.Len(),
		"absent":         ds.Stats.AbsentValues,
		"dropped":        ds.Stats.DroppedRecords,
		"failed_windows": ds.Stats.FailedWindows,
		"first":          res.Summary.First.Format(time.DateOnly),
		"last":           res.Summary.Last.Format(time.DateOnly),
	}).Info("series stored")
	return res
}
