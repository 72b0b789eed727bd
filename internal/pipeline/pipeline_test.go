package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SeriesHarvester/internal/logger"
	"SeriesHarvester/internal/model"
	"SeriesHarvester/internal/recorder"
	"SeriesHarvester/internal/transport"
)

type fakeAssembler struct {
	datasets map[string]*model.Dataset
	errs     map[string]error
	calls    []string
}

func (f *fakeAssembler) Assemble(_ context.Context, code string, _ model.Span) (*model.Dataset, error) {
	f.calls = append(f.calls, code)
	if err := f.errs[code]; err != nil {
		return nil, err
	}
	if ds, ok := f.datasets[code]; ok {
		return ds, nil
	}
	return &model.Dataset{Code: code}, nil
}

type memRecorder struct {
	stored   map[string]*model.Dataset
	storeErr map[string]error
	runs     []*recorder.RunRecord
	runErr   error
}

func newMemRecorder() *memRecorder {
	return &memRecorder{stored: map[string]*model.Dataset{}, storeErr: map[string]error{}}
}

func (m *memRecorder) Store(_ context.Context, name string, ds *model.Dataset) error {
	if err := m.storeErr[name]; err != nil {
		return err
	}
	if ds.Empty() {
		return nil
	}
	m.stored[name] = ds
	return nil
}

func (m *memRecorder) RecordRun(_ context.Context, run *recorder.RunRecord) error {
	m.runs = append(m.runs, run)
	return m.runErr
}

func (m *memRecorder) Close() error { return nil }

type fakeNotifier struct {
	summaries []*RunSummary
	err       error
}

func (f *fakeNotifier) NotifyRun(_ context.Context, s *RunSummary) error {
	f.summaries = append(f.summaries, s)
	return f.err
}

func ds(code string, values ...float64) *model.Dataset {
	d := &model.Dataset{Code: code, Stats: model.AssemblyStats{Windows: 1}}
	for i, v := range values {
		d.Observations = append(d.Observations, model.Observation{
			Date:  model.Date(2024, 1, 1+i),
			Value: model.Float(v),
		})
	}
	return d
}

var catalog = Catalog{
	{Name: "IPCA", Code: "433"},
	{Name: "SELIC", Code: "432"},
	{Name: "USD_BRL", Code: "10813"},
}

func newTestRunner(asm Assembler, rec recorder.Recorder) *Runner {
	clock := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
	r := NewRunner(asm, rec, catalog).WithLogger(logger.Discard().WithComponent("pipeline"))
	r.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	r.NewID = func() string { return "run-1" }
	return r
}

var span = model.Span{Start: model.Date(2000, 1, 1), End: model.Date(2024, 7, 1)}

func TestRun_AllSeriesStored(t *testing.T) {
	asm := &fakeAssembler{datasets: map[string]*model.Dataset{
		"433":   ds("433", 1, 2, 3),
		"432":   ds("432", 10.5),
		"10813": ds("10813", 5.1, 5.2),
	}}
	rec := newMemRecorder()

	summary := newTestRunner(asm, rec).Run(context.Background(), span)

	assert.Equal(t, []string{"433", "432", "10813"}, asm.calls)
	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, span, summary.Span)
	assert.Equal(t, 3, summary.Succeeded())
	assert.Equal(t, 0, summary.Failed())
	assert.Equal(t, 6, summary.Observations())
	assert.True(t, summary.FinishedAt.After(summary.StartedAt))
	assert.Len(t, rec.stored, 3)

	ipca := summary.Results[0]
	assert.Equal(t, recorder.StatusStored, ipca.Status)
	assert.Equal(t, 3.0, ipca.Summary.LastValue)
	assert.Nil(t, ipca.Err)
}

func TestRun_FailureIsContainedToSeries(t *testing.T) {
	boom := errors.New("connection reset")
	asm := &fakeAssembler{
		datasets: map[string]*model.Dataset{"433": ds("433", 1), "10813": ds("10813", 2)},
		errs:     map[string]error{"432": boom},
	}
	rec := newMemRecorder()

	summary := newTestRunner(asm, rec).Run(context.Background(), span)

	require.Len(t, summary.Results, 3)
	assert.Equal(t, 2, summary.Succeeded())
	assert.Equal(t, 1, summary.Failed())
	assert.Contains(t, rec.stored, "IPCA")
	assert.Contains(t, rec.stored, "USD_BRL")
	assert.NotContains(t, rec.stored, "SELIC")

	selic := summary.Results[1]
	assert.Equal(t, recorder.StatusFailed, selic.Status)
	require.NotNil(t, selic.Err)
	assert.Equal(t, StageAssemble, selic.Err.Stage)
	assert.ErrorIs(t, selic.Err, boom)
	assert.Contains(t, selic.Err.Error(), "SELIC")
}

func TestRun_StoreFailure(t *testing.T) {
	asm := &fakeAssembler{datasets: map[string]*model.Dataset{"433": ds("433", 1)}}
	rec := newMemRecorder()
	rec.storeErr["IPCA"] = errors.New("disk full")

	summary := newTestRunner(asm, rec).Run(context.Background(), span)

	ipca := summary.Results[0]
	assert.Equal(t, recorder.StatusFailed, ipca.Status)
	assert.Equal(t, StageStore, ipca.Err.Stage)
	assert.Equal(t, 1, summary.Failed())
}

func TestRun_EmptyDatasetKeepsPreviousData(t *testing.T) {
	asm := &fakeAssembler{datasets: map[string]*model.Dataset{"433": ds("433", 1, 2)}}
	rec := newMemRecorder()
	runner := newTestRunner(asm, rec)

	runner.Run(context.Background(), span)
	require.Equal(t, 2, rec.stored["IPCA"].Len())

	// Every window now fails: the assembler yields nothing.
	asm.datasets["433"] = &model.Dataset{Code: "433", Stats: model.AssemblyStats{Windows: 3, FailedWindows: 3}}
	summary := runner.Run(context.Background(), span)

	assert.Equal(t, recorder.StatusEmpty, summary.Results[0].Status)
	assert.Equal(t, 3, summary.Results[0].Stats.FailedWindows)
	assert.Equal(t, 2, rec.stored["IPCA"].Len())
	assert.Equal(t, 0, summary.Failed())
}

func TestRun_ExhaustedErrorFromAssemblerIsSeriesFailure(t *testing.T) {
	exhausted := &transport.ExhaustedError{Endpoint: "x", Attempts: 5, Err: errors.New("503")}
	asm := &fakeAssembler{errs: map[string]error{"433": exhausted}}

	summary := newTestRunner(asm, newMemRecorder()).Run(context.Background(), span)

	assert.ErrorIs(t, summary.Results[0].Err, transport.ErrExhausted)
}

func TestRun_RecordsRunAndNotifies(t *testing.T) {
	asm := &fakeAssembler{
		datasets: map[string]*model.Dataset{"433": ds("433", 1, 2)},
		errs:     map[string]error{"10813": errors.New("bad gateway")},
	}
	rec := newMemRecorder()
	notifier := &fakeNotifier{}
	runner := newTestRunner(asm, rec)
	runner.Notifier = notifier

	summary := runner.Run(context.Background(), span)

	require.Len(t, rec.runs, 1)
	run := rec.runs[0]
	assert.Equal(t, "run-1", run.RunID)
	assert.Equal(t, span.Start, run.SpanStart)
	require.Len(t, run.Series, 3)
	assert.Equal(t, recorder.SeriesOutcome{Name: "IPCA", Code: "433", Status: recorder.StatusStored, Observations: 2}, run.Series[0])
	assert.Equal(t, recorder.StatusEmpty, run.Series[1].Status)
	assert.Equal(t, recorder.StatusFailed, run.Series[2].Status)
	assert.Contains(t, run.Series[2].Error, "bad gateway")

	require.Len(t, notifier.summaries, 1)
	assert.Same(t, summary, notifier.summaries[0])
}

func TestRun_ReportingFailuresDoNotAffectSummary(t *testing.T) {
	asm := &fakeAssembler{datasets: map[string]*model.Dataset{"433": ds("433", 1)}}
	rec := newMemRecorder()
	rec.runErr = errors.New("etl_runs locked")
	runner := newTestRunner(asm, rec)
	runner.Notifier = &fakeNotifier{err: errors.New("telegram down")}

	summary := runner.Run(context.Background(), span)

	assert.Equal(t, 3, summary.Succeeded())
}

func TestRun_CanceledContextStillReports(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	asm := &fakeAssembler{errs: map[string]error{"433": context.Canceled, "432": context.Canceled, "10813": context.Canceled}}
	rec := newMemRecorder()

	summary := newTestRunner(asm, rec).Run(ctx, span)

	assert.Equal(t, 3, summary.Failed())
	assert.Len(t, rec.runs, 1)
}

func TestRun_NilDatasetIsEmpty(t *testing.T) {
	asm := &fakeAssembler{datasets: map[string]*model.Dataset{"433": nil}}

	summary := newTestRunner(asm, newMemRecorder()).Run(context.Background(), span)

	assert.Equal(t, recorder.StatusEmpty, summary.Results[0].Status)
}

type panickingAssembler struct {
	fakeAssembler
	code string
}

func (p *panickingAssembler) Assemble(ctx context.Context, code string, span model.Span) (*model.Dataset, error) {
	if code == p.code {
		panic("index out of range")
	}
	return p.fakeAssembler.Assemble(ctx, code, span)
}

type panickingRecorder struct {
	*memRecorder
	name string
}

func (p *panickingRecorder) Store(ctx context.Context, name string, d *model.Dataset) error {
	if name == p.name {
		panic("sink exploded")
	}
	return p.memRecorder.Store(ctx, name, d)
}

func TestRun_PanicInAssembleIsContained(t *testing.T) {
	asm := &panickingAssembler{
		fakeAssembler: fakeAssembler{datasets: map[string]*model.Dataset{"433": ds("433", 1), "10813": ds("10813", 2)}},
		code:          "432",
	}
	rec := newMemRecorder()

	summary := newTestRunner(asm, rec).Run(context.Background(), span)

	require.Len(t, summary.Results, 3)
	selic := summary.Results[1]
	assert.Equal(t, recorder.StatusFailed, selic.Status)
	require.NotNil(t, selic.Err)
	assert.Equal(t, StageAssemble, selic.Err.Stage)
	assert.Contains(t, selic.Err.Error(), "panic")
	assert.Equal(t, recorder.StatusStored, summary.Results[2].Status)
	assert.Len(t, rec.runs, 1)
}

func TestRun_PanicInStoreIsContained(t *testing.T) {
	asm := &fakeAssembler{datasets: map[string]*model.Dataset{"433": ds("433", 1), "432": ds("432", 2)}}
	rec := &panickingRecorder{memRecorder: newMemRecorder(), name: "IPCA"}

	summary := newTestRunner(asm, rec).Run(context.Background(), span)

	ipca := summary.Results[0]
	assert.Equal(t, recorder.StatusFailed, ipca.Status)
	assert.Equal(t, StageStore, ipca.Err.Stage)
	assert.Contains(t, ipca.Err.Error(), "sink exploded")
	assert.Equal(t, recorder.StatusStored, summary.Results[1].Status)
	assert.Contains(t, rec.stored, "SELIC")
}
