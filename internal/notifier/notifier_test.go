package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SeriesHarvester/internal/calculator"
	"SeriesHarvester/internal/model"
	"SeriesHarvester/internal/pipeline"
	"SeriesHarvester/internal/recorder"
)

func testNotifier(t *testing.T, handler http.HandlerFunc) *TelegramNotifier {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	n := NewTelegramNotifier("token", "42", "")
	n.APIBase = srv.URL
	n.RetryInterval = time.Millisecond
	return n
}

func TestNewTelegramNotifier_DisabledWithoutToken(t *testing.T) {
	assert.Nil(t, NewTelegramNotifier("", "42", ""))
}

func TestSend(t *testing.T) {
	var got map[string]string
	var path string
	n := testNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, n.Send(context.Background(), "hello"))
	assert.Equal(t, "/bottoken/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "hello", got["text"])
	assert.Equal(t, "HTML", got["parse_mode"])
}

func TestSendWithRetry_RecoversFromServerErrors(t *testing.T) {
	var calls atomic.Int32
	n := testNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, n.SendWithRetry(context.Background(), "hi", 3))
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendWithRetry_GivesUp(t *testing.T) {
	var calls atomic.Int32
	n := testNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	err := n.SendWithRetry(context.Background(), "hi", 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendWithRetry_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	n := testNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"ok":false,"description":"chat not found"}`, http.StatusBadRequest)
	})

	err := n.SendWithRetry(context.Background(), "hi", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
	assert.Equal(t, int32(1), calls.Load())
}

func TestSendWithRetry_ContextCanceled(t *testing.T) {
	n := testNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := n.SendWithRetry(ctx, "hi", 3)
	assert.True(t, errors.Is(err, context.Canceled))
}

func sampleSummary() *pipeline.RunSummary {
	start := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
	return &pipeline.RunSummary{
		RunID:      "7f1c",
		StartedAt:  start,
		FinishedAt: start.Add(42 * time.Second),
		Span:       model.Span{Start: model.Date(2000, 1, 1), End: model.Date(2024, 7, 1)},
		Results: []pipeline.SeriesResult{
			{
				Name: "IPCA", Code: "433", Status: recorder.StatusStored,
				Stats: model.AssemblyStats{Windows: 3, FailedWindows: 1},
				Summary: calculator.Stats{
					Count: 294, First: model.Date(2000, 1, 1), Last: model.Date(2024, 6, 1), LastValue: 0.21,
				},
			},
			{
				Name: "SELIC", Code: "432", Status: recorder.StatusEmpty,
				Stats: model.AssemblyStats{Windows: 3, FailedWindows: 3},
			},
			{
				Name: "USD_BRL", Code: "10813", Status: recorder.StatusFailed,
				Err: &pipeline.SeriesError{Name: "USD_BRL", Code: "10813", Stage: pipeline.StageStore, Err: errors.New("a <b> c")},
			},
		},
	}
}

func TestFormatRunReport(t *testing.T) {
	report := FormatRunReport(sampleSummary())

	assert.Contains(t, report, "<code>7f1c</code>")
	assert.Contains(t, report, "2000-01-01 → 2024-07-01")
	assert.Contains(t, report, "✅ <b>IPCA</b> (433): 294 obs, 2000-01-01 → 2024-06-01, último 0.21 ⚠️ 1/3 janelas falharam")
	assert.Contains(t, report, "⚪ <b>SELIC</b> (432): sem dados (3/3 janelas falharam)")
	assert.Contains(t, report, "❌ <b>USD_BRL</b> (10813): store: a &lt;b&gt; c")
	assert.Contains(t, report, "Gravadas: 1 | Vazias: 1 | Falhas: 1")
	assert.Contains(t, report, "Observações: 294 | Duração: 42s")
}

func TestFormatRunReport_AllValuesAbsent(t *testing.T) {
	s := sampleSummary()
	s.Results = s.Results[:1]
	s.Results[0].Summary.Absent = 294
	s.Results[0].Summary.LastValue = math.NaN()

	assert.NotContains(t, FormatRunReport(s), "último")
}

func TestNotifyRun(t *testing.T) {
	var text string
	n := testNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		text = body["text"]
	})

	require.NoError(t, n.NotifyRun(context.Background(), sampleSummary()))
	assert.Contains(t, text, "SeriesHarvester")
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "5.5", formatValue(5.5))
	assert.Equal(t, "1234", formatValue(1234))
	assert.Equal(t, "0.1235", formatValue(0.123456))
}
