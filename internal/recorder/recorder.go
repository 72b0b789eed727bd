package recorder

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"SeriesHarvester/internal/model"
)

// Series outcome statuses.
const (
	StatusStored = "stored"
	StatusEmpty  = "empty"
	StatusFailed = "failed"
)

// SeriesOutcome is the per-series line of a run record.
type SeriesOutcome struct {
	Name          string `json:"name"`
	Code          string `json:"code"`
	Status        string `json:"status"` // stored, empty or failed
	Observations  int    `json:"observations"`
	FailedWindows int    `json:"failed_windows"`
	Error         string `json:"error,omitempty"`
}

// RunRecord describes one completed harvest run.
type RunRecord struct {
	RunID      string          `json:"run_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	SpanStart  time.Time       `json:"span_start"`
	SpanEnd    time.Time       `json:"span_end"`
	Series     []SeriesOutcome `json:"series"`
}

// Count returns how many series ended with status.
func (r *RunRecord) Count(status string) int {
	n := 0
	for _, s := range r.Series {
		if s.Status == status {
			n++
		}
	}
	return n
}

// Recorder persists assembled series. Store fully replaces whatever was
// stored under name before, and does nothing when the dataset is empty so a
// run that fetched nothing never wipes earlier data.
type Recorder interface {
	Store(ctx context.Context, name string, ds *model.Dataset) error
	RecordRun(ctx context.Context, run *RunRecord) error
	Close() error
}

// Tables the SQL sink keeps for itself.
const (
	RunsTable     = "etl_runs"
	StagingSuffix = "__staging"
)

var identPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ObjectName returns the lower-cased identifier used for tables and files.
// Names that would clash with the sink's own tables are rejected.
func ObjectName(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if !identPattern.MatchString(n) {
		return "", fmt.Errorf("invalid series name %q", name)
	}
	if n == RunsTable || strings.HasSuffix(n, StagingSuffix) {
		return "", fmt.Errorf("series name %q is reserved", name)
	}
	return n, nil
}
