package recorder

import (
	"context"

	"SeriesHarvester/internal/model"
)

// NoopRecorder is used when no sink is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) Store(_ context.Context, _ string, _ *model.Dataset) error { return nil }
func (n *NoopRecorder) RecordRun(_ context.Context, _ *RunRecord) error          { return nil }
func (n *NoopRecorder) Close() error                                             { return nil }
