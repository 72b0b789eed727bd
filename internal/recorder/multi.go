package recorder

import (
	"context"
	"errors"

	"SeriesHarvester/internal/model"
)

// Multi fans every call out to each recorder in order. One failing sink does
// not stop the others; their errors are joined.
type Multi []Recorder

func (m Multi) Store(ctx context.Context, name string, ds *model.Dataset) error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.Store(ctx, name, ds))
	}
	return errors.Join(errs...)
}

func (m Multi) RecordRun(ctx context.Context, run *RunRecord) error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.RecordRun(ctx, run))
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.Close())
	}
	return errors.Join(errs...)
}
