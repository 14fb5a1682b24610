// Package recorder turns ended sessions into records and writes them to every
// configured sink.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"voice-intake/internal/domain"
	"voice-intake/internal/logging"
)

// Sink stores a finished record.
type Sink interface {
	Name() string
	Write(ctx context.Context, rec domain.Record) error
}

// FailureObserver is told about every failed sink write.
// *metrics.Metrics satisfies this interface.
type FailureObserver interface {
	PersistFailure(sink string)
}

type Recorder struct {
	fields []domain.Field
	sinks  []Sink
	obs    FailureObserver
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Recorder)

func WithObserver(o FailureObserver) Option {
	return func(r *Recorder) {
		r.obs = o
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

func New(fields []domain.Field, sinks []Sink, opts ...Option) (*Recorder, error) {
	if len(fields) == 0 {
		return nil, errors.New("recorder: fields must not be empty")
	}
	if len(sinks) == 0 {
		return nil, errors.New("recorder: at least one sink is required")
	}
	for i, s := range sinks {
		if s == nil {
			return nil, fmt.Errorf("recorder: sink %d is nil", i)
		}
	}
	r := &Recorder{
		fields: fields,
		sinks:  sinks,
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Persist writes the record of s to every sink concurrently. A failing sink
// does not stop the others; all failures are joined into the result.
func (r *Recorder) Persist(ctx context.Context, s *domain.Session) error {
	if s == nil {
		return errors.New("recorder: session must not be nil")
	}
	rec := domain.NewRecord(s, r.fields, r.now())

	// errgroup.Group runs every sink to completion and keeps only the first
	// error, so each sink's failure is also kept by index.
	errs := make([]error, len(r.sinks))
	var g errgroup.Group
	for i, sink := range r.sinks {
		i, sink := i, sink
		g.Go(func() error {
			start := time.Now()
			if err := sink.Write(ctx, rec); err != nil {
				if r.obs != nil {
					r.obs.PersistFailure(sink.Name())
				}
				errs[i] = fmt.Errorf("recorder: %s: %w", sink.Name(), err)
				return errs[i]
			}
			r.logger.Debug("record written",
				"sink", sink.Name(),
				"session_id", rec.SessionID,
				"duration", time.Since(start),
			)
			return nil
		})
	}
	if err := g.Wait(); err == nil {
		return nil
	}
	return errors.Join(errs...)
}
