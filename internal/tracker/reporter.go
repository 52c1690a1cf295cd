// internal/tracker/reporter.go
package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/YaganovValera/candle-tracker/pkg/coinbase"
)

// Completion is a finished candle together with the processed counter
// at the moment it was detected.
type Completion struct {
	Processed uint64
	ProductID string
	Candle    coinbase.Candle
}

// Reporter receives completions and non-fatal stream errors. Returned
// errors are logged and counted by the session, never propagated.
type Reporter interface {
	Name() string
	Report(ctx context.Context, c Completion) error
	ReportError(ctx context.Context, err error) error
}

// ConsoleReporter prints one line per event.
type ConsoleReporter struct {
	w io.Writer
}

// NewConsoleReporter writes to w, usually os.Stdout.
func NewConsoleReporter(w io.Writer) *ConsoleReporter {
	return &ConsoleReporter{w: w}
}

func (r *ConsoleReporter) Name() string { return "console" }

func (r *ConsoleReporter) Report(_ context.Context, c Completion) error {
	_, err := fmt.Fprintf(r.w, "%d %10s (%d): finished candle.\n", c.Processed, c.ProductID, c.Candle.Start)
	return err
}

func (r *ConsoleReporter) ReportError(_ context.Context, e error) error {
	_, err := fmt.Fprintf(r.w, "!WEBSOCKET ERROR! %v\n", e)
	return err
}

// MultiReporter fans every event out to all reporters in order. A
// failing reporter does not stop the rest.
type MultiReporter struct {
	reporters []Reporter
}

// NewMultiReporter skips nil entries.
func NewMultiReporter(reporters ...Reporter) *MultiReporter {
	m := &MultiReporter{}
	for _, r := range reporters {
		if r != nil {
			m.reporters = append(m.reporters, r)
		}
	}
	return m
}

func (m *MultiReporter) Name() string { return "multi" }

func (m *MultiReporter) Report(ctx context.Context, c Completion) error {
	var errs []error
	for _, r := range m.reporters {
		if err := r.Report(ctx, c); err != nil {
			errs = append(errs, &SinkError{Sink: r.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}

func (m *MultiReporter) ReportError(ctx context.Context, e error) error {
	var errs []error
	for _, r := range m.reporters {
		if err := r.ReportError(ctx, e); err != nil {
			errs = append(errs, &SinkError{Sink: r.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}

// SinkError tags a delivery failure with the reporter that produced it.
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string { return e.Sink + ": " + e.Err.Error() }
func (e *SinkError) Unwrap() error { return e.Err }
