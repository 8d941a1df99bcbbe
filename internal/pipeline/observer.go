package pipeline

import (
	"time"

	"github.com/rs/zerolog"
)

// LogObserver logs step boundaries.
type LogObserver struct {
	Log zerolog.Logger
}

// StepStarted implements Observer.
func (o LogObserver) StepStarted(index int, name string, in int) {
	o.Log.Info().Int("step", index).Str("name", name).Int("files_in", in).Msg("step started")
}

// StepFinished implements Observer.
func (o LogObserver) StepFinished(index int, name string, in, out int, elapsed time.Duration, err error) {
	if err != nil {
		o.Log.Error().Err(err).Int("step", index).Str("name", name).Dur("elapsed", elapsed).Msg("step failed")
		return
	}
	o.Log.Info().
		Int("step", index).
		Str("name", name).
		Int("files_in", in).
		Int("files_out", out).
		Dur("elapsed", elapsed).
		Msg("step finished")
}

// Summary collects per-step counts and timings of a run.
type Summary struct {
	Steps []StepSummary
}

// StepSummary is one row of a Summary.
type StepSummary struct {
	Name    string
	In, Out int
	Elapsed time.Duration
	Err     error
}

// StepStarted implements Observer.
func (s *Summary) StepStarted(int, string, int) {}

// StepFinished implements Observer.
func (s *Summary) StepFinished(_ int, name string, in, out int, elapsed time.Duration, err error) {
	s.Steps = append(s.Steps, StepSummary{Name: name, In: in, Out: out, Elapsed: elapsed, Err: err})
}

// Total returns the summed step time.
func (s *Summary) Total() time.Duration {
	var d time.Duration
	for _, st := range s.Steps {
		d += st.Elapsed
	}
	return d
}
