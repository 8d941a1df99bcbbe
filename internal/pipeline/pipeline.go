// Package pipeline runs an ordered list of steps over a shared config.
//
// A run goes Created, Running(0), Running(1), ..., Done. Steps execute one
// after the other with no retry; the first failing step stops the run with
// the pipeline in Failed. Cancellation of the context is observed between
// steps only.
package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"
	"github.com/pkg/errors"
)

// State is the lifecycle position of a pipeline.
type State int

const (
	Created State = iota
	Running
	Done
	Failed
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Observer is told about step boundaries.
type Observer interface {
	StepStarted(index int, name string, in int)
	StepFinished(index int, name string, in, out int, elapsed time.Duration, err error)
}

// Option configures a pipeline.
type Option func(*Pipeline)

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observers = append(p.observers, o) }
}

// Pipeline is an ordered, validated composition of steps.
type Pipeline struct {
	steps     []Step
	deps      graph.Graph[string, string]
	observers []Observer

	state   State
	current int
}

// New validates the chain and returns a pipeline in the Created state. Step
// names must be unique, and every key a step requires must be provided by an
// earlier step.
func New(steps []Step, opts ...Option) (*Pipeline, error) {
	if len(steps) == 0 {
		return nil, errors.New("pipeline has no steps")
	}
	deps, err := chainGraph(steps)
	if err != nil {
		return nil, errors.Wrap(err, "invalid step chain")
	}
	p := &Pipeline{steps: steps, deps: deps, current: -1}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// chainGraph adds one vertex per step and an edge from each provider to the
// steps reading its keys.
func chainGraph(steps []Step) (graph.Graph[string, string], error) {
	g := graph.New(graph.StringHash, graph.Directed(), graph.Acyclic())
	providers := make(map[string][]int)

	for i, s := range steps {
		if err := g.AddVertex(s.Name()); err != nil {
			if errors.Is(err, graph.ErrVertexAlreadyExists) {
				return nil, errors.Errorf("duplicate step name %q", s.Name())
			}
			return nil, errors.Wrapf(err, "unable to add step %q", s.Name())
		}

		if r, ok := s.(Requirer); ok {
			for _, key := range r.Requires() {
				from := providers[key]
				if len(from) == 0 {
					return nil, errors.Errorf("step %d (%s) requires %q, which no earlier step provides", i, s.Name(), key)
				}
				for _, j := range from {
					err := g.AddEdge(steps[j].Name(), s.Name(), graph.EdgeAttribute("label", key))
					if err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
						return nil, errors.Wrapf(err, "unable to link %s to %s", steps[j].Name(), s.Name())
					}
				}
			}
		}
		if pr, ok := s.(Provider); ok {
			for _, key := range pr.Provides() {
				providers[key] = append(providers[key], i)
			}
		}
	}
	return g, nil
}

// Steps returns the step names in execution order.
func (p *Pipeline) Steps() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name()
	}
	return names
}

// Dependencies returns the names of the steps whose keys name reads.
func (p *Pipeline) Dependencies(name string) ([]string, error) {
	pred, err := p.deps.PredecessorMap()
	if err != nil {
		return nil, errors.Wrap(err, "unable to read step graph")
	}
	var out []string
	for _, s := range p.Steps() {
		if _, ok := pred[name][s]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// WriteDOT renders the step dependency graph in Graphviz format.
func (p *Pipeline) WriteDOT(w io.Writer) error {
	return draw.DOT(p.deps, w)
}

// State returns the current state.
func (p *Pipeline) State() State { return p.state }

// Current returns the index of the running or failed step, -1 before start.
func (p *Pipeline) Current() int { return p.current }

// Run executes every step in order, starting from files. It returns the
// output of the last step. A pipeline runs once.
func (p *Pipeline) Run(ctx context.Context, cfg *Config, files []FileRef) ([]FileRef, error) {
	if p.state != Created {
		return nil, errors.Errorf("pipeline already %s", p.state)
	}
	p.state = Running

	for i, s := range p.steps {
		p.current = i
		if err := ctx.Err(); err != nil {
			return nil, p.fail(i, s, errors.Wrap(err, "run cancelled"))
		}
		if ir, ok := s.(InputRequired); ok && ir.RequiresInput() && len(files) == 0 {
			return nil, p.fail(i, s, ErrEmptyInput)
		}

		in := len(files)
		for _, o := range p.observers {
			o.StepStarted(i, s.Name(), in)
		}
		start := time.Now()
		out, err := s.Transform(ctx, files, cfg)
		for _, o := range p.observers {
			o.StepFinished(i, s.Name(), in, len(out), time.Since(start), err)
		}
		if err != nil {
			return nil, p.fail(i, s, err)
		}
		files = out
	}

	p.state = Done
	return files, nil
}

func (p *Pipeline) fail(i int, s Step, err error) error {
	p.state = Failed
	return &StepError{Name: s.Name(), Index: i, Err: errors.Wrapf(err, "unable to run %s", s.Name())}
}
