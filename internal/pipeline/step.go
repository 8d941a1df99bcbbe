package pipeline

import (
	"context"
	"fmt"

	"github.com/mrsinham/umieforge/internal/capability"
	"github.com/pkg/errors"
)

// ErrEmptyInput is returned when a step that needs files receives none.
var ErrEmptyInput = errors.New("step requires a non-empty file list")

// FileRef is one file flowing between steps. Kind and Structure are computed
// once at discovery and carried along.
type FileRef struct {
	Path      string
	Kind      capability.FileKind
	Structure string
	// Origin is the source file this reference was derived from.
	Origin string
}

// Step transforms the file list of one stage into the next. A step never
// calls another step: everything it needs is in files or cfg.
type Step interface {
	Name() string
	Transform(ctx context.Context, files []FileRef, cfg *Config) ([]FileRef, error)
}

// Requirer is implemented by steps reading config keys set by earlier steps.
type Requirer interface {
	Requires() []string
}

// Provider is implemented by steps setting config keys.
type Provider interface {
	Provides() []string
}

// InputRequired is implemented by steps that cannot run on an empty list.
type InputRequired interface {
	RequiresInput() bool
}

// StepError is the fatal error of one step.
type StepError struct {
	Name  string
	Index int
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index, e.Name, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Filter returns the refs of the given kinds, keeping order.
func Filter(files []FileRef, kinds ...capability.FileKind) []FileRef {
	var out []FileRef
	for _, f := range files {
		for _, k := range kinds {
			if f.Kind == k {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// Without returns the refs not of the given kinds, keeping order.
func Without(files []FileRef, kinds ...capability.FileKind) []FileRef {
	var out []FileRef
next:
	for _, f := range files {
		for _, k := range kinds {
			if f.Kind == k {
				continue next
			}
		}
		out = append(out, f)
	}
	return out
}
