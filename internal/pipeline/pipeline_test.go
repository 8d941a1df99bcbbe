package pipeline

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/mrsinham/umieforge/internal/capability"
	"github.com/mrsinham/umieforge/internal/dataset"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStep struct {
	name     string
	requires []string
	provides []string
	needs    bool
	err      error
	calls    *[]string
	fn       func(files []FileRef, cfg *Config) ([]FileRef, error)
}

func (s fakeStep) Name() string        { return s.name }
func (s fakeStep) Requires() []string  { return s.requires }
func (s fakeStep) Provides() []string  { return s.provides }
func (s fakeStep) RequiresInput() bool { return s.needs }

func (s fakeStep) Transform(_ context.Context, files []FileRef, cfg *Config) ([]FileRef, error) {
	if s.calls != nil {
		*s.calls = append(*s.calls, s.name)
	}
	if s.err != nil {
		return nil, s.err
	}
	for _, k := range s.provides {
		if err := cfg.Set(k, s.name); err != nil {
			return nil, err
		}
	}
	if s.fn != nil {
		return s.fn(files, cfg)
	}
	return files, nil
}

func testConfig() *Config {
	desc := &dataset.Descriptor{UID: "01", Name: "T", Phases: []dataset.Phase{{ID: "1", Name: "CT"}}}
	return NewConfig(Inputs{Source: "/src", Target: "/dst"}, desc, capability.Set{}, dataset.DefaultColors, dataset.DefaultLabels)
}

func TestNewValidatesChain(t *testing.T) {
	tests := []struct {
		name    string
		steps   []Step
		wantErr string
	}{
		{"empty", nil, "no steps"},
		{"duplicate", []Step{fakeStep{name: "a"}, fakeStep{name: "a"}}, "duplicate step name"},
		{"missing provider", []Step{fakeStep{name: "a", requires: []string{"k"}}}, "no earlier step provides"},
		{"provider too late", []Step{
			fakeStep{name: "a", requires: []string{"k"}},
			fakeStep{name: "b", provides: []string{"k"}},
		}, "no earlier step provides"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.steps)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	p, err := New([]Step{
		fakeStep{name: "tree", provides: []string{"manifest"}},
		fakeStep{name: "ids", requires: []string{"manifest"}, provides: []string{"ids"}},
		fakeStep{name: "labels", requires: []string{"manifest", "ids"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"tree", "ids", "labels"}, p.Steps())
	deps, err := p.Dependencies("labels")
	require.NoError(t, err)
	assert.Equal(t, []string{"tree", "ids"}, deps)

	var buf bytes.Buffer
	require.NoError(t, p.WriteDOT(&buf))
	assert.True(t, strings.Contains(buf.String(), "labels"))
}

func TestRunSequentialAndStates(t *testing.T) {
	var calls []string
	p, err := New([]Step{
		fakeStep{name: "a", calls: &calls, provides: []string{"k"}, fn: func(f []FileRef, _ *Config) ([]FileRef, error) {
			return append(f, FileRef{Path: "x", Kind: capability.KindImage}), nil
		}},
		fakeStep{name: "b", calls: &calls, requires: []string{"k"}, needs: true, fn: func(f []FileRef, cfg *Config) ([]FileRef, error) {
			assert.Equal(t, "a", cfg.String("k"))
			return f, nil
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, Created, p.State())

	var sum Summary
	p.observers = append(p.observers, &sum)

	out, err := p.Run(context.Background(), testConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, Done, p.State())
	assert.Equal(t, []string{"a", "b"}, calls)
	assert.Len(t, out, 1)
	require.Len(t, sum.Steps, 2)
	assert.Equal(t, 1, sum.Steps[1].In)

	_, err = p.Run(context.Background(), testConfig(), nil)
	assert.Error(t, err, "a pipeline runs once")
}

func TestRunFailureIsFatal(t *testing.T) {
	var calls []string
	boom := errors.New("boom")
	p, err := New([]Step{
		fakeStep{name: "a", calls: &calls},
		fakeStep{name: "b", calls: &calls, err: boom},
		fakeStep{name: "c", calls: &calls},
	})
	require.NoError(t, err)

	_, err = p.Run(context.Background(), testConfig(), []FileRef{{Path: "p"}})
	require.Error(t, err)
	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "b", se.Name)
	assert.Equal(t, 1, se.Index)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Failed, p.State())
	assert.Equal(t, 1, p.Current())
	assert.Equal(t, []string{"a", "b"}, calls, "no step runs after a failure")
}

func TestRunEmptyInput(t *testing.T) {
	var calls []string
	p, err := New([]Step{fakeStep{name: "needs", needs: true, calls: &calls}})
	require.NoError(t, err)
	_, err = p.Run(context.Background(), testConfig(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Empty(t, calls)
}

func TestRunCancelledBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls []string
	p, err := New([]Step{
		fakeStep{name: "a", calls: &calls, fn: func(f []FileRef, _ *Config) ([]FileRef, error) {
			cancel()
			return f, nil
		}},
		fakeStep{name: "b", calls: &calls},
	})
	require.NoError(t, err)
	_, err = p.Run(ctx, testConfig(), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a"}, calls, "the running step completes, the next never starts")
}

func TestConfigAppendOnly(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Set("images", "/a"))
	require.NoError(t, cfg.Set("images", "/a"), "same value is idempotent")
	assert.Error(t, cfg.Set("images", "/b"))

	v, err := cfg.MustString("images")
	require.NoError(t, err)
	assert.Equal(t, "/a", v)
	_, err = cfg.MustString("missing")
	assert.Error(t, err)
	require.NoError(t, cfg.Set("n", 3))
	_, err = cfg.MustString("n")
	assert.Error(t, err)
	assert.Equal(t, []string{"images", "n"}, cfg.Keys())

	assert.NotNil(t, cfg.Capabilities.ImageID, "capabilities are completed with defaults")
}

func TestFilter(t *testing.T) {
	files := []FileRef{
		{Path: "a", Kind: capability.KindImage},
		{Path: "b", Kind: capability.KindMask},
		{Path: "c", Kind: capability.KindAnnotation},
	}
	assert.Len(t, Filter(files, capability.KindImage, capability.KindMask), 2)
	assert.Equal(t, []FileRef{files[2]}, Without(files, capability.KindImage, capability.KindMask))
}
