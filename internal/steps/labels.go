package steps

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mrsinham/umieforge/internal/dataset"
	"github.com/mrsinham/umieforge/internal/manifest"
	"github.com/mrsinham/umieforge/internal/pipeline"
)

// AddLabels merges the labels of the dataset label extractor into every
// record. Existing labels are kept, with their grade.
type AddLabels struct {
	// Strict drops labels missing from the label registry.
	Strict bool `yaml:"strict"`
}

func (*AddLabels) Name() string { return NameAddLabels }

func (*AddLabels) Requires() []string { return []string{KeyCanonicalIDs} }

func (s *AddLabels) Transform(_ context.Context, files []pipeline.FileRef, cfg *pipeline.Config) ([]pipeline.FileRef, error) {
	st, err := openManifest(cfg)
	if err != nil {
		return nil, err
	}
	fns := make(map[string]func(*manifest.Record))
	labelled := 0
	for _, rec := range st.Records() {
		labels, err := cfg.Capabilities.Labels.Labels(rec.UmiePath, rec.MaskPath)
		if err != nil {
			return nil, fmt.Errorf("failed to label %s: %w", rec.UmiePath, err)
		}
		labels = s.registered(cfg, rec.UmiePath, labels)
		if len(labels) == 0 {
			continue
		}
		merged := dataset.MergeLabels(rec.Labels, labels...)
		if len(merged) == len(rec.Labels) {
			continue
		}
		labelled++
		fns[rec.UmiePath] = func(r *manifest.Record) { r.Labels = merged }
	}
	if err := st.UpdateMany(fns); err != nil {
		return nil, err
	}
	cfg.Log.Info().Int("records", st.Len()).Int("labelled", labelled).Msg("labels added")
	return files, nil
}

func (s *AddLabels) registered(cfg *pipeline.Config, path string, labels []dataset.Label) []dataset.Label {
	if !s.Strict || cfg.Labels == nil {
		return labels
	}
	out := labels[:0:0]
	for _, l := range labels {
		if !cfg.Labels.Has(l.Name) {
			cfg.Log.Warn().Str("step", s.Name()).Str("path", path).Str("label", l.Name).Msg("dropping unregistered label")
			continue
		}
		out = append(out, l)
	}
	return out
}

// PruneUnannotated removes canonical images without a mask, or without
// labels when RequireLabels is set, along with their records. Masks left
// without an image are deleted too.
type PruneUnannotated struct {
	KeepUnmasked  bool `yaml:"keep_unmasked"`
	RequireLabels bool `yaml:"require_labels"`
}

func (*PruneUnannotated) Name() string { return NamePruneUnannotated }

func (*PruneUnannotated) Requires() []string { return []string{KeyCanonicalIDs} }

func (s *PruneUnannotated) Transform(_ context.Context, files []pipeline.FileRef, cfg *pipeline.Config) ([]pipeline.FileRef, error) {
	st, err := openManifest(cfg)
	if err != nil {
		return nil, err
	}
	deleted := make(map[string]bool)
	for _, rec := range st.Records() {
		unannotated := (!s.KeepUnmasked && rec.MaskPath == "") || (s.RequireLabels && len(rec.Labels) == 0)
		if !unannotated {
			continue
		}
		for _, p := range []string{rec.UmiePath, rec.MaskPath} {
			if p == "" {
				continue
			}
			if err := remove(p); err != nil {
				return nil, err
			}
			deleted[p] = true
		}
	}
	removed, err := st.Prune()
	if err != nil {
		return nil, err
	}
	orphans, err := s.orphans(cfg, st)
	if err != nil {
		return nil, err
	}
	for _, p := range orphans {
		if err := remove(p); err != nil {
			return nil, err
		}
		deleted[p] = true
	}
	cfg.Log.Info().Int("records", len(removed)).Int("orphan_masks", len(orphans)).Int("kept", st.Len()).Msg("pruned unannotated images")

	out := files[:0:0]
	for _, f := range files {
		if !deleted[f.Path] {
			out = append(out, f)
		}
	}
	return out, nil
}

// orphans lists the canonical masks with no manifest record for their image.
func (s *PruneUnannotated) orphans(cfg *pipeline.Config, st *manifest.Store) ([]string, error) {
	var out []string
	for _, p := range cfg.Descriptor.Phases {
		entries, err := os.ReadDir(cfg.Scheme.MasksDir(p.Name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		} else if err != nil {
			return nil, fmt.Errorf("failed to list masks: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".png" {
				continue
			}
			m := filepath.Join(cfg.Scheme.MasksDir(p.Name), e.Name())
			img, err := cfg.Scheme.ImagePathFor(m)
			if err != nil || !st.Has(img) {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func remove(p string) error {
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", p, err)
	}
	return nil
}

// ValidateManifest checks the manifest against its schema, the label
// registry and the files on disk. Violations are logged; with Strict they
// fail the run.
type ValidateManifest struct {
	SkipRasters bool `yaml:"skip_rasters"`
	Strict      bool `yaml:"strict"`
}

func (*ValidateManifest) Name() string { return NameValidateManifest }

func (*ValidateManifest) Requires() []string { return []string{KeyManifestPath} }

func (*ValidateManifest) Provides() []string { return []string{KeyReport} }

func (s *ValidateManifest) Transform(_ context.Context, files []pipeline.FileRef, cfg *pipeline.Config) ([]pipeline.FileRef, error) {
	path, err := cfg.MustString(KeyManifestPath)
	if err != nil {
		return nil, err
	}
	scheme := cfg.Scheme
	rep, err := manifest.Validate(path, manifest.ValidateOptions{
		Labels:      cfg.Labels,
		Scheme:      &scheme,
		SkipRasters: s.SkipRasters,
	})
	if err != nil {
		return nil, err
	}
	for _, v := range rep.Violations {
		cfg.Log.Warn().Str("step", s.Name()).Msg(v.String())
	}
	if err := cfg.Set(KeyReport, rep); err != nil {
		return nil, err
	}
	if s.Strict && !rep.OK() {
		return nil, fmt.Errorf("manifest has %d violations", len(rep.Violations))
	}
	cfg.Log.Info().Int("records", rep.Records).Int("violations", len(rep.Violations)).Msg("manifest validated")
	return files, nil
}
