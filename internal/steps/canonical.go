package steps

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrsinham/umieforge/internal/capability"
	"github.com/mrsinham/umieforge/internal/manifest"
	"github.com/mrsinham/umieforge/internal/pathid"
	"github.com/mrsinham/umieforge/internal/pipeline"
)

// strategyError is a failing capability strategy. It aborts the run.
type strategyError struct {
	path string
	err  error
}

func (e *strategyError) Error() string { return fmt.Sprintf("%s: %v", e.path, e.err) }

func (e *strategyError) Unwrap() error { return e.err }

// canonicalID derives the id of path with the dataset extractors. Extractor
// failures come back as *strategyError; an undeclared phase or an id
// component the scheme rejects does not.
func canonicalID(cfg *pipeline.Config, path string) (pathid.ID, error) {
	phase, err := cfg.Capabilities.PhaseID.PhaseID(path)
	if err != nil {
		return pathid.ID{}, &strategyError{path, fmt.Errorf("phase id: %w", err)}
	}
	study, err := cfg.Capabilities.StudyID.StudyID(path)
	if err != nil {
		return pathid.ID{}, &strategyError{path, fmt.Errorf("study id: %w", err)}
	}
	image, err := cfg.Capabilities.ImageID.ImageID(path)
	if err != nil {
		return pathid.ID{}, &strategyError{path, fmt.Errorf("image id: %w", err)}
	}
	return cfg.Scheme.NewID(phase, study, image), nil
}

// skippable reports whether err only concerns one file.
func skippable(err error) bool {
	var se *strategyError
	return !errors.As(err, &se)
}

// AddCanonicalIDs copies every staged or source PNG image to its canonical
// path and seeds one manifest record per image. Images whose phase is not
// declared, or whose ids are not valid components, are dropped; a failing
// extractor stops the run. When two files map to the same id, the first one
// wins.
type AddCanonicalIDs struct{}

func (*AddCanonicalIDs) Name() string { return NameAddCanonicalIDs }

func (*AddCanonicalIDs) RequiresInput() bool { return true }

func (*AddCanonicalIDs) Requires() []string { return []string{KeyManifestPath} }

func (*AddCanonicalIDs) Provides() []string { return []string{KeyCanonicalIDs} }

func (s *AddCanonicalIDs) Transform(_ context.Context, files []pipeline.FileRef, cfg *pipeline.Config) ([]pipeline.FileRef, error) {
	st, err := openManifest(cfg)
	if err != nil {
		return nil, err
	}

	var (
		out     []pipeline.FileRef
		records []manifest.Record
		seen    = make(map[string]string)
		copied  int
	)
	for _, f := range files {
		if f.Kind != capability.KindImage {
			out = append(out, f)
			continue
		}
		if !hasExt(f.Path, ".png") {
			drop(cfg, s.Name(), f.Path, fmt.Errorf("image was not converted to png"))
			continue
		}
		id, err := canonicalID(cfg, f.Path)
		if err != nil {
			return nil, err
		}
		dst, err := cfg.Scheme.Encode(id)
		if err != nil {
			if !errors.Is(err, pathid.ErrUnknownPhase) && !errors.Is(err, pathid.ErrInvalidComponent) {
				return nil, err
			}
			drop(cfg, s.Name(), f.Path, err)
			continue
		}
		if prev, dup := seen[dst]; dup {
			cfg.Log.Warn().Str("step", s.Name()).Str("path", f.Path).Str("kept", prev).Str("umie_id", id.String()).Msg("duplicate canonical id")
			continue
		}
		seen[dst] = f.Path

		wrote, err := copyFile(f.Path, dst)
		if err != nil {
			return nil, fmt.Errorf("failed to copy %s: %w", f.Path, err)
		}
		if wrote {
			copied++
		}
		phase, _ := cfg.Descriptor.Phase(id.PhaseID)
		records = append(records, manifest.Record{
			UmiePath:    dst,
			DatasetName: cfg.Descriptor.Name,
			DatasetUID:  cfg.Descriptor.UID,
			PhaseName:   phase.Name,
			Comparative: phase.Comparative,
			StudyID:     id.StudyID,
			UmieID:      id.String(),
		})
		out = append(out, pipeline.FileRef{Path: dst, Kind: capability.KindImage, Origin: f.Origin})
	}

	added, err := st.Append(records...)
	if err != nil {
		return nil, err
	}
	if err := cfg.Set(KeyCanonicalIDs, true); err != nil {
		return nil, err
	}
	cfg.Log.Info().Int("images", len(seen)).Int("copied", copied).Int("records", added).Msg("canonical images ready")
	return out, nil
}
