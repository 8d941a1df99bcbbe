package steps

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mrsinham/umieforge/internal/capability"
	"github.com/mrsinham/umieforge/internal/manifest"
	"github.com/mrsinham/umieforge/internal/pipeline"
)

// GetFilePaths walks the source input, and the masks input when set, and
// classifies every file with the dataset selector. Files under the masks
// input are masks whatever the selector calls them, unless it ignores them.
// Hidden files and directories are skipped.
type GetFilePaths struct {
	// Skip lists directory names that are never entered.
	Skip []string `yaml:"skip"`
}

func (*GetFilePaths) Name() string { return NameGetFilePaths }

func (s *GetFilePaths) Transform(ctx context.Context, _ []pipeline.FileRef, cfg *pipeline.Config) ([]pipeline.FileRef, error) {
	if cfg.Inputs.Source == "" {
		return nil, fmt.Errorf("no source directory given")
	}
	files, err := s.walk(ctx, cfg, cfg.Inputs.Source, false)
	if err != nil {
		return nil, err
	}
	if cfg.Inputs.Masks != "" {
		masks, err := s.walk(ctx, cfg, cfg.Inputs.Masks, true)
		if err != nil {
			return nil, err
		}
		files = append(files, masks...)
	}

	counts := make(map[capability.FileKind]int)
	for _, f := range files {
		counts[f.Kind]++
	}
	cfg.Log.Info().
		Int("images", counts[capability.KindImage]).
		Int("masks", counts[capability.KindMask]).
		Int("annotations", counts[capability.KindAnnotation]).
		Msg("discovered source files")
	return files, nil
}

func (s *GetFilePaths) walk(ctx context.Context, cfg *pipeline.Config, root string, masks bool) ([]pipeline.FileRef, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input %s is not a directory", root)
	}
	target, _ := filepath.Abs(cfg.Inputs.Target)

	var out []pipeline.FileRef
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path == root {
				return nil
			}
			if strings.HasPrefix(name, ".") || s.skipped(name) {
				return filepath.SkipDir
			}
			if abs, _ := filepath.Abs(path); target != "" && abs == target {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !d.Type().IsRegular() {
			return nil
		}
		c := cfg.Capabilities.Selector.Classify(path)
		if c.Kind == capability.KindUnknown {
			return nil
		}
		if masks {
			c.Kind = capability.KindMask
		}
		out = append(out, pipeline.FileRef{Path: path, Kind: c.Kind, Structure: c.Structure, Origin: path})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return out, nil
}

func (s *GetFilePaths) skipped(name string) bool {
	for _, n := range s.Skip {
		if n == name {
			return true
		}
	}
	return false
}

// CreateFileTree creates the dataset directory with its phase folders and
// the staging area, and starts an empty manifest. A previous manifest is
// archived first; later steps rebuild its records from the files on disk.
type CreateFileTree struct {
	// Resume keeps the records of a previous manifest.
	Resume bool `yaml:"resume"`
}

func (*CreateFileTree) Name() string { return NameCreateFileTree }

func (*CreateFileTree) Provides() []string {
	return []string{KeyDatasetDir, KeyManifestPath, KeyStagingDir}
}

func (s *CreateFileTree) Transform(_ context.Context, files []pipeline.FileRef, cfg *pipeline.Config) ([]pipeline.FileRef, error) {
	dir := cfg.Scheme.DatasetDir()
	staging := filepath.Join(dir, StagingDirName)
	dirs := []string{dir, staging}
	for _, p := range cfg.Descriptor.Phases {
		dirs = append(dirs, cfg.Scheme.ImagesDir(p.Name), cfg.Scheme.MasksDir(p.Name))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", d, err)
		}
	}

	open := manifest.Create
	if s.Resume {
		open = manifest.OpenOrCreate
	}
	st, err := open(cfg.Scheme.ManifestPath())
	if err != nil {
		return nil, err
	}
	cfg.Manifest = st

	for k, v := range map[string]string{
		KeyDatasetDir:   dir,
		KeyManifestPath: st.Path(),
		KeyStagingDir:   staging,
	} {
		if err := cfg.Set(k, v); err != nil {
			return nil, err
		}
	}
	cfg.Log.Info().Str("dir", dir).Int("records", st.Len()).Msg("output tree ready")
	return files, nil
}

// RemoveStaging deletes the staging area. References into it are dropped
// from the file list.
type RemoveStaging struct {
	Keep bool `yaml:"keep"`
}

func (*RemoveStaging) Name() string { return NameRemoveStaging }

func (*RemoveStaging) Requires() []string { return []string{KeyStagingDir} }

func (s *RemoveStaging) Transform(_ context.Context, files []pipeline.FileRef, cfg *pipeline.Config) ([]pipeline.FileRef, error) {
	staging, err := cfg.MustString(KeyStagingDir)
	if err != nil {
		return nil, err
	}
	if s.Keep {
		return files, nil
	}
	if err := os.RemoveAll(staging); err != nil {
		return nil, fmt.Errorf("failed to remove staging: %w", err)
	}
	prefix := staging + string(filepath.Separator)
	out := files[:0:0]
	for _, f := range files {
		if !strings.HasPrefix(f.Path, prefix) {
			out = append(out, f)
		}
	}
	return out, nil
}
