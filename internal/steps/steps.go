// Package steps holds the concrete pipeline steps and the registry dataset
// configs name them through.
//
// Every step writes with create-if-absent semantics: a target file that
// already exists is kept, so re-running a completed step does no work.
// Recolor, combine and rasterize are the only steps that rewrite files in
// place. A file a step cannot handle is dropped with a warning; only
// problems with the run itself are returned as errors.
package steps

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mrsinham/umieforge/internal/capability"
	"github.com/mrsinham/umieforge/internal/dataset"
	"github.com/mrsinham/umieforge/internal/manifest"
	"github.com/mrsinham/umieforge/internal/pipeline"
	"gopkg.in/yaml.v3"
)

// Config keys shared between steps.
const (
	KeyDatasetDir   = "dataset_dir"
	KeyManifestPath = "manifest_path"
	KeyStagingDir   = "staging_dir"
	KeyCanonicalIDs = "canonical_ids"
	// KeyWrittenMasks lists the canonical masks copied from source masks
	// during this run, the only masks still in source colors.
	KeyWrittenMasks = "written_masks"
	// KeyReport holds the *manifest.Report of validate_manifest.
	KeyReport = "validation_report"
)

// Step names.
const (
	NameGetFilePaths         = "get_file_paths"
	NameCreateFileTree       = "create_file_tree"
	NameConvertDICOM         = "convert_dicom"
	NameConvertNIfTI         = "convert_nifti"
	NameConvertImages        = "convert_images"
	NameAddCanonicalIDs      = "add_canonical_ids"
	NameCopyMasks            = "copy_masks"
	NameRasterizeAnnotations = "rasterize_annotations"
	NameRecolorMasks         = "recolor_masks"
	NameCombineMasks         = "combine_masks"
	NameAddBlankMasks        = "add_blank_masks"
	NameAddLabels            = "add_labels"
	NamePruneUnannotated     = "prune_unannotated"
	NameValidateManifest     = "validate_manifest"
	NameRemoveStaging        = "remove_staging"
)

// StagingDirName is the scratch directory created inside the dataset dir.
const StagingDirName = ".staging"

// DefaultOrder is the chain used when a dataset config declares no steps.
var DefaultOrder = []string{
	NameGetFilePaths,
	NameCreateFileTree,
	NameConvertDICOM,
	NameConvertNIfTI,
	NameConvertImages,
	NameAddCanonicalIDs,
	NameCopyMasks,
	NameRecolorMasks,
	NameRasterizeAnnotations,
	NameCombineMasks,
	NameAddLabels,
	NamePruneUnannotated,
	NameValidateManifest,
	NameRemoveStaging,
}

// Factory builds a step from its config options.
type Factory func(opts map[string]any) (pipeline.Step, error)

var registry = map[string]Factory{
	NameGetFilePaths:         factory[GetFilePaths](),
	NameCreateFileTree:       factory[CreateFileTree](),
	NameConvertDICOM:         factory[ConvertDICOM](),
	NameConvertNIfTI:         factory[ConvertNIfTI](),
	NameConvertImages:        factory[ConvertImages](),
	NameAddCanonicalIDs:      factory[AddCanonicalIDs](),
	NameCopyMasks:            factory[CopyMasks](),
	NameRasterizeAnnotations: factory[RasterizeAnnotations](),
	NameRecolorMasks:         factory[RecolorMasks](),
	NameCombineMasks:         factory[CombineMasks](),
	NameAddBlankMasks:        factory[AddBlankMasks](),
	NameAddLabels:            factory[AddLabels](),
	NamePruneUnannotated:     factory[PruneUnannotated](),
	NameValidateManifest:     factory[ValidateManifest](),
	NameRemoveStaging:        factory[RemoveStaging](),
}

// checker is implemented by steps validating their options.
type checker interface {
	check() error
}

// factory decodes options into a fresh S. Unknown option keys are an error.
func factory[S any, P interface {
	*S
	pipeline.Step
}]() Factory {
	return func(opts map[string]any) (pipeline.Step, error) {
		p := P(new(S))
		if err := decodeOptions(opts, p); err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name(), err)
		}
		if c, ok := any(p).(checker); ok {
			if err := c.check(); err != nil {
				return nil, fmt.Errorf("%s: %w", p.Name(), err)
			}
		}
		return p, nil
	}
}

func decodeOptions(opts map[string]any, v any) error {
	if len(opts) == 0 {
		return nil
	}
	raw, err := yaml.Marshal(opts)
	if err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}

// New builds the registered step of spec.
func New(spec dataset.StepSpec) (pipeline.Step, error) {
	f, ok := registry[spec.Name]
	if !ok {
		return nil, fmt.Errorf("unknown step %q (known: %s)", spec.Name, strings.Join(Names(), ", "))
	}
	return f(spec.Options)
}

// mustPrecede lists step pairs whose order is fixed when both are present.
// Rasterized ROIs carry canonical colors that a later recolor would remap.
var mustPrecede = [][2]string{
	{NameRecolorMasks, NameRasterizeAnnotations},
}

// Build builds every step of specs in order. An empty list yields
// DefaultOrder with default options.
func Build(specs []dataset.StepSpec) ([]pipeline.Step, error) {
	if len(specs) == 0 {
		for _, n := range DefaultOrder {
			specs = append(specs, dataset.StepSpec{Name: n})
		}
	}
	at := make(map[string]int, len(specs))
	out := make([]pipeline.Step, 0, len(specs))
	for i, s := range specs {
		st, err := New(s)
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		at[s.Name] = i
		out = append(out, st)
	}
	for _, p := range mustPrecede {
		first, ok1 := at[p[0]]
		then, ok2 := at[p[1]]
		if ok1 && ok2 && first > then {
			return nil, fmt.Errorf("step %s must run before %s", p[0], p[1])
		}
	}
	return out, nil
}

// Names returns the registered step names, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func drop(cfg *pipeline.Config, step, path string, err error) {
	cfg.Log.Warn().Str("step", step).Str("path", path).Err(err).Msg("dropping file")
}

func openManifest(cfg *pipeline.Config) (*manifest.Store, error) {
	if cfg.Manifest == nil {
		return nil, fmt.Errorf("manifest is not open, %s must run first", NameCreateFileTree)
	}
	return cfg.Manifest, nil
}

// stagingPath maps a source file to its staging location, mirroring its
// path relative to the masks or source input.
func stagingPath(cfg *pipeline.Config, src string) (string, error) {
	staging, err := cfg.MustString(KeyStagingDir)
	if err != nil {
		return "", err
	}
	type root struct{ dir, prefix string }
	roots := []root{{cfg.Inputs.Source, ""}}
	if cfg.Inputs.Masks != "" {
		roots = append([]root{{cfg.Inputs.Masks, "masks"}}, roots...)
	}
	for _, r := range roots {
		rel, err := filepath.Rel(r.dir, src)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return filepath.Join(staging, r.prefix, rel), nil
	}
	return "", fmt.Errorf("%s is outside of the run inputs", src)
}

// withExt replaces the extension of p, treating .nii.gz as one extension.
func withExt(p, ext string) string {
	dir, base := filepath.Split(p)
	return filepath.Join(dir, capability.TrimExt(base)+ext)
}

// copyFile copies src to dst through a temporary file unless dst exists. It
// reports whether dst was written.
func copyFile(src, dst string) (bool, error) {
	if _, err := os.Stat(dst); err == nil {
		return false, nil
	}
	in, err := os.Open(src)
	if err != nil {
		return false, err
	}
	defer in.Close()

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return false, err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return false, err
	}
	if err := tmp.Close(); err != nil {
		return false, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return false, err
	}
	return true, nil
}
