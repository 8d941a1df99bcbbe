package steps

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mrsinham/umieforge/internal/capability"
	"github.com/mrsinham/umieforge/internal/convert"
	"github.com/mrsinham/umieforge/internal/dicom"
	"github.com/mrsinham/umieforge/internal/mask"
	"github.com/mrsinham/umieforge/internal/pipeline"
	"github.com/mrsinham/umieforge/internal/util"
)

var rasterExts = []string{".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff"}

func hasExt(path string, exts ...string) bool {
	ext := capability.Ext(path)
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// convertEach replaces every ref matching match with the refs fn returns. A
// failing ref is dropped with a warning; the others keep their position.
// When two refs stage to the same path the first one in file order owns it
// and the later one is dropped. With several workers the owner is converted
// again afterwards, so the staged bytes never depend on scheduling.
func convertEach(cfg *pipeline.Config, step string, files []pipeline.FileRef, workers int,
	match func(pipeline.FileRef) bool, fn func(pipeline.FileRef) ([]pipeline.FileRef, error)) []pipeline.FileRef {

	var todo []int
	for i, f := range files {
		if match(f) {
			todo = append(todo, i)
		}
	}
	if len(todo) == 0 {
		return files
	}
	results := parallel(todo, workers, func(i int) converted {
		refs, err := fn(files[i])
		return converted{refs: refs, err: err}
	})

	owner := make(map[string]int)
	lost := make(map[int][]string)
	failed := 0
	for n, r := range results {
		if r.err != nil {
			continue
		}
		if p := conflict(owner, r.refs); p != "" {
			o := owner[p]
			for _, ref := range r.refs {
				lost[o] = append(lost[o], ref.Path)
			}
			results[n] = converted{err: fmt.Errorf("staged path %s already produced by %s", p, files[todo[o]].Path)}
			continue
		}
		for _, ref := range r.refs {
			owner[ref.Path] = n
		}
	}
	if workers > 1 {
		for _, n := range sortedKeys(lost) {
			for _, ref := range results[n].refs {
				os.Remove(ref.Path)
			}
			for _, p := range lost[n] {
				os.Remove(p)
			}
			refs, err := fn(files[todo[n]])
			results[n] = converted{refs: refs, err: err}
		}
	}

	out := make([]pipeline.FileRef, 0, len(files))
	next := 0
	for i, f := range files {
		if next < len(todo) && todo[next] == i {
			r := results[next]
			next++
			if r.err != nil {
				drop(cfg, step, f.Path, r.err)
				failed++
				continue
			}
			out = append(out, r.refs...)
			continue
		}
		out = append(out, f)
	}
	cfg.Log.Info().Str("step", step).Int("converted", len(todo)-failed).Int("failed", failed).Msg("conversion done")
	return out
}

// conflict returns the first path of refs already owned, or "".
func conflict(owner map[string]int, refs []pipeline.FileRef) string {
	for _, ref := range refs {
		if _, taken := owner[ref.Path]; taken {
			return ref.Path
		}
	}
	return ""
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func derived(ref pipeline.FileRef, paths ...string) []pipeline.FileRef {
	out := make([]pipeline.FileRef, len(paths))
	for i, p := range paths {
		out[i] = pipeline.FileRef{Path: p, Kind: ref.Kind, Structure: ref.Structure, Origin: ref.Origin}
	}
	return out
}

// staged returns the slices already written under dir, or nil.
func staged(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || filepath.Ext(e.Name()) != ".png" {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out
}

// saveFrames writes one frame to base+".png", several frames to numbered
// slices under base.
func saveFrames(base string, frames []*image.Gray) ([]string, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frame to write")
	}
	if len(frames) == 1 {
		p := base + ".png"
		return []string{p}, mask.Save(p, frames[0])
	}
	paths := make([]string, len(frames))
	for k, g := range frames {
		paths[k] = convert.SlicePath(base, k)
		if err := mask.Save(paths[k], g); err != nil {
			return nil, err
		}
	}
	return paths, nil
}

// existing returns what a previous run staged at base.
func existing(base string) []string {
	if mask.Exists(base + ".png") {
		return []string{base + ".png"}
	}
	return staged(base)
}

// ConvertDICOM renders every DICOM image to 8-bit PNG in the staging area.
// With a Layout the staged path is built from tag values, e.g.
// StudyInstanceUID/SeriesNumber/SOPInstanceUID, instead of mirroring the
// source tree. Multi-frame instances stage one slice per frame.
type ConvertDICOM struct {
	Layout []string `yaml:"layout"`
	// Window is "auto" (the instance VOI window when present) or "minmax".
	Window  string `yaml:"window"`
	MaxSize int    `yaml:"max_size"`
	// Workers above 1 converts files concurrently.
	Workers int `yaml:"workers"`

	tags []util.TagInfo
}

func (*ConvertDICOM) Name() string { return NameConvertDICOM }

func (*ConvertDICOM) Requires() []string { return []string{KeyStagingDir} }

func (s *ConvertDICOM) check() error {
	switch s.Window {
	case "", "auto", "minmax":
	default:
		return fmt.Errorf("unknown window %q (want auto or minmax)", s.Window)
	}
	tags, err := util.ResolveLayout(s.Layout)
	if err != nil {
		return err
	}
	s.tags = tags
	return nil
}

func (s *ConvertDICOM) Transform(_ context.Context, files []pipeline.FileRef, cfg *pipeline.Config) ([]pipeline.FileRef, error) {
	staging, err := cfg.MustString(KeyStagingDir)
	if err != nil {
		return nil, err
	}
	match := func(f pipeline.FileRef) bool {
		return f.Kind == capability.KindImage && hasExt(f.Path, ".dcm")
	}
	return convertEach(cfg, s.Name(), files, s.Workers, match, func(f pipeline.FileRef) ([]pipeline.FileRef, error) {
		base, err := s.base(cfg, staging, f.Path)
		if err != nil {
			return nil, err
		}
		if paths := existing(base); len(paths) > 0 {
			return derived(f, paths...), nil
		}
		img, err := dicom.Read(f.Path)
		if err != nil {
			return nil, err
		}
		if s.Window == "minmax" {
			img.HasWindow = false
		}
		frames, err := convert.Frames(img)
		if err != nil {
			return nil, err
		}
		for i := range frames {
			frames[i] = convert.Resize(frames[i], s.MaxSize, false)
		}
		paths, err := saveFrames(base, frames)
		if err != nil {
			return nil, err
		}
		return derived(f, paths...), nil
	}), nil
}

func (s *ConvertDICOM) base(cfg *pipeline.Config, staging, path string) (string, error) {
	if len(s.tags) == 0 {
		p, err := stagingPath(cfg, path)
		if err != nil {
			return "", err
		}
		return withExt(p, ""), nil
	}
	hdr, err := dicom.ReadHeader(path)
	if err != nil {
		return "", err
	}
	vals, err := hdr.Layout(s.tags)
	if err != nil {
		return "", err
	}
	for i, v := range vals {
		if strings.ContainsAny(v, `/\`) || v == "." || v == ".." {
			return "", fmt.Errorf("tag %s value %q cannot name a directory", s.tags[i].Name, v)
		}
	}
	return filepath.Join(append([]string{staging}, vals...)...), nil
}

// ConvertNIfTI stages every slice of NIfTI volumes as 8-bit PNG. Image
// volumes are scaled with their own range; mask volumes keep label values.
// Slice k of volume dir/case.nii.gz is staged as dir/case/000k.png.
type ConvertNIfTI struct {
	MaxSize int `yaml:"max_size"`
	Workers int `yaml:"workers"`
}

func (*ConvertNIfTI) Name() string { return NameConvertNIfTI }

func (*ConvertNIfTI) Requires() []string { return []string{KeyStagingDir} }

func (s *ConvertNIfTI) Transform(_ context.Context, files []pipeline.FileRef, cfg *pipeline.Config) ([]pipeline.FileRef, error) {
	match := func(f pipeline.FileRef) bool {
		return (f.Kind == capability.KindImage || f.Kind == capability.KindMask) && hasExt(f.Path, ".nii", ".nii.gz")
	}
	return convertEach(cfg, s.Name(), files, s.Workers, match, func(f pipeline.FileRef) ([]pipeline.FileRef, error) {
		p, err := stagingPath(cfg, f.Path)
		if err != nil {
			return nil, err
		}
		dir := withExt(p, "")
		if paths := staged(dir); len(paths) > 0 {
			return derived(f, paths...), nil
		}
		v, err := convert.ReadNIfTI(f.Path)
		if err != nil {
			return nil, err
		}
		labels := f.Kind == capability.KindMask
		slices := v.Slices(labels)
		paths := make([]string, len(slices))
		for k, g := range slices {
			paths[k] = convert.SlicePath(dir, k)
			if err := mask.Save(paths[k], convert.Resize(g, s.MaxSize, labels)); err != nil {
				return nil, err
			}
		}
		return derived(f, paths...), nil
	}), nil
}

// ConvertImages stages raster images and masks as 8-bit gray PNG, resized
// when MaxSize is set. Masks are resampled without interpolation.
type ConvertImages struct {
	MaxSize int `yaml:"max_size"`
	Workers int `yaml:"workers"`
}

func (*ConvertImages) Name() string { return NameConvertImages }

func (*ConvertImages) Requires() []string { return []string{KeyStagingDir} }

func (s *ConvertImages) Transform(_ context.Context, files []pipeline.FileRef, cfg *pipeline.Config) ([]pipeline.FileRef, error) {
	staging, err := cfg.MustString(KeyStagingDir)
	if err != nil {
		return nil, err
	}
	prefix := staging + string(filepath.Separator)
	match := func(f pipeline.FileRef) bool {
		return (f.Kind == capability.KindImage || f.Kind == capability.KindMask) &&
			hasExt(f.Path, rasterExts...) && !strings.HasPrefix(f.Path, prefix)
	}
	return convertEach(cfg, s.Name(), files, s.Workers, match, func(f pipeline.FileRef) ([]pipeline.FileRef, error) {
		p, err := stagingPath(cfg, f.Path)
		if err != nil {
			return nil, err
		}
		dst := withExt(p, ".png")
		if mask.Exists(dst) {
			return derived(f, dst), nil
		}
		g, err := convert.Raster(f.Path)
		if err != nil {
			return nil, err
		}
		if err := mask.Save(dst, convert.Resize(g, s.MaxSize, f.Kind == capability.KindMask)); err != nil {
			return nil, err
		}
		return derived(f, dst), nil
	}), nil
}
