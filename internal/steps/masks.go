package steps

import (
	"context"
	"fmt"
	"image"
	"os"
	"strconv"

	// Canonical rasters are PNG.
	_ "image/png"

	"github.com/mrsinham/umieforge/internal/annotation"
	"github.com/mrsinham/umieforge/internal/capability"
	"github.com/mrsinham/umieforge/internal/manifest"
	"github.com/mrsinham/umieforge/internal/mask"
	"github.com/mrsinham/umieforge/internal/pathid"
	"github.com/mrsinham/umieforge/internal/pipeline"
)

func imageSize(path string) (image.Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Point{}, err
	}
	defer f.Close()
	c, _, err := image.DecodeConfig(f)
	if err != nil {
		return image.Point{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return image.Pt(c.Width, c.Height), nil
}

// pairing is a mask file matched with its canonical image.
type pairing struct {
	image, mask string
	size        image.Point
}

// pair finds the canonical image of a mask file through the extractors.
func pair(cfg *pipeline.Config, st *manifest.Store, path string) (pairing, error) {
	if !hasExt(path, ".png") {
		return pairing{}, fmt.Errorf("mask was not converted to png")
	}
	id, err := canonicalID(cfg, path)
	if err != nil {
		return pairing{}, err
	}
	img, err := cfg.Scheme.Encode(id)
	if err != nil {
		return pairing{}, err
	}
	if !st.Has(img) {
		return pairing{}, fmt.Errorf("no canonical image %s", id.String())
	}
	dst, err := cfg.Scheme.EncodeMask(id)
	if err != nil {
		return pairing{}, err
	}
	size, err := imageSize(img)
	if err != nil {
		return pairing{}, err
	}
	return pairing{image: img, mask: dst, size: size}, nil
}

func setMasks(st *manifest.Store, masks map[string]string) error {
	fns := make(map[string]func(*manifest.Record), len(masks))
	for img, m := range masks {
		if rec, ok := st.Get(img); ok && rec.MaskPath == m {
			continue
		}
		fns[img] = func(r *manifest.Record) { r.MaskPath = m }
	}
	return st.UpdateMany(fns)
}

// CopyMasks writes whole masks to the canonical mask path of their image.
// Partial masks are left for combine_masks.
type CopyMasks struct{}

func (*CopyMasks) Name() string { return NameCopyMasks }

func (*CopyMasks) Requires() []string { return []string{KeyCanonicalIDs} }

func (*CopyMasks) Provides() []string { return []string{KeyWrittenMasks} }

func (s *CopyMasks) Transform(_ context.Context, files []pipeline.FileRef, cfg *pipeline.Config) ([]pipeline.FileRef, error) {
	st, err := openManifest(cfg)
	if err != nil {
		return nil, err
	}
	var (
		out     []pipeline.FileRef
		written = []string{}
		masks   = make(map[string]string)
	)
	for _, f := range files {
		if f.Kind != capability.KindMask || f.Structure != "" {
			out = append(out, f)
			continue
		}
		p, err := pair(cfg, st, f.Path)
		if err != nil {
			if !skippable(err) {
				return nil, err
			}
			drop(cfg, s.Name(), f.Path, err)
			continue
		}
		if _, dup := masks[p.image]; dup {
			drop(cfg, s.Name(), f.Path, fmt.Errorf("image already has a mask"))
			continue
		}
		if !mask.Exists(p.mask) {
			g, err := mask.Load(f.Path)
			if err != nil {
				drop(cfg, s.Name(), f.Path, err)
				continue
			}
			if got := g.Bounds().Size(); got != p.size {
				drop(cfg, s.Name(), f.Path, fmt.Errorf("mask is %v, image is %v", got, p.size))
				continue
			}
			if err := mask.Save(p.mask, g); err != nil {
				return nil, err
			}
			written = append(written, p.mask)
		}
		masks[p.image] = p.mask
		out = append(out, pipeline.FileRef{Path: p.mask, Kind: capability.KindMask, Origin: f.Origin})
	}
	if err := setMasks(st, masks); err != nil {
		return nil, err
	}
	if err := cfg.Set(KeyWrittenMasks, written); err != nil {
		return nil, err
	}
	cfg.Log.Info().Int("masks", len(masks)).Int("written", len(written)).Msg("masks copied")
	return out, nil
}

// RecolorMasks maps source colors to canonical colors in the masks
// copy_masks wrote during this run. The table comes from the descriptor
// source colors, extended by Colors.
type RecolorMasks struct {
	// Colors maps a source value, written as a string key, to a color.
	Colors map[string]int `yaml:"colors"`

	extra map[uint8]uint8
}

func (*RecolorMasks) Name() string { return NameRecolorMasks }

func (s *RecolorMasks) check() error {
	s.extra = make(map[uint8]uint8, len(s.Colors))
	for k, to := range s.Colors {
		from, err := strconv.Atoi(k)
		if err != nil || from < 0 || from > 255 || to < 0 || to > 255 {
			return fmt.Errorf("invalid color mapping %s: %d", k, to)
		}
		s.extra[uint8(from)] = uint8(to)
	}
	return nil
}

func (*RecolorMasks) Requires() []string { return []string{KeyWrittenMasks} }

func (s *RecolorMasks) Transform(_ context.Context, files []pipeline.FileRef, cfg *pipeline.Config) ([]pipeline.FileRef, error) {
	v, _ := cfg.Get(KeyWrittenMasks)
	paths, _ := v.([]string)
	t := mask.TableFor(cfg.Descriptor.Masks)
	for from, to := range s.extra {
		t[from] = to
	}
	if t.IsIdentity() || len(paths) == 0 {
		return files, nil
	}
	changed := 0
	for _, p := range paths {
		ok, err := mask.RecolorFile(p, t)
		if err != nil {
			return nil, err
		}
		if ok {
			changed++
		}
	}
	cfg.Log.Info().Int("masks", len(paths)).Int("changed", changed).Msg("masks recolored")
	return files, nil
}

// CombineMasks merges the partial masks of each image, one file per
// structure, into its canonical mask. Order lists structures from bottom to
// top: a later structure overwrites an earlier one where both are set.
type CombineMasks struct {
	Order []string `yaml:"order"`
}

func (*CombineMasks) Name() string { return NameCombineMasks }

func (*CombineMasks) Requires() []string { return []string{KeyCanonicalIDs} }

func (s *CombineMasks) Transform(_ context.Context, files []pipeline.FileRef, cfg *pipeline.Config) ([]pipeline.FileRef, error) {
	var (
		out      []pipeline.FileRef
		partials []pipeline.FileRef
	)
	for _, f := range files {
		if f.Kind == capability.KindMask && f.Structure != "" {
			partials = append(partials, f)
			continue
		}
		out = append(out, f)
	}
	if len(partials) == 0 && len(s.Order) == 0 {
		return files, nil
	}
	combiner, err := mask.NewCombiner(cfg.Descriptor, s.Order)
	if err != nil {
		return nil, err
	}
	st, err := openManifest(cfg)
	if err != nil {
		return nil, err
	}

	groups := mask.NewGroups()
	pairs := make(map[string]pairing)
	for _, f := range partials {
		if _, ok := combiner.Structure(f.Structure); !ok {
			drop(cfg, s.Name(), f.Path, fmt.Errorf("structure %q is not in the combine order", f.Structure))
			continue
		}
		p, err := pair(cfg, st, f.Path)
		if err != nil {
			if !skippable(err) {
				return nil, err
			}
			drop(cfg, s.Name(), f.Path, err)
			continue
		}
		if err := groups.Add(p.mask, f.Structure, f.Path); err != nil {
			drop(cfg, s.Name(), f.Path, err)
			continue
		}
		pairs[p.mask] = p
	}

	masks := make(map[string]string)
	written := 0
	for _, key := range groups.Keys() {
		p := pairs[key]
		if !mask.Exists(key) {
			combined, err := s.combine(combiner, groups.Parts(key), p.size)
			if err != nil {
				drop(cfg, s.Name(), key, err)
				continue
			}
			if err := mask.Save(key, combined); err != nil {
				return nil, err
			}
			written++
		}
		masks[p.image] = key
		out = append(out, pipeline.FileRef{Path: key, Kind: capability.KindMask, Origin: key})
	}
	if err := setMasks(st, masks); err != nil {
		return nil, err
	}
	cfg.Log.Info().Int("masks", groups.Len()).Int("written", written).Msg("masks combined")
	return out, nil
}

func (s *CombineMasks) combine(c mask.Combiner, parts map[string]string, size image.Point) (*image.Gray, error) {
	imgs := make(map[string]*image.Gray, len(parts))
	for structure, path := range parts {
		g, err := mask.Load(path)
		if err != nil {
			return nil, err
		}
		if got := g.Bounds().Size(); got != size {
			return nil, fmt.Errorf("part %s is %v, image is %v", path, got, size)
		}
		imgs[structure] = g
	}
	return c.Combine(imgs)
}

// AddBlankMasks gives every image without a mask an empty one.
type AddBlankMasks struct{}

func (*AddBlankMasks) Name() string { return NameAddBlankMasks }

func (*AddBlankMasks) Requires() []string { return []string{KeyCanonicalIDs} }

func (s *AddBlankMasks) Transform(_ context.Context, files []pipeline.FileRef, cfg *pipeline.Config) ([]pipeline.FileRef, error) {
	st, err := openManifest(cfg)
	if err != nil {
		return nil, err
	}
	masks := make(map[string]string)
	for _, rec := range st.Records() {
		if rec.MaskPath != "" {
			continue
		}
		dst, err := cfg.Scheme.MaskPathFor(rec.UmiePath)
		if err != nil {
			cfg.Log.Warn().Str("step", s.Name()).Str("path", rec.UmiePath).Err(err).Msg("skipping record")
			continue
		}
		if !mask.Exists(dst) {
			size, err := imageSize(rec.UmiePath)
			if err != nil {
				cfg.Log.Warn().Str("step", s.Name()).Str("path", rec.UmiePath).Err(err).Msg("skipping record")
				continue
			}
			if err := mask.Save(dst, mask.New(size.X, size.Y)); err != nil {
				return nil, err
			}
		}
		masks[rec.UmiePath] = dst
		files = append(files, pipeline.FileRef{Path: dst, Kind: capability.KindMask, Origin: rec.UmiePath})
	}
	if err := setMasks(st, masks); err != nil {
		return nil, err
	}
	cfg.Log.Info().Int("masks", len(masks)).Msg("blank masks added")
	return files, nil
}

// RasterizeAnnotations paints the ROIs of XML annotation files into the
// masks of the images they reference. ROIs name their slice by SOP instance
// UID, which must be the image id of the canonical image.
type RasterizeAnnotations struct {
	// Structure selects the descriptor mask whose color is painted. It
	// defaults to the first declared mask.
	Structure string `yaml:"structure"`
	// MinPoints raises the number of points an ROI needs to be painted. It
	// cannot go below mask.DefaultMinPoints.
	MinPoints int `yaml:"min_points"`
	// MinMalignancy skips nodules rated below it.
	MinMalignancy int `yaml:"min_malignancy"`
}

func (*RasterizeAnnotations) Name() string { return NameRasterizeAnnotations }

func (s *RasterizeAnnotations) check() error {
	if s.MinPoints != 0 && s.MinPoints < mask.DefaultMinPoints {
		return fmt.Errorf("min_points must be at least %d, got %d", mask.DefaultMinPoints, s.MinPoints)
	}
	if s.MinMalignancy < 0 || s.MinMalignancy > 5 {
		return fmt.Errorf("min_malignancy must be between 0 and 5, got %d", s.MinMalignancy)
	}
	return nil
}

func (*RasterizeAnnotations) Requires() []string { return []string{KeyCanonicalIDs} }

func (s *RasterizeAnnotations) Transform(_ context.Context, files []pipeline.FileRef, cfg *pipeline.Config) ([]pipeline.FileRef, error) {
	docs := pipeline.Filter(files, capability.KindAnnotation)
	if len(docs) == 0 {
		return files, nil
	}
	color, err := s.color(cfg)
	if err != nil {
		return nil, err
	}
	st, err := openManifest(cfg)
	if err != nil {
		return nil, err
	}
	res := newIndex(cfg, st)
	r := mask.Rasterizer{Color: color, MinPoints: s.MinPoints}

	var total mask.Result
	masks := make(map[string]string)
	for _, f := range docs {
		doc, err := annotation.ParseFile(f.Path)
		if err != nil {
			drop(cfg, s.Name(), f.Path, err)
			continue
		}
		doc = s.filter(doc)
		res.doc = doc
		result, err := r.Rasterize(doc, res)
		if err != nil {
			return nil, fmt.Errorf("failed to rasterize %s: %w", f.Path, err)
		}
		for _, t := range result.Written {
			masks[t.Key] = t.MaskPath
		}
		total.Written = append(total.Written, result.Written...)
		total.Degenerate += result.Degenerate
		total.Unresolved += result.Unresolved
	}
	if err := setMasks(st, masks); err != nil {
		return nil, err
	}
	cfg.Log.Info().
		Int("documents", len(docs)).
		Int("masks", len(masks)).
		Int("degenerate", total.Degenerate).
		Int("unresolved", total.Unresolved).
		Msg("annotations rasterized")

	out := pipeline.Without(files, capability.KindAnnotation)
	seen := make(map[string]bool)
	for _, t := range total.Written {
		if !seen[t.MaskPath] {
			seen[t.MaskPath] = true
			out = append(out, pipeline.FileRef{Path: t.MaskPath, Kind: capability.KindMask, Origin: t.Key})
		}
	}
	return out, nil
}

func (s *RasterizeAnnotations) color(cfg *pipeline.Config) (uint8, error) {
	if s.Structure == "" {
		if len(cfg.Descriptor.Masks) == 0 {
			return 0, fmt.Errorf("dataset %s declares no mask to rasterize into", cfg.Descriptor.Name)
		}
		return cfg.Descriptor.Masks[0].Color, nil
	}
	m, ok := cfg.Descriptor.Mask(s.Structure)
	if !ok {
		return 0, fmt.Errorf("structure %q is not declared by dataset %s", s.Structure, cfg.Descriptor.Name)
	}
	return m.Color, nil
}

// filter returns doc without the nodules rated below MinMalignancy. doc is
// not modified.
func (s *RasterizeAnnotations) filter(doc *annotation.Document) *annotation.Document {
	if s.MinMalignancy <= 0 {
		return doc
	}
	out := *doc
	out.Sessions = make([]annotation.Session, len(doc.Sessions))
	for i, sess := range doc.Sessions {
		objs := make([]annotation.Object, 0, len(sess.Objects))
		for _, o := range sess.Objects {
			if o.Kind == annotation.Nodule && o.Malignancy < s.MinMalignancy {
				continue
			}
			objs = append(objs, o)
		}
		sess.Objects = objs
		out.Sessions[i] = sess
	}
	return &out
}

// index resolves ROIs against the manifest by image id. An image id shared
// by several studies is disambiguated with the document study and series
// UIDs, and left unresolved when that fails.
type index struct {
	scheme  pathid.Scheme
	byImage map[string][]indexEntry
	sizes   map[string]image.Point
	doc     *annotation.Document
}

type indexEntry struct {
	umiePath, study string
}

func newIndex(cfg *pipeline.Config, st *manifest.Store) *index {
	ix := &index{
		scheme:  cfg.Scheme,
		byImage: make(map[string][]indexEntry),
		sizes:   make(map[string]image.Point),
	}
	for _, rec := range st.Records() {
		d, err := cfg.Scheme.Decode(rec.UmiePath)
		if err != nil {
			continue
		}
		ix.byImage[d.ImageID] = append(ix.byImage[d.ImageID], indexEntry{umiePath: rec.UmiePath, study: d.StudyID})
	}
	return ix
}

func (ix *index) Resolve(roi *annotation.ROI) (mask.Target, bool) {
	entries := ix.byImage[roi.ImageUID]
	var hit *indexEntry
	switch {
	case len(entries) == 1:
		hit = &entries[0]
	case len(entries) > 1 && ix.doc != nil:
		for i, e := range entries {
			if e.study == ix.doc.StudyUID || e.study == ix.doc.SeriesUID {
				if hit != nil {
					return mask.Target{}, false
				}
				hit = &entries[i]
			}
		}
	}
	if hit == nil {
		return mask.Target{}, false
	}
	maskPath, err := ix.scheme.MaskPathFor(hit.umiePath)
	if err != nil {
		return mask.Target{}, false
	}
	size, ok := ix.sizes[hit.umiePath]
	if !ok {
		if size, err = imageSize(hit.umiePath); err != nil {
			return mask.Target{}, false
		}
		ix.sizes[hit.umiePath] = size
	}
	return mask.Target{Key: hit.umiePath, MaskPath: maskPath, Size: size}, true
}
