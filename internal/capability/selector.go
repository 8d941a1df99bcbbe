package capability

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// ImageExtensions lists the extensions the default selector treats as images.
var ImageExtensions = []string{".dcm", ".nii", ".nii.gz", ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff"}

// Ext returns the lower-cased extension of path, treating .nii.gz as one.
func Ext(path string) string {
	lower := strings.ToLower(filepath.Base(path))
	for _, ext := range multiExts {
		if strings.HasSuffix(lower, ext) {
			return ext
		}
	}
	return filepath.Ext(lower)
}

// ExtensionSelector classifies by extension only: known raster and volume
// formats are images, .xml files are annotations.
type ExtensionSelector struct{}

// Classify implements FileSelector.
func (ExtensionSelector) Classify(path string) Classification {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return Classification{}
	}
	ext := Ext(path)
	if ext == ".xml" {
		return Classification{Kind: KindAnnotation}
	}
	for _, e := range ImageExtensions {
		if ext == e {
			return Classification{Kind: KindImage}
		}
	}
	return Classification{}
}

// PatternSelector classifies with regular expressions on the slash-separated
// path. Ignore wins over everything, then Mask, Annotation and Image. When
// Image is empty, files not matched otherwise fall back to ExtensionSelector.
type PatternSelector struct {
	Image      []*regexp.Regexp
	Mask       []*regexp.Regexp
	Annotation []*regexp.Regexp
	Ignore     []*regexp.Regexp
	// StructureGroup, when non-zero, is the capture group of the matching
	// mask pattern naming the structure of a partial mask.
	StructureGroup int
}

// Classify implements FileSelector.
func (s PatternSelector) Classify(path string) Classification {
	p := filepath.ToSlash(path)
	if matchAny(s.Ignore, p) != nil {
		return Classification{}
	}
	for _, re := range s.Mask {
		m := re.FindStringSubmatch(p)
		if m == nil {
			continue
		}
		c := Classification{Kind: KindMask}
		if s.StructureGroup > 0 && s.StructureGroup < len(m) {
			c.Structure = m[s.StructureGroup]
		}
		return c
	}
	if matchAny(s.Annotation, p) != nil {
		return Classification{Kind: KindAnnotation}
	}
	if len(s.Image) == 0 {
		c := ExtensionSelector{}.Classify(path)
		if c.Kind == KindAnnotation && len(s.Annotation) > 0 {
			return Classification{}
		}
		return c
	}
	if matchAny(s.Image, p) != nil {
		return Classification{Kind: KindImage}
	}
	return Classification{}
}

func matchAny(res []*regexp.Regexp, p string) *regexp.Regexp {
	for _, re := range res {
		if re.MatchString(p) {
			return re
		}
	}
	return nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
