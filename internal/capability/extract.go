package capability

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Extractor returns one string value derived from a path.
type Extractor interface {
	Extract(path string) (string, error)
}

// Slot adapts an Extractor to the image, study and phase id interfaces.
type Slot struct {
	Extractor
}

// Use wraps e so it can fill any id capability.
func Use(e Extractor) Slot { return Slot{Extractor: e} }

// ImageID implements ImageIDExtractor.
func (s Slot) ImageID(path string) (string, error) { return s.Extract(path) }

// StudyID implements StudyIDExtractor.
func (s Slot) StudyID(path string) (string, error) { return s.Extract(path) }

// PhaseID implements PhaseIDExtractor.
func (s Slot) PhaseID(path string) (string, error) { return s.Extract(path) }

// multiExts are stripped as a whole before the last extension.
var multiExts = []string{".nii.gz", ".tar.gz"}

// TrimExt removes the extension of a file name, treating .nii.gz as one.
func TrimExt(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range multiExts {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// Stem extracts the file name without extension.
type Stem struct{}

// Extract implements Extractor.
func (Stem) Extract(path string) (string, error) {
	stem := TrimExt(filepath.Base(path))
	if stem == "" {
		return "", fmt.Errorf("empty file stem in %q", path)
	}
	return stem, nil
}

// Segment extracts one path element counted from the end: 0 is the file stem,
// 1 its parent directory, and so on.
type Segment struct {
	FromEnd int
}

// Extract implements Extractor.
func (s Segment) Extract(path string) (string, error) {
	if s.FromEnd == 0 {
		return Stem{}.Extract(path)
	}
	parts := strings.Split(filepath.ToSlash(filepath.Clean(path)), "/")
	i := len(parts) - 1 - s.FromEnd
	if s.FromEnd < 0 || i < 0 || parts[i] == "" {
		return "", fmt.Errorf("path %q has no segment %d from the end", path, s.FromEnd)
	}
	return parts[i], nil
}

// Constant always returns Value.
type Constant struct {
	Value string
}

// Extract implements Extractor.
func (c Constant) Extract(string) (string, error) {
	if c.Value == "" {
		return "", fmt.Errorf("constant extractor has no value")
	}
	return c.Value, nil
}

// Regex matches Pattern against the slash-separated path and returns capture
// group Group (0 for the whole match).
type Regex struct {
	Pattern *regexp.Regexp
	Group   int
}

// NewRegex compiles pattern and checks that group exists.
func NewRegex(pattern string, group int) (Regex, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Regex{}, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	if group < 0 || group > re.NumSubexp() {
		return Regex{}, fmt.Errorf("pattern %q has no group %d", pattern, group)
	}
	return Regex{Pattern: re, Group: group}, nil
}

// Extract implements Extractor.
func (r Regex) Extract(path string) (string, error) {
	m := r.Pattern.FindStringSubmatch(filepath.ToSlash(path))
	if m == nil || m[r.Group] == "" {
		return "", fmt.Errorf("path %q does not match %q", path, r.Pattern)
	}
	return m[r.Group], nil
}

// Lookup remaps the value of Inner through Table. Values missing from the
// table pass through unchanged.
type Lookup struct {
	Inner Extractor
	Table map[string]string
}

// Extract implements Extractor.
func (l Lookup) Extract(path string) (string, error) {
	v, err := l.Inner.Extract(path)
	if err != nil {
		return "", err
	}
	if mapped, ok := l.Table[v]; ok {
		return mapped, nil
	}
	return v, nil
}
