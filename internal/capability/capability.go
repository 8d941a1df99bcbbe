// Package capability defines the five per-dataset extension points the
// pipeline calls into, plus configurable strategies implementing them.
//
// Every strategy is a pure function of its input paths: no strategy keeps
// state between calls.
package capability

import (
	"github.com/mrsinham/umieforge/internal/dataset"
)

// ImageIDExtractor derives the image id of a file.
type ImageIDExtractor interface {
	ImageID(path string) (string, error)
}

// StudyIDExtractor derives the study id of a file.
type StudyIDExtractor interface {
	StudyID(path string) (string, error)
}

// PhaseIDExtractor derives the phase id of a file.
type PhaseIDExtractor interface {
	PhaseID(path string) (string, error)
}

// FileSelector classifies a discovered file.
type FileSelector interface {
	Classify(path string) Classification
}

// LabelExtractor derives labels for a canonical image and its mask.
// maskPath is empty when the image has no mask.
type LabelExtractor interface {
	Labels(imagePath, maskPath string) ([]dataset.Label, error)
}

// FileKind is the role of a discovered file.
type FileKind int

const (
	// KindUnknown files are ignored by every step.
	KindUnknown FileKind = iota
	// KindImage files become canonical images.
	KindImage
	// KindMask files become canonical masks.
	KindMask
	// KindAnnotation files hold vector ROIs.
	KindAnnotation
)

// String returns the string representation of a FileKind.
func (k FileKind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindMask:
		return "mask"
	case KindAnnotation:
		return "annotation"
	default:
		return "unknown"
	}
}

// Classification is the result of selecting a file.
type Classification struct {
	Kind FileKind
	// Structure is the source name of the structure a partial mask holds.
	// Empty for whole masks and other kinds.
	Structure string
}

// Set bundles the capabilities of one dataset.
type Set struct {
	ImageID  ImageIDExtractor
	StudyID  StudyIDExtractor
	PhaseID  PhaseIDExtractor
	Selector FileSelector
	Labels   LabelExtractor
}

// WithDefaults returns a copy of s where every missing capability is filled:
// file stem as image id, parent directory as study id, the first declared
// phase as phase id, extension-based selection and no labels.
func (s Set) WithDefaults(desc *dataset.Descriptor) Set {
	if s.ImageID == nil {
		s.ImageID = Use(Stem{})
	}
	if s.StudyID == nil {
		s.StudyID = Use(Segment{FromEnd: 1})
	}
	if s.PhaseID == nil {
		first := ""
		if desc != nil && len(desc.Phases) > 0 {
			first = desc.Phases[0].ID
		}
		s.PhaseID = Use(Constant{Value: first})
	}
	if s.Selector == nil {
		s.Selector = ExtensionSelector{}
	}
	if s.Labels == nil {
		s.Labels = NoLabels{}
	}
	return s
}
