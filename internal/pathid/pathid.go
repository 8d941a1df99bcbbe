// Package pathid maps canonical image identities to the on-disk layout of a
// normalized dataset and back.
//
// Layout:
//
//	{root}/{uid}_{name}/{phase_name}/Images/{uid}_{phase}_{study}_{image}.png
//	{root}/{uid}_{name}/{phase_name}/Masks/{uid}_{phase}_{study}_{image}.png
//	{root}/{uid}_{name}/{uid}_{name}.jsonl
//
// Encoding never touches the file system: callers check for an existing file
// before writing pixel data.
package pathid

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// ImagesDir is the per-phase folder holding canonical images.
	ImagesDir = "Images"
	// MasksDir is the per-phase folder holding canonical masks.
	MasksDir = "Masks"
	// Ext is the extension of every canonical raster.
	Ext = ".png"
	// ManifestExt is the extension of the dataset manifest.
	ManifestExt = ".jsonl"

	separator = "_"
)

var (
	// ErrUnknownPhase is returned when a phase id is not declared by the dataset.
	// It is a per-file condition: the image is dropped, the run continues.
	ErrUnknownPhase = errors.New("phase id not declared by dataset")
	// ErrInvalidComponent is returned when an id component is empty or would
	// break the filename grammar.
	ErrInvalidComponent = errors.New("invalid id component")
)

// ID identifies one canonical image.
type ID struct {
	DatasetUID string
	PhaseID    string
	StudyID    string
	ImageID    string
}

// Filename returns the canonical filename "{uid}_{phase}_{study}_{image}.png".
func (id ID) Filename() string {
	return strings.Join([]string{id.DatasetUID, id.PhaseID, id.StudyID, id.ImageID}, separator) + Ext
}

// String returns the filename without extension, used as umie_id in logs.
func (id ID) String() string {
	return strings.TrimSuffix(id.Filename(), Ext)
}

// Validate checks that every component can be encoded and decoded unambiguously.
func (id ID) Validate() error {
	parts := []struct {
		name, value string
	}{
		{"dataset uid", id.DatasetUID},
		{"phase id", id.PhaseID},
		{"study id", id.StudyID},
		{"image id", id.ImageID},
	}
	for _, p := range parts {
		if err := checkComponent(p.value); err != nil {
			return fmt.Errorf("%s %q: %w", p.name, p.value, err)
		}
	}
	return nil
}

func checkComponent(v string) error {
	switch {
	case v == "":
		return fmt.Errorf("%w: empty", ErrInvalidComponent)
	case strings.Contains(v, separator):
		return fmt.Errorf("%w: contains %q", ErrInvalidComponent, separator)
	case strings.ContainsAny(v, `/\`):
		return fmt.Errorf("%w: contains a path separator", ErrInvalidComponent)
	case v == "." || v == "..":
		return fmt.Errorf("%w: relative path element", ErrInvalidComponent)
	}
	return nil
}

// MalformedIDError reports a path that does not follow the canonical grammar.
type MalformedIDError struct {
	Path   string
	Reason string
}

func (e *MalformedIDError) Error() string {
	return fmt.Sprintf("malformed canonical id %q: %s", e.Path, e.Reason)
}

// Decoded is the result of decoding a canonical path.
type Decoded struct {
	ID
	PhaseName string
}

// Scheme binds the layout to one dataset and target root.
type Scheme struct {
	Root        string
	DatasetUID  string
	DatasetName string
	// Phases maps phase id to phase name.
	Phases map[string]string
}

// DatasetDir returns {root}/{uid}_{name}.
func (s Scheme) DatasetDir() string {
	return filepath.Join(s.Root, s.DatasetUID+separator+s.DatasetName)
}

// ManifestPath returns the manifest location derived from uid and name.
func (s Scheme) ManifestPath() string {
	return filepath.Join(s.DatasetDir(), s.DatasetUID+separator+s.DatasetName+ManifestExt)
}

// ImagesDir returns the image folder of a phase.
func (s Scheme) ImagesDir(phaseName string) string {
	return filepath.Join(s.DatasetDir(), phaseName, ImagesDir)
}

// MasksDir returns the mask folder of a phase.
func (s Scheme) MasksDir(phaseName string) string {
	return filepath.Join(s.DatasetDir(), phaseName, MasksDir)
}

// PhaseName resolves a phase id through the dataset phase map.
func (s Scheme) PhaseName(phaseID string) (string, bool) {
	name, ok := s.Phases[phaseID]
	return name, ok
}

// NewID builds an ID for this dataset.
func (s Scheme) NewID(phaseID, studyID, imageID string) ID {
	return ID{DatasetUID: s.DatasetUID, PhaseID: phaseID, StudyID: studyID, ImageID: imageID}
}

// Encode returns the canonical image path of id.
func (s Scheme) Encode(id ID) (string, error) {
	return s.encode(id, ImagesDir)
}

// EncodeMask returns the canonical mask path of id.
func (s Scheme) EncodeMask(id ID) (string, error) {
	return s.encode(id, MasksDir)
}

func (s Scheme) encode(id ID, kind string) (string, error) {
	if id.DatasetUID != s.DatasetUID {
		return "", fmt.Errorf("dataset uid %q does not match scheme %q", id.DatasetUID, s.DatasetUID)
	}
	if err := id.Validate(); err != nil {
		return "", err
	}
	phaseName, ok := s.Phases[id.PhaseID]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPhase, id.PhaseID)
	}
	return filepath.Join(s.DatasetDir(), phaseName, kind, id.Filename()), nil
}

// Decode recovers the id and phase name from a canonical image or mask path.
// Only the filename is parsed; the phase name comes from the phase map.
func (s Scheme) Decode(path string) (Decoded, error) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, Ext) {
		return Decoded{}, &MalformedIDError{Path: path, Reason: "missing " + Ext + " extension"}
	}
	parts := strings.Split(strings.TrimSuffix(base, Ext), separator)
	if len(parts) != 4 {
		return Decoded{}, &MalformedIDError{Path: path, Reason: fmt.Sprintf("want 4 components, got %d", len(parts))}
	}
	id := ID{DatasetUID: parts[0], PhaseID: parts[1], StudyID: parts[2], ImageID: parts[3]}
	if err := id.Validate(); err != nil {
		return Decoded{}, &MalformedIDError{Path: path, Reason: err.Error()}
	}
	if id.DatasetUID != s.DatasetUID {
		return Decoded{}, &MalformedIDError{Path: path, Reason: fmt.Sprintf("dataset uid %q, want %q", id.DatasetUID, s.DatasetUID)}
	}
	phaseName, ok := s.Phases[id.PhaseID]
	if !ok {
		return Decoded{}, &MalformedIDError{Path: path, Reason: fmt.Sprintf("unknown phase id %q", id.PhaseID)}
	}
	return Decoded{ID: id, PhaseName: phaseName}, nil
}

// MaskPathFor returns the mask path paired with a canonical image path.
func (s Scheme) MaskPathFor(imagePath string) (string, error) {
	d, err := s.Decode(imagePath)
	if err != nil {
		return "", err
	}
	return s.EncodeMask(d.ID)
}

// ImagePathFor returns the image path paired with a canonical mask path.
func (s Scheme) ImagePathFor(maskPath string) (string, error) {
	d, err := s.Decode(maskPath)
	if err != nil {
		return "", err
	}
	return s.Encode(d.ID)
}
