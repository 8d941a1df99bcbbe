// Package dataset holds the per-dataset descriptor, the process-wide color and
// label registries, and the configuration file loader.
package dataset

import (
	"fmt"
	"strings"

	"github.com/mrsinham/umieforge/internal/pathid"
)

// Phase is one acquisition stage declared by a dataset.
type Phase struct {
	ID   string `yaml:"id" toml:"id" json:"id"`
	Name string `yaml:"name" toml:"name" json:"name"`
	// Comparative marks the phase relative to others, e.g. "pre" or "post".
	Comparative string `yaml:"comparative,omitempty" toml:"comparative" json:"comparative,omitempty"`
}

// Mask is the unified structure entry consumed by recoloring, combining and
// rasterizing. Color is the canonical target color; SourceColor and SourceName
// are translation hints only.
type Mask struct {
	Structure   string `yaml:"structure" toml:"structure" json:"structure"`
	Color       uint8  `yaml:"color" toml:"color" json:"color"`
	SourceColor *uint8 `yaml:"source_color,omitempty" toml:"source_color" json:"source_color,omitempty"`
	SourceName  string `yaml:"source_name,omitempty" toml:"source_name" json:"source_name,omitempty"`
	// Label is the canonical label assigned to images whose mask carries Color.
	Label string `yaml:"label,omitempty" toml:"label" json:"label,omitempty"`
}

// Descriptor is immutable once a run starts.
type Descriptor struct {
	UID    string  `yaml:"uid" toml:"uid" json:"uid"`
	Name   string  `yaml:"name" toml:"name" json:"name"`
	Phases []Phase `yaml:"phases" toml:"phases" json:"phases"`
	Masks  []Mask  `yaml:"masks,omitempty" toml:"masks" json:"masks,omitempty"`
	// Labels maps a source label to one or more canonical labels.
	Labels map[string][]string `yaml:"labels,omitempty" toml:"labels" json:"labels,omitempty"`
}

// Phase returns the phase with the given id.
func (d *Descriptor) Phase(id string) (Phase, bool) {
	for _, p := range d.Phases {
		if p.ID == id {
			return p, true
		}
	}
	return Phase{}, false
}

// PhaseByName returns the phase with the given name.
func (d *Descriptor) PhaseByName(name string) (Phase, bool) {
	for _, p := range d.Phases {
		if p.Name == name {
			return p, true
		}
	}
	return Phase{}, false
}

// Mask returns the mask entry for a structure.
func (d *Descriptor) Mask(structure string) (Mask, bool) {
	for _, m := range d.Masks {
		if m.Structure == structure {
			return m, true
		}
	}
	return Mask{}, false
}

// MaskBySource returns the mask entry whose source name matches, falling back
// to the structure name.
func (d *Descriptor) MaskBySource(name string) (Mask, bool) {
	for _, m := range d.Masks {
		if m.SourceName != "" && m.SourceName == name {
			return m, true
		}
	}
	return d.Mask(name)
}

// Scheme returns the path scheme for this dataset under root.
func (d *Descriptor) Scheme(root string) pathid.Scheme {
	phases := make(map[string]string, len(d.Phases))
	for _, p := range d.Phases {
		phases[p.ID] = p.Name
	}
	return pathid.Scheme{
		Root:        root,
		DatasetUID:  d.UID,
		DatasetName: d.Name,
		Phases:      phases,
	}
}

// Validate checks the descriptor against the registries of this run.
func (d *Descriptor) Validate(colors ColorRegistry, labels LabelRegistry) error {
	if d.UID == "" || strings.ContainsAny(d.UID, `_/\`) {
		return fmt.Errorf("dataset uid %q must be non-empty and free of '_' and path separators", d.UID)
	}
	if d.Name == "" || strings.ContainsAny(d.Name, `_/\`) {
		return fmt.Errorf("dataset name %q must be non-empty and free of '_' and path separators", d.Name)
	}
	if len(d.Phases) == 0 {
		return fmt.Errorf("dataset %s declares no phases", d.Name)
	}

	ids := make(map[string]bool, len(d.Phases))
	names := make(map[string]bool, len(d.Phases))
	for _, p := range d.Phases {
		if p.ID == "" || strings.ContainsAny(p.ID, `_/\`) {
			return fmt.Errorf("phase id %q must be non-empty and free of '_' and path separators", p.ID)
		}
		if p.Name == "" || strings.ContainsAny(p.Name, `/\`) {
			return fmt.Errorf("phase %s: invalid name %q", p.ID, p.Name)
		}
		if ids[p.ID] {
			return fmt.Errorf("duplicate phase id %q", p.ID)
		}
		if names[p.Name] {
			return fmt.Errorf("duplicate phase name %q", p.Name)
		}
		ids[p.ID] = true
		names[p.Name] = true
	}

	seen := make(map[string]bool, len(d.Masks))
	for _, m := range d.Masks {
		if seen[m.Structure] {
			return fmt.Errorf("duplicate mask structure %q", m.Structure)
		}
		seen[m.Structure] = true
		want, ok := colors.Color(m.Structure)
		if !ok {
			return fmt.Errorf("mask structure %q is not in the color registry", m.Structure)
		}
		if m.Color != want {
			return fmt.Errorf("mask structure %q has color %d, registry says %d", m.Structure, m.Color, want)
		}
		if m.Label != "" && !labels.Has(m.Label) {
			return fmt.Errorf("mask structure %q: label %q is not registered", m.Structure, m.Label)
		}
	}

	for src, targets := range d.Labels {
		for _, t := range targets {
			if !labels.Has(t) {
				return fmt.Errorf("label map %q -> %q: target is not registered", src, t)
			}
		}
	}
	return nil
}
