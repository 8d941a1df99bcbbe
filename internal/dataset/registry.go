package dataset

import (
	"fmt"
	"sort"
)

// ColorRegistry maps a canonical structure name to its mask color. It is
// shared by every dataset written into one target tree.
type ColorRegistry map[string]uint8

// DefaultColors is the built-in registry.
var DefaultColors = ColorRegistry{
	"background":       0,
	"lung_nodule":      1,
	"kidney":           2,
	"kidney_tumor":     3,
	"kidney_cyst":      4,
	"liver":            5,
	"liver_tumor":      6,
	"pancreas":         7,
	"pancreas_tumor":   8,
	"breast_lesion":    9,
	"brain_tumor":      10,
	"prostate":         11,
	"prostate_lesion":  12,
	"lung":             13,
	"pleural_effusion": 14,
	"covid_lesion":     15,
}

// Color returns the registered color of a structure.
func (r ColorRegistry) Color(structure string) (uint8, bool) {
	c, ok := r[structure]
	return c, ok
}

// Structure returns the structure registered for a color.
func (r ColorRegistry) Structure(color uint8) (string, bool) {
	for name, c := range r {
		if c == color {
			return name, true
		}
	}
	return "", false
}

// Validate checks that no two structures share a color.
func (r ColorRegistry) Validate() error {
	byColor := make(map[uint8]string, len(r))
	for _, name := range r.Names() {
		c := r[name]
		if other, dup := byColor[c]; dup {
			return fmt.Errorf("structures %q and %q share color %d", other, name, c)
		}
		byColor[c] = name
	}
	return nil
}

// Names returns the structure names in sorted order.
func (r ColorRegistry) Names() []string {
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Merge returns a copy of r overlaid with other.
func (r ColorRegistry) Merge(other ColorRegistry) ColorRegistry {
	out := make(ColorRegistry, len(r)+len(other))
	for k, v := range r {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// LabelRegistry is the set of canonical label names.
type LabelRegistry map[string]struct{}

// DefaultLabels is the built-in label registry.
var DefaultLabels = NewLabelRegistry(
	"NormalCase",
	"Nodule",
	"NonNodule",
	"Malignant",
	"Benign",
	"Cancer",
	"Kidney_tumor",
	"Kidney_cyst",
	"Kidney_stone",
	"Liver_tumor",
	"Pancreas_tumor",
	"Breast_lesion",
	"Brain_tumor",
	"Glioma",
	"Meningioma",
	"Pituitary",
	"Prostate_lesion",
	"Pneumonia",
	"COVID19",
	"Pleural_effusion",
	"Calcification",
	"Mass",
)

// NewLabelRegistry builds a registry from names.
func NewLabelRegistry(names ...string) LabelRegistry {
	r := make(LabelRegistry, len(names))
	for _, n := range names {
		r[n] = struct{}{}
	}
	return r
}

// Has reports whether name is a canonical label.
func (r LabelRegistry) Has(name string) bool {
	_, ok := r[name]
	return ok
}

// With returns a copy of r extended with names.
func (r LabelRegistry) With(names ...string) LabelRegistry {
	out := make(LabelRegistry, len(r)+len(names))
	for k := range r {
		out[k] = struct{}{}
	}
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

// Names returns the label names in sorted order.
func (r LabelRegistry) Names() []string {
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
