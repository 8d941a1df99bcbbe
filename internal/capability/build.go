package capability

import (
	"fmt"

	"github.com/mrsinham/umieforge/internal/dataset"
	"github.com/mrsinham/umieforge/internal/pathid"
)

// BuildOptions carries run inputs some strategies need.
type BuildOptions struct {
	Scheme pathid.Scheme
	// LabelsPath is the run's labels input, the default file of table labels.
	LabelsPath string
}

// Build constructs the capability set described by spec, with defaults for
// everything spec leaves out.
func Build(spec dataset.StrategySpec, desc *dataset.Descriptor, opts BuildOptions) (Set, error) {
	var set Set

	if spec.ImageID != nil {
		e, err := buildExtractor(*spec.ImageID)
		if err != nil {
			return Set{}, fmt.Errorf("image_id: %w", err)
		}
		set.ImageID = Use(e)
	}
	if spec.StudyID != nil {
		e, err := buildExtractor(*spec.StudyID)
		if err != nil {
			return Set{}, fmt.Errorf("study_id: %w", err)
		}
		set.StudyID = Use(e)
	}
	if spec.PhaseID != nil {
		e, err := buildExtractor(*spec.PhaseID)
		if err != nil {
			return Set{}, fmt.Errorf("phase_id: %w", err)
		}
		set.PhaseID = Use(e)
	}
	if spec.Selector != nil {
		sel, err := buildSelector(*spec.Selector)
		if err != nil {
			return Set{}, fmt.Errorf("selector: %w", err)
		}
		set.Selector = sel
	}
	if len(spec.Labels) > 0 {
		chain := make(Chain, 0, len(spec.Labels))
		for i, ls := range spec.Labels {
			le, err := buildLabels(ls, desc, opts)
			if err != nil {
				return Set{}, fmt.Errorf("labels[%d]: %w", i, err)
			}
			chain = append(chain, le)
		}
		if len(chain) == 1 {
			set.Labels = chain[0]
		} else {
			set.Labels = chain
		}
	}
	return set.WithDefaults(desc), nil
}

func buildExtractor(spec dataset.ExtractorSpec) (Extractor, error) {
	var e Extractor
	switch spec.Type {
	case "stem", "":
		e = Stem{}
	case "parent":
		e = Segment{FromEnd: 1}
	case "segment":
		if spec.FromEnd < 0 {
			return nil, fmt.Errorf("segment from_end must be >= 0, got %d", spec.FromEnd)
		}
		e = Segment{FromEnd: spec.FromEnd}
	case "regex":
		re, err := NewRegex(spec.Pattern, spec.Group)
		if err != nil {
			return nil, err
		}
		e = re
	case "constant":
		if spec.Value == "" {
			return nil, fmt.Errorf("constant extractor needs a value")
		}
		e = Constant{Value: spec.Value}
	default:
		return nil, fmt.Errorf("unknown extractor type %q", spec.Type)
	}
	if len(spec.Lookup) > 0 {
		e = Lookup{Inner: e, Table: spec.Lookup}
	}
	return e, nil
}

func buildSelector(spec dataset.SelectorSpec) (PatternSelector, error) {
	var (
		sel PatternSelector
		err error
	)
	if sel.Image, err = compileAll(spec.Image); err != nil {
		return sel, err
	}
	if sel.Mask, err = compileAll(spec.Mask); err != nil {
		return sel, err
	}
	if sel.Annotation, err = compileAll(spec.Annotation); err != nil {
		return sel, err
	}
	if sel.Ignore, err = compileAll(spec.Ignore); err != nil {
		return sel, err
	}
	if spec.StructureGroup > 0 {
		for _, re := range sel.Mask {
			if spec.StructureGroup > re.NumSubexp() {
				return sel, fmt.Errorf("mask pattern %q has no group %d", re, spec.StructureGroup)
			}
		}
	}
	sel.StructureGroup = spec.StructureGroup
	return sel, nil
}

func buildLabels(spec dataset.LabelSpec, desc *dataset.Descriptor, opts BuildOptions) (LabelExtractor, error) {
	switch spec.Type {
	case "masks":
		return MaskLabels{Masks: desc.Masks, Normal: spec.Normal}, nil
	case "table":
		file := spec.File
		if file == "" {
			file = opts.LabelsPath
		}
		if file == "" {
			return nil, fmt.Errorf("table labels need a file or a labels input")
		}
		key := TableKey(spec.Key)
		switch key {
		case "":
			key = KeyStudy
		case KeyStudy, KeyImage:
		default:
			return nil, fmt.Errorf("unknown table key %q", spec.Key)
		}
		rows, err := LoadTable(file, TableOptions{
			KeyColumn:   spec.KeyColumn,
			LabelColumn: spec.LabelColumn,
			GradeColumn: spec.GradeColumn,
			Translate:   desc.Labels,
		})
		if err != nil {
			return nil, err
		}
		return TableLabels{Scheme: opts.Scheme, Key: key, Rows: rows}, nil
	case "none":
		return NoLabels{}, nil
	default:
		return nil, fmt.Errorf("unknown label extractor type %q", spec.Type)
	}
}
