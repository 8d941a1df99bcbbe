package dataset

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is a complete per-dataset run description.
type Config struct {
	Dataset    Descriptor   `yaml:"dataset" toml:"dataset"`
	Strategies StrategySpec `yaml:"strategies" toml:"strategies"`
	Steps      []StepSpec   `yaml:"steps" toml:"steps"`
}

// StepSpec names a registered step and its options.
type StepSpec struct {
	Name    string         `yaml:"name" toml:"name"`
	Options map[string]any `yaml:"options,omitempty" toml:"options"`
}

// ExtractorSpec configures one id extractor.
//
// Type is one of "stem", "parent", "segment", "regex" or "constant".
type ExtractorSpec struct {
	Type    string `yaml:"type" toml:"type"`
	Pattern string `yaml:"pattern,omitempty" toml:"pattern"`
	Group   int    `yaml:"group,omitempty" toml:"group"`
	// FromEnd selects a path segment counted from the file name (0).
	FromEnd int    `yaml:"from_end,omitempty" toml:"from_end"`
	Value   string `yaml:"value,omitempty" toml:"value"`
	// Lookup remaps an extracted value; unmatched values pass through.
	Lookup map[string]string `yaml:"lookup,omitempty" toml:"lookup"`
}

// SelectorSpec configures file classification with regular expressions
// matched against the slash-separated path.
type SelectorSpec struct {
	Image      []string `yaml:"image,omitempty" toml:"image"`
	Mask       []string `yaml:"mask,omitempty" toml:"mask"`
	Annotation []string `yaml:"annotation,omitempty" toml:"annotation"`
	Ignore     []string `yaml:"ignore,omitempty" toml:"ignore"`
	// StructureGroup is the capture group of a mask pattern holding the
	// structure source name of a partial mask.
	StructureGroup int `yaml:"structure_group,omitempty" toml:"structure_group"`
}

// LabelSpec configures one label extractor.
//
// Type is "masks" (labels from mask colors) or "table" (CSV lookup).
type LabelSpec struct {
	Type string `yaml:"type" toml:"type"`
	// Normal is the label given to images with an empty mask.
	Normal string `yaml:"normal,omitempty" toml:"normal"`

	// Table fields; File defaults to the run's labels input.
	File        string `yaml:"file,omitempty" toml:"file"`
	Key         string `yaml:"key,omitempty" toml:"key"` // "study" or "image"
	KeyColumn   string `yaml:"key_column,omitempty" toml:"key_column"`
	LabelColumn string `yaml:"label_column,omitempty" toml:"label_column"`
	GradeColumn string `yaml:"grade_column,omitempty" toml:"grade_column"`
}

// StrategySpec configures the capability set of a dataset. Nil entries fall
// back to the defaults.
type StrategySpec struct {
	ImageID  *ExtractorSpec `yaml:"image_id,omitempty" toml:"image_id"`
	StudyID  *ExtractorSpec `yaml:"study_id,omitempty" toml:"study_id"`
	PhaseID  *ExtractorSpec `yaml:"phase_id,omitempty" toml:"phase_id"`
	Selector *SelectorSpec  `yaml:"selector,omitempty" toml:"selector"`
	Labels   []LabelSpec    `yaml:"labels,omitempty" toml:"labels"`
}

// LoadConfig reads a YAML or TOML config, chosen by file extension.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if err := decodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if len(cfg.Steps) == 0 {
		return nil, fmt.Errorf("config %s declares no steps", path)
	}
	return &cfg, nil
}

// RegistryFile is the on-disk form of the color and label registries.
type RegistryFile struct {
	Colors map[string]uint8 `yaml:"colors" toml:"colors"`
	Labels []string         `yaml:"labels" toml:"labels"`
}

// LoadRegistries returns the default registries extended with the entries of
// path. An empty path returns the defaults.
func LoadRegistries(path string) (ColorRegistry, LabelRegistry, error) {
	colors := DefaultColors.Merge(nil)
	labels := DefaultLabels.With()
	if path == "" {
		return colors, labels, nil
	}

	var rf RegistryFile
	if err := decodeFile(path, &rf); err != nil {
		return nil, nil, fmt.Errorf("failed to load registries: %w", err)
	}
	colors = colors.Merge(rf.Colors)
	if err := colors.Validate(); err != nil {
		return nil, nil, fmt.Errorf("color registry %s: %w", path, err)
	}
	return colors, labels.With(rf.Labels...), nil
}

func decodeFile(path string, v any) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.DecodeFile(path, v)
		if err != nil {
			return fmt.Errorf("could not decode TOML %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("unknown keys in %s: %v", path, undecoded)
		}
		return nil
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(v); err != nil {
			return fmt.Errorf("could not decode YAML %s: %w", path, err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported config format %q (want .yaml, .yml or .toml)", filepath.Ext(path))
	}
}
