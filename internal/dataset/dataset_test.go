package dataset

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func lidcDescriptor() Descriptor {
	return Descriptor{
		UID:    "03",
		Name:   "LIDC-IDRI",
		Phases: []Phase{{ID: "1", Name: "CT"}},
		Masks:  []Mask{{Structure: "lung_nodule", Color: 1, Label: "Nodule"}},
		Labels: map[string][]string{"malignant": {"Malignant", "Nodule"}},
	}
}

func TestDescriptorValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *Descriptor)
		wantErr string
	}{
		{"valid", func(d *Descriptor) {}, ""},
		{"no phases", func(d *Descriptor) { d.Phases = nil }, "no phases"},
		{"duplicate phase", func(d *Descriptor) { d.Phases = append(d.Phases, Phase{ID: "1", Name: "CT2"}) }, "duplicate phase id"},
		{"underscore uid", func(d *Descriptor) { d.UID = "0_3" }, "dataset uid"},
		{"wrong color", func(d *Descriptor) { d.Masks[0].Color = 7 }, "registry says 1"},
		{"unknown structure", func(d *Descriptor) { d.Masks[0].Structure = "spleen" }, "not in the color registry"},
		{"unknown label target", func(d *Descriptor) { d.Labels["x"] = []string{"Unknown"} }, "not registered"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := lidcDescriptor()
			tt.mutate(&d)
			err := d.Validate(DefaultColors, DefaultLabels)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDescriptorScheme(t *testing.T) {
	d := lidcDescriptor()
	s := d.Scheme("/out")
	if s.DatasetUID != "03" || s.DatasetName != "LIDC-IDRI" {
		t.Errorf("Scheme() = %+v", s)
	}
	if name, ok := s.PhaseName("1"); !ok || name != "CT" {
		t.Errorf("PhaseName(1) = %q, %v, want CT, true", name, ok)
	}
}

func TestLabelJSON(t *testing.T) {
	labels := []Label{{Name: "Nodule", Grade: 1}, {Name: "Malignant", Grade: 0.75}}
	data, err := json.Marshal(labels)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `[{"Nodule":1},{"Malignant":0.75}]`
	if string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}

	var back []Label
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(back) != 2 || back[1] != labels[1] {
		t.Errorf("Unmarshal() = %+v, want %+v", back, labels)
	}

	var bad Label
	if err := json.Unmarshal([]byte(`{"a":1,"b":2}`), &bad); err == nil {
		t.Error("Unmarshal() with two keys should fail")
	}
}

func TestMergeLabels(t *testing.T) {
	got := MergeLabels([]Label{{Name: "A", Grade: 1}}, Label{Name: "A", Grade: 0}, Label{Name: "B", Grade: 1})
	if len(got) != 2 || got[0].Grade != 1 || got[1].Name != "B" {
		t.Errorf("MergeLabels() = %+v", got)
	}
}

func TestColorRegistryValidate(t *testing.T) {
	if err := DefaultColors.Validate(); err != nil {
		t.Fatalf("DefaultColors.Validate() error = %v", err)
	}
	dup := ColorRegistry{"a": 3, "b": 3}
	if err := dup.Validate(); err == nil {
		t.Error("Validate() with shared color should fail")
	}
	if name, ok := DefaultColors.Structure(1); !ok || name != "lung_nodule" {
		t.Errorf("Structure(1) = %q, %v", name, ok)
	}
}

const yamlConfig = `
dataset:
  uid: "08"
  name: KITS-23
  phases:
    - id: "1"
      name: CT
  masks:
    - structure: kidney
      color: 2
      source_color: 1
    - structure: kidney_tumor
      color: 3
      source_color: 2
strategies:
  study_id:
    type: segment
    from_end: 1
  selector:
    mask: ['segmentation\.nii\.gz$']
steps:
  - name: get_file_paths
  - name: convert_nifti
    options:
      window: false
`

const tomlConfig = `
[dataset]
uid = "08"
name = "KITS-23"

[[dataset.phases]]
id = "1"
name = "CT"

[[dataset.masks]]
structure = "kidney"
color = 2
source_color = 1

[strategies.study_id]
type = "segment"
from_end = 1

[[steps]]
name = "get_file_paths"

[[steps]]
name = "convert_nifti"
`

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{"kits.yaml": yamlConfig, "kits.toml": tomlConfig} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatal(err)
			}
			cfg, err := LoadConfig(path)
			if err != nil {
				t.Fatalf("LoadConfig() error = %v", err)
			}
			if cfg.Dataset.UID != "08" || cfg.Dataset.Name != "KITS-23" {
				t.Errorf("Dataset = %+v", cfg.Dataset)
			}
			if len(cfg.Steps) != 2 || cfg.Steps[1].Name != "convert_nifti" {
				t.Errorf("Steps = %+v", cfg.Steps)
			}
			if cfg.Strategies.StudyID == nil || cfg.Strategies.StudyID.FromEnd != 1 {
				t.Errorf("Strategies.StudyID = %+v", cfg.Strategies.StudyID)
			}
			m := cfg.Dataset.Masks[0]
			if m.SourceColor == nil || *m.SourceColor != 1 {
				t.Errorf("Masks[0].SourceColor = %v, want 1", m.SourceColor)
			}
			if err := cfg.Dataset.Validate(DefaultColors, DefaultLabels); err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()
	unknown := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(unknown, []byte("dataset: {uid: x, nme: y}\nsteps: [{name: a}]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(unknown); err == nil {
		t.Error("LoadConfig() with unknown field should fail")
	}
	if _, err := LoadConfig(filepath.Join(dir, "conf.json")); err == nil {
		t.Error("LoadConfig() with unsupported extension should fail")
	}
}

func TestLoadRegistries(t *testing.T) {
	colors, labels, err := LoadRegistries("")
	if err != nil {
		t.Fatalf("LoadRegistries(\"\") error = %v", err)
	}
	if len(colors) != len(DefaultColors) || !labels.Has("Nodule") {
		t.Errorf("LoadRegistries(\"\") did not return the defaults")
	}

	path := filepath.Join(t.TempDir(), "reg.yaml")
	if err := os.WriteFile(path, []byte("colors: {spleen: 40}\nlabels: [Splenomegaly]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	colors, labels, err = LoadRegistries(path)
	if err != nil {
		t.Fatalf("LoadRegistries() error = %v", err)
	}
	if c, ok := colors.Color("spleen"); !ok || c != 40 {
		t.Errorf("Color(spleen) = %d, %v, want 40, true", c, ok)
	}
	if !labels.Has("Splenomegaly") || !labels.Has("Nodule") {
		t.Errorf("labels = %v", labels.Names())
	}
	if _, ok := DefaultColors["spleen"]; ok {
		t.Error("LoadRegistries() mutated DefaultColors")
	}

	clash := filepath.Join(t.TempDir(), "clash.yaml")
	if err := os.WriteFile(clash, []byte("colors: {spleen: 1}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := LoadRegistries(clash); err == nil {
		t.Error("LoadRegistries() with clashing color should fail")
	}
}
