package manifest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"sort"
	"strings"

	// Canonical rasters are PNG.
	_ "image/png"

	"github.com/mrsinham/umieforge/internal/dataset"
	"github.com/mrsinham/umieforge/internal/pathid"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// recordSchema describes one manifest line.
const recordSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["umie_path", "dataset_name", "dataset_uid", "phase_name", "comparative",
               "study_id", "umie_id", "mask_path", "labels"],
  "additionalProperties": false,
  "properties": {
    "umie_path":    {"type": "string", "minLength": 1},
    "dataset_name": {"type": "string", "minLength": 1},
    "dataset_uid":  {"type": "string", "minLength": 1},
    "phase_name":   {"type": "string", "minLength": 1},
    "comparative":  {"type": "string"},
    "study_id":     {"type": "string", "minLength": 1},
    "umie_id":      {"type": "string", "minLength": 1},
    "mask_path":    {"type": "string"},
    "labels": {
      "type": "array",
      "items": {
        "type": "object",
        "minProperties": 1,
        "maxProperties": 1,
        "additionalProperties": {"type": "number"}
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("record.schema.json", recordSchema)

// Violation is one inconsistency found by Validate.
type Violation struct {
	Line    int    `json:"line"`
	Path    string `json:"umie_path,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "line %d", v.Line)
	if v.Field != "" {
		fmt.Fprintf(&b, " %s", v.Field)
	}
	if v.Path != "" {
		fmt.Fprintf(&b, " (%s)", v.Path)
	}
	fmt.Fprintf(&b, ": %s", v.Message)
	return b.String()
}

// Report is the outcome of Validate.
type Report struct {
	Path       string      `json:"manifest"`
	Records    int         `json:"records"`
	Images     int         `json:"images_checked"`
	Masks      int         `json:"masks_checked"`
	Violations []Violation `json:"violations"`
}

// OK reports whether no violation was found.
func (r *Report) OK() bool { return len(r.Violations) == 0 }

func (r *Report) add(line int, path, field, format string, args ...any) {
	r.Violations = append(r.Violations, Violation{Line: line, Path: path, Field: field, Message: fmt.Sprintf(format, args...)})
}

// ValidateOptions tunes Validate.
type ValidateOptions struct {
	// Labels is the canonical label registry. Nil skips the label check.
	Labels dataset.LabelRegistry
	// Scheme, when set, checks that every record agrees with its path.
	Scheme *pathid.Scheme
	// SkipRasters disables decoding of images and masks.
	SkipRasters bool
}

// Validate checks the manifest at path without modifying anything. The error
// is non-nil only when the manifest cannot be read at all.
func Validate(path string, opts ValidateOptions) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	rep := &Report{Path: path, Violations: []Violation{}}
	seen := make(map[string]int)

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		rep.Records++

		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			rep.add(line, "", "", "invalid JSON: %v", err)
			continue
		}
		if err := compiledSchema.Validate(doc); err != nil {
			for _, ve := range schemaErrors(err) {
				rep.add(line, "", ve.field, "%s", ve.message)
			}
			continue
		}

		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			rep.add(line, "", "", "invalid record: %v", err)
			continue
		}
		if prev, dup := seen[rec.UmiePath]; dup {
			rep.add(line, rec.UmiePath, "umie_path", "duplicate of line %d", prev)
			continue
		}
		seen[rec.UmiePath] = line

		checkRecord(rep, line, rec, opts)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return rep, nil
}

func checkRecord(rep *Report, line int, rec Record, opts ValidateOptions) {
	p := rec.UmiePath

	if opts.Scheme != nil {
		d, err := opts.Scheme.Decode(p)
		switch {
		case err != nil:
			rep.add(line, p, "umie_path", "%v", err)
		default:
			if d.String() != rec.UmieID {
				rep.add(line, p, "umie_id", "is %q, path says %q", rec.UmieID, d.String())
			}
			if d.StudyID != rec.StudyID {
				rep.add(line, p, "study_id", "is %q, path says %q", rec.StudyID, d.StudyID)
			}
			if d.PhaseName != rec.PhaseName {
				rep.add(line, p, "phase_name", "is %q, path says %q", rec.PhaseName, d.PhaseName)
			}
		}
	}

	for _, l := range rec.Labels {
		if opts.Labels != nil && !opts.Labels.Has(l.Name) {
			rep.add(line, p, "labels", "label %q is not in the canonical registry", l.Name)
		}
	}

	var imgSize image.Point
	if !opts.SkipRasters {
		size, err := decodeRaster(p)
		rep.Images++
		if err != nil {
			rep.add(line, p, "umie_path", "%v", err)
		}
		imgSize = size
	} else if _, err := os.Stat(p); err != nil {
		rep.add(line, p, "umie_path", "%v", err)
	}

	if rec.MaskPath == "" {
		return
	}
	if opts.SkipRasters {
		if _, err := os.Stat(rec.MaskPath); err != nil {
			rep.add(line, p, "mask_path", "%v", err)
		}
		return
	}
	rep.Masks++
	size, err := decodeRaster(rec.MaskPath)
	if err != nil {
		rep.add(line, p, "mask_path", "%v", err)
		return
	}
	if imgSize != (image.Point{}) && size != imgSize {
		rep.add(line, p, "mask_path", "mask is %v, image is %v", size, imgSize)
	}
}

func decodeRaster(path string) (image.Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Point{}, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return image.Point{}, fmt.Errorf("%s is not a valid raster: %w", path, err)
	}
	return img.Bounds().Size(), nil
}

type schemaError struct {
	field   string
	message string
}

// schemaErrors flattens a validation error into its leaf causes.
func schemaErrors(err error) []schemaError {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []schemaError{{message: err.Error()}}
	}
	var out []schemaError
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, schemaError{field: strings.TrimPrefix(e.InstanceLocation, "/"), message: e.Message})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.SliceStable(out, func(i, j int) bool { return out[i].field < out[j].field })
	return out
}
