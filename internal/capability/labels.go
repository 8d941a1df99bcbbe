package capability

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mrsinham/umieforge/internal/dataset"
	"github.com/mrsinham/umieforge/internal/mask"
	"github.com/mrsinham/umieforge/internal/pathid"
)

// NoLabels assigns nothing.
type NoLabels struct{}

// Labels implements LabelExtractor.
func (NoLabels) Labels(string, string) ([]dataset.Label, error) { return nil, nil }

// MaskLabels labels an image from the colors present in its mask. An empty
// mask yields Normal when set; an image without a mask yields nothing.
type MaskLabels struct {
	Masks  []dataset.Mask
	Normal string
}

// Labels implements LabelExtractor.
func (m MaskLabels) Labels(_, maskPath string) ([]dataset.Label, error) {
	if maskPath == "" {
		return nil, nil
	}
	img, err := mask.Load(maskPath)
	if err != nil {
		return nil, err
	}
	hist := mask.Histogram(img)
	var out []dataset.Label
	for _, entry := range m.Masks {
		if entry.Label == "" || entry.Color == 0 {
			continue
		}
		if hist[entry.Color] > 0 {
			out = dataset.MergeLabels(out, dataset.Label{Name: entry.Label, Grade: 1})
		}
	}
	if len(out) == 0 && m.Normal != "" && mask.IsBlank(img) {
		out = append(out, dataset.Label{Name: m.Normal, Grade: 1})
	}
	return out, nil
}

// TableKey selects which id a label table is keyed by.
type TableKey string

const (
	KeyStudy TableKey = "study"
	KeyImage TableKey = "image"
)

// TableLabels looks labels up in a table keyed by the canonical study or
// image id decoded from the image path.
type TableLabels struct {
	Scheme pathid.Scheme
	Key    TableKey
	Rows   map[string][]dataset.Label
}

// Labels implements LabelExtractor.
func (t TableLabels) Labels(imagePath, _ string) ([]dataset.Label, error) {
	d, err := t.Scheme.Decode(imagePath)
	if err != nil {
		return nil, err
	}
	key := d.StudyID
	if t.Key == KeyImage {
		key = d.ImageID
	}
	rows := t.Rows[key]
	if len(rows) == 0 {
		return nil, nil
	}
	return append([]dataset.Label(nil), rows...), nil
}

// TableOptions locates the columns of a CSV label table.
type TableOptions struct {
	KeyColumn   string
	LabelColumn string
	// GradeColumn is optional; rows without it get grade 1.
	GradeColumn string
	// Translate maps source labels to canonical ones. Unmapped labels are
	// kept verbatim.
	Translate map[string][]string
}

// LoadTable reads a CSV file with a header row into label rows keyed by
// KeyColumn. Empty label cells are skipped.
func LoadTable(path string, opts TableOptions) (map[string][]dataset.Label, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open label table: %w", err)
	}
	defer f.Close()
	return ReadTable(f, opts)
}

// ReadTable is LoadTable on an open reader.
func ReadTable(r io.Reader, opts TableOptions) (map[string][]dataset.Label, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read label table header: %w", err)
	}
	col := func(name string) int {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), name) {
				return i
			}
		}
		return -1
	}
	keyCol, labelCol, gradeCol := col(opts.KeyColumn), col(opts.LabelColumn), -1
	if keyCol < 0 {
		return nil, fmt.Errorf("label table has no column %q", opts.KeyColumn)
	}
	if labelCol < 0 {
		return nil, fmt.Errorf("label table has no column %q", opts.LabelColumn)
	}
	if opts.GradeColumn != "" {
		if gradeCol = col(opts.GradeColumn); gradeCol < 0 {
			return nil, fmt.Errorf("label table has no column %q", opts.GradeColumn)
		}
	}

	rows := make(map[string][]dataset.Label)
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("label table line %d: %w", line, err)
		}
		key := strings.TrimSpace(rec[keyCol])
		src := strings.TrimSpace(rec[labelCol])
		if key == "" || src == "" {
			continue
		}
		grade := 1.0
		if gradeCol >= 0 && strings.TrimSpace(rec[gradeCol]) != "" {
			grade, err = strconv.ParseFloat(strings.TrimSpace(rec[gradeCol]), 64)
			if err != nil {
				return nil, fmt.Errorf("label table line %d: invalid grade %q", line, rec[gradeCol])
			}
		}
		names := opts.Translate[src]
		if len(names) == 0 {
			names = []string{src}
		}
		for _, n := range names {
			rows[key] = dataset.MergeLabels(rows[key], dataset.Label{Name: n, Grade: grade})
		}
	}
	return rows, nil
}

// Chain runs several extractors and merges their labels in order. The first
// grade seen for a label name wins.
type Chain []LabelExtractor

// Labels implements LabelExtractor.
func (c Chain) Labels(imagePath, maskPath string) ([]dataset.Label, error) {
	var out []dataset.Label
	for _, e := range c {
		labels, err := e.Labels(imagePath, maskPath)
		if err != nil {
			return nil, err
		}
		out = dataset.MergeLabels(out, labels...)
	}
	return out, nil
}
