// Package manifest stores one JSON Lines record per canonical image.
//
// A manifest is created empty with the output tree, seeded once per image,
// enriched in place by later steps, pruned when backing files disappear and
// finally validated. Records are matched by their umie_path.
package manifest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mrsinham/umieforge/internal/dataset"
)

// ErrNoRecord is returned when updating a path the manifest does not hold.
var ErrNoRecord = errors.New("no manifest record for path")

// Record is one manifest line.
type Record struct {
	UmiePath    string          `json:"umie_path"`
	DatasetName string          `json:"dataset_name"`
	DatasetUID  string          `json:"dataset_uid"`
	PhaseName   string          `json:"phase_name"`
	Comparative string          `json:"comparative"`
	StudyID     string          `json:"study_id"`
	UmieID      string          `json:"umie_id"`
	MaskPath    string          `json:"mask_path"`
	Labels      []dataset.Label `json:"labels"`
}

func (r Record) normalized() Record {
	if r.Labels == nil {
		r.Labels = []dataset.Label{}
	}
	return r
}

// Store is an open manifest. It is not safe for concurrent use.
type Store struct {
	path    string
	records []Record
	index   map[string]int
}

// Create starts an empty manifest at path. A previous manifest is first
// archived next to it as <path>.<n>.zst.
func Create(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create manifest directory: %w", err)
	}
	if _, err := Archive(path); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to create manifest: %w", err)
	}
	return &Store{path: path, index: make(map[string]int)}, nil
}

// Open loads an existing manifest.
func Open(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	s := &Store{path: path, index: make(map[string]int)}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("manifest %s line %d: %w", path, line, err)
		}
		if _, dup := s.index[r.UmiePath]; dup {
			return nil, fmt.Errorf("manifest %s line %d: duplicate umie_path %q", path, line, r.UmiePath)
		}
		s.index[r.UmiePath] = len(s.records)
		s.records = append(s.records, r.normalized())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return s, nil
}

// OpenOrCreate opens path, creating an empty manifest when it does not exist.
// Nothing is archived.
func OpenOrCreate(path string) (*Store, error) {
	s, err := Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create manifest directory: %w", err)
		}
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return nil, fmt.Errorf("failed to create manifest: %w", err)
		}
		return &Store{path: path, index: make(map[string]int)}, nil
	}
	return s, err
}

// Path returns the manifest file path.
func (s *Store) Path() string { return s.path }

// Len returns the number of records.
func (s *Store) Len() int { return len(s.records) }

// Records returns a copy of every record in file order.
func (s *Store) Records() []Record {
	out := make([]Record, len(s.records))
	for i, r := range s.records {
		out[i] = r
		out[i].Labels = append([]dataset.Label{}, r.Labels...)
	}
	return out
}

// Get returns the record of a canonical image path.
func (s *Store) Get(umiePath string) (Record, bool) {
	i, ok := s.index[umiePath]
	if !ok {
		return Record{}, false
	}
	r := s.records[i]
	r.Labels = append([]dataset.Label{}, r.Labels...)
	return r, true
}

// Has reports whether a record exists for umiePath.
func (s *Store) Has(umiePath string) bool {
	_, ok := s.index[umiePath]
	return ok
}

// Append adds records for paths not yet present and returns how many were
// added. Records for known paths are skipped. New records are appended to
// the file without rewriting it.
func (s *Store) Append(recs ...Record) (int, error) {
	var buf bytes.Buffer
	var added []Record
	enc := newEncoder(&buf)
	for _, r := range recs {
		if r.UmiePath == "" {
			return 0, fmt.Errorf("record without umie_path")
		}
		if s.Has(r.UmiePath) || containsPath(added, r.UmiePath) {
			continue
		}
		r = r.normalized()
		if err := enc.Encode(r); err != nil {
			return 0, fmt.Errorf("failed to encode record %s: %w", r.UmiePath, err)
		}
		added = append(added, r)
	}
	if len(added) == 0 {
		return 0, nil
	}

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open manifest for append: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return 0, fmt.Errorf("failed to append to manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("failed to append to manifest: %w", err)
	}

	for _, r := range added {
		s.index[r.UmiePath] = len(s.records)
		s.records = append(s.records, r)
	}
	return len(added), nil
}

func containsPath(recs []Record, p string) bool {
	for _, r := range recs {
		if r.UmiePath == p {
			return true
		}
	}
	return false
}

// Update rewrites the record of umiePath through fn.
func (s *Store) Update(umiePath string, fn func(*Record)) error {
	return s.UpdateMany(map[string]func(*Record){umiePath: fn})
}

// UpdateMany applies every fn to its record and rewrites the file once. The
// update is all or nothing: an unknown path or an fn changing umie_path
// leaves the manifest untouched.
func (s *Store) UpdateMany(fns map[string]func(*Record)) error {
	if len(fns) == 0 {
		return nil
	}
	next := s.Records()
	for p, fn := range fns {
		i, ok := s.index[p]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoRecord, p)
		}
		fn(&next[i])
		if next[i].UmiePath != p {
			return fmt.Errorf("update of %s changed umie_path to %s", p, next[i].UmiePath)
		}
		next[i] = next[i].normalized()
	}
	if err := s.write(next); err != nil {
		return err
	}
	s.records = next
	return nil
}

// Prune removes the records whose image file no longer exists and returns
// them.
func (s *Store) Prune() ([]Record, error) {
	var kept, removed []Record
	for _, r := range s.records {
		if _, err := os.Stat(r.UmiePath); errors.Is(err, fs.ErrNotExist) {
			removed = append(removed, r)
			continue
		} else if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", r.UmiePath, err)
		}
		kept = append(kept, r)
	}
	if len(removed) == 0 {
		return nil, nil
	}
	if err := s.write(kept); err != nil {
		return nil, err
	}
	s.records = kept
	s.index = make(map[string]int, len(kept))
	for i, r := range kept {
		s.index[r.UmiePath] = i
	}
	return removed, nil
}

func newEncoder(w io.Writer) *json.Encoder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc
}

// write replaces the file with recs through a temporary file.
func (s *Store) write(recs []Record) error {
	var buf bytes.Buffer
	enc := newEncoder(&buf)
	for _, r := range recs {
		if err := enc.Encode(r.normalized()); err != nil {
			return fmt.Errorf("failed to encode record %s: %w", r.UmiePath, err)
		}
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".manifest-*.jsonl")
	if err != nil {
		return fmt.Errorf("failed to create temp manifest: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace manifest: %w", err)
	}
	return nil
}
