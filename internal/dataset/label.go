package dataset

import (
	"encoding/json"
	"fmt"
)

// Label is one semantic annotation of an image, serialized as {"<name>": <grade>}.
type Label struct {
	Name  string
	Grade float64
}

// MarshalJSON implements json.Marshaler.
func (l Label) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]float64{l.Name: l.Grade})
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *Label) UnmarshalJSON(data []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("label: %w", err)
	}
	if len(m) != 1 {
		return fmt.Errorf("label: want exactly one key, got %d", len(m))
	}
	for k, v := range m {
		l.Name, l.Grade = k, v
	}
	return nil
}

// MergeLabels appends add to base, keeping the first grade seen per name.
func MergeLabels(base []Label, add ...Label) []Label {
	seen := make(map[string]bool, len(base)+len(add))
	out := make([]Label, 0, len(base)+len(add))
	for _, l := range base {
		if !seen[l.Name] {
			seen[l.Name] = true
			out = append(out, l)
		}
	}
	for _, l := range add {
		if !seen[l.Name] {
			seen[l.Name] = true
			out = append(out, l)
		}
	}
	return out
}
