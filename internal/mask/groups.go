package mask

import "fmt"

// Groups collects partial mask files per canonical image for one run.
type Groups struct {
	keys  []string
	parts map[string]map[string]string
}

// NewGroups returns an empty grouping.
func NewGroups() *Groups {
	return &Groups{parts: make(map[string]map[string]string)}
}

// Add records the partial mask path of structure for key.
func (g *Groups) Add(key, structure, path string) error {
	p, ok := g.parts[key]
	if !ok {
		p = make(map[string]string)
		g.parts[key] = p
		g.keys = append(g.keys, key)
	}
	if prev, dup := p[structure]; dup && prev != path {
		return fmt.Errorf("structure %q of %s already provided by %s", structure, key, prev)
	}
	p[structure] = path
	return nil
}

// Keys returns the grouped keys in insertion order.
func (g *Groups) Keys() []string {
	return append([]string(nil), g.keys...)
}

// Parts returns the structure to path map of key.
func (g *Groups) Parts(key string) map[string]string {
	return g.parts[key]
}

// Len returns the number of groups.
func (g *Groups) Len() int { return len(g.keys) }
