package pipeline

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/mrsinham/umieforge/internal/capability"
	"github.com/mrsinham/umieforge/internal/dataset"
	"github.com/mrsinham/umieforge/internal/manifest"
	"github.com/mrsinham/umieforge/internal/pathid"
	"github.com/rs/zerolog"
)

// Inputs are the paths a run is invoked with.
type Inputs struct {
	Source string
	Target string
	// Masks and Labels are optional.
	Masks  string
	Labels string
}

// Config is shared by every step of one run. The pipeline owns it; a step
// only holds it for the duration of its Transform call. Values set with Set
// can be added but never changed.
type Config struct {
	Inputs       Inputs
	Descriptor   *dataset.Descriptor
	Scheme       pathid.Scheme
	Capabilities capability.Set
	Colors       dataset.ColorRegistry
	Labels       dataset.LabelRegistry
	Manifest     *manifest.Store
	Log          zerolog.Logger

	values map[string]any
}

// NewConfig returns a config for desc with registries and capabilities set.
// The capability set is completed with defaults.
func NewConfig(in Inputs, desc *dataset.Descriptor, caps capability.Set, colors dataset.ColorRegistry, labels dataset.LabelRegistry) *Config {
	return &Config{
		Inputs:       in,
		Descriptor:   desc,
		Scheme:       desc.Scheme(in.Target),
		Capabilities: caps.WithDefaults(desc),
		Colors:       colors,
		Labels:       labels,
		Log:          zerolog.Nop(),
		values:       make(map[string]any),
	}
}

// Set records a value. Setting an existing key again is allowed only with an
// equal value.
func (c *Config) Set(key string, v any) error {
	if c.values == nil {
		c.values = make(map[string]any)
	}
	if prev, ok := c.values[key]; ok {
		if reflect.DeepEqual(prev, v) {
			return nil
		}
		return fmt.Errorf("config key %q already set to %v", key, prev)
	}
	c.values[key] = v
	return nil
}

// Get returns the value of key.
func (c *Config) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// String returns the string value of key, or "" when unset or not a string.
func (c *Config) String(key string) string {
	s, _ := c.values[key].(string)
	return s
}

// MustString returns the string value of key or an error naming it.
func (c *Config) MustString(key string) (string, error) {
	v, ok := c.values[key]
	if !ok {
		return "", fmt.Errorf("config key %q is not set", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("config key %q is %T, want string", key, v)
	}
	return s, nil
}

// Keys returns the set keys in sorted order.
func (c *Config) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
