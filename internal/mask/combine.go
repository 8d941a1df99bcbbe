package mask

import (
	"errors"
	"fmt"
	"image"

	"github.com/mrsinham/umieforge/internal/dataset"
	"golang.org/x/image/draw"
)

// ErrNoSourceColor is returned when a structure to combine has no registered
// source color.
var ErrNoSourceColor = errors.New("structure has no source color")

// Combine merges layers in order: wherever a layer is non-zero it overwrites
// the accumulator, so later layers win at overlapping pixels. All layers must
// have the same size.
func Combine(layers ...*image.Gray) (*image.Gray, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("nothing to combine")
	}
	size := layers[0].Bounds().Size()
	acc := New(size.X, size.Y)
	for i, l := range layers {
		if got := l.Bounds().Size(); got != size {
			return nil, fmt.Errorf("layer %d is %v, want %v", i, got, size)
		}
		l = ToGray(l)
		for y := 0; y < size.Y; y++ {
			src := l.Pix[l.PixOffset(0, y):l.PixOffset(size.X, y)]
			dst := acc.Pix[acc.PixOffset(0, y):acc.PixOffset(size.X, y)]
			for x, v := range src {
				if v > 0 {
					dst[x] = v
				}
			}
		}
	}
	return acc, nil
}

// Combiner merges per-structure partial masks in a fixed structure order.
type Combiner struct {
	Order []dataset.Mask
}

// NewCombiner resolves order against the descriptor. Every structure must be
// declared with a source color.
func NewCombiner(desc *dataset.Descriptor, order []string) (Combiner, error) {
	if len(order) == 0 {
		return Combiner{}, fmt.Errorf("combine order is empty")
	}
	c := Combiner{Order: make([]dataset.Mask, 0, len(order))}
	seen := make(map[string]bool, len(order))
	for _, s := range order {
		if seen[s] {
			return Combiner{}, fmt.Errorf("structure %q listed twice in combine order", s)
		}
		seen[s] = true
		m, ok := desc.Mask(s)
		if !ok {
			return Combiner{}, fmt.Errorf("structure %q is not declared by dataset %s", s, desc.Name)
		}
		if m.SourceColor == nil {
			return Combiner{}, fmt.Errorf("%w: %q", ErrNoSourceColor, s)
		}
		c.Order = append(c.Order, m)
	}
	return c, nil
}

// Structure returns the ordered entry matching a structure or source name.
func (c Combiner) Structure(name string) (dataset.Mask, bool) {
	for _, m := range c.Order {
		if m.Structure == name || (m.SourceName != "" && m.SourceName == name) {
			return m, true
		}
	}
	return dataset.Mask{}, false
}

// Combine recolors each part from its source color to its canonical color
// and merges the parts in order. parts is keyed by structure name; missing
// structures are skipped, unknown keys are an error.
func (c Combiner) Combine(parts map[string]*image.Gray) (*image.Gray, error) {
	for name := range parts {
		if _, ok := c.Structure(name); !ok {
			return nil, fmt.Errorf("structure %q is not in the combine order", name)
		}
	}
	layers := make([]*image.Gray, 0, len(parts))
	for _, m := range c.Order {
		img, ok := parts[m.Structure]
		if !ok && m.SourceName != "" {
			img, ok = parts[m.SourceName]
		}
		if !ok {
			continue
		}
		src := ToGray(img)
		layer := New(src.Rect.Dx(), src.Rect.Dy())
		draw.Draw(layer, layer.Bounds(), src, image.Point{}, draw.Src)
		Recolor(layer, NewColorTable(map[uint8]uint8{*m.SourceColor: m.Color}))
		layers = append(layers, layer)
	}
	if len(layers) == 0 {
		return nil, fmt.Errorf("no part matches the combine order")
	}
	return Combine(layers...)
}
