package mask

import (
	"image"

	"github.com/mrsinham/umieforge/internal/dataset"
)

// ColorTable maps every 8-bit value to its replacement. The zero value maps
// everything to 0; use IdentityTable as a starting point.
type ColorTable [256]uint8

// IdentityTable returns a table leaving every value unchanged.
func IdentityTable() ColorTable {
	var t ColorTable
	for i := range t {
		t[i] = uint8(i)
	}
	return t
}

// NewColorTable returns the identity table overridden by m.
func NewColorTable(m map[uint8]uint8) ColorTable {
	t := IdentityTable()
	for src, dst := range m {
		t[src] = dst
	}
	return t
}

// TableFor builds the source to canonical table of the masks declaring a
// source color.
func TableFor(masks []dataset.Mask) ColorTable {
	t := IdentityTable()
	for _, m := range masks {
		if m.SourceColor != nil {
			t[*m.SourceColor] = m.Color
		}
	}
	return t
}

// IsIdentity reports whether t changes nothing.
func (t ColorTable) IsIdentity() bool {
	return t == IdentityTable()
}

// Recolor replaces every pixel of img in place through t.
func Recolor(img *image.Gray, t ColorTable) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X, y)]
		for i, v := range row {
			row[i] = t[v]
		}
	}
}

// RecolorFile recolors the mask at path in place. It reports whether the
// file changed; unchanged files are not rewritten.
func RecolorFile(path string, t ColorTable) (bool, error) {
	img, err := Load(path)
	if err != nil {
		return false, err
	}
	before := append([]uint8(nil), img.Pix...)
	Recolor(img, t)
	if string(before) == string(img.Pix) {
		return false, nil
	}
	return true, Save(path, img)
}
