package mask

import (
	"fmt"
	"image"
	"image/color"

	"github.com/mrsinham/umieforge/internal/dataset"
	"golang.org/x/image/draw"
	"gopkg.in/go-playground/colors.v1"
)

// Palette maps mask values to display colors.
type Palette map[uint8]color.RGBA

// displayColors cycle over the structures of a registry.
var displayColors = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#fabebe",
	"#008080", "#e6beff", "#9a6324", "#fffac8", "#800000",
}

// ParsePalette builds a palette from "#rrggbb" strings.
func ParsePalette(hex map[uint8]string) (Palette, error) {
	p := make(Palette, len(hex))
	for v, s := range hex {
		h, err := colors.ParseHEX(s)
		if err != nil {
			return nil, fmt.Errorf("invalid display color %q for value %d: %w", s, v, err)
		}
		rgb := h.ToRGB()
		p[v] = color.RGBA{R: rgb.R, G: rgb.G, B: rgb.B, A: 0xff}
	}
	return p, nil
}

// PaletteFor assigns a display color to every non-background structure of a
// registry, in sorted structure order.
func PaletteFor(reg dataset.ColorRegistry) Palette {
	hex := make(map[uint8]string, len(reg))
	i := 0
	for _, name := range reg.Names() {
		v := reg[name]
		if v == 0 {
			continue
		}
		hex[v] = displayColors[i%len(displayColors)]
		i++
	}
	p, err := ParsePalette(hex)
	if err != nil {
		// displayColors are constants.
		panic(err)
	}
	return p
}

// Overlay blends the colored mask over img with the given opacity (0..1).
// Values without a palette entry are drawn in white.
func Overlay(img image.Image, m *image.Gray, p Palette, alpha float64) (*image.RGBA, error) {
	b := img.Bounds()
	if m.Bounds().Size() != b.Size() {
		return nil, fmt.Errorf("mask is %v, image is %v", m.Bounds().Size(), b.Size())
	}
	alpha = min(max(alpha, 0), 1)

	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)

	white := color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			v := m.GrayAt(m.Rect.Min.X+x, m.Rect.Min.Y+y).Y
			if v == 0 {
				continue
			}
			c, ok := p[v]
			if !ok {
				c = white
			}
			base := out.RGBAAt(x, y)
			out.SetRGBA(x, y, color.RGBA{
				R: blend(base.R, c.R, alpha),
				G: blend(base.G, c.G, alpha),
				B: blend(base.B, c.B, alpha),
				A: 0xff,
			})
		}
	}
	return out, nil
}

func blend(a, b uint8, alpha float64) uint8 {
	return uint8(float64(a)*(1-alpha) + float64(b)*alpha + 0.5)
}
