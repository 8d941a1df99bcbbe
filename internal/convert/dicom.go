// Package convert turns source images into 8-bit grayscale rasters.
package convert

import (
	"fmt"
	"image"
	"math"

	"github.com/mrsinham/umieforge/internal/dicom"
	"github.com/mrsinham/umieforge/internal/mask"
)

// DICOM reads the instance at path and returns one 8-bit raster per frame.
func DICOM(path string) ([]*image.Gray, *dicom.Image, error) {
	img, err := dicom.Read(path)
	if err != nil {
		return nil, nil, err
	}
	frames, err := Frames(img)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return frames, img, nil
}

// Frames maps every frame of img to 8 bits. Stored values go through the
// modality rescale, then the first VOI window when the instance has one, or
// the frame's own range otherwise. MONOCHROME1 frames are inverted.
func Frames(img *dicom.Image) ([]*image.Gray, error) {
	invert := img.Photometric == "MONOCHROME1"
	var out []*image.Gray
	for _, p := range img.Planes {
		if p.Width*p.Height != len(p.Values) || len(p.Values) == 0 {
			return nil, fmt.Errorf("plane of %dx%d has %d values", p.Width, p.Height, len(p.Values))
		}
		vals := make([]float64, len(p.Values))
		for i, v := range p.Values {
			vals[i] = float64(v)*img.Slope + img.Intercept
		}
		var lut func(float64) uint8
		if img.HasWindow {
			lut = window(img.WindowCenter, img.WindowWidth)
		} else {
			lo, hi := bounds(vals)
			lut = minMax(lo, hi)
		}
		g := mask.New(p.Width, p.Height)
		for i, v := range vals {
			g.Pix[i] = lut(v)
		}
		if invert {
			Invert(g)
		}
		out = append(out, g)
	}
	for _, r := range img.Rendered {
		g := mask.ToGray(r)
		if invert {
			Invert(g)
		}
		out = append(out, g)
	}
	return out, nil
}

// window is the linear VOI function of PS3.3 C.11.2.1.2.
func window(center, width float64) func(float64) uint8 {
	lo := center - 0.5 - (width-1)/2
	hi := center - 0.5 + (width-1)/2
	return func(v float64) uint8 {
		switch {
		case v <= lo:
			return 0
		case v > hi:
			return 255
		}
		if width <= 1 {
			return 255
		}
		return clamp8(((v-(center-0.5))/(width-1) + 0.5) * 255)
	}
}

func minMax(lo, hi float64) func(float64) uint8 {
	if hi <= lo {
		return func(float64) uint8 { return 0 }
	}
	return func(v float64) uint8 { return clamp8((v - lo) / (hi - lo) * 255) }
}

func bounds(vals []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range vals {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

func clamp8(v float64) uint8 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(math.Round(v))
}

// Invert flips g in place.
func Invert(g *image.Gray) {
	for i, v := range g.Pix {
		g.Pix[i] = 255 - v
	}
}
