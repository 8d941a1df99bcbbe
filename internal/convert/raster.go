package convert

import (
	"fmt"
	"image"
	"path/filepath"

	"github.com/mrsinham/umieforge/internal/mask"
	"golang.org/x/image/draw"
)

// Raster decodes a JPEG, PNG, BMP or TIFF file to 8-bit gray.
func Raster(path string) (*image.Gray, error) {
	return mask.Load(path)
}

// Resize scales g down so that its longest side is at most maxSize,
// keeping the aspect ratio. Labels are resampled with nearest neighbour so
// that no new value appears. maxSize <= 0 or a small enough g returns g.
func Resize(g *image.Gray, maxSize int, labels bool) *image.Gray {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSize <= 0 || (w <= maxSize && h <= maxSize) {
		return g
	}
	nw, nh := maxSize, maxSize
	if w >= h {
		nh = max(1, h*maxSize/w)
	} else {
		nw = max(1, w*maxSize/h)
	}
	dst := mask.New(nw, nh)
	var scaler draw.Scaler = draw.CatmullRom
	if labels {
		scaler = draw.NearestNeighbor
	}
	scaler.Scale(dst, dst.Bounds(), g, b, draw.Src, nil)
	return dst
}

// SlicePath is the staging file of slice k of a volume staged under dir.
func SlicePath(dir string, k int) string {
	return filepath.Join(dir, fmt.Sprintf("%04d.png", k))
}
