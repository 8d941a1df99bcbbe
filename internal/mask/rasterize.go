package mask

import (
	"fmt"
	"image"

	"github.com/mrsinham/umieforge/internal/annotation"
)

// DefaultMinPoints is the smallest ROI the rasterizer treats as a polygon.
const DefaultMinPoints = 4

// Target is where the ROIs of one image are painted.
type Target struct {
	// Key identifies the canonical image, typically its path.
	Key      string
	MaskPath string
	Size     image.Point
}

// Resolver maps an ROI to the canonical image it annotates.
type Resolver interface {
	Resolve(roi *annotation.ROI) (Target, bool)
}

// Rasterizer paints annotation ROIs into masks.
//
// Each target starts from its existing mask file, or a zeroed canvas when
// there is none, and ROIs are applied in document order: an inclusion ROI
// fills its polygon with Color, an exclusion ROI clears its polygon to 0.
// Running twice on a pristine canvas yields identical bytes. Running on a
// canvas that already holds a previous result is additive: inclusions from
// earlier runs are only retracted by an exclusion ROI.
type Rasterizer struct {
	Color uint8
	// MinPoints raises the degenerate threshold. Values below
	// DefaultMinPoints are ignored.
	MinPoints int
}

// Result summarizes one Rasterize call.
type Result struct {
	// Written lists the targets whose mask was saved, in first-touch order.
	Written    []Target
	Degenerate int
	Unresolved int
}

type canvas struct {
	target   Target
	img      *image.Gray
	existing bool
	painted  bool
}

// Rasterize applies every ROI of doc and writes the touched masks. A target
// without an existing mask and without any qualifying inclusion ROI gets no
// file.
func (r Rasterizer) Rasterize(doc *annotation.Document, res Resolver) (Result, error) {
	minPoints := max(r.MinPoints, DefaultMinPoints)

	var (
		result   Result
		order    []*canvas
		byPath   = make(map[string]*canvas)
		firstErr error
	)

	doc.Walk(func(_ *annotation.Session, _ *annotation.Object, roi *annotation.ROI) {
		if firstErr != nil {
			return
		}
		if len(roi.Points) < minPoints {
			result.Degenerate++
			return
		}
		t, ok := res.Resolve(roi)
		if !ok {
			result.Unresolved++
			return
		}
		c, ok := byPath[t.MaskPath]
		if !ok {
			var err error
			if c, err = open(t); err != nil {
				firstErr = err
				return
			}
			byPath[t.MaskPath] = c
			order = append(order, c)
		}
		if roi.Inclusion {
			FillPolygon(c.img, roi.Points, r.Color)
			c.painted = true
		} else {
			FillPolygon(c.img, roi.Points, 0)
		}
	})
	if firstErr != nil {
		return result, firstErr
	}

	for _, c := range order {
		if !c.existing && !c.painted {
			continue
		}
		if err := Save(c.target.MaskPath, c.img); err != nil {
			return result, err
		}
		result.Written = append(result.Written, c.target)
	}
	return result, nil
}

func open(t Target) (*canvas, error) {
	if !Exists(t.MaskPath) {
		return &canvas{target: t, img: New(t.Size.X, t.Size.Y)}, nil
	}
	img, err := Load(t.MaskPath)
	if err != nil {
		return nil, err
	}
	if got := img.Bounds().Size(); got != t.Size {
		return nil, fmt.Errorf("mask %s is %v, image is %v", t.MaskPath, got, t.Size)
	}
	return &canvas{target: t, img: img, existing: true}, nil
}
