// Package dicom reads DICOM instances into plain pixel planes and writes
// synthetic studies for trials and tests.
package dicom

import (
	"fmt"
	"image"
	"os"
	"strconv"
	"strings"

	"github.com/mrsinham/umieforge/internal/util"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Plane is one frame of stored pixel values, row major, after sign handling
// but before the modality rescale.
type Plane struct {
	Width, Height int
	Values        []int
}

// Image is a decoded instance.
type Image struct {
	Rows, Columns int
	BitsStored    int
	Signed        bool
	Photometric   string
	Slope         float64
	Intercept     float64
	// WindowCenter and WindowWidth are the first VOI window, valid when
	// HasWindow is set.
	WindowCenter float64
	WindowWidth  float64
	HasWindow    bool

	Planes []Plane
	// Rendered holds frames the parser could only decode as images
	// (encapsulated transfer syntaxes).
	Rendered []image.Image

	ds dicom.Dataset
}

// Read parses the instance at path including its pixel data.
func Read(path string) (*Image, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	img := &Image{ds: ds, Slope: 1, BitsStored: 16, Photometric: "MONOCHROME2"}

	if v, ok := img.intTag(tag.Rows); ok {
		img.Rows = v
	}
	if v, ok := img.intTag(tag.Columns); ok {
		img.Columns = v
	}
	if v, ok := img.intTag(tag.BitsStored); ok && v > 0 {
		img.BitsStored = v
	}
	if v, ok := img.intTag(tag.PixelRepresentation); ok {
		img.Signed = v == 1
	}
	if s := img.Value(tag.PhotometricInterpretation); s != "" {
		img.Photometric = strings.ToUpper(s)
	}
	if v, ok := img.floatTag(tag.RescaleSlope); ok && v != 0 {
		img.Slope = v
	}
	if v, ok := img.floatTag(tag.RescaleIntercept); ok {
		img.Intercept = v
	}
	c, okC := img.floatTag(tag.WindowCenter)
	w, okW := img.floatTag(tag.WindowWidth)
	if okC && okW && w >= 1 {
		img.WindowCenter, img.WindowWidth, img.HasWindow = c, w, true
	}

	pixElem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("%s has no pixel data: %w", path, err)
	}
	info := dicom.MustGetPixelDataInfo(pixElem.Value)
	for i, fr := range info.Frames {
		if fr.Encapsulated {
			rendered, err := fr.GetImage()
			if err != nil {
				return nil, fmt.Errorf("%s frame %d: %w", path, i, err)
			}
			img.Rendered = append(img.Rendered, rendered)
			continue
		}
		plane, err := img.plane(fr.NativeData)
		if err != nil {
			return nil, fmt.Errorf("%s frame %d: %w", path, i, err)
		}
		img.Planes = append(img.Planes, plane)
	}
	if len(img.Planes) == 0 && len(img.Rendered) == 0 {
		return nil, fmt.Errorf("%s has no frames", path)
	}
	return img, nil
}

type nativeFrame interface {
	Rows() int
	Cols() int
	SamplesPerPixel() int
	GetPixel(x, y int) ([]int, error)
}

func (img *Image) plane(nf nativeFrame) (Plane, error) {
	if nf == nil {
		return Plane{}, fmt.Errorf("missing native frame")
	}
	if spp := nf.SamplesPerPixel(); spp != 1 {
		return Plane{}, fmt.Errorf("unsupported samples per pixel %d", spp)
	}
	w, h := nf.Cols(), nf.Rows()
	p := Plane{Width: w, Height: h, Values: make([]int, w*h)}
	bits := img.BitsStored
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px, err := nf.GetPixel(x, y)
			if err != nil {
				return Plane{}, err
			}
			v := px[0]
			if img.Signed && v >= 1<<(bits-1) {
				v -= 1 << bits
			}
			p.Values[y*w+x] = v
		}
	}
	return p, nil
}

// Value returns the first value of tag t as a string, or "".
func (img *Image) Value(t tag.Tag) string {
	return stringValue(img.ds, t)
}

// Layout returns the values of a resolved staging layout. Empty values are
// an error since they would collapse distinct instances.
func (img *Image) Layout(infos []util.TagInfo) ([]string, error) {
	return layoutValues(img.ds, infos)
}

func (img *Image) intTag(t tag.Tag) (int, bool) {
	s := img.Value(t)
	if s == "" {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	return v, err == nil
}

func (img *Image) floatTag(t tag.Tag) (float64, bool) {
	s := img.Value(t)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

// Header is the tag set of an instance read without its pixel data.
type Header struct {
	ds dicom.Dataset
}

// ReadHeader parses the instance at path element by element, skipping pixel
// data and stopping at the first element it cannot decode.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	p, err := dicom.NewParser(f, info.Size(), nil, dicom.SkipPixelData())
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	var elements []*dicom.Element
	for {
		elem, err := p.Next()
		if err != nil {
			break
		}
		elements = append(elements, elem)
	}
	if len(elements) == 0 {
		return nil, fmt.Errorf("no elements parsed from %s", path)
	}
	meta := p.GetMetadata()
	return &Header{ds: dicom.Dataset{Elements: append(meta.Elements, elements...)}}, nil
}

// Value returns the first value of tag t as a string, or "".
func (h *Header) Value(t tag.Tag) string {
	return stringValue(h.ds, t)
}

// Layout returns the values of a resolved staging layout.
func (h *Header) Layout(infos []util.TagInfo) ([]string, error) {
	return layoutValues(h.ds, infos)
}

func layoutValues(ds dicom.Dataset, infos []util.TagInfo) ([]string, error) {
	out := make([]string, len(infos))
	for i, info := range infos {
		v := stringValue(ds, info.Tag)
		if v == "" {
			return nil, fmt.Errorf("tag %s is empty", info.Name)
		}
		out[i] = v
	}
	return out, nil
}

// stringValue returns the first value of an element as a string. Multi
// valued strings such as "40\400" yield their first component.
func stringValue(ds dicom.Dataset, t tag.Tag) string {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem == nil || elem.Value == nil {
		return ""
	}
	switch v := elem.Value.GetValue().(type) {
	case []string:
		if len(v) == 0 {
			return ""
		}
		return strings.TrimSpace(strings.Split(v[0], `\`)[0])
	case []int:
		if len(v) == 0 {
			return ""
		}
		return strconv.Itoa(v[0])
	case []float64:
		if len(v) == 0 {
			return ""
		}
		return strconv.FormatFloat(v[0], 'f', -1, 64)
	default:
		return strings.Trim(elem.Value.String(), " []")
	}
}
