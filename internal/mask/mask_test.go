package mask

import (
	"bytes"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/mrsinham/umieforge/internal/annotation"
	"github.com/mrsinham/umieforge/internal/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapResolver map[string]Target

func (m mapResolver) Resolve(roi *annotation.ROI) (Target, bool) {
	t, ok := m[roi.ImageUID]
	return t, ok
}

func square(x0, y0, x1, y1 int) []image.Point {
	return []image.Point{{x0, y0}, {x0, y1}, {x1, y1}, {x1, y0}}
}

func docOf(rois ...annotation.ROI) *annotation.Document {
	return &annotation.Document{Sessions: []annotation.Session{{
		Objects: []annotation.Object{{ID: "n1", ROIs: rois}},
	}}}
}

func uint8p(v uint8) *uint8 { return &v }

func TestRasterizeSquare(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Masks", "m.png")
	res := mapResolver{"img": {Key: "img", MaskPath: path, Size: image.Pt(20, 20)}}
	doc := docOf(annotation.ROI{ImageUID: "img", Inclusion: true, Points: square(0, 0, 10, 10)})

	result, err := Rasterizer{Color: 7}.Rasterize(doc, res)
	require.NoError(t, err)
	require.Len(t, result.Written, 1)

	img, err := Load(path)
	require.NoError(t, err)
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			want := uint8(0)
			if x <= 10 && y <= 10 {
				want = 7
			}
			if got := img.GrayAt(x, y).Y; got != want {
				t.Fatalf("pixel (%d,%d) = %d, want %d", x, y, got, want)
			}
		}
	}
}

func TestRasterizeExclusionClearsOnlyItsRegion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.png")
	res := mapResolver{"img": {MaskPath: path, Size: image.Pt(20, 20)}}
	doc := docOf(
		annotation.ROI{ImageUID: "img", Inclusion: true, Points: square(0, 0, 10, 10)},
		annotation.ROI{ImageUID: "img", Inclusion: false, Points: square(3, 3, 6, 6)},
	)

	_, err := Rasterizer{Color: 1}.Rasterize(doc, res)
	require.NoError(t, err)
	img, err := Load(path)
	require.NoError(t, err)

	h := Histogram(img)
	assert.Equal(t, 121-16, h[1])
	assert.Equal(t, 400-121+16, h[0])
	assert.Equal(t, uint8(0), img.GrayAt(4, 4).Y)
	assert.Equal(t, uint8(1), img.GrayAt(2, 2).Y)
	assert.Equal(t, uint8(1), img.GrayAt(7, 7).Y)
}

func TestRasterizeSkipsDegenerateAndUnpainted(t *testing.T) {
	dir := t.TempDir()
	res := mapResolver{
		"a": {MaskPath: filepath.Join(dir, "a.png"), Size: image.Pt(8, 8)},
		"b": {MaskPath: filepath.Join(dir, "b.png"), Size: image.Pt(8, 8)},
	}
	doc := docOf(
		annotation.ROI{ImageUID: "a", Inclusion: true, Points: []image.Point{{1, 1}, {2, 2}, {1, 3}}},
		annotation.ROI{ImageUID: "b", Inclusion: false, Points: square(0, 0, 4, 4)},
		annotation.ROI{ImageUID: "missing", Inclusion: true, Points: square(0, 0, 4, 4)},
	)

	result, err := Rasterizer{Color: 1}.Rasterize(doc, res)
	require.NoError(t, err)
	assert.Empty(t, result.Written)
	assert.Equal(t, 1, result.Degenerate)
	assert.Equal(t, 1, result.Unresolved)
	assert.False(t, Exists(filepath.Join(dir, "a.png")))
	assert.False(t, Exists(filepath.Join(dir, "b.png")))
}

func TestRasterizeMinPointsFloor(t *testing.T) {
	dir := t.TempDir()
	res := mapResolver{"a": {MaskPath: filepath.Join(dir, "a.png"), Size: image.Pt(8, 8)}}
	triangle := docOf(annotation.ROI{ImageUID: "a", Inclusion: true, Points: []image.Point{{0, 0}, {6, 0}, {0, 6}}})

	for _, minPoints := range []int{0, 1, 3} {
		result, err := Rasterizer{Color: 1, MinPoints: minPoints}.Rasterize(triangle, res)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Degenerate, "min points %d", minPoints)
		assert.Empty(t, result.Written)
	}

	result, err := Rasterizer{Color: 1, MinPoints: 5}.Rasterize(docOf(annotation.ROI{ImageUID: "a", Inclusion: true, Points: square(0, 0, 4, 4)}), res)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Degenerate, "four points under a raised floor")
}

func TestRasterizeDeterministicOnPristineCanvas(t *testing.T) {
	doc := docOf(
		annotation.ROI{ImageUID: "img", Inclusion: true, Points: []image.Point{{2, 1}, {14, 3}, {9, 15}, {1, 9}}},
		annotation.ROI{ImageUID: "img", Inclusion: false, Points: square(5, 5, 7, 7)},
	)
	var outputs [][]byte
	for i := 0; i < 2; i++ {
		path := filepath.Join(t.TempDir(), "m.png")
		_, err := Rasterizer{Color: 3}.Rasterize(doc, mapResolver{"img": {MaskPath: path, Size: image.Pt(16, 16)}})
		require.NoError(t, err)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		outputs = append(outputs, data)
	}
	assert.True(t, bytes.Equal(outputs[0], outputs[1]), "outputs differ between runs")
}

func TestRasterizeStartsFromExistingMask(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.png")
	prev := New(10, 10)
	prev.SetGray(9, 9, color.Gray{Y: 5})
	require.NoError(t, Save(path, prev))

	doc := docOf(annotation.ROI{ImageUID: "img", Inclusion: true, Points: square(0, 0, 3, 3)})
	_, err := Rasterizer{Color: 1}.Rasterize(doc, mapResolver{"img": {MaskPath: path, Size: image.Pt(10, 10)}})
	require.NoError(t, err)

	img, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint8(5), img.GrayAt(9, 9).Y)
	assert.Equal(t, uint8(1), img.GrayAt(2, 2).Y)

	_, err = Rasterizer{Color: 1}.Rasterize(doc, mapResolver{"img": {MaskPath: path, Size: image.Pt(12, 12)}})
	assert.Error(t, err, "size mismatch with the existing mask must fail")
}

func TestFillPolygonClipsToCanvas(t *testing.T) {
	img := New(5, 5)
	FillPolygon(img, square(-3, -3, 2, 2), 9)
	h := Histogram(img)
	assert.Equal(t, 9, h[9])
}

func layer(w, h int, v uint8, r image.Rectangle) *image.Gray {
	img := New(w, h)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func TestCombinePrecedence(t *testing.T) {
	a := layer(4, 4, 10, image.Rect(0, 0, 3, 3))
	b := layer(4, 4, 20, image.Rect(1, 1, 4, 4))

	ab, err := Combine(a, b)
	require.NoError(t, err)
	assert.Equal(t, uint8(20), ab.GrayAt(2, 2).Y, "order [A, B]: B wins")
	assert.Equal(t, uint8(10), ab.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(20), ab.GrayAt(3, 3).Y)

	ba, err := Combine(b, a)
	require.NoError(t, err)
	assert.Equal(t, uint8(10), ba.GrayAt(2, 2).Y, "order [B, A]: A wins")

	_, err = Combine(a, New(5, 5))
	assert.Error(t, err)
}

func TestCombinerRecolorsAndOrders(t *testing.T) {
	desc := &dataset.Descriptor{Masks: []dataset.Mask{
		{Structure: "kidney", Color: 2, SourceColor: uint8p(1)},
		{Structure: "kidney_tumor", Color: 3, SourceColor: uint8p(255), SourceName: "tumor"},
		{Structure: "kidney_cyst", Color: 4},
	}}

	_, err := NewCombiner(desc, []string{"kidney", "kidney_cyst"})
	require.ErrorIs(t, err, ErrNoSourceColor)

	c, err := NewCombiner(desc, []string{"kidney", "kidney_tumor"})
	require.NoError(t, err)
	parts := map[string]*image.Gray{
		"kidney": layer(4, 4, 1, image.Rect(0, 0, 4, 4)),
		"tumor":  layer(4, 4, 255, image.Rect(2, 2, 3, 3)),
	}
	out, err := c.Combine(parts)
	require.NoError(t, err)
	assert.Equal(t, map[uint8]int{2: 15, 3: 1}, Histogram(out))
	assert.Equal(t, uint8(1), parts["kidney"].GrayAt(0, 0).Y, "inputs must not be modified")

	_, err = c.Combine(map[string]*image.Gray{"liver": New(4, 4)})
	assert.Error(t, err)
}

func TestRecolorTotality(t *testing.T) {
	img := New(3, 3)
	vals := []uint8{0, 0, 5, 5, 5, 9, 9, 0, 9}
	copy(img.Pix, vals)

	Recolor(img, NewColorTable(map[uint8]uint8{5: 101}))
	assert.Equal(t, map[uint8]int{0: 3, 9: 3, 101: 3}, Histogram(img))
	assert.True(t, IdentityTable().IsIdentity())
	assert.False(t, NewColorTable(map[uint8]uint8{1: 2}).IsIdentity())
}

func TestRecolorFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.png")
	require.NoError(t, Save(path, layer(2, 2, 1, image.Rect(0, 0, 1, 1))))

	changed, err := RecolorFile(path, TableFor([]dataset.Mask{{Structure: "kidney", Color: 2, SourceColor: uint8p(1)}}))
	require.NoError(t, err)
	assert.True(t, changed)
	img, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), img.GrayAt(0, 0).Y)

	changed, err = RecolorFile(path, IdentityTable())
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestGroups(t *testing.T) {
	g := NewGroups()
	require.NoError(t, g.Add("img2", "kidney", "/a/k.png"))
	require.NoError(t, g.Add("img1", "kidney", "/b/k.png"))
	require.NoError(t, g.Add("img2", "tumor", "/a/t.png"))
	require.NoError(t, g.Add("img2", "tumor", "/a/t.png"))
	assert.Error(t, g.Add("img2", "tumor", "/c/t.png"))

	assert.Equal(t, []string{"img2", "img1"}, g.Keys())
	assert.Equal(t, 2, g.Len())
	assert.Len(t, g.Parts("img2"), 2)
	assert.Nil(t, g.Parts("nope"))
}

func TestOverlay(t *testing.T) {
	base := image.NewGray(image.Rect(0, 0, 2, 1))
	m := New(2, 1)
	m.SetGray(1, 0, color.Gray{Y: 1})
	p, err := ParsePalette(map[uint8]string{1: "#ff0000"})
	require.NoError(t, err)

	out, err := Overlay(base, m, p, 1)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{A: 0xff}, out.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{R: 0xff, A: 0xff}, out.RGBAAt(1, 0))

	_, err = ParsePalette(map[uint8]string{1: "red?"})
	assert.Error(t, err)
	_, err = Overlay(base, New(3, 3), p, 0.5)
	assert.Error(t, err)

	pal := PaletteFor(dataset.DefaultColors)
	assert.Len(t, pal, len(dataset.DefaultColors)-1)
}
