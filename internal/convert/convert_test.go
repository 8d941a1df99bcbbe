package convert

import (
	"bytes"
	"context"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/mrsinham/umieforge/internal/dicom"
	"github.com/mrsinham/umieforge/internal/mask"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindow(t *testing.T) {
	lut := window(40, 400)
	assert.Equal(t, uint8(0), lut(-1000))
	assert.Equal(t, uint8(0), lut(-160))
	assert.Equal(t, uint8(255), lut(1000))
	assert.Equal(t, uint8(128), lut(39.5))

	flat := minMax(5, 5)
	assert.Equal(t, uint8(0), flat(5))
}

func TestFrames(t *testing.T) {
	img := &dicom.Image{
		Slope:       2,
		Intercept:   -10,
		Photometric: "MONOCHROME2",
		Planes:      []dicom.Plane{{Width: 2, Height: 2, Values: []int{5, 10, 15, 20}}},
	}
	frames, err := Frames(img)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, []uint8{0, 85, 170, 255}, frames[0].Pix, "min-max over rescaled values")

	img.Photometric = "MONOCHROME1"
	frames, err = Frames(img)
	require.NoError(t, err)
	assert.Equal(t, []uint8{255, 170, 85, 0}, frames[0].Pix)

	img.Photometric = "MONOCHROME2"
	img.HasWindow, img.WindowCenter, img.WindowWidth = true, 10.5, 2
	frames, err = Frames(img)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 128, 255, 255}, frames[0].Pix)

	img.Planes[0].Values = []int{1}
	_, err = Frames(img)
	assert.Error(t, err)
}

func TestDICOMSynthesized(t *testing.T) {
	series, err := dicom.Synthesize(context.Background(), dicom.SynthOptions{
		OutputDir: t.TempDir(), Seed: 5, Slices: 1, Width: 32, Height: 32, Nodules: 1,
	})
	require.NoError(t, err)

	frames, img, err := DICOM(series[0].Slices[0].Path)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, image.Pt(32, 32), frames[0].Bounds().Size())
	assert.True(t, img.HasWindow)
	assert.Less(t, frames[0].GrayAt(0, 31).Y, uint8(80), "air is dark in the lung window")
	assert.Greater(t, frames[0].GrayAt(16, 4).Y, uint8(200), "soft tissue is above it")

	_, _, err = DICOM(filepath.Join(t.TempDir(), "none.dcm"))
	assert.Error(t, err)
}

func testVolume() *Volume {
	v := &Volume{X: 3, Y: 2, Z: 2, Data: make([]float64, 12)}
	for i := range v.Data {
		v.Data[i] = float64(i)
	}
	v.Data[11] = 300
	return v
}

func TestNIfTIRoundTrip(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"vol.nii", "vol.nii.gz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, WriteNIfTI(path, testVolume()))
			v, err := ReadNIfTI(path)
			require.NoError(t, err)
			assert.Equal(t, testVolume(), v)
		})
	}
}

func TestNIfTISlices(t *testing.T) {
	v := testVolume()
	labels := v.Slices(true)
	require.Len(t, labels, 2)
	assert.Equal(t, image.Pt(3, 2), labels[0].Bounds().Size())
	assert.Equal(t, []uint8{0, 1, 2, 3, 4, 5}, labels[0].Pix)
	assert.Equal(t, uint8(255), labels[1].Pix[5], "labels are clamped")

	images := v.Slices(false)
	assert.Equal(t, uint8(0), images[0].Pix[0])
	assert.Equal(t, uint8(255), images[1].Pix[5], "images use the volume range")
	assert.Equal(t, uint8(8), images[1].Pix[3])
}

func TestNIfTIScaling(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeNIfTI(&buf, &Volume{X: 1, Y: 1, Z: 1, Data: []float64{3}}))
	raw := buf.Bytes()
	// scl_slope = 2, scl_inter = 1
	copy(raw[112:116], []byte{0, 0, 0, 0x40})
	copy(raw[116:120], []byte{0, 0, 0x80, 0x3f})
	v, err := DecodeNIfTI(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, []float64{7}, v.Data)
}

func TestNIfTIErrors(t *testing.T) {
	_, err := DecodeNIfTI(bytes.NewReader([]byte("short")))
	assert.Error(t, err)

	var buf bytes.Buffer
	require.NoError(t, EncodeNIfTI(&buf, &Volume{X: 1, Y: 1, Z: 1, Data: []float64{1}}))
	raw := append([]byte{}, buf.Bytes()...)
	copy(raw[344:], "ni1")
	_, err = DecodeNIfTI(bytes.NewReader(raw))
	assert.ErrorContains(t, err, "single file")

	raw = append([]byte{}, buf.Bytes()...)
	raw[70] = 99
	_, err = DecodeNIfTI(bytes.NewReader(raw))
	assert.ErrorContains(t, err, "datatype")

	raw = buf.Bytes()[:len(buf.Bytes())-2]
	_, err = DecodeNIfTI(bytes.NewReader(raw))
	assert.ErrorContains(t, err, "voxel data")

	assert.Error(t, EncodeNIfTI(&bytes.Buffer{}, &Volume{X: 2, Y: 2, Z: 1}))
}

func TestResize(t *testing.T) {
	g := mask.New(100, 50)
	for i := range g.Pix {
		g.Pix[i] = uint8(i % 3)
	}
	assert.Same(t, g, Resize(g, 0, false))
	assert.Same(t, g, Resize(g, 100, false))

	small := Resize(g, 10, true)
	assert.Equal(t, image.Pt(10, 5), small.Bounds().Size())
	for v := range mask.Histogram(small) {
		assert.Contains(t, []uint8{0, 1, 2}, v, "nearest neighbour introduces no value")
	}

	tall := Resize(mask.New(20, 80), 40, false)
	assert.Equal(t, image.Pt(10, 40), tall.Bounds().Size())
}

func TestRaster(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.png")
	g := mask.New(4, 3)
	g.Pix[5] = 200
	require.NoError(t, mask.Save(path, g))
	got, err := Raster(path)
	require.NoError(t, err)
	assert.Equal(t, g.Pix, got.Pix)

	bad := filepath.Join(t.TempDir(), "bad.jpg")
	require.NoError(t, os.WriteFile(bad, []byte("nope"), 0o644))
	_, err = Raster(bad)
	assert.Error(t, err)

	assert.Equal(t, filepath.Join("s", "case", "0007.png"), SlicePath(filepath.Join("s", "case"), 7))
}
