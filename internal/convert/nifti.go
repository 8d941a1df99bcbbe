package convert

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/mrsinham/umieforge/internal/mask"
)

const niftiHeaderSize = 348

// NIfTI-1 datatype codes.
const (
	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
	dtInt8    = 256
	dtUint16  = 512
)

// Volume is the first 3D volume of a NIfTI-1 file with scaling applied.
// Voxel (i, j, k) is Data[i + j*X + k*X*Y].
type Volume struct {
	X, Y, Z int
	Data    []float64
}

// ReadNIfTI reads a single file NIfTI-1 volume, gzip compressed or not.
func ReadNIfTI(path string) (*Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open volume: %w", err)
	}
	defer f.Close()
	v, err := DecodeNIfTI(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// DecodeNIfTI reads a volume from r. Gzip input is detected by its magic.
func DecodeNIfTI(r io.Reader) (*Volume, error) {
	br := bufio.NewReader(r)
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("invalid gzip stream: %w", err)
		}
		defer zr.Close()
		br = bufio.NewReader(zr)
	}

	hdr := make([]byte, niftiHeaderSize)
	if _, err := io.ReadFull(br, hdr); err != nil {
		return nil, fmt.Errorf("short NIfTI header: %w", err)
	}
	var order binary.ByteOrder = binary.LittleEndian
	switch {
	case order.Uint32(hdr[0:4]) == niftiHeaderSize:
	case binary.BigEndian.Uint32(hdr[0:4]) == niftiHeaderSize:
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("not a NIfTI-1 file")
	}
	if m := string(hdr[344:347]); m != "n+1" {
		return nil, fmt.Errorf("unsupported NIfTI magic %q, only single file volumes are read", m)
	}

	var dim [8]int
	for i := range dim {
		dim[i] = int(int16(order.Uint16(hdr[40+2*i:])))
	}
	if dim[0] < 2 || dim[0] > 7 {
		return nil, fmt.Errorf("invalid dimension count %d", dim[0])
	}
	nx, ny, nz := dim[1], dim[2], 1
	if dim[0] >= 3 {
		nz = dim[3]
	}
	if nx <= 0 || ny <= 0 || nz <= 0 {
		return nil, fmt.Errorf("invalid volume size %dx%dx%d", nx, ny, nz)
	}
	datatype := int(order.Uint16(hdr[70:]))
	voxOffset := int(math.Float32frombits(order.Uint32(hdr[108:])))
	slope := float64(math.Float32frombits(order.Uint32(hdr[112:])))
	inter := float64(math.Float32frombits(order.Uint32(hdr[116:])))
	if slope == 0 || math.IsNaN(slope) {
		slope, inter = 1, 0
	}
	if math.IsNaN(inter) {
		inter = 0
	}

	size, err := voxelSize(datatype)
	if err != nil {
		return nil, err
	}
	if voxOffset < niftiHeaderSize {
		voxOffset = niftiHeaderSize + 4
	}
	if _, err := io.CopyN(io.Discard, br, int64(voxOffset-niftiHeaderSize)); err != nil {
		return nil, fmt.Errorf("short NIfTI extension: %w", err)
	}

	n := nx * ny * nz
	raw := make([]byte, n*size)
	if _, err := io.ReadFull(br, raw); err != nil {
		return nil, fmt.Errorf("short voxel data: %w", err)
	}

	v := &Volume{X: nx, Y: ny, Z: nz, Data: make([]float64, n)}
	for i := 0; i < n; i++ {
		v.Data[i] = voxel(raw[i*size:], datatype, order)*slope + inter
	}
	return v, nil
}

func voxelSize(datatype int) (int, error) {
	switch datatype {
	case dtUint8, dtInt8:
		return 1, nil
	case dtInt16, dtUint16:
		return 2, nil
	case dtInt32, dtFloat32:
		return 4, nil
	case dtFloat64:
		return 8, nil
	}
	return 0, fmt.Errorf("unsupported NIfTI datatype %d", datatype)
}

func voxel(b []byte, datatype int, order binary.ByteOrder) float64 {
	switch datatype {
	case dtUint8:
		return float64(b[0])
	case dtInt8:
		return float64(int8(b[0]))
	case dtInt16:
		return float64(int16(order.Uint16(b)))
	case dtUint16:
		return float64(order.Uint16(b))
	case dtInt32:
		return float64(int32(order.Uint32(b)))
	case dtFloat32:
		return float64(math.Float32frombits(order.Uint32(b)))
	default:
		return math.Float64frombits(order.Uint64(b))
	}
}

// Slices returns one raster per k plane. Images are scaled with the volume
// range. Labels keep their value, clamped to 0..255.
func (v *Volume) Slices(labels bool) []*image.Gray {
	lut := clamp8
	if !labels {
		lo, hi := bounds(v.Data)
		lut = minMax(lo, hi)
	}
	plane := v.X * v.Y
	out := make([]*image.Gray, v.Z)
	for k := range out {
		g := mask.New(v.X, v.Y)
		for i, x := range v.Data[k*plane : (k+1)*plane] {
			g.Pix[i] = lut(x)
		}
		out[k] = g
	}
	return out
}

// EncodeNIfTI writes v as a little endian float32 NIfTI-1 file. It is the
// inverse of DecodeNIfTI for volumes without scaling.
func EncodeNIfTI(w io.Writer, v *Volume) error {
	if len(v.Data) != v.X*v.Y*v.Z {
		return fmt.Errorf("volume %dx%dx%d has %d voxels", v.X, v.Y, v.Z, len(v.Data))
	}
	hdr := make([]byte, niftiHeaderSize+4)
	le := binary.LittleEndian
	le.PutUint32(hdr[0:], niftiHeaderSize)
	for i, d := range []int{3, v.X, v.Y, v.Z, 1, 1, 1, 1} {
		le.PutUint16(hdr[40+2*i:], uint16(d))
	}
	le.PutUint16(hdr[70:], dtFloat32)
	le.PutUint16(hdr[72:], 32)
	for i := 0; i < 4; i++ {
		le.PutUint32(hdr[76+4*i:], math.Float32bits(1))
	}
	le.PutUint32(hdr[108:], math.Float32bits(niftiHeaderSize+4))
	le.PutUint32(hdr[112:], math.Float32bits(1))
	copy(hdr[344:], "n+1\x00")

	var buf bytes.Buffer
	buf.Write(hdr)
	for _, x := range v.Data {
		_ = binary.Write(&buf, le, float32(x))
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteNIfTI writes v to path, gzip compressed when path ends in .gz.
func WriteNIfTI(path string, v *Volume) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create volume: %w", err)
	}
	var w io.Writer = f
	var zw *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		zw = gzip.NewWriter(f)
		w = zw
	}
	if err := EncodeNIfTI(w, v); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			f.Close()
			return fmt.Errorf("failed to compress %s: %w", path, err)
		}
	}
	return f.Close()
}
