package dicom

import (
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"math"
	randv2 "math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/mrsinham/umieforge/internal/annotation"
	"github.com/mrsinham/umieforge/internal/util"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	ctImageStorage  = "1.2.840.10008.5.1.4.1.1.2"
	explicitVRLE    = "1.2.840.10008.1.2.1"
	sliceSpacing    = 2.5
	firstSliceZ     = -100.0
	rescaleOffset   = 1024
	annotationFile  = "069.xml"
	synthReaderName = "synth"
)

// SynthOptions configures Synthesize.
type SynthOptions struct {
	OutputDir string
	Patients  int // default 1
	Slices    int // slices per series, default 6
	Width     int // default 64
	Height    int // default 64
	// Seed makes the output reproducible. 0 derives it from OutputDir.
	Seed int64
	// Nodules per patient. Each nodule gets an outline on every slice it
	// crosses in the series annotation file.
	Nodules int
	// NonNodules per patient, marked with a single locus.
	NonNodules int
	// DrawLabels burns the instance number into each slice.
	DrawLabels bool
	Workers    int // 0 = one per CPU

	ProgressCallback func(current, total int)
}

// SynthSlice is one generated instance.
type SynthSlice struct {
	Path           string
	SOPInstanceUID string
	Instance       int
	Z              float64
}

// SynthNodule is a spherical finding spanning slices First..Last.
type SynthNodule struct {
	ID          string
	Center      image.Point
	Radius      int
	First, Last int
	Malignancy  int
}

// SynthSeries is one generated CT series with its annotation file.
type SynthSeries struct {
	PatientID      string
	StudyUID       string
	SeriesUID      string
	Dir            string
	AnnotationPath string
	Slices         []SynthSlice
	Nodules        []SynthNodule
}

type sliceTask struct {
	index   int
	series  *SynthSeries
	slice   SynthSlice
	width   int
	height  int
	seed    uint64
	label   string
	nodules []SynthNodule
}

// Synthesize writes chest CT series laid out as
// <OutputDir>/<PatientID>/<StudyUID>/<SeriesUID>/1-NNN.dcm with an LIDC
// annotation file next to the slices when nodules are requested.
func Synthesize(ctx context.Context, opts SynthOptions) ([]SynthSeries, error) {
	if opts.OutputDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if opts.Patients <= 0 {
		opts.Patients = 1
	}
	if opts.Slices <= 0 {
		opts.Slices = 6
	}
	if opts.Width <= 0 {
		opts.Width = 64
	}
	if opts.Height <= 0 {
		opts.Height = 64
	}
	if opts.Width < 16 || opts.Height < 16 {
		return nil, fmt.Errorf("slices must be at least 16x16, got %dx%d", opts.Width, opts.Height)
	}

	seed := opts.Seed
	if seed == 0 {
		h := fnv.New64a()
		_, _ = h.Write([]byte(opts.OutputDir)) // hash.Write never returns an error
		seed = int64(h.Sum64())
	}
	rng := randv2.New(randv2.NewPCG(uint64(seed), uint64(seed)))

	series := make([]SynthSeries, opts.Patients)
	var tasks []sliceTask
	for p := range series {
		s := &series[p]
		s.PatientID = fmt.Sprintf("LIDC-IDRI-%04d", p+1)
		s.StudyUID = util.GenerateDeterministicUID(fmt.Sprintf("%d_patient_%d_study", seed, p))
		s.SeriesUID = util.GenerateDeterministicUID(fmt.Sprintf("%d_patient_%d_series", seed, p))
		s.Dir = filepath.Join(opts.OutputDir, s.PatientID, s.StudyUID, s.SeriesUID)
		for n := 0; n < opts.Nodules; n++ {
			s.Nodules = append(s.Nodules, placeNodule(rng, n, opts))
		}
		for i := 0; i < opts.Slices; i++ {
			sl := SynthSlice{
				Path:           filepath.Join(s.Dir, fmt.Sprintf("1-%03d.dcm", i+1)),
				SOPInstanceUID: util.GenerateDeterministicUID(fmt.Sprintf("%d_patient_%d_instance_%d", seed, p, i+1)),
				Instance:       i + 1,
				Z:              firstSliceZ + float64(i)*sliceSpacing,
			}
			s.Slices = append(s.Slices, sl)
			t := sliceTask{
				index:  len(tasks),
				series: s,
				slice:  sl,
				width:  opts.Width,
				height: opts.Height,
				seed:   rng.Uint64(),
			}
			if opts.DrawLabels {
				t.label = fmt.Sprintf("%d", sl.Instance)
			}
			for _, nod := range s.Nodules {
				if i >= nod.First && i <= nod.Last {
					t.nodules = append(t.nodules, nod)
				}
			}
			tasks = append(tasks, t)
		}
		if err := os.MkdirAll(s.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create series directory: %w", err)
		}
		if opts.Nodules > 0 || opts.NonNodules > 0 {
			s.AnnotationPath = filepath.Join(s.Dir, annotationFile)
			if err := annotation.WriteFile(s.AnnotationPath, s.document(rng, opts.NonNodules, opts.Width, opts.Height)); err != nil {
				return nil, err
			}
		}
	}

	if err := runSliceTasks(ctx, tasks, opts); err != nil {
		return nil, err
	}
	return series, nil
}

func runSliceTasks(ctx context.Context, tasks []sliceTask, opts SynthOptions) error {
	numWorkers := opts.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if numWorkers > len(tasks) {
		numWorkers = len(tasks)
	}

	taskChan := make(chan sliceTask, len(tasks))
	resultChan := make(chan struct {
		index int
		err   error
	}, len(tasks))

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskChan {
				err := ctx.Err()
				if err == nil {
					err = writeSlice(task)
				}
				resultChan <- struct {
					index int
					err   error
				}{task.index, err}
			}
		}()
	}
	for _, task := range tasks {
		taskChan <- task
	}
	close(taskChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	completed := 0
	var firstErr error
	for result := range resultChan {
		if result.err != nil && firstErr == nil {
			firstErr = fmt.Errorf("generate slice %d: %w", result.index, result.err)
		}
		completed++
		if opts.ProgressCallback != nil {
			opts.ProgressCallback(completed, len(tasks))
		}
	}
	return firstErr
}

func placeNodule(rng *randv2.Rand, n int, opts SynthOptions) SynthNodule {
	w, h := opts.Width, opts.Height
	minR := max(2, w/32)
	maxR := max(minR+1, w/12)
	r := minR + rng.IntN(maxR-minR+1)

	// Lungs are two ellipses centred at 30% and 70% of the width.
	cx := w * 3 / 10
	if rng.IntN(2) == 1 {
		cx = w * 7 / 10
	}
	spread := max(1, w/10-r)
	c := image.Pt(cx+rng.IntN(2*spread+1)-spread, h/2+rng.IntN(2*spread+1)-spread)

	span := 1 + rng.IntN(max(1, opts.Slices/2))
	first := rng.IntN(max(1, opts.Slices-span+1))
	return SynthNodule{
		ID:         fmt.Sprintf("Nodule %03d", n+1),
		Center:     c,
		Radius:     r,
		First:      first,
		Last:       min(opts.Slices-1, first+span-1),
		Malignancy: 1 + rng.IntN(5),
	}
}

// radiusAt is the nodule radius on slice i, largest at the middle slice.
func (n SynthNodule) radiusAt(i int) int {
	if n.Last == n.First {
		return n.Radius
	}
	mid := float64(n.First+n.Last) / 2
	half := float64(n.Last-n.First)/2 + 1
	f := math.Sqrt(1 - math.Pow((float64(i)-mid)/half, 2))
	return max(1, int(math.Round(float64(n.Radius)*f)))
}

// outline approximates the nodule section on slice i with a polygon.
func (n SynthNodule) outline(i int) []image.Point {
	const vertices = 12
	r := float64(n.radiusAt(i))
	pts := make([]image.Point, vertices)
	for k := range pts {
		a := 2 * math.Pi * float64(k) / vertices
		pts[k] = image.Pt(n.Center.X+int(math.Round(r*math.Cos(a))), n.Center.Y+int(math.Round(r*math.Sin(a))))
	}
	return pts
}

func (s *SynthSeries) document(rng *randv2.Rand, nonNodules, w, h int) *annotation.Document {
	sess := annotation.Session{Reader: synthReaderName}
	for _, nod := range s.Nodules {
		obj := annotation.Object{ID: nod.ID, Kind: annotation.Nodule, Malignancy: nod.Malignancy}
		for i := nod.First; i <= nod.Last; i++ {
			sl := s.Slices[i]
			obj.ROIs = append(obj.ROIs, annotation.ROI{
				ImageUID:  sl.SOPInstanceUID,
				Z:         sl.Z,
				Inclusion: true,
				Points:    nod.outline(i),
			})
		}
		sess.Objects = append(sess.Objects, obj)
	}
	for n := 0; n < nonNodules; n++ {
		sl := s.Slices[rng.IntN(len(s.Slices))]
		sess.Objects = append(sess.Objects, annotation.Object{
			ID:   fmt.Sprintf("NonNodule %03d", n+1),
			Kind: annotation.NonNodule,
			ROIs: []annotation.ROI{{
				ImageUID:  sl.SOPInstanceUID,
				Z:         sl.Z,
				Inclusion: true,
				Points:    []image.Point{image.Pt(w/4+rng.IntN(w/2), h/4+rng.IntN(h/2))},
			}},
		})
	}
	return &annotation.Document{StudyUID: s.StudyUID, SeriesUID: s.SeriesUID, Sessions: []annotation.Session{sess}}
}

// hounsfield returns the tissue value at (x, y) before noise.
func hounsfield(x, y, w, h int, nodules []SynthNodule, slice int) float64 {
	inEllipse := func(cx, cy, rx, ry float64) bool {
		dx, dy := (float64(x)-cx)/rx, (float64(y)-cy)/ry
		return dx*dx+dy*dy <= 1
	}
	fw, fh := float64(w), float64(h)
	if !inEllipse(fw/2, fh/2, fw*0.45, fh*0.4) {
		return -1000
	}
	inLung := inEllipse(fw*0.3, fh/2, fw*0.15, fh*0.3) || inEllipse(fw*0.7, fh/2, fw*0.15, fh*0.3)
	if !inLung {
		return 40
	}
	for _, n := range nodules {
		r := float64(n.radiusAt(slice))
		dx, dy := float64(x-n.Center.X), float64(y-n.Center.Y)
		if dx*dx+dy*dy <= r*r {
			return 60
		}
	}
	return -820
}

func writeSlice(task sliceTask) error {
	width, height := task.width, task.height
	rng := randv2.New(randv2.NewPCG(task.seed, task.seed))

	nativeFrame := frame.NewNativeFrame[uint16](16, height, width, width*height, 1)
	slice := task.slice.Instance - 1
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			hu := hounsfield(x, y, width, height, task.nodules, slice) + (rng.Float64()-0.5)*40
			stored := math.Max(0, math.Min(4095, hu+rescaleOffset))
			nativeFrame.RawData[y*width+x] = uint16(stored)
		}
	}
	if task.label != "" {
		drawLabel(nativeFrame, width, height, task.label, 4095)
	}

	s := task.series
	sl := task.slice
	elements := []*dicom.Element{
		mustNewElement(tag.TransferSyntaxUID, []string{explicitVRLE}),
		mustNewElement(tag.MediaStorageSOPClassUID, []string{ctImageStorage}),
		mustNewElement(tag.MediaStorageSOPInstanceUID, []string{sl.SOPInstanceUID}),
		mustNewElement(tag.PatientName, []string{s.PatientID}),
		mustNewElement(tag.PatientID, []string{s.PatientID}),
		mustNewElement(tag.StudyInstanceUID, []string{s.StudyUID}),
		mustNewElement(tag.SeriesInstanceUID, []string{s.SeriesUID}),
		mustNewElement(tag.SeriesNumber, []string{"1"}),
		mustNewElement(tag.Modality, []string{"CT"}),
		mustNewElement(tag.BodyPartExamined, []string{"CHEST"}),
		mustNewElement(tag.SOPClassUID, []string{ctImageStorage}),
		mustNewElement(tag.SOPInstanceUID, []string{sl.SOPInstanceUID}),
		mustNewElement(tag.InstanceNumber, []string{fmt.Sprintf("%d", sl.Instance)}),
		mustNewElement(tag.ImagePositionPatient, []string{"-100.000000", "-100.000000", fmt.Sprintf("%.6f", sl.Z)}),
		mustNewElement(tag.SliceLocation, []string{fmt.Sprintf("%.6f", sl.Z)}),
		mustNewElement(tag.SliceThickness, []string{fmt.Sprintf("%.6f", sliceSpacing)}),
		mustNewElement(tag.PixelSpacing, []string{"0.700000", "0.700000"}),
		mustNewElement(tag.Rows, []int{height}),
		mustNewElement(tag.Columns, []int{width}),
		mustNewElement(tag.BitsAllocated, []int{16}),
		mustNewElement(tag.BitsStored, []int{12}),
		mustNewElement(tag.HighBit, []int{11}),
		mustNewElement(tag.PixelRepresentation, []int{0}),
		mustNewElement(tag.SamplesPerPixel, []int{1}),
		mustNewElement(tag.PhotometricInterpretation, []string{"MONOCHROME2"}),
		mustNewElement(tag.RescaleIntercept, []string{fmt.Sprintf("%d", -rescaleOffset)}),
		mustNewElement(tag.RescaleSlope, []string{"1"}),
		mustNewElement(tag.WindowCenter, []string{"-600"}),
		mustNewElement(tag.WindowWidth, []string{"1500"}),
		mustNewElement(tag.PixelData, dicom.PixelDataInfo{
			Frames: []*frame.Frame{{Encapsulated: false, NativeData: nativeFrame}},
		}),
	}
	return writeDatasetToFile(sl.Path, dicom.Dataset{Elements: elements})
}

// drawLabel burns text into the top-left corner of a frame with the given
// stored value.
func drawLabel(nativeFrame *frame.NativeFrame[uint16], width, height int, text string, value uint16) {
	face := basicfont.Face7x13
	tw := font.MeasureString(face, text).Ceil()
	th := 13
	textImg := image.NewAlpha(image.Rect(0, 0, tw, th))
	drawer := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(color.Alpha{A: 255}),
		Face: face,
		Dot:  fixed.Point26_6{X: 0, Y: fixed.I(11)},
	}
	drawer.DrawString(text)

	scale := max(1, width/(tw*6))
	scaled := image.NewAlpha(image.Rect(0, 0, tw*scale, th*scale))
	draw.NearestNeighbor.Scale(scaled, scaled.Bounds(), textImg, textImg.Bounds(), draw.Src, nil)

	const margin = 1
	b := scaled.Bounds()
	for y := 0; y < b.Dy() && y+margin < height; y++ {
		for x := 0; x < b.Dx() && x+margin < width; x++ {
			if scaled.AlphaAt(x, y).A > 127 {
				nativeFrame.RawData[(y+margin)*width+x+margin] = value
			}
		}
	}
}

func mustNewElement(t tag.Tag, value interface{}) *dicom.Element {
	elem, err := dicom.NewElement(t, value)
	if err != nil {
		panic(fmt.Sprintf("failed to create element %v: %v", t, err))
	}
	return elem
}

func writeDatasetToFile(filename string, ds dicom.Dataset, opts ...dicom.WriteOption) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return dicom.Write(f, ds, opts...)
}
