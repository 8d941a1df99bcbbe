package dicom

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mrsinham/umieforge/internal/annotation"
	"github.com/mrsinham/umieforge/internal/util"
	"github.com/suyashkumar/dicom/pkg/tag"
)

func synth(t *testing.T, opts SynthOptions) []SynthSeries {
	t.Helper()
	if opts.OutputDir == "" {
		opts.OutputDir = t.TempDir()
	}
	series, err := Synthesize(context.Background(), opts)
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	return series
}

func TestSynthesizeLayout(t *testing.T) {
	dir := t.TempDir()
	series := synth(t, SynthOptions{OutputDir: dir, Patients: 2, Slices: 4, Width: 32, Height: 32, Seed: 7, Nodules: 1, NonNodules: 1})
	if len(series) != 2 {
		t.Fatalf("len(series) = %d, want 2", len(series))
	}
	for _, s := range series {
		if len(s.Slices) != 4 {
			t.Errorf("%s: %d slices, want 4", s.PatientID, len(s.Slices))
		}
		want := filepath.Join(dir, s.PatientID, s.StudyUID, s.SeriesUID)
		if s.Dir != want {
			t.Errorf("Dir = %s, want %s", s.Dir, want)
		}
		for _, sl := range s.Slices {
			if _, err := os.Stat(sl.Path); err != nil {
				t.Errorf("slice missing: %v", err)
			}
		}
		if s.AnnotationPath == "" {
			t.Fatalf("%s: no annotation written", s.PatientID)
		}
	}
	if series[0].StudyUID == series[1].StudyUID {
		t.Error("patients share a study UID")
	}
}

func TestSynthesizeDeterministic(t *testing.T) {
	a := synth(t, SynthOptions{Seed: 42, Slices: 3, Width: 32, Height: 32, Nodules: 2})
	b := synth(t, SynthOptions{Seed: 42, Slices: 3, Width: 32, Height: 32, Nodules: 2})
	if a[0].StudyUID != b[0].StudyUID || a[0].Slices[2].SOPInstanceUID != b[0].Slices[2].SOPInstanceUID {
		t.Error("same seed produced different UIDs")
	}
	for i := range a[0].Nodules {
		if a[0].Nodules[i] != b[0].Nodules[i] {
			t.Errorf("nodule %d = %+v, want %+v", i, b[0].Nodules[i], a[0].Nodules[i])
		}
	}
	for i := range a[0].Slices {
		da, err := os.ReadFile(a[0].Slices[i].Path)
		if err != nil {
			t.Fatal(err)
		}
		db, err := os.ReadFile(b[0].Slices[i].Path)
		if err != nil {
			t.Fatal(err)
		}
		if string(da) != string(db) {
			t.Errorf("slice %d differs between runs", i)
		}
	}
}

func TestSynthesizeRejects(t *testing.T) {
	if _, err := Synthesize(context.Background(), SynthOptions{}); err == nil {
		t.Error("Synthesize() without output dir should fail")
	}
	if _, err := Synthesize(context.Background(), SynthOptions{OutputDir: t.TempDir(), Width: 8, Height: 8}); err == nil {
		t.Error("Synthesize() with tiny slices should fail")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Synthesize(ctx, SynthOptions{OutputDir: t.TempDir()}); err == nil {
		t.Error("Synthesize() with a cancelled context should fail")
	}
}

func TestReadSynthesized(t *testing.T) {
	series := synth(t, SynthOptions{Seed: 3, Slices: 2, Width: 40, Height: 24, DrawLabels: true})
	sl := series[0].Slices[1]

	img, err := Read(sl.Path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if img.Rows != 24 || img.Columns != 40 {
		t.Errorf("size = %dx%d, want 40x24", img.Columns, img.Rows)
	}
	if img.Signed || img.BitsStored != 12 || img.Photometric != "MONOCHROME2" {
		t.Errorf("pixel module = signed %v bits %d %s", img.Signed, img.BitsStored, img.Photometric)
	}
	if img.Slope != 1 || img.Intercept != -1024 {
		t.Errorf("rescale = %v/%v, want 1/-1024", img.Slope, img.Intercept)
	}
	if !img.HasWindow || img.WindowCenter != -600 || img.WindowWidth != 1500 {
		t.Errorf("window = %v %v/%v", img.HasWindow, img.WindowCenter, img.WindowWidth)
	}
	if len(img.Planes) != 1 {
		t.Fatalf("len(Planes) = %d, want 1", len(img.Planes))
	}
	p := img.Planes[0]
	if p.Width != 40 || p.Height != 24 || len(p.Values) != 40*24 {
		t.Fatalf("plane = %dx%d (%d values)", p.Width, p.Height, len(p.Values))
	}
	// Corners are air, stored around 24 after the 1024 offset.
	if v := p.Values[len(p.Values)-1]; v > 100 {
		t.Errorf("corner value = %d, want air", v)
	}
	if got := img.Value(tag.SOPInstanceUID); got != sl.SOPInstanceUID {
		t.Errorf("SOPInstanceUID = %q, want %q", got, sl.SOPInstanceUID)
	}
	if got := img.Value(tag.InstanceNumber); got != "2" {
		t.Errorf("InstanceNumber = %q, want 2", got)
	}
}

func TestReadHeaderLayout(t *testing.T) {
	series := synth(t, SynthOptions{Seed: 9, Slices: 1, Width: 16, Height: 16})
	s := series[0]

	h, err := ReadHeader(s.Slices[0].Path)
	if err != nil {
		t.Fatalf("ReadHeader() error = %v", err)
	}
	infos, err := util.ResolveLayout([]string{"PatientID", "SeriesNumber", "SOPInstanceUID"})
	if err != nil {
		t.Fatal(err)
	}
	vals, err := h.Layout(infos)
	if err != nil {
		t.Fatalf("Layout() error = %v", err)
	}
	want := []string{s.PatientID, "1", s.Slices[0].SOPInstanceUID}
	for i := range want {
		if vals[i] != want[i] {
			t.Errorf("Layout()[%d] = %q, want %q", i, vals[i], want[i])
		}
	}

	acc, err := util.ResolveLayout([]string{"AccessionNumber", "SOPInstanceUID"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Layout(acc); err == nil {
		t.Error("Layout() with an absent tag should fail")
	}

	if _, err := ReadHeader(filepath.Join(t.TempDir(), "missing.dcm")); err == nil {
		t.Error("ReadHeader() on a missing file should fail")
	}
	junk := filepath.Join(t.TempDir(), "junk.dcm")
	if err := os.WriteFile(junk, []byte("not dicom"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(junk); err == nil {
		t.Error("Read() on junk should fail")
	}
}

func TestSynthesizedAnnotationsReferenceSlices(t *testing.T) {
	series := synth(t, SynthOptions{Seed: 11, Slices: 6, Width: 64, Height: 64, Nodules: 2, NonNodules: 1})
	s := series[0]
	doc, err := annotation.ParseFile(s.AnnotationPath)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if doc.SeriesUID != s.SeriesUID {
		t.Errorf("SeriesUID = %q, want %q", doc.SeriesUID, s.SeriesUID)
	}
	uids := map[string]bool{}
	for _, sl := range s.Slices {
		uids[sl.SOPInstanceUID] = true
	}
	wantROIs := 1
	for _, n := range s.Nodules {
		wantROIs += n.Last - n.First + 1
	}
	if got := doc.CountROIs(); got != wantROIs {
		t.Errorf("CountROIs() = %d, want %d", got, wantROIs)
	}
	doc.Walk(func(_ *annotation.Session, o *annotation.Object, r *annotation.ROI) {
		if !uids[r.ImageUID] {
			t.Errorf("%s references unknown slice %s", o.ID, r.ImageUID)
		}
		if o.Kind == annotation.Nodule && len(r.Points) != 12 {
			t.Errorf("%s outline has %d points, want 12", o.ID, len(r.Points))
		}
	})
}
