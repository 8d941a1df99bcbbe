package pathid

import (
	"errors"
	"path/filepath"
	"testing"
)

func testScheme() Scheme {
	return Scheme{
		Root:        "/data/umie",
		DatasetUID:  "03",
		DatasetName: "LIDC-IDRI",
		Phases:      map[string]string{"1": "CT", "2": "CT-pre", "3": "CT-post"},
	}
}

func TestEncode(t *testing.T) {
	s := testScheme()
	got, err := s.Encode(s.NewID("1", "LIDC0001", "000042"))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	want := filepath.Join("/data/umie", "03_LIDC-IDRI", "CT", "Images", "03_1_LIDC0001_000042.png")
	if got != want {
		t.Errorf("Encode() = %q, want %q", got, want)
	}

	got, err = s.EncodeMask(s.NewID("1", "LIDC0001", "000042"))
	if err != nil {
		t.Fatalf("EncodeMask() error = %v", err)
	}
	want = filepath.Join("/data/umie", "03_LIDC-IDRI", "CT", "Masks", "03_1_LIDC0001_000042.png")
	if got != want {
		t.Errorf("EncodeMask() = %q, want %q", got, want)
	}
}

func TestEncodeErrors(t *testing.T) {
	s := testScheme()
	tests := []struct {
		name    string
		id      ID
		wantErr error
	}{
		{"unknown phase", s.NewID("9", "st", "im"), ErrUnknownPhase},
		{"empty study", s.NewID("1", "", "im"), ErrInvalidComponent},
		{"underscore in image", s.NewID("1", "st", "a_b"), ErrInvalidComponent},
		{"slash in study", s.NewID("1", "a/b", "im"), ErrInvalidComponent},
		{"dot dot", s.NewID("1", "..", "im"), ErrInvalidComponent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Encode(tt.id)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Encode() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := s.Encode(ID{DatasetUID: "04", PhaseID: "1", StudyID: "s", ImageID: "i"}); err == nil {
		t.Error("Encode() with foreign dataset uid should fail")
	}
}

func TestRoundTrip(t *testing.T) {
	s := testScheme()
	ids := []ID{
		s.NewID("1", "LIDC0001", "000001"),
		s.NewID("2", "case-00012", "slice.0004"),
		s.NewID("3", "P9", "x"),
	}
	for _, id := range ids {
		for _, enc := range []func(ID) (string, error){s.Encode, s.EncodeMask} {
			p, err := enc(id)
			if err != nil {
				t.Fatalf("encode(%v) error = %v", id, err)
			}
			d, err := s.Decode(p)
			if err != nil {
				t.Fatalf("Decode(%q) error = %v", p, err)
			}
			if d.ID != id {
				t.Errorf("Decode(%q).ID = %+v, want %+v", p, d.ID, id)
			}
			if want := s.Phases[id.PhaseID]; d.PhaseName != want {
				t.Errorf("Decode(%q).PhaseName = %q, want %q", p, d.PhaseName, want)
			}
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	s := testScheme()
	paths := []string{
		"/x/03_1_a_b.jpg",
		"/x/03_1_a.png",
		"/x/03_1_a_b_c.png",
		"/x/04_1_a_b.png",
		"/x/03_7_a_b.png",
		"/x/03__a_b.png",
		"scan.png",
	}
	for _, p := range paths {
		_, err := s.Decode(p)
		var me *MalformedIDError
		if !errors.As(err, &me) {
			t.Errorf("Decode(%q) error = %v, want *MalformedIDError", p, err)
			continue
		}
		if me.Path != p {
			t.Errorf("MalformedIDError.Path = %q, want %q", me.Path, p)
		}
	}
}

func TestPairedPaths(t *testing.T) {
	s := testScheme()
	img, _ := s.Encode(s.NewID("2", "st", "im"))
	mask, err := s.MaskPathFor(img)
	if err != nil {
		t.Fatalf("MaskPathFor() error = %v", err)
	}
	if filepath.Base(filepath.Dir(mask)) != MasksDir {
		t.Errorf("MaskPathFor() = %q, want a path inside %s", mask, MasksDir)
	}
	back, err := s.ImagePathFor(mask)
	if err != nil {
		t.Fatalf("ImagePathFor() error = %v", err)
	}
	if back != img {
		t.Errorf("ImagePathFor(MaskPathFor(p)) = %q, want %q", back, img)
	}
}

func TestManifestPath(t *testing.T) {
	s := testScheme()
	want := filepath.Join("/data/umie", "03_LIDC-IDRI", "03_LIDC-IDRI.jsonl")
	if got := s.ManifestPath(); got != want {
		t.Errorf("ManifestPath() = %q, want %q", got, want)
	}
	if got := s.NewID("1", "a", "b").String(); got != "03_1_a_b" {
		t.Errorf("ID.String() = %q, want %q", got, "03_1_a_b")
	}
}
