// Package annotation reads reader-session ROI annotations in the LIDC XML
// format.
//
// Sessions, their objects and each object's ROIs are kept in document order.
// Nothing in this package mutates a Document after Parse returns.
package annotation

import (
	"encoding/xml"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"strconv"
	"strings"
)

// ObjectKind distinguishes annotated findings.
type ObjectKind int

const (
	// Nodule is a finding outlined with one or more ROIs.
	Nodule ObjectKind = iota
	// NonNodule is a finding marked with a single locus point.
	NonNodule
)

// String returns the string representation of an ObjectKind.
func (k ObjectKind) String() string {
	if k == NonNodule {
		return "nonNodule"
	}
	return "nodule"
}

// ROI is one region of interest on one image slice.
type ROI struct {
	// ImageUID is the SOP instance UID of the annotated slice.
	ImageUID string
	Z        float64
	// Inclusion is false for regions marking the inside of a hole.
	Inclusion bool
	Points    []image.Point
}

// Object is one finding of one reader.
type Object struct {
	ID         string
	Kind       ObjectKind
	Malignancy int
	ROIs       []ROI
}

// Session is the work of one reader.
type Session struct {
	Reader  string
	Objects []Object
}

// Document is a parsed annotation file.
type Document struct {
	StudyUID  string
	SeriesUID string
	Sessions  []Session
}

// Walk calls fn for every ROI in document order.
func (d *Document) Walk(fn func(s *Session, o *Object, r *ROI)) {
	for i := range d.Sessions {
		s := &d.Sessions[i]
		for j := range s.Objects {
			o := &s.Objects[j]
			for k := range o.ROIs {
				fn(s, o, &o.ROIs[k])
			}
		}
	}
}

// CountROIs returns the number of ROIs in the document.
func (d *Document) CountROIs() int {
	n := 0
	d.Walk(func(*Session, *Object, *ROI) { n++ })
	return n
}

type edgeXML struct {
	X int `xml:"xCoord"`
	Y int `xml:"yCoord"`
}

type roiXML struct {
	Z         string    `xml:"imageZposition"`
	ImageUID  string    `xml:"imageSOP_UID"`
	Inclusion string    `xml:"inclusion"`
	Edges     []edgeXML `xml:"edgeMap"`
}

type noduleXML struct {
	ID         string   `xml:"noduleID"`
	Malignancy int      `xml:"characteristics>malignancy"`
	ROIs       []roiXML `xml:"roi"`
}

type nonNoduleXML struct {
	ID       string  `xml:"nonNoduleID"`
	Z        string  `xml:"imageZposition"`
	ImageUID string  `xml:"imageSOP_UID"`
	Locus    edgeXML `xml:"locus"`
}

type headerXML struct {
	StudyUID  string `xml:"StudyInstanceUID"`
	SeriesUID string `xml:"SeriesInstanceUid"`
}

// ParseFile parses the annotation file at path.
func ParseFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open annotation: %w", err)
	}
	defer f.Close()
	doc, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Parse reads one annotation document. Element namespaces are ignored.
func Parse(r io.Reader) (*Document, error) {
	dec := xml.NewDecoder(r)
	doc := &Document{}
	var current *Session

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid annotation XML: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "ResponseHeader":
				var h headerXML
				if err := dec.DecodeElement(&h, &t); err != nil {
					return nil, fmt.Errorf("invalid response header: %w", err)
				}
				doc.StudyUID = strings.TrimSpace(h.StudyUID)
				doc.SeriesUID = strings.TrimSpace(h.SeriesUID)
			case "readingSession", "CXRreadingSession":
				doc.Sessions = append(doc.Sessions, Session{})
				current = &doc.Sessions[len(doc.Sessions)-1]
			case "servicingRadiologistID":
				if current == nil {
					continue
				}
				var id string
				if err := dec.DecodeElement(&id, &t); err != nil {
					return nil, fmt.Errorf("invalid reader id: %w", err)
				}
				current.Reader = strings.TrimSpace(id)
			case "unblindedReadNodule":
				if current == nil {
					return nil, fmt.Errorf("nodule outside of a reading session")
				}
				var n noduleXML
				if err := dec.DecodeElement(&n, &t); err != nil {
					return nil, fmt.Errorf("invalid nodule: %w", err)
				}
				obj, err := n.object()
				if err != nil {
					return nil, err
				}
				current.Objects = append(current.Objects, obj)
			case "nonNodule":
				if current == nil {
					return nil, fmt.Errorf("non-nodule outside of a reading session")
				}
				var n nonNoduleXML
				if err := dec.DecodeElement(&n, &t); err != nil {
					return nil, fmt.Errorf("invalid non-nodule: %w", err)
				}
				obj, err := n.object()
				if err != nil {
					return nil, err
				}
				current.Objects = append(current.Objects, obj)
			}
		case xml.EndElement:
			if t.Name.Local == "readingSession" || t.Name.Local == "CXRreadingSession" {
				current = nil
			}
		}
	}

	if len(doc.Sessions) == 0 {
		return nil, fmt.Errorf("annotation has no reading session")
	}
	return doc, nil
}

func (n noduleXML) object() (Object, error) {
	obj := Object{ID: strings.TrimSpace(n.ID), Kind: Nodule, Malignancy: n.Malignancy}
	for _, r := range n.ROIs {
		roi := ROI{ImageUID: strings.TrimSpace(r.ImageUID), Inclusion: true}
		var err error
		if roi.Z, err = parseZ(r.Z); err != nil {
			return Object{}, fmt.Errorf("nodule %s: %w", obj.ID, err)
		}
		if s := strings.TrimSpace(r.Inclusion); s != "" {
			if roi.Inclusion, err = strconv.ParseBool(s); err != nil {
				return Object{}, fmt.Errorf("nodule %s: invalid inclusion %q", obj.ID, r.Inclusion)
			}
		}
		roi.Points = make([]image.Point, len(r.Edges))
		for i, e := range r.Edges {
			roi.Points[i] = image.Pt(e.X, e.Y)
		}
		obj.ROIs = append(obj.ROIs, roi)
	}
	return obj, nil
}

func (n nonNoduleXML) object() (Object, error) {
	z, err := parseZ(n.Z)
	if err != nil {
		return Object{}, fmt.Errorf("non-nodule %s: %w", n.ID, err)
	}
	return Object{
		ID:   strings.TrimSpace(n.ID),
		Kind: NonNodule,
		ROIs: []ROI{{
			ImageUID:  strings.TrimSpace(n.ImageUID),
			Z:         z,
			Inclusion: true,
			Points:    []image.Point{image.Pt(n.Locus.X, n.Locus.Y)},
		}},
	}, nil
}

func parseZ(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	z, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid imageZposition %q", s)
	}
	return z, nil
}
