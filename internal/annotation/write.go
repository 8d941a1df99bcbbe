package annotation

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

type sessionXML struct {
	Reader     string         `xml:"servicingRadiologistID"`
	Nodules    []noduleXML    `xml:"unblindedReadNodule"`
	NonNodules []nonNoduleXML `xml:"nonNodule"`
}

type messageXML struct {
	XMLName  xml.Name     `xml:"LidcReadMessage"`
	Header   headerXML    `xml:"ResponseHeader"`
	Sessions []sessionXML `xml:"readingSession"`
}

// Write encodes doc in the format read by Parse. Within a session, nodules
// are written before non-nodules.
func Write(w io.Writer, doc *Document) error {
	msg := messageXML{Header: headerXML{StudyUID: doc.StudyUID, SeriesUID: doc.SeriesUID}}
	for _, s := range doc.Sessions {
		sx := sessionXML{Reader: s.Reader}
		for _, o := range s.Objects {
			switch o.Kind {
			case NonNodule:
				if len(o.ROIs) != 1 || len(o.ROIs[0].Points) != 1 {
					return fmt.Errorf("non-nodule %s must have exactly one locus", o.ID)
				}
				r := o.ROIs[0]
				sx.NonNodules = append(sx.NonNodules, nonNoduleXML{
					ID:       o.ID,
					Z:        formatZ(r.Z),
					ImageUID: r.ImageUID,
					Locus:    edgeXML{X: r.Points[0].X, Y: r.Points[0].Y},
				})
			default:
				n := noduleXML{ID: o.ID, Malignancy: o.Malignancy}
				for _, r := range o.ROIs {
					rx := roiXML{Z: formatZ(r.Z), ImageUID: r.ImageUID, Inclusion: "FALSE"}
					if r.Inclusion {
						rx.Inclusion = "TRUE"
					}
					for _, p := range r.Points {
						rx.Edges = append(rx.Edges, edgeXML{X: p.X, Y: p.Y})
					}
					n.ROIs = append(n.ROIs, rx)
				}
				sx.Nodules = append(sx.Nodules, n)
			}
		}
		msg.Sessions = append(msg.Sessions, sx)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(msg); err != nil {
		return fmt.Errorf("failed to encode annotation: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// WriteFile writes doc to path, creating parent directories.
func WriteFile(path string, doc *Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create annotation directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create annotation: %w", err)
	}
	if err := Write(f, doc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatZ(z float64) string {
	return strconv.FormatFloat(z, 'f', -1, 64)
}
