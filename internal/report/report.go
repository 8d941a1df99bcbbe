// Package report renders run summaries, manifest statistics and validation
// results for the terminal.
package report

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mrsinham/umieforge/internal/manifest"
	"github.com/mrsinham/umieforge/internal/pipeline"
)

// Summary writes one row per executed step.
func Summary(w io.Writer, s *pipeline.Summary) error {
	rows := []string{titleStyle.Render("Pipeline")}
	for i, st := range s.Steps {
		status := okStyle.Render("ok")
		if st.Err != nil {
			status = failStyle.Render("failed")
		}
		rows = append(rows, fmt.Sprintf("%2d %s %6s → %-6s %8s  %s",
			i, keyStyle.Render(st.Name), humanize.Comma(int64(st.In)), humanize.Comma(int64(st.Out)),
			st.Elapsed.Round(time.Millisecond), status))
	}
	rows = append(rows, subtitleStyle.Render("total "+s.Total().Round(time.Millisecond).String()))
	_, err := fmt.Fprintln(w, panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)))
	return err
}

// Stats are counts over the records of one manifest.
type Stats struct {
	Records    int
	Masked     int
	Phases     map[string]int
	Labels     map[string]int
	ImageBytes int64
	MaskBytes  int64
}

// Collect computes Stats from recs. Missing files count as zero bytes.
func Collect(recs []manifest.Record) Stats {
	st := Stats{Phases: make(map[string]int), Labels: make(map[string]int)}
	for _, r := range recs {
		st.Records++
		st.Phases[r.PhaseName]++
		st.ImageBytes += size(r.UmiePath)
		if r.MaskPath != "" {
			st.Masked++
			st.MaskBytes += size(r.MaskPath)
		}
		for _, l := range r.Labels {
			st.Labels[l.Name]++
		}
	}
	return st
}

func size(p string) int64 {
	fi, err := os.Stat(p)
	if err != nil {
		return 0
	}
	return fi.Size()
}

// Dataset writes the statistics of a manifest.
func Dataset(w io.Writer, name string, st Stats) error {
	rows := []string{
		titleStyle.Render(name),
		line("images", fmt.Sprintf("%s (%s)", humanize.Comma(int64(st.Records)), humanize.Bytes(uint64(st.ImageBytes)))),
		line("masks", fmt.Sprintf("%s (%s)", humanize.Comma(int64(st.Masked)), humanize.Bytes(uint64(st.MaskBytes)))),
	}
	for _, k := range sortedKeys(st.Phases) {
		rows = append(rows, line("phase "+k, humanize.Comma(int64(st.Phases[k]))))
	}
	for _, k := range sortedKeys(st.Labels) {
		rows = append(rows, line("label "+k, humanize.Comma(int64(st.Labels[k]))))
	}
	_, err := fmt.Fprintln(w, panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)))
	return err
}

// Validation writes the outcome of a manifest validation, listing at most
// limit violations when limit > 0.
func Validation(w io.Writer, rep *manifest.Report, limit int) error {
	status := okStyle.Render("valid")
	if !rep.OK() {
		status = failStyle.Render(fmt.Sprintf("%s violations", humanize.Comma(int64(len(rep.Violations)))))
	}
	rows := []string{
		titleStyle.Render("Manifest " + rep.Path),
		line("records", humanize.Comma(int64(rep.Records))),
		line("images decoded", humanize.Comma(int64(rep.Images))),
		line("masks decoded", humanize.Comma(int64(rep.Masks))),
		line("status", status),
	}
	shown := rep.Violations
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	var b strings.Builder
	for _, v := range shown {
		b.WriteString("\n" + v.String())
	}
	if n := len(rep.Violations) - len(shown); n > 0 {
		fmt.Fprintf(&b, "\n... and %s more", humanize.Comma(int64(n)))
	}
	out := panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
	if b.Len() > 0 {
		out += subtitleStyle.Render(b.String())
	}
	_, err := fmt.Fprintln(w, out)
	return err
}

func line(k, v string) string {
	return keyStyle.Render(k) + v
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
