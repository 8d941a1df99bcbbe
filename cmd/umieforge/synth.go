package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/mrsinham/umieforge/internal/convert"
	"github.com/mrsinham/umieforge/internal/dicom"
	"github.com/spf13/cobra"
)

var synthOpts dicom.SynthOptions

var synthNIfTI bool

var synthCmd = &cobra.Command{
	Use:   "synth",
	Short: "Generate a synthetic LIDC-style CT study set",
	Long: `Synth writes chest CT series as DICOM files, one per patient, with an
LIDC-IDRI XML annotation per series outlining spherical nodules. The output
is deterministic for a given --seed and is meant for trials and tests.

With --nifti every series is also written as a gzip NIfTI volume.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if synthOpts.OutputDir == "" {
			return fmt.Errorf("--output is required")
		}
		synthOpts.ProgressCallback = func(current, total int) {
			logger.Debug().Int("done", current).Int("total", total).Msg("slice written")
		}
		series, err := dicom.Synthesize(cmd.Context(), synthOpts)
		if err != nil {
			return err
		}

		var slices, nodules int
		for _, s := range series {
			slices += len(s.Slices)
			nodules += len(s.Nodules)
			if !synthNIfTI {
				continue
			}
			path, err := writeVolume(synthOpts.OutputDir, s)
			if err != nil {
				return err
			}
			logger.Info().Str("patient", s.PatientID).Str("path", path).Msg("volume written")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s series, %s slices, %s nodules in %s\n",
			humanize.Comma(int64(len(series))), humanize.Comma(int64(slices)),
			humanize.Comma(int64(nodules)), synthOpts.OutputDir)
		return nil
	},
}

func init() {
	f := synthCmd.Flags()
	f.StringVarP(&synthOpts.OutputDir, "output", "o", "", "Output directory")
	f.IntVar(&synthOpts.Patients, "patients", 1, "Number of patients, one series each")
	f.IntVar(&synthOpts.Slices, "slices", 6, "Slices per series")
	f.IntVar(&synthOpts.Width, "width", 64, "Slice width in pixels")
	f.IntVar(&synthOpts.Height, "height", 64, "Slice height in pixels")
	f.Int64Var(&synthOpts.Seed, "seed", 0, "Seed for reproducibility (default: derived from --output)")
	f.IntVar(&synthOpts.Nodules, "nodules", 1, "Outlined nodules per patient")
	f.IntVar(&synthOpts.NonNodules, "non-nodules", 0, "Single-locus non-nodules per patient")
	f.BoolVar(&synthOpts.DrawLabels, "draw-labels", false, "Burn the instance number into each slice")
	f.IntVar(&synthOpts.Workers, "workers", 0, "Parallel workers (default: CPU cores)")
	f.BoolVar(&synthNIfTI, "nifti", false, "Also write each series as a NIfTI volume under nifti/")
}

// writeVolume stacks the slices of s, in instance order, into
// <dir>/nifti/<patient>.nii.gz.
func writeVolume(dir string, s dicom.SynthSeries) (string, error) {
	var v convert.Volume
	for k, sl := range s.Slices {
		frames, _, err := convert.DICOM(sl.Path)
		if err != nil {
			return "", err
		}
		g := frames[0]
		if k == 0 {
			v.X, v.Y, v.Z = g.Rect.Dx(), g.Rect.Dy(), len(s.Slices)
			v.Data = make([]float64, v.X*v.Y*v.Z)
		}
		for j := 0; j < v.Y; j++ {
			for i := 0; i < v.X; i++ {
				v.Data[i+j*v.X+k*v.X*v.Y] = float64(g.GrayAt(g.Rect.Min.X+i, g.Rect.Min.Y+j).Y)
			}
		}
	}
	out := filepath.Join(dir, "nifti")
	if err := os.MkdirAll(out, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", out, err)
	}
	path := filepath.Join(out, s.PatientID+".nii.gz")
	return path, convert.WriteNIfTI(path, &v)
}
