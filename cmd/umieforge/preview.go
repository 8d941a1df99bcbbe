package main

import (
	"fmt"

	"github.com/mrsinham/umieforge/internal/dataset"
	"github.com/mrsinham/umieforge/internal/mask"
	"github.com/spf13/cobra"
)

var (
	previewImage string
	previewMask  string
	previewOut   string
	previewAlpha float64
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Render a mask over its image",
	Long: `Preview blends a canonical mask over its image with one display color per
registered structure and writes the result as PNG. The mask defaults to the
one paired with --image when --config is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if previewImage == "" || previewOut == "" {
			return fmt.Errorf("--image and --out are required")
		}
		colors, _, err := dataset.LoadRegistries(colorsFlag)
		if err != nil {
			return err
		}
		maskPath := previewMask
		if maskPath == "" {
			if configFlag == "" {
				return fmt.Errorf("--mask is required without --config")
			}
			cfg, _, _, err := loadDataset()
			if err != nil {
				return err
			}
			if maskPath, err = cfg.Dataset.Scheme(targetFlag).MaskPathFor(previewImage); err != nil {
				return err
			}
		}

		img, err := mask.Load(previewImage)
		if err != nil {
			return err
		}
		m, err := mask.Load(maskPath)
		if err != nil {
			return err
		}
		out, err := mask.Overlay(img, m, mask.PaletteFor(colors), previewAlpha)
		if err != nil {
			return err
		}
		if err := mask.Save(previewOut, out); err != nil {
			return err
		}
		logger.Info().Str("image", previewImage).Str("mask", maskPath).Str("out", previewOut).Msg("preview written")
		return nil
	},
}

func init() {
	f := previewCmd.Flags()
	f.StringVar(&previewImage, "image", "", "Canonical image")
	f.StringVar(&previewMask, "mask", "", "Mask to draw (default: the image's paired mask)")
	f.StringVarP(&previewOut, "out", "o", "", "Output PNG")
	f.Float64Var(&previewAlpha, "alpha", 0.5, "Mask opacity between 0 and 1")
}
