package main

import (
	"fmt"

	"github.com/mrsinham/umieforge/internal/dataset"
	"github.com/mrsinham/umieforge/internal/manifest"
	"github.com/mrsinham/umieforge/internal/report"
	"github.com/spf13/cobra"
)

var (
	skipRastersFlag bool
	maxShownFlag    int
)

var validateCmd = &cobra.Command{
	Use:   "validate [manifest]",
	Short: "Check a manifest against the files it references",
	Long: `Validate reads a manifest and reports every record whose image or mask is
missing, undecodable, or out of place, and every unregistered label.

The manifest is located from --config and --target, or given directly. With
only a manifest path the layout checks are skipped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := manifest.ValidateOptions{SkipRasters: skipRastersFlag}
		var path string
		if configFlag != "" {
			cfg, _, labels, err := loadDataset()
			if err != nil {
				return err
			}
			if err := requireTarget(); err != nil {
				return err
			}
			scheme := cfg.Dataset.Scheme(targetFlag)
			opts.Scheme = &scheme
			opts.Labels = labels
			path = scheme.ManifestPath()
		} else {
			_, labels, err := dataset.LoadRegistries(colorsFlag)
			if err != nil {
				return err
			}
			opts.Labels = labels
		}
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			return fmt.Errorf("give a manifest path or --config with --target")
		}

		rep, err := manifest.Validate(path, opts)
		if err != nil {
			return err
		}
		if err := report.Validation(cmd.OutOrStdout(), rep, maxShownFlag); err != nil {
			return err
		}
		if !rep.OK() {
			return fmt.Errorf("%d violations in %s", len(rep.Violations), path)
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().BoolVar(&skipRastersFlag, "skip-rasters", false, "Do not decode images and masks")
	validateCmd.Flags().IntVar(&maxShownFlag, "violations", 20, "Maximum number of violations to print (0 = all)")
}

