package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var jsonFlag bool

var decodeCmd = &cobra.Command{
	Use:   "decode path...",
	Short: "Decode canonical paths into their ids",
	Long: `Decode parses canonical image or mask file names with the dataset of
--config and prints the dataset, phase, study and image ids of each.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, _, err := loadDataset()
		if err != nil {
			return err
		}
		scheme := cfg.Dataset.Scheme(targetFlag)
		out := cmd.OutOrStdout()
		enc := json.NewEncoder(out)

		var failed int
		for _, p := range args {
			d, err := scheme.Decode(p)
			if err != nil {
				logger.Warn().Err(err).Str("path", p).Msg("cannot decode")
				failed++
				continue
			}
			if jsonFlag {
				if err := enc.Encode(map[string]string{
					"path":        p,
					"dataset_uid": d.DatasetUID,
					"phase_id":    d.PhaseID,
					"phase_name":  d.PhaseName,
					"study_id":    d.StudyID,
					"image_id":    d.ImageID,
				}); err != nil {
					return err
				}
				continue
			}
			fmt.Fprintf(out, "%s\n  dataset %s  phase %s (%s)  study %s  image %s\n",
				p, d.DatasetUID, d.PhaseID, d.PhaseName, d.StudyID, d.ImageID)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d paths are not canonical", failed, len(args))
		}
		return nil
	},
}

func init() {
	decodeCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print one JSON object per path")
}
